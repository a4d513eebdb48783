/*
 * Copyright 2011-2013 Nan Deng
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package apns

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Gateway and feedback addresses of the two APNS environments.
const (
	ProductionGateway  = "gateway.push.apple.com:2195"
	SandboxGateway     = "gateway.sandbox.push.apple.com:2195"
	ProductionFeedback = "feedback.push.apple.com:2196"
	SandboxFeedback    = "feedback.sandbox.push.apple.com:2196"
)

const (
	// DefaultIOTimeout bounds every write, and every read of a partially received response.
	DefaultIOTimeout = 20 * time.Second
	// DefaultResponseWait is how long a send listens for an error-response after its last frame.
	// APNS says nothing about accepted notifications, so silence for this long means success.
	DefaultResponseWait = time.Second
	// DefaultMaxPayloadSize is the binary provider API limit for the JSON payload.
	DefaultMaxPayloadSize = 2048
	// DefaultExpiration is the offset applied when a payload doesn't set one.
	DefaultExpiration = 3600 * time.Second
)

// Mode selects the APNS environment.
type Mode int

const (
	Production Mode = iota
	Sandbox
)

func (m Mode) String() string {
	switch m {
	case Production:
		return "production"
	case Sandbox:
		return "sandbox"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode accepts "sandbox" and "production" (case insensitive).
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sandbox", "development":
		return Sandbox, nil
	case "production", "":
		return Production, nil
	}
	return Production, fmt.Errorf("unsupported mode %q, expected sandbox or production", s)
}

// Config is supplied once to New. A session keeps its own copy, so later changes to the caller's value have no effect.
// Switching environments requires a new session.
type Config struct {
	Mode            Mode
	CertificatePath string
	PrivateKeyPath  string
	// Passphrase decrypts an encrypted PEM private key, or a PKCS#12 certificate bundle.
	Passphrase string
	// Reconnect allows a send on a degraded connection to dial once before giving up.
	Reconnect bool
	LogLevel  LogLevel

	// GatewayAddr and FeedbackAddr override the addresses implied by Mode.
	GatewayAddr  string
	FeedbackAddr string
	// SkipVerify disables verification of the gateway's certificate. Only meant for test gateways.
	SkipVerify bool
	// Proxy is an optional socks5:// URL the TLS connection is tunneled through.
	Proxy string

	IOTimeout      time.Duration
	ResponseWait   time.Duration
	MaxPayloadSize int
}

// Gateway returns the address notifications are sent to.
func (c *Config) Gateway() string {
	if c.GatewayAddr != "" {
		return c.GatewayAddr
	}
	if c.Mode == Sandbox {
		return SandboxGateway
	}
	return ProductionGateway
}

// Feedback returns the address of the feedback service matching the gateway.
func (c *Config) Feedback() string {
	if c.FeedbackAddr != "" {
		return c.FeedbackAddr
	}
	if c.GatewayAddr != "" && c.GatewayAddr != SandboxGateway && c.GatewayAddr != ProductionGateway {
		host := c.GatewayAddr
		if i := strings.LastIndex(host, ":"); i >= 0 {
			host = host[:i]
		}
		return host + ":2196"
	}
	if c.Mode == Sandbox {
		return SandboxFeedback
	}
	return ProductionFeedback
}

// Validate checks the fields a session cannot work without.
func (c *Config) Validate() error {
	if c.CertificatePath == "" {
		return NewConfigError("CertificatePath", "certificate path is empty")
	}
	if c.PrivateKeyPath == "" && !isPKCS12(c.CertificatePath) {
		return NewConfigError("PrivateKeyPath", "private key path is empty")
	}
	if c.Mode != Production && c.Mode != Sandbox {
		return NewConfigError("Mode", fmt.Sprintf("unknown mode %v", c.Mode))
	}
	if c.IOTimeout < 0 || c.ResponseWait < 0 {
		return NewConfigError("IOTimeout", "timeouts can't be negative")
	}
	if c.MaxPayloadSize < 0 {
		return NewConfigError("MaxPayloadSize", "can't be negative")
	}
	if c.Proxy != "" {
		u, err := url.Parse(c.Proxy)
		if err != nil {
			return NewConfigErrorWithCause("Proxy", "invalid URL", err)
		}
		if u.Scheme != "socks5" && u.Scheme != "socks5h" {
			return NewConfigError("Proxy", fmt.Sprintf("unsupported proxy scheme %q", u.Scheme))
		}
	}
	return nil
}

// withDefaults returns a copy with zero values replaced by the package defaults.
func (c Config) withDefaults() Config {
	if c.IOTimeout == 0 {
		c.IOTimeout = DefaultIOTimeout
	}
	if c.ResponseWait == 0 {
		c.ResponseWait = DefaultResponseWait
	}
	if c.MaxPayloadSize == 0 {
		c.MaxPayloadSize = DefaultMaxPayloadSize
	}
	return c
}
