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
 */

package apns

// This file contains a connection manager, which creates new TLS connections to apns based on a config.

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"time"

	"golang.org/x/net/proxy"
)

// ConnManager abstracts creating TLS sockets to APNS.
type ConnManager interface {
	// NewConn dials addr and completes the handshake, or returns an error.
	// It is called on Connect, on every reconnect and for each feedback check.
	NewConn(ctx context.Context, addr string) (net.Conn, error)
}

// loggingConnManager decorates a ConnManager and logs opened connections.
type loggingConnManager struct {
	manager ConnManager
	log     *eventLog
}

var _ ConnManager = &loggingConnManager{}

func (m *loggingConnManager) NewConn(ctx context.Context, addr string) (net.Conn, error) {
	m.log.Debugf("Connecting to %v", addr)
	conn, err := m.manager.NewConn(ctx, addr)
	if err != nil {
		m.log.Errorf("Unable to connect to %v: %v", addr, err)
		return nil, err
	}
	m.log.Infof("Connection to APNS opened: %v to %v", conn.LocalAddr(), conn.RemoteAddr())
	return conn, nil
}

type tlsConnManager struct {
	conf    *tls.Config
	dialer  *net.Dialer
	proxy   proxy.Dialer
	timeout time.Duration
}

var _ ConnManager = &tlsConnManager{}

// NewTLSConnManager loads the certificate of the config and returns the ConnManager sessions use by default.
func NewTLSConnManager(c *Config) (ConnManager, error) {
	cfg := c.withDefaults()
	cert, err := LoadCertificate(&cfg)
	if err != nil {
		return nil, NewConfigErrorWithCause("CertificatePath", "unable to load the certificate", err)
	}
	manager := &tlsConnManager{
		conf: &tls.Config{
			Certificates:       []tls.Certificate{cert},
			InsecureSkipVerify: cfg.SkipVerify,
		},
		dialer:  &net.Dialer{Timeout: cfg.IOTimeout},
		timeout: cfg.IOTimeout,
	}
	if cfg.Proxy != "" {
		u, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, NewConfigErrorWithCause("Proxy", "invalid URL", err)
		}
		manager.proxy, err = proxy.FromURL(u, manager.dialer)
		if err != nil {
			return nil, NewConfigErrorWithCause("Proxy", "unsupported proxy", err)
		}
	}
	return manager, nil
}

func (m *tlsConnManager) dial(ctx context.Context, addr string) (net.Conn, error) {
	if m.proxy == nil {
		return m.dialer.DialContext(ctx, "tcp", addr)
	}
	if cd, ok := m.proxy.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, "tcp", addr)
	}
	return m.proxy.Dial("tcp", addr)
}

// NewConn returns a connection whose TLS handshake has completed, or an error.
func (m *tlsConnManager) NewConn(ctx context.Context, addr string) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	raw, err := m.dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	conf := m.conf.Clone()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		conf.ServerName = host
	}
	tlsconn := tls.Client(raw, conf)
	if err := tlsconn.HandshakeContext(ctx); err != nil {
		raw.Close()
		if errors.Is(err, io.EOF) {
			err = fmt.Errorf("Certificate is probably invalid/expired: %w", err)
		}
		return nil, err
	}
	return tlsconn, nil
}
