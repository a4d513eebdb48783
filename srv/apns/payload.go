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

// Contains the notification payload and its conversion to a binary frame.

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/uniqush/uniqush-apns/srv/apns/binary_api"
)

// Priority of a notification.
type Priority uint8

const (
	// PriorityHigh delivers immediately. It must not be used for notifications without an alert, sound or badge.
	PriorityHigh Priority = Priority(binary_api.PriorityHigh)
	// PriorityNormal lets the device wake at a power-efficient moment.
	PriorityNormal Priority = Priority(binary_api.PriorityNormal)
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	}
	return "unknown"
}

// Payload is one notification for one device. It is immutable once built; use WithToken to address another device.
type Payload struct {
	badge      int
	body       string
	sound      string
	custom     map[string]interface{}
	expiration time.Time
	priority   Priority
	token      string
	rawToken   []byte
	json       []byte
}

// PayloadOption adjusts a payload under construction.
type PayloadOption func(*payloadOptions)

type payloadOptions struct {
	expiration     time.Duration
	priority       Priority
	sound          string
	custom         map[string]interface{}
	now            func() time.Time
	maxPayloadSize int
}

// WithExpiration sets the offset from now after which APNS stops trying to deliver. The default is one hour.
func WithExpiration(offset time.Duration) PayloadOption {
	return func(o *payloadOptions) { o.expiration = offset }
}

// WithPriority overrides the default PriorityHigh.
func WithPriority(p Priority) PayloadOption {
	return func(o *payloadOptions) { o.priority = p }
}

// WithSound names the sound file to play.
func WithSound(sound string) PayloadOption {
	return func(o *payloadOptions) { o.sound = sound }
}

// WithData adds a custom top-level key next to "aps".
func WithData(key string, value interface{}) PayloadOption {
	return func(o *payloadOptions) {
		if key == "aps" {
			return
		}
		if o.custom == nil {
			o.custom = make(map[string]interface{})
		}
		o.custom[key] = value
	}
}

// WithClock replaces time.Now when computing the absolute expiration.
func WithClock(now func() time.Time) PayloadOption {
	return func(o *payloadOptions) { o.now = now }
}

// WithMaxPayloadSize overrides DefaultMaxPayloadSize, for sessions configured with a different limit.
func WithMaxPayloadSize(size int) PayloadOption {
	return func(o *payloadOptions) { o.maxPayloadSize = size }
}

// NewPayload validates and builds a notification. deviceToken is hexadecimal text (either case).
// Every check that can fail is done here, so nothing is sent for a payload that can't be encoded.
func NewPayload(badge int, body string, deviceToken string, opts ...PayloadOption) (*Payload, error) {
	o := payloadOptions{
		expiration:     DefaultExpiration,
		priority:       PriorityHigh,
		now:            time.Now,
		maxPayloadSize: DefaultMaxPayloadSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if badge < 0 {
		return nil, NewBadPayloadErrorf("badge %d is negative", badge)
	}
	if o.priority != PriorityHigh && o.priority != PriorityNormal {
		return nil, NewBadPayloadErrorf("unsupported priority %d", uint8(o.priority))
	}
	if o.expiration < 0 {
		return nil, NewBadPayloadErrorf("expiration offset %v is negative", o.expiration)
	}
	raw, err := binary_api.DecodeToken(deviceToken)
	if err != nil {
		return nil, NewInvalidTokenError(deviceToken, err.Error())
	}
	p := &Payload{
		badge:      badge,
		body:       body,
		sound:      o.sound,
		custom:     o.custom,
		expiration: o.now().Add(o.expiration).Truncate(time.Second),
		priority:   o.priority,
		token:      binary_api.EncodeHex(raw),
		rawToken:   raw,
	}
	p.json, err = p.marshal()
	if err != nil {
		return nil, NewBadPayloadErrorf("failed to convert notification data to JSON: %v", err)
	}
	if len(p.json) > o.maxPayloadSize {
		return nil, NewPayloadTooLargeError(len(p.json), o.maxPayloadSize)
	}
	return p, nil
}

// NewPayloadFromBytes is NewPayload for a raw (not hex encoded) device token.
func NewPayloadFromBytes(badge int, body string, deviceToken []byte, opts ...PayloadOption) (*Payload, error) {
	return NewPayload(badge, body, binary_api.EncodeHex(deviceToken), opts...)
}

// WithToken returns a copy of the payload addressed to another device.
func (p *Payload) WithToken(deviceToken string) (*Payload, error) {
	raw, err := binary_api.DecodeToken(deviceToken)
	if err != nil {
		return nil, NewInvalidTokenError(deviceToken, err.Error())
	}
	cp := *p
	cp.token = binary_api.EncodeHex(raw)
	cp.rawToken = raw
	return &cp, nil
}

func (p *Payload) marshal() ([]byte, error) {
	payload := make(map[string]interface{}, len(p.custom)+1)
	for k, v := range p.custom {
		payload[k] = v
	}
	aps := make(map[string]interface{}, 3)
	if p.body != "" {
		aps["alert"] = p.body
	}
	aps["badge"] = p.badge
	if p.sound != "" {
		aps["sound"] = p.sound
	}
	payload["aps"] = aps
	return marshalJSONUnescaped(payload)
}

// marshalJSONUnescaped uses encoding/json to return a JSON string without escapes for special characters in HTML.
func marshalJSONUnescaped(v interface{}) ([]byte, error) {
	writer := bytes.Buffer{}
	encoder := json.NewEncoder(&writer)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(v); err != nil {
		return nil, err
	}
	b := writer.Bytes()
	return b[:len(b)-1], nil
}

func (p *Payload) Badge() int { return p.badge }
func (p *Payload) Body() string { return p.body }
func (p *Payload) Expiration() time.Time { return p.expiration }
func (p *Payload) Priority() Priority { return p.priority }
func (p *Payload) Token() string { return p.token }
func (p *Payload) Size() int { return len(p.json) }

// JSON returns a copy of the encoded "aps" document.
func (p *Payload) JSON() []byte {
	return append([]byte(nil), p.json...)
}

// Encode produces the binary frame for this payload with the given frame identifier.
// maxSize is checked again so a payload built for a larger limit is refused by a stricter session.
func (p *Payload) Encode(identifier uint32, maxSize int) ([]byte, error) {
	if maxSize > 0 && len(p.json) > maxSize {
		return nil, NewPayloadTooLargeError(len(p.json), maxSize)
	}
	frame, err := binary_api.EncodeNotification(&binary_api.Notification{
		Token:      p.rawToken,
		Payload:    p.json,
		Identifier: identifier,
		Expiry:     uint32(p.expiration.Unix()),
		Priority:   uint8(p.priority),
	})
	if err != nil {
		return nil, NewBadPayloadError(err.Error())
	}
	return frame, nil
}
