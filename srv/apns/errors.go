/*
 * Copyright 2011 Nan Deng
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
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
	"time"

	"github.com/uniqush/uniqush-apns/srv/apns/binary_api"
)

// Error is returned by every operation of this package that fails.
// Retryable reports whether repeating the operation (after Reconnect for transport errors) may succeed.
type Error interface {
	error
	Retryable() bool
}

var _ Error = &ConfigError{}
var _ Error = &ConnectionError{}
var _ Error = &TimeoutError{}
var _ Error = &NotConnectedError{}
var _ Error = &ClosedError{}
var _ Error = &InvalidTokenError{}
var _ Error = &PayloadTooLargeError{}
var _ Error = &BadPayloadError{}
var _ Error = &IndexOutOfRangeError{}
var _ Error = &GatewayError{}

type permanent struct{}

func (*permanent) Retryable() bool { return false }

type transient struct{}

func (*transient) Retryable() bool { return true }

/*********************/

// ConfigError indicates missing or invalid configuration. It is reported by New, before anything is dialed.
type ConfigError struct {
	permanent
	Field   string
	Details string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ConfigError %v: %v: %v", e.Field, e.Details, e.Err)
	}
	return fmt.Sprintf("ConfigError %v: %v", e.Field, e.Details)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError returns a ConfigError for the given field of Config.
func NewConfigError(field, details string) *ConfigError {
	return &ConfigError{Field: field, Details: details}
}

// NewConfigErrorWithCause returns a ConfigError caused by err (e.g. an unreadable certificate).
func NewConfigErrorWithCause(field, details string, err error) *ConfigError {
	return &ConfigError{Field: field, Details: details, Err: err}
}

/*********************/

// ConnectionError is a transport failure: the handshake failed, or the link broke while sending.
type ConnectionError struct {
	transient
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("Error on connection with %v: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// NewConnectionError wraps the transport error err seen while talking to addr.
func NewConnectionError(addr string, err error) *ConnectionError {
	return &ConnectionError{Addr: addr, Err: err}
}

/*********************/

// TimeoutError is returned when a read or write did not complete within the configured deadline.
// The connection is degraded afterwards.
type TimeoutError struct {
	transient
	Op      string
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("Timed out after %v during %v: %v", e.Timeout, e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

func NewTimeoutError(op string, timeout time.Duration, err error) *TimeoutError {
	return &TimeoutError{Op: op, Timeout: timeout, Err: err}
}

/*********************/

// NotConnectedError is returned by a send when there is no usable connection and none could be made.
// Err holds the failed reconnect attempt, if one was made.
type NotConnectedError struct {
	transient
	State State
	Err   error
}

func (e *NotConnectedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("Not connected (state %v): reconnect failed: %v", e.State, e.Err)
	}
	return fmt.Sprintf("Not connected (state %v)", e.State)
}

func (e *NotConnectedError) Unwrap() error { return e.Err }

func NewNotConnectedError(state State, err error) *NotConnectedError {
	return &NotConnectedError{State: state, Err: err}
}

/*********************/

// ClosedError is returned by every operation on a session after Close.
type ClosedError struct {
	permanent
}

func (e *ClosedError) Error() string {
	return "Session is closed"
}

func NewClosedError() *ClosedError {
	return &ClosedError{}
}

/*********************/

// InvalidTokenError indicates that a device token is not an even-length hex string of the expected size.
type InvalidTokenError struct {
	permanent
	Token   string
	Details string
}

func (e *InvalidTokenError) Error() string {
	return fmt.Sprintf("Invalid device token %q: %v", e.Token, e.Details)
}

func NewInvalidTokenError(token, details string) *InvalidTokenError {
	return &InvalidTokenError{Token: token, Details: details}
}

/*********************/

// PayloadTooLargeError indicates that the JSON payload is larger than the gateway accepts.
type PayloadTooLargeError struct {
	permanent
	Size int
	Max  int
}

func (e *PayloadTooLargeError) Error() string {
	return fmt.Sprintf("Payload is too large: %d bytes, maximum is %d", e.Size, e.Max)
}

func NewPayloadTooLargeError(size, max int) *PayloadTooLargeError {
	return &PayloadTooLargeError{Size: size, Max: max}
}

/*********************/

// BadPayloadError indicates a payload field that can never be sent (e.g. a negative badge).
type BadPayloadError struct {
	permanent
	Details string
}

func (e *BadPayloadError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("Bad Payload: %s", e.Details)
	}
	return "Bad Payload"
}

func NewBadPayloadError(details string) *BadPayloadError {
	return &BadPayloadError{Details: details}
}

func NewBadPayloadErrorf(f string, v ...interface{}) *BadPayloadError {
	return &BadPayloadError{Details: fmt.Sprintf(f, v...)}
}

/*********************/

// IndexOutOfRangeError means APNS reported an identifier that is not part of the batch being sent.
// The client and the gateway are out of sync; the connection is torn down and needs an explicit Reconnect.
type IndexOutOfRangeError struct {
	permanent
	Identifier uint32
	Index      int
	Size       int
}

func (e *IndexOutOfRangeError) Error() string {
	return fmt.Sprintf("Gateway reported identifier %d (index %d) outside of a batch of %d", e.Identifier, e.Index, e.Size)
}

func newIndexOutOfRangeError(err *binary_api.IndexError) *IndexOutOfRangeError {
	return &IndexOutOfRangeError{Identifier: err.Identifier, Index: err.Index, Size: err.Size}
}

/*********************/

// GatewayError is an error-response frame that does not blame a token, e.g. a processing error.
// Notifications up to Index were accepted, the frame at Index and everything after it were not.
type GatewayError struct {
	transient
	Status binary_api.Status
	Index  int
	Token  string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("Gateway rejected notification %d for %v: %v", e.Index, e.Token, e.Status)
}

func NewGatewayError(status binary_api.Status, index int, token string) *GatewayError {
	return &GatewayError{Status: status, Index: index, Token: token}
}
