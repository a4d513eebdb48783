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

// Package apns is a client for apple's binary push notification gateway.
// A Session owns one TLS connection, serializes the notifications sent on it,
// and maps the gateway's asynchronous error-responses back to the device tokens that caused them.
package apns

import (
	"context"
	"errors"
	"sync"
	"time"

	cache "github.com/uniqush/cache2"

	"github.com/uniqush/uniqush-apns/srv/apns/binary_api"
)

const (
	// Number of recently sent tokens remembered for Feedback.
	recentTokenCacheSize = 256
	// A batch gives up after this many gateway shutdowns that confirmed nothing.
	maxStalledShutdowns = 3
)

// InvalidToken is a device token the gateway rejected.
type InvalidToken struct {
	// Index of the payload in the batch.
	Index  int
	Token  string
	Status binary_api.Status
	Reason string
}

// SendResult is the outcome of a send that reached the gateway.
// Rejected tokens are reported here rather than as an error.
type SendResult struct {
	Delivered     int
	InvalidTokens []InvalidToken
	// Processed is the number of leading payloads the gateway is done with, delivered or rejected.
	// It is smaller than the batch only when the send failed; payloads[Processed:] were never accepted.
	Processed int
}

// Option customizes a Session.
type Option func(*sessionOptions)

type sessionOptions struct {
	manager ConnManager
	handler LogHandler
}

// WithConnManager replaces the TLS dialer built from the certificate in the config.
func WithConnManager(manager ConnManager) Option {
	return func(o *sessionOptions) { o.manager = manager }
}

// WithLogHandler sets the handler receiving this session's log events.
func WithLogHandler(handler LogHandler) Option {
	return func(o *sessionOptions) { o.handler = handler }
}

// Session is a connection to the APNS gateway. It is safe for concurrent use;
// sends are written one batch at a time so error-responses can be correlated by position.
// Callers waiting for the connection are served in the order they started waiting.
type Session struct {
	cfg     Config
	conn    connection
	log     *eventLog
	metrics *sessionMetrics

	// Holds a value while a caller owns the gateway socket. Blocked senders on a channel are woken first come, first served.
	sendSlot chan struct{}
	// Identifier of the next frame. Guarded by sendSlot.
	nextID uint32

	// Cancelled by Close, which aborts whatever is in flight.
	closeCtx    context.Context
	closeCancel context.CancelFunc

	recentMutex sync.Mutex
	recent      *cache.SimpleCache
}

// New validates the config and prepares a session. It does not connect.
func New(cfg Config, opts ...Option) (*Session, error) {
	o := sessionOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	manager := o.manager
	if manager == nil {
		var err error
		manager, err = NewTLSConnManager(&cfg)
		if err != nil {
			return nil, err
		}
	}

	s := &Session{
		cfg:      cfg,
		metrics:  newSessionMetrics(cfg.Mode),
		sendSlot: make(chan struct{}, 1),
		recent:   cache.NewSimple(recentTokenCacheSize),
	}
	s.log = newEventLog(cfg.LogLevel, o.handler, s.metrics.countDroppedLog)
	s.closeCtx, s.closeCancel = context.WithCancel(context.Background())
	manager = &loggingConnManager{manager: manager, log: s.log}
	if err := s.conn.configure(cfg, manager, s.log, s.metrics); err != nil {
		s.log.close()
		return nil, err
	}
	s.log.Debugf("Session configured for %v (%v)", cfg.Gateway(), cfg.Mode)
	return s, nil
}

// acquire waits for the send slot and returns a context that is also cancelled by Close.
// Giving up while queued returns ctx.Err().
func (s *Session) acquire(ctx context.Context) (context.Context, func(), error) {
	select {
	case s.sendSlot <- struct{}{}:
	case <-s.closeCtx.Done():
		return nil, nil, NewClosedError()
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
	if s.closeCtx.Err() != nil {
		<-s.sendSlot
		return nil, nil, NewClosedError()
	}
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.closeCtx, cancel)
	return ctx, func() {
		stop()
		cancel()
		<-s.sendSlot
	}, nil
}

// interrupted converts the error of a cancelled operation.
func (s *Session) interrupted(ctx context.Context) error {
	if s.closeCtx.Err() != nil {
		return NewClosedError()
	}
	return ctx.Err()
}

// Connect opens the connection to the gateway. It does nothing if the session is already connected.
func (s *Session) Connect(ctx context.Context) error {
	ctx, release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	if s.conn.getState() == StateConnected {
		return nil
	}
	if err := s.conn.connect(ctx); err != nil {
		if ctx.Err() != nil {
			return s.interrupted(ctx)
		}
		return err
	}
	return nil
}

// Reconnect replaces the connection with a new one, whatever its state.
// It is the way back after a desynchronization or when automatic reconnection is disabled.
func (s *Session) Reconnect(ctx context.Context) error {
	ctx, release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	if err := s.conn.connect(ctx); err != nil {
		if ctx.Err() != nil {
			return s.interrupted(ctx)
		}
		return err
	}
	return nil
}

// Send sends a single notification.
func (s *Session) Send(ctx context.Context, payload *Payload) (*SendResult, error) {
	return s.SendBatch(ctx, []*Payload{payload})
}

// SendBatch sends the payloads in order on the session's connection.
// Every payload is encoded before anything is written, so an invalid payload fails the whole batch without I/O.
// Tokens rejected by the gateway are listed in the result, and the payloads after a rejected one are resent on a new connection.
// If the batch fails after the gateway processed part of it, the result is returned along with the error
// and covers payloads[:Processed]; only the rest needs to be sent again.
func (s *Session) SendBatch(ctx context.Context, payloads []*Payload) (*SendResult, error) {
	start := time.Now()
	result, err := s.sendBatch(ctx, payloads)
	s.metrics.countSend(result, err, time.Since(start))
	if err != nil {
		s.log.Errorf("Failed to send %d notifications: %v", len(payloads), err)
	}
	return result, err
}

func (s *Session) sendBatch(ctx context.Context, payloads []*Payload) (*SendResult, error) {
	ctx, release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	result := &SendResult{}
	if len(payloads) == 0 {
		return result, nil
	}

	registry := binary_api.NewRegistry(s.nextID, len(payloads))
	frames := make([][]byte, len(payloads))
	for i, payload := range payloads {
		if payload == nil {
			return nil, NewBadPayloadErrorf("payload %d is nil", i)
		}
		id := registry.Insert(payload.Token())
		frames[i], err = payload.Encode(id, s.cfg.MaxPayloadSize)
		if err != nil {
			registry.Reset()
			return nil, err
		}
	}
	// Identifiers are never reused within a session, even if this batch fails.
	s.nextID += uint32(len(payloads))

	invalid := make(map[int]bool)
	next := 0
	// fail reports what the gateway already processed together with err.
	fail := func(err error) (*SendResult, error) {
		registry.Reset()
		s.finish(result, payloads[:next], invalid)
		return result, err
	}
	stalledShutdowns := 0
	for next < len(frames) {
		conn, err := s.conn.ensureConnected(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return fail(s.interrupted(ctx))
			}
			return fail(err)
		}
		s.log.Debugf("Sending notifications %d to %d of %d", next, len(frames)-1, len(frames))

		res, err := s.transmit(ctx, conn, frames[next:])
		if err != nil {
			if ctx.Err() != nil {
				s.conn.degrade(ctx.Err())
				return fail(s.interrupted(ctx))
			}
			if errors.Is(err, binary_api.ErrUnknownCommand) {
				s.conn.reset(err)
				return fail(NewConnectionError(s.cfg.Gateway(), err))
			}
			s.conn.degrade(err)
			return fail(err)
		}
		if res == nil {
			result.Delivered += len(frames) - next
			next = len(frames)
			break
		}

		s.log.Debugf("Received error-response: %v", res)
		idx, token, rerr := registry.Resolve(res.Identifier)
		if res.Status.IsShutdown() {
			// The identifier is the last notification the gateway processed, possibly from an earlier batch.
			if rerr != nil || idx < next {
				idx = next - 1
			}
			if idx < next {
				stalledShutdowns++
			} else {
				stalledShutdowns = 0
			}
			// The first unprocessed notification; empty when the gateway got through the whole batch.
			pending, _ := registry.ResolveIndex(idx + 1)
			gerr := NewGatewayError(res.Status, idx+1, pending)
			s.conn.degrade(gerr)
			if stalledShutdowns >= maxStalledShutdowns {
				return fail(gerr)
			}
			s.log.Infof("APNS is shutting down after notification %d, resending the rest", idx)
			result.Delivered += idx + 1 - next
			next = idx + 1
			continue
		}
		if rerr == nil && idx < next {
			rerr = &binary_api.IndexError{Identifier: res.Identifier, Index: idx, Size: registry.Len()}
		}
		if rerr != nil {
			s.conn.reset(rerr)
			var indexErr *binary_api.IndexError
			if errors.As(rerr, &indexErr) {
				return fail(newIndexOutOfRangeError(indexErr))
			}
			return fail(rerr)
		}

		// APNS closes the connection after every error-response.
		gerr := NewGatewayError(res.Status, idx, token)
		s.conn.degrade(gerr)
		if !res.Status.IsTokenError() {
			// Everything before idx was accepted.
			result.Delivered += idx - next
			next = idx
			return fail(gerr)
		}
		s.log.Infof("APNS rejected token %v: %v", token, res.Status)
		result.Delivered += idx - next
		result.InvalidTokens = append(result.InvalidTokens, InvalidToken{
			Index:  idx,
			Token:  token,
			Status: res.Status,
			Reason: res.Status.Reason(),
		})
		invalid[idx] = true
		next = idx + 1
	}

	s.finish(result, payloads, invalid)
	s.log.Debugf("Sent %d notifications, %d invalid tokens", result.Delivered, len(result.InvalidTokens))
	return result, nil
}

// finish records how far the batch got and remembers the tokens that were delivered.
func (s *Session) finish(result *SendResult, processed []*Payload, invalid map[int]bool) {
	result.Processed = len(processed)
	for i, payload := range processed {
		if !invalid[i] {
			s.remember(payload.Token())
		}
	}
}

func (s *Session) remember(token string) {
	s.recentMutex.Lock()
	defer s.recentMutex.Unlock()
	s.recent.Set(token, time.Now())
}

func (s *Session) forget(token string) bool {
	s.recentMutex.Lock()
	defer s.recentMutex.Unlock()
	return s.recent.Delete(token) != nil
}

// SetLogLevel changes the verbosity immediately, without reconnecting.
func (s *Session) SetLogLevel(level LogLevel) {
	s.log.setLevel(level)
}

// SetLogHandler replaces the handler receiving this session's log events. nil discards them.
func (s *Session) SetLogHandler(handler LogHandler) {
	s.log.setHandler(handler)
}

// State returns the state of the connection. It never blocks on I/O.
func (s *Session) State() State {
	return s.conn.getState()
}

// Close aborts an in-flight send, waits for it to return and releases the connection.
// Queued log events are delivered before Close returns. Calling Close again does nothing.
func (s *Session) Close() error {
	s.closeCancel()
	s.sendSlot <- struct{}{}
	closed := s.conn.close()
	<-s.sendSlot
	if closed {
		s.log.Infof("Session closed")
	}
	s.log.close()
	return nil
}
