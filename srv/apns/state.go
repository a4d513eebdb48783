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
	"context"
	"fmt"
	"net"
	"sync"
)

// State of the connection to the gateway.
type State int

const (
	StateUninitialized State = iota
	// StateConfigured: the config was accepted but there is no connection, either yet or after a desync.
	StateConfigured
	StateConnected
	// StateDegraded: the last connection broke. A send may reconnect if the config allows it.
	StateDegraded
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConfigured:
		return "configured"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// connection owns the socket to the gateway and the state machine around it.
// Transitions that do I/O (connect, ensureConnected) must be serialized by the caller;
// the fields are guarded by mutex so State can be read at any time.
type connection struct {
	mutex   sync.Mutex
	state   State
	conn    net.Conn
	cfg     Config
	manager ConnManager
	log     *eventLog
	metrics *sessionMetrics
}

func (c *connection) configure(cfg Config, manager ConnManager, log *eventLog, metrics *sessionMetrics) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.cfg = cfg.withDefaults()
	c.manager = manager
	c.log = log
	c.metrics = metrics
	c.state = StateConfigured
	return nil
}

func (c *connection) getState() State {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.state
}

// current returns the live socket, or nil.
func (c *connection) current() net.Conn {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.state != StateConnected {
		return nil
	}
	return c.conn
}

// connect dials the gateway, replacing any previous socket.
// On failure the state is left as it was.
func (c *connection) connect(ctx context.Context) error {
	c.mutex.Lock()
	prev := c.state
	addr := c.cfg.Gateway()
	c.mutex.Unlock()
	switch prev {
	case StateClosed:
		return NewClosedError()
	case StateUninitialized:
		return NewNotConnectedError(prev, nil)
	}

	conn, err := c.manager.NewConn(ctx, addr)
	if err != nil {
		return NewConnectionError(addr, err)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.state == StateClosed {
		conn.Close()
		return NewClosedError()
	}
	if c.conn != nil {
		c.conn.Close()
	}
	if prev == StateDegraded {
		c.metrics.countReconnect()
	}
	c.conn = conn
	c.state = StateConnected
	return nil
}

// ensureConnected returns a usable socket. A degraded connection is redialed exactly once, and only if the config allows it.
func (c *connection) ensureConnected(ctx context.Context) (net.Conn, error) {
	c.mutex.Lock()
	state := c.state
	conn := c.conn
	reconnect := c.cfg.Reconnect
	c.mutex.Unlock()

	switch state {
	case StateConnected:
		return conn, nil
	case StateClosed:
		return nil, NewClosedError()
	case StateDegraded:
		if !reconnect {
			return nil, NewNotConnectedError(state, nil)
		}
		c.log.Infof("Reconnecting to %v", c.cfg.Gateway())
		if err := c.connect(ctx); err != nil {
			if _, closed := err.(*ClosedError); closed {
				return nil, err
			}
			return nil, NewNotConnectedError(state, err)
		}
		return c.current(), nil
	}
	return nil, NewNotConnectedError(state, nil)
}

func (c *connection) dropLocked(next State) {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	if c.state != StateClosed {
		c.state = next
	}
}

// degrade closes the socket after a transport failure. The next send may reconnect.
func (c *connection) degrade(err error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.state == StateConnected {
		c.log.Errorf("Connection to %v degraded: %v", c.cfg.Gateway(), err)
	}
	c.dropLocked(StateDegraded)
}

// reset closes the socket after a protocol desynchronization.
// Only an explicit Connect or Reconnect brings the connection back.
func (c *connection) reset(err error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.log.Errorf("Lost track of the notifications sent to %v, dropping the connection: %v", c.cfg.Gateway(), err)
	c.dropLocked(StateConfigured)
}

// close is idempotent. It reports whether this call did the closing.
func (c *connection) close() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.state == StateClosed {
		return false
	}
	c.dropLocked(StateClosed)
	c.state = StateClosed
	return true
}
