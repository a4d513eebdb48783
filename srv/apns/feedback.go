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

// This file contains the client of apple's feedback service, which lists the tokens of uninstalled apps.

import (
	"context"
	"time"

	"github.com/uniqush/uniqush-apns/srv/apns/binary_api"
)

// FeedbackTuple is a device token APNS failed to deliver to because the app is gone.
type FeedbackTuple struct {
	Token     string
	Timestamp time.Time
	// RecentlySent is set if this session sent a notification to the token lately.
	RecentlySent bool
}

// Feedback connects to the feedback service of the session's environment and reads every tuple it has.
// Apple clears the list once it is read, so the caller is responsible for acting on all of it.
// It uses a connection of its own and does not wait for sends in progress.
func (s *Session) Feedback(ctx context.Context) ([]FeedbackTuple, error) {
	if s.closeCtx.Err() != nil {
		return nil, NewClosedError()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.closeCtx, cancel)
	defer stop()

	addr := s.cfg.Feedback()
	conn, err := s.conn.manager.NewConn(ctx, addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil, s.interrupted(ctx)
		}
		return nil, NewConnectionError(addr, err)
	}
	defer conn.Close()

	guard := newDeadlineGuard(ctx, conn)
	defer guard.release()
	guard.setReadDeadline(s.cfg.IOTimeout)

	tuples, err := binary_api.ReadFeedback(conn)
	if err != nil {
		if ctx.Err() != nil {
			return nil, s.interrupted(ctx)
		}
		if isTimeout(err) {
			return nil, NewTimeoutError("feedback", s.cfg.IOTimeout, err)
		}
		return nil, NewConnectionError(addr, err)
	}

	ret := make([]FeedbackTuple, 0, len(tuples))
	for _, tuple := range tuples {
		recent := s.forget(tuple.Token)
		s.log.Infof("Feedback: %v is no longer registered since %v (recently sent: %v)", tuple.Token, tuple.Timestamp, recent)
		ret = append(ret, FeedbackTuple{
			Token:        tuple.Token,
			Timestamp:    tuple.Timestamp,
			RecentlySent: recent,
		})
	}
	return ret, nil
}
