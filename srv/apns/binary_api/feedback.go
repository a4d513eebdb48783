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

package binary_api

// This file decodes the tuples streamed by apple's feedback servers.

import (
	"encoding/binary"
	"errors"
	"io"
	"time"
)

// FeedbackTuple is one entry of the feedback service: a token APNS could not deliver to, and when it noticed.
type FeedbackTuple struct {
	Timestamp time.Time
	Token     string
}

// ReadFeedbackTuple reads one tuple: 4 byte unix time, 2 byte token length, token.
// io.EOF is returned unchanged when the stream ends cleanly between tuples.
func ReadFeedbackTuple(r io.Reader) (*FeedbackTuple, error) {
	var unsubTime uint32
	var tokenLen uint16

	if err := binary.Read(r, binary.BigEndian, &unsubTime); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.BigEndian, &tokenLen); err != nil {
		return nil, unexpected(err)
	}
	devtoken := make([]byte, int(tokenLen))
	if _, err := io.ReadFull(r, devtoken); err != nil {
		return nil, unexpected(err)
	}
	return &FeedbackTuple{
		Timestamp: time.Unix(int64(unsubTime), 0),
		Token:     EncodeHex(devtoken),
	}, nil
}

// ReadFeedback reads tuples until the server closes the stream.
// Tuples read before an error are returned along with it.
func ReadFeedback(r io.Reader) ([]*FeedbackTuple, error) {
	ret := make([]*FeedbackTuple, 0, 1)
	for {
		tuple, err := ReadFeedbackTuple(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return ret, nil
			}
			return ret, err
		}
		ret = append(ret, tuple)
	}
}

func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
