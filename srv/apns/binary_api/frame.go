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
 * See https://developer.apple.com/library/content/documentation/NetworkingInternet/Conceptual/RemoteNotificationsPG/BinaryProviderAPI.html#//apple_ref/doc/uid/TP40008194-CH13-SW1
 */

// Package binary_api implements the wire format of version 2 of the APNS binary protocol:
// notification frames, error-response frames, feedback tuples and the per-batch token registry.
package binary_api

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
)

const (
	// CommandNotification is the command byte of a v2 notification frame.
	CommandNotification uint8 = 2
	// CommandErrorResponse is the command byte of the frame APNS sends before dropping the connection.
	CommandErrorResponse uint8 = 8

	// TokenSize is the length of a raw device token.
	TokenSize = 32
	// ResponseSize is the length of an error-response frame.
	ResponseSize = 6
	// MaxItemLength is the largest value the 2 byte item length field can hold.
	MaxItemLength = 0xffff
)

// Item ids of a v2 frame, in the order they are written.
const (
	ItemDeviceToken uint8 = iota + 1
	ItemPayload
	ItemIdentifier
	ItemExpiration
	ItemPriority
)

// Priorities understood by APNS.
const (
	PriorityNormal uint8 = 5
	PriorityHigh   uint8 = 10
)

var (
	ErrShortResponse  = errors.New("error-response frame is shorter than 6 bytes")
	ErrUnknownCommand = errors.New("unknown command in error-response frame")
)

// Notification holds the already-validated fields of one frame. Token is the raw (not hex) device token.
type Notification struct {
	Token      []byte
	Payload    []byte
	Identifier uint32
	Expiry     uint32
	Priority   uint8
}

// EncodeNotification generates the bytes of a frame to send to APNS.
//
// Format of a frame
//
//  1. (1 byte) command, 2
//  2. (4 bytes) frame length, the size of the remaining items
//  3. items, each made of (1 byte) item id, (2 bytes) item data length (n), (n bytes) data
//
// Items are written in id order: device token, JSON payload, notification identifier,
// expiration date and priority.
func EncodeNotification(n *Notification) ([]byte, error) {
	if len(n.Token) == 0 {
		return nil, errors.New("missing device token")
	}
	if len(n.Payload) == 0 {
		return nil, errors.New("missing payload")
	}
	if len(n.Token) > MaxItemLength || len(n.Payload) > MaxItemLength {
		return nil, fmt.Errorf("item too large for a frame (token %d bytes, payload %d bytes)", len(n.Token), len(n.Payload))
	}
	frameDataLength := uint32((3 + len(n.Token)) + (3 + len(n.Payload)) + (3 + 4) + (3 + 4) + (3 + 1))

	buffer := bytes.NewBuffer(make([]byte, 0, 5+int(frameDataLength)))

	buffer.WriteByte(CommandNotification)
	binary.Write(buffer, binary.BigEndian, frameDataLength)

	writeItemHeader := func(id uint8, itemLength uint16) {
		buffer.WriteByte(id)
		binary.Write(buffer, binary.BigEndian, itemLength)
	}

	writeItemHeader(ItemDeviceToken, uint16(len(n.Token)))
	buffer.Write(n.Token)

	writeItemHeader(ItemPayload, uint16(len(n.Payload)))
	buffer.Write(n.Payload)

	writeItemHeader(ItemIdentifier, 4)
	binary.Write(buffer, binary.BigEndian, n.Identifier)

	writeItemHeader(ItemExpiration, 4)
	binary.Write(buffer, binary.BigEndian, n.Expiry)

	priority := n.Priority
	if priority == 0 {
		// v1 frames had no priority item, 10 was implied.
		priority = PriorityHigh
	}
	writeItemHeader(ItemPriority, 1)
	buffer.WriteByte(priority)

	return buffer.Bytes(), nil
}

// Response is a decoded error-response frame.
type Response struct {
	Status     Status
	Identifier uint32
}

func (r *Response) String() string {
	return fmt.Sprintf("status=%v; id=%d", r.Status, r.Identifier)
}

// DecodeResponse parses the 6 bytes of an error-response frame.
func DecodeResponse(buf []byte) (*Response, error) {
	if len(buf) < ResponseSize {
		return nil, ErrShortResponse
	}
	if buf[0] != CommandErrorResponse {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCommand, buf[0])
	}
	return &Response{
		Status:     Status(buf[1]),
		Identifier: binary.BigEndian.Uint32(buf[2:6]),
	}, nil
}

// ReadResponse reads one error-response frame from r.
// The returned count is the number of bytes consumed, so callers can tell silence (0) from a truncated frame.
func ReadResponse(r io.Reader) (*Response, int, error) {
	var buf [ResponseSize]byte
	n, err := io.ReadFull(r, buf[:])
	if err != nil {
		return nil, n, err
	}
	res, err := DecodeResponse(buf[:])
	return res, n, err
}

// Writen is a safe wrapper around Write, specialized for `net.Conn`s.
// Writen will continue calling write until it finishes or an error is encountered.
// It will abort after 10 "temporary errors" - it's gotten into a busy loop and ate 100% of a CPU once.
func Writen(w io.Writer, buf []byte) error {
	remainingTemporaryErrors := 10
	for len(buf) > 0 {
		l, err := w.Write(buf)
		if err != nil {
			if nerr, ok := err.(net.Error); ok && nerr.Temporary() && !nerr.Timeout() {
				if remainingTemporaryErrors > 0 {
					remainingTemporaryErrors--
					buf = buf[l:]
					continue
				}
			}
			return err
		}
		buf = buf[l:]
	}
	return nil
}
