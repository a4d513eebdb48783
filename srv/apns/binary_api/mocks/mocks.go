// Package mocks implements a mock APNS gateway, for unit tests.
// Instead of a TCP socket, each connection is one half of a net.Pipe, which honours deadlines like a real socket.
package mocks

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"
)

type APNSNotification struct {
	Command  uint8
	ID       uint32
	Expiry   uint32
	DevToken []byte
	Payload  []byte
	Priority uint8
}

// Token returns the device token the way the client library spells it: uppercase hex.
func (n *APNSNotification) Token() string {
	return strings.ToUpper(hex.EncodeToString(n.DevToken))
}

func (n *APNSNotification) String() string {
	return fmt.Sprintf("command=%v; id=%v; expiry=%v; token=%v; priority=%v; payload=%v",
		n.Command, n.ID, n.Expiry, n.Token(), n.Priority, string(n.Payload))
}

type APNSResponse struct {
	ID     uint32
	Status uint8
}

// ReadNotification reads one v2 frame sent by the tested code.
// Unlike apple, it insists on all 5 items being present, in order of id.
func ReadNotification(conn io.Reader) (*APNSNotification, error) {
	notif := new(APNSNotification)
	if err := binary.Read(conn, binary.BigEndian, &notif.Command); err != nil {
		return nil, err
	}
	if notif.Command != 2 {
		return nil, fmt.Errorf("Unknown Command %d in request command frame", int(notif.Command))
	}
	var frameLen uint32
	if err := binary.Read(conn, binary.BigEndian, &frameLen); err != nil {
		return nil, err
	}
	// Number of bytes of frame data read so far (after header of command+frame length)
	totalReadLength := 0
	totalExpectedLen := int(frameLen)

	readItemBytes := func(expectedID uint8, expectedItemLength uint16) ([]byte, error) {
		var itemID uint8
		if err := binary.Read(conn, binary.BigEndian, &itemID); err != nil {
			return nil, err
		}
		if itemID != expectedID {
			return nil, fmt.Errorf("Expected item id %d, but the client sent item id %d", expectedID, itemID)
		}
		var itemLength uint16
		if err := binary.Read(conn, binary.BigEndian, &itemLength); err != nil {
			return nil, err
		}
		if expectedItemLength > 0 && itemLength != expectedItemLength {
			return nil, fmt.Errorf("Expected item %d to have length %d, but the client passed a length of %d", expectedID, expectedItemLength, itemLength)
		}
		totalReadLength += 3 + int(itemLength)
		if totalReadLength > totalExpectedLen {
			return nil, fmt.Errorf("Read too many bytes reading item %d: %d bytes is larger than the frame length of %d", expectedID, totalReadLength, totalExpectedLen)
		}
		itemBytes := make([]byte, itemLength)
		if _, err := io.ReadFull(conn, itemBytes); err != nil {
			return nil, fmt.Errorf("Failed to read %d bytes of item %d: %v", itemLength, expectedID, err)
		}
		return itemBytes, nil
	}

	var err error
	if notif.DevToken, err = readItemBytes(1, 0); err != nil {
		return nil, err
	}
	if notif.Payload, err = readItemBytes(2, 0); err != nil {
		return nil, err
	}
	id, err := readItemBytes(3, 4)
	if err != nil {
		return nil, err
	}
	notif.ID = binary.BigEndian.Uint32(id)
	expiry, err := readItemBytes(4, 4)
	if err != nil {
		return nil, err
	}
	notif.Expiry = binary.BigEndian.Uint32(expiry)
	priority, err := readItemBytes(5, 1)
	if err != nil {
		return nil, err
	}
	notif.Priority = priority[0]
	if totalReadLength != totalExpectedLen {
		return nil, fmt.Errorf("Frame length %d does not match the %d bytes of items", totalExpectedLen, totalReadLength)
	}
	return notif, nil
}

// WriteResponse writes an error-response frame, as APNS does right before closing the connection.
func WriteResponse(conn io.Writer, res *APNSResponse) error {
	var buf [6]byte
	buf[0] = 8
	buf[1] = res.Status
	binary.BigEndian.PutUint32(buf[2:], res.ID)
	_, err := conn.Write(buf[:])
	return err
}

// Handler decides how the gateway answers a notification. nil means it was accepted silently.
type Handler func(notif *APNSNotification) *APNSResponse

// AcceptAll never complains.
func AcceptAll(*APNSNotification) *APNSResponse {
	return nil
}

// RejectTokens replies with status 8 (invalid token) for each of the given hex tokens.
func RejectTokens(tokens ...string) Handler {
	bad := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		bad[strings.ToUpper(t)] = true
	}
	return func(notif *APNSNotification) *APNSResponse {
		if bad[notif.Token()] {
			return &APNSResponse{ID: notif.ID, Status: 8}
		}
		return nil
	}
}

// ServeGateway plays the gateway on one connection until it is closed.
// Accepted notifications are passed to accepted. After the first error-response the remaining frames are discarded
// and the connection is closed once the client has read the response, like the real service.
func ServeGateway(conn net.Conn, handler Handler, accepted func(*APNSNotification)) (int, error) {
	count := 0
	for {
		notif, err := ReadNotification(conn)
		if err != nil {
			conn.Close()
			return count, err
		}
		res := handler(notif)
		if res == nil {
			count++
			if accepted != nil {
				accepted(notif)
			}
			continue
		}
		go func() {
			WriteResponse(conn, res)
			conn.Close()
		}()
		for {
			if _, err := ReadNotification(conn); err != nil {
				return count, nil
			}
		}
	}
}

// Gateway implements the ConnManager interface of package apns on top of in-memory pipes.
type Gateway struct {
	mutex     sync.Mutex
	handler   Handler
	dials     int
	dialErr   error
	stalled   bool
	received  []*APNSNotification
	conns     []net.Conn
	feedback  map[string][]byte
	addresses []string
}

func NewGateway(handler Handler) *Gateway {
	if handler == nil {
		handler = AcceptAll
	}
	return &Gateway{
		handler:  handler,
		feedback: make(map[string][]byte),
	}
}

// NewConn returns the client half of a fresh pipe, and serves the other half in a goroutine.
func (g *Gateway) NewConn(ctx context.Context, addr string) (net.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.dials++
	g.addresses = append(g.addresses, addr)
	if g.dialErr != nil {
		return nil, g.dialErr
	}
	client, server := net.Pipe()
	g.conns = append(g.conns, server)

	if data, ok := g.feedback[addr]; ok {
		go func() {
			server.Write(data)
			server.Close()
		}()
		return client, nil
	}
	if g.stalled {
		// Never reads, so every write from the client eventually hits its deadline.
		return client, nil
	}
	handler := g.handler
	go ServeGateway(server, handler, g.accept)
	return client, nil
}

func (g *Gateway) accept(notif *APNSNotification) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.received = append(g.received, notif)
}

// SetHandler changes the behaviour of connections opened from now on.
func (g *Gateway) SetHandler(handler Handler) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.handler = handler
}

// FailDials makes every following NewConn fail with err (nil restores normal behaviour).
func (g *Gateway) FailDials(err error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.dialErr = err
}

// Stall makes connections opened from now on swallow nothing: writes block until their deadline.
func (g *Gateway) Stall(stalled bool) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.stalled = stalled
}

// SetFeedback makes connections to addr stream the given tuples and then close.
func (g *Gateway) SetFeedback(addr string, tokens map[string]time.Time) error {
	var data []byte
	for token, ts := range tokens {
		raw, err := hex.DecodeString(token)
		if err != nil {
			return err
		}
		var header [6]byte
		binary.BigEndian.PutUint32(header[0:4], uint32(ts.Unix()))
		binary.BigEndian.PutUint16(header[4:6], uint16(len(raw)))
		data = append(data, header[:]...)
		data = append(data, raw...)
	}
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.feedback[addr] = data
	return nil
}

// DropConnections closes the gateway side of every connection, as if the network went away.
func (g *Gateway) DropConnections() {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	for _, conn := range g.conns {
		conn.Close()
	}
	g.conns = nil
}

func (g *Gateway) Dials() int {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return g.dials
}

func (g *Gateway) Addresses() []string {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return append([]string(nil), g.addresses...)
}

// Received returns the notifications accepted so far, in arrival order.
func (g *Gateway) Received() []*APNSNotification {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return append([]*APNSNotification(nil), g.received...)
}

// ReceivedTokens is Received reduced to the tokens.
func (g *Gateway) ReceivedTokens() []string {
	received := g.Received()
	tokens := make([]string, len(received))
	for i, notif := range received {
		tokens[i] = notif.Token()
	}
	return tokens
}

var ErrDialRefused = errors.New("mock gateway refused the connection")
