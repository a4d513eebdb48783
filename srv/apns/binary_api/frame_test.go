package binary_api

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/uniqush/uniqush-apns/srv/apns/binary_api/mocks"
	"github.com/uniqush/uniqush-apns/testutil"
)

const testToken = "0123456789ABCDEF0123456789ABCDEF0123456789ABCDEF0123456789ABCDEF"

func mustDecodeToken(t *testing.T, s string) []byte {
	t.Helper()
	b, err := DecodeToken(s)
	if err != nil {
		t.Fatalf("Failed to decode token %q: %v", s, err)
	}
	return b
}

func TestEncodeNotificationLayout(t *testing.T) {
	n := &Notification{
		Token:      mustDecodeToken(t, testToken),
		Payload:    []byte(`{"aps":{"alert":"hi","badge":3}}`),
		Identifier: 42,
		Expiry:     1500003600,
		Priority:   PriorityNormal,
	}
	frame, err := EncodeNotification(n)
	if err != nil {
		t.Fatalf("Unexpected error encoding: %v", err)
	}
	expectedLen := 5 + (3 + 32) + (3 + len(n.Payload)) + 7 + 7 + 4
	testutil.ExpectEquals(t, expectedLen, len(frame), "frame length")

	notif, err := mocks.ReadNotification(bytes.NewReader(frame))
	if err != nil {
		t.Fatalf("Mock gateway could not parse the frame: %v", err)
	}
	testutil.ExpectEquals(t, uint8(2), notif.Command, "command")
	testutil.ExpectStringEquals(t, testToken, notif.Token(), "token")
	testutil.ExpectStringEquals(t, string(n.Payload), string(notif.Payload), "payload")
	testutil.ExpectEquals(t, uint32(42), notif.ID, "identifier")
	testutil.ExpectEquals(t, uint32(1500003600), notif.Expiry, "expiry")
	testutil.ExpectEquals(t, PriorityNormal, notif.Priority, "priority")
}

func TestEncodeNotificationDefaultsToHighPriority(t *testing.T) {
	frame, err := EncodeNotification(&Notification{
		Token:   mustDecodeToken(t, testToken),
		Payload: []byte("{}"),
	})
	if err != nil {
		t.Fatalf("Unexpected error encoding: %v", err)
	}
	testutil.ExpectEquals(t, PriorityHigh, frame[len(frame)-1], "priority byte")
}

func TestEncodeNotificationIsDeterministic(t *testing.T) {
	n := &Notification{
		Token:      mustDecodeToken(t, testToken),
		Payload:    []byte(`{"aps":{}}`),
		Identifier: 7,
		Expiry:     99,
	}
	a, _ := EncodeNotification(n)
	b, _ := EncodeNotification(n)
	testutil.ExpectBytesEqual(t, a, b, "frames for the same notification")
}

func TestEncodeNotificationRejectsMissingItems(t *testing.T) {
	if _, err := EncodeNotification(&Notification{Payload: []byte("{}")}); err == nil {
		t.Error("Expected an error for a missing token")
	}
	if _, err := EncodeNotification(&Notification{Token: mustDecodeToken(t, testToken)}); err == nil {
		t.Error("Expected an error for a missing payload")
	}
}

func TestDecodeResponse(t *testing.T) {
	res, err := DecodeResponse([]byte{8, 8, 0, 0, 1, 2})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	testutil.ExpectEquals(t, Status8InvalidToken, res.Status, "status")
	testutil.ExpectEquals(t, uint32(258), res.Identifier, "identifier")

	_, err = DecodeResponse([]byte{8, 8, 0})
	testutil.ExpectEquals(t, ErrShortResponse, err, "short response")

	_, err = DecodeResponse([]byte{7, 8, 0, 0, 0, 1})
	if !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("Expected ErrUnknownCommand, got %v", err)
	}
}

func TestReadResponseReportsConsumedBytes(t *testing.T) {
	var buf bytes.Buffer
	mocks.WriteResponse(&buf, &mocks.APNSResponse{ID: 3, Status: 10})
	res, n, err := ReadResponse(&buf)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	testutil.ExpectEquals(t, ResponseSize, n, "consumed bytes")
	testutil.ExpectEquals(t, Status10Shutdown, res.Status, "status")
	testutil.ExpectEquals(t, uint32(3), res.Identifier, "identifier")

	_, n, err = ReadResponse(bytes.NewReader([]byte{8, 1}))
	testutil.ExpectEquals(t, 2, n, "consumed bytes of a truncated frame")
	testutil.ExpectEquals(t, io.ErrUnexpectedEOF, err, "truncated frame")

	_, n, err = ReadResponse(bytes.NewReader(nil))
	testutil.ExpectEquals(t, 0, n, "consumed bytes of an empty stream")
	testutil.ExpectEquals(t, io.EOF, err, "empty stream")
}

func TestStatusClassification(t *testing.T) {
	for _, s := range []Status{Status2MissingDeviceToken, Status5InvalidTokenSize, Status8InvalidToken} {
		if !s.IsTokenError() {
			t.Errorf("Expected %v to be a token error", s)
		}
	}
	for _, s := range []Status{Status1ProcessingError, Status7InvalidPayloadSize, Status10Shutdown, Status255Unknown} {
		if s.IsTokenError() {
			t.Errorf("Did not expect %v to be a token error", s)
		}
	}
	if !Status10Shutdown.IsShutdown() {
		t.Error("Expected status 10 to be a shutdown")
	}
	testutil.ExpectStringEquals(t, "Unrecognized status 42", Status(42).Reason(), "unknown status reason")
}

// chunkyWriter accepts at most 3 bytes per call.
type chunkyWriter struct {
	bytes.Buffer
}

func (w *chunkyWriter) Write(b []byte) (int, error) {
	if len(b) > 3 {
		b = b[:3]
	}
	return w.Buffer.Write(b)
}

func TestWritenFinishesShortWrites(t *testing.T) {
	w := &chunkyWriter{}
	data := []byte("a payload longer than three bytes")
	if err := Writen(w, data); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	testutil.ExpectBytesEqual(t, data, w.Bytes(), "written bytes")
}
