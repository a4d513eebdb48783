package binary_api

import (
	"math/rand"
	"testing"

	"github.com/uniqush/uniqush-apns/testutil"
)

func TestHexRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for size := 0; size < 130; size++ {
		b := make([]byte, size)
		r.Read(b)
		s := EncodeHex(b)
		testutil.ExpectEquals(t, 2*size, len(s), "hex length")
		decoded, err := DecodeHex(s)
		if err != nil {
			t.Fatalf("Failed to decode %q: %v", s, err)
		}
		testutil.ExpectBytesEqual(t, b, decoded, "round trip")
	}
}

func TestEncodeHexIsUppercase(t *testing.T) {
	testutil.ExpectStringEquals(t, "00FFA5", EncodeHex([]byte{0x00, 0xff, 0xa5}), "uppercase digits")
}

func TestDecodeHexAcceptsLowercase(t *testing.T) {
	b, err := DecodeHex("00ffa5")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	testutil.ExpectBytesEqual(t, []byte{0x00, 0xff, 0xa5}, b, "lowercase input")
}

func TestDecodeToken(t *testing.T) {
	if _, err := DecodeToken(testToken); err != nil {
		t.Errorf("Unexpected error for a valid token: %v", err)
	}
	for _, bad := range []string{"", "ABC", testToken[:62], testToken + "00", "ZZ" + testToken[2:]} {
		if _, err := DecodeToken(bad); err == nil {
			t.Errorf("Expected an error for token %q", bad)
		}
	}
}
