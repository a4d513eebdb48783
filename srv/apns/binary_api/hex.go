package binary_api

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// EncodeHex converts raw token bytes into uppercase hexadecimal, two digits per byte, with no separators.
func EncodeHex(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}

// DecodeHex converts hexadecimal text (either case) back into raw bytes.
// DecodeHex(EncodeHex(b)) always equals b.
func DecodeHex(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd length hex string (%d characters)", len(s))
	}
	return hex.DecodeString(s)
}

// DecodeToken decodes a device token and checks that it has exactly TokenSize bytes.
func DecodeToken(s string) ([]byte, error) {
	b, err := DecodeHex(s)
	if err != nil {
		return nil, err
	}
	if len(b) != TokenSize {
		return nil, fmt.Errorf("token is %d bytes, expected %d", len(b), TokenSize)
	}
	return b, nil
}
