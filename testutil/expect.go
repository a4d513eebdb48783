// Package testutil contains reusable utilities for uniqush-apns's unit tests (such as ExpectEquals).
package testutil

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
)

// ExpectEquals will report a test error if reflect.DeepEqual(expected, actual) is false.
func ExpectEquals(t *testing.T, expected interface{}, actual interface{}, msg string) {
	t.Helper()
	if !reflect.DeepEqual(expected, actual) {
		t.Errorf("ExpectEquals failed: %s: %#v != %#v", msg, expected, actual)
	}
}

// ExpectStringEquals will report a test error if the strings expected and actual differ.
func ExpectStringEquals(t *testing.T, expected string, actual string, msg string) {
	t.Helper()
	if expected != actual {
		t.Errorf("ExpectStringEquals failed: %s: %q != %q", msg, expected, actual)
	}
}

// ExpectBytesEqual will report a test error if two byte slices differ, printing both in hex.
// A nil slice and an empty slice are considered equal.
func ExpectBytesEqual(t *testing.T, expected []byte, actual []byte, msg string) {
	t.Helper()
	if !bytes.Equal(expected, actual) {
		t.Errorf("ExpectBytesEqual failed: %s: % x != % x", msg, expected, actual)
	}
}

// ExpectErrorAs fails the test immediately unless errors.As(err, target) holds.
// target must be a non-nil pointer to an error type, as for errors.As.
func ExpectErrorAs(t *testing.T, err error, target interface{}, msg string) {
	t.Helper()
	if err == nil {
		t.Fatalf("ExpectErrorAs failed: %s: got no error, wanted %T", msg, target)
	}
	if !errors.As(err, target) {
		t.Fatalf("ExpectErrorAs failed: %s: %T (%v) is not a %T", msg, err, err, target)
	}
}
