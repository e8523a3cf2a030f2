package common

import (
	"errors"
	"testing"

	apperrors "github.com/acme/call-dispatch-engine/pkg/errors"
)

func TestPageTokenRoundTrip(t *testing.T) {
	state := []byte{0, 0, 0, 0, 0, 0, 0, 42}
	token := EncodePageToken(state)
	if token == "" {
		t.Fatal("expected a token for a non-empty state")
	}
	decoded, err := DecodePageToken(token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(decoded) != string(state) {
		t.Fatalf("expected %v, got %v", state, decoded)
	}
	if EncodePageToken(nil) != "" {
		t.Fatal("expected empty token for the last page")
	}
}

func TestDecodePageTokenRejectsGarbage(t *testing.T) {
	if _, err := DecodePageToken("***"); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestClampPageSize(t *testing.T) {
	cases := map[int]int{0: DefaultPageSize, -3: DefaultPageSize, 10: 10, 10000: MaxPageSize}
	for in, want := range cases {
		if got := ClampPageSize(in); got != want {
			t.Fatalf("ClampPageSize(%d) = %d, want %d", in, got, want)
		}
	}
}
