// Package common holds helpers shared by the service packages.
package common

import (
	"encoding/base64"
	"fmt"

	apperrors "github.com/acme/call-dispatch-engine/pkg/errors"
)

// DefaultPageSize applies when a caller asks for no particular limit.
const DefaultPageSize = 50

// MaxPageSize caps a single page.
const MaxPageSize = 500

// EncodePageToken turns a store paging state into an opaque URL-safe token.
// An empty state means there are no further pages.
func EncodePageToken(state []byte) string {
	if len(state) == 0 {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(state)
}

// DecodePageToken reverses EncodePageToken. Malformed tokens are validation
// errors.
func DecodePageToken(token string) ([]byte, error) {
	if token == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed page token: %v", apperrors.ErrValidation, err)
	}
	return data, nil
}

// ClampPageSize bounds limit to [1, MaxPageSize], defaulting non-positive values.
func ClampPageSize(limit int) int {
	switch {
	case limit <= 0:
		return DefaultPageSize
	case limit > MaxPageSize:
		return MaxPageSize
	}
	return limit
}
