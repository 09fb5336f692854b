package api

import (
	"bytes"
	"errors"
	"strings"
	"unsafe"
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
)

var bearerPrefix = []byte("bearer ")

// bearerTokenFromString returns the compact JWT from a "Bearer <token>"
// header value. The scheme is matched case-insensitively.
func bearerTokenFromString(raw string) ([]byte, error) {
	trimmed := strings.Trim(raw, " ")
	if trimmed == "" {
		return nil, errMissingAuthorization
	}
	tokenBytes := readOnlyBytes(trimmed)
	if len(tokenBytes) <= len(bearerPrefix) || !bytes.EqualFold(tokenBytes[:len(bearerPrefix)], bearerPrefix) {
		return nil, errBadAuthorization
	}
	tokenBytes = bytes.TrimLeft(tokenBytes[len(bearerPrefix):], " ")
	if bytes.Count(tokenBytes, []byte{'.'}) != 2 {
		return nil, errBadAuthorization
	}
	return tokenBytes, nil
}

func readOnlyBytes(s string) []byte {
	if s == "" {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

func readOnlyString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}
