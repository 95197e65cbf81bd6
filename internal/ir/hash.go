package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Domain prefixes for content-addressed identity.
// The version suffix leaves room for algorithm migration.
const (
	DomainRequest = "restcache/request/v1"
	DomainState   = "restcache/state/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// RequestHash computes the request key for (url, method, params).
//
// Logically identical descriptors hash identically: params are serialized
// as canonical JSON (sorted keys, NFC strings) and the method is
// upper-cased. A nil params value hashes the same as Null.
func RequestHash(url, method string, params Value) (string, error) {
	if params == nil {
		params = Null{}
	}
	obj := Object{
		"url":    String(url),
		"method": String(strings.ToUpper(method)),
		"params": params,
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("RequestHash: failed to marshal: %w", err)
	}

	return hashWithDomain(DomainRequest, canonical), nil
}

// MustRequestHash is like RequestHash but panics on error.
// Use only in tests or when params are known to be valid.
func MustRequestHash(url, method string, params Value) string {
	key, err := RequestHash(url, method, params)
	if err != nil {
		panic(err)
	}
	return key
}

// DigestCanonical hashes an already canonical document under DomainState.
// Used for whole-store digests compared during journal replay.
func DigestCanonical(canonical []byte) string {
	return hashWithDomain(DomainState, canonical)
}
