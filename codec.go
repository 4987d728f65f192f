package webauthn

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// b64urlEncode renders b as base64url without padding, the wire form every
// challenge and credential ID uses (SPEC_FULL.md §4.7, §6).
func b64urlEncode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeRawID decodes a credential ID as carried in CreationResponse.RawID
// or AssertionResponse.RawID, accepting the same flexible base64 alphabets
// as the rest of the wire format. Exported for callers, such as a daemon,
// that need to look up a device by credential ID independent of a full
// VerifyRegistration/VerifyAssertion call.
func DecodeRawID(rawID string) ([]byte, error) {
	return decodeFlexibleBase64("DecodeRawID", rawID)
}

// decodeFlexibleBase64 accepts URL-safe or standard alphabet, padded or
// unpadded, per Testable Property 10. Obviously invalid input surfaces as a
// Base64Decode kind error.
func decodeFlexibleBase64(op string, s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	encodings := []*base64.Encoding{
		base64.RawURLEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.StdEncoding,
	}
	var lastErr error
	for _, enc := range encodings {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		} else {
			lastErr = err
		}
	}
	return nil, wrapErr(op, Base64Decode, fmt.Errorf("%q: %w", s, lastErr))
}
