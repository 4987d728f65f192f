// Package webauthn implements the server-side core of a WebAuthn (FIDO2)
// Relying Party: request construction and response validation for
// credential registration and authentication ceremonies.
//
// The package is stateless and safe for concurrent use. It does not store
// users, sessions, or credentials — callers own the Device persistence
// (see internal/store for a reference implementation) and challenge
// tracking between issuing a request and validating its response.
package webauthn
