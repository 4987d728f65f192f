package webauthn

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"webauthnrp/internal/authdata"
	"webauthnrp/internal/clientdata"
	"webauthnrp/internal/cose"
)

// AssertionResponseInner is the nested "response" object of an assertion
// response (SPEC_FULL.md §6).
type AssertionResponseInner struct {
	ClientDataJSON    string
	AuthenticatorData string
	Signature         string
	UserHandle        string
}

// AssertionResponse is the client's reply to an assertion request
// (SPEC_FULL.md §6), with the same field-name alias tolerance as
// CreationResponse.
type AssertionResponse struct {
	ID       string
	RawID    string
	Type     string
	Response AssertionResponseInner
}

func (r *AssertionResponse) UnmarshalJSON(b []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return fmt.Errorf("webauthn: AssertionResponse: %w", err)
	}
	r.ID = firstString(m, "id")
	r.RawID = firstString(m, "rawId", "rawID")
	r.Type = firstString(m, "type")
	if raw, ok := firstRaw(m, "response"); ok {
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(raw, &inner); err != nil {
			return fmt.Errorf("webauthn: AssertionResponse.response: %w", err)
		}
		r.Response.ClientDataJSON = firstString(inner, "clientDataJSON", "clientDataJson")
		r.Response.AuthenticatorData = firstString(inner, "authenticatorData")
		r.Response.Signature = firstString(inner, "signature")
		r.Response.UserHandle = firstString(inner, "userHandle")
	}
	return nil
}

// VerifyAssertion validates an assertion response against the challenge
// issued with the corresponding assertion request and the caller's list of
// registered devices for the claimed user, composing C2/C4 plus ECDSA
// signature verification (SPEC_FULL.md §4.6).
func (rp *RelyingParty) VerifyAssertion(resp *AssertionResponse, expectedChallenge []byte, devices []*Device) (*AssertionResult, error) {
	const op = "VerifyAssertion"

	if resp.Type != "public-key" {
		return nil, wrapErr(op, IncorrectResponseType, fmt.Errorf("type=%q", resp.Type))
	}

	cdBytes, err := decodeFlexibleBase64(op, resp.Response.ClientDataJSON)
	if err != nil {
		return nil, err
	}
	clientDataHash := sha256.Sum256(cdBytes)

	cd, err := clientdata.Decode(cdBytes)
	if err != nil {
		return nil, wrapErr(op, JsonDecode, err)
	}
	if err := clientdata.Verify(cd, clientdata.TypeGet, expectedChallenge, rp.Origin, rp.AllowCrossOrigin); err != nil {
		return nil, translateClientDataErr(op, err)
	}

	authDataBytes, err := decodeFlexibleBase64(op, resp.Response.AuthenticatorData)
	if err != nil {
		return nil, err
	}
	ad, err := authdata.Decode(authDataBytes)
	if err != nil {
		return nil, wrapErr(op, CborDecode, err)
	}
	if ad.Flags.AttestedCredentialData() {
		return nil, wrapErr(op, IncorrectResponseType, fmt.Errorf("assertion authData must not carry attested credential data"))
	}
	if err := ad.Validate(rp.ID); err != nil {
		return nil, translateAuthDataErr(op, err)
	}

	credentialID, err := decodeFlexibleBase64(op, resp.RawID)
	if err != nil {
		return nil, err
	}
	device := findDevice(devices, credentialID)
	if device == nil {
		return nil, wrapErr(op, DeviceNotFound, fmt.Errorf("no registered device matches credentialId"))
	}

	sigBytes, err := decodeFlexibleBase64(op, resp.Response.Signature)
	if err != nil {
		return nil, err
	}
	key, err := devicePublicKey(device)
	if err != nil {
		return nil, wrapErr(op, PublicKeyMissing, err)
	}

	signed := append(append([]byte{}, authDataBytes...), clientDataHash[:]...)
	if err := rp.VerifySignature(key, signed, sigBytes); err != nil {
		return nil, err
	}

	regressed := !(ad.SignCount > device.SignCount || (ad.SignCount == 0 && device.SignCount == 0))

	var userHandle []byte
	if resp.Response.UserHandle != "" {
		userHandle, err = decodeFlexibleBase64(op, resp.Response.UserHandle)
		if err != nil {
			return nil, err
		}
	}

	return &AssertionResult{
		UpdatedSignCount: ad.SignCount,
		CounterRegressed: regressed,
		UserHandle:       userHandle,
	}, nil
}

func findDevice(devices []*Device, credentialID []byte) *Device {
	for _, d := range devices {
		if bytes.Equal(d.CredentialID, credentialID) {
			return d
		}
	}
	return nil
}

// devicePublicKey resolves a Device's public key into the cose.Key
// VerifySignature dispatches on. COSEKey, set for keys that arrived through
// some channel other than this library's own C5, takes precedence over the
// ES256-only PublicKey field every device this library itself registers
// populates (SPEC_FULL.md §3 EXPANSION).
func devicePublicKey(device *Device) (*cose.Key, error) {
	if len(device.COSEKey) > 0 {
		key, _, err := cose.Decode(device.COSEKey)
		return key, err
	}
	return cose.KeyFromUncompressedPoint(device.PublicKey)
}
