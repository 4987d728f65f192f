package webauthn

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// testAuthenticator simulates a FIDO U2F security key: one long-lived
// attestation key/certificate plus however many per-credential key pairs it
// has minted.
type testAuthenticator struct {
	attestKey  *ecdsa.PrivateKey
	attestCert []byte
}

func newTestAuthenticator(t *testing.T) *testAuthenticator {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "Test Authenticator"},
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).Add(100 * 365 * 24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate: %v", err)
	}
	return &testAuthenticator{attestKey: key, attestCert: der}
}

func pad32(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[len(b)-32:]
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

func cborMarshalForTest(v interface{}) ([]byte, error) {
	return cbor.Marshal(v)
}

func coseES256Key(pub *ecdsa.PublicKey) []byte {
	m := map[int]interface{}{
		1:  2,
		3:  -7,
		-1: 1,
		-2: pad32(pub.X),
		-3: pad32(pub.Y),
	}
	b, err := cbor.Marshal(m)
	if err != nil {
		panic(err)
	}
	return b
}

func buildAuthDataBytes(t *testing.T, rpID string, flags byte, counter uint32, credID, coseKey []byte) []byte {
	t.Helper()
	h := sha256.Sum256([]byte(rpID))
	var buf bytes.Buffer
	buf.Write(h[:])
	buf.WriteByte(flags)
	var c [4]byte
	binary.BigEndian.PutUint32(c[:], counter)
	buf.Write(c[:])
	if flags&0x40 != 0 {
		buf.Write(make([]byte, 16))
		var l [2]byte
		binary.BigEndian.PutUint16(l[:], uint16(len(credID)))
		buf.Write(l[:])
		buf.Write(credID)
		buf.Write(coseKey)
	}
	return buf.Bytes()
}

func clientDataJSON(typ, challenge, origin string) []byte {
	enc := base64.RawURLEncoding.EncodeToString([]byte(challenge))
	return []byte(fmt.Sprintf(`{"type":%q,"challenge":%q,"origin":%q}`, typ, enc, origin))
}

// buildRegistrationFixture produces a full CreationResponse plus the
// credential key pair and challenge it was signed against, simulating a
// successful fido-u2f registration ceremony end to end.
func buildRegistrationFixture(t *testing.T, auth *testAuthenticator, rpID, origin string, challenge []byte) (*CreationResponse, *ecdsa.PrivateKey, []byte) {
	t.Helper()

	credKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey (credential): %v", err)
	}
	credID := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	coseKey := coseES256Key(&credKey.PublicKey)

	authData := buildAuthDataBytes(t, rpID, 0x41, 1, credID, coseKey)
	cdJSON := clientDataJSON("webauthn.create", string(challenge), origin)
	clientDataHash := sha256.Sum256(cdJSON)

	pubKeyU2F := append([]byte{0x04}, append(pad32(credKey.PublicKey.X), pad32(credKey.PublicKey.Y)...)...)
	var verifyData bytes.Buffer
	verifyData.WriteByte(0x00)
	h := sha256.Sum256([]byte(rpID))
	verifyData.Write(h[:])
	verifyData.Write(clientDataHash[:])
	verifyData.Write(credID)
	verifyData.Write(pubKeyU2F)
	digest := sha256.Sum256(verifyData.Bytes())
	sig, err := ecdsa.SignASN1(rand.Reader, auth.attestKey, digest[:])
	if err != nil {
		t.Fatalf("SignASN1: %v", err)
	}

	attObj := map[string]interface{}{
		"fmt": "fido-u2f",
		"attStmt": map[string]interface{}{
			"x5c": []interface{}{auth.attestCert},
			"sig": sig,
		},
		"authData": authData,
	}
	attObjBytes, err := cbor.Marshal(attObj)
	if err != nil {
		t.Fatalf("cbor.Marshal: %v", err)
	}

	resp := &CreationResponse{
		ID:    base64.RawURLEncoding.EncodeToString(credID),
		RawID: base64.RawURLEncoding.EncodeToString(credID),
		Type:  "public-key",
		Response: CreationResponseInner{
			ClientDataJSON:    base64.RawURLEncoding.EncodeToString(cdJSON),
			AttestationObject: base64.StdEncoding.EncodeToString(attObjBytes),
		},
	}
	return resp, credKey, credID
}

// buildAssertionFixture produces a full AssertionResponse signed by credKey
// against device, simulating an authentication ceremony.
func buildAssertionFixture(t *testing.T, rpID, origin string, challenge []byte, credKey *ecdsa.PrivateKey, credID []byte, counter uint32) *AssertionResponse {
	t.Helper()

	authData := buildAuthDataBytes(t, rpID, 0x01, counter, nil, nil)
	cdJSON := clientDataJSON("webauthn.get", string(challenge), origin)
	clientDataHash := sha256.Sum256(cdJSON)

	signed := append(append([]byte{}, authData...), clientDataHash[:]...)
	digest := sha256.Sum256(signed)
	sig, err := ecdsa.SignASN1(rand.Reader, credKey, digest[:])
	if err != nil {
		t.Fatalf("SignASN1: %v", err)
	}

	return &AssertionResponse{
		ID:    base64.RawURLEncoding.EncodeToString(credID),
		RawID: base64.RawURLEncoding.EncodeToString(credID),
		Type:  "public-key",
		Response: AssertionResponseInner{
			ClientDataJSON:    base64.RawURLEncoding.EncodeToString(cdJSON),
			AuthenticatorData: base64.RawURLEncoding.EncodeToString(authData),
			Signature:         base64.RawURLEncoding.EncodeToString(sig),
		},
	}
}
