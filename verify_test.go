package webauthn

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"testing"

	"github.com/fxamacker/cbor/v2"

	"webauthnrp/internal/cose"
)

func mustDecodeKey(t *testing.T, m map[int]interface{}) *cose.Key {
	t.Helper()
	b, err := cbor.Marshal(m)
	if err != nil {
		t.Fatalf("cbor.Marshal: %v", err)
	}
	key, _, err := cose.Decode(b)
	if err != nil {
		t.Fatalf("cose.Decode: %v", err)
	}
	return key
}

func TestVerifySignatureES256(t *testing.T) {
	rp, _ := NewRelyingParty("Example App", "https://app.example.com", "")
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	key := mustDecodeKey(t, map[int]interface{}{1: 2, 3: -7, -1: 1, -2: pad32(priv.X), -3: pad32(priv.Y)})

	signed := []byte("assertion payload")
	digest := sha256.Sum256(signed)
	sig, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	if err != nil {
		t.Fatalf("SignASN1: %v", err)
	}
	if err := rp.VerifySignature(key, signed, sig); err != nil {
		t.Fatalf("VerifySignature: %v", err)
	}
	if err := rp.VerifySignature(key, []byte("tampered"), sig); err == nil {
		t.Fatal("expected signature failure on tampered payload")
	}
}

func TestVerifySignatureES384(t *testing.T) {
	rp, _ := NewRelyingParty("Example App", "https://app.example.com", "")
	priv, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	xb, yb := priv.X.Bytes(), priv.Y.Bytes()
	key := mustDecodeKey(t, map[int]interface{}{1: 2, 3: -35, -1: 2, -2: xb, -3: yb})

	signed := []byte("assertion payload")
	digest := sha512.Sum384(signed)
	sig, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	if err != nil {
		t.Fatalf("SignASN1: %v", err)
	}
	if err := rp.VerifySignature(key, signed, sig); err != nil {
		t.Fatalf("VerifySignature: %v", err)
	}
}

func TestVerifySignatureRS256(t *testing.T) {
	rp, _ := NewRelyingParty("Example App", "https://app.example.com", "")
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	key := mustDecodeKey(t, map[int]interface{}{1: 3, 3: -257, -1: priv.PublicKey.N.Bytes(), -2: priv.PublicKey.E})

	signed := []byte("assertion payload")
	digest := sha256.Sum256(signed)
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
	if err != nil {
		t.Fatalf("SignPKCS1v15: %v", err)
	}
	if err := rp.VerifySignature(key, signed, sig); err != nil {
		t.Fatalf("VerifySignature: %v", err)
	}
	if err := rp.VerifySignature(key, []byte("tampered"), sig); err == nil {
		t.Fatal("expected signature failure on tampered payload")
	}
}

func TestVerifySignatureEdDSA(t *testing.T) {
	rp, _ := NewRelyingParty("Example App", "https://app.example.com", "")
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	key := mustDecodeKey(t, map[int]interface{}{1: 1, 3: -8, -1: 6, -2: []byte(pub)})

	signed := []byte("assertion payload")
	sig := ed25519.Sign(priv, signed)
	if err := rp.VerifySignature(key, signed, sig); err != nil {
		t.Fatalf("VerifySignature: %v", err)
	}
	if err := rp.VerifySignature(key, []byte("tampered"), sig); err == nil {
		t.Fatal("expected signature failure on tampered payload")
	}
}

func TestVerifySignatureUnsupportedAlgorithm(t *testing.T) {
	rp, _ := NewRelyingParty("Example App", "https://app.example.com", "")
	key := &cose.Key{Kty: 2, Alg: -999}
	if err := rp.VerifySignature(key, []byte("x"), []byte("y")); !Is(err, UnsupportedSignatureAlgorithm) {
		t.Fatalf("got %v, want UnsupportedSignatureAlgorithm", err)
	}
}

// TestVerifyAssertionWithImportedCOSEKey exercises the device.COSEKey path:
// a credential whose public key arrived through some channel other than
// this library's own C5 registration flow (SPEC_FULL.md §3 EXPANSION).
func TestVerifyAssertionWithImportedCOSEKey(t *testing.T) {
	rp, _ := NewRelyingParty("Example App", "https://app.example.com", "")
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	coseKeyBytes, err := cbor.Marshal(map[int]interface{}{1: 3, 3: -257, -1: priv.PublicKey.N.Bytes(), -2: priv.PublicKey.E})
	if err != nil {
		t.Fatalf("cbor.Marshal: %v", err)
	}
	device := &Device{
		CredentialID: []byte{0x01, 0x02},
		Algorithm:    cose.AlgorithmRS256,
		COSEKey:      coseKeyBytes,
	}

	challenge, _ := NewChallenge()
	authData := buildAuthDataBytes(t, rp.ID, 0x01, 1, nil, nil)
	cdJSON := clientDataJSON("webauthn.get", string(challenge), rp.Origin)
	clientDataHash := sha256.Sum256(cdJSON)
	signed := append(append([]byte{}, authData...), clientDataHash[:]...)
	digest := sha256.Sum256(signed)
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
	if err != nil {
		t.Fatalf("SignPKCS1v15: %v", err)
	}

	resp := &AssertionResponse{
		ID:    b64urlEncode(device.CredentialID),
		RawID: b64urlEncode(device.CredentialID),
		Type:  "public-key",
		Response: AssertionResponseInner{
			ClientDataJSON:    b64urlEncode(cdJSON),
			AuthenticatorData: b64urlEncode(authData),
			Signature:         b64urlEncode(sig),
		},
	}

	if _, err := rp.VerifyAssertion(resp, challenge, []*Device{device}); err != nil {
		t.Fatalf("VerifyAssertion: %v", err)
	}
}
