package authdata

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"testing"

	"github.com/fxamacker/cbor/v2"
)

func coseES256(x, y []byte) []byte {
	m := map[int]interface{}{
		1:  2,  // EC2
		3:  -7, // ES256
		-1: 1,  // P-256
		-2: x,
		-3: y,
	}
	b, err := cbor.Marshal(m)
	if err != nil {
		panic(err)
	}
	return b
}

func buildAuthData(rpID string, flags Flags, counter uint32, credID []byte, coseKey []byte) []byte {
	h := sha256.Sum256([]byte(rpID))
	var buf bytes.Buffer
	buf.Write(h[:])
	buf.WriteByte(byte(flags))
	var c [4]byte
	binary.BigEndian.PutUint32(c[:], counter)
	buf.Write(c[:])
	if flags.AttestedCredentialData() {
		buf.Write(make([]byte, 16)) // AAGUID
		var l [2]byte
		binary.BigEndian.PutUint16(l[:], uint16(len(credID)))
		buf.Write(l[:])
		buf.Write(credID)
		buf.Write(coseKey)
	}
	return buf.Bytes()
}

func TestDecodeNoAttestedCredential(t *testing.T) {
	raw := buildAuthData("example.com", FlagUserPresent, 7, nil, nil)
	ad, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ad.SignCount != 7 || !ad.Flags.UserPresent() || ad.AttestedCredential != nil {
		t.Fatalf("unexpected result: %+v", ad)
	}
	if err := ad.Validate("example.com"); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestDecodeWithAttestedCredential(t *testing.T) {
	credID := []byte{1, 2, 3, 4}
	key := coseES256(make([]byte, 32), make([]byte, 32))
	raw := buildAuthData("example.com", FlagUserPresent|FlagAttestedCredentialData, 1, credID, key)
	ad, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ad.AttestedCredential == nil {
		t.Fatal("expected attested credential")
	}
	if !bytes.Equal(ad.AttestedCredential.CredentialID, credID) {
		t.Fatalf("credentialId mismatch: %x", ad.AttestedCredential.CredentialID)
	}
}

func TestDecodeTooShort(t *testing.T) {
	if _, err := Decode(make([]byte, 10)); err == nil {
		t.Fatal("expected error")
	}
}

func TestDecodeTrailingBytesRejected(t *testing.T) {
	raw := buildAuthData("example.com", FlagUserPresent, 0, nil, nil)
	raw = append(raw, 0x00)
	if _, err := Decode(raw); err == nil {
		t.Fatal("expected error for trailing byte with AT=0")
	}
}

func TestDecodeExtensionDataUnsupported(t *testing.T) {
	raw := buildAuthData("example.com", FlagUserPresent|FlagExtensionData, 0, nil, nil)
	raw = append(raw, 0xA0) // empty CBOR map as a stand-in for extension data
	if _, err := Decode(raw); err != ErrUnsupportedExtensions {
		t.Fatalf("got %v, want ErrUnsupportedExtensions", err)
	}
}

func TestValidateRPIDHashMismatch(t *testing.T) {
	raw := buildAuthData("example.com", FlagUserPresent, 0, nil, nil)
	ad, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if err := ad.Validate("other.example.com"); err != ErrRPIDHashMismatch {
		t.Fatalf("got %v, want ErrRPIDHashMismatch", err)
	}
}

func TestValidateUserNotPresent(t *testing.T) {
	raw := buildAuthData("example.com", 0, 0, nil, nil)
	ad, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if err := ad.Validate("example.com"); err != ErrUserNotPresent {
		t.Fatalf("got %v, want ErrUserNotPresent", err)
	}
}

func TestDecodeInvalidCredentialIDLength(t *testing.T) {
	raw := buildAuthData("example.com", FlagUserPresent|FlagAttestedCredentialData, 0, nil, nil)
	// Overwrite the 2-byte length field (at offset 37+16) with an out-of-range value.
	binary.BigEndian.PutUint16(raw[53:55], 2000)
	if _, err := Decode(raw); err == nil {
		t.Fatal("expected error for oversized credentialId length")
	}
}
