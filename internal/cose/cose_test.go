package cose

import (
	"bytes"
	"os"
	"testing"

	"github.com/fxamacker/cbor/v2"
)

// es256Fixture is a COSE_Key map shaped like RFC 8152 §8.1's ES256 example
// (kty=EC2, alg=ES256, crv=P-256, with 32-byte x/y coordinates), built with
// the same int-keyed map an authenticator emits on the wire.
func es256Fixture(x, y []byte) []byte {
	m := map[int]interface{}{
		1:  ktyEC2,
		3:  int(AlgorithmES256),
		-1: CurveP256,
		-2: x,
		-3: y,
	}
	b, err := cbor.Marshal(m)
	if err != nil {
		panic(err)
	}
	return b
}

func bytesOf(start byte, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = start + byte(i)
	}
	return b
}

func TestDecodeES256(t *testing.T) {
	x := bytesOf(1, 32)
	y := bytesOf(33, 32)
	raw := es256Fixture(x, y)

	key, n, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n != len(raw) {
		t.Errorf("consumed %d bytes, want %d", n, len(raw))
	}
	if key.Kty != ktyEC2 || key.Alg != AlgorithmES256 || key.Curve != CurveP256 {
		t.Fatalf("unexpected key: %+v", key)
	}
	if !bytes.Equal(key.X, x) || !bytes.Equal(key.Y, y) {
		t.Fatalf("x/y mismatch: got x=%x y=%x", key.X, key.Y)
	}

	raw2, err := key.RawUncompressedPoint()
	if err != nil {
		t.Fatalf("RawUncompressedPoint: %v", err)
	}
	if len(raw2) != 65 || raw2[0] != 0x04 {
		t.Fatalf("bad uncompressed point: %x", raw2)
	}
	if !bytes.Equal(raw2[1:33], x) || !bytes.Equal(raw2[33:], y) {
		t.Fatalf("uncompressed point doesn't match x/y")
	}
}

func TestDecodeConsumedLengthWithTrailingBytes(t *testing.T) {
	x := bytesOf(1, 32)
	y := bytesOf(33, 32)
	raw := es256Fixture(x, y)
	withTrailer := append(append([]byte{}, raw...), 0xDE, 0xAD, 0xBE, 0xEF)

	_, n, err := Decode(withTrailer)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n != len(raw) {
		t.Fatalf("consumed %d bytes, want %d (should stop at map boundary)", n, len(raw))
	}
}

func TestDecodeMissingCrv(t *testing.T) {
	m := map[int]interface{}{
		1: ktyEC2,
		3: int(AlgorithmES256),
	}
	b, _ := cbor.Marshal(m)
	if _, _, err := Decode(b); err == nil {
		t.Fatal("expected error for missing crv")
	}
}

func TestDecodeUnknownKty(t *testing.T) {
	m := map[int]interface{}{
		1: 99,
		3: int(AlgorithmES256),
	}
	b, _ := cbor.Marshal(m)
	if _, _, err := Decode(b); err == nil {
		t.Fatal("expected error for unknown kty")
	}
}

func TestDecodeWrongCurveForES256(t *testing.T) {
	m := map[int]interface{}{
		1:  ktyEC2,
		3:  int(AlgorithmES256),
		-1: CurveP384,
		-2: bytesOf(1, 48),
		-3: bytesOf(49, 48),
	}
	b, _ := cbor.Marshal(m)
	if _, _, err := Decode(b); err == nil {
		t.Fatal("expected error for ES256 with non-P256 curve")
	}
}

func TestECDSAPublicKeyOnCurve(t *testing.T) {
	// A known P-256 point: the base point G.
	gx := []byte{0x6b, 0x17, 0xd1, 0xf2, 0xe1, 0x2c, 0x42, 0x47, 0xf8, 0xbc, 0xe6, 0xe5, 0x63, 0xa4, 0x40, 0xf2, 0x77, 0x03, 0x7d, 0x81, 0x2d, 0xeb, 0x33, 0xa0, 0xf4, 0xa1, 0x39, 0x45, 0xd8, 0x98, 0xc2, 0x96}
	gy := []byte{0x4f, 0xe3, 0x42, 0xe2, 0xfe, 0x1a, 0x7f, 0x9b, 0x8e, 0xe7, 0xeb, 0x4a, 0x7c, 0x0f, 0x9e, 0x16, 0x2b, 0xce, 0x33, 0x57, 0x6b, 0x31, 0x5e, 0xce, 0xcb, 0xb6, 0x40, 0x68, 0x37, 0xbf, 0x51, 0xf5}
	key, _, err := Decode(es256Fixture(gx, gy))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	pub, err := key.ECDSAPublicKey()
	if err != nil {
		t.Fatalf("ECDSAPublicKey: %v", err)
	}
	if pub.X.BitLen() == 0 || pub.Y.BitLen() == 0 {
		t.Fatal("unexpected zero coordinate")
	}
}

// TestDecodeGoldenES256Vector decodes testdata/cose_key_es256.cbor, a frozen
// COSE_Key (kty=EC2, alg=ES256, crv=P-256) in the RFC 8152 §7/§13.1 wire
// encoding, pinned as raw bytes rather than built fresh by es256Fixture so a
// change to the encoding this package expects to read shows up as a diff
// against a committed vector, not just against its own generator.
func TestDecodeGoldenES256Vector(t *testing.T) {
	raw, err := os.ReadFile("../../testdata/cose_key_es256.cbor")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	key, n, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n != len(raw) {
		t.Errorf("consumed %d bytes, want %d", n, len(raw))
	}
	if key.Kty != ktyEC2 || key.Alg != AlgorithmES256 || key.Curve != CurveP256 {
		t.Fatalf("unexpected key: %+v", key)
	}
	if want := bytesOf(1, 32); !bytes.Equal(key.X, want) {
		t.Errorf("X = %x, want %x", key.X, want)
	}
	if want := bytesOf(33, 32); !bytes.Equal(key.Y, want) {
		t.Errorf("Y = %x, want %x", key.Y, want)
	}
}

func TestRSAKey(t *testing.T) {
	n := bytesOf(1, 256)
	m := map[int]interface{}{
		1:  3, // RSA
		3:  int(AlgorithmRS256),
		-1: n,
		-2: 65537,
	}
	b, _ := cbor.Marshal(m)
	key, _, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	pub, err := key.RSAPublicKey()
	if err != nil {
		t.Fatalf("RSAPublicKey: %v", err)
	}
	if pub.E != 65537 {
		t.Errorf("E = %d, want 65537", pub.E)
	}
}
