// Package cose decodes COSE_Key maps (RFC 8152 §7) as they appear embedded
// in WebAuthn attested credential data and exports the ANSI X9.62
// uncompressed form of EC2 public keys.
package cose

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"
)

// Algorithm is a COSE algorithm identifier (RFC 8152 §8, IANA COSE registry).
type Algorithm int

// Algorithms recognized by this package. Only ES256 is required to be fully
// verifiable elsewhere in this module; the others are decoded so that keys
// imported from outside this library's own registration flow can still be
// inspected.
const (
	AlgorithmES256 Algorithm = -7
	AlgorithmEdDSA Algorithm = -8
	AlgorithmES384 Algorithm = -35
	AlgorithmES512 Algorithm = -36
	AlgorithmRS256 Algorithm = -257
)

// COSE key types (RFC 8152 §13).
const (
	ktyOKP = 1
	ktyEC2 = 2
	ktyRSA = 3
)

// COSE elliptic curve identifiers (RFC 8152 §13.1).
const (
	CurveP256   = 1
	CurveP384   = 2
	CurveP521   = 3
	CurveEd25519 = 6
)

var (
	// ErrMissingField indicates a required COSE_Key label is absent.
	ErrMissingField = errors.New("cose: missing required field")
	// ErrInvalidType indicates a COSE_Key label decoded to the wrong CBOR type.
	ErrInvalidType = errors.New("cose: invalid field type")
	// ErrUnknownKty indicates an unrecognized or unsupported key type.
	ErrUnknownKty = errors.New("cose: unknown or unsupported key type")
	// ErrUnsupportedAlgorithm indicates an alg/crv combination this package can't verify.
	ErrUnsupportedAlgorithm = errors.New("cose: unsupported algorithm")
	// ErrPublicKeyMissing indicates the key carries no usable public key material.
	ErrPublicKeyMissing = errors.New("cose: public key missing")
)

// Key is a decoded COSE_Key value. Only the fields relevant to the key's
// kty are populated.
type Key struct {
	Kty   int
	Alg   Algorithm
	Curve int

	// EC2 (kty=2) and OKP (kty=1) fields.
	X, Y []byte
	D    []byte

	// RSA (kty=3) fields.
	N []byte
	E int
}

// Decode parses a single CBOR-encoded COSE_Key map from the start of b. It
// returns the decoded key and the number of bytes of b that were consumed,
// so that callers decoding a larger structure (such as WebAuthn attested
// credential data, which has no separate length prefix for the embedded
// COSE_Key) can continue parsing immediately after it.
func Decode(b []byte) (*Key, int, error) {
	dec := cbor.NewDecoder(bytes.NewReader(b))
	var raw map[int]cbor.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidType, err)
	}
	n := dec.NumBytesRead()

	kty, err := decodeIntField(raw, 1, true)
	if err != nil {
		return nil, 0, err
	}
	alg, err := decodeIntField(raw, 3, true)
	if err != nil {
		return nil, 0, err
	}

	key := &Key{Kty: kty, Alg: Algorithm(alg)}

	switch kty {
	case ktyEC2:
		crv, err := decodeIntField(raw, -1, true)
		if err != nil {
			return nil, 0, err
		}
		key.Curve = crv
		if key.Alg == AlgorithmES256 && crv != CurveP256 {
			return nil, 0, fmt.Errorf("ES256 requires P-256, got curve %d: %w", crv, ErrUnsupportedAlgorithm)
		}
		if key.X, err = decodeBytesField(raw, -2); err != nil {
			return nil, 0, err
		}
		if key.Y, err = decodeBytesField(raw, -3); err != nil {
			return nil, 0, err
		}
		if key.D, err = decodeBytesField(raw, -4); err != nil {
			return nil, 0, err
		}
		if len(key.D) == 0 && (len(key.X) == 0 || len(key.Y) == 0) {
			return nil, 0, fmt.Errorf("EC2 key needs (x,y) or d: %w", ErrMissingField)
		}
	case ktyOKP:
		crv, err := decodeIntField(raw, -1, true)
		if err != nil {
			return nil, 0, err
		}
		key.Curve = crv
		if key.X, err = decodeBytesField(raw, -2); err != nil {
			return nil, 0, err
		}
		if key.D, err = decodeBytesField(raw, -4); err != nil {
			return nil, 0, err
		}
		if len(key.D) == 0 && len(key.X) == 0 {
			return nil, 0, fmt.Errorf("OKP key needs x or d: %w", ErrMissingField)
		}
	case ktyRSA:
		if key.N, err = decodeBytesField(raw, -1); err != nil {
			return nil, 0, err
		}
		if len(key.N) == 0 {
			return nil, 0, fmt.Errorf("n: %w", ErrMissingField)
		}
		e, err := decodeIntField(raw, -2, true)
		if err != nil {
			return nil, 0, err
		}
		key.E = e
	default:
		return nil, 0, fmt.Errorf("kty=%d: %w", kty, ErrUnknownKty)
	}

	return key, n, nil
}

func decodeIntField(raw map[int]cbor.RawMessage, label int, required bool) (int, error) {
	v, ok := raw[label]
	if !ok {
		if required {
			return 0, fmt.Errorf("label %d: %w", label, ErrMissingField)
		}
		return 0, nil
	}
	var n int
	if err := cbor.Unmarshal(v, &n); err != nil {
		return 0, fmt.Errorf("label %d: %w", label, ErrInvalidType)
	}
	return n, nil
}

func decodeBytesField(raw map[int]cbor.RawMessage, label int) ([]byte, error) {
	v, ok := raw[label]
	if !ok {
		return nil, nil
	}
	var b []byte
	if err := cbor.Unmarshal(v, &b); err != nil {
		return nil, fmt.Errorf("label %d: %w", label, ErrInvalidType)
	}
	return b, nil
}

// RawUncompressedPoint returns the ANSI X9.62 uncompressed encoding
// (0x04 || x || y, 65 bytes) of an EC2 public key.
func (k *Key) RawUncompressedPoint() ([]byte, error) {
	if k.Kty != ktyEC2 || len(k.X) != 32 || len(k.Y) != 32 {
		return nil, ErrPublicKeyMissing
	}
	out := make([]byte, 65)
	out[0] = 0x04
	copy(out[1:33], k.X)
	copy(out[33:], k.Y)
	return out, nil
}

// ECDSAPublicKey returns the key as a *ecdsa.PublicKey, validating that the
// point lies on the claimed curve.
func (k *Key) ECDSAPublicKey() (*ecdsa.PublicKey, error) {
	if k.Kty != ktyEC2 || len(k.X) == 0 || len(k.Y) == 0 {
		return nil, ErrPublicKeyMissing
	}
	curve, err := ellipticCurve(k.Curve)
	if err != nil {
		return nil, err
	}
	pub := &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(k.X),
		Y:     new(big.Int).SetBytes(k.Y),
	}
	if !curve.IsOnCurve(pub.X, pub.Y) {
		return nil, fmt.Errorf("point not on curve: %w", ErrUnsupportedAlgorithm)
	}
	return pub, nil
}

// RSAPublicKey returns the key as a *rsa.PublicKey.
func (k *Key) RSAPublicKey() (*rsa.PublicKey, error) {
	if k.Kty != ktyRSA || len(k.N) == 0 {
		return nil, ErrPublicKeyMissing
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(k.N), E: k.E}, nil
}

// Ed25519PublicKey returns the key as an ed25519.PublicKey.
func (k *Key) Ed25519PublicKey() (ed25519.PublicKey, error) {
	if k.Kty != ktyOKP || k.Curve != CurveEd25519 || len(k.X) != ed25519.PublicKeySize {
		return nil, ErrPublicKeyMissing
	}
	return ed25519.PublicKey(k.X), nil
}

// KeyFromUncompressedPoint rebuilds the EC2/ES256 Key that
// RawUncompressedPoint flattened, for callers (this module's own device
// store) that only persist the raw point rather than the full COSE_Key.
func KeyFromUncompressedPoint(raw []byte) (*Key, error) {
	if len(raw) != 65 || raw[0] != 0x04 {
		return nil, fmt.Errorf("not a 65-byte X9.62 uncompressed point: %w", ErrInvalidType)
	}
	return &Key{
		Kty:   ktyEC2,
		Alg:   AlgorithmES256,
		Curve: CurveP256,
		X:     append([]byte{}, raw[1:33]...),
		Y:     append([]byte{}, raw[33:65]...),
	}, nil
}

func ellipticCurve(crv int) (elliptic.Curve, error) {
	switch crv {
	case CurveP256:
		return elliptic.P256(), nil
	case CurveP384:
		return elliptic.P384(), nil
	case CurveP521:
		return elliptic.P521(), nil
	default:
		return nil, fmt.Errorf("curve %d: %w", crv, ErrUnsupportedAlgorithm)
	}
}
