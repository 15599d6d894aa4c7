// Package identity implements the node's identifier and signature kernel:
// typed hashes, public keys and signatures rendered as self-describing
// strings, plus the canonical byte encoding used for hashing and signing.
package identity

import (
	"encoding/base64"
	"fmt"
)

// DigestDerivator names a supported hash algorithm for a DigestId.
type DigestDerivator string

// KeyDerivator names a supported public-key algorithm for a KeyId.
type KeyDerivator string

// SignatureDerivator names a supported signature algorithm for a SignatureId.
type SignatureDerivator string

const (
	DigestBlake3_256 DigestDerivator = "J"
	DigestBlake3_512 DigestDerivator = "0J"
	DigestSHA2_256   DigestDerivator = "L"
	DigestSHA2_512   DigestDerivator = "0L"
	DigestSHA3_256   DigestDerivator = "M"
	DigestSHA3_512   DigestDerivator = "0M"

	KeyEd25519   KeyDerivator = "E"
	KeySecp256k1 KeyDerivator = "S"

	SigEd25519Sha512    SignatureDerivator = "SE"
	SigECDSAsecp256k1   SignatureDerivator = "SS"
)

// DigestId is a self-describing hash: a derivator code followed by the raw
// digest bytes. Two DigestId values are equal iff both the derivator and the
// bytes match.
type DigestId struct {
	Derivator DigestDerivator
	Bytes     []byte
}

// KeyId is a self-describing public key.
type KeyId struct {
	Derivator KeyDerivator
	Bytes     []byte
}

// SignatureId is a self-describing signature value.
type SignatureId struct {
	Derivator SignatureDerivator
	Bytes     []byte
}

// IsZero reports whether d is the unset DigestId, used as the Genesis
// event's prev_event_hash sentinel.
func (d DigestId) IsZero() bool { return d.Derivator == "" && len(d.Bytes) == 0 }

// Equal reports whether two DigestId values describe the same digest.
func (d DigestId) Equal(other DigestId) bool {
	return d.Derivator == other.Derivator && string(d.Bytes) == string(other.Bytes)
}

// String renders the identifier in its wire form: <code><base64url-no-pad>.
func (d DigestId) String() string {
	return string(d.Derivator) + base64.RawURLEncoding.EncodeToString(d.Bytes)
}

// String renders the key identifier in its wire form.
func (k KeyId) String() string {
	return string(k.Derivator) + base64.RawURLEncoding.EncodeToString(k.Bytes)
}

// Equal reports whether two KeyId values describe the same public key.
func (k KeyId) Equal(other KeyId) bool {
	return k.Derivator == other.Derivator && string(k.Bytes) == string(other.Bytes)
}

// IsZero reports whether k carries no key material.
func (k KeyId) IsZero() bool { return k.Derivator == "" && len(k.Bytes) == 0 }

// String renders the signature identifier in its wire form.
func (s SignatureId) String() string {
	return string(s.Derivator) + base64.RawURLEncoding.EncodeToString(s.Bytes)
}

// ErrBadEncoding is returned when a wire-format identifier cannot be parsed.
type ErrBadEncoding struct {
	Input string
	Kind  string
}

func (e *ErrBadEncoding) Error() string {
	return fmt.Sprintf("identity: bad %s encoding %q", e.Kind, e.Input)
}

// ErrUnsupportedDerivator is returned when an identifier names a derivator
// code this build does not implement.
type ErrUnsupportedDerivator struct {
	Code string
	Kind string
}

func (e *ErrUnsupportedDerivator) Error() string {
	return fmt.Sprintf("identity: unsupported %s derivator %q", e.Kind, e.Code)
}

// splitCode peels the derivator code off the front of s. Two-character
// codes are recognized by their literal first-two-byte prefix; everything
// else is a single-character code.
func splitCode(s string, twoByte map[string]bool) (code, rest string, ok bool) {
	if len(s) < 1 {
		return "", "", false
	}
	if len(s) >= 2 && twoByte[s[:2]] {
		return s[:2], s[2:], true
	}
	return s[:1], s[1:], true
}

func decodeTail(rest string) ([]byte, error) {
	b, err := base64.RawURLEncoding.DecodeString(rest)
	if err != nil {
		return nil, err
	}
	return b, nil
}

var digestTwoByte = map[string]bool{"0J": true, "0L": true, "0M": true}

// ParseDigestId parses the wire form of a DigestId.
func ParseDigestId(s string) (DigestId, error) {
	code, rest, ok := splitCode(s, digestTwoByte)
	if !ok {
		return DigestId{}, &ErrBadEncoding{Input: s, Kind: "DigestId"}
	}
	switch DigestDerivator(code) {
	case DigestBlake3_256, DigestBlake3_512, DigestSHA2_256, DigestSHA2_512, DigestSHA3_256, DigestSHA3_512:
		b, err := decodeTail(rest)
		if err != nil {
			return DigestId{}, &ErrBadEncoding{Input: s, Kind: "DigestId"}
		}
		return DigestId{Derivator: DigestDerivator(code), Bytes: b}, nil
	default:
		return DigestId{}, &ErrUnsupportedDerivator{Code: code, Kind: "DigestId"}
	}
}

// ParseKeyId parses the wire form of a KeyId.
func ParseKeyId(s string) (KeyId, error) {
	code, rest, ok := splitCode(s, nil)
	if !ok {
		return KeyId{}, &ErrBadEncoding{Input: s, Kind: "KeyId"}
	}
	switch KeyDerivator(code) {
	case KeyEd25519, KeySecp256k1:
		b, err := decodeTail(rest)
		if err != nil {
			return KeyId{}, &ErrBadEncoding{Input: s, Kind: "KeyId"}
		}
		return KeyId{Derivator: KeyDerivator(code), Bytes: b}, nil
	default:
		return KeyId{}, &ErrUnsupportedDerivator{Code: code, Kind: "KeyId"}
	}
}

var sigTwoByte = map[string]bool{"SE": true, "SS": true}

// ParseSignatureId parses the wire form of a SignatureId.
func ParseSignatureId(s string) (SignatureId, error) {
	code, rest, ok := splitCode(s, sigTwoByte)
	if !ok {
		return SignatureId{}, &ErrBadEncoding{Input: s, Kind: "SignatureId"}
	}
	switch SignatureDerivator(code) {
	case SigEd25519Sha512, SigECDSAsecp256k1:
		b, err := decodeTail(rest)
		if err != nil {
			return SignatureId{}, &ErrBadEncoding{Input: s, Kind: "SignatureId"}
		}
		return SignatureId{Derivator: SignatureDerivator(code), Bytes: b}, nil
	default:
		return SignatureId{}, &ErrUnsupportedDerivator{Code: code, Kind: "SignatureId"}
	}
}
