package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"
	"lukechampine.com/blake3"
)

// ErrBadSignature is returned by Verify when a signature does not validate
// against the claimed signer.
var ErrBadSignature = fmt.Errorf("identity: bad signature")

// Hash computes the digest of data under the requested derivator. The input
// must already be the canonical byte encoding; callers must not hash JSON.
func Hash(data []byte, derivator DigestDerivator) (DigestId, error) {
	switch derivator {
	case DigestBlake3_256:
		sum := blake3.Sum256(data)
		return DigestId{Derivator: derivator, Bytes: sum[:]}, nil
	case DigestBlake3_512:
		sum := blake3.Sum512(data)
		return DigestId{Derivator: derivator, Bytes: sum[:]}, nil
	case DigestSHA2_256:
		sum := sha256.Sum256(data)
		return DigestId{Derivator: derivator, Bytes: sum[:]}, nil
	case DigestSHA2_512:
		sum := sha512.Sum512(data)
		return DigestId{Derivator: derivator, Bytes: sum[:]}, nil
	case DigestSHA3_256:
		sum := sha3.Sum256(data)
		return DigestId{Derivator: derivator, Bytes: sum[:]}, nil
	case DigestSHA3_512:
		sum := sha3.Sum512(data)
		return DigestId{Derivator: derivator, Bytes: sum[:]}, nil
	default:
		return DigestId{}, &ErrUnsupportedDerivator{Code: string(derivator), Kind: "DigestId"}
	}
}

// PrivateKey is a keypair usable for signing under one of the supported
// derivators. Exactly one of the two key fields is populated.
type PrivateKey struct {
	derivator KeyDerivator
	ed        ed25519.PrivateKey
	secp      *secp256k1.PrivateKey
}

// GenerateKeyPair creates a fresh private key for the requested derivator.
func GenerateKeyPair(derivator KeyDerivator) (*PrivateKey, error) {
	switch derivator {
	case KeyEd25519:
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		return &PrivateKey{derivator: KeyEd25519, ed: priv}, nil
	case KeySecp256k1:
		priv, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			return nil, err
		}
		return &PrivateKey{derivator: KeySecp256k1, secp: priv}, nil
	default:
		return nil, &ErrUnsupportedDerivator{Code: string(derivator), Kind: "KeyId"}
	}
}

// Bytes returns the raw private-key material, for a host to persist
// across restarts (e.g. config's NodeKey). The encoding is derivator-
// specific (32-byte ed25519 seed, 32-byte secp256k1 scalar); it is not a
// self-describing wire identifier the way KeyId/DigestId are, and must be
// paired with its derivator (Derivator()) to round-trip.
func (k *PrivateKey) Bytes() []byte {
	switch k.derivator {
	case KeyEd25519:
		return append([]byte(nil), k.ed.Seed()...)
	case KeySecp256k1:
		return k.secp.Serialize()
	default:
		return nil
	}
}

// Derivator reports which KeyDerivator this keypair was generated under.
func (k *PrivateKey) Derivator() KeyDerivator {
	return k.derivator
}

// PrivateKeyFromBytes reconstructs a keypair from raw material previously
// returned by Bytes, under the given derivator.
func PrivateKeyFromBytes(derivator KeyDerivator, raw []byte) (*PrivateKey, error) {
	switch derivator {
	case KeyEd25519:
		if len(raw) != ed25519.SeedSize {
			return nil, fmt.Errorf("identity: ed25519 seed must be %d bytes, got %d", ed25519.SeedSize, len(raw))
		}
		return &PrivateKey{derivator: KeyEd25519, ed: ed25519.NewKeyFromSeed(raw)}, nil
	case KeySecp256k1:
		priv := secp256k1.PrivKeyFromBytes(raw)
		if priv == nil {
			return nil, fmt.Errorf("identity: invalid secp256k1 private key bytes")
		}
		return &PrivateKey{derivator: KeySecp256k1, secp: priv}, nil
	default:
		return nil, &ErrUnsupportedDerivator{Code: string(derivator), Kind: "KeyId"}
	}
}

// Public returns the KeyId for this keypair.
func (k *PrivateKey) Public() KeyId {
	switch k.derivator {
	case KeyEd25519:
		pub := k.ed.Public().(ed25519.PublicKey)
		return KeyId{Derivator: KeyEd25519, Bytes: append([]byte(nil), pub...)}
	case KeySecp256k1:
		pub := k.secp.PubKey().SerializeCompressed()
		return KeyId{Derivator: KeySecp256k1, Bytes: pub}
	default:
		return KeyId{}
	}
}

// Sign produces a SignatureId over data using this keypair.
func (k *PrivateKey) Sign(data []byte) (SignatureId, error) {
	return sign(k, data)
}

func sign(k *PrivateKey, data []byte) (SignatureId, error) {
	switch k.derivator {
	case KeyEd25519:
		sig := ed25519.Sign(k.ed, data)
		return SignatureId{Derivator: SigEd25519Sha512, Bytes: sig}, nil
	case KeySecp256k1:
		digest := sha256.Sum256(data)
		sig := ecdsa.Sign(k.secp, digest[:])
		return SignatureId{Derivator: SigECDSAsecp256k1, Bytes: sig.Serialize()}, nil
	default:
		return SignatureId{}, &ErrUnsupportedDerivator{Code: string(k.derivator), Kind: "KeyId"}
	}
}

// Verify checks that sigID is a valid signature by signer over data.
func Verify(signer KeyId, data []byte, sigID SignatureId) error {
	switch sigID.Derivator {
	case SigEd25519Sha512:
		if signer.Derivator != KeyEd25519 {
			return ErrBadSignature
		}
		if ed25519.Verify(ed25519.PublicKey(signer.Bytes), data, sigID.Bytes) {
			return nil
		}
		return ErrBadSignature
	case SigECDSAsecp256k1:
		if signer.Derivator != KeySecp256k1 {
			return ErrBadSignature
		}
		pub, err := secp256k1.ParsePubKey(signer.Bytes)
		if err != nil {
			return ErrBadSignature
		}
		sig, err := ecdsa.ParseDERSignature(sigID.Bytes)
		if err != nil {
			return ErrBadSignature
		}
		digest := sha256.Sum256(data)
		if sig.Verify(digest[:], pub) {
			return nil
		}
		return ErrBadSignature
	default:
		return &ErrUnsupportedDerivator{Code: string(sigID.Derivator), Kind: "SignatureId"}
	}
}

// Signature is a signer's commitment to a content hash at a point in
// time.
type Signature struct {
	Signer      KeyId
	ContentHash DigestId
	Timestamp   int64
	Value       SignatureId
}

// Clock is injected so tests can control the timestamp stamped onto new
// signatures; it is never consulted by contract execution.
var Clock = time.Now

// NewSignature signs contentHash.Bytes with key and stamps the current time.
func NewSignature(key *PrivateKey, contentHash DigestId) (Signature, error) {
	sigID, err := key.Sign(contentHash.Bytes)
	if err != nil {
		return Signature{}, err
	}
	return Signature{
		Signer:      key.Public(),
		ContentHash: contentHash,
		Timestamp:   Clock().UnixNano(),
		Value:       sigID,
	}, nil
}

// Verify checks the invariant that Value verifies against Signer over
// ContentHash.Bytes.
func (s Signature) Verify() error {
	return Verify(s.Signer, s.ContentHash.Bytes, s.Value)
}
