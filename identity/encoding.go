package identity

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Encoder builds the canonical byte encoding used for every structure that is
// hashed or signed. Field order is fixed by the caller; integers are
// little-endian fixed-width; strings and byte slices are length-prefixed
// with a uint32; optional fields are prefixed by a presence byte. This
// encoding is hand-rolled rather than delegated to a general serializer
// (encoding/json, encoding/gob, RLP) because callers need a single
// deterministic layout that must never be confused with JSON — see
// DESIGN.md.
type Encoder struct {
	buf bytes.Buffer
}

// NewEncoder returns an empty Encoder.
func NewEncoder() *Encoder { return &Encoder{} }

// Bytes returns the accumulated canonical encoding.
func (e *Encoder) Bytes() []byte { return e.buf.Bytes() }

// WriteUint8 appends a single byte.
func (e *Encoder) WriteUint8(v uint8) { e.buf.WriteByte(v) }

// WriteBool appends a presence/boolean byte (0 or 1).
func (e *Encoder) WriteBool(v bool) {
	if v {
		e.buf.WriteByte(1)
	} else {
		e.buf.WriteByte(0)
	}
}

// WriteUint32 appends a little-endian fixed-width uint32.
func (e *Encoder) WriteUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.buf.Write(b[:])
}

// WriteUint64 appends a little-endian fixed-width uint64.
func (e *Encoder) WriteUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	e.buf.Write(b[:])
}

// WriteInt64 appends a little-endian fixed-width int64.
func (e *Encoder) WriteInt64(v int64) { e.WriteUint64(uint64(v)) }

// WriteBytes appends a length-prefixed byte slice.
func (e *Encoder) WriteBytes(v []byte) {
	e.WriteUint32(uint32(len(v)))
	e.buf.Write(v)
}

// WriteString appends a length-prefixed UTF-8 string.
func (e *Encoder) WriteString(v string) { e.WriteBytes([]byte(v)) }

// WriteOptionalBytes appends a presence byte followed by the bytes when
// present.
func (e *Encoder) WriteOptionalBytes(present bool, v []byte) {
	e.WriteBool(present)
	if present {
		e.WriteBytes(v)
	}
}

// Decoder reads back a canonical encoding produced by Encoder.
type Decoder struct {
	r   *bytes.Reader
	err error
}

// NewDecoder wraps raw bytes for sequential reads.
func NewDecoder(data []byte) *Decoder { return &Decoder{r: bytes.NewReader(data)} }

// Err returns the first error encountered, if any.
func (d *Decoder) Err() error { return d.err }

func (d *Decoder) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

// ReadUint8 reads a single byte.
func (d *Decoder) ReadUint8() uint8 {
	if d.err != nil {
		return 0
	}
	b, err := d.r.ReadByte()
	if err != nil {
		d.fail(err)
		return 0
	}
	return b
}

// ReadBool reads a presence/boolean byte.
func (d *Decoder) ReadBool() bool { return d.ReadUint8() != 0 }

func (d *Decoder) readFixed(n int) []byte {
	if d.err != nil {
		return nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(d.r, b); err != nil {
		d.fail(err)
		return nil
	}
	return b
}

// ReadUint32 reads a little-endian fixed-width uint32.
func (d *Decoder) ReadUint32() uint32 {
	b := d.readFixed(4)
	if d.err != nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// ReadUint64 reads a little-endian fixed-width uint64.
func (d *Decoder) ReadUint64() uint64 {
	b := d.readFixed(8)
	if d.err != nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// ReadInt64 reads a little-endian fixed-width int64.
func (d *Decoder) ReadInt64() int64 { return int64(d.ReadUint64()) }

// ReadBytes reads a length-prefixed byte slice.
func (d *Decoder) ReadBytes() []byte {
	n := d.ReadUint32()
	if d.err != nil {
		return nil
	}
	const maxLen = 64 << 20
	if n > maxLen {
		d.fail(fmt.Errorf("identity: encoded length %d exceeds maximum", n))
		return nil
	}
	return d.readFixed(int(n))
}

// ReadString reads a length-prefixed UTF-8 string.
func (d *Decoder) ReadString() string { return string(d.ReadBytes()) }

// ReadOptionalBytes reads a presence byte followed by the bytes when
// present.
func (d *Decoder) ReadOptionalBytes() (bool, []byte) {
	present := d.ReadBool()
	if !present || d.err != nil {
		return present, nil
	}
	return present, d.ReadBytes()
}

// Remaining reports whether unconsumed bytes remain.
func (d *Decoder) Remaining() int { return d.r.Len() }

// EncodeKeyId writes a KeyId as derivator code + length-prefixed bytes.
func EncodeKeyId(e *Encoder, k KeyId) {
	e.WriteString(string(k.Derivator))
	e.WriteBytes(k.Bytes)
}

// DecodeKeyId reads back a KeyId written by EncodeKeyId.
func DecodeKeyId(d *Decoder) KeyId {
	derivator := d.ReadString()
	b := d.ReadBytes()
	return KeyId{Derivator: KeyDerivator(derivator), Bytes: b}
}

// EncodeDigestId writes a DigestId as derivator code + length-prefixed bytes.
func EncodeDigestId(e *Encoder, digest DigestId) {
	e.WriteString(string(digest.Derivator))
	e.WriteBytes(digest.Bytes)
}

// DecodeDigestId reads back a DigestId written by EncodeDigestId.
func DecodeDigestId(d *Decoder) DigestId {
	derivator := d.ReadString()
	b := d.ReadBytes()
	return DigestId{Derivator: DigestDerivator(derivator), Bytes: b}
}

// EncodeSignatureId writes a SignatureId as derivator code + length-prefixed
// bytes.
func EncodeSignatureId(e *Encoder, sig SignatureId) {
	e.WriteString(string(sig.Derivator))
	e.WriteBytes(sig.Bytes)
}

// DecodeSignatureId reads back a SignatureId written by EncodeSignatureId.
func DecodeSignatureId(d *Decoder) SignatureId {
	derivator := d.ReadString()
	b := d.ReadBytes()
	return SignatureId{Derivator: SignatureDerivator(derivator), Bytes: b}
}

// EncodeSignature writes a full Signature structure.
func EncodeSignature(e *Encoder, s Signature) {
	EncodeKeyId(e, s.Signer)
	EncodeDigestId(e, s.ContentHash)
	e.WriteInt64(s.Timestamp)
	EncodeSignatureId(e, s.Value)
}

// DecodeSignature reads back a Signature written by EncodeSignature.
func DecodeSignature(d *Decoder) Signature {
	signer := DecodeKeyId(d)
	hash := DecodeDigestId(d)
	ts := d.ReadInt64()
	val := DecodeSignatureId(d)
	return Signature{Signer: signer, ContentHash: hash, Timestamp: ts, Value: val}
}
