package wire

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
)

// SqueakHashSize is the length in bytes of a SqueakHash.
const SqueakHashSize = 32

// SqueakHash is the content-addressed identifier of a squeak: the
// double-SHA-256 of its serialized header fields.
type SqueakHash [SqueakHashSize]byte

// String returns the hex encoding of the hash, most-significant byte first.
func (h SqueakHash) String() string {
	return fmt.Sprintf("%x", h[:])
}

// IsZero reports whether the hash is the all-zero value. A thread root is
// marked by a nil PrevSqueakHash, not by a zero hash.
func (h SqueakHash) IsZero() bool {
	return h == SqueakHash{}
}

// BlockHeader anchors a squeak to a claimed position in a block chain. The
// core engine does not validate proof-of-work against a live chain; it only
// checks the header's internal shape before accepting a downloaded squeak.
type BlockHeader struct {
	Version        int32
	Time           uint32
	Bits           uint32
	Nonce          uint32
	HashPrevBlock  [32]byte
	HashMerkleRoot [32]byte
}

// Encode writes the block header in the canonical 80-byte layout.
func (h *BlockHeader) Encode(w io.Writer) error {
	var buf [80]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.Version))
	copy(buf[4:36], h.HashPrevBlock[:])
	copy(buf[36:68], h.HashMerkleRoot[:])
	binary.LittleEndian.PutUint32(buf[68:72], h.Time)
	binary.LittleEndian.PutUint32(buf[72:76], h.Bits)
	binary.LittleEndian.PutUint32(buf[76:80], h.Nonce)
	_, err := w.Write(buf[:])
	return err
}

// Decode reads a block header from its canonical 80-byte layout.
func (h *BlockHeader) Decode(r io.Reader) error {
	var buf [80]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}
	h.Version = int32(binary.LittleEndian.Uint32(buf[0:4]))
	copy(h.HashPrevBlock[:], buf[4:36])
	copy(h.HashMerkleRoot[:], buf[36:68])
	h.Time = binary.LittleEndian.Uint32(buf[68:72])
	h.Bits = binary.LittleEndian.Uint32(buf[72:76])
	h.Nonce = binary.LittleEndian.Uint32(buf[76:80])
	return nil
}

// Hash returns the double-SHA-256 of the header's canonical serialization.
func (h *BlockHeader) Hash() [32]byte {
	var buf bytes.Buffer
	// Encode never returns an error writing to a bytes.Buffer.
	_ = h.Encode(&buf)
	first := sha256.Sum256(buf.Bytes())
	return sha256.Sum256(first[:])
}

// Squeak is a signed, Bitcoin-block-anchored short message whose content is
// encrypted until its decryption key is revealed. DecryptionKey is nil for
// a locked squeak and 32 bytes for an unlocked one; that distinction, not a
// separate boolean, is the source of truth throughout the codebase.
type Squeak struct {
	Version           uint32
	AuthorAddress     string
	Signature         []byte
	BlockHeight       int32
	BlockHash         [32]byte
	PrevSqueakHash    *SqueakHash
	EncryptedContent  []byte
	DataKey           []byte
	IV                []byte
	Nonce             uint64
	Time              int64
	ReplyTo           *SqueakHash
	Header            BlockHeader
	DecryptionKey     []byte
}

// Unlocked reports whether this squeak carries a decryption key locally.
func (s *Squeak) Unlocked() bool {
	return len(s.DecryptionKey) == SqueakHashSize
}

// Hash returns the squeak's content-addressed SqueakHash, computed as the
// double-SHA-256 of its serialized header fields. Encrypted content, the
// data key, and the IV participate in the hash so that two squeaks with the
// same metadata but different ciphertext are distinct.
func (s *Squeak) Hash() SqueakHash {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, s.Version)
	buf.WriteString(s.AuthorAddress)
	binary.Write(&buf, binary.LittleEndian, s.BlockHeight)
	buf.Write(s.BlockHash[:])
	if s.PrevSqueakHash != nil {
		buf.Write(s.PrevSqueakHash[:])
	}
	buf.Write(s.EncryptedContent)
	buf.Write(s.DataKey)
	buf.Write(s.IV)
	binary.Write(&buf, binary.LittleEndian, s.Nonce)
	binary.Write(&buf, binary.LittleEndian, s.Time)
	if s.ReplyTo != nil {
		buf.Write(s.ReplyTo[:])
	}

	first := sha256.Sum256(buf.Bytes())
	second := sha256.Sum256(first[:])
	return SqueakHash(second)
}

// Encode writes the squeak's wire representation to w.
func (s *Squeak) Encode(w io.Writer) error {
	if err := writeVarBytes(w, []byte(s.AuthorAddress)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, s.Version); err != nil {
		return err
	}
	if err := writeVarBytes(w, s.Signature); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, s.BlockHeight); err != nil {
		return err
	}
	if _, err := w.Write(s.BlockHash[:]); err != nil {
		return err
	}
	if err := s.Header.Encode(w); err != nil {
		return err
	}
	if err := writeOptionalHash(w, s.PrevSqueakHash); err != nil {
		return err
	}
	if err := writeVarBytes(w, s.EncryptedContent); err != nil {
		return err
	}
	if err := writeVarBytes(w, s.DataKey); err != nil {
		return err
	}
	if err := writeVarBytes(w, s.IV); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, s.Nonce); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, s.Time); err != nil {
		return err
	}
	if err := writeOptionalHash(w, s.ReplyTo); err != nil {
		return err
	}
	return nil
}

// Decode reads a squeak's wire representation from r. The decryption key is
// never carried on the wire; it is only ever set locally via
// SqueakStore.SetDecryptionKey after a successful payment.
func (s *Squeak) Decode(r io.Reader) error {
	author, err := readVarBytes(r, 256)
	if err != nil {
		return fmt.Errorf("author address: %w", err)
	}
	s.AuthorAddress = string(author)

	if err := binary.Read(r, binary.LittleEndian, &s.Version); err != nil {
		return fmt.Errorf("version: %w", err)
	}
	if s.Signature, err = readVarBytes(r, 256); err != nil {
		return fmt.Errorf("signature: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &s.BlockHeight); err != nil {
		return fmt.Errorf("block height: %w", err)
	}
	if _, err := io.ReadFull(r, s.BlockHash[:]); err != nil {
		return fmt.Errorf("block hash: %w", err)
	}
	if err := s.Header.Decode(r); err != nil {
		return fmt.Errorf("header: %w", err)
	}
	if s.PrevSqueakHash, err = readOptionalHash(r); err != nil {
		return fmt.Errorf("prev squeak hash: %w", err)
	}
	if s.EncryptedContent, err = readVarBytes(r, MaxPayloadLength); err != nil {
		return fmt.Errorf("encrypted content: %w", err)
	}
	if s.DataKey, err = readVarBytes(r, 4096); err != nil {
		return fmt.Errorf("data key: %w", err)
	}
	if s.IV, err = readVarBytes(r, 4096); err != nil {
		return fmt.Errorf("iv: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &s.Nonce); err != nil {
		return fmt.Errorf("nonce: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &s.Time); err != nil {
		return fmt.Errorf("time: %w", err)
	}
	if s.ReplyTo, err = readOptionalHash(r); err != nil {
		return fmt.Errorf("reply to: %w", err)
	}
	return nil
}

func writeOptionalHash(w io.Writer, h *SqueakHash) error {
	if h == nil {
		_, err := w.Write([]byte{0})
		return err
	}
	if _, err := w.Write([]byte{1}); err != nil {
		return err
	}
	_, err := w.Write(h[:])
	return err
}

func readOptionalHash(r io.Reader) (*SqueakHash, error) {
	var present [1]byte
	if _, err := io.ReadFull(r, present[:]); err != nil {
		return nil, err
	}
	if present[0] == 0 {
		return nil, nil
	}
	var h SqueakHash
	if _, err := io.ReadFull(r, h[:]); err != nil {
		return nil, err
	}
	return &h, nil
}

func writeVarBytes(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readVarBytes(r io.Reader, max uint32) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return nil, err
	}
	if length > max {
		return nil, fmt.Errorf("length %d exceeds max %d", length, max)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
