package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// InvType identifies what an inventory item refers to.
type InvType uint8

const (
	// InvSqueak announces the hash of a full squeak.
	InvSqueak InvType = iota

	// InvOffer announces that a decryption-key offer is available for a
	// squeak hash.
	InvOffer
)

// InvVect is one (type, hash) inventory item.
type InvVect struct {
	Type InvType
	Hash SqueakHash
}

// MaxInvPerMsg bounds the number of inventory items in a single inv or
// getsqueaks message.
const MaxInvPerMsg = 50000

// MsgInvPayload announces items the sender has available.
type MsgInvPayload struct {
	Items []InvVect
}

func (m *MsgInvPayload) Command() string     { return "inv" }
func (m *MsgInvPayload) MsgType() MessageType { return MsgInv }
func (m *MsgInvPayload) MaxPayloadLength() uint32 {
	return uint32(4 + MaxInvPerMsg*(1+SqueakHashSize))
}

func (m *MsgInvPayload) Encode(w io.Writer) error {
	return encodeInvItems(w, m.Items)
}

func (m *MsgInvPayload) Decode(r io.Reader, _ uint32) error {
	items, err := decodeInvItems(r)
	if err != nil {
		return err
	}
	m.Items = items
	return nil
}

// MsgGetSqueaksPayload requests the full squeaks identified by the given
// inventory items; the remote peer replies with a stream of squeak
// messages, one per resolved item.
type MsgGetSqueaksPayload struct {
	Items []InvVect
}

func (m *MsgGetSqueaksPayload) Command() string     { return "getsqueaks" }
func (m *MsgGetSqueaksPayload) MsgType() MessageType { return MsgGetSqueaks }
func (m *MsgGetSqueaksPayload) MaxPayloadLength() uint32 {
	return uint32(4 + MaxInvPerMsg*(1+SqueakHashSize))
}

func (m *MsgGetSqueaksPayload) Encode(w io.Writer) error {
	return encodeInvItems(w, m.Items)
}

func (m *MsgGetSqueaksPayload) Decode(r io.Reader, _ uint32) error {
	items, err := decodeInvItems(r)
	if err != nil {
		return err
	}
	m.Items = items
	return nil
}

func encodeInvItems(w io.Writer, items []InvVect) error {
	if len(items) > MaxInvPerMsg {
		return fmt.Errorf("inv message carries %d items, max is %d",
			len(items), MaxInvPerMsg)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(items))); err != nil {
		return err
	}
	for _, item := range items {
		if _, err := w.Write([]byte{byte(item.Type)}); err != nil {
			return err
		}
		if _, err := w.Write(item.Hash[:]); err != nil {
			return err
		}
	}
	return nil
}

func decodeInvItems(r io.Reader) ([]InvVect, error) {
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, err
	}
	if count > MaxInvPerMsg {
		return nil, fmt.Errorf("inv message claims %d items, max is %d",
			count, MaxInvPerMsg)
	}
	items := make([]InvVect, count)
	for i := range items {
		var typeBuf [1]byte
		if _, err := io.ReadFull(r, typeBuf[:]); err != nil {
			return nil, err
		}
		items[i].Type = InvType(typeBuf[0])
		if _, err := io.ReadFull(r, items[i].Hash[:]); err != nil {
			return nil, err
		}
	}
	return items, nil
}
