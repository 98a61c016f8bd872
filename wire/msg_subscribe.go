package wire

import (
	"encoding/binary"
	"io"
)

// SubscribeFilterType distinguishes the kinds of filter a remote peer may
// subscribe to, mirroring DownloadCriteria's tagged variants.
type SubscribeFilterType uint8

const (
	// FilterHash subscribes to updates for a single squeak hash.
	FilterHash SubscribeFilterType = iota

	// FilterRange subscribes to updates for squeaks in a block range
	// from a set of followed addresses.
	FilterRange
)

// SubscribeFilter describes what a subscribe message is asking to follow.
type SubscribeFilter struct {
	Type            SubscribeFilterType
	SqueakHash       SqueakHash
	MinBlock         int32
	MaxBlock         int32
	FollowAddresses  []string
}

// MsgSubscribePayload opens a subscription on the remote peer for updates
// matching Filter.
type MsgSubscribePayload struct {
	Filter SubscribeFilter
}

func (m *MsgSubscribePayload) Command() string         { return "subscribe" }
func (m *MsgSubscribePayload) MsgType() MessageType     { return MsgSubscribe }
func (m *MsgSubscribePayload) MaxPayloadLength() uint32 { return 16384 }

func (m *MsgSubscribePayload) Encode(w io.Writer) error {
	f := &m.Filter
	if _, err := w.Write([]byte{byte(f.Type)}); err != nil {
		return err
	}
	if _, err := w.Write(f.SqueakHash[:]); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, f.MinBlock); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, f.MaxBlock); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(f.FollowAddresses))); err != nil {
		return err
	}
	for _, addr := range f.FollowAddresses {
		if err := writeVarBytes(w, []byte(addr)); err != nil {
			return err
		}
	}
	return nil
}

func (m *MsgSubscribePayload) Decode(r io.Reader, _ uint32) error {
	f := &m.Filter
	var typeBuf [1]byte
	if _, err := io.ReadFull(r, typeBuf[:]); err != nil {
		return err
	}
	f.Type = SubscribeFilterType(typeBuf[0])
	if _, err := io.ReadFull(r, f.SqueakHash[:]); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &f.MinBlock); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &f.MaxBlock); err != nil {
		return err
	}
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return err
	}
	if count > 10000 {
		count = 10000
	}
	f.FollowAddresses = make([]string, count)
	for i := range f.FollowAddresses {
		addr, err := readVarBytes(r, 256)
		if err != nil {
			return err
		}
		f.FollowAddresses[i] = string(addr)
	}
	return nil
}

// MsgUnsubscribePayload closes a previously opened subscription.
type MsgUnsubscribePayload struct {
	Filter SubscribeFilter
}

func (m *MsgUnsubscribePayload) Command() string         { return "unsubscribe" }
func (m *MsgUnsubscribePayload) MsgType() MessageType     { return MsgUnsubscribe }
func (m *MsgUnsubscribePayload) MaxPayloadLength() uint32 { return 16384 }

func (m *MsgUnsubscribePayload) Encode(w io.Writer) error {
	sub := &MsgSubscribePayload{Filter: m.Filter}
	return sub.Encode(w)
}

func (m *MsgUnsubscribePayload) Decode(r io.Reader, payloadLen uint32) error {
	var sub MsgSubscribePayload
	if err := sub.Decode(r, payloadLen); err != nil {
		return err
	}
	m.Filter = sub.Filter
	return nil
}
