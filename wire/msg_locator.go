package wire

import (
	"encoding/binary"
	"io"
)

// MaxLocatorAddresses bounds the number of author addresses carried in a
// locator query or response, mirroring MaxAddrPerMsg's role for addr.
const MaxLocatorAddresses = 10000

// MsgGetSqueakLocatorPayload asks a peer which squeak hashes it has that
// match the given criteria, without requesting the squeaks themselves. It
// plays the role bitcoin's getheaders plays for block locators: a cheap,
// range-bounded query the requester resolves against its own store before
// asking for full objects.
type MsgGetSqueakLocatorPayload struct {
	FollowAddresses []string
	MinBlock        int32
	MaxBlock        int32

	// ReplyTo, when set, asks for the direct replies to one squeak
	// instead of an author/range query. FollowAddresses is ignored for a
	// reply query.
	ReplyTo *SqueakHash
}

func (m *MsgGetSqueakLocatorPayload) Command() string     { return "getlocator" }
func (m *MsgGetSqueakLocatorPayload) MsgType() MessageType { return MsgGetSqueakLocator }
func (m *MsgGetSqueakLocatorPayload) MaxPayloadLength() uint32 {
	return uint32(8 + MaxLocatorAddresses*256)
}

func (m *MsgGetSqueakLocatorPayload) Encode(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, m.MinBlock); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, m.MaxBlock); err != nil {
		return err
	}
	if err := writeAddressList(w, m.FollowAddresses); err != nil {
		return err
	}
	return writeOptionalHash(w, m.ReplyTo)
}

func (m *MsgGetSqueakLocatorPayload) Decode(r io.Reader, _ uint32) error {
	if err := binary.Read(r, binary.LittleEndian, &m.MinBlock); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &m.MaxBlock); err != nil {
		return err
	}
	addrs, err := readAddressList(r)
	if err != nil {
		return err
	}
	m.FollowAddresses = addrs
	m.ReplyTo, err = readOptionalHash(r)
	return err
}

// MsgSqueakLocatorPayload answers a getlocator query: the hashes the
// responder has matching the request, plus the author addresses and block
// range it actually searched (for the upload direction, where the
// responder -- not the requester -- decides the scope, per spec §4.F.2).
type MsgSqueakLocatorPayload struct {
	Hashes    []SqueakHash
	Addresses []string
	MinBlock  int32
	MaxBlock  int32
}

func (m *MsgSqueakLocatorPayload) Command() string     { return "locator" }
func (m *MsgSqueakLocatorPayload) MsgType() MessageType { return MsgSqueakLocator }
func (m *MsgSqueakLocatorPayload) MaxPayloadLength() uint32 {
	return uint32(4 + MaxInvPerMsg*SqueakHashSize + 8 + MaxLocatorAddresses*256)
}

func (m *MsgSqueakLocatorPayload) Encode(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(m.Hashes))); err != nil {
		return err
	}
	for _, h := range m.Hashes {
		if _, err := w.Write(h[:]); err != nil {
			return err
		}
	}
	if err := writeAddressList(w, m.Addresses); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, m.MinBlock); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, m.MaxBlock)
}

func (m *MsgSqueakLocatorPayload) Decode(r io.Reader, _ uint32) error {
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return err
	}
	if count > MaxInvPerMsg {
		count = MaxInvPerMsg
	}
	hashes := make([]SqueakHash, count)
	for i := range hashes {
		if _, err := io.ReadFull(r, hashes[i][:]); err != nil {
			return err
		}
	}
	m.Hashes = hashes

	addrs, err := readAddressList(r)
	if err != nil {
		return err
	}
	m.Addresses = addrs

	if err := binary.Read(r, binary.LittleEndian, &m.MinBlock); err != nil {
		return err
	}
	return binary.Read(r, binary.LittleEndian, &m.MaxBlock)
}

func writeAddressList(w io.Writer, addrs []string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(addrs))); err != nil {
		return err
	}
	for _, a := range addrs {
		if err := writeVarBytes(w, []byte(a)); err != nil {
			return err
		}
	}
	return nil
}

func readAddressList(r io.Reader) ([]string, error) {
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, err
	}
	if count > MaxLocatorAddresses {
		count = MaxLocatorAddresses
	}
	addrs := make([]string, count)
	for i := range addrs {
		b, err := readVarBytes(r, 256)
		if err != nil {
			return nil, err
		}
		addrs[i] = string(b)
	}
	return addrs, nil
}
