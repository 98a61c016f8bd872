package wire

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
)

// MsgVersionPayload is the handshake's opening message, modeled on the
// classic Bitcoin-style version handshake: each side announces itself and
// its view of the other before either will accept further traffic.
type MsgVersionPayload struct {
	LocalVersion uint32
	Timestamp    int64
	AddrRecv     PeerAddress
	AddrFrom     PeerAddress
	Nonce        uint64
	UserAgent    string
	StartHeight  int32
	Relay        bool
}

// NewNonce returns a random 64-bit nonce suitable for use in a version
// message, used by a peer to detect a connection to itself.
func NewNonce() (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(rand.Reader, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func (m *MsgVersionPayload) Command() string            { return "version" }
func (m *MsgVersionPayload) MsgType() MessageType        { return MsgVersion }
func (m *MsgVersionPayload) MaxPayloadLength() uint32    { return 512 }

func (m *MsgVersionPayload) Encode(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, m.LocalVersion); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, m.Timestamp); err != nil {
		return err
	}
	if err := encodeAddress(w, m.AddrRecv); err != nil {
		return err
	}
	if err := encodeAddress(w, m.AddrFrom); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, m.Nonce); err != nil {
		return err
	}
	if err := writeVarBytes(w, []byte(m.UserAgent)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, m.StartHeight); err != nil {
		return err
	}
	relay := byte(0)
	if m.Relay {
		relay = 1
	}
	_, err := w.Write([]byte{relay})
	return err
}

func (m *MsgVersionPayload) Decode(r io.Reader, _ uint32) error {
	if err := binary.Read(r, binary.LittleEndian, &m.LocalVersion); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &m.Timestamp); err != nil {
		return err
	}
	var err error
	if m.AddrRecv, err = decodeAddress(r); err != nil {
		return err
	}
	if m.AddrFrom, err = decodeAddress(r); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &m.Nonce); err != nil {
		return err
	}
	ua, err := readVarBytes(r, 256)
	if err != nil {
		return err
	}
	m.UserAgent = string(ua)
	if err := binary.Read(r, binary.LittleEndian, &m.StartHeight); err != nil {
		return err
	}
	var relay [1]byte
	if _, err := io.ReadFull(r, relay[:]); err != nil {
		return err
	}
	m.Relay = relay[0] != 0
	return nil
}

func encodeAddress(w io.Writer, a PeerAddress) error {
	if _, err := w.Write([]byte{byte(a.Network)}); err != nil {
		return err
	}
	if err := writeVarBytes(w, []byte(a.Host)); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, a.Port)
}

func decodeAddress(r io.Reader) (PeerAddress, error) {
	var netBuf [1]byte
	if _, err := io.ReadFull(r, netBuf[:]); err != nil {
		return PeerAddress{}, err
	}
	host, err := readVarBytes(r, 255)
	if err != nil {
		return PeerAddress{}, err
	}
	var port uint16
	if err := binary.Read(r, binary.LittleEndian, &port); err != nil {
		return PeerAddress{}, err
	}
	return PeerAddress{
		Network: Network(netBuf[0]),
		Host:    string(host),
		Port:    port,
	}, nil
}

// MsgVerAckPayload acknowledges a version message. It carries no data; the
// handshake is considered complete once both sides have exchanged one.
type MsgVerAckPayload struct{}

func (m *MsgVerAckPayload) Command() string         { return "verack" }
func (m *MsgVerAckPayload) MsgType() MessageType     { return MsgVerAck }
func (m *MsgVerAckPayload) MaxPayloadLength() uint32 { return 0 }
func (m *MsgVerAckPayload) Encode(w io.Writer) error { return nil }
func (m *MsgVerAckPayload) Decode(r io.Reader, payloadLen uint32) error {
	if payloadLen != 0 {
		return fmt.Errorf("verack payload must be empty, got %d bytes", payloadLen)
	}
	return nil
}

// MsgPingPayload carries an 8-byte nonce that the receiver must echo back
// in a pong.
type MsgPingPayload struct {
	Nonce uint64
}

func (m *MsgPingPayload) Command() string         { return "ping" }
func (m *MsgPingPayload) MsgType() MessageType     { return MsgPing }
func (m *MsgPingPayload) MaxPayloadLength() uint32 { return 8 }
func (m *MsgPingPayload) Encode(w io.Writer) error {
	return binary.Write(w, binary.LittleEndian, m.Nonce)
}
func (m *MsgPingPayload) Decode(r io.Reader, _ uint32) error {
	return binary.Read(r, binary.LittleEndian, &m.Nonce)
}

// MsgPongPayload echoes the nonce from the ping that triggered it.
type MsgPongPayload struct {
	Nonce uint64
}

func (m *MsgPongPayload) Command() string         { return "pong" }
func (m *MsgPongPayload) MsgType() MessageType     { return MsgPong }
func (m *MsgPongPayload) MaxPayloadLength() uint32 { return 8 }
func (m *MsgPongPayload) Encode(w io.Writer) error {
	return binary.Write(w, binary.LittleEndian, m.Nonce)
}
func (m *MsgPongPayload) Decode(r io.Reader, _ uint32) error {
	return binary.Read(r, binary.LittleEndian, &m.Nonce)
}
