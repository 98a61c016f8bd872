package wire

// Framing and dispatch for the squeak wire protocol. The overall shape
// (an io.Writer/io.Reader pair of Encode/Decode methods per message type,
// dispatched through a MessageType switch) mirrors lnd's lnwire package.

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
)

// MaxPayloadLength is the maximum size, in bytes, of a message payload
// regardless of the limit imposed by any individual message type.
const MaxPayloadLength = 32 * 1024 * 1024 // 32 MiB

// commandSize is the fixed width, in bytes, of the ASCII NUL-padded command
// field in the message header.
const commandSize = 12

// headerSize is magic(4) + command(12) + length(4) + checksum(4).
const headerSize = 4 + commandSize + 4 + 4

// MessageType is the unique integer identifying a wire command.
type MessageType uint16

const (
	MsgVersion MessageType = iota + 1
	MsgVerAck
	MsgPing
	MsgPong
	MsgGetAddr
	MsgAddr
	MsgInv
	MsgGetSqueaks
	MsgSqueak
	MsgGetOffer
	MsgOffer
	MsgSubscribe
	MsgUnsubscribe
	MsgGetSqueakLocator
	MsgSqueakLocator
)

// commandNames maps each MessageType to its 12-byte wire command name.
var commandNames = map[MessageType]string{
	MsgVersion:     "version",
	MsgVerAck:      "verack",
	MsgPing:        "ping",
	MsgPong:        "pong",
	MsgGetAddr:     "getaddr",
	MsgAddr:        "addr",
	MsgInv:         "inv",
	MsgGetSqueaks:  "getsqueaks",
	MsgSqueak:      "squeak",
	MsgGetOffer:    "getoffer",
	MsgOffer:       "offer",
	MsgSubscribe:   "subscribe",
	MsgUnsubscribe: "unsubscribe",
	MsgGetSqueakLocator: "getlocator",
	MsgSqueakLocator:    "locator",
}

// UnknownMessageError is returned when a header names a command this
// implementation does not understand.
type UnknownMessageError struct {
	Command string
}

func (e *UnknownMessageError) Error() string {
	return fmt.Sprintf("unable to parse message of unknown command %q", e.Command)
}

// Message is implemented by every squeak wire command. It mirrors lnd's
// lnwire.Message shape: symmetric Encode/Decode, a type tag, and a
// self-reported payload ceiling used to reject oversized frames early.
type Message interface {
	// Command returns the ASCII wire command name (<=12 bytes).
	Command() string

	// MsgType returns the command's MessageType tag.
	MsgType() MessageType

	// MaxPayloadLength returns the maximum payload size this message
	// type will ever produce or accept.
	MaxPayloadLength() uint32

	// Encode serializes the message body (not the header) to w.
	Encode(w io.Writer) error

	// Decode deserializes the message body (not the header) from r.
	// payloadLen is the length read from the header, used by
	// variable-length messages to know how much to read.
	Decode(r io.Reader, payloadLen uint32) error
}

// makeEmptyMessage returns a zero-valued Message for the given command,
// ready to have Decode called on it.
func makeEmptyMessage(command string) (Message, error) {
	switch command {
	case "version":
		return &MsgVersionPayload{}, nil
	case "verack":
		return &MsgVerAckPayload{}, nil
	case "ping":
		return &MsgPingPayload{}, nil
	case "pong":
		return &MsgPongPayload{}, nil
	case "getaddr":
		return &MsgGetAddrPayload{}, nil
	case "addr":
		return &MsgAddrPayload{}, nil
	case "inv":
		return &MsgInvPayload{}, nil
	case "getsqueaks":
		return &MsgGetSqueaksPayload{}, nil
	case "squeak":
		return &MsgSqueakPayload{}, nil
	case "getoffer":
		return &MsgGetOfferPayload{}, nil
	case "offer":
		return &MsgOfferPayload{}, nil
	case "subscribe":
		return &MsgSubscribePayload{}, nil
	case "unsubscribe":
		return &MsgUnsubscribePayload{}, nil
	case "getlocator":
		return &MsgGetSqueakLocatorPayload{}, nil
	case "locator":
		return &MsgSqueakLocatorPayload{}, nil
	default:
		return nil, &UnknownMessageError{Command: command}
	}
}

// checksum returns the first 4 bytes of double-SHA-256(payload), used as
// the wire checksum field.
func checksum(payload []byte) [4]byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	var out [4]byte
	copy(out[:], second[:4])
	return out
}

// WriteMessage serializes msg with the given network's header and writes it
// to w. It returns the total number of bytes written.
func WriteMessage(w io.Writer, network Network, msg Message) (int, error) {
	cmd := msg.Command()
	if len(cmd) > commandSize {
		return 0, fmt.Errorf("command %q exceeds %d bytes", cmd, commandSize)
	}

	var payloadBuf bytes.Buffer
	if err := msg.Encode(&payloadBuf); err != nil {
		return 0, fmt.Errorf("encode %s: %w", cmd, err)
	}
	payload := payloadBuf.Bytes()

	if uint32(len(payload)) > MaxPayloadLength {
		return 0, fmt.Errorf("%s payload of %d bytes exceeds max of %d",
			cmd, len(payload), MaxPayloadLength)
	}
	if max := msg.MaxPayloadLength(); uint32(len(payload)) > max {
		return 0, fmt.Errorf("%s payload of %d bytes exceeds message max of %d",
			cmd, len(payload), max)
	}

	var header bytes.Buffer
	header.Grow(headerSize)

	var magicBuf [4]byte
	binary.LittleEndian.PutUint32(magicBuf[:], network.magic())
	header.Write(magicBuf[:])

	var cmdBuf [commandSize]byte
	copy(cmdBuf[:], cmd)
	header.Write(cmdBuf[:])

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	header.Write(lenBuf[:])

	sum := checksum(payload)
	header.Write(sum[:])

	n1, err := w.Write(header.Bytes())
	if err != nil {
		return n1, err
	}
	n2, err := w.Write(payload)
	return n1 + n2, err
}

// ReadMessage reads and validates one framed message from r for the given
// network, returning the decoded Message and its raw payload bytes.
func ReadMessage(r io.Reader, network Network) (Message, []byte, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, nil, err
	}

	gotMagic := binary.LittleEndian.Uint32(header[0:4])
	if wantMagic := network.magic(); gotMagic != wantMagic {
		return nil, nil, fmt.Errorf(
			"malformed magic: got %#x, want %#x for %s",
			gotMagic, wantMagic, network)
	}

	cmdBuf := header[4 : 4+commandSize]
	nul := bytes.IndexByte(cmdBuf, 0)
	if nul == -1 {
		nul = len(cmdBuf)
	}
	command := string(cmdBuf[:nul])

	length := binary.LittleEndian.Uint32(header[4+commandSize : 4+commandSize+4])
	if length > MaxPayloadLength {
		return nil, nil, fmt.Errorf(
			"%s payload of %d bytes exceeds max of %d",
			command, length, MaxPayloadLength)
	}

	var wantSum [4]byte
	copy(wantSum[:], header[4+commandSize+4:])

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, nil, err
	}

	gotSum := checksum(payload)
	if gotSum != wantSum {
		return nil, nil, fmt.Errorf("checksum mismatch for %s", command)
	}

	msg, err := makeEmptyMessage(command)
	if err != nil {
		return nil, nil, err
	}

	if length > msg.MaxPayloadLength() {
		return nil, nil, fmt.Errorf(
			"%s payload of %d bytes exceeds message max of %d",
			command, length, msg.MaxPayloadLength())
	}

	if err := msg.Decode(bytes.NewReader(payload), length); err != nil {
		return nil, nil, fmt.Errorf("decode %s: %w", command, err)
	}

	return msg, payload, nil
}
