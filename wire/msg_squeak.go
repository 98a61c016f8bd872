package wire

import "io"

// MsgSqueakPayload carries one full serialized squeak, sent in reply to a
// getsqueaks request.
type MsgSqueakPayload struct {
	Squeak Squeak
}

func (m *MsgSqueakPayload) Command() string         { return "squeak" }
func (m *MsgSqueakPayload) MsgType() MessageType     { return MsgSqueak }
func (m *MsgSqueakPayload) MaxPayloadLength() uint32 { return MaxPayloadLength }
func (m *MsgSqueakPayload) Encode(w io.Writer) error { return m.Squeak.Encode(w) }
func (m *MsgSqueakPayload) Decode(r io.Reader, _ uint32) error {
	return m.Squeak.Decode(r)
}
