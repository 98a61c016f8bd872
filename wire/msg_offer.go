package wire

import (
	"encoding/binary"
	"io"
)

// MsgGetOfferPayload requests a decryption-key offer for a locked squeak.
type MsgGetOfferPayload struct {
	SqueakHash SqueakHash
}

func (m *MsgGetOfferPayload) Command() string         { return "getoffer" }
func (m *MsgGetOfferPayload) MsgType() MessageType     { return MsgGetOffer }
func (m *MsgGetOfferPayload) MaxPayloadLength() uint32 { return SqueakHashSize }
func (m *MsgGetOfferPayload) Encode(w io.Writer) error {
	_, err := w.Write(m.SqueakHash[:])
	return err
}
func (m *MsgGetOfferPayload) Decode(r io.Reader, _ uint32) error {
	_, err := io.ReadFull(r, m.SqueakHash[:])
	return err
}

// OfferPayload is the wire representation of a Lightning-payable offer to
// reveal a squeak's decryption key. PaymentRequest is the BOLT-11 invoice
// whose preimage, once paid, is used as the decryption key.
type OfferPayload struct {
	SqueakHash       SqueakHash
	PriceMsat        uint64
	PaymentRequest   string
	Host             string
	Port             uint16
	NodePubKey       []byte
	Expiry           int64
	InvoiceTimestamp int64
}

// MsgOfferPayload carries one OfferPayload in reply to getoffer.
type MsgOfferPayload struct {
	Offer OfferPayload
}

func (m *MsgOfferPayload) Command() string         { return "offer" }
func (m *MsgOfferPayload) MsgType() MessageType     { return MsgOffer }
func (m *MsgOfferPayload) MaxPayloadLength() uint32 { return 8192 }

func (m *MsgOfferPayload) Encode(w io.Writer) error {
	o := &m.Offer
	if _, err := w.Write(o.SqueakHash[:]); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, o.PriceMsat); err != nil {
		return err
	}
	if err := writeVarBytes(w, []byte(o.PaymentRequest)); err != nil {
		return err
	}
	if err := writeVarBytes(w, []byte(o.Host)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, o.Port); err != nil {
		return err
	}
	if err := writeVarBytes(w, o.NodePubKey); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, o.Expiry); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, o.InvoiceTimestamp)
}

func (m *MsgOfferPayload) Decode(r io.Reader, _ uint32) error {
	o := &m.Offer
	if _, err := io.ReadFull(r, o.SqueakHash[:]); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &o.PriceMsat); err != nil {
		return err
	}
	pr, err := readVarBytes(r, 4096)
	if err != nil {
		return err
	}
	o.PaymentRequest = string(pr)
	host, err := readVarBytes(r, 255)
	if err != nil {
		return err
	}
	o.Host = string(host)
	if err := binary.Read(r, binary.LittleEndian, &o.Port); err != nil {
		return err
	}
	if o.NodePubKey, err = readVarBytes(r, 65); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &o.Expiry); err != nil {
		return err
	}
	return binary.Read(r, binary.LittleEndian, &o.InvoiceTimestamp)
}
