package wire

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

// roundTrip writes msg through WriteMessage and reads it back through
// ReadMessage, asserting the two encoded byte streams are identical.
func roundTrip(t *testing.T, msg Message) {
	t.Helper()

	var buf bytes.Buffer
	_, err := WriteMessage(&buf, TestNet, msg)
	require.NoError(t, err)

	original := append([]byte(nil), buf.Bytes()...)

	decoded, _, err := ReadMessage(&buf, TestNet)
	require.NoError(t, err)
	require.Equal(t, msg.Command(), decoded.Command())

	var reencoded bytes.Buffer
	_, err = WriteMessage(&reencoded, TestNet, decoded)
	require.NoError(t, err)

	require.Equal(t, original, reencoded.Bytes())
}

func TestRoundTripVersion(t *testing.T) {
	nonce, err := NewNonce()
	require.NoError(t, err)

	roundTrip(t, &MsgVersionPayload{
		LocalVersion: 1,
		Timestamp:    1700000000,
		AddrRecv:     PeerAddress{Network: TestNet, Host: "1.2.3.4", Port: 18368},
		AddrFrom:     PeerAddress{Network: TestNet, Host: "example.com", Port: 0},
		Nonce:        nonce,
		UserAgent:    "/squeaknode:0.1/",
		StartHeight:  123456,
		Relay:        true,
	})
}

func TestRoundTripVerAck(t *testing.T) {
	roundTrip(t, &MsgVerAckPayload{})
}

func TestRoundTripPingPong(t *testing.T) {
	roundTrip(t, &MsgPingPayload{Nonce: 0xdeadbeef})
	roundTrip(t, &MsgPongPayload{Nonce: 0xdeadbeef})
}

func TestRoundTripGetAddr(t *testing.T) {
	roundTrip(t, &MsgGetAddrPayload{})
}

func TestRoundTripAddr(t *testing.T) {
	roundTrip(t, &MsgAddrPayload{
		Addresses: []PeerAddress{
			{Network: TestNet, Host: "10.0.0.1", Port: 18368},
			{Network: TestNet, Host: "peer.example.com", Port: 0},
		},
	})
}

func TestRoundTripInv(t *testing.T) {
	roundTrip(t, &MsgInvPayload{
		Items: []InvVect{
			{Type: InvSqueak, Hash: SqueakHash{1, 2, 3}},
			{Type: InvOffer, Hash: SqueakHash{4, 5, 6}},
		},
	})
}

func TestRoundTripGetSqueaks(t *testing.T) {
	roundTrip(t, &MsgGetSqueaksPayload{
		Items: []InvVect{{Type: InvSqueak, Hash: SqueakHash{9, 9, 9}}},
	})
}

func TestRoundTripSqueak(t *testing.T) {
	prev := SqueakHash{7, 7, 7}
	roundTrip(t, &MsgSqueakPayload{
		Squeak: Squeak{
			Version:          1,
			AuthorAddress:    "1SqkAddrXXXXXXXXXXXXXXXXXXXXXXXXXX",
			Signature:        []byte{0xaa, 0xbb, 0xcc},
			BlockHeight:      700000,
			EncryptedContent: []byte("encrypted-bytes"),
			DataKey:          []byte("datakey"),
			IV:               []byte("iv-bytes"),
			Nonce:            42,
			Time:             1700000000,
			PrevSqueakHash:   &prev,
		},
	})
}

func TestRoundTripGetOffer(t *testing.T) {
	roundTrip(t, &MsgGetOfferPayload{SqueakHash: SqueakHash{1, 1, 1}})
}

func TestRoundTripOffer(t *testing.T) {
	roundTrip(t, &MsgOfferPayload{
		Offer: OfferPayload{
			SqueakHash:       SqueakHash{2, 2, 2},
			PriceMsat:        1000,
			PaymentRequest:   "lntb100n1p...",
			Host:             "peer.example.com",
			Port:             9735,
			NodePubKey:       []byte{0x02, 0x03, 0x04},
			Expiry:           1700003600,
			InvoiceTimestamp: 1700000000,
		},
	})
}

func TestRoundTripSubscribeUnsubscribe(t *testing.T) {
	filter := SubscribeFilter{
		Type:            FilterRange,
		MinBlock:        100,
		MaxBlock:        200,
		FollowAddresses: []string{"addr1", "addr2"},
	}
	roundTrip(t, &MsgSubscribePayload{Filter: filter})
	roundTrip(t, &MsgUnsubscribePayload{Filter: filter})
}

func TestRoundTripGetSqueakLocator(t *testing.T) {
	roundTrip(t, &MsgGetSqueakLocatorPayload{
		FollowAddresses: []string{"1SqkAddrAAAA", "1SqkAddrBBBB"},
		MinBlock:        100,
		MaxBlock:        200,
	})

	replyTo := SqueakHash{3, 3, 3}
	roundTrip(t, &MsgGetSqueakLocatorPayload{
		MinBlock: 0,
		MaxBlock: -1,
		ReplyTo:  &replyTo,
	})
}

func TestRoundTripSqueakLocator(t *testing.T) {
	roundTrip(t, &MsgSqueakLocatorPayload{
		Hashes:    []SqueakHash{{1, 1, 1}, {2, 2, 2}},
		Addresses: []string{"1SqkAddrAAAA"},
		MinBlock:  0,
		MaxBlock:  -1,
	})
}

func TestReadMessageRejectsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	_, err := WriteMessage(&buf, MainNet, &MsgVerAckPayload{})
	require.NoError(t, err)

	_, _, err = ReadMessage(&buf, TestNet)
	require.Error(t, err)
}

func TestReadMessageRejectsBadChecksum(t *testing.T) {
	var buf bytes.Buffer
	_, err := WriteMessage(&buf, TestNet, &MsgPingPayload{Nonce: 1})
	require.NoError(t, err)

	corrupted := buf.Bytes()
	corrupted[len(corrupted)-1] ^= 0xff

	_, _, err = ReadMessage(bytes.NewReader(corrupted), TestNet)
	require.Error(t, err)
}

func TestReadMessageRejectsUnknownCommand(t *testing.T) {
	var buf bytes.Buffer
	msg := &fakeUnknownMessage{}
	_, err := WriteMessage(&buf, TestNet, msg)
	require.NoError(t, err)

	_, _, err = ReadMessage(&buf, TestNet)
	require.Error(t, err)
	var unknown *UnknownMessageError
	require.ErrorAs(t, err, &unknown)
}

// fakeUnknownMessage implements Message with a command makeEmptyMessage
// does not recognize, to exercise the unknown-command rejection path.
type fakeUnknownMessage struct{}

func (f *fakeUnknownMessage) Command() string            { return "bogus" }
func (f *fakeUnknownMessage) MsgType() MessageType        { return 0 }
func (f *fakeUnknownMessage) MaxPayloadLength() uint32    { return 0 }
func (f *fakeUnknownMessage) Encode(w io.Writer) error    { return nil }
func (f *fakeUnknownMessage) Decode(r io.Reader, _ uint32) error { return nil }
