package network

import (
	"fmt"
	"net"
	"time"

	"github.com/squeaknode/squeaknode/wire"
)

// PeerRPCClient is the "sync-RPC client" role design note 3 in the original
// source calls for: a short-lived connection dedicated to one sync
// operation, distinct from the long-lived gossip Peer that ConnMgr tracks.
// It performs its own minimal handshake and then issues synchronous
// request/response exchanges, each bounded by its own deadline.
type PeerRPCClient struct {
	conn    net.Conn
	network wire.Network
	timeout time.Duration
}

// DialPeerRPCClient opens a fresh connection to remote and completes the
// version/verack handshake, ready for sync RPCs.
func DialPeerRPCClient(local, remote wire.PeerAddress, net_ wire.Network, timeout time.Duration) (*PeerRPCClient, error) {
	conn, err := net.DialTimeout("tcp", remote.NormalizePort().String(), timeout)
	if err != nil {
		return nil, fmt.Errorf("dial %v: %w", remote, err)
	}

	c := &PeerRPCClient{conn: conn, network: net_, timeout: timeout}
	if err := c.handshake(local, remote); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *PeerRPCClient) handshake(local, remote wire.PeerAddress) error {
	nonce, err := wire.NewNonce()
	if err != nil {
		return err
	}

	c.conn.SetDeadline(time.Now().Add(c.timeout))
	defer c.conn.SetDeadline(time.Time{})

	versionMsg := &wire.MsgVersionPayload{
		LocalVersion: localVersion,
		Timestamp:    time.Now().Unix(),
		AddrRecv:     remote,
		AddrFrom:     local,
		Nonce:        nonce,
		UserAgent:    userAgent,
		Relay:        false,
	}
	if _, err := wire.WriteMessage(c.conn, c.network, versionMsg); err != nil {
		return err
	}

	var gotVersion, sentVerAck, gotVerAck bool
	for !(gotVersion && sentVerAck && gotVerAck) {
		msg, _, err := wire.ReadMessage(c.conn, c.network)
		if err != nil {
			return err
		}
		switch msg.(type) {
		case *wire.MsgVersionPayload:
			gotVersion = true
			if !sentVerAck {
				if _, err := wire.WriteMessage(c.conn, c.network, &wire.MsgVerAckPayload{}); err != nil {
					return err
				}
				sentVerAck = true
			}
		case *wire.MsgVerAckPayload:
			gotVerAck = true
		default:
			return fmt.Errorf("unexpected message %q during sync handshake", msg.Command())
		}
	}
	return nil
}

// Close releases the underlying connection. The sync operation owns this
// connection for its full duration and closes it when done, mirroring the
// Python PeerConnection.open_connection context manager.
func (c *PeerRPCClient) Close() error {
	return c.conn.Close()
}

func (c *PeerRPCClient) request(out wire.Message) (wire.Message, error) {
	c.conn.SetDeadline(time.Now().Add(c.timeout))
	defer c.conn.SetDeadline(time.Time{})

	if _, err := wire.WriteMessage(c.conn, c.network, out); err != nil {
		return nil, err
	}
	msg, _, err := wire.ReadMessage(c.conn, c.network)
	return msg, err
}

// LookupSqueaksToDownload asks the remote peer which hashes it has for the
// followed addresses within the block range.
func (c *PeerRPCClient) LookupSqueaksToDownload(followAddresses []string, minBlock, maxBlock int32) (*wire.MsgSqueakLocatorPayload, error) {
	resp, err := c.request(&wire.MsgGetSqueakLocatorPayload{
		FollowAddresses: followAddresses,
		MinBlock:        minBlock,
		MaxBlock:        maxBlock,
	})
	if err != nil {
		return nil, err
	}
	locator, ok := resp.(*wire.MsgSqueakLocatorPayload)
	if !ok {
		return nil, fmt.Errorf("expected locator response, got %s", resp.Command())
	}
	return locator, nil
}

// LookupRepliesToDownload asks the remote peer which direct replies it has
// to one squeak.
func (c *PeerRPCClient) LookupRepliesToDownload(replyTo wire.SqueakHash) (*wire.MsgSqueakLocatorPayload, error) {
	resp, err := c.request(&wire.MsgGetSqueakLocatorPayload{
		MinBlock: 0,
		MaxBlock: -1,
		ReplyTo:  &replyTo,
	})
	if err != nil {
		return nil, err
	}
	locator, ok := resp.(*wire.MsgSqueakLocatorPayload)
	if !ok {
		return nil, fmt.Errorf("expected locator response, got %s", resp.Command())
	}
	return locator, nil
}

// LookupSqueaksToUpload asks the remote peer what it already has for the
// given sharing addresses; the remote decides the block range it searched.
func (c *PeerRPCClient) LookupSqueaksToUpload(sharingAddresses []string) (*wire.MsgSqueakLocatorPayload, error) {
	resp, err := c.request(&wire.MsgGetSqueakLocatorPayload{
		FollowAddresses: sharingAddresses,
		MinBlock:        0,
		MaxBlock:        -1,
	})
	if err != nil {
		return nil, err
	}
	locator, ok := resp.(*wire.MsgSqueakLocatorPayload)
	if !ok {
		return nil, fmt.Errorf("expected locator response, got %s", resp.Command())
	}
	return locator, nil
}

// DownloadSqueak requests the full squeak for hash.
func (c *PeerRPCClient) DownloadSqueak(hash wire.SqueakHash) (*wire.Squeak, error) {
	resp, err := c.request(&wire.MsgGetSqueaksPayload{
		Items: []wire.InvVect{{Type: wire.InvSqueak, Hash: hash}},
	})
	if err != nil {
		return nil, err
	}
	squeakMsg, ok := resp.(*wire.MsgSqueakPayload)
	if !ok {
		return nil, fmt.Errorf("expected squeak response, got %s", resp.Command())
	}
	return &squeakMsg.Squeak, nil
}

// DownloadOffer requests the decryption-key offer for hash.
func (c *PeerRPCClient) DownloadOffer(hash wire.SqueakHash) (*wire.OfferPayload, error) {
	resp, err := c.request(&wire.MsgGetOfferPayload{SqueakHash: hash})
	if err != nil {
		return nil, err
	}
	offerMsg, ok := resp.(*wire.MsgOfferPayload)
	if !ok {
		return nil, fmt.Errorf("expected offer response, got %s", resp.Command())
	}
	return &offerMsg.Offer, nil
}

// UploadSqueak pushes a locally-held squeak to the remote peer. There is no
// response to wait for; a failure to write is the only error this reports.
func (c *PeerRPCClient) UploadSqueak(sq *wire.Squeak) error {
	c.conn.SetDeadline(time.Now().Add(c.timeout))
	defer c.conn.SetDeadline(time.Time{})

	_, err := wire.WriteMessage(c.conn, c.network, &wire.MsgSqueakPayload{Squeak: *sq})
	return err
}
