// Package lightning defines the LightningClient collaborator (spec §6)
// and a gRPC-backed implementation against an lnd node, establishing the
// payment-coupling dependency the pay-for-key flow (spec §4.F.3) needs.
package lightning

import (
	"context"
	"fmt"
	"io/ioutil"
	"time"

	"gopkg.in/macaroon-bakery.v2/bakery/checkers"
	macaroon "gopkg.in/macaroon.v2"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/macaroons"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/squeaknode/squeaknode/invoice"
)

// PaymentResult is the outcome of a successful SendPayment call.
type PaymentResult struct {
	Preimage   [32]byte
	AmountMsat int64
}

// Channel is the subset of lnrpc.Channel the admin surface exposes.
type Channel struct {
	RemotePubkey  string
	ChannelPoint  string
	CapacityMsat  int64
	LocalBalance  int64
	RemoteBalance int64
	Active        bool
}

// Client is the collaborator the sync, node, and rpcserver packages depend
// on to move money. SendPayment and DecodePaymentRequest back the
// pay-for-key flow, AddInvoice backs the sell side (minting the offer
// invoice whose preimage is the decryption key), and
// ListChannels/NewAddress back the admin Lnd* passthrough family.
type Client interface {
	SendPayment(ctx context.Context, paymentRequest string, timeout time.Duration) (*PaymentResult, error)
	AddInvoice(ctx context.Context, preimage [32]byte, amountMsat int64, memo string, expirySeconds int64) (string, error)
	DecodePaymentRequest(ctx context.Context, paymentRequest string) (*invoice.Invoice, error)
	ListChannels(ctx context.Context) ([]Channel, error)
	NewAddress(ctx context.Context) (string, error)
	GetInfo(ctx context.Context) (*lnrpc.GetInfoResponse, error)
	WalletBalance(ctx context.Context) (*lnrpc.WalletBalanceResponse, error)
	PendingChannels(ctx context.Context) (*lnrpc.PendingChannelsResponse, error)
	ListPeers(ctx context.Context) (*lnrpc.ListPeersResponse, error)
	ConnectPeer(ctx context.Context, pubkey, host string) error
}

// GRPCClient implements Client against a real lnd node's RPC surface,
// matching the teacher's own lnrpc.LightningClient exactly.
type GRPCClient struct {
	conn      *grpc.ClientConn
	lightning lnrpc.LightningClient
	net       *chaincfg.Params
}

// Dial connects to an lnd node at target over TLS, attaching a macaroon
// with a time-bound anti-replay caveat to every RPC. This mirrors
// getClientConn in cmd/lncli/main.go exactly: same TLS-from-file loading,
// same macaroon unmarshal (gopkg.in/macaroon.v2), same TimeBeforeCaveat, same
// macaroons.NewMacaroonCredential. net is the chain network invoices
// decoded by this client are checked against (their bech32 "lnbc"/"lntb"/
// "lnsb" prefix must match), normally wire.Network.ChainParams() for the
// network this node is running on.
func Dial(target, tlsCertPath, macaroonPath string, macaroonTimeout time.Duration, net *chaincfg.Params) (*GRPCClient, error) {
	creds, err := credentials.NewClientTLSFromFile(tlsCertPath, "")
	if err != nil {
		return nil, fmt.Errorf("load tls cert: %w", err)
	}
	opts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}

	if macaroonPath != "" {
		macBytes, err := ioutil.ReadFile(macaroonPath)
		if err != nil {
			return nil, fmt.Errorf("read macaroon: %w", err)
		}
		mac := &macaroon.Macaroon{}
		if err := mac.UnmarshalBinary(macBytes); err != nil {
			return nil, fmt.Errorf("unmarshal macaroon: %w", err)
		}

		requestTimeout := time.Now().Add(macaroonTimeout)
		timeCaveat := checkers.TimeBeforeCaveat(requestTimeout)
		if err := mac.AddFirstPartyCaveat([]byte(timeCaveat.Condition)); err != nil {
			return nil, fmt.Errorf("add time caveat: %w", err)
		}

		macCred, err := macaroons.NewMacaroonCredential(mac)
		if err != nil {
			return nil, fmt.Errorf("create macaroon credential: %w", err)
		}
		opts = append(opts, grpc.WithPerRPCCredentials(macCred))
	}

	conn, err := grpc.Dial(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial lnd at %s: %w", target, err)
	}

	return &GRPCClient{
		conn:      conn,
		lightning: lnrpc.NewLightningClient(conn),
		net:       net,
	}, nil
}

// Close tears down the underlying gRPC connection.
func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

func (c *GRPCClient) SendPayment(ctx context.Context, paymentRequest string, timeout time.Duration) (*PaymentResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.lightning.SendPaymentSync(ctx, &lnrpc.SendRequest{
		PaymentRequest: paymentRequest,
	})
	if err != nil {
		return nil, fmt.Errorf("send payment: %w", err)
	}
	if resp.PaymentError != "" {
		return nil, fmt.Errorf("payment failed: %s", resp.PaymentError)
	}

	var preimage [32]byte
	copy(preimage[:], resp.PaymentPreimage)

	return &PaymentResult{
		Preimage:   preimage,
		AmountMsat: resp.PaymentRoute.GetTotalAmtMsat(),
	}, nil
}

// AddInvoice mints a BOLT-11 invoice for amountMsat whose preimage is the
// supplied 32-byte value, returning the encoded payment request. The
// caller picks the preimage because, in the offer flow, paying the invoice
// must reveal the squeak's decryption key.
func (c *GRPCClient) AddInvoice(ctx context.Context, preimage [32]byte, amountMsat int64, memo string, expirySeconds int64) (string, error) {
	resp, err := c.lightning.AddInvoice(ctx, &lnrpc.Invoice{
		RPreimage: preimage[:],
		ValueMsat: amountMsat,
		Memo:      memo,
		Expiry:    expirySeconds,
	})
	if err != nil {
		return "", fmt.Errorf("add invoice: %w", err)
	}
	return resp.PaymentRequest, nil
}

// DecodePaymentRequest decodes locally using the invoice package rather
// than round-tripping through lnd's own DecodePayReq RPC: the payment
// request has already arrived over the wire in an OfferPayload, and a
// local decode keeps the sync path from depending on lnd being reachable
// just to validate an invoice before deciding whether to pay it.
func (c *GRPCClient) DecodePaymentRequest(ctx context.Context, paymentRequest string) (*invoice.Invoice, error) {
	return invoice.Decode(paymentRequest, c.net)
}

func (c *GRPCClient) ListChannels(ctx context.Context) ([]Channel, error) {
	resp, err := c.lightning.ListChannels(ctx, &lnrpc.ListChannelsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	out := make([]Channel, 0, len(resp.Channels))
	for _, ch := range resp.Channels {
		out = append(out, Channel{
			RemotePubkey:  ch.RemotePubkey,
			ChannelPoint:  ch.ChannelPoint,
			CapacityMsat:  ch.Capacity * 1000,
			LocalBalance:  ch.LocalBalance * 1000,
			RemoteBalance: ch.RemoteBalance * 1000,
			Active:        ch.Active,
		})
	}
	return out, nil
}

func (c *GRPCClient) NewAddress(ctx context.Context) (string, error) {
	resp, err := c.lightning.NewAddress(ctx, &lnrpc.NewAddressRequest{
		Type: lnrpc.AddressType_WITNESS_PUBKEY_HASH,
	})
	if err != nil {
		return "", fmt.Errorf("new address: %w", err)
	}
	return resp.Address, nil
}

func (c *GRPCClient) GetInfo(ctx context.Context) (*lnrpc.GetInfoResponse, error) {
	return c.lightning.GetInfo(ctx, &lnrpc.GetInfoRequest{})
}

func (c *GRPCClient) WalletBalance(ctx context.Context) (*lnrpc.WalletBalanceResponse, error) {
	return c.lightning.WalletBalance(ctx, &lnrpc.WalletBalanceRequest{})
}

func (c *GRPCClient) PendingChannels(ctx context.Context) (*lnrpc.PendingChannelsResponse, error) {
	return c.lightning.PendingChannels(ctx, &lnrpc.PendingChannelsRequest{})
}

func (c *GRPCClient) ListPeers(ctx context.Context) (*lnrpc.ListPeersResponse, error) {
	return c.lightning.ListPeers(ctx, &lnrpc.ListPeersRequest{})
}

func (c *GRPCClient) ConnectPeer(ctx context.Context, pubkey, host string) error {
	_, err := c.lightning.ConnectPeer(ctx, &lnrpc.ConnectPeerRequest{
		Addr: &lnrpc.LightningAddress{Pubkey: pubkey, Host: host},
	})
	return err
}

var _ Client = (*GRPCClient)(nil)
