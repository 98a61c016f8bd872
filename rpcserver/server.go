package rpcserver

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"fmt"
	"math/big"
	"net"
	"time"

	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/status"

	"github.com/squeaknode/squeaknode/lightning"
	"github.com/squeaknode/squeaknode/network"
	"github.com/squeaknode/squeaknode/store"
	"github.com/squeaknode/squeaknode/subscription"
	"github.com/squeaknode/squeaknode/wire"
)

// Config holds the admin server's bring-up tunables.
type Config struct {
	ListenAddr   string
	MacaroonPath string
	Network      wire.Network
}

// NodeActions is the slice of node behavior the admin surface drives but
// does not own: sync sweeps, payments, and squeak authoring. The main
// package's node application implements it.
type NodeActions interface {
	DownloadSqueaks(ctx context.Context) error
	DownloadSqueak(ctx context.Context, hash wire.SqueakHash) error
	DownloadOffers(ctx context.Context, hash wire.SqueakHash) error
	DownloadReplies(ctx context.Context, hash wire.SqueakHash) error
	DownloadAddressSqueaks(ctx context.Context, address string) error
	PayOffer(ctx context.Context, hash wire.SqueakHash, peer wire.PeerAddress) error
	MakeSqueak(ctx context.Context, profileAddress, content string, replyTo *wire.SqueakHash) (*wire.SqueakHash, error)
	CreateSigningProfile(ctx context.Context, name string) (string, error)
	ReprocessReceivedPayments(ctx context.Context) error
}

// Server implements AdminServer against the rest of the node: the network
// manager for peer control, the store for persisted state, the node
// actions for sync and payment sweeps, the lightning client for the Lnd*
// passthrough family, and the shared subscription hub for every streaming
// feed.
type Server struct {
	cfg Config

	manager *network.Manager
	store   store.SqueakStore
	hub     *subscription.Hub
	node    NodeActions
	ln      lightning.Client

	grpcServer *grpc.Server
	auth       *macaroonAuthenticator
}

// New constructs a Server. ln may be nil when no lightning backend is
// configured; the Lnd* passthroughs then answer Unavailable. Call Serve to
// start accepting connections.
func New(cfg Config, manager *network.Manager, st store.SqueakStore,
	hub *subscription.Hub, node NodeActions, ln lightning.Client) (*Server, error) {

	auth, err := newMacaroonAuthenticator(cfg.MacaroonPath)
	if err != nil {
		return nil, err
	}

	tlsConfig, err := selfSignedServerTLSConfig()
	if err != nil {
		return nil, fmt.Errorf("generate admin TLS certificate: %w", err)
	}

	grpcServer := grpc.NewServer(
		grpc.Creds(credentials.NewTLS(tlsConfig)),
		grpc_middleware.WithUnaryServerChain(
			grpc_prometheus.UnaryServerInterceptor,
			auth.unaryInterceptor,
		),
		grpc_middleware.WithStreamServerChain(
			grpc_prometheus.StreamServerInterceptor,
			auth.streamInterceptor,
		),
	)

	s := &Server{
		cfg:        cfg,
		manager:    manager,
		store:      st,
		hub:        hub,
		node:       node,
		ln:         ln,
		grpcServer: grpcServer,
		auth:       auth,
	}
	RegisterAdminServer(grpcServer, s)
	grpc_prometheus.Register(grpcServer)

	return s, nil
}

// Serve binds cfg.ListenAddr and blocks, serving admin RPCs until Stop is
// called or the listener errors.
func (s *Server) Serve() error {
	lis, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.ListenAddr, err)
	}
	return s.grpcServer.Serve(lis)
}

// ServeListener serves admin RPCs on an already-bound listener, for tests
// that bring their own (e.g. an in-memory bufconn).
func (s *Server) ServeListener(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// Stop gracefully shuts the admin server down.
func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
}

// parseHash decodes a hex squeak hash from a request field.
func parseHash(s string) (wire.SqueakHash, error) {
	var h wire.SqueakHash
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != wire.SqueakHashSize {
		return h, status.Errorf(codes.InvalidArgument, "malformed squeak hash %q", s)
	}
	copy(h[:], b)
	return h, nil
}

func (s *Server) peerAddress(host string, port uint16) wire.PeerAddress {
	return wire.PeerAddress{Network: s.cfg.Network, Host: host, Port: port}.NormalizePort()
}

// displayFromEntry maps a store entry onto the admin-facing view,
// decrypting the content locally when the squeak is unlocked.
func displayFromEntry(e store.SqueakEntry) SqueakDisplay {
	d := SqueakDisplay{
		Hash:        e.Hash.String(),
		Author:      e.Squeak.AuthorAddress,
		BlockHeight: e.Squeak.BlockHeight,
		Time:        e.Squeak.Time,
		Unlocked:    e.Squeak.Unlocked(),
		LikedTimeMs: e.LikedTimeMs,
	}
	if e.AuthorProfile != nil {
		d.Nickname = e.AuthorProfile.Nickname
	}
	if e.Squeak.PrevSqueakHash != nil {
		d.ReplyTo = e.Squeak.PrevSqueakHash.String()
	}
	if e.Squeak.Unlocked() {
		if content, err := e.Squeak.Decrypt(e.Squeak.DecryptionKey); err == nil {
			d.Content = string(content)
		}
	}
	return d
}

func displaysFromEntries(entries []store.SqueakEntry) []SqueakDisplay {
	out := make([]SqueakDisplay, 0, len(entries))
	for _, e := range entries {
		out = append(out, displayFromEntry(e))
	}
	return out
}

// entryForHash resolves the full display entry for one squeak hash. The
// ancestor query ends at the hash itself, so its last element is the entry
// with liked state and author profile joined in.
func (s *Server) entryForHash(hash wire.SqueakHash) (*store.SqueakEntry, error) {
	entries, err := s.store.GetThreadAncestorEntries(hash)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	e := entries[len(entries)-1]
	if e.Hash != hash {
		return nil, nil
	}
	return &e, nil
}

func internal(op string, err error) error {
	return status.Errorf(codes.Internal, "%s: %v", op, err)
}

func (s *Server) GetInfo(ctx context.Context, _ *GetInfoRequest) (*GetInfoResponse, error) {
	return &GetInfoResponse{
		Network:        s.cfg.Network.String(),
		ListenAddress:  s.cfg.ListenAddr,
		ConnectedPeers: len(s.manager.GetConnectedPeers()),
	}, nil
}

func (s *Server) ConnectPeer(ctx context.Context, req *PeerRequest) (*AckResponse, error) {
	addr := s.peerAddress(req.Host, req.Port)
	log.Infof("connect peer %v requested over admin rpc", addr)
	if err := s.manager.ConnectPeer(addr); err != nil {
		return nil, status.Errorf(codes.Unavailable, "connect peer: %v", err)
	}
	return &AckResponse{}, nil
}

func (s *Server) DisconnectPeer(ctx context.Context, req *PeerRequest) (*AckResponse, error) {
	s.manager.DisconnectPeer(s.peerAddress(req.Host, req.Port))
	return &AckResponse{}, nil
}

func (s *Server) GetConnectedPeers(ctx context.Context, _ *Empty) (*ConnectedPeersResponse, error) {
	peers := s.manager.GetConnectedPeers()
	resp := &ConnectedPeersResponse{Peers: make([]ConnectedPeer, 0, len(peers))}
	for _, p := range peers {
		addr := p.Address()
		resp.Peers = append(resp.Peers, ConnectedPeer{
			Host:     addr.Host,
			Port:     addr.Port,
			Outgoing: p.Outbound(),
		})
	}
	return resp, nil
}

func (s *Server) CreateSigningProfile(ctx context.Context, req *CreateSigningProfileRequest) (*ProfileAddressResponse, error) {
	address, err := s.node.CreateSigningProfile(ctx, req.Name)
	if err != nil {
		return nil, internal("create signing profile", err)
	}
	return &ProfileAddressResponse{Address: address}, nil
}

func (s *Server) CreateContactProfile(ctx context.Context, req *CreateContactProfileRequest) (*AckResponse, error) {
	err := s.store.CreateProfile(&store.Profile{
		Address:   req.Address,
		Nickname:  req.Name,
		Following: true,
	})
	if err != nil {
		return nil, internal("create contact profile", err)
	}
	return &AckResponse{}, nil
}

func (s *Server) GetProfiles(ctx context.Context, _ *Empty) (*GetProfilesResponse, error) {
	profiles, err := s.store.GetProfiles()
	if err != nil {
		return nil, internal("get profiles", err)
	}
	resp := &GetProfilesResponse{Profiles: make([]ProfileInfo, 0, len(profiles))}
	for _, p := range profiles {
		resp.Profiles = append(resp.Profiles, ProfileInfo{
			Address:   p.Address,
			Nickname:  p.Nickname,
			Following: p.Following,
			Sharing:   p.Sharing,
			PriceMsat: p.PriceMsat,
			Signing:   len(p.PrivateKey) > 0,
		})
	}
	return resp, nil
}

func (s *Server) FollowAddress(ctx context.Context, req *AddressRequest) (*AckResponse, error) {
	profile, err := s.store.GetProfile(req.Address)
	if err != nil {
		return nil, internal("get profile", err)
	}
	if profile == nil {
		if err := s.store.CreateProfile(&store.Profile{Address: req.Address, Following: true}); err != nil {
			return nil, internal("create profile", err)
		}
		return &AckResponse{}, nil
	}
	if err := s.store.SetProfileFollowing(req.Address, true); err != nil {
		return nil, internal("set profile following", err)
	}
	return &AckResponse{}, nil
}

func (s *Server) UnfollowAddress(ctx context.Context, req *AddressRequest) (*AckResponse, error) {
	if err := s.store.SetProfileFollowing(req.Address, false); err != nil {
		return nil, status.Errorf(codes.NotFound, "no profile for %s", req.Address)
	}
	return &AckResponse{}, nil
}

func (s *Server) SetProfileSharing(ctx context.Context, req *SetProfileSharingRequest) (*AckResponse, error) {
	if err := s.store.SetProfileSharing(req.Address, req.Sharing); err != nil {
		return nil, status.Errorf(codes.NotFound, "no profile for %s", req.Address)
	}
	return &AckResponse{}, nil
}

func (s *Server) SetProfilePrice(ctx context.Context, req *SetProfilePriceRequest) (*AckResponse, error) {
	if err := s.store.SetProfilePrice(req.Address, req.PriceMsat); err != nil {
		return nil, status.Errorf(codes.NotFound, "no profile for %s", req.Address)
	}
	return &AckResponse{}, nil
}

func (s *Server) DeleteProfile(ctx context.Context, req *AddressRequest) (*AckResponse, error) {
	if err := s.store.DeleteProfile(req.Address); err != nil {
		return nil, internal("delete profile", err)
	}
	return &AckResponse{}, nil
}

func (s *Server) MakeSqueak(ctx context.Context, req *MakeSqueakRequest) (*MakeSqueakResponse, error) {
	var replyTo *wire.SqueakHash
	if req.ReplyTo != "" {
		h, err := parseHash(req.ReplyTo)
		if err != nil {
			return nil, err
		}
		replyTo = &h
	}
	hash, err := s.node.MakeSqueak(ctx, req.ProfileAddress, req.Content, replyTo)
	if err != nil {
		return nil, internal("make squeak", err)
	}
	return &MakeSqueakResponse{Hash: hash.String()}, nil
}

func (s *Server) GetSqueakDisplay(ctx context.Context, req *HashRequest) (*SqueakDisplayResponse, error) {
	hash, err := parseHash(req.Hash)
	if err != nil {
		return nil, err
	}
	entry, err := s.entryForHash(hash)
	if err != nil {
		return nil, internal("get squeak", err)
	}
	if entry == nil {
		return nil, status.Errorf(codes.NotFound, "no squeak for hash %s", req.Hash)
	}
	return &SqueakDisplayResponse{Squeak: displayFromEntry(*entry)}, nil
}

func (s *Server) GetTimelineSqueakDisplays(ctx context.Context, req *LimitRequest) (*SqueakDisplaysResponse, error) {
	entries, err := s.store.GetTimeline(req.Limit)
	if err != nil {
		return nil, internal("get timeline", err)
	}
	return &SqueakDisplaysResponse{Squeaks: displaysFromEntries(entries)}, nil
}

func (s *Server) GetAddressSqueakDisplays(ctx context.Context, req *AddressSqueaksRequest) (*SqueakDisplaysResponse, error) {
	entries, err := s.store.GetAddressEntries(req.Address, req.Limit)
	if err != nil {
		return nil, internal("get address squeaks", err)
	}
	return &SqueakDisplaysResponse{Squeaks: displaysFromEntries(entries)}, nil
}

func (s *Server) GetAncestorSqueakDisplays(ctx context.Context, req *HashRequest) (*SqueakDisplaysResponse, error) {
	hash, err := parseHash(req.Hash)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.GetThreadAncestorEntries(hash)
	if err != nil {
		return nil, internal("get thread ancestors", err)
	}
	return &SqueakDisplaysResponse{Squeaks: displaysFromEntries(entries)}, nil
}

func (s *Server) GetReplySqueakDisplays(ctx context.Context, req *HashRequest) (*SqueakDisplaysResponse, error) {
	hash, err := parseHash(req.Hash)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.GetThreadReplyEntries(hash)
	if err != nil {
		return nil, internal("get thread replies", err)
	}
	return &SqueakDisplaysResponse{Squeaks: displaysFromEntries(entries)}, nil
}

func (s *Server) GetLikedSqueakDisplays(ctx context.Context, req *LimitRequest) (*SqueakDisplaysResponse, error) {
	entries, err := s.store.GetLikedEntries(req.Limit)
	if err != nil {
		return nil, internal("get liked squeaks", err)
	}
	return &SqueakDisplaysResponse{Squeaks: displaysFromEntries(entries)}, nil
}

func (s *Server) SearchSqueaks(ctx context.Context, req *SearchRequest) (*SqueakDisplaysResponse, error) {
	entries, err := s.store.GetSqueakEntriesForTextSearch(req.Text, req.Limit, nil)
	if err != nil {
		return nil, internal("search squeaks", err)
	}
	return &SqueakDisplaysResponse{Squeaks: displaysFromEntries(entries)}, nil
}

func (s *Server) LikeSqueak(ctx context.Context, req *HashRequest) (*AckResponse, error) {
	hash, err := parseHash(req.Hash)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetLiked(hash); err != nil {
		return nil, status.Errorf(codes.NotFound, "no squeak for hash %s", req.Hash)
	}
	return &AckResponse{}, nil
}

func (s *Server) UnlikeSqueak(ctx context.Context, req *HashRequest) (*AckResponse, error) {
	hash, err := parseHash(req.Hash)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetUnliked(hash); err != nil {
		return nil, internal("unlike squeak", err)
	}
	return &AckResponse{}, nil
}

func (s *Server) DeleteSqueak(ctx context.Context, req *HashRequest) (*AckResponse, error) {
	hash, err := parseHash(req.Hash)
	if err != nil {
		return nil, err
	}
	if err := s.store.DeleteSqueak(hash); err != nil {
		return nil, internal("delete squeak", err)
	}
	return &AckResponse{}, nil
}

func (s *Server) CreatePeer(ctx context.Context, req *CreatePeerRequest) (*AckResponse, error) {
	err := s.store.CreatePeer(&store.PeerRecord{
		Address:     s.peerAddress(req.Host, req.Port),
		Autoconnect: req.Autoconnect,
		Share:       req.Share,
	})
	if err != nil {
		return nil, internal("create peer", err)
	}
	return &AckResponse{}, nil
}

func (s *Server) GetPeers(ctx context.Context, _ *Empty) (*GetPeersResponse, error) {
	peers, err := s.store.GetPeers()
	if err != nil {
		return nil, internal("get peers", err)
	}
	resp := &GetPeersResponse{Peers: make([]PeerInfo, 0, len(peers))}
	for _, p := range peers {
		resp.Peers = append(resp.Peers, PeerInfo{
			Host:        p.Address.Host,
			Port:        p.Address.Port,
			Autoconnect: p.Autoconnect,
			Share:       p.Share,
		})
	}
	return resp, nil
}

func (s *Server) SetPeerAutoconnect(ctx context.Context, req *SetPeerAutoconnectRequest) (*AckResponse, error) {
	if err := s.store.SetPeerAutoconnect(s.peerAddress(req.Host, req.Port), req.Autoconnect); err != nil {
		return nil, status.Errorf(codes.NotFound, "no peer record for %s:%d", req.Host, req.Port)
	}
	return &AckResponse{}, nil
}

func (s *Server) DeletePeer(ctx context.Context, req *PeerRequest) (*AckResponse, error) {
	if err := s.store.DeletePeer(s.peerAddress(req.Host, req.Port)); err != nil {
		return nil, internal("delete peer", err)
	}
	return &AckResponse{}, nil
}

func (s *Server) DownloadSqueaks(ctx context.Context, _ *Empty) (*AckResponse, error) {
	if err := s.node.DownloadSqueaks(ctx); err != nil {
		return nil, internal("download squeaks", err)
	}
	return &AckResponse{}, nil
}

func (s *Server) DownloadSqueak(ctx context.Context, req *HashRequest) (*AckResponse, error) {
	hash, err := parseHash(req.Hash)
	if err != nil {
		return nil, err
	}
	if err := s.node.DownloadSqueak(ctx, hash); err != nil {
		return nil, internal("download squeak", err)
	}
	return &AckResponse{}, nil
}

func (s *Server) DownloadOffers(ctx context.Context, req *HashRequest) (*AckResponse, error) {
	hash, err := parseHash(req.Hash)
	if err != nil {
		return nil, err
	}
	if err := s.node.DownloadOffers(ctx, hash); err != nil {
		return nil, internal("download offers", err)
	}
	return &AckResponse{}, nil
}

func (s *Server) DownloadReplies(ctx context.Context, req *HashRequest) (*AckResponse, error) {
	hash, err := parseHash(req.Hash)
	if err != nil {
		return nil, err
	}
	if err := s.node.DownloadReplies(ctx, hash); err != nil {
		return nil, internal("download replies", err)
	}
	return &AckResponse{}, nil
}

func (s *Server) DownloadAddressSqueaks(ctx context.Context, req *AddressRequest) (*AckResponse, error) {
	if err := s.node.DownloadAddressSqueaks(ctx, req.Address); err != nil {
		return nil, internal("download address squeaks", err)
	}
	return &AckResponse{}, nil
}

func buyOfferFromReceived(o store.ReceivedOffer) BuyOffer {
	return BuyOffer{
		Hash:           o.SqueakHash.String(),
		PeerHost:       o.PeerAddress.Host,
		PeerPort:       o.PeerAddress.Port,
		PriceMsat:      o.PriceMsat,
		PaymentRequest: o.PaymentRequest,
		ExpiryUnix:     o.Expiry.Unix(),
	}
}

func (s *Server) GetBuyOffers(ctx context.Context, req *HashRequest) (*BuyOffersResponse, error) {
	hash, err := parseHash(req.Hash)
	if err != nil {
		return nil, err
	}
	offers, err := s.store.GetReceivedOffers(hash)
	if err != nil {
		return nil, internal("get buy offers", err)
	}
	resp := &BuyOffersResponse{Offers: make([]BuyOffer, 0, len(offers))}
	for _, o := range offers {
		resp.Offers = append(resp.Offers, buyOfferFromReceived(o))
	}
	return resp, nil
}

func (s *Server) PayOffer(ctx context.Context, req *PayOfferRequest) (*AckResponse, error) {
	hash, err := parseHash(req.Hash)
	if err != nil {
		return nil, err
	}
	peer := s.peerAddress(req.PeerHost, req.PeerPort)
	log.Infof("paying offer for squeak %s from %v", hash, peer)
	if err := s.node.PayOffer(ctx, hash, peer); err != nil {
		return nil, internal("pay offer", err)
	}
	return &AckResponse{}, nil
}

func (s *Server) GetSentPayments(ctx context.Context, req *LimitRequest) (*SentPaymentsResponse, error) {
	payments, err := s.store.GetSentPayments(req.Limit)
	if err != nil {
		return nil, internal("get sent payments", err)
	}
	resp := &SentPaymentsResponse{Payments: make([]SentPaymentInfo, 0, len(payments))}
	for _, p := range payments {
		resp.Payments = append(resp.Payments, SentPaymentInfo{
			Hash:       p.SqueakHash.String(),
			PeerHost:   p.PeerAddress.Host,
			PeerPort:   p.PeerAddress.Port,
			AmountMsat: p.AmountMsat,
			Settled:    p.Settled,
			Error:      p.Error,
			TimeUnix:   p.Time.Unix(),
		})
	}
	return resp, nil
}

func (s *Server) GetReceivedPayments(ctx context.Context, req *LimitRequest) (*ReceivedPaymentsResponse, error) {
	payments, err := s.store.GetReceivedPayments(req.Limit)
	if err != nil {
		return nil, internal("get received payments", err)
	}
	resp := &ReceivedPaymentsResponse{Payments: make([]ReceivedPaymentInfo, 0, len(payments))}
	for _, p := range payments {
		resp.Payments = append(resp.Payments, ReceivedPaymentInfo{
			Hash:      p.SqueakHash.String(),
			PriceMsat: p.PriceMsat,
			TimeUnix:  p.Time.Unix(),
		})
	}
	return resp, nil
}

func (s *Server) ReprocessReceivedPayments(ctx context.Context, _ *Empty) (*AckResponse, error) {
	if err := s.node.ReprocessReceivedPayments(ctx); err != nil {
		return nil, internal("reprocess received payments", err)
	}
	return &AckResponse{}, nil
}

// errNoLightning is the status every Lnd* passthrough answers when no
// lightning backend is configured.
var errNoLightning = status.Error(codes.Unavailable, "no lightning backend configured")

func (s *Server) LndGetInfo(ctx context.Context, _ *Empty) (*LndInfoResponse, error) {
	if s.ln == nil {
		return nil, errNoLightning
	}
	info, err := s.ln.GetInfo(ctx)
	if err != nil {
		return nil, internal("lnd getinfo", err)
	}
	return &LndInfoResponse{
		IdentityPubkey:    info.IdentityPubkey,
		Alias:             info.Alias,
		BlockHeight:       info.BlockHeight,
		SyncedToChain:     info.SyncedToChain,
		NumActiveChannels: info.NumActiveChannels,
	}, nil
}

func (s *Server) LndWalletBalance(ctx context.Context, _ *Empty) (*LndWalletBalanceResponse, error) {
	if s.ln == nil {
		return nil, errNoLightning
	}
	bal, err := s.ln.WalletBalance(ctx)
	if err != nil {
		return nil, internal("lnd walletbalance", err)
	}
	return &LndWalletBalanceResponse{
		TotalBalance:       bal.TotalBalance,
		ConfirmedBalance:   bal.ConfirmedBalance,
		UnconfirmedBalance: bal.UnconfirmedBalance,
	}, nil
}

func (s *Server) LndNewAddress(ctx context.Context, _ *Empty) (*LndNewAddressResponse, error) {
	if s.ln == nil {
		return nil, errNoLightning
	}
	addr, err := s.ln.NewAddress(ctx)
	if err != nil {
		return nil, internal("lnd newaddress", err)
	}
	return &LndNewAddressResponse{Address: addr}, nil
}

func (s *Server) LndListChannels(ctx context.Context, _ *Empty) (*LndListChannelsResponse, error) {
	if s.ln == nil {
		return nil, errNoLightning
	}
	channels, err := s.ln.ListChannels(ctx)
	if err != nil {
		return nil, internal("lnd listchannels", err)
	}
	resp := &LndListChannelsResponse{Channels: make([]LndChannel, 0, len(channels))}
	for _, ch := range channels {
		resp.Channels = append(resp.Channels, LndChannel{
			RemotePubkey:  ch.RemotePubkey,
			ChannelPoint:  ch.ChannelPoint,
			CapacityMsat:  ch.CapacityMsat,
			LocalBalance:  ch.LocalBalance,
			RemoteBalance: ch.RemoteBalance,
			Active:        ch.Active,
		})
	}
	return resp, nil
}

func (s *Server) LndPendingChannels(ctx context.Context, _ *Empty) (*LndPendingChannelsResponse, error) {
	if s.ln == nil {
		return nil, errNoLightning
	}
	pending, err := s.ln.PendingChannels(ctx)
	if err != nil {
		return nil, internal("lnd pendingchannels", err)
	}
	return &LndPendingChannelsResponse{
		PendingOpen:         len(pending.PendingOpenChannels),
		PendingClosing:      len(pending.WaitingCloseChannels),
		PendingForceClosing: len(pending.PendingForceClosingChannels),
	}, nil
}

func (s *Server) LndListPeers(ctx context.Context, _ *Empty) (*LndListPeersResponse, error) {
	if s.ln == nil {
		return nil, errNoLightning
	}
	peers, err := s.ln.ListPeers(ctx)
	if err != nil {
		return nil, internal("lnd listpeers", err)
	}
	resp := &LndListPeersResponse{Peers: make([]LndPeer, 0, len(peers.Peers))}
	for _, p := range peers.Peers {
		resp.Peers = append(resp.Peers, LndPeer{Pubkey: p.PubKey, Address: p.Address})
	}
	return resp, nil
}

func (s *Server) LndConnectPeer(ctx context.Context, req *LndConnectPeerRequest) (*AckResponse, error) {
	if s.ln == nil {
		return nil, errNoLightning
	}
	if err := s.ln.ConnectPeer(ctx, req.Pubkey, req.Host); err != nil {
		return nil, internal("lnd connectpeer", err)
	}
	return &AckResponse{}, nil
}

// streamEvents drains one hub subscription into send until the client
// cancels or send fails; the hub never closes a subscription's channel. Every streaming RPC
// below is a filter over this loop.
func (s *Server) streamEvents(stream grpc.ServerStream, kind subscription.Kind, send func(subscription.Event) error) error {
	sub := s.hub.Subscribe(stream.Context(), kind)
	defer sub.Close()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if err := send(ev); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return stream.Context().Err()
		}
	}
}

func peerEventFrom(ev subscription.Event) *PeerEvent {
	return &PeerEvent{
		Host:      ev.Peer.Host,
		Port:      ev.Peer.Port,
		Connected: ev.Kind == subscription.EventPeerConnected,
	}
}

// SubscribeConnectedPeers streams every peer connect/disconnect event until
// the client cancels the stream.
func (s *Server) SubscribeConnectedPeers(_ *SubscribeConnectedPeersRequest, stream Stream[PeerEvent]) error {
	return s.streamEvents(stream, subscription.KindPeers, func(ev subscription.Event) error {
		if ev.Kind == subscription.EventLagged {
			return nil
		}
		return stream.Send(peerEventFrom(ev))
	})
}

// SubscribeConnectedPeer streams connect/disconnect events for one address.
func (s *Server) SubscribeConnectedPeer(req *PeerRequest, stream Stream[PeerEvent]) error {
	want := s.peerAddress(req.Host, req.Port)
	return s.streamEvents(stream, subscription.KindPeers, func(ev subscription.Event) error {
		if ev.Kind == subscription.EventLagged {
			return nil
		}
		if !ev.Peer.Equal(want) {
			return nil
		}
		return stream.Send(peerEventFrom(ev))
	})
}

// SubscribeBuyOffers streams decryption-key offers as they arrive for one
// squeak.
func (s *Server) SubscribeBuyOffers(req *HashRequest, stream Stream[BuyOfferEvent]) error {
	hash, err := parseHash(req.Hash)
	if err != nil {
		return err
	}
	return s.streamEvents(stream, subscription.KindOffers, func(ev subscription.Event) error {
		if ev.Kind != subscription.EventOfferReceived || ev.Offer == nil {
			return nil
		}
		if ev.Offer.SqueakHash != hash {
			return nil
		}
		return stream.Send(&BuyOfferEvent{Offer: BuyOffer{
			Hash:           ev.Offer.SqueakHash.String(),
			PeerHost:       ev.Peer.Host,
			PeerPort:       ev.Peer.Port,
			PriceMsat:      int64(ev.Offer.PriceMsat),
			PaymentRequest: ev.Offer.PaymentRequest,
			ExpiryUnix:     ev.Offer.Expiry,
		}})
	})
}

// SubscribeReceivedPayments streams inbound payments as they settle.
func (s *Server) SubscribeReceivedPayments(_ *Empty, stream Stream[ReceivedPaymentEvent]) error {
	return s.streamEvents(stream, subscription.KindReceivedPayments, func(ev subscription.Event) error {
		if ev.Kind != subscription.EventReceivedPayment {
			return nil
		}
		return stream.Send(&ReceivedPaymentEvent{Hash: ev.SqueakHash.String()})
	})
}

// streamSqueakDisplays is the shared body of the squeak-display stream
// family: it subscribes to new-squeak events and forwards those accepted by
// want, translating hub lag into an explicit Lagged marker so the consumer
// knows to requery the store.
func (s *Server) streamSqueakDisplays(stream Stream[SqueakDisplayEvent], want func(e *store.SqueakEntry) bool) error {
	return s.streamEvents(stream, subscription.KindSqueakDisplay, func(ev subscription.Event) error {
		if ev.Kind == subscription.EventLagged {
			return stream.Send(&SqueakDisplayEvent{Lagged: true})
		}
		if ev.Kind != subscription.EventSqueakDisplay {
			return nil
		}
		entry, err := s.entryForHash(ev.SqueakHash)
		if err != nil || entry == nil {
			return nil
		}
		if !want(entry) {
			return nil
		}
		return stream.Send(&SqueakDisplayEvent{Squeak: displayFromEntry(*entry)})
	})
}

// SubscribeSqueakDisplay streams updates for one specific squeak.
func (s *Server) SubscribeSqueakDisplay(req *HashRequest, stream Stream[SqueakDisplayEvent]) error {
	hash, err := parseHash(req.Hash)
	if err != nil {
		return err
	}
	return s.streamSqueakDisplays(stream, func(e *store.SqueakEntry) bool {
		return e.Hash == hash
	})
}

// SubscribeSqueakDisplays streams every newly stored squeak.
func (s *Server) SubscribeSqueakDisplays(_ *Empty, stream Stream[SqueakDisplayEvent]) error {
	return s.streamSqueakDisplays(stream, func(*store.SqueakEntry) bool { return true })
}

// SubscribeTimelineSqueakDisplays streams new squeaks from followed authors.
func (s *Server) SubscribeTimelineSqueakDisplays(_ *Empty, stream Stream[SqueakDisplayEvent]) error {
	return s.streamSqueakDisplays(stream, func(e *store.SqueakEntry) bool {
		return e.AuthorProfile != nil && e.AuthorProfile.Following
	})
}

// SubscribeReplySqueakDisplays streams new direct replies to one squeak.
func (s *Server) SubscribeReplySqueakDisplays(req *HashRequest, stream Stream[SqueakDisplayEvent]) error {
	hash, err := parseHash(req.Hash)
	if err != nil {
		return err
	}
	return s.streamSqueakDisplays(stream, func(e *store.SqueakEntry) bool {
		return e.Squeak.PrevSqueakHash != nil && *e.Squeak.PrevSqueakHash == hash
	})
}

// SubscribeAddressSqueakDisplays streams new squeaks from one author.
func (s *Server) SubscribeAddressSqueakDisplays(req *AddressRequest, stream Stream[SqueakDisplayEvent]) error {
	return s.streamSqueakDisplays(stream, func(e *store.SqueakEntry) bool {
		return e.Squeak.AuthorAddress == req.Address
	})
}

// SubscribeAncestorSqueakDisplays streams updates to squeaks on the
// ancestor chain of one squeak; the chain is recomputed per event since a
// newly arrived ancestor extends it.
func (s *Server) SubscribeAncestorSqueakDisplays(req *HashRequest, stream Stream[SqueakDisplayEvent]) error {
	hash, err := parseHash(req.Hash)
	if err != nil {
		return err
	}
	return s.streamSqueakDisplays(stream, func(e *store.SqueakEntry) bool {
		ancestors, err := s.store.GetThreadAncestorEntries(hash)
		if err != nil {
			return false
		}
		for _, a := range ancestors {
			if a.Hash == e.Hash {
				return true
			}
		}
		return false
	})
}

var _ AdminServer = (*Server)(nil)

// selfSignedServerTLSConfig generates an ephemeral self-signed certificate
// for the admin listener. The teacher's own admin surface loads its
// certificate via lnd/cert, but that package's exact cert-generation
// function signatures aren't present anywhere in the retrieval pack to
// ground against, so this uses crypto/tls and crypto/x509 directly rather
// than guess at an unfamiliar API (see DESIGN.md).
func selfSignedServerTLSConfig() (*tls.Config, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "squeaknoded admin"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              []string{"localhost"},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		return nil, err
	}

	cert := tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  priv,
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}
