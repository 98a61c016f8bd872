package rpcserver

import (
	"context"

	"google.golang.org/grpc"
)

// GetInfoRequest/GetInfoResponse back the admin surface's node-status query.
type GetInfoRequest struct{}

type GetInfoResponse struct {
	Network        string `json:"network"`
	ListenAddress  string `json:"listen_address"`
	ConnectedPeers int    `json:"connected_peers"`
}

// AckResponse is the empty reply for commands whose only result is success.
type AckResponse struct{}

// Empty is the request type for commands that take no arguments.
type Empty struct{}

// PeerRequest addresses one remote peer by host and port. Port 0 means the
// network's default port.
type PeerRequest struct {
	Host string `json:"host"`
	Port uint16 `json:"port"`
}

// ConnectedPeer describes one live connection.
type ConnectedPeer struct {
	Host     string `json:"host"`
	Port     uint16 `json:"port"`
	Outgoing bool   `json:"outgoing"`
}

type ConnectedPeersResponse struct {
	Peers []ConnectedPeer `json:"peers"`
}

// CreateSigningProfileRequest names a new local signing identity; the
// response carries the derived author address.
type CreateSigningProfileRequest struct {
	Name string `json:"name"`
}

type ProfileAddressResponse struct {
	Address string `json:"address"`
}

// CreateContactProfileRequest records a remote author under a nickname.
type CreateContactProfileRequest struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// AddressRequest addresses one author profile.
type AddressRequest struct {
	Address string `json:"address"`
}

type SetProfilePriceRequest struct {
	Address   string `json:"address"`
	PriceMsat int64  `json:"price_msat"`
}

type SetProfileSharingRequest struct {
	Address string `json:"address"`
	Sharing bool   `json:"sharing"`
}

// ProfileInfo is the admin-facing view of a stored profile. The private
// key never leaves the node through this surface.
type ProfileInfo struct {
	Address   string `json:"address"`
	Nickname  string `json:"nickname"`
	Following bool   `json:"following"`
	Sharing   bool   `json:"sharing"`
	PriceMsat int64  `json:"price_msat"`
	Signing   bool   `json:"signing"`
}

type GetProfilesResponse struct {
	Profiles []ProfileInfo `json:"profiles"`
}

// MakeSqueakRequest authors a new squeak under a local signing profile.
// ReplyTo is an optional hex squeak hash.
type MakeSqueakRequest struct {
	ProfileAddress string `json:"profile_address"`
	Content        string `json:"content"`
	ReplyTo        string `json:"reply_to,omitempty"`
}

type MakeSqueakResponse struct {
	Hash string `json:"hash"`
}

// HashRequest addresses one squeak by its hex hash.
type HashRequest struct {
	Hash string `json:"hash"`
}

// SqueakDisplay is the admin-facing view of one stored squeak.
type SqueakDisplay struct {
	Hash        string `json:"hash"`
	Author      string `json:"author"`
	Nickname    string `json:"nickname,omitempty"`
	BlockHeight int32  `json:"block_height"`
	Time        int64  `json:"time"`
	ReplyTo     string `json:"reply_to,omitempty"`
	Unlocked    bool   `json:"unlocked"`
	Content     string `json:"content,omitempty"`
	LikedTimeMs *int64 `json:"liked_time_ms,omitempty"`
}

type SqueakDisplayResponse struct {
	Squeak SqueakDisplay `json:"squeak"`
}

type SqueakDisplaysResponse struct {
	Squeaks []SqueakDisplay `json:"squeaks"`
}

// LimitRequest bounds a listing query; 0 means no limit.
type LimitRequest struct {
	Limit int `json:"limit"`
}

type AddressSqueaksRequest struct {
	Address string `json:"address"`
	Limit   int    `json:"limit"`
}

type SearchRequest struct {
	Text  string `json:"text"`
	Limit int    `json:"limit"`
}

// CreatePeerRequest stores a user-managed peer record.
type CreatePeerRequest struct {
	Host        string `json:"host"`
	Port        uint16 `json:"port"`
	Autoconnect bool   `json:"autoconnect"`
	Share       bool   `json:"share"`
}

type PeerInfo struct {
	Host        string `json:"host"`
	Port        uint16 `json:"port"`
	Autoconnect bool   `json:"autoconnect"`
	Share       bool   `json:"share"`
}

type GetPeersResponse struct {
	Peers []PeerInfo `json:"peers"`
}

type SetPeerAutoconnectRequest struct {
	Host        string `json:"host"`
	Port        uint16 `json:"port"`
	Autoconnect bool   `json:"autoconnect"`
}

// BuyOffer is the admin-facing view of a saved decryption-key offer.
type BuyOffer struct {
	Hash           string `json:"hash"`
	PeerHost       string `json:"peer_host"`
	PeerPort       uint16 `json:"peer_port"`
	PriceMsat      int64  `json:"price_msat"`
	PaymentRequest string `json:"payment_request"`
	ExpiryUnix     int64  `json:"expiry_unix"`
}

type BuyOffersResponse struct {
	Offers []BuyOffer `json:"offers"`
}

// PayOfferRequest pays the saved offer for (hash, peer).
type PayOfferRequest struct {
	Hash     string `json:"hash"`
	PeerHost string `json:"peer_host"`
	PeerPort uint16 `json:"peer_port"`
}

type SentPaymentInfo struct {
	Hash       string `json:"hash"`
	PeerHost   string `json:"peer_host"`
	PeerPort   uint16 `json:"peer_port"`
	AmountMsat int64  `json:"amount_msat"`
	Settled    bool   `json:"settled"`
	Error      string `json:"error,omitempty"`
	TimeUnix   int64  `json:"time_unix"`
}

type SentPaymentsResponse struct {
	Payments []SentPaymentInfo `json:"payments"`
}

type ReceivedPaymentInfo struct {
	Hash      string `json:"hash"`
	PriceMsat int64  `json:"price_msat"`
	TimeUnix  int64  `json:"time_unix"`
}

type ReceivedPaymentsResponse struct {
	Payments []ReceivedPaymentInfo `json:"payments"`
}

// Lnd* passthrough views: the subset of the backing lnd node's own
// responses the admin surface forwards.
type LndInfoResponse struct {
	IdentityPubkey    string `json:"identity_pubkey"`
	Alias             string `json:"alias"`
	BlockHeight       uint32 `json:"block_height"`
	SyncedToChain     bool   `json:"synced_to_chain"`
	NumActiveChannels uint32 `json:"num_active_channels"`
}

type LndWalletBalanceResponse struct {
	TotalBalance       int64 `json:"total_balance"`
	ConfirmedBalance   int64 `json:"confirmed_balance"`
	UnconfirmedBalance int64 `json:"unconfirmed_balance"`
}

type LndNewAddressResponse struct {
	Address string `json:"address"`
}

type LndChannel struct {
	RemotePubkey  string `json:"remote_pubkey"`
	ChannelPoint  string `json:"channel_point"`
	CapacityMsat  int64  `json:"capacity_msat"`
	LocalBalance  int64  `json:"local_balance"`
	RemoteBalance int64  `json:"remote_balance"`
	Active        bool   `json:"active"`
}

type LndListChannelsResponse struct {
	Channels []LndChannel `json:"channels"`
}

type LndPendingChannelsResponse struct {
	PendingOpen         int `json:"pending_open"`
	PendingClosing      int `json:"pending_closing"`
	PendingForceClosing int `json:"pending_force_closing"`
}

type LndPeer struct {
	Pubkey  string `json:"pubkey"`
	Address string `json:"address"`
}

type LndListPeersResponse struct {
	Peers []LndPeer `json:"peers"`
}

type LndConnectPeerRequest struct {
	Pubkey string `json:"pubkey"`
	Host   string `json:"host"`
}

// Stream request/event types.
type SubscribeConnectedPeersRequest struct{}

type PeerEvent struct {
	Host      string `json:"host"`
	Port      uint16 `json:"port"`
	Connected bool   `json:"connected"`
}

type BuyOfferEvent struct {
	Offer BuyOffer `json:"offer"`
}

type ReceivedPaymentEvent struct {
	Hash string `json:"hash"`
}

// SqueakDisplayEvent carries one new-squeak notification. Lagged is set
// when the subscriber fell behind and events were dropped; the consumer
// should requery the store.
type SqueakDisplayEvent struct {
	Squeak SqueakDisplay `json:"squeak"`
	Lagged bool          `json:"lagged,omitempty"`
}

// Stream is the server-side handle for a server-streaming RPC, playing the
// role of the per-method *_Server interfaces protoc-gen-go-grpc generates.
type Stream[Ev any] struct {
	grpc.ServerStream
}

func (s Stream[Ev]) Send(ev *Ev) error {
	return s.ServerStream.SendMsg(ev)
}

// AdminServer is the service implementation contract: one method per admin
// command, no per-request reflection.
type AdminServer interface {
	// Node and live-connection control.
	GetInfo(context.Context, *GetInfoRequest) (*GetInfoResponse, error)
	ConnectPeer(context.Context, *PeerRequest) (*AckResponse, error)
	DisconnectPeer(context.Context, *PeerRequest) (*AckResponse, error)
	GetConnectedPeers(context.Context, *Empty) (*ConnectedPeersResponse, error)

	// Profiles.
	CreateSigningProfile(context.Context, *CreateSigningProfileRequest) (*ProfileAddressResponse, error)
	CreateContactProfile(context.Context, *CreateContactProfileRequest) (*AckResponse, error)
	GetProfiles(context.Context, *Empty) (*GetProfilesResponse, error)
	FollowAddress(context.Context, *AddressRequest) (*AckResponse, error)
	UnfollowAddress(context.Context, *AddressRequest) (*AckResponse, error)
	SetProfileSharing(context.Context, *SetProfileSharingRequest) (*AckResponse, error)
	SetProfilePrice(context.Context, *SetProfilePriceRequest) (*AckResponse, error)
	DeleteProfile(context.Context, *AddressRequest) (*AckResponse, error)

	// Squeaks.
	MakeSqueak(context.Context, *MakeSqueakRequest) (*MakeSqueakResponse, error)
	GetSqueakDisplay(context.Context, *HashRequest) (*SqueakDisplayResponse, error)
	GetTimelineSqueakDisplays(context.Context, *LimitRequest) (*SqueakDisplaysResponse, error)
	GetAddressSqueakDisplays(context.Context, *AddressSqueaksRequest) (*SqueakDisplaysResponse, error)
	GetAncestorSqueakDisplays(context.Context, *HashRequest) (*SqueakDisplaysResponse, error)
	GetReplySqueakDisplays(context.Context, *HashRequest) (*SqueakDisplaysResponse, error)
	GetLikedSqueakDisplays(context.Context, *LimitRequest) (*SqueakDisplaysResponse, error)
	SearchSqueaks(context.Context, *SearchRequest) (*SqueakDisplaysResponse, error)
	LikeSqueak(context.Context, *HashRequest) (*AckResponse, error)
	UnlikeSqueak(context.Context, *HashRequest) (*AckResponse, error)
	DeleteSqueak(context.Context, *HashRequest) (*AckResponse, error)

	// Stored peer records.
	CreatePeer(context.Context, *CreatePeerRequest) (*AckResponse, error)
	GetPeers(context.Context, *Empty) (*GetPeersResponse, error)
	SetPeerAutoconnect(context.Context, *SetPeerAutoconnectRequest) (*AckResponse, error)
	DeletePeer(context.Context, *PeerRequest) (*AckResponse, error)

	// Sync actions.
	DownloadSqueaks(context.Context, *Empty) (*AckResponse, error)
	DownloadSqueak(context.Context, *HashRequest) (*AckResponse, error)
	DownloadOffers(context.Context, *HashRequest) (*AckResponse, error)
	DownloadReplies(context.Context, *HashRequest) (*AckResponse, error)
	DownloadAddressSqueaks(context.Context, *AddressRequest) (*AckResponse, error)

	// Payments.
	GetBuyOffers(context.Context, *HashRequest) (*BuyOffersResponse, error)
	PayOffer(context.Context, *PayOfferRequest) (*AckResponse, error)
	GetSentPayments(context.Context, *LimitRequest) (*SentPaymentsResponse, error)
	GetReceivedPayments(context.Context, *LimitRequest) (*ReceivedPaymentsResponse, error)
	ReprocessReceivedPayments(context.Context, *Empty) (*AckResponse, error)

	// Lnd passthroughs.
	LndGetInfo(context.Context, *Empty) (*LndInfoResponse, error)
	LndWalletBalance(context.Context, *Empty) (*LndWalletBalanceResponse, error)
	LndNewAddress(context.Context, *Empty) (*LndNewAddressResponse, error)
	LndListChannels(context.Context, *Empty) (*LndListChannelsResponse, error)
	LndPendingChannels(context.Context, *Empty) (*LndPendingChannelsResponse, error)
	LndListPeers(context.Context, *Empty) (*LndListPeersResponse, error)
	LndConnectPeer(context.Context, *LndConnectPeerRequest) (*AckResponse, error)

	// Streaming subscriptions, each bound to the stream's context for
	// prompt cancellation.
	SubscribeConnectedPeers(*SubscribeConnectedPeersRequest, Stream[PeerEvent]) error
	SubscribeConnectedPeer(*PeerRequest, Stream[PeerEvent]) error
	SubscribeBuyOffers(*HashRequest, Stream[BuyOfferEvent]) error
	SubscribeReceivedPayments(*Empty, Stream[ReceivedPaymentEvent]) error
	SubscribeSqueakDisplay(*HashRequest, Stream[SqueakDisplayEvent]) error
	SubscribeSqueakDisplays(*Empty, Stream[SqueakDisplayEvent]) error
	SubscribeTimelineSqueakDisplays(*Empty, Stream[SqueakDisplayEvent]) error
	SubscribeReplySqueakDisplays(*HashRequest, Stream[SqueakDisplayEvent]) error
	SubscribeAddressSqueakDisplays(*AddressRequest, Stream[SqueakDisplayEvent]) error
	SubscribeAncestorSqueakDisplays(*HashRequest, Stream[SqueakDisplayEvent]) error
}

const adminServiceName = "squeaknode.rpcserver.Admin"

// unaryMethod builds the grpc.MethodDesc a protoc-generated _Admin_X_Handler
// would provide, with the per-method boilerplate factored into one generic
// function instead of one handler function per command.
func unaryMethod[Req, Resp any](name string, call func(AdminServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(AdminServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + adminServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(AdminServer), ctx, req.(*Req))
			})
		},
	}
}

// streamMethod is unaryMethod's counterpart for server-streaming commands.
func streamMethod[Req, Ev any](name string, call func(AdminServer, *Req, Stream[Ev]) error) grpc.StreamDesc {
	return grpc.StreamDesc{
		StreamName:    name,
		ServerStreams: true,
		Handler: func(srv interface{}, stream grpc.ServerStream) error {
			in := new(Req)
			if err := stream.RecvMsg(in); err != nil {
				return err
			}
			return call(srv.(AdminServer), in, Stream[Ev]{stream})
		},
	}
}

// adminServiceDesc plays the role of the protoc-generated _Admin_serviceDesc.
var adminServiceDesc = grpc.ServiceDesc{
	ServiceName: adminServiceName,
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("GetInfo", AdminServer.GetInfo),
		unaryMethod("ConnectPeer", AdminServer.ConnectPeer),
		unaryMethod("DisconnectPeer", AdminServer.DisconnectPeer),
		unaryMethod("GetConnectedPeers", AdminServer.GetConnectedPeers),
		unaryMethod("CreateSigningProfile", AdminServer.CreateSigningProfile),
		unaryMethod("CreateContactProfile", AdminServer.CreateContactProfile),
		unaryMethod("GetProfiles", AdminServer.GetProfiles),
		unaryMethod("FollowAddress", AdminServer.FollowAddress),
		unaryMethod("UnfollowAddress", AdminServer.UnfollowAddress),
		unaryMethod("SetProfileSharing", AdminServer.SetProfileSharing),
		unaryMethod("SetProfilePrice", AdminServer.SetProfilePrice),
		unaryMethod("DeleteProfile", AdminServer.DeleteProfile),
		unaryMethod("MakeSqueak", AdminServer.MakeSqueak),
		unaryMethod("GetSqueakDisplay", AdminServer.GetSqueakDisplay),
		unaryMethod("GetTimelineSqueakDisplays", AdminServer.GetTimelineSqueakDisplays),
		unaryMethod("GetAddressSqueakDisplays", AdminServer.GetAddressSqueakDisplays),
		unaryMethod("GetAncestorSqueakDisplays", AdminServer.GetAncestorSqueakDisplays),
		unaryMethod("GetReplySqueakDisplays", AdminServer.GetReplySqueakDisplays),
		unaryMethod("GetLikedSqueakDisplays", AdminServer.GetLikedSqueakDisplays),
		unaryMethod("SearchSqueaks", AdminServer.SearchSqueaks),
		unaryMethod("LikeSqueak", AdminServer.LikeSqueak),
		unaryMethod("UnlikeSqueak", AdminServer.UnlikeSqueak),
		unaryMethod("DeleteSqueak", AdminServer.DeleteSqueak),
		unaryMethod("CreatePeer", AdminServer.CreatePeer),
		unaryMethod("GetPeers", AdminServer.GetPeers),
		unaryMethod("SetPeerAutoconnect", AdminServer.SetPeerAutoconnect),
		unaryMethod("DeletePeer", AdminServer.DeletePeer),
		unaryMethod("DownloadSqueaks", AdminServer.DownloadSqueaks),
		unaryMethod("DownloadSqueak", AdminServer.DownloadSqueak),
		unaryMethod("DownloadOffers", AdminServer.DownloadOffers),
		unaryMethod("DownloadReplies", AdminServer.DownloadReplies),
		unaryMethod("DownloadAddressSqueaks", AdminServer.DownloadAddressSqueaks),
		unaryMethod("GetBuyOffers", AdminServer.GetBuyOffers),
		unaryMethod("PayOffer", AdminServer.PayOffer),
		unaryMethod("GetSentPayments", AdminServer.GetSentPayments),
		unaryMethod("GetReceivedPayments", AdminServer.GetReceivedPayments),
		unaryMethod("ReprocessReceivedPayments", AdminServer.ReprocessReceivedPayments),
		unaryMethod("LndGetInfo", AdminServer.LndGetInfo),
		unaryMethod("LndWalletBalance", AdminServer.LndWalletBalance),
		unaryMethod("LndNewAddress", AdminServer.LndNewAddress),
		unaryMethod("LndListChannels", AdminServer.LndListChannels),
		unaryMethod("LndPendingChannels", AdminServer.LndPendingChannels),
		unaryMethod("LndListPeers", AdminServer.LndListPeers),
		unaryMethod("LndConnectPeer", AdminServer.LndConnectPeer),
	},
	Streams: []grpc.StreamDesc{
		streamMethod("SubscribeConnectedPeers", AdminServer.SubscribeConnectedPeers),
		streamMethod("SubscribeConnectedPeer", AdminServer.SubscribeConnectedPeer),
		streamMethod("SubscribeBuyOffers", AdminServer.SubscribeBuyOffers),
		streamMethod("SubscribeReceivedPayments", AdminServer.SubscribeReceivedPayments),
		streamMethod("SubscribeSqueakDisplay", AdminServer.SubscribeSqueakDisplay),
		streamMethod("SubscribeSqueakDisplays", AdminServer.SubscribeSqueakDisplays),
		streamMethod("SubscribeTimelineSqueakDisplays", AdminServer.SubscribeTimelineSqueakDisplays),
		streamMethod("SubscribeReplySqueakDisplays", AdminServer.SubscribeReplySqueakDisplays),
		streamMethod("SubscribeAddressSqueakDisplays", AdminServer.SubscribeAddressSqueakDisplays),
		streamMethod("SubscribeAncestorSqueakDisplays", AdminServer.SubscribeAncestorSqueakDisplays),
	},
	Metadata: "rpcserver/service.go",
}

// streamDesc resolves a stream descriptor by name for the client side.
func streamDesc(name string) *grpc.StreamDesc {
	for i := range adminServiceDesc.Streams {
		if adminServiceDesc.Streams[i].StreamName == name {
			return &adminServiceDesc.Streams[i]
		}
	}
	return nil
}

// RegisterAdminServer wires srv into s, matching the
// protoc-gen-go-grpc-generated RegisterXServer naming.
func RegisterAdminServer(s *grpc.Server, srv AdminServer) {
	s.RegisterService(&adminServiceDesc, srv)
}
