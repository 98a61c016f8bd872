package rpcserver

import (
	"context"
	"crypto/tls"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/squeaknode/squeaknode/network"
	"github.com/squeaknode/squeaknode/store"
	"github.com/squeaknode/squeaknode/subscription"
	"github.com/squeaknode/squeaknode/wire"
)

// fakeNodeActions records which node actions the admin surface invoked.
type fakeNodeActions struct {
	downloadedSqueaks  bool
	downloadedSingle   []wire.SqueakHash
	downloadedOffers   []wire.SqueakHash
	downloadedReplies  []wire.SqueakHash
	downloadedAddrs    []string
	paid               []wire.SqueakHash
	reprocessed        bool
}

func (f *fakeNodeActions) DownloadSqueaks(ctx context.Context) error {
	f.downloadedSqueaks = true
	return nil
}
func (f *fakeNodeActions) DownloadSqueak(ctx context.Context, hash wire.SqueakHash) error {
	f.downloadedSingle = append(f.downloadedSingle, hash)
	return nil
}
func (f *fakeNodeActions) DownloadOffers(ctx context.Context, hash wire.SqueakHash) error {
	f.downloadedOffers = append(f.downloadedOffers, hash)
	return nil
}
func (f *fakeNodeActions) DownloadReplies(ctx context.Context, hash wire.SqueakHash) error {
	f.downloadedReplies = append(f.downloadedReplies, hash)
	return nil
}
func (f *fakeNodeActions) DownloadAddressSqueaks(ctx context.Context, address string) error {
	f.downloadedAddrs = append(f.downloadedAddrs, address)
	return nil
}
func (f *fakeNodeActions) PayOffer(ctx context.Context, hash wire.SqueakHash, peer wire.PeerAddress) error {
	f.paid = append(f.paid, hash)
	return nil
}
func (f *fakeNodeActions) MakeSqueak(ctx context.Context, profileAddress, content string, replyTo *wire.SqueakHash) (*wire.SqueakHash, error) {
	h := wire.SqueakHash{0xab}
	return &h, nil
}
func (f *fakeNodeActions) CreateSigningProfile(ctx context.Context, name string) (string, error) {
	return "1FakeSigningAddr", nil
}
func (f *fakeNodeActions) ReprocessReceivedPayments(ctx context.Context) error {
	f.reprocessed = true
	return nil
}

// newTestAdmin brings up a full admin server over an in-memory listener and
// returns a dialed client plus the collaborators the test can inspect.
func newTestAdmin(t *testing.T) (*AdminClient, store.SqueakStore, *subscription.Hub, *fakeNodeActions) {
	t.Helper()

	st := store.NewMemoryStore(store.BlockRange{MinBlock: 0, MaxBlock: 1000})
	hub := subscription.NewHub()
	node := &fakeNodeActions{}

	mgrCfg := network.DefaultConfig()
	mgrCfg.Network = wire.TestNet
	mgr := network.NewManager(mgrCfg, network.Handlers{}, hub)

	macaroonPath := filepath.Join(t.TempDir(), "admin.macaroon")
	srv, err := New(Config{
		ListenAddr:   "bufconn",
		MacaroonPath: macaroonPath,
		Network:      wire.TestNet,
	}, mgr, st, hub, node, nil)
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	go srv.ServeListener(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.Dial("bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{InsecureSkipVerify: true})),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	mac, err := os.ReadFile(macaroonPath)
	require.NoError(t, err)

	return NewClientFromConn(conn, mac), st, hub, node
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestGetInfo(t *testing.T) {
	client, _, _, _ := newTestAdmin(t)

	info, err := client.GetInfo(testCtx(t))
	require.NoError(t, err)
	require.Equal(t, "testnet", info.Network)
	require.Zero(t, info.ConnectedPeers)
}

func TestRejectsMissingMacaroon(t *testing.T) {
	client, _, _, _ := newTestAdmin(t)
	client.macaroon = nil

	_, err := client.GetInfo(testCtx(t))
	require.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestProfileLifecycle(t *testing.T) {
	client, _, _, _ := newTestAdmin(t)
	ctx := testCtx(t)

	require.NoError(t, client.FollowAddress(ctx, "1SqkAddrAAAA"))
	require.NoError(t, client.SetProfilePrice(ctx, "1SqkAddrAAAA", 2500))

	profiles, err := client.GetProfiles(ctx)
	require.NoError(t, err)
	require.Len(t, profiles.Profiles, 1)
	require.True(t, profiles.Profiles[0].Following)
	require.Equal(t, int64(2500), profiles.Profiles[0].PriceMsat)
	require.False(t, profiles.Profiles[0].Signing)

	require.NoError(t, client.UnfollowAddress(ctx, "1SqkAddrAAAA"))
	profiles, err = client.GetProfiles(ctx)
	require.NoError(t, err)
	require.False(t, profiles.Profiles[0].Following)

	err = client.SetProfilePrice(ctx, "missing", 1)
	require.Equal(t, codes.NotFound, status.Code(err))
}

func TestSqueakDisplayAndLikes(t *testing.T) {
	client, st, _, _ := newTestAdmin(t)
	ctx := testCtx(t)

	sq := &wire.Squeak{
		Version:       1,
		AuthorAddress: "1SqkAddrAAAA",
		BlockHeight:   7,
		Nonce:         1,
		Time:          1700000000,
	}
	hash, err := st.Insert(sq, wire.BlockHeader{})
	require.NoError(t, err)

	display, err := client.GetSqueakDisplay(ctx, hash.String())
	require.NoError(t, err)
	require.Equal(t, hash.String(), display.Squeak.Hash)
	require.False(t, display.Squeak.Unlocked)

	require.NoError(t, client.LikeSqueak(ctx, hash.String()))
	liked, err := client.GetLikedSqueakDisplays(ctx, 10)
	require.NoError(t, err)
	require.Len(t, liked.Squeaks, 1)
	require.NotNil(t, liked.Squeaks[0].LikedTimeMs)

	require.NoError(t, client.UnlikeSqueak(ctx, hash.String()))
	liked, err = client.GetLikedSqueakDisplays(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, liked.Squeaks)

	_, err = client.GetSqueakDisplay(ctx, wire.SqueakHash{0xff}.String())
	require.Equal(t, codes.NotFound, status.Code(err))

	_, err = client.GetSqueakDisplay(ctx, "not-hex")
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestSyncActionsReachNode(t *testing.T) {
	client, _, _, node := newTestAdmin(t)
	ctx := testCtx(t)

	hash := wire.SqueakHash{1, 2, 3}
	require.NoError(t, client.DownloadSqueaks(ctx))
	require.NoError(t, client.DownloadSqueak(ctx, hash.String()))
	require.NoError(t, client.DownloadOffers(ctx, hash.String()))
	require.NoError(t, client.DownloadReplies(ctx, hash.String()))
	require.NoError(t, client.DownloadAddressSqueaks(ctx, "1SqkAddrAAAA"))
	require.NoError(t, client.PayOffer(ctx, hash.String(), "peer.example.com", 8368))
	require.NoError(t, client.ReprocessReceivedPayments(ctx))

	require.True(t, node.downloadedSqueaks)
	require.Equal(t, []wire.SqueakHash{hash}, node.downloadedSingle)
	require.Equal(t, []wire.SqueakHash{hash}, node.downloadedOffers)
	require.Equal(t, []wire.SqueakHash{hash}, node.downloadedReplies)
	require.Equal(t, []string{"1SqkAddrAAAA"}, node.downloadedAddrs)
	require.Equal(t, []wire.SqueakHash{hash}, node.paid)
	require.True(t, node.reprocessed)
}

func TestLndPassthroughUnavailableWithoutBackend(t *testing.T) {
	client, _, _, _ := newTestAdmin(t)

	_, err := client.LndGetInfo(testCtx(t))
	require.Equal(t, codes.Unavailable, status.Code(err))
}

func TestSubscribeConnectedPeersStreamsHubEvents(t *testing.T) {
	client, _, hub, _ := newTestAdmin(t)
	ctx := testCtx(t)

	stream, err := client.SubscribeConnectedPeers(ctx)
	require.NoError(t, err)

	// The server registers its hub subscription asynchronously, so keep
	// publishing until it is live and the event lands.
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			case <-time.After(50 * time.Millisecond):
				hub.Publish(subscription.KindPeers, subscription.Event{
					Kind: subscription.EventPeerConnected,
					Peer: wire.PeerAddress{Network: wire.TestNet, Host: "peer.example.com", Port: 18368},
				})
			}
		}
	}()

	ev, err := stream.Recv()
	require.NoError(t, err)
	require.Equal(t, "peer.example.com", ev.Host)
	require.True(t, ev.Connected)
}

func TestSubscribeSqueakDisplaysFiltersByAddress(t *testing.T) {
	client, st, hub, _ := newTestAdmin(t)
	ctx := testCtx(t)

	wanted := &wire.Squeak{Version: 1, AuthorAddress: "1Wanted", BlockHeight: 1, Nonce: 1, Time: 1}
	other := &wire.Squeak{Version: 1, AuthorAddress: "1Other", BlockHeight: 1, Nonce: 2, Time: 2}
	wantedHash, err := st.Insert(wanted, wire.BlockHeader{})
	require.NoError(t, err)
	otherHash, err := st.Insert(other, wire.BlockHeader{})
	require.NoError(t, err)

	stream, err := client.SubscribeAddressSqueakDisplays(ctx, "1Wanted")
	require.NoError(t, err)

	// Publish both; only the wanted author's squeak should arrive. The
	// publish loop retries until the server-side subscription is live.
	go func() {
		for i := 0; i < 20; i++ {
			hub.Publish(subscription.KindSqueakDisplay, subscription.Event{
				Kind: subscription.EventSqueakDisplay, SqueakHash: *otherHash,
			})
			hub.Publish(subscription.KindSqueakDisplay, subscription.Event{
				Kind: subscription.EventSqueakDisplay, SqueakHash: *wantedHash,
			})
			time.Sleep(50 * time.Millisecond)
		}
	}()

	ev, err := stream.Recv()
	require.NoError(t, err)
	require.Equal(t, "1Wanted", ev.Squeak.Author)
}
