// squeakctl is the admin command-line client, mirroring lncli's role: a
// thin urfave/cli wrapper around the admin RPC surface (rpcserver), never
// touching network/sync/store internals directly.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli"

	"github.com/squeaknode/squeaknode/rpcserver"
)

func main() {
	app := cli.NewApp()
	app.Name = "squeakctl"
	app.Usage = "control plane for a running squeaknoded"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "rpcserver",
			Value: "localhost:8994",
			Usage: "host:port of squeaknoded's admin RPC listener",
		},
		cli.StringFlag{
			Name:  "macaroonpath",
			Value: "",
			Usage: "path to the admin macaroon",
		},
	}
	app.Commands = []cli.Command{
		getInfoCommand,
		connectCommand,
		disconnectCommand,
		listConnectedCommand,
		monitorPeersCommand,
		createProfileCommand,
		followCommand,
		unfollowCommand,
		setPriceCommand,
		profilesCommand,
		makeSqueakCommand,
		timelineCommand,
		searchCommand,
		likeCommand,
		unlikeCommand,
		deleteSqueakCommand,
		addPeerCommand,
		listPeersCommand,
		autoconnectCommand,
		removePeerCommand,
		downloadCommand,
		offersCommand,
		payOfferCommand,
		sentPaymentsCommand,
		lndInfoCommand,
		walletBalanceCommand,
		channelsCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "[squeakctl] %v\n", err)
		os.Exit(1)
	}
}

func getClient(ctx *cli.Context) (*rpcserver.AdminClient, func(), error) {
	client, err := rpcserver.DialClient(ctx.GlobalString("rpcserver"), ctx.GlobalString("macaroonpath"))
	if err != nil {
		return nil, nil, fmt.Errorf("dial admin server: %w", err)
	}
	return client, func() { client.Close() }, nil
}

// withClient factors the dial/cleanup dance every action repeats.
func withClient(ctx *cli.Context, fn func(ctx context.Context, client *rpcserver.AdminClient) error) error {
	client, cleanup, err := getClient(ctx)
	if err != nil {
		return err
	}
	defer cleanup()
	return fn(context.Background(), client)
}

func parsePort(s string) (uint16, error) {
	port, err := strconv.Atoi(s)
	if err != nil || port < 0 || port > 65535 {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return uint16(port), nil
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	return t
}

func renderSqueaks(squeaks []rpcserver.SqueakDisplay) {
	t := newTable()
	t.AppendHeader(table.Row{"hash", "author", "block", "content"})
	for _, sq := range squeaks {
		content := sq.Content
		if !sq.Unlocked {
			content = "(locked)"
		}
		t.AppendRow(table.Row{sq.Hash, sq.Author, sq.BlockHeight, content})
	}
	t.Render()
}

var getInfoCommand = cli.Command{
	Name:  "getinfo",
	Usage: "return general node status",
	Action: func(ctx *cli.Context) error {
		return withClient(ctx, func(c context.Context, client *rpcserver.AdminClient) error {
			info, err := client.GetInfo(c)
			if err != nil {
				return err
			}
			t := newTable()
			t.AppendRow(table.Row{"network", info.Network})
			t.AppendRow(table.Row{"listen_address", info.ListenAddress})
			t.AppendRow(table.Row{"connected_peers", info.ConnectedPeers})
			t.Render()
			return nil
		})
	},
}

var connectCommand = cli.Command{
	Name:      "connect",
	Usage:     "connect to a peer",
	ArgsUsage: "host port",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 2 {
			return cli.ShowCommandHelp(ctx, "connect")
		}
		host := ctx.Args().Get(0)
		port, err := parsePort(ctx.Args().Get(1))
		if err != nil {
			return err
		}
		return withClient(ctx, func(c context.Context, client *rpcserver.AdminClient) error {
			if err := client.ConnectPeer(c, host, port); err != nil {
				return err
			}
			fmt.Printf("connected to %s:%d\n", host, port)
			return nil
		})
	},
}

var disconnectCommand = cli.Command{
	Name:      "disconnect",
	Usage:     "disconnect a connected peer",
	ArgsUsage: "host port",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 2 {
			return cli.ShowCommandHelp(ctx, "disconnect")
		}
		host := ctx.Args().Get(0)
		port, err := parsePort(ctx.Args().Get(1))
		if err != nil {
			return err
		}
		return withClient(ctx, func(c context.Context, client *rpcserver.AdminClient) error {
			return client.DisconnectPeer(c, host, port)
		})
	},
}

var listConnectedCommand = cli.Command{
	Name:  "listconnected",
	Usage: "list live peer connections",
	Action: func(ctx *cli.Context) error {
		return withClient(ctx, func(c context.Context, client *rpcserver.AdminClient) error {
			peers, err := client.GetConnectedPeers(c)
			if err != nil {
				return err
			}
			t := newTable()
			t.AppendHeader(table.Row{"host", "port", "direction"})
			for _, p := range peers.Peers {
				dir := "inbound"
				if p.Outgoing {
					dir = "outbound"
				}
				t.AppendRow(table.Row{p.Host, p.Port, dir})
			}
			t.Render()
			return nil
		})
	},
}

var monitorPeersCommand = cli.Command{
	Name:  "monitorpeers",
	Usage: "stream connected-peer events until interrupted",
	Action: func(ctx *cli.Context) error {
		return withClient(ctx, func(c context.Context, client *rpcserver.AdminClient) error {
			stream, err := client.SubscribeConnectedPeers(c)
			if err != nil {
				return err
			}
			for {
				ev, err := stream.Recv()
				if err != nil {
					if err == io.EOF {
						return nil
					}
					return err
				}
				state := "disconnected"
				if ev.Connected {
					state = "connected"
				}
				fmt.Printf("%s:%d %s\n", ev.Host, ev.Port, state)
			}
		})
	},
}

var createProfileCommand = cli.Command{
	Name:      "createprofile",
	Usage:     "create a local signing profile",
	ArgsUsage: "name",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 1 {
			return cli.ShowCommandHelp(ctx, "createprofile")
		}
		name := ctx.Args().Get(0)
		return withClient(ctx, func(c context.Context, client *rpcserver.AdminClient) error {
			resp, err := client.CreateSigningProfile(c, name)
			if err != nil {
				return err
			}
			fmt.Printf("created signing profile %s with address %s\n", name, resp.Address)
			return nil
		})
	},
}

var followCommand = cli.Command{
	Name:      "follow",
	Usage:     "follow a squeak author address",
	ArgsUsage: "address",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 1 {
			return cli.ShowCommandHelp(ctx, "follow")
		}
		address := ctx.Args().Get(0)
		return withClient(ctx, func(c context.Context, client *rpcserver.AdminClient) error {
			if err := client.FollowAddress(c, address); err != nil {
				return err
			}
			fmt.Printf("now following %s\n", address)
			return nil
		})
	},
}

var unfollowCommand = cli.Command{
	Name:      "unfollow",
	Usage:     "stop following a squeak author address",
	ArgsUsage: "address",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 1 {
			return cli.ShowCommandHelp(ctx, "unfollow")
		}
		return withClient(ctx, func(c context.Context, client *rpcserver.AdminClient) error {
			return client.UnfollowAddress(c, ctx.Args().Get(0))
		})
	},
}

var setPriceCommand = cli.Command{
	Name:      "setprice",
	Usage:     "set the millisatoshi price charged for a profile's decryption keys",
	ArgsUsage: "address price_msat",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 2 {
			return cli.ShowCommandHelp(ctx, "setprice")
		}
		price, err := strconv.ParseInt(ctx.Args().Get(1), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid price %q: %w", ctx.Args().Get(1), err)
		}
		return withClient(ctx, func(c context.Context, client *rpcserver.AdminClient) error {
			return client.SetProfilePrice(c, ctx.Args().Get(0), price)
		})
	},
}

var profilesCommand = cli.Command{
	Name:  "profiles",
	Usage: "list stored profiles",
	Action: func(ctx *cli.Context) error {
		return withClient(ctx, func(c context.Context, client *rpcserver.AdminClient) error {
			resp, err := client.GetProfiles(c)
			if err != nil {
				return err
			}
			t := newTable()
			t.AppendHeader(table.Row{"address", "nickname", "following", "sharing", "price_msat", "signing"})
			for _, p := range resp.Profiles {
				t.AppendRow(table.Row{p.Address, p.Nickname, p.Following, p.Sharing, p.PriceMsat, p.Signing})
			}
			t.Render()
			return nil
		})
	},
}

var makeSqueakCommand = cli.Command{
	Name:      "makesqueak",
	Usage:     "author and broadcast a new squeak",
	ArgsUsage: "profile_address content",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "replyto", Usage: "hex hash of the squeak this replies to"},
	},
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 2 {
			return cli.ShowCommandHelp(ctx, "makesqueak")
		}
		return withClient(ctx, func(c context.Context, client *rpcserver.AdminClient) error {
			resp, err := client.MakeSqueak(c, ctx.Args().Get(0), ctx.Args().Get(1), ctx.String("replyto"))
			if err != nil {
				return err
			}
			fmt.Printf("squeak %s\n", resp.Hash)
			return nil
		})
	},
}

var timelineCommand = cli.Command{
	Name:  "timeline",
	Usage: "show recent squeaks from followed authors",
	Flags: []cli.Flag{
		cli.IntFlag{Name: "limit", Value: 20},
	},
	Action: func(ctx *cli.Context) error {
		return withClient(ctx, func(c context.Context, client *rpcserver.AdminClient) error {
			resp, err := client.GetTimelineSqueakDisplays(c, ctx.Int("limit"))
			if err != nil {
				return err
			}
			renderSqueaks(resp.Squeaks)
			return nil
		})
	},
}

var searchCommand = cli.Command{
	Name:      "search",
	Usage:     "full-text search over unlocked squeaks",
	ArgsUsage: "text",
	Flags: []cli.Flag{
		cli.IntFlag{Name: "limit", Value: 20},
	},
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 1 {
			return cli.ShowCommandHelp(ctx, "search")
		}
		return withClient(ctx, func(c context.Context, client *rpcserver.AdminClient) error {
			resp, err := client.SearchSqueaks(c, ctx.Args().Get(0), ctx.Int("limit"))
			if err != nil {
				return err
			}
			renderSqueaks(resp.Squeaks)
			return nil
		})
	},
}

var likeCommand = cli.Command{
	Name:      "like",
	Usage:     "like a squeak",
	ArgsUsage: "hash",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 1 {
			return cli.ShowCommandHelp(ctx, "like")
		}
		return withClient(ctx, func(c context.Context, client *rpcserver.AdminClient) error {
			return client.LikeSqueak(c, ctx.Args().Get(0))
		})
	},
}

var unlikeCommand = cli.Command{
	Name:      "unlike",
	Usage:     "remove a squeak's like",
	ArgsUsage: "hash",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 1 {
			return cli.ShowCommandHelp(ctx, "unlike")
		}
		return withClient(ctx, func(c context.Context, client *rpcserver.AdminClient) error {
			return client.UnlikeSqueak(c, ctx.Args().Get(0))
		})
	},
}

var deleteSqueakCommand = cli.Command{
	Name:      "deletesqueak",
	Usage:     "delete a stored squeak",
	ArgsUsage: "hash",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 1 {
			return cli.ShowCommandHelp(ctx, "deletesqueak")
		}
		return withClient(ctx, func(c context.Context, client *rpcserver.AdminClient) error {
			return client.DeleteSqueak(c, ctx.Args().Get(0))
		})
	},
}

var addPeerCommand = cli.Command{
	Name:      "addpeer",
	Usage:     "store a peer record",
	ArgsUsage: "host port",
	Flags: []cli.Flag{
		cli.BoolFlag{Name: "autoconnect", Usage: "dial this peer automatically"},
		cli.BoolFlag{Name: "share", Usage: "upload squeaks to this peer"},
	},
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 2 {
			return cli.ShowCommandHelp(ctx, "addpeer")
		}
		port, err := parsePort(ctx.Args().Get(1))
		if err != nil {
			return err
		}
		return withClient(ctx, func(c context.Context, client *rpcserver.AdminClient) error {
			return client.CreatePeer(c, ctx.Args().Get(0), port, ctx.Bool("autoconnect"), ctx.Bool("share"))
		})
	},
}

var listPeersCommand = cli.Command{
	Name:  "listpeers",
	Usage: "list stored peer records",
	Action: func(ctx *cli.Context) error {
		return withClient(ctx, func(c context.Context, client *rpcserver.AdminClient) error {
			resp, err := client.GetPeers(c)
			if err != nil {
				return err
			}
			t := newTable()
			t.AppendHeader(table.Row{"host", "port", "autoconnect", "share"})
			for _, p := range resp.Peers {
				t.AppendRow(table.Row{p.Host, p.Port, p.Autoconnect, p.Share})
			}
			t.Render()
			return nil
		})
	},
}

var autoconnectCommand = cli.Command{
	Name:      "autoconnect",
	Usage:     "set a stored peer's autoconnect flag",
	ArgsUsage: "host port on|off",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 3 {
			return cli.ShowCommandHelp(ctx, "autoconnect")
		}
		port, err := parsePort(ctx.Args().Get(1))
		if err != nil {
			return err
		}
		on := ctx.Args().Get(2) == "on"
		return withClient(ctx, func(c context.Context, client *rpcserver.AdminClient) error {
			return client.SetPeerAutoconnect(c, ctx.Args().Get(0), port, on)
		})
	},
}

var removePeerCommand = cli.Command{
	Name:      "removepeer",
	Usage:     "delete a stored peer record",
	ArgsUsage: "host port",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 2 {
			return cli.ShowCommandHelp(ctx, "removepeer")
		}
		port, err := parsePort(ctx.Args().Get(1))
		if err != nil {
			return err
		}
		return withClient(ctx, func(c context.Context, client *rpcserver.AdminClient) error {
			return client.DeletePeer(c, ctx.Args().Get(0), port)
		})
	},
}

var downloadCommand = cli.Command{
	Name:  "download",
	Usage: "trigger a sync action against connected peers",
	Subcommands: []cli.Command{
		{
			Name:  "squeaks",
			Usage: "download squeaks in the current sync window",
			Action: func(ctx *cli.Context) error {
				return withClient(ctx, func(c context.Context, client *rpcserver.AdminClient) error {
					return client.DownloadSqueaks(c)
				})
			},
		},
		{
			Name:      "squeak",
			Usage:     "download one squeak by hash",
			ArgsUsage: "hash",
			Action: func(ctx *cli.Context) error {
				if ctx.NArg() != 1 {
					return cli.ShowCommandHelp(ctx, "squeak")
				}
				return withClient(ctx, func(c context.Context, client *rpcserver.AdminClient) error {
					return client.DownloadSqueak(c, ctx.Args().Get(0))
				})
			},
		},
		{
			Name:      "offers",
			Usage:     "refresh decryption-key offers for a locked squeak",
			ArgsUsage: "hash",
			Action: func(ctx *cli.Context) error {
				if ctx.NArg() != 1 {
					return cli.ShowCommandHelp(ctx, "offers")
				}
				return withClient(ctx, func(c context.Context, client *rpcserver.AdminClient) error {
					return client.DownloadOffers(c, ctx.Args().Get(0))
				})
			},
		},
		{
			Name:      "replies",
			Usage:     "download the reply thread under a squeak",
			ArgsUsage: "hash",
			Action: func(ctx *cli.Context) error {
				if ctx.NArg() != 1 {
					return cli.ShowCommandHelp(ctx, "replies")
				}
				return withClient(ctx, func(c context.Context, client *rpcserver.AdminClient) error {
					return client.DownloadReplies(c, ctx.Args().Get(0))
				})
			},
		},
		{
			Name:      "address",
			Usage:     "download everything one author has squeaked",
			ArgsUsage: "address",
			Action: func(ctx *cli.Context) error {
				if ctx.NArg() != 1 {
					return cli.ShowCommandHelp(ctx, "address")
				}
				return withClient(ctx, func(c context.Context, client *rpcserver.AdminClient) error {
					return client.DownloadAddressSqueaks(c, ctx.Args().Get(0))
				})
			},
		},
	},
}

var offersCommand = cli.Command{
	Name:      "offers",
	Usage:     "list saved decryption-key offers for a squeak",
	ArgsUsage: "hash",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 1 {
			return cli.ShowCommandHelp(ctx, "offers")
		}
		return withClient(ctx, func(c context.Context, client *rpcserver.AdminClient) error {
			resp, err := client.GetBuyOffers(c, ctx.Args().Get(0))
			if err != nil {
				return err
			}
			t := newTable()
			t.AppendHeader(table.Row{"peer", "port", "price_msat", "expires"})
			for _, o := range resp.Offers {
				t.AppendRow(table.Row{o.PeerHost, o.PeerPort, o.PriceMsat, o.ExpiryUnix})
			}
			t.Render()
			return nil
		})
	},
}

var payOfferCommand = cli.Command{
	Name:      "payoffer",
	Usage:     "pay a saved offer and unlock the squeak",
	ArgsUsage: "hash peer_host peer_port",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 3 {
			return cli.ShowCommandHelp(ctx, "payoffer")
		}
		port, err := parsePort(ctx.Args().Get(2))
		if err != nil {
			return err
		}
		return withClient(ctx, func(c context.Context, client *rpcserver.AdminClient) error {
			if err := client.PayOffer(c, ctx.Args().Get(0), ctx.Args().Get(1), port); err != nil {
				return err
			}
			fmt.Println("paid; squeak unlocked")
			return nil
		})
	},
}

var sentPaymentsCommand = cli.Command{
	Name:  "sentpayments",
	Usage: "list payments this node has sent for decryption keys",
	Flags: []cli.Flag{
		cli.IntFlag{Name: "limit", Value: 50},
	},
	Action: func(ctx *cli.Context) error {
		return withClient(ctx, func(c context.Context, client *rpcserver.AdminClient) error {
			resp, err := client.GetSentPayments(c, ctx.Int("limit"))
			if err != nil {
				return err
			}
			t := newTable()
			t.AppendHeader(table.Row{"hash", "peer", "amount_msat", "settled", "error"})
			for _, p := range resp.Payments {
				t.AppendRow(table.Row{p.Hash, fmt.Sprintf("%s:%d", p.PeerHost, p.PeerPort), p.AmountMsat, p.Settled, p.Error})
			}
			t.Render()
			return nil
		})
	},
}

var lndInfoCommand = cli.Command{
	Name:  "lndinfo",
	Usage: "show the backing lnd node's status",
	Action: func(ctx *cli.Context) error {
		return withClient(ctx, func(c context.Context, client *rpcserver.AdminClient) error {
			info, err := client.LndGetInfo(c)
			if err != nil {
				return err
			}
			t := newTable()
			t.AppendRow(table.Row{"identity_pubkey", info.IdentityPubkey})
			t.AppendRow(table.Row{"alias", info.Alias})
			t.AppendRow(table.Row{"block_height", info.BlockHeight})
			t.AppendRow(table.Row{"synced_to_chain", info.SyncedToChain})
			t.AppendRow(table.Row{"active_channels", info.NumActiveChannels})
			t.Render()
			return nil
		})
	},
}

var walletBalanceCommand = cli.Command{
	Name:  "walletbalance",
	Usage: "show the backing lnd node's on-chain balance",
	Action: func(ctx *cli.Context) error {
		return withClient(ctx, func(c context.Context, client *rpcserver.AdminClient) error {
			bal, err := client.LndWalletBalance(c)
			if err != nil {
				return err
			}
			t := newTable()
			t.AppendRow(table.Row{"total", bal.TotalBalance})
			t.AppendRow(table.Row{"confirmed", bal.ConfirmedBalance})
			t.AppendRow(table.Row{"unconfirmed", bal.UnconfirmedBalance})
			t.Render()
			return nil
		})
	},
}

var channelsCommand = cli.Command{
	Name:  "channels",
	Usage: "list the backing lnd node's channels",
	Action: func(ctx *cli.Context) error {
		return withClient(ctx, func(c context.Context, client *rpcserver.AdminClient) error {
			resp, err := client.LndListChannels(c)
			if err != nil {
				return err
			}
			t := newTable()
			t.AppendHeader(table.Row{"remote_pubkey", "channel_point", "capacity_msat", "local", "remote", "active"})
			for _, ch := range resp.Channels {
				t.AppendRow(table.Row{ch.RemotePubkey, ch.ChannelPoint, ch.CapacityMsat, ch.LocalBalance, ch.RemoteBalance, ch.Active})
			}
			t.Render()
			return nil
		})
	},
}
