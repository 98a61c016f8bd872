package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	flags "github.com/jessevdk/go-flags"

	"github.com/squeaknode/squeaknode/lightning"
	"github.com/squeaknode/squeaknode/network"
	"github.com/squeaknode/squeaknode/rpcserver"
	"github.com/squeaknode/squeaknode/store"
	"github.com/squeaknode/squeaknode/subscription"
	"github.com/squeaknode/squeaknode/wire"
)

// storeAddressSource adapts store.SqueakStore's GetAutoconnectPeers/
// GetLearnedAddresses to network.AddressSource's AutoconnectPeers/
// LearnedAddresses names, since the store interface (spec §6) and the
// network package's consumer-side interface (spec §4.E/§4.I) were named
// independently.
type storeAddressSource struct {
	st store.SqueakStore
}

func (s storeAddressSource) AutoconnectPeers() ([]wire.PeerAddress, error) {
	return s.st.GetAutoconnectPeers()
}

func (s storeAddressSource) LearnedAddresses() ([]wire.PeerAddress, error) {
	return s.st.GetLearnedAddresses()
}

// squeaknodedMain is the true entry point, separated from main so deferred
// cleanups run even on early return, matching the teacher's lndMain/main
// split in lnd.go.
func squeaknodedMain() error {
	loadedConfig, err := loadConfig()
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			return nil
		}
		return err
	}
	cfg = loadedConfig

	if err := initLogRotator(
		fmt.Sprintf("%s/%s", cfg.LogDir, defaultLogFilename),
		defaultMaxLogFileSize, defaultMaxLogFiles,
	); err != nil {
		return fmt.Errorf("init log rotator: %w", err)
	}
	setLogLevel(cfg.DebugLevel)
	defer backendLog.Flush()

	ltndLog.Infof("starting squeaknoded, network=%s", cfg.Network)

	net_, err := parseNetwork(cfg.Network)
	if err != nil {
		return err
	}

	st, err := openStore(cfg.DB.ConnectionString, cfg.Sync.BlockRangeWindow)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	var ln lightning.Client
	if cfg.Lightning.Host != "" {
		grpcClient, err := lightning.Dial(
			cfg.Lightning.Host, cfg.Lightning.TLSCertPath,
			cfg.Lightning.MacaroonPath, time.Minute, net_.ChainParams(),
		)
		if err != nil {
			ltndLog.Warnf("lightning backend unavailable, payments disabled: %v", err)
		} else {
			defer grpcClient.Close()
			ln = grpcClient
		}
	}

	hub := subscription.NewHub()

	app := newNodeApp(net_, st, hub, ln, time.Minute, cfg.Sqk.PriceMsat)

	mgr := network.NewManager(cfg.networkManagerConfig(net_), app.handlers(), hub)
	app.manager = mgr

	addrSource := storeAddressSource{st: st}
	if err := mgr.Start(addrSource); err != nil {
		return fmt.Errorf("start network manager: %w", err)
	}
	defer mgr.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go app.syncLoop(ctx, cfg.Sync.IntervalS)

	admin, err := rpcserver.New(rpcserver.Config{
		ListenAddr:   fmt.Sprintf("%s:%d", cfg.Server.RPCHost, cfg.Server.RPCPort),
		MacaroonPath: adminMacaroonPath(cfg),
		Network:      net_,
	}, mgr, st, hub, app, ln)
	if err != nil {
		return fmt.Errorf("create admin server: %w", err)
	}

	serveErrors := make(chan error, 1)
	go func() {
		ltndLog.Infof("admin rpc server listening on %s:%d", cfg.Server.RPCHost, cfg.Server.RPCPort)
		serveErrors <- admin.Serve()
	}()
	defer admin.Stop()

	addInterruptHandler(func() {
		ltndLog.Infof("received shutdown signal")
	})

	select {
	case <-interceptShutdownChannel():
	case err := <-serveErrors:
		if err != nil {
			ltndLog.Errorf("admin rpc server exited: %v", err)
		}
	}

	ltndLog.Infof("shutting down")
	return nil
}

// adminMacaroonPath is where the admin server bakes its own macaroon on
// start, kept apart from lnd's macaroon the lightning client reads.
func adminMacaroonPath(cfg *config) string {
	return fmt.Sprintf("%s/admin.macaroon", cfg.DataDir)
}

// openStore selects the SqueakStore implementation by connection-string
// scheme (spec §6 db.connection_string): sqlite:// for the shipped
// SQLiteStore reference implementation, mem:// for the in-memory
// implementation used in development and tests.
func openStore(connString string, blockRangeWindow int) (store.SqueakStore, error) {
	defaultRange := store.BlockRange{MinBlock: 0, MaxBlock: int32(blockRangeWindow)}

	switch {
	case strings.HasPrefix(connString, "sqlite://"):
		return store.OpenSQLite(strings.TrimPrefix(connString, "sqlite://"), defaultRange)
	case strings.HasPrefix(connString, "mem://"), connString == "":
		return store.NewMemoryStore(defaultRange), nil
	default:
		return nil, fmt.Errorf("unsupported db.connection_string scheme: %q (see DESIGN.md)", connString)
	}
}

func main() {
	runtime.GOMAXPROCS(runtime.NumCPU())

	if err := squeaknodedMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
