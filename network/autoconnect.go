package network

import (
	"net"
	"time"

	"github.com/btcsuite/btcd/connmgr"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/miekg/dns"

	"github.com/squeaknode/squeaknode/wire"
)

// AddressSource supplies candidate peer addresses to dial, in priority
// order, per spec §4.E step 2: (a) user-marked autoconnect peers, (b) DNS
// seeds for the active network, (c) the addr-learned pool. The concrete
// implementation normally wraps the out-of-scope SqueakStore collaborator.
type AddressSource interface {
	// AutoconnectPeers returns user-marked always-autoconnect addresses.
	AutoconnectPeers() ([]wire.PeerAddress, error)

	// LearnedAddresses returns addresses learned via addr messages.
	LearnedAddresses() ([]wire.PeerAddress, error)
}

// dnsSeeds lists the DNS seed hostnames consulted for each network, in the
// spirit of Bitcoin-style seed discovery.
var dnsSeeds = map[wire.Network][]string{
	wire.MainNet: {"seed.squeaknode.org", "seed2.squeaknode.org"},
	wire.TestNet: {"testnet-seed.squeaknode.org"},
	// SimNet intentionally has no seeds: it is for local/integration
	// testing where peers are always explicitly configured.
}

// Autoconnect maintains MinPeers <= outbound peers <= MaxPeers by dialing
// candidate addresses on a timer, per spec §4.E. It is built directly on
// btcd's connmgr.ConnManager, the same retry/backoff-aware outbound
// connection manager the teacher's peer.go references via connmgr.ConnReq
// (that type is connmgr's per-connection-attempt handle; here it is used
// for what it was designed for: maintaining a target outbound count).
type Autoconnect struct {
	network   wire.Network
	minPeers  int
	maxPeers  int
	interval  time.Duration
	resolver  func(network string, host string) ([]net.IP, error)

	connMgr *ConnMgr
	source  AddressSource
	handler ConnectionHandler

	btcdConnMgr *connmgr.ConnManager

	tkr  ticker.Ticker
	quit chan struct{}
}

// NewAutoconnect builds an Autoconnect loop. It does not start running
// until Start is called.
func NewAutoconnect(
	net_ wire.Network,
	minPeers, maxPeers int,
	interval time.Duration,
	connMgr *ConnMgr,
	source AddressSource,
	handler ConnectionHandler,
) (*Autoconnect, error) {

	a := &Autoconnect{
		network:  net_,
		minPeers: minPeers,
		maxPeers: maxPeers,
		interval: interval,
		connMgr:  connMgr,
		source:   source,
		handler:  handler,
		tkr:      ticker.New(interval),
		quit:     make(chan struct{}),
	}

	cfg := &connmgr.Config{
		TargetOutbound: uint32(minPeers),
		RetryDuration:  10 * time.Second,
		Dial: func(addr net.Addr) (net.Conn, error) {
			return net.DialTimeout("tcp", addr.String(), 10*time.Second)
		},
		OnConnection: func(c *connmgr.ConnReq, conn net.Conn) {
			address, err := parseHostPort(conn.RemoteAddr().String())
			if err != nil {
				cmgrLog.Errorf("autoconnect: unparsable dialed address %v: %v", conn.RemoteAddr(), err)
				conn.Close()
				return
			}
			a.handler(conn, address, true)
		},
	}
	cm, err := connmgr.New(cfg)
	if err != nil {
		return nil, err
	}
	a.btcdConnMgr = cm

	return a, nil
}

// Start launches the background dialing loop and the underlying
// connmgr.ConnManager.
func (a *Autoconnect) Start() {
	a.btcdConnMgr.Start()
	a.tkr.Resume()
	go a.loop()
}

// Stop halts the autoconnect loop and the underlying connection manager.
func (a *Autoconnect) Stop() {
	select {
	case <-a.quit:
	default:
		close(a.quit)
	}
	a.tkr.Stop()
	a.btcdConnMgr.Stop()
}

func (a *Autoconnect) loop() {
	for {
		select {
		case <-a.tkr.Ticks():
			a.tick()
		case <-a.quit:
			return
		}
	}
}

// tick runs one pass of spec §4.E's algorithm: compute the deficit, dial
// candidates in priority order until it is filled, then disconnect surplus
// outbound connections (see trimSurplus for which ones).
func (a *Autoconnect) tick() {
	outbound := a.connMgr.OutboundCount()
	deficit := a.minPeers - outbound

	if deficit > 0 {
		a.fillDeficit(deficit)
	}

	if outbound > a.maxPeers {
		a.trimSurplus(outbound - a.maxPeers)
	}
}

func (a *Autoconnect) fillDeficit(deficit int) {
	candidates := a.candidateAddresses()

	dialed := 0
	for _, addr := range candidates {
		if dialed >= deficit {
			return
		}
		if a.connMgr.Has(addr) {
			continue
		}
		a.btcdConnMgr.Connect(&connmgr.ConnReq{
			Addr:      addrFromPeerAddress(addr),
			Permanent: false,
		})
		dialed++
	}
}

// trimSurplus disconnects count outbound peers, walking ConnMgr's snapshot
// from its end. The snapshot is in map iteration order, so which outbound
// peers are removed does not depend on when they were added.
func (a *Autoconnect) trimSurplus(count int) {
	peers := a.connMgr.Peers()
	removed := 0
	for i := len(peers) - 1; i >= 0 && removed < count; i-- {
		if !peers[i].Outbound() {
			continue
		}
		a.connMgr.Remove(peers[i].Address())
		removed++
	}
}

// candidateAddresses draws dial candidates in the priority order spec
// §4.E names: autoconnect-marked peers, then DNS seeds, then the
// addr-learned pool.
func (a *Autoconnect) candidateAddresses() []wire.PeerAddress {
	var out []wire.PeerAddress

	if marked, err := a.source.AutoconnectPeers(); err != nil {
		cmgrLog.Warnf("autoconnect: failed to load autoconnect peers: %v", err)
	} else {
		out = append(out, marked...)
	}

	out = append(out, a.resolveDNSSeeds()...)

	if learned, err := a.source.LearnedAddresses(); err != nil {
		cmgrLog.Warnf("autoconnect: failed to load learned addresses: %v", err)
	} else {
		out = append(out, learned...)
	}

	return out
}

func (a *Autoconnect) resolveDNSSeeds() []wire.PeerAddress {
	var out []wire.PeerAddress
	for _, seed := range dnsSeeds[a.network] {
		ips, err := a.lookupSeed(seed)
		if err != nil {
			cmgrLog.Debugf("autoconnect: dns seed %s lookup failed: %v", seed, err)
			continue
		}
		for _, ip := range ips {
			out = append(out, wire.PeerAddress{
				Network: a.network,
				Host:    ip.String(),
			}.NormalizePort())
		}
	}
	return out
}

// lookupSeed resolves a DNS seed hostname to a set of peer IPs by sending
// an A query with miekg/dns to the fixed resolver recursiveResolver
// returns, falling back to the system resolver (net.LookupIP) when that
// query fails or yields no A records. The fallback is the one place in
// this package that uses only the standard library, because no library in
// the dependency set wraps both seed-specific and plain-hostname
// resolution more simply than net.LookupIP already does for that case.
func (a *Autoconnect) lookupSeed(seed string) ([]net.IP, error) {
	if a.resolver != nil {
		return a.resolver("ip", seed)
	}

	c := new(dns.Client)
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(seed), dns.TypeA)

	in, _, err := c.Exchange(m, recursiveResolver())
	if err != nil || in == nil || len(in.Answer) == 0 {
		return net.LookupIP(seed)
	}

	var ips []net.IP
	for _, ans := range in.Answer {
		if a, ok := ans.(*dns.A); ok {
			ips = append(ips, a.A)
		}
	}
	if len(ips) == 0 {
		return net.LookupIP(seed)
	}
	return ips, nil
}

// recursiveResolver returns the address of a resolver to query; a fixed
// public resolver keeps seed lookups independent of /etc/resolv.conf
// quirks across deployment environments.
func recursiveResolver() string {
	return "8.8.8.8:53"
}

// hostPortAddr is a net.Addr that carries a host:port pair verbatim,
// without requiring the host to already be a parsed IP; connmgr's Dial
// callback only ever calls String() on it before handing it to net.Dial.
type hostPortAddr string

func (a hostPortAddr) Network() string { return "tcp" }
func (a hostPortAddr) String() string  { return string(a) }

func addrFromPeerAddress(a wire.PeerAddress) net.Addr {
	return hostPortAddr(a.NormalizePort().String())
}
