package wire

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
)

// Network identifies which squeak network a PeerAddress or message belongs
// to. The three networks never share peers, magic bytes, or default ports.
type Network uint8

const (
	// MainNet is the production squeak network.
	MainNet Network = iota

	// TestNet is the public test network.
	TestNet

	// SimNet is a network intended for private integration testing.
	SimNet
)

// String returns the human readable name of the network.
func (n Network) String() string {
	switch n {
	case MainNet:
		return "mainnet"
	case TestNet:
		return "testnet"
	case SimNet:
		return "simnet"
	default:
		return fmt.Sprintf("unknown-network(%d)", uint8(n))
	}
}

// magic returns the four magic bytes that prefix every wire message on this
// network. A peer that receives a message with the wrong magic for its
// network is talking to a misconfigured or malicious counterpart.
func (n Network) magic() uint32 {
	switch n {
	case MainNet:
		return 0x53716b31 // "Sqk1"
	case TestNet:
		return 0x53716b74 // "Sqkt"
	case SimNet:
		return 0x53716b73 // "Sqks"
	default:
		return 0
	}
}

// DefaultPort returns the default listening port for the network. Port 0 on
// a PeerAddress means "use this".
func (n Network) DefaultPort() uint16 {
	switch n {
	case MainNet:
		return 8368
	case TestNet:
		return 18368
	case SimNet:
		return 18555
	default:
		return 0
	}
}

// ChainParams returns the btcsuite chain parameters matching this squeak
// network, used to check a BOLT-11 invoice's human-readable prefix
// (zpay32.Decode's net argument) against the network the offer that
// carried it arrived on.
func (n Network) ChainParams() *chaincfg.Params {
	switch n {
	case MainNet:
		return &chaincfg.MainNetParams
	case TestNet:
		return &chaincfg.TestNet3Params
	case SimNet:
		return &chaincfg.SimNetParams
	default:
		return &chaincfg.MainNetParams
	}
}

// PeerAddress identifies a remote squeak node. Equality is structural, with
// the host compared case-insensitively. Port 0 means "default for network"
// and is resolved via NormalizePort before being used as a map key.
type PeerAddress struct {
	Network Network
	Host    string
	Port    uint16
}

// NormalizePort returns a copy of the address with Port 0 replaced by the
// network's default port.
func (a PeerAddress) NormalizePort() PeerAddress {
	if a.Port == 0 {
		a.Port = a.Network.DefaultPort()
	}
	return a
}

// String returns "host:port" for use in logs and dial calls.
func (a PeerAddress) String() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// Equal reports whether two addresses identify the same peer. Host
// comparison is case-insensitive; both addresses are compared after
// normalizing the default port so that Port 0 and the network's default
// port are considered the same peer.
func (a PeerAddress) Equal(o PeerAddress) bool {
	na, no := a.NormalizePort(), o.NormalizePort()
	return na.Network == no.Network &&
		strings.EqualFold(na.Host, no.Host) &&
		na.Port == no.Port
}

// Key returns a value suitable for use as a map key uniquely identifying
// this address. ConnMgr uses this instead of the struct directly so that
// Port 0/default-port and differently-cased hosts collide on purpose.
func (a PeerAddress) Key() PeerAddress {
	na := a.NormalizePort()
	na.Host = strings.ToLower(na.Host)
	return na
}
