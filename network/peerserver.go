package network

import (
	"fmt"
	"net"

	"github.com/squeaknode/squeaknode/wire"
)

// ConnectionHandler is invoked once per established socket, inbound or
// outbound, and owns the full lifecycle of the resulting Peer: building it,
// registering it with a ConnMgr, and running its message loop. It mirrors
// NetworkManager.handle_connection in the original Python source, which
// blocks for the duration of the connection.
type ConnectionHandler func(conn net.Conn, address wire.PeerAddress, outgoing bool)

// PeerServer accepts inbound connections and hands each one to a
// ConnectionHandler. It is the server-side half of the REDESIGN FLAG in
// spec §9 that splits the old single PeerClient constructor into two
// distinct roles: PeerServer, together with the outbound dialing done by
// Manager.ConnectPeer and Autoconnect, is the "server-side client" role,
// separate from the per-sync PeerRPCClient stub in peerclient.go.
type PeerServer struct {
	listener net.Listener
	handler  ConnectionHandler

	quit chan struct{}
}

// NewPeerServer binds a TCP listener at bindAddr and prepares to hand
// accepted connections to handler. It does not start accepting until
// Start is called.
func NewPeerServer(bindAddr string, handler ConnectionHandler) (*PeerServer, error) {
	l, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", bindAddr, err)
	}
	return &PeerServer{
		listener: l,
		handler:  handler,
		quit:     make(chan struct{}),
	}, nil
}

// Start launches the accept loop in the background.
func (s *PeerServer) Start() {
	go s.acceptLoop()
}

// Addr returns the address the server is listening on.
func (s *PeerServer) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *PeerServer) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				cmgrLog.Errorf("accept failed: %v", err)
				return
			}
		}

		remote, err := parseHostPort(conn.RemoteAddr().String())
		if err != nil {
			cmgrLog.Warnf("rejecting inbound connection with unparsable address: %v", err)
			conn.Close()
			continue
		}

		go s.handler(conn, remote, false)
	}
}

// Stop closes the listener, unblocking the accept loop.
func (s *PeerServer) Stop() {
	select {
	case <-s.quit:
	default:
		close(s.quit)
	}
	s.listener.Close()
}

func parseHostPort(hostport string) (wire.PeerAddress, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return wire.PeerAddress{}, err
	}
	var port uint16
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return wire.PeerAddress{}, fmt.Errorf("bad port %q: %w", portStr, err)
	}
	return wire.PeerAddress{Host: host, Port: port}, nil
}
