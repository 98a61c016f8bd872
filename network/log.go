package network

import "github.com/btcsuite/btclog"

// log is the package-level logger for peer-session concerns (handshake,
// message dispatch, keepalive). cmgrLog covers ConnMgr/Manager/Autoconnect
// concerns (connection lifecycle, not per-message chatter). Both default to
// the disabled logger so tests and library callers aren't forced to wire
// logging before use, per lnd's own per-package UseLogger convention.
var (
	log     = btclog.Disabled
	cmgrLog = btclog.Disabled
)

// UseLogger sets the loggers used by this package. peerLogger receives
// per-peer session/dispatch logs; connMgrLogger receives connection
// manager and autoconnect lifecycle logs.
func UseLogger(peerLogger, connMgrLogger btclog.Logger) {
	log = peerLogger
	cmgrLog = connMgrLogger
}

// logClosure is a closure over a function that returns a string, deferring
// potentially expensive formatting (e.g. spew.Sdump) until the log line is
// actually emitted, mirroring lnd's own newLogClosure helper.
type logClosure func() string

func (c logClosure) String() string {
	return c()
}

func newLogClosure(fn func() string) logClosure {
	return logClosure(fn)
}
