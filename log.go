package main

// Subsystem logging wiring, modeled directly on lnd's own log.go: every
// package that logs owns a package-level btclog.Logger plus a UseLogger
// setter, and this file is the single place that creates backends and
// assigns them to each subsystem's logger by name.

import (
	"os"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"

	"github.com/squeaknode/squeaknode/network"
	"github.com/squeaknode/squeaknode/rpcserver"
	"github.com/squeaknode/squeaknode/subscription"
	"github.com/squeaknode/squeaknode/sync"
)

// logWriter implements an io.Writer that outputs to both standard output
// and the log rotator.
type logWriter struct {
	rotator *rotator.Rotator
}

func (w *logWriter) Write(p []byte) (n int, err error) {
	os.Stdout.Write(p)
	return w.rotator.Write(p)
}

// backendLog is the logging backend used to create all subsystem loggers.
// The backend itself is initialized in initLogRotator.
var backendLog = btclog.NewBackend(os.Stdout)

// subsystemLoggers maps each subsystem tag to its logger, so that log level
// changes made via config or admin RPC can be applied to all of them.
var subsystemLoggers = make(map[string]btclog.Logger)

var (
	ltndLog = backendLog.Logger("SQKD")
	srvrLog = backendLog.Logger("SRVR")
	peerLog = backendLog.Logger("PEER")
	cmgrLog = backendLog.Logger("CMGR")
	syncLog = backendLog.Logger("SYNC")
	subsLog = backendLog.Logger("SUBS")
	rpcsLog = backendLog.Logger("RPCS")
)

func init() {
	subsystemLoggers["SQKD"] = ltndLog
	subsystemLoggers["SRVR"] = srvrLog
	subsystemLoggers["PEER"] = peerLog
	subsystemLoggers["CMGR"] = cmgrLog
	subsystemLoggers["SYNC"] = syncLog
	subsystemLoggers["SUBS"] = subsLog
	subsystemLoggers["RPCS"] = rpcsLog

	network.UseLogger(peerLog, cmgrLog)
	sync.UseLogger(syncLog)
	subscription.UseLogger(subsLog)
	rpcserver.UseLogger(rpcsLog)
}

// setLogLevel assigns a log level to every registered subsystem logger.
// Valid levels are those accepted by btclog.LevelFromString.
func setLogLevel(levelStr string) {
	level, ok := btclog.LevelFromString(levelStr)
	if !ok {
		return
	}
	for _, logger := range subsystemLoggers {
		logger.SetLevel(level)
	}
}

// initLogRotator initializes the logging rotator to write logs to logFile
// and create roll files in the same directory. It should be called as
// early as possible in startup, and the log filepath should already be
// set via the loaded configuration.
func initLogRotator(logFile string, maxLogFileSize, maxLogFiles int) error {
	r, err := rotator.New(logFile, int64(maxLogFileSize*1024), false, maxLogFiles)
	if err != nil {
		return err
	}
	backendLog = btclog.NewBackend(&logWriter{rotator: r})

	ltndLog = backendLog.Logger("SQKD")
	srvrLog = backendLog.Logger("SRVR")
	peerLog = backendLog.Logger("PEER")
	cmgrLog = backendLog.Logger("CMGR")
	syncLog = backendLog.Logger("SYNC")
	subsLog = backendLog.Logger("SUBS")
	rpcsLog = backendLog.Logger("RPCS")

	subsystemLoggers["SQKD"] = ltndLog
	subsystemLoggers["SRVR"] = srvrLog
	subsystemLoggers["PEER"] = peerLog
	subsystemLoggers["CMGR"] = cmgrLog
	subsystemLoggers["SYNC"] = syncLog
	subsystemLoggers["SUBS"] = subsLog
	subsystemLoggers["RPCS"] = rpcsLog

	network.UseLogger(peerLog, cmgrLog)
	sync.UseLogger(syncLog)
	subscription.UseLogger(subsLog)
	rpcserver.UseLogger(rpcsLog)

	return nil
}
