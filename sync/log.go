package sync

import "github.com/btcsuite/btclog"

// log is the package-level logger, defaulting to disabled per lnd's
// per-package UseLogger convention.
var log = btclog.Disabled

// UseLogger sets the logger used by this package.
func UseLogger(logger btclog.Logger) {
	log = logger
}
