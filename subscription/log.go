package subscription

import "github.com/btcsuite/btclog"

var subsLog = btclog.Disabled

// UseLogger sets the logger used by this package.
func UseLogger(logger btclog.Logger) {
	subsLog = logger
}
