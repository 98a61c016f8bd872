package main

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// interruptChannel receives the first shutdown signal delivered, and
// shutdownRequestChannel is closed when any internal component asks for a
// graceful shutdown (mirroring lnd.go's own shutdownChannel, generalized
// to also accept internally-triggered shutdown requests).
var (
	interruptChannel       = make(chan os.Signal, 1)
	shutdownRequestChannel = make(chan struct{})

	simulateInterrupt = make(chan struct{})

	shutdownChannel = make(chan struct{})

	once sync.Once
)

// addInterruptHandler registers signal handlers for SIGINT/SIGTERM so the
// first one received begins an orderly shutdown, and additional signals are
// ignored so operators can hold down ctrl-C without forcing a hard kill.
func addInterruptHandler(handlers ...func()) {
	once.Do(func() {
		signal.Notify(interruptChannel, os.Interrupt, syscall.SIGTERM)

		go func() {
			select {
			case <-interruptChannel:
			case <-shutdownRequestChannel:
			case <-simulateInterrupt:
			}
			close(shutdownChannel)

			for _, h := range handlers {
				h()
			}
		}()
	})
}

// interceptShutdownChannel returns a channel closed once a shutdown has
// been requested, for goroutines that need to select on it.
func interceptShutdownChannel() <-chan struct{} {
	return shutdownChannel
}

// requestShutdown asks the interrupt handler to begin a graceful shutdown
// without an external signal, for use by internal fatal-error paths (spec
// §7: "Fatal: ... terminate process after logging").
func requestShutdown() {
	select {
	case <-shutdownChannel:
	default:
		close(shutdownRequestChannel)
	}
}
