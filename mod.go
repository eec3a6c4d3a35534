// Package rexec implements a resource-oriented transaction execution kernel.
//
// Transactions are ordered lists of instructions that run on a stack of call
// frames against a versioned substate store. Resources are first-class: they
// live in containers that can only be split, merged, locked and unlocked, and
// the kernel refuses any operation that would create or destroy value outside
// of an authorized mint or burn.
package rexec

import (
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// logout writes to the standard error so that the output of the commands
// stays parseable.
var logout = zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: time.RFC3339,
}

// Logger is a globally available logger instance.
var Logger = zerolog.New(logout).
	With().Timestamp().Logger().
	With().Caller().Logger().
	Level(zerolog.InfoLevel)

// PromCollectors exposes the Prometheus collectors created by the packages so
// that an application can register them.
var PromCollectors []prometheus.Collector
