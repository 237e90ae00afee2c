package crow

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
)

// logger is the package-level structured logger used for the one
// log-worthy event this package defines: fatal protocol desync (see
// fatalDesync). Lock.OnContest is a caller-supplied callback and does not
// go through this logger. Every other outcome in this package — every
// ErrBlocked, SendErr, ErrMustSend, ErrContested, and ErrInvalidSymbol — is returned to the caller
// in silence; these are expected, transient conditions a well-behaved
// caller retries, not events worth a log line.
var logger = log.NewWithOptions(os.Stderr, log.Options{
	ReportTimestamp: true,
	Prefix:          "crow",
})

// fatalDesync logs the desynchronized endpoint and state, then panics.
// This is a programming-error path: the protocol has been broken by
// misuse (e.g. sharing one endpoint across more than the two parties it
// was constructed for), not a condition a well-behaved caller can hit
// through ordinary retry.
func fatalDesync(endpoint, detail string) {
	logger.Error("protocol desynchronized", "endpoint", endpoint, "detail", detail)
	panic(fmt.Sprintf("crow: %s desynchronized: %s", endpoint, detail))
}
