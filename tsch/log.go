package tsch

import (
	"os"

	"github.com/charmbracelet/log"
)

/*------------------------------------------------------------------
 *
 * Purpose:	Structured logging bootstrap.
 *
 * Description:	A single *log.Logger is built here and threaded into
 *		MAC at construction; no component below MAC reaches for a
 *		package-level global. Levels follow the teacher's
 *		dw_printf/DW_COLOR_DEBUG convention: Debug for per-slot/
 *		per-packet hot-path detail, Info for state transitions,
 *		Warn for missed deadlines and NACKs, Error for radio/
 *		allocation failures.
 *
 *------------------------------------------------------------------*/

// NewLogger returns a charmbracelet/log logger writing to stderr at
// Info level, suitable as a MACConfig.Logger default.
func NewLogger() *log.Logger {
	return log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Level:           log.InfoLevel,
	})
}

// NewLoggerAt returns a logger at the given level, for callers (e.g.
// cmd/tsch-node's -debug flag) that want Debug-level per-slot tracing.
func NewLoggerAt(level log.Level) *log.Logger {
	return log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Level:           level,
	})
}
