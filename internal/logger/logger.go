// Package logger configures the process-wide zerolog logger.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init sets up zerolog.log.Logger for the given environment. In development
// it renders a human-readable console stream; otherwise it emits JSON lines
// suitable for a log aggregator.
func Init(environment string, debug bool) {
	zerolog.TimeFieldFormat = time.RFC3339

	var output io.Writer = os.Stdout
	if environment == "development" {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
	}

	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}

	log.Logger = zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Logger().
		Level(level)
}

// WithRun returns a logger pre-tagged with run identity, the way handlers
// tag requests with a request id.
func WithRun(runID, workflowID string) zerolog.Logger {
	return log.With().Str("run_id", runID).Str("workflow_id", workflowID).Logger()
}

// WithServer returns a logger pre-tagged with a registered tool server's identity.
func WithServer(serverID, tenantID string) zerolog.Logger {
	return log.With().Str("server_id", serverID).Str("tenant_id", tenantID).Logger()
}
