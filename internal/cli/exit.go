package cli

import (
	"errors"

	"github.com/rshade/memctl/internal/config"
	"github.com/rshade/memctl/internal/engine"
	"github.com/rshade/memctl/internal/engine/batch"
)

// Process exit codes.
const (
	ExitOK        = 0
	ExitFailure   = 1
	ExitUsage     = 2
	ExitCancelled = 130
)

// ErrUsage wraps malformed flags and arguments.
var ErrUsage = errors.New("usage error")

// ExitCode maps an error returned by a command to the process exit code:
// 130 for a cancelled operation, 2 for invalid input or configuration, 1 for
// anything else.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case engine.IsCancellation(err):
		return ExitCancelled
	case errors.Is(err, ErrUsage),
		errors.Is(err, engine.ErrInvalidInput),
		errors.Is(err, batch.ErrInvalidBatchSize),
		errors.Is(err, config.ErrInvalidConfig):
		return ExitUsage
	default:
		return ExitFailure
	}
}
