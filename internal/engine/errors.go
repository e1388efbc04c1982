package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rshade/memctl/internal/engine/batch"
	"github.com/rshade/memctl/internal/remote"
)

// Engine errors. Callers match them with errors.Is.
var (
	// ErrCancelled marks a user-initiated abort. It is the same sentinel the
	// batch processor uses.
	ErrCancelled = batch.ErrCancelled

	// ErrInvalidInput is wrapped by every caller-side validation failure.
	ErrInvalidInput = errors.New("invalid input")

	// ErrEmptyTargets is returned when an operation is started with no targets.
	ErrEmptyTargets = fmt.Errorf("%w: target list is empty", ErrInvalidInput)

	// ErrAlreadyExecuting is returned when a suggestion already has an
	// operation in flight.
	ErrAlreadyExecuting = errors.New("suggestion is already executing")

	// ErrInvalidTransition is returned for a suggestion status change the
	// lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid suggestion transition")

	// ErrUnknownSuggestion is returned when a suggestion id is not loaded.
	ErrUnknownSuggestion = errors.New("unknown suggestion")

	// ErrUnsupportedType is returned for a suggestion type with no executor.
	ErrUnsupportedType = errors.New("unsupported suggestion type")
)

// ChunkTransportError reports that the remote call for one chunk failed.
// Processed is how many targets had resolved before the failing chunk.
type ChunkTransportError struct {
	Chunk     int
	Size      int
	Processed int
	Err       error
}

func (e *ChunkTransportError) Error() string {
	return fmt.Sprintf("chunk %d (%d targets, %d processed before it): %v", e.Chunk, e.Size, e.Processed, e.Err)
}

func (e *ChunkTransportError) Unwrap() error {
	return e.Err
}

// IsCancellation reports whether err stems from a cancelled operation or
// request rather than a fault.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCancelled) ||
		errors.Is(err, remote.ErrCancelled) ||
		errors.Is(err, context.Canceled)
}
