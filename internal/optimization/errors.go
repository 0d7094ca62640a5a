package optimization

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/lamim/optiforge/pkg/models"
)

// CancelledByUser is the error stored on optimizations ended by a cancel request
const CancelledByUser = "Optimization cancelled by user"

// Precondition errors; callers match them with errors.Is
var (
	ErrAlreadyPrepared        = errors.New("optimization already prepared")
	ErrNotPrepared            = errors.New("optimization not prepared")
	ErrAlreadyExecuted        = errors.New("optimization already executed")
	ErrNotExecuted            = errors.New("optimization not executed")
	ErrAlreadyValidated       = errors.New("optimization already validated")
	ErrAlreadyEnded           = errors.New("optimization already ended")
	ErrMissingTestset         = errors.New("optimization has no testset")
	ErrMissingOptimizedCommit = errors.New("optimization has no optimized commit")
	ErrMissingOptimizedPrompt = errors.New("optimization has no optimized prompt")
	ErrUnknownEngine          = errors.New("unknown optimization engine")
)

// InsufficientExamplesError is returned when curation finds too few rows of a polarity
type InsufficientExamplesError struct {
	Polarity models.Polarity
	Found    int
	Required int
}

func (e *InsufficientExamplesError) Error() string {
	return fmt.Sprintf("insufficient %s examples: found %d, required %d", e.Polarity, e.Found, e.Required)
}

// bestEffort logs a failed cleanup step and lets the caller continue
func bestEffort(logger *slog.Logger, op string, err error) {
	if err == nil {
		return
	}
	logger.Warn("Best-effort step failed, continuing", "op", op, "error", err)
}
