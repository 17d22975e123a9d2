package testutil

import (
	"context"
	"log/slog"
	"testing"

	"github.com/firebase/genkit/go/genkit"
)

// DiscardLogger returns a slog.Logger that discards all output.
// Equivalent to log.NewNop(); prefer that when the internal/log
// package is already imported.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// NewGenkit initializes a plugin-free Genkit instance for registering
// mock models and embedders in tests.
func NewGenkit(t *testing.T) *genkit.Genkit {
	t.Helper()
	return genkit.Init(context.Background())
}
