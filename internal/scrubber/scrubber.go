// Package scrubber walks a remote calendar collection and runs every object
// through the fixup pipeline.
package scrubber

import (
	"context"
	"fmt"
	"log/slog"

	"icalfix/internal/fixup"
)

// Remote is the slice of the CalDAV client the scrubber relies on.
type Remote interface {
	ListObjectPaths(ctx context.Context) ([]string, error)
	GetRaw(ctx context.Context, path string) (string, error)
	PutRaw(ctx context.Context, path, text string) error
}

// Scrubber orchestrates fetching, repairing and storing calendar objects.
type Scrubber struct {
	logger     *slog.Logger
	client     Remote
	normalizer *fixup.Normalizer
	dryRun     bool
}

// New creates a Scrubber. With dryRun set, repaired objects are reported but
// never written back to the server.
func New(logger *slog.Logger, client Remote, normalizer *fixup.Normalizer, dryRun bool) *Scrubber {
	return &Scrubber{
		logger:     logger,
		client:     client,
		normalizer: normalizer,
		dryRun:     dryRun,
	}
}

// Run performs one full scrub cycle over the calendar collection.
func (s *Scrubber) Run(ctx context.Context) error {
	s.logger.Info("Starting scrub cycle.")

	paths, err := s.client.ListObjectPaths(ctx)
	if err != nil {
		return fmt.Errorf("failed to list calendar objects: %w", err)
	}
	s.logger.Info("Fetched calendar object listing.", "count", len(paths))

	var modified int
	for _, path := range paths {
		changed, err := s.scrubObject(ctx, path)
		if err != nil {
			s.logger.Error("Failed to scrub object", "path", path, "error", err)
			// Continue with the next object even if one fails.
			continue
		}
		if changed {
			modified++
		}
	}

	s.logger.Info("Scrub cycle finished.", "objects", len(paths), "modified", modified)
	return nil
}

// scrubObject repairs a single calendar object and reports whether the
// server copy needed changing.
func (s *Scrubber) scrubObject(ctx context.Context, path string) (bool, error) {
	original, err := s.client.GetRaw(ctx, path)
	if err != nil {
		return false, err
	}

	fixed := s.normalizer.Fix(original)
	if fixed == fixup.Canonicalize(original) {
		s.logger.Debug("Object already clean, skipping.", "path", path)
		return false, nil
	}

	if s.dryRun {
		s.logger.Info("[DRY RUN] Would store repaired object", "path", path)
		return true, nil
	}

	if err := s.client.PutRaw(ctx, path, fixed); err != nil {
		return false, err
	}
	s.logger.Info("Stored repaired object.", "path", path)
	return true, nil
}
