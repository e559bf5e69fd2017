package scrubber_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icalfix/internal/fixup"
	"icalfix/internal/scrubber"
)

// fakeRemote serves canned objects and records every write.
type fakeRemote struct {
	objects map[string]string
	puts    map[string]string
	getErr  map[string]error
}

func newFakeRemote(objects map[string]string) *fakeRemote {
	return &fakeRemote{
		objects: objects,
		puts:    map[string]string{},
		getErr:  map[string]error{},
	}
}

func (r *fakeRemote) ListObjectPaths(ctx context.Context) ([]string, error) {
	var paths []string
	for path := range r.objects {
		paths = append(paths, path)
	}
	return paths, nil
}

func (r *fakeRemote) GetRaw(ctx context.Context, path string) (string, error) {
	if err := r.getErr[path]; err != nil {
		return "", err
	}
	return r.objects[path], nil
}

func (r *fakeRemote) PutRaw(ctx context.Context, path, text string) error {
	r.puts[path] = text
	return nil
}

const brokenObject = "BEGIN:VCALENDAR\nBEGIN:VTODO\nUID:1\nCOMPLETED:20200101\nEND:VTODO\nEND:VCALENDAR\n"
const cleanObject = "BEGIN:VCALENDAR\nBEGIN:VEVENT\nUID:2\nDTSTAMP:20240101T000000Z\nEND:VEVENT\nEND:VCALENDAR\n"

func newScrubber(remote scrubber.Remote, dryRun bool) *scrubber.Scrubber {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return scrubber.New(logger, remote, fixup.New(logger), dryRun)
}

func TestScrubDryRunNeverWrites(t *testing.T) {
	remote := newFakeRemote(map[string]string{
		"/cal/broken.ics": brokenObject,
		"/cal/clean.ics":  cleanObject,
	})

	s := newScrubber(remote, true)
	require.NoError(t, s.Run(context.Background()))

	assert.Empty(t, remote.puts, "dry run must not store anything")
}

func TestScrubWritesRepairedObjectsOnly(t *testing.T) {
	remote := newFakeRemote(map[string]string{
		"/cal/broken.ics": brokenObject,
		"/cal/clean.ics":  cleanObject,
	})

	s := newScrubber(remote, false)
	require.NoError(t, s.Run(context.Background()))

	require.Len(t, remote.puts, 1, "only the broken object needs storing")
	assert.Contains(t, remote.puts["/cal/broken.ics"], "COMPLETED:20200101T120000Z\n")
}

func TestScrubContinuesAfterObjectError(t *testing.T) {
	remote := newFakeRemote(map[string]string{
		"/cal/bad.ics":    brokenObject,
		"/cal/broken.ics": brokenObject,
	})
	remote.getErr["/cal/bad.ics"] = fmt.Errorf("server hiccup")

	s := newScrubber(remote, false)
	require.NoError(t, s.Run(context.Background()))

	assert.Contains(t, remote.puts, "/cal/broken.ics",
		"one failing object must not stop the cycle")
}
