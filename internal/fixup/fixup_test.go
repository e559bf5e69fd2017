package fixup_test

import (
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icalfix/internal/fixup"
)

func newNormalizer() *fixup.Normalizer {
	return fixup.New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func wrapTodo(lines ...string) string {
	all := append([]string{"BEGIN:VCALENDAR", "BEGIN:VTODO"}, lines...)
	all = append(all, "END:VTODO", "END:VCALENDAR")
	return strings.Join(all, "\n") + "\n"
}

func wrapEvent(lines ...string) string {
	all := append([]string{"BEGIN:VCALENDAR", "BEGIN:VEVENT"}, lines...)
	all = append(all, "END:VEVENT", "END:VCALENDAR")
	return strings.Join(all, "\n") + "\n"
}

func TestFixCompletedDateCoercion(t *testing.T) {
	n := newNormalizer()

	fixed := n.Fix(wrapTodo("UID:1", "COMPLETED:20200101"))
	assert.Contains(t, fixed, "COMPLETED:20200101T120000Z\n")

	// A proper date-time is left alone.
	clean := wrapTodo("UID:1", "COMPLETED:20200101T080000Z")
	assert.Equal(t, clean, n.Fix(clean))
}

func TestFixCreatedEpochClamp(t *testing.T) {
	n := newNormalizer()

	fixed := n.Fix(wrapEvent("UID:1", "CREATED:00001231T000000Z"))
	assert.Contains(t, fixed, "CREATED:19700101T000000Z\n")
	assert.NotContains(t, fixed, "00001231")

	// Other pre-2000 timestamps are not touched.
	clean := wrapEvent("UID:1", "CREATED:19981113T000000Z")
	assert.Equal(t, clean, n.Fix(clean))
}

func TestFixQuoteUnescaping(t *testing.T) {
	n := newNormalizer()

	fixed := n.Fix(wrapEvent("UID:1", `SUMMARY:say \"hello\" now`))
	assert.Contains(t, fixed, `SUMMARY:say "hello" now`)

	fixed = n.Fix(wrapEvent("UID:1", `SUMMARY:it\\\'s`))
	assert.Contains(t, fixed, `SUMMARY:it's`)
}

func TestFixTrailingWhitespace(t *testing.T) {
	n := newNormalizer()

	fixed := n.Fix(wrapEvent("UID:1", "X-APPLE-STRUCTURED-EVENT:data   ", "SUMMARY:ok"))
	assert.Contains(t, fixed, "X-APPLE-STRUCTURED-EVENT:data\nSUMMARY:ok\n")
}

func TestFixIdempotent(t *testing.T) {
	n := newNormalizer()

	inputs := []string{
		wrapTodo("UID:1", "COMPLETED:20200101"),
		wrapEvent("UID:1", "CREATED:00001231T000000Z"),
		wrapEvent("UID:1", "DTSTAMP:20240101T000000Z", "DTSTAMP:20240102T000000Z"),
		wrapEvent("UID:1", "SUMMARY:trailing   "),
		"BEGIN:VCALENDAR\r\nBEGIN:VEVENT\r\nUID:1\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n",
	}
	for _, in := range inputs {
		once := n.Fix(in)
		assert.Equal(t, once, n.Fix(once), "input: %q", in)
	}
}

func TestFixTrailingNewline(t *testing.T) {
	n := newNormalizer()

	for _, in := range []string{
		wrapEvent("UID:1"),
		strings.TrimRight(wrapEvent("UID:1"), "\n"),
		wrapEvent("UID:1") + "\n\n",
	} {
		fixed := n.Fix(in)
		require.True(t, strings.HasSuffix(fixed, "\n"))
		assert.False(t, strings.HasSuffix(fixed, "\n\n"), "more than one trailing newline")
	}
}

func TestFixCounter(t *testing.T) {
	n := newNormalizer()
	require.EqualValues(t, 0, n.Count())

	clean := wrapEvent("UID:1", "DTSTAMP:20240101T000000Z")
	n.Fix(clean)
	assert.EqualValues(t, 0, n.Count(), "clean input must not bump the counter")

	n.Fix(wrapTodo("UID:1", "COMPLETED:20200101"))
	assert.EqualValues(t, 1, n.Count())

	n.Fix(wrapTodo("UID:1", "COMPLETED:20200101"))
	assert.EqualValues(t, 2, n.Count(), "one increment per modifying call")

	n.ResetCount()
	assert.EqualValues(t, 0, n.Count())
}

func TestFixCounterConcurrent(t *testing.T) {
	n := newNormalizer()
	broken := wrapTodo("UID:1", "COMPLETED:20200101")

	const workers = 64
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			n.Fix(broken)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, workers, n.Count())
}

func TestCanonicalize(t *testing.T) {
	assert.Equal(t, "a\nb\n", fixup.Canonicalize("a\r\nb\r\n"))
	assert.Equal(t, "a\nb\n", fixup.Canonicalize("a\rb"))
	assert.Equal(t, "a\n", fixup.Canonicalize("\uFEFFa"))
	assert.Equal(t, "a\n", fixup.Canonicalize("a\n\n\n"))
	assert.Equal(t, "\n", fixup.Canonicalize(""))

	// Idempotence.
	in := "BEGIN:VCALENDAR\nEND:VCALENDAR\n"
	assert.Equal(t, in, fixup.Canonicalize(fixup.Canonicalize(in)))

	assert.Equal(t, "a\nb\n", fixup.CanonicalizeBytes([]byte("a\r\nb")))
}
