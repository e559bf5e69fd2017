// Package fixup repairs icalendar data from servers that break the standard
// in known, recurring ways, so that it parses cleanly downstream. It is
// corrective, not validating: unknown malformations pass through untouched.
package fixup

import (
	"log/slog"
	"regexp"
	"strings"
	"sync/atomic"
)

// A rule is one whole-document substitution for a known server bug. Rules
// run in a fixed order; a later rule may rely on the output of an earlier
// one. None of them changes the number of lines in the document.
type rule struct {
	pattern *regexp.Regexp
	repl    string
}

// The known breakages, in the order they are repaired:
//
//  1. COMPLETED must be a date-time in UTC, but some servers hand out a bare
//     date. Midday UTC is appended as an arbitrary but fixed time of day.
//  2. CREATED timestamps in year 0 predate the epoch and choke some
//     consumers; clamp to the epoch rather than dropping the property.
//  3. Quotes preceded by one or more backslashes are over-escaped; strip
//     the backslashes.
//  4. Trailing spaces on a line are never meaningful and trip up some
//     parsers (seen on X-APPLE-STRUCTURED-EVENT lines).
var rules = []rule{
	{regexp.MustCompile(`COMPLETED:(\d+)(\s)`), "COMPLETED:${1}T120000Z${2}"},
	{regexp.MustCompile(`CREATED:00001231T000000Z`), "CREATED:19700101T000000Z"},
	{regexp.MustCompile(`\\+(['"])`), "${1}"},
	{regexp.MustCompile(`(?m)[ ]+$`), ""},
}

// Normalizer runs the fixup pipeline. One instance is meant to be shared by
// every caller in the process: the counter behind the rate-limited logging
// only backs off as intended when all callers increment the same counter.
// Fix is safe for concurrent use.
type Normalizer struct {
	logger *slog.Logger
	count  atomic.Uint64
}

// New returns a Normalizer reporting through logger.
func New(logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{logger: logger}
}

// Fix receives icalendar data as handed out by a server, canonicalizes it,
// repairs the known breakages and drops duplicated date lines. When the text
// was actually modified the shared error counter is bumped and the change is
// logged, rate-limited. The result always ends with exactly one newline.
func (n *Normalizer) Fix(raw string) string {
	doc := Canonicalize(raw)

	fixed := doc
	for _, r := range rules {
		fixed = r.pattern.ReplaceAllString(fixed, r.repl)
	}

	lines := strings.Split(strings.TrimSpace(fixed), "\n")
	kept := lines[:0]
	var f lineFilter
	for _, line := range lines {
		if f.keep(line) {
			kept = append(kept, line)
		}
	}
	fixed = strings.Join(kept, "\n") + "\n"

	if fixed != doc {
		n.report(doc, fixed)
	}
	return fixed
}

// FixBytes is Fix for callers holding raw bytes.
func (n *Normalizer) FixBytes(raw []byte) string {
	return n.Fix(string(raw))
}

// Count reports how many Fix calls modified their input over the lifetime
// of this Normalizer.
func (n *Normalizer) Count() uint64 {
	return n.count.Load()
}

// ResetCount zeroes the error counter. Meant for tests.
func (n *Normalizer) ResetCount() {
	n.count.Store(0)
}
