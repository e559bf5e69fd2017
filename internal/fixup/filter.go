package fixup

import "strings"

// lineFilter drops duplicated date properties within one BEGIN/END component.
// iCloud is known to emit DTSTAMP twice, and Zimbra can set DTEND and
// DURATION on the same event, which the RFC forbids. Whichever line of a
// group comes first wins; everything after it is dropped.
//
// The zero value is ready to use, but the filter is stateful: it has to see
// every line of one document, in order, in a single pass. Counters reset at
// each component boundary so sibling components are filtered independently.
type lineFilter struct {
	stamped int
	ended   int
}

// keep reports whether line survives the scan and advances the filter state.
func (f *lineFilter) keep(line string) bool {
	switch {
	case strings.HasPrefix(line, "BEGIN:V"):
		f.stamped = 0
		f.ended = 0
	case hasProp(line, "DURATION"), hasProp(line, "DTEND"), hasProp(line, "DUE"):
		if f.ended > 0 {
			return false
		}
		f.ended++
	case hasProp(line, "DTSTAMP"):
		if f.stamped > 0 {
			return false
		}
		f.stamped++
	}
	return true
}

// hasProp reports whether line carries the named property, i.e. starts with
// the name followed by a ':' or ';' separator.
func hasProp(line, name string) bool {
	if len(line) <= len(name) || !strings.HasPrefix(line, name) {
		return false
	}
	return line[len(name)] == ':' || line[len(name)] == ';'
}
