// Package vcal assembles well-formed icalendar documents from caller-supplied
// fragments and properties.
package vcal

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"

	"icalfix/internal/fixup"
)

// DefaultLanguage is the language tag embedded in generated PRODID lines
// when the caller does not supply one.
const DefaultLanguage = "en_DK"

// Props carries caller-supplied properties for Create. Keys are property
// names in lower case. Values may be a string, a time.Time, or, for the two
// relation keys "child" and "parent", a []string of related UIDs added in
// order. Nil values are skipped.
type Props map[string]any

// mode is the outcome of classifying a fragment: either a fresh calendar is
// constructed around it, or it already holds a component to augment.
type mode int

const (
	construct mode = iota
	augment
)

var (
	beginComponentRe = regexp.MustCompile(`(?m)^BEGIN:V`)
	endComponentRe   = regexp.MustCompile(`(?m)^END:V`)
)

func classify(fragment string) mode {
	if fragment == "" || !beginComponentRe.MatchString(fragment) {
		return construct
	}
	return augment
}

// Create builds a complete VCALENDAR document as text.
//
// With an empty fragment, or one that holds loose property lines rather than
// a component, a new calendar with a single component of the requested type
// (default VEVENT) is constructed: PRODID, VERSION 2.0, a UTC DTSTAMP, and a
// generated UID unless the caller supplies one. A VTODO with no status
// anywhere gets STATUS:NEEDS-ACTION so servers that require an explicit
// status can still find the task as pending.
//
// A fragment that already contains a component is parsed (wrapped in a
// VCALENDAR envelope first if needed) and its first component becomes the
// target for the property merge.
//
// Loose property lines from a construct-mode fragment are spliced back into
// the serialized output verbatim, so nonstandard lines survive untouched.
func Create(fragment, compType, language string, props Props) (string, error) {
	if fragment != "" {
		fragment = fixup.Canonicalize(fragment)
	}
	if language == "" {
		language = DefaultLanguage
	}
	if compType == "" {
		compType = ical.CompEvent
	} else {
		compType = strings.ToUpper(compType)
	}

	var (
		cal  *ical.Calendar
		comp *ical.Component
	)

	switch classify(fragment) {
	case construct:
		cal = ical.NewCalendar()
		cal.Props.SetText(ical.PropProductID, "-//icalfix//icalfix//"+language)
		cal.Props.SetText(ical.PropVersion, "2.0")

		comp = ical.NewComponent(compType)
		comp.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
		// The component needs its UID in the structured tree: the
		// serializer refuses to encode a component without one, so a UID
		// carried by loose fragment lines is lifted out rather than
		// spliced back in later.
		if s, _ := props["uid"].(string); s == "" {
			if rest, uid := takeUIDLine(fragment); uid != "" {
				comp.Props.SetText(ical.PropUID, uid)
				fragment = rest
			} else {
				comp.Props.SetText(ical.PropUID, uuid.New().String())
			}
		}
		cal.Children = append(cal.Children, comp)

		if s, _ := props["status"].(string); s == "" && compType == ical.CompToDo &&
			!hasLine(fragment, "STATUS:") {
			comp.Props.SetText(ical.PropStatus, "NEEDS-ACTION")
		}

	case augment:
		if !strings.HasPrefix(strings.TrimSpace(fragment), "BEGIN:VCALENDAR") {
			fragment = "BEGIN:VCALENDAR\n" + strings.TrimSpace(fragment) + "\nEND:VCALENDAR\n"
		}
		var err error
		cal, err = ical.NewDecoder(strings.NewReader(fragment)).Decode()
		if err != nil {
			return "", fmt.Errorf("failed to parse calendar fragment: %w", err)
		}
		if len(cal.Children) == 0 {
			return "", fmt.Errorf("calendar fragment contains no components")
		}
		// A bare fragment arrives without calendar-level properties, and
		// the serializer insists on exactly one PRODID and VERSION.
		if cal.Props.Get(ical.PropProductID) == nil {
			cal.Props.SetText(ical.PropProductID, "-//icalfix//icalfix//"+language)
		}
		if cal.Props.Get(ical.PropVersion) == nil {
			cal.Props.SetText(ical.PropVersion, "2.0")
		}
		comp = cal.Children[0]
		// The structured round-trip now carries the content; nothing is
		// left to splice back in.
		fragment = ""
	}

	if err := merge(comp, props); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return "", fmt.Errorf("failed to serialize calendar: %w", err)
	}
	out := fixup.Canonicalize(buf.String())

	// Reinsert loose fragment lines verbatim before the first closing
	// marker, preserving anything the structured form has no place for.
	if strings.TrimSpace(fragment) != "" {
		if loc := endComponentRe.FindStringIndex(out); loc != nil {
			out = out[:loc[0]] + strings.TrimSpace(fragment) + "\n" + out[loc[0]:]
		}
	}
	return out, nil
}

// merge applies caller-supplied properties to comp. The relation keys
// "child" and "parent" expand to one RELATED-TO property per UID with the
// uppercased key as RELTYPE parameter; timestamps are rendered in UTC rather
// than whatever zone the caller's process happens to run in.
func merge(comp *ical.Component, props Props) error {
	for key, value := range props {
		if value == nil {
			continue
		}
		if k := strings.ToLower(key); k == "child" || k == "parent" {
			ids, ok := value.([]string)
			if !ok {
				return fmt.Errorf("property %q must be a []string, got %T", key, value)
			}
			for _, id := range ids {
				p := ical.NewProp("RELATED-TO")
				p.Params.Set("RELTYPE", strings.ToUpper(k))
				p.SetText(id)
				comp.Props.Add(p)
			}
			continue
		}

		name := strings.ToUpper(key)
		switch v := value.(type) {
		case time.Time:
			comp.Props.SetDateTime(name, v.UTC())
		case string:
			p := ical.NewProp(name)
			p.SetText(v)
			comp.Props.Add(p)
		default:
			return fmt.Errorf("unsupported value for property %q: %T", key, value)
		}
	}
	return nil
}

// hasLine reports whether the fragment text carries a line starting with
// prefix, e.g. "STATUS:".
func hasLine(fragment, prefix string) bool {
	return strings.HasPrefix(fragment, prefix) ||
		strings.Contains(fragment, "\n"+prefix)
}

// takeUIDLine removes the first "UID:" line from the fragment and returns
// the remaining text along with the UID value, or the fragment unchanged and
// an empty string when there is none.
func takeUIDLine(fragment string) (string, string) {
	if fragment == "" {
		return fragment, ""
	}
	lines := strings.Split(strings.TrimRight(fragment, "\n"), "\n")
	for i, line := range lines {
		if !strings.HasPrefix(line, "UID:") {
			continue
		}
		rest := make([]string, 0, len(lines)-1)
		rest = append(rest, lines[:i]...)
		rest = append(rest, lines[i+1:]...)
		if len(rest) == 0 {
			return "", strings.TrimPrefix(line, "UID:")
		}
		return strings.Join(rest, "\n") + "\n", strings.TrimPrefix(line, "UID:")
	}
	return fragment, ""
}
