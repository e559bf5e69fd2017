package fixup

import (
	"github.com/pmezard/go-difflib/difflib"
)

// report logs that the document was modified. Servers that break the
// standard tend to do it on every single object they hand out, so the
// operator-facing severity backs off logarithmically: counts that are a
// power of two log at error level, everything else at debug.
func (n *Normalizer) report(original, fixed string) {
	count := n.count.Add(1)
	log := n.logger.Debug
	if count&(count-1) == 0 {
		log = n.logger.Error
	}

	log("Calendar data was modified to avoid compatibility issues. "+
		"The server likely breaks the icalendar standard; this is probably "+
		"harmless unless events or tasks are being edited.",
		"count", count)

	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(original),
		B:        difflib.SplitLines(fixed),
		FromFile: "Original",
		ToFile:   "Modified",
		Context:  3,
	})
	if err != nil {
		log("Original:\n" + original)
		log("Modified:\n" + fixed)
		return
	}
	log(diff)
}
