package terminal

import (
	"github.com/ricochet1k/termemu"
)

var reasonNames = map[termemu.ChangeReason]string{
	termemu.CRText:         "text",
	termemu.CRClear:        "clear",
	termemu.CRScroll:       "scroll",
	termemu.CRScreenSwitch: "screen_switch",
	termemu.CRRedraw:       "redraw",
}

func reasonName(reason termemu.ChangeReason) string {
	if name, ok := reasonNames[reason]; ok {
		return name
	}
	return "unknown"
}

// copyRows reads the rows of term that fall inside region, clamped to the
// screen, under the terminal lock. Rows keep their styling as SGR escapes. A
// nil region means the whole screen.
func copyRows(term termemu.Terminal, region *termemu.Region) (rows []string, clamped termemu.Region, cols, height int) {
	if term == nil {
		return nil, clamped, 0, 0
	}
	term.WithLock(func() {
		cols, height = term.Size()
		if cols <= 0 || height <= 0 {
			return
		}
		clamped = termemu.Region{X2: cols, Y2: height}
		if region != nil {
			clamped = region.Intersect(clamped)
			if clamped.Empty() {
				return
			}
		}
		rows = make([]string, 0, clamped.Y2-clamped.Y)
		for y := clamped.Y; y < clamped.Y2; y++ {
			rows = append(rows, term.ANSILine(y))
		}
	})
	return rows, clamped, cols, height
}

func screenSnapshot(term termemu.Terminal, cursor Cursor) (Snapshot, bool) {
	lines, _, cols, rows := copyRows(term, nil)
	if lines == nil {
		return Snapshot{}, false
	}
	return Snapshot{Rows: rows, Cols: cols, Lines: lines, Cursor: cursor}, true
}

func screenDiff(term termemu.Terminal, region termemu.Region, reason termemu.ChangeReason) (Diff, bool) {
	lines, clamped, _, _ := copyRows(term, &region)
	if lines == nil {
		return Diff{}, false
	}
	return Diff{
		Region: Region{X: clamped.X, Y: clamped.Y, X2: clamped.X2, Y2: clamped.Y2},
		Lines:  lines,
		Reason: reasonName(reason),
	}, true
}
