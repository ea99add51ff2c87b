// Package planner computes the stripped-text offsets at which page breaks
// should be inserted: §4.C6 of the pagination engine. It supports four
// pacing metrics (characters, words, lines, hard-wrapped fixed-width
// lines), three break-snap policies, optional ToC anchoring, and the "auto"
// page-count mode.
//
// Ported in full fidelity from original_source/modules/pageProcessor.py's
// safeWord/findWord break-snap routines and original_source/modules/
// tocutils.py's flattenToc/createRange/processToC ToC-anchoring, which fix
// the exact boundary arithmetic spec.md only describes at the level of
// "pin", "pace", "estimate".
package planner

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"epagin/common"
)

// ErrNotEnoughLines is returned when the requested page count exceeds the
// number of detected lines in lines/fixed-width pacing.
var ErrNotEnoughLines = errors.New("planner: requested page count exceeds detected line count")

// PlannedBreak is a single stripped-text offset at which a break is
// inserted, in increasing order, the first always 0.
type PlannedBreak struct {
	Offset int
}

// PageRange anchors a run of Count pages between two stripped-text offsets,
// the pacing mode running independently inside each range (§4.C6 ToC
// anchoring).
type PageRange struct {
	Start, End int
	Count      int
}

// Anchor pins a ToC leaf's resolved stripped-text offset to the page number
// at which it begins, supplied by the orchestrator (§4.C8 ToC leaf
// resolution) in document order.
type Anchor struct {
	Page   int
	Offset int
}

type unitPositions struct {
	total int
	at    func(i int) int
}

func wordStarts(text string) []int {
	var starts []int
	inWord := false
	for i, r := range text {
		if unicode.IsSpace(r) {
			inWord = false
			continue
		}
		if !inWord {
			starts = append(starts, i)
			inWord = true
		}
	}
	return starts
}

// lineStarts splits text the way Python's str.splitlines(keepends=True)
// would for the common "\n"-terminated case (a documented simplification:
// the full Python line-boundary set also includes \r, \r\n, \v, \f and a
// handful of Unicode separators, which EPUB content text does not use in
// practice). When maxWidth > 0, any line longer than maxWidth characters
// (not counting its newline) is additionally hard-wrapped into
// maxWidth-character chunks, each becoming its own line start, implementing
// the integer-N pacing mode.
func lineStarts(text string, maxWidth int) []int {
	var starts []int
	pos := 0
	for _, line := range strings.SplitAfter(text, "\n") {
		if line == "" {
			continue
		}
		n := len(line)
		if w := len(strings.TrimSuffix(line, "\n")); maxWidth > 0 && w > maxWidth {
			for off := 0; off < w; off += maxWidth {
				starts = append(starts, pos+off)
			}
		} else {
			starts = append(starts, pos)
		}
		pos += n
	}
	return starts
}

func positionsFor(mode common.PagingMode, text string) unitPositions {
	switch mode.Kind {
	case common.PaceWords:
		s := wordStarts(text)
		return unitPositions{total: len(s), at: func(i int) int {
			if i >= len(s) {
				return len(text)
			}
			return s[i]
		}}
	case common.PaceLines:
		s := lineStarts(text, 0)
		return unitPositions{total: len(s), at: func(i int) int {
			if i >= len(s) {
				return len(text)
			}
			return s[i]
		}}
	case common.PaceFixedWidth:
		s := lineStarts(text, mode.Width)
		return unitPositions{total: len(s), at: func(i int) int {
			if i >= len(s) {
				return len(text)
			}
			return s[i]
		}}
	default: // common.PaceChars
		return unitPositions{total: len(text), at: func(i int) int { return i }}
	}
}

// TotalMetric reports the size of text under mode's metric: character
// count, word count, or line count (after hard-wrap, for fixed-width).
func TotalMetric(mode common.PagingMode, text string) int {
	return positionsFor(mode, text).total
}

// AutoPageCount implements §4.C6 auto mode: ceil(totalMetric / pageSize).
func AutoPageCount(mode common.PagingMode, pageSize int, text string) int {
	if pageSize <= 0 {
		return 1
	}
	total := TotalMetric(mode, text)
	return int(math.Ceil(float64(total) / float64(pageSize)))
}

// Plan computes pages PlannedBreaks across the whole of text, equi-spaced
// under mode's metric, then snapped per snap. The first break is always 0.
func Plan(pages int, mode common.PagingMode, snap common.BreakSnap, text string) ([]PlannedBreak, error) {
	if pages < 2 {
		return nil, fmt.Errorf("planner: pages must be >= 2, got %d", pages)
	}
	up := positionsFor(mode, text)
	if (mode.Kind == common.PaceLines || mode.Kind == common.PaceFixedWidth) && up.total < pages {
		return nil, ErrNotEnoughLines
	}

	breaks := make([]PlannedBreak, pages)
	for i := 0; i < pages; i++ {
		unitIdx := i * up.total / pages
		breaks[i] = PlannedBreak{Offset: up.at(unitIdx)}
	}
	applySnap(breaks, snap, text)
	return breaks, nil
}

// applySnap moves every break but the first to a whitespace boundary,
// searching within the following page's window (Next) or the preceding
// page's window (Prev). Split leaves offsets untouched.
func applySnap(breaks []PlannedBreak, snap common.BreakSnap, text string) {
	if snap == common.BreakSnapSplit {
		return
	}
	for i := 1; i < len(breaks); i++ {
		switch snap {
		case common.BreakSnapNext:
			limit := len(text)
			if i+1 < len(breaks) {
				limit = breaks[i+1].Offset
			}
			breaks[i].Offset = snapForward(text, breaks[i].Offset, limit)
		case common.BreakSnapPrev:
			limit := breaks[i-1].Offset
			breaks[i].Offset = snapBackward(text, breaks[i].Offset, limit)
		}
	}
}

func snapForward(text string, from, limit int) int {
	if limit > len(text) {
		limit = len(text)
	}
	if from >= limit {
		return from
	}
	for i, r := range text[from:limit] {
		if unicode.IsSpace(r) {
			return from + i
		}
	}
	return from
}

func snapBackward(text string, from, limit int) int {
	if from > len(text) {
		from = len(text)
	}
	for i := from; i >= limit && i >= 0; i-- {
		if i >= len(text) {
			continue
		}
		r, _ := utf8.DecodeRuneInString(text[i:])
		if unicode.IsSpace(r) {
			return i
		}
	}
	return from
}

// PlanAnchored implements ToC anchoring: anchors, sorted by Offset, each
// pin a page number to a resolved stripped-text offset. Pages between
// consecutive anchors (and the trailing run after the last one, for the
// residual of totalPages) are paced independently within their own window,
// mirroring tocutils.createRange/processToC.
func PlanAnchored(anchors []Anchor, totalPages int, mode common.PagingMode, snap common.BreakSnap, text string) ([]PlannedBreak, []PageRange, error) {
	ranges := make([]PageRange, 0, len(anchors)+1)
	prevOffset, prevPage := 0, 1

	rest := anchors
	if len(rest) > 0 && rest[0].Page == 1 {
		// The first anchor pins page 1 itself to a non-zero offset (e.g. a
		// ToC-resolved front-matter boundary). It must not be discarded by
		// the prevPage=1 check below: that would leave pacing starting at
		// offset 0, placing breaks in the region the anchor says belongs to
		// no page at all. Fold its Offset into the page-1 floor instead.
		prevOffset = rest[0].Offset
		rest = rest[1:]
	}

	for _, a := range rest {
		if a.Page <= prevPage {
			// Out-of-order or repeated anchors are ignored, per the
			// reference implementation ("if chapters or pages are in the
			// wrong order we just ignore them").
			continue
		}
		ranges = append(ranges, PageRange{Start: prevOffset, End: a.Offset, Count: a.Page - prevPage})
		prevOffset, prevPage = a.Offset, a.Page
	}
	if residual := totalPages - prevPage + 1; residual > 0 {
		ranges = append(ranges, PageRange{Start: prevOffset, End: len(text), Count: residual})
	}

	var all []PlannedBreak
	for _, r := range ranges {
		if r.Count <= 0 {
			continue
		}
		if r.Count == 1 {
			all = append(all, PlannedBreak{Offset: r.Start})
			continue
		}
		window := text[r.Start:r.End]
		sub, err := Plan(r.Count, mode, snap, window)
		if err != nil {
			return nil, nil, err
		}
		for _, b := range sub {
			all = append(all, PlannedBreak{Offset: r.Start + b.Offset})
		}
	}
	return all, ranges, nil
}

// EstimateFrontPages implements the auto sub-mode of Roman front matter:
// given the average page size observed so far (in mode's metric) and the
// size of the front-matter text, estimate how many pages it needs. If
// minPages (the largest Roman numeral already present in a ToCMap, or 0)
// is higher, it wins: auto-estimation never drops below an explicit anchor.
func EstimateFrontPages(mode common.PagingMode, frontText string, averagePageSize float64, minPages int) int {
	if averagePageSize <= 0 {
		return minPages
	}
	metric := float64(TotalMetric(mode, frontText))
	estimate := int(math.Ceil(metric / averagePageSize))
	if estimate < minPages {
		return minPages
	}
	if estimate < 1 {
		return 1
	}
	return estimate
}
