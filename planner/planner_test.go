package planner

import (
	"strings"
	"testing"

	"epagin/common"
)

func TestPlanCharsEvenSpacing(t *testing.T) {
	text := strings.Repeat("a", 100)
	breaks, err := Plan(4, common.PacingChars(), common.BreakSnapSplit, text)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(breaks) != 4 {
		t.Fatalf("got %d breaks, want 4", len(breaks))
	}
	if breaks[0].Offset != 0 {
		t.Errorf("first break offset = %d, want 0", breaks[0].Offset)
	}
	for i := 1; i < len(breaks); i++ {
		if breaks[i].Offset <= breaks[i-1].Offset {
			t.Errorf("breaks not strictly increasing at %d: %d <= %d", i, breaks[i].Offset, breaks[i-1].Offset)
		}
	}
}

func TestPlanRejectsTooFewPages(t *testing.T) {
	if _, err := Plan(1, common.PacingChars(), common.BreakSnapSplit, "hello"); err == nil {
		t.Error("expected error for pages < 2")
	}
}

func TestPlanLinesNotEnoughLines(t *testing.T) {
	text := "only one line, no newline"
	_, err := Plan(5, common.PacingLines(), common.BreakSnapSplit, text)
	if err != ErrNotEnoughLines {
		t.Errorf("err = %v, want ErrNotEnoughLines", err)
	}
}

func TestPlanWordsUsesWordStartOffsets(t *testing.T) {
	text := "one two three four five six seven eight"
	breaks, err := Plan(4, common.PacingWords(), common.BreakSnapSplit, text)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	for _, b := range breaks {
		if b.Offset > 0 && text[b.Offset-1] != ' ' {
			t.Errorf("offset %d is not at a word start in %q", b.Offset, text)
		}
	}
}

func TestPlanFixedWidthHardWraps(t *testing.T) {
	text := strings.Repeat("x", 50) + "\n" + strings.Repeat("y", 5) + "\n"
	mode := common.PacingFixedWidth(10)
	total := TotalMetric(mode, text)
	// 50 chars hard-wrapped at 10 => 5 synthetic lines, plus the short "yyyyy\n" line => 6.
	if total != 6 {
		t.Errorf("TotalMetric(fixed-width 10) = %d, want 6", total)
	}
}

func TestApplySnapNextMovesToWhitespace(t *testing.T) {
	text := "aaaa bbbb cccc dddd"
	breaks := []PlannedBreak{{Offset: 0}, {Offset: 7}, {Offset: len(text)}}
	applySnap(breaks, common.BreakSnapNext, text)
	if breaks[0].Offset != 0 {
		t.Errorf("first break moved: %d", breaks[0].Offset)
	}
	if text[breaks[1].Offset] != ' ' && breaks[1].Offset != 7 {
		t.Errorf("break not snapped to whitespace: offset %d in %q", breaks[1].Offset, text)
	}
}

func TestApplySnapPrevMovesToWhitespace(t *testing.T) {
	text := "aaaa bbbb cccc dddd"
	breaks := []PlannedBreak{{Offset: 0}, {Offset: 8}, {Offset: len(text)}}
	applySnap(breaks, common.BreakSnapPrev, text)
	if breaks[0].Offset != 0 {
		t.Errorf("first break moved: %d", breaks[0].Offset)
	}
}

func TestAutoPageCount(t *testing.T) {
	text := strings.Repeat("a", 1000)
	pages := AutoPageCount(common.PacingChars(), 300, text)
	if pages != 4 { // ceil(1000/300) == 4
		t.Errorf("AutoPageCount = %d, want 4", pages)
	}
}

func TestPlanAnchoredRespectsAnchorOffsets(t *testing.T) {
	text := strings.Repeat("a", 20) + strings.Repeat("b", 20) + strings.Repeat("c", 20)
	anchors := []Anchor{
		{Page: 2, Offset: 20},
		{Page: 3, Offset: 40},
	}
	breaks, ranges, err := PlanAnchored(anchors, 4, common.PacingChars(), common.BreakSnapSplit, text)
	if err != nil {
		t.Fatalf("PlanAnchored: %v", err)
	}
	if len(ranges) == 0 {
		t.Fatal("expected at least one PageRange")
	}

	foundAnchor20, foundAnchor40 := false, false
	for _, b := range breaks {
		if b.Offset == 20 {
			foundAnchor20 = true
		}
		if b.Offset == 40 {
			foundAnchor40 = true
		}
	}
	if !foundAnchor20 || !foundAnchor40 {
		t.Errorf("expected breaks at both anchor offsets, got %+v", breaks)
	}
}

func TestPlanAnchoredKeepsFirstAnchorWhenItPinsPageOne(t *testing.T) {
	text := strings.Repeat("x", 300)
	anchors := []Anchor{
		{Page: 1, Offset: 40},
		{Page: 5, Offset: 240},
	}
	breaks, ranges, err := PlanAnchored(anchors, 8, common.PacingChars(), common.BreakSnapSplit, text)
	if err != nil {
		t.Fatalf("PlanAnchored: %v", err)
	}
	if len(breaks) != 8 {
		t.Fatalf("expected 8 planned breaks, got %d: %+v", len(breaks), breaks)
	}
	for i, b := range breaks {
		if b.Offset < 40 {
			t.Errorf("break %d at offset %d falls below the page-1 anchor at 40, which the anchor forbids", i, b.Offset)
		}
		if i > 0 && b.Offset <= breaks[i-1].Offset {
			t.Errorf("breaks not strictly increasing at index %d: %+v", i, breaks)
		}
	}
	if breaks[0].Offset != 40 {
		t.Errorf("expected the first break to sit at the page-1 anchor offset 40, got %d", breaks[0].Offset)
	}
	for _, r := range ranges {
		if r.Start < 40 {
			t.Errorf("expected no PageRange to start below offset 40, got %+v", r)
		}
	}
}

func TestEstimateFrontPagesRespectsMinimum(t *testing.T) {
	got := EstimateFrontPages(common.PacingChars(), "short", 1000, 5)
	if got != 5 {
		t.Errorf("EstimateFrontPages = %d, want 5 (minPages floor)", got)
	}
}

func TestEstimateFrontPagesZeroAverage(t *testing.T) {
	got := EstimateFrontPages(common.PacingChars(), "anything", 0, 3)
	if got != 3 {
		t.Errorf("EstimateFrontPages with zero average = %d, want minPages 3", got)
	}
}
