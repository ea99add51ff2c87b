// Package common holds small value types shared between the configuration
// layer and the pagination engine. It exists separately from engine packages
// so that configuration can depend on these types without pulling in the
// engine itself.
package common

import (
	"fmt"

	"epagin/numeral"
)

// PaceKind selects the metric used to equi-space pages, or a hard-wrap width.
type PaceKind int

const (
	PaceChars PaceKind = iota
	PaceWords
	PaceLines
	PaceFixedWidth
)

func (p PaceKind) String() string {
	switch p {
	case PaceChars:
		return "chars"
	case PaceWords:
		return "words"
	case PaceLines:
		return "lines"
	case PaceFixedWidth:
		return "fixed-width"
	default:
		return fmt.Sprintf("PaceKind(%d)", int(p))
	}
}

// PagingMode is the tagged variant behind `--pagingmode {chars|lines|words|<int>}`:
// either one of the three metrics, or a hard-wrap width in characters applied
// to every over-long line before pacing by line count.
type PagingMode struct {
	Kind  PaceKind
	Width int // valid when Kind == PaceFixedWidth; must be >= 1
}

func PacingChars() PagingMode { return PagingMode{Kind: PaceChars} }
func PacingWords() PagingMode { return PagingMode{Kind: PaceWords} }
func PacingLines() PagingMode { return PagingMode{Kind: PaceLines} }
func PacingFixedWidth(n int) PagingMode {
	return PagingMode{Kind: PaceFixedWidth, Width: n}
}

// ParsePagingMode accepts "chars", "words", "lines", or a positive integer
// literal, mirroring the CLI's `--pagingmode` argument.
func ParsePagingMode(s string) (PagingMode, error) {
	switch s {
	case "chars":
		return PacingChars(), nil
	case "words":
		return PacingWords(), nil
	case "lines":
		return PacingLines(), nil
	}
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err == nil && n >= 1 {
		return PacingFixedWidth(n), nil
	}
	return PagingMode{}, fmt.Errorf("invalid paging mode %q", s)
}

func (p PagingMode) String() string {
	if p.Kind == PaceFixedWidth {
		return fmt.Sprintf("%d", p.Width)
	}
	return p.Kind.String()
}

func (p PagingMode) MarshalYAML() (any, error) {
	return p.String(), nil
}

func (p *PagingMode) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := ParsePagingMode(s)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Specification of how a planned break snaps to a metric boundary that falls
// inside a word.
// ENUM(split, next, prev)
type BreakSnap int

const (
	BreakSnapSplit BreakSnap = iota
	BreakSnapNext
	BreakSnapPrev
)

func (b BreakSnap) String() string {
	switch b {
	case BreakSnapSplit:
		return "split"
	case BreakSnapNext:
		return "next"
	case BreakSnapPrev:
		return "prev"
	default:
		return fmt.Sprintf("BreakSnap(%d)", int(b))
	}
}

func ParseBreakSnap(s string) (BreakSnap, error) {
	switch s {
	case "split":
		return BreakSnapSplit, nil
	case "next":
		return BreakSnapNext, nil
	case "prev":
		return BreakSnapPrev, nil
	}
	return 0, fmt.Errorf("invalid break mode %q", s)
}

func (b BreakSnap) MarshalYAML() (any, error) {
	return b.String(), nil
}

func (b *BreakSnap) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := ParseBreakSnap(s)
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// Specification of how spine documents outside the default reading order (or
// outside the spine altogether) are folded into page planning.
// ENUM(append, prepend, ignore)
type SpinePolicy int

const (
	SpinePolicyAppend SpinePolicy = iota
	SpinePolicyPrepend
	SpinePolicyIgnore
)

func (s SpinePolicy) String() string {
	switch s {
	case SpinePolicyAppend:
		return "append"
	case SpinePolicyPrepend:
		return "prepend"
	case SpinePolicyIgnore:
		return "ignore"
	default:
		return fmt.Sprintf("SpinePolicy(%d)", int(s))
	}
}

func ParseSpinePolicy(s string) (SpinePolicy, error) {
	switch s {
	case "append":
		return SpinePolicyAppend, nil
	case "prepend":
		return SpinePolicyPrepend, nil
	case "ignore":
		return SpinePolicyIgnore, nil
	}
	return 0, fmt.Errorf("invalid spine policy %q", s)
}

func (s SpinePolicy) MarshalYAML() (any, error) {
	return s.String(), nil
}

func (s *SpinePolicy) UnmarshalYAML(unmarshal func(any) error) error {
	var str string
	if err := unmarshal(&str); err != nil {
		return err
	}
	v, err := ParseSpinePolicy(str)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// PagesKind distinguishes the three ways a page budget can be requested.
type PagesKind int

const (
	PagesKindCount PagesKind = iota
	PagesKindStats
	PagesKindAuto
)

// Pages is the tagged variant replacing the sentinel-valued "pages" CLI
// argument (an integer, the string "bookstats", or an "auto" page-size).
//
//	Pages = Count(int) | Stats | Auto(PageSize)
type Pages struct {
	Kind     PagesKind
	Count    int // valid when Kind == PagesKindCount
	PageSize int // valid when Kind == PagesKindAuto; metric unit is the planner's PagingMode
}

func PagesCount(n int) Pages { return Pages{Kind: PagesKindCount, Count: n} }
func PagesStats() Pages      { return Pages{Kind: PagesKindStats} }
func PagesAuto(size int) Pages {
	return Pages{Kind: PagesKindAuto, PageSize: size}
}

func (p Pages) String() string {
	switch p.Kind {
	case PagesKindStats:
		return "bookstats"
	case PagesKindAuto:
		return fmt.Sprintf("auto(%d)", p.PageSize)
	default:
		return fmt.Sprintf("%d", p.Count)
	}
}

// RomanKind distinguishes the three ways Roman-numbered front matter can be
// requested.
type RomanKind int

const (
	RomanKindOff RomanKind = iota
	RomanKindCount
	RomanKindAuto
)

// Roman is the tagged variant replacing the sentinel-valued "0 disables
// Roman front matter" CLI argument.
//
//	Roman = Off | Count(int) | Auto
type Roman struct {
	Kind  RomanKind
	Count int // valid when Kind == RomanKindCount
}

func RomanOff() Roman         { return Roman{Kind: RomanKindOff} }
func RomanCount(n int) Roman  { return Roman{Kind: RomanKindCount, Count: n} }
func RomanAuto() Roman        { return Roman{Kind: RomanKindAuto} }
func (r Roman) Enabled() bool { return r.Kind != RomanKindOff }

// ToCEntryKind distinguishes the three shapes a single ToCMap entry can take.
type ToCEntryKind int

const (
	ToCEntryIgnore ToCEntryKind = iota
	ToCEntryNumber
	ToCEntryRoman
)

// ToCEntry is one positional slot of a user-supplied ToCMap: an integer page
// number, a Roman numeral string, or the sentinel 0 meaning "ignore this ToC
// entry".
type ToCEntry struct {
	Kind   ToCEntryKind
	Number int
	Roman  string
}

// OverwritePolicy governs what the navigation synthesiser does when it
// finds a pre-existing `<pageList>` or EPUB3 page-list `<nav>`.
// ENUM(abort, overwrite, ask)
type OverwritePolicy int

const (
	OverwritePolicyAbort OverwritePolicy = iota
	OverwritePolicyOverwrite
	OverwritePolicyAsk
)

func (o OverwritePolicy) String() string {
	switch o {
	case OverwritePolicyAbort:
		return "abort"
	case OverwritePolicyOverwrite:
		return "overwrite"
	case OverwritePolicyAsk:
		return "ask"
	default:
		return fmt.Sprintf("OverwritePolicy(%d)", int(o))
	}
}

func ParseOverwritePolicy(s string) (OverwritePolicy, error) {
	switch s {
	case "abort":
		return OverwritePolicyAbort, nil
	case "overwrite":
		return OverwritePolicyOverwrite, nil
	case "ask":
		return OverwritePolicyAsk, nil
	}
	return 0, fmt.Errorf("invalid overwrite policy %q", s)
}

// ParseToCEntry parses a single `--tocpages` token.
func ParseToCEntry(s string) (ToCEntry, error) {
	if s == "0" {
		return ToCEntry{Kind: ToCEntryIgnore}, nil
	}
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err == nil {
		return ToCEntry{Kind: ToCEntryNumber, Number: n}, nil
	}
	if _, err := numeral.RomanToInt(s); err != nil {
		return ToCEntry{}, fmt.Errorf("invalid tocpages entry %q: %w", s, err)
	}
	return ToCEntry{Kind: ToCEntryRoman, Roman: s}, nil
}
