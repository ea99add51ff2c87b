// Package engine is the orchestrator (§4.C8): it composes textmodel,
// planner, inject and navsynth into one pagination run, owns the BookContent
// for the run's duration, resolves ToC-leaf anchors, applies the spine
// ordering policies, and assembles the final PageRecord list.
package engine

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"

	"github.com/beevik/etree"
	"github.com/maruel/natural"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"epagin/common"
	"epagin/inject"
	"epagin/navsynth"
	"epagin/numeral"
	"epagin/pathutil"
	"epagin/planner"
	"epagin/selector"
	"epagin/textmodel"
	"epagin/utils/debug"
)

// Error taxonomy (§7). Fatal kinds abort the run before any output is
// written; InjectionSkipped is logged per occurrence and does not appear
// here because it never aborts anything.
var (
	ErrInvalidInput         = errors.New("engine: invalid input")
	ErrInvalidContainer     = errors.New("engine: invalid container")
	ErrInvalidSelector      = errors.New("engine: invalid selector")
	ErrNotEnoughLines       = errors.New("engine: not enough lines for requested page count")
	ErrNonexistentToCTarget = errors.New("engine: ToC references a nonexistent document")
	ErrToCMapMismatch       = errors.New("engine: ToCMap length does not match flattened ToC leaf count")
	ErrUserCancelled        = errors.New("engine: user declined to overwrite existing navigation")
	ErrNoPageMarkers        = errors.New("engine: selector matched no page markers")
)

// SpineEntry is one entry of the container's spine (§6).
type SpineEntry struct {
	IDRef  string
	Linear bool
}

// TocLeaf is one flattened (pre-order) ToC entry (§4.C8 ToC leaf resolution).
type TocLeaf struct {
	Title string
	Href  string
}

// Book is everything the orchestrator needs about the container's content,
// already parsed by the container reader (§6).
type Book struct {
	Docs      []*textmodel.Document // keyed by manifest order, pre-spine-reordering
	Spine     []SpineEntry          // idref -> linear, in document order
	TocLeaves []TocLeaf
	Epub3     bool // an EPUB3 nav document was found
	NCXPath   string
	Nav3Path  string
	RawOPF    []byte // passed through to navsynth.PatchOPFForPageMap by the caller

	// ncxDoc and nav3Doc are the already-parsed navigation documents the
	// container reader attaches; nil disables the corresponding synthesis
	// step regardless of Params.
	ncxDoc  *etree.Document
	nav3Doc *etree.Document
}

// AttachNav lets the container reader (epubio) supply the parsed NCX and/or
// EPUB3 nav documents Run will write the page-list into. A nil argument
// leaves the corresponding document untouched, so NCX and nav3 can be
// attached independently as the reader discovers each one.
func (b *Book) AttachNav(ncxDoc, nav3Doc *etree.Document) {
	if ncxDoc != nil {
		b.ncxDoc = ncxDoc
	}
	if nav3Doc != nil {
		b.nav3Doc = nav3Doc
	}
}

// NCXDoc and Nav3Doc expose the (possibly just-mutated, by Run/Synthesise)
// navigation documents back to the caller, so epubio can serialise them
// after a run without engine exposing its internal fields.
func (b *Book) NCXDoc() *etree.Document  { return b.ncxDoc }
func (b *Book) Nav3Doc() *etree.Document { return b.nav3Doc }

// Params configures one pagination run, mirroring the CLI surface (§6).
type Params struct {
	Pages     common.Pages
	PageMode  common.PagingMode
	BreakMode common.BreakSnap
	TocMap    []common.ToCEntry
	Roman     common.Roman
	Nonlinear common.SpinePolicy
	Unlisted  common.SpinePolicy
	NoNav     bool
	NoNcx     bool
	PageMap   bool
	Overwrite common.OverwritePolicy
	Confirm   navsynth.Confirm
	Suggest   bool
	Selector  string // non-empty enables identify-existing mode
	Attr      string // attribute identify-existing reads a page number from, "" means derive from text/id
}

// Stats is the §4.C8 "bookstats" output: no breaks are planned, callers use
// it to size a later --autopage run or just report book length.
type Stats struct {
	TotalMetric int
	DocCount    int
}

// Result is what a successful run produces: the modified document bytes are
// the caller's job to serialise (epubio); engine only hands back which
// documents were touched and the final page records.
type Result struct {
	TouchedDocs []*textmodel.Document
	Records     []navsynth.PageRecord
	PageMapDoc  []navsynth.PageRecord // nil unless Params.PageMap
	Warnings    error                 // aggregated InjectionSkipped warnings, non-nil but non-fatal

	// SuggestedPages is set instead of TouchedDocs/Records when Params.Suggest
	// short-circuits the run: the auto-sized page count is computed and
	// nothing is planned, injected, or written.
	SuggestedPages int
}

// OrderSpine implements §4.C8 document ordering: linear documents precede
// nonlinear ones under SpinePolicyAppend, the reverse under
// SpinePolicyPrepend, and nonlinear documents are dropped entirely under
// SpinePolicyIgnore. Documents absent from the spine are folded in per
// unlisted using the same three policies.
func OrderSpine(docs []*textmodel.Document, spine []SpineEntry, nonlinear, unlisted common.SpinePolicy) []*textmodel.Document {
	byID := make(map[string]*textmodel.Document, len(docs))
	seen := make(map[string]bool, len(docs))
	for _, d := range docs {
		byID[d.ManifestID] = d
	}

	var linear, nl []*textmodel.Document
	for _, e := range spine {
		d, ok := byID[e.IDRef]
		if !ok {
			continue
		}
		seen[e.IDRef] = true
		if e.Linear {
			linear = append(linear, d)
		} else {
			nl = append(nl, d)
		}
	}

	var ordered []*textmodel.Document
	switch nonlinear {
	case common.SpinePolicyAppend:
		ordered = append(append(ordered, linear...), nl...)
	case common.SpinePolicyPrepend:
		ordered = append(append(ordered, nl...), linear...)
	case common.SpinePolicyIgnore:
		ordered = append(ordered, linear...)
	}

	var unlistedDocs []*textmodel.Document
	for _, d := range docs {
		if !seen[d.ManifestID] {
			unlistedDocs = append(unlistedDocs, d)
		}
	}
	switch unlisted {
	case common.SpinePolicyAppend:
		ordered = append(ordered, unlistedDocs...)
	case common.SpinePolicyPrepend:
		ordered = append(append([]*textmodel.Document{}, unlistedDocs...), ordered...)
	case common.SpinePolicyIgnore:
		// dropped
	}
	return ordered
}

// leafOffset is the resolved stripped-text offset of one flattened ToC leaf,
// or skip=true if its id anchor could not be located (a logged warning,
// not fatal, per §4.C8: "A missing id logs a warning and skips that leaf").
type leafOffset struct {
	offset int
	skip   bool
}

// ResolveTocLeaves implements §4.C8 ToC leaf resolution.
func ResolveTocLeaves(leaves []TocLeaf, docs []*textmodel.Document, model *textmodel.Model) ([]leafOffset, error) {
	byFile := make(map[string]int, len(docs))
	for i, d := range docs {
		byFile[d.FileName] = i
	}

	out := make([]leafOffset, len(leaves))
	for i, leaf := range leaves {
		docName, id, anchored := splitHref(leaf.Href)
		idx, ok := byFile[docName]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrNonexistentToCTarget, docName)
		}
		if !anchored || id == "" {
			out[i] = leafOffset{offset: model.Offsets[idx]}
			continue
		}
		local, ok := model.Contents[idx].IDs[id]
		if !ok {
			out[i] = leafOffset{skip: true}
			continue
		}
		out[i] = leafOffset{offset: model.Offsets[idx] + local}
	}
	return out, nil
}

func splitHref(href string) (doc, id string, anchored bool) {
	for i := 0; i < len(href); i++ {
		if href[i] == '#' {
			return href[:i], href[i+1:], true
		}
	}
	return href, "", false
}

// BuildAnchors converts a user-supplied ToCMap plus its resolved leaf
// offsets into planner.Anchors, converting Roman entries to their integer
// page number (tocutils.createRange's "if type(page) == str: page =
// romanToInt(page)"). tocMap must have the same length as leaves, or
// ErrToCMapMismatch.
func BuildAnchors(tocMap []common.ToCEntry, leaves []leafOffset) ([]planner.Anchor, error) {
	if len(tocMap) != len(leaves) {
		return nil, fmt.Errorf("%w: tocmap has %d entries, ToC has %d leaves", ErrToCMapMismatch, len(tocMap), len(leaves))
	}
	var anchors []planner.Anchor
	for i, entry := range tocMap {
		if entry.Kind == common.ToCEntryIgnore || leaves[i].skip {
			continue
		}
		page := entry.Number
		if entry.Kind == common.ToCEntryRoman {
			n, err := numeral.RomanToInt(entry.Roman)
			if err != nil {
				return nil, fmt.Errorf("engine: tocmap entry %d: %w", i, err)
			}
			page = n
		}
		anchors = append(anchors, planner.Anchor{Page: page, Offset: leaves[i].offset})
	}
	sort.Slice(anchors, func(i, j int) bool { return anchors[i].Offset < anchors[j].Offset })
	return anchors, nil
}

// PageOffset implements §4.C8's numbering base, always 0; Plan adds 1 to it
// because it hands numeral.Romanize zero-based page indices. The first page
// past the Roman front matter always
// displays as Arabic "1"; ToC anchors only decide where breaks fall, never
// the numbering base itself.
func PageOffset(anchors []planner.Anchor) int {
	return 0
}

// requestedPages resolves Params.Pages against the stripped text, handling
// the auto page-size mode (§4.C6).
func requestedPages(pages common.Pages, mode common.PagingMode, text string) (int, error) {
	switch pages.Kind {
	case common.PagesKindCount:
		if pages.Count < 2 {
			return 0, fmt.Errorf("%w: page count must be >= 2, got %d", ErrInvalidInput, pages.Count)
		}
		return pages.Count, nil
	case common.PagesKindAuto:
		return planner.AutoPageCount(mode, pages.PageSize, text), nil
	default:
		return 0, fmt.Errorf("%w: bookstats mode does not plan breaks", ErrInvalidInput)
	}
}

// Plan runs C6/C5: computes planned breaks (optionally ToC-anchored),
// injects break spans into the element trees, and returns the resulting
// PageRecords plus any injection-skipped offsets as aggregated warnings.
func Plan(book *Book, docs []*textmodel.Document, model *textmodel.Model, p Params, log *zap.Logger) (Result, error) {
	totalPages, err := requestedPages(p.Pages, p.PageMode, model.StrippedText)
	if err != nil {
		return Result{}, err
	}

	var anchors []planner.Anchor
	if len(p.TocMap) > 0 {
		leaves, err := ResolveTocLeaves(book.TocLeaves, docs, model)
		if err != nil {
			return Result{}, err
		}
		anchors, err = BuildAnchors(p.TocMap, leaves)
		if err != nil {
			return Result{}, err
		}
	}

	var breaks []planner.PlannedBreak
	if len(anchors) > 0 {
		breaks, _, err = planner.PlanAnchored(anchors, totalPages, p.PageMode, p.BreakMode, model.StrippedText)
	} else {
		breaks, err = planner.Plan(totalPages, p.PageMode, p.BreakMode, model.StrippedText)
	}
	if errors.Is(err, planner.ErrNotEnoughLines) {
		return Result{}, fmt.Errorf("%w", ErrNotEnoughLines)
	}
	if err != nil {
		return Result{}, err
	}

	pageOffset := PageOffset(anchors)
	frontCount := romanFrontCount(p.Roman, p.TocMap, anchors, model, breaks)

	var (
		records  []navsynth.PageRecord
		warnings error
		touched  = map[int]*textmodel.Document{}
	)
	for i, b := range breaks {
		docIdx := model.DocumentIndexForOffset(b.Offset)
		local := b.Offset - model.Offsets[docIdx]
		display, derr := numeral.Romanize(i, frontCount, pageOffset+1)
		if derr != nil {
			return Result{}, derr
		}
		id := pathutil.PageIDPattern(i, "")
		node := inject.NewBreakNode(id, display, book.Epub3)

		if ierr := inject.InsertAt(local, model.Contents[docIdx].Ranges, node); ierr != nil {
			warnings = multierr.Append(warnings, fmt.Errorf("page %d: %w", i, ierr))
			log.Warn("injection skipped", zap.Int("page", i), zap.Error(ierr))
			continue
		}
		touched[docIdx] = docs[docIdx]
		records = append(records, navsynth.PageRecord{ID: id, DisplayNumber: display, DocFileName: docs[docIdx].FileName})
	}

	return Result{
		TouchedDocs: sortedDocs(touched),
		Records:     records,
		Warnings:    warnings,
	}, nil
}

func sortedDocs(m map[int]*textmodel.Document) []*textmodel.Document {
	idxs := slices.Sorted(maps.Keys(m))
	out := make([]*textmodel.Document, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, m[i])
	}
	return out
}

// romanFrontCount resolves Params.Roman into the "front" count consumed by
// numeral.Romanize (§4.C2): off (0, disabling Roman display entirely),
// an explicit count, or an estimate from the average observed page size,
// never dropping below the largest Roman anchor already present.
func romanFrontCount(r common.Roman, tocMap []common.ToCEntry, anchors []planner.Anchor, model *textmodel.Model, breaks []planner.PlannedBreak) int {
	switch r.Kind {
	case common.RomanKindOff:
		return 0
	case common.RomanKindCount:
		return r.Count
	case common.RomanKindAuto:
		minPages := 0
		for _, e := range tocMap {
			if e.Kind != common.ToCEntryRoman {
				continue
			}
			if n, err := numeral.RomanToInt(e.Roman); err == nil && n > minPages {
				minPages = n
			}
		}
		frontEnd := len(model.StrippedText)
		for _, a := range anchors {
			if a.Page == 1 {
				frontEnd = a.Offset
				break
			}
		}
		avg := averagePageSize(breaks, len(model.StrippedText))
		return planner.EstimateFrontPages(common.PacingChars(), model.StrippedText[:frontEnd], avg, minPages)
	default:
		return 0
	}
}

func averagePageSize(breaks []planner.PlannedBreak, total int) float64 {
	if len(breaks) < 2 {
		return float64(total)
	}
	return float64(total) / float64(len(breaks))
}

// IdentifyExisting implements §4.C8's identify-existing mode: walk every
// document's elements, collect those matching sel, derive a page number per
// element, assign an id if absent, and tag epub:type="pagebreak" when an
// EPUB3 nav is present. No breaks are planned or injected.
func IdentifyExisting(docs []*textmodel.Document, selExpr string, attr string, epub3 bool) ([]navsynth.PageRecord, error) {
	sel, err := selector.Parse(selExpr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSelector, err)
	}

	var records []navsynth.PageRecord
	currentPage := 0
	for _, doc := range docs {
		matches := matchAll(doc.Root, sel)
		for _, el := range matches {
			currentPage++
			page := deriveByAttrOrText(el, attr, currentPage)
			if page != currentPage {
				currentPage = page
			}

			id, ok := textmodel.Attr(el, "id")
			if !ok || id == "" {
				id = pathutil.PageIDPattern(currentPage, "pg_")
				textmodel.SetAttr(el, "id", id)
			}
			if epub3 {
				if _, ok := textmodel.Attr(el, "epub:type"); !ok {
					textmodel.SetAttr(el, "epub:type", "pagebreak")
				}
			}
			records = append(records, navsynth.PageRecord{
				ID:            id,
				DisplayNumber: fmt.Sprintf("%d", currentPage),
				DocFileName:   doc.FileName,
			})
		}
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: selector %q matched nothing", ErrNoPageMarkers, selExpr)
	}
	return records, nil
}

func matchAll(root *html.Node, sel *selector.Selector) []*html.Node {
	var out []*html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n == nil {
			return
		}
		if n.Type == html.ElementNode && sel.Match(textmodel.HTMLElement{Node: n}) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

func deriveByAttrOrText(el *html.Node, attr string, currentPage int) int {
	if attr != "" {
		if v, ok := textmodel.Attr(el, attr); ok {
			if n, ok := trailingInt(v); ok {
				return n
			}
		}
		return currentPage
	}
	text := textmodel.NodeText(el)
	if n, ok := trailingInt(text); ok {
		return n
	}
	if id, ok := textmodel.Attr(el, "id"); ok {
		if n, ok := trailingInt(id); ok {
			return n
		}
	}
	return currentPage
}

func trailingInt(s string) (int, bool) {
	end := len(s)
	for end > 0 && !isDigit(s[end-1]) {
		end--
	}
	start := end
	for start > 0 && isDigit(s[start-1]) {
		start--
	}
	if start == end {
		return 0, false
	}
	n := 0
	for _, c := range s[start:end] {
		n = n*10 + int(c-'0')
	}
	return n, true
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// BookStats computes §4.C8's bookstats output over the already-ordered
// document set, without planning any breaks.
func BookStats(docs []*textmodel.Document, model *textmodel.Model, mode common.PagingMode) Stats {
	return Stats{TotalMetric: planner.TotalMetric(mode, model.StrippedText), DocCount: len(docs)}
}

// Run drives the full state machine (§4.C8): Init -> BuildTextModel ->
// {Plan|Identify} -> Synthesise. LoadContainer/Emit are the caller's job
// (epubio); Run only ever mutates the *html.Node trees already held by
// book.Docs and returns which ones changed.
func Run(book *Book, p Params, log *zap.Logger) (Result, error) {
	if len(book.Docs) == 0 {
		return Result{}, fmt.Errorf("%w: book has no content documents", ErrInvalidInput)
	}
	if p.Suggest && p.Pages.Kind != common.PagesKindAuto {
		return Result{}, fmt.Errorf("%w: --suggest requires auto page-size mode", ErrInvalidInput)
	}

	docs := OrderSpine(book.Docs, book.Spine, p.Nonlinear, p.Unlisted)
	model := textmodel.BuildModel(docs)

	if p.Suggest {
		n, err := requestedPages(p.Pages, p.PageMode, model.StrippedText)
		if err != nil {
			return Result{}, err
		}
		return Result{SuggestedPages: n}, nil
	}

	var result Result
	if p.Selector != "" {
		records, err := IdentifyExisting(docs, p.Selector, p.Attr, book.Epub3)
		if err != nil {
			return Result{}, err
		}
		result = Result{Records: records}
	} else {
		var err error
		result, err = Plan(book, docs, model, p, log)
		if err != nil {
			return Result{}, err
		}
	}

	if err := Synthesise(book, &result, p); err != nil {
		return Result{}, err
	}
	return result, nil
}

// Synthesise implements the state machine's final transition, calling into
// navsynth subject to the NoNav/NoNcx/PageMap flags; ErrCancelled from
// navsynth surfaces as ErrUserCancelled.
func Synthesise(book *Book, result *Result, p Params) error {
	if !p.NoNcx && book.NCXPath != "" {
		if err := book.synthNCX(result.Records, p); err != nil {
			return translateCancel(err)
		}
	}
	if !p.NoNav && book.Epub3 && book.Nav3Path != "" {
		if err := book.synthNav3(result.Records, p); err != nil {
			return translateCancel(err)
		}
	}
	if p.PageMap {
		result.PageMapDoc = result.Records
	}
	return nil
}

func translateCancel(err error) error {
	if errors.Is(err, navsynth.ErrCancelled) {
		return fmt.Errorf("%w: %v", ErrUserCancelled, err)
	}
	return err
}

// synthNCX and synthNav3 write the page list into the already-parsed
// *etree.Document navigation files that the container reader attaches to
// Book via AttachNav; each is a no-op when its document was not attached.
func (b *Book) synthNCX(records []navsynth.PageRecord, p Params) error {
	if b.ncxDoc == nil {
		return nil
	}
	return navsynth.WriteNCX(b.ncxDoc, b.NCXPath, records, p.Overwrite, p.Confirm)
}

func (b *Book) synthNav3(records []navsynth.PageRecord, p Params) error {
	if b.nav3Doc == nil {
		return nil
	}
	return navsynth.WriteNav3(b.nav3Doc, b.Nav3Path, records, p.Overwrite, p.Confirm)
}

// DebugDumpIDs renders a natural-sorted listing of every document's
// IdIndex, for manual inspection (grounded on content/content_debug.go's
// identical natural.StringSlice use for footnote-index debug dumps).
func DebugDumpIDs(docs []*textmodel.Document, model *textmodel.Model) string {
	tw := debug.NewTreeWriter()
	for i, bc := range model.Contents {
		tw.Line(0, "%s: %d ids", docs[i].FileName, len(bc.IDs))
		keys := slices.Collect(maps.Keys(bc.IDs))
		sort.Sort(natural.StringSlice(keys))
		for _, k := range keys {
			tw.Line(1, "%s -> %d", k, bc.IDs[k])
		}
	}
	return tw.String()
}
