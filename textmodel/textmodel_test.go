package textmodel

import (
	"strings"
	"testing"

	"golang.org/x/net/html"
)

func mustParse(t *testing.T, name, body string) *Document {
	t.Helper()
	doc, err := ParseDocument(name, "id-"+name, []byte(body))
	if err != nil {
		t.Fatalf("ParseDocument(%s): %v", name, err)
	}
	return doc
}

func TestNodeTextWhitelistOwnership(t *testing.T) {
	doc := mustParse(t, "ch1.xhtml", `<html><body><p>hello <em>world</em></p><script>ignored()</script></body></html>`)
	got := NodeText(doc.Root)
	if got != "hello world" {
		t.Errorf("NodeText = %q, want %q", got, "hello world")
	}
}

func TestNodeTextSkipsComments(t *testing.T) {
	doc := mustParse(t, "ch1.xhtml", `<html><body><p>a<!-- nope -->b</p></body></html>`)
	got := NodeText(doc.Root)
	if got != "ab" {
		t.Errorf("NodeText = %q, want %q", got, "ab")
	}
}

func TestNodeRangesCoverStrippedText(t *testing.T) {
	doc := mustParse(t, "ch1.xhtml", `<html><body><p id="p1">hello <em id="e1">world</em></p></body></html>`)
	stripped := NodeText(doc.Root)
	ranges, ids := NodeRanges(doc.Root, stripped)

	if len(ranges) == 0 {
		t.Fatal("expected at least one NodeRange")
	}
	for _, r := range ranges {
		if r.Start < 0 || r.End > len(stripped) || r.Start > r.End {
			t.Errorf("NodeRange [%d,%d) out of bounds for stripped text of length %d", r.Start, r.End, len(stripped))
			continue
		}
		want := NodeText(r.Element)
		got := stripped[r.Start:r.End]
		if got != want {
			t.Errorf("stripped[%d:%d] = %q, want NodeText(element) = %q", r.Start, r.End, got, want)
		}
	}

	if off, ok := ids["p1"]; !ok || off != 0 {
		t.Errorf("ids[p1] = (%d, %v), want (0, true)", off, ok)
	}
	if off, ok := ids["e1"]; !ok || off != strings.Index(stripped, "world") {
		t.Errorf("ids[e1] = (%d, %v), want (%d, true)", off, ok, strings.Index(stripped, "world"))
	}
}

func TestNodeRangesSkipsDuplicateChildText(t *testing.T) {
	// <p> contains only <em>, whose text equals the parent's own computed
	// text; per §4.C4 the parent range is skipped so the same span isn't
	// recorded twice.
	doc := mustParse(t, "ch1.xhtml", `<html><body><p id="outer"><em id="inner">only text</em></p></body></html>`)
	stripped := NodeText(doc.Root)
	ranges, _ := NodeRanges(doc.Root, stripped)

	var sawOuter, sawInner bool
	for _, r := range ranges {
		if id, ok := Attr(r.Element, "id"); ok {
			if id == "outer" {
				sawOuter = true
			}
			if id == "inner" {
				sawInner = true
			}
		}
	}
	if sawOuter {
		t.Error("expected outer <p> range to be skipped (duplicate of child text)")
	}
	if !sawInner {
		t.Error("expected inner <em> range to be recorded")
	}
}

func TestBuildModelOffsets(t *testing.T) {
	docs := []*Document{
		mustParse(t, "ch1.xhtml", `<html><body><p>one</p></body></html>`),
		mustParse(t, "ch2.xhtml", `<html><body><p>two three</p></body></html>`),
	}
	m := BuildModel(docs)

	if len(m.Offsets) != len(docs)+1 {
		t.Fatalf("Offsets has %d entries, want %d", len(m.Offsets), len(docs)+1)
	}
	if m.Offsets[0] != 0 {
		t.Errorf("Offsets[0] = %d, want 0", m.Offsets[0])
	}
	for i := 0; i < len(m.Offsets)-1; i++ {
		if m.Offsets[i] > m.Offsets[i+1] {
			t.Errorf("Offsets not monotone at %d: %d > %d", i, m.Offsets[i], m.Offsets[i+1])
		}
	}
	if m.Offsets[len(m.Offsets)-1] != len(m.StrippedText) {
		t.Errorf("final Offsets entry = %d, want len(StrippedText) = %d", m.Offsets[len(m.Offsets)-1], len(m.StrippedText))
	}
	if len(m.Contents) != len(docs) {
		t.Fatalf("Contents has %d entries, want %d", len(m.Contents), len(docs))
	}
}

func TestDocumentIndexForOffset(t *testing.T) {
	docs := []*Document{
		mustParse(t, "ch1.xhtml", `<html><body><p>aaa</p></body></html>`),
		mustParse(t, "ch2.xhtml", `<html><body><p>bbbbb</p></body></html>`),
	}
	m := BuildModel(docs)

	if got := m.DocumentIndexForOffset(0); got != 0 {
		t.Errorf("DocumentIndexForOffset(0) = %d, want 0", got)
	}
	last := len(m.StrippedText) - 1
	if got := m.DocumentIndexForOffset(last); got != 1 {
		t.Errorf("DocumentIndexForOffset(%d) = %d, want 1", last, got)
	}
}

func TestAttrSetAttrRoundTrip(t *testing.T) {
	doc := mustParse(t, "ch1.xhtml", `<html><body><p id="p1">x</p></body></html>`)
	ranges, _ := NodeRanges(doc.Root, NodeText(doc.Root))
	if len(ranges) == 0 {
		t.Fatal("expected a NodeRange for <p>")
	}
	el := ranges[0].Element
	SetAttr(el, "data-pagebreak", "yes")
	v, ok := Attr(el, "data-pagebreak")
	if !ok || v != "yes" {
		t.Errorf("Attr after SetAttr = (%q, %v), want (%q, true)", v, ok, "yes")
	}
}

func TestHTMLElementAdapter(t *testing.T) {
	doc := mustParse(t, "ch1.xhtml", `<html><body><span class="pageno" data-pagebreak="yes" id="pg_1">1</span></body></html>`)
	ranges, _ := NodeRanges(doc.Root, NodeText(doc.Root))
	var span *html.Node
	for _, r := range ranges {
		if tagOf(r.Element) == "span" {
			span = r.Element
		}
	}
	if span == nil {
		t.Fatal("expected a <span> NodeRange")
	}
	el := HTMLElement{Node: span}
	if el.TagName() != "span" {
		t.Errorf("TagName() = %q, want %q", el.TagName(), "span")
	}
	if v, ok := el.Attr("data-pagebreak"); !ok || v != "yes" {
		t.Errorf("Attr(data-pagebreak) = (%q, %v), want (%q, true)", v, ok, "yes")
	}
}
