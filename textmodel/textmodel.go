// Package textmodel linearises an EPUB content document's element tree into
// one stripped-text stream, remembering, for every logical offset, which
// element it belongs to (NodeRange) and which id begins at it (IdIndex).
//
// Parsing uses golang.org/x/net/html, an explicit-text-node tree (design
// note (b) of the pagination engine: text between elements is its own
// sibling node, not a leading/trailing-text attribute pair). §4.C5 adapts
// its insertion algorithm to that representation.
package textmodel

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// whitelist is the fixed set of HTML/MathML tags whose directly-owned text
// contributes to the stripped text. Comment nodes never contribute.
var whitelist = map[string]bool{}

func init() {
	for _, t := range []string{
		"html", "body", "div", "span", "p", "strong", "em", "a", "b", "i",
		"h1", "h2", "h3", "h4", "h5", "h6", "title", "figure", "section",
		"sub", "ul", "ol", "li", "abbr", "blockquote", "figcaption", "aside",
		"cite", "code", "pre", "nav", "tr", "table", "tbody", "thead",
		"header", "th", "td", "math", "mrow", "mspace", "msub", "mi", "mn",
		"mo", "var", "mtable", "mtr", "mtd", "mtext", "msup", "mfrac",
		"msqrt", "munderover", "msubsup", "mpadded", "mphantom",
	} {
		whitelist[t] = true
	}
}

// Document is an XHTML content file, identified by its container-relative
// file name and manifest id. Root is mutated in place by the injector.
type Document struct {
	FileName   string
	ManifestID string
	Root       *html.Node
}

// NodeRange records that the stripped text of Element occupies [Start, End)
// inside its document's local stripped text.
type NodeRange struct {
	Element *html.Node
	Start   int
	End     int
}

// BookContent bundles, per document: the parsed element tree, its
// NodeRanges (in pre-order), and its IdIndex (id -> local stripped offset).
type BookContent struct {
	Doc    *Document
	Ranges []NodeRange
	IDs    map[string]int
}

// Model is the result of linearising an ordered sequence of documents:
// StrippedText is the concatenation across all documents in spine order;
// Offsets[i] is the stripped-text offset at which document i begins,
// Offsets[len(docs)] is the total length.
type Model struct {
	StrippedText string
	Offsets      []int
	Contents     []*BookContent
}

// ParseDocument parses raw XHTML bytes as lenient HTML.
func ParseDocument(fileName, manifestID string, data []byte) (*Document, error) {
	root, err := html.Parse(strings.NewReader(string(data)))
	if err != nil {
		return nil, fmt.Errorf("textmodel: parsing %s: %w", fileName, err)
	}
	return &Document{FileName: fileName, ManifestID: manifestID, Root: root}, nil
}

// NodeText concatenates the text of every text node in n's subtree (n
// included) whose nearest ancestor element's tag lies in the whitelist.
// Comment nodes contribute nothing. n itself need not be whitelisted: the
// walk is structural and unconditional, only the ownership test at each
// individual text node decides inclusion.
func NodeText(n *html.Node) string {
	var b strings.Builder
	walkText(n, &b)
	return b.String()
}

func walkText(n *html.Node, b *strings.Builder) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.TextNode:
			if whitelist[tagOf(n)] {
				b.WriteString(c.Data)
			}
		case html.ElementNode:
			walkText(c, b)
		case html.CommentNode:
			// contributes nothing
		default:
			walkText(c, b)
		}
	}
}

func tagOf(n *html.Node) string {
	if n.Type != html.ElementNode {
		return ""
	}
	if n.DataAtom != atom.Atom(0) {
		return n.DataAtom.String()
	}
	return strings.ToLower(n.Data)
}

// Attr returns the value of attribute name on n, and whether it was present.
func Attr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return "", false
}

// SetAttr sets (or replaces) attribute name on n.
func SetAttr(n *html.Node, name, value string) {
	for i, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
}

// HTMLElement adapts an *html.Node to selector.Element.
type HTMLElement struct{ Node *html.Node }

func (e HTMLElement) TagName() string { return tagOf(e.Node) }
func (e HTMLElement) Attr(name string) (string, bool) {
	return Attr(e.Node, name)
}

// NodeRanges performs the pre-order walk described in §4.C4 step 3 over
// every element in root's subtree (not only whitelisted tags), building the
// NodeRange list and the IdIndex against this document's own stripped text
// (strippedText, typically NodeText(root)), starting its monotone cursor at
// 0, local to this document.
func NodeRanges(root *html.Node, strippedText string) ([]NodeRange, map[string]int) {
	var ranges []NodeRange
	ids := make(map[string]int)
	baseIndex := 0

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			text := NodeText(n)
			if text == "" {
				if id, ok := Attr(n, "id"); ok && id != "" {
					ids[id] = baseIndex
				}
			} else {
				rel := strings.Index(strippedText[baseIndex:], text)
				myIndex := baseIndex
				if rel >= 0 {
					myIndex = baseIndex + rel
				}
				if id, ok := Attr(n, "id"); ok && id != "" {
					ids[id] = myIndex
				}
				childText, hasChildText := firstNonEmptyChildText(n)
				if !(hasChildText && childText == text) {
					ranges = append(ranges, NodeRange{Element: n, Start: myIndex, End: myIndex + len(text)})
					if !hasChildText {
						baseIndex = myIndex + len(text)
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return ranges, ids
}

// BuildModel linearises an ordered sequence of documents (already in spine
// order, per §4.C8) into one Model: a single stripped-text stream, the
// per-document offset table S[0..N], and per-document BookContent.
func BuildModel(docs []*Document) *Model {
	m := &Model{Offsets: make([]int, 0, len(docs)+1)}
	var all strings.Builder
	offset := 0
	m.Offsets = append(m.Offsets, 0)

	for _, doc := range docs {
		stripped := NodeText(doc.Root)
		ranges, ids := NodeRanges(doc.Root, stripped)
		all.WriteString(stripped)
		offset += len(stripped)
		m.Offsets = append(m.Offsets, offset)
		m.Contents = append(m.Contents, &BookContent{Doc: doc, Ranges: ranges, IDs: ids})
	}
	m.StrippedText = all.String()
	return m
}

// DocumentIndexForOffset returns the index of the document whose
// [Offsets[i], Offsets[i+1]) range contains the global stripped-text offset.
func (m *Model) DocumentIndexForOffset(globalOffset int) int {
	for i := 0; i < len(m.Offsets)-1; i++ {
		if globalOffset >= m.Offsets[i] && globalOffset < m.Offsets[i+1] {
			return i
		}
	}
	return len(m.Offsets) - 2
}

// firstNonEmptyChildText returns the text of the first direct child element
// whose own NodeText is non-empty, mirroring `next((nodeText(x) for x in
// iter(e) if nodeText(x) != ''), None)` in the reference implementation.
func firstNonEmptyChildText(n *html.Node) (string, bool) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		if t := NodeText(c); t != "" {
			return t, true
		}
	}
	return "", false
}
