// Package inject resolves a stripped-text offset back to its owning element
// and mutates the element tree to insert a new node at that exact character
// position, without altering any existing text.
//
// §4.C5 Design Note (b): golang.org/x/net/html represents inter-element text
// as explicit sibling TextNodes rather than lxml's leading-text/trailing-tail
// attribute pair. The three insertion cases described by the reference
// algorithm (split leading text, split trailing text, scan children) are
// reproduced here against that representation: an element's "leading text"
// is its FirstChild when that child is a TextNode, and its "trailing text"
// is the TextNode sibling immediately following it.
package inject

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"epagin/textmodel"
)

// ErrNoInsertionSpot is returned by InsertAt when no NodeRange covers the
// given offset, or the scan-children fallback runs out of children. The
// orchestrator treats this as InjectionSkipped: a warning, not a fatal error.
var ErrNoInsertionSpot = errors.New("inject: no insertion spot found")

// Resolve returns the last NodeRange whose [Start, End) contains localOffset,
// i.e. the deepest element in pre-order that still covers the offset. It
// also returns the offset's distance from the start and from the end of that
// element's own text.
func Resolve(localOffset int, ranges []textmodel.NodeRange) (el *html.Node, fromStart, fromEnd int, err error) {
	found := false
	for _, r := range ranges {
		if r.Start <= localOffset && localOffset < r.End {
			el = r.Element
			fromStart = localOffset - r.Start
			fromEnd = r.End - localOffset
			found = true
		}
	}
	if !found {
		return nil, 0, 0, fmt.Errorf("inject: offset %d not covered by any NodeRange: %w", localOffset, ErrNoInsertionSpot)
	}
	return el, fromStart, fromEnd, nil
}

// InsertAt mutates the tree containing the elements in ranges so that
// newNode occupies the exact stripped-text position localOffset, contributing
// no text of its own. Existing text is preserved exactly, merely split around
// newNode where necessary.
func InsertAt(localOffset int, ranges []textmodel.NodeRange, newNode *html.Node) error {
	el, fromStart, fromEnd, err := Resolve(localOffset, ranges)
	if err != nil {
		return err
	}

	// Case 1: split el's own leading text. This applies even when el is
	// body/html itself — splitting body's own leading whitespace/text is a
	// perfectly ordinary insertion, not a containment edge case.
	if leading := el.FirstChild; leading != nil && leading.Type == html.TextNode && len(leading.Data) > fromStart {
		splitText(el, leading, newNode, fromStart)
		return nil
	}

	// Case 2: split el's own trailing text, i.e. the tail sibling owned by
	// el.Parent. body/html never carry a meaningful tail of their own:
	// splitting it would insert newNode as a sibling of body/html rather than
	// inside the document, so this case is skipped for them and case 3 (scan
	// children) is tried instead.
	if tag := tagOf(el); tag != "body" && tag != "html" {
		if trailing := el.NextSibling; trailing != nil && trailing.Type == html.TextNode && len(trailing.Data) > fromEnd {
			splitTail(el.Parent, trailing, newNode, len(trailing.Data)-fromEnd)
			return nil
		}
	}

	// Case 3: scan el's children, splitting the tail of whichever child's
	// span covers the offset.
	offset := 0
	if leading := el.FirstChild; leading != nil && leading.Type == html.TextNode {
		offset = len(leading.Data)
	}
	for c := el.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		childText := textmodel.NodeText(c)
		var tail *html.Node
		tailLen := 0
		if t := c.NextSibling; t != nil && t.Type == html.TextNode {
			tail = t
			tailLen = len(t.Data)
		}
		offset += len(childText) + tailLen
		if fromStart < offset {
			// c itself is body/html (el resolved one level above, e.g. to
			// the document root): there is no sibling position outside it to
			// insert at or tail to split, so land inside c instead.
			if ctag := tagOf(c); ctag == "body" || ctag == "html" {
				target := c
				if ctag == "html" {
					target = findBody(c)
				}
				if target == nil {
					return fmt.Errorf("inject: %w: no <body> to contain insertion", ErrNoInsertionSpot)
				}
				appendNearEnd(target, newNode)
				return nil
			}
			if tail == nil {
				el.InsertBefore(newNode, c.NextSibling)
				return nil
			}
			splitTail(el, tail, newNode, tailLen-(offset-fromStart))
			return nil
		}
	}
	return fmt.Errorf("inject: %w: fromStart=%d fromEnd=%d in %s", ErrNoInsertionSpot, fromStart, fromEnd, tagOf(el))
}

// splitText implements §4.C5 case 1: split textNode (el's leading text) at
// splitAt, leaving the prefix on textNode and making the suffix a new
// sibling text node right after newNode.
func splitText(el, textNode, newNode *html.Node, splitAt int) {
	before := textNode.Data[:splitAt]
	after := textNode.Data[splitAt:]
	textNode.Data = before

	ref := textNode.NextSibling
	el.InsertBefore(newNode, ref)
	if after != "" {
		el.InsertBefore(&html.Node{Type: html.TextNode, Data: after}, ref)
	}
}

// splitTail implements §4.C5 cases 2 and 3: split tailNode (the text
// following some element, owned by parent) at splitAt, with newNode taking
// its place between the two halves.
func splitTail(parent, tailNode, newNode *html.Node, splitAt int) {
	before := tailNode.Data[:splitAt]
	after := tailNode.Data[splitAt:]

	ref := tailNode.NextSibling
	parent.RemoveChild(tailNode)
	if before != "" {
		parent.InsertBefore(&html.Node{Type: html.TextNode, Data: before}, ref)
	}
	parent.InsertBefore(newNode, ref)
	if after != "" {
		parent.InsertBefore(&html.Node{Type: html.TextNode, Data: after}, ref)
	}
}

// appendNearEnd inserts newNode as the last child of parent, before any
// single trailing whitespace-only text node so it doesn't end up after a
// closing indentation run; this is the body/html containment fallback, only
// reached when resolve() itself returned the document's root structural
// elements, which should not normally happen for well-formed content.
func appendNearEnd(parent, newNode *html.Node) {
	if last := parent.LastChild; last != nil && last.Type == html.TextNode && strings.TrimSpace(last.Data) == "" {
		parent.InsertBefore(newNode, last)
		return
	}
	parent.AppendChild(newNode)
}

func tagOf(n *html.Node) string {
	if n.Type != html.ElementNode {
		return ""
	}
	return n.Data
}

func findBody(root *html.Node) *html.Node {
	var walk func(n *html.Node) *html.Node
	walk = func(n *html.Node) *html.Node {
		if n.Type == html.ElementNode && tagOf(n) == "body" {
			return n
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if found := walk(c); found != nil {
				return found
			}
		}
		return nil
	}
	return walk(root)
}

// NewBreakNode builds the `<span id="..." value="..." epub:type="pagebreak"/>`
// element injected at each planned break, per §6.
func NewBreakNode(id, value string, epub3 bool) *html.Node {
	attrs := []html.Attribute{
		{Key: "id", Val: id},
		{Key: "value", Val: value},
	}
	if epub3 {
		attrs = append(attrs, html.Attribute{Key: "epub:type", Val: "pagebreak"})
	}
	return &html.Node{
		Type: html.ElementNode,
		Data: "span",
		Attr: attrs,
	}
}
