// Package selector implements a compact, CSS-like selector grammar used by
// the identify-existing pagination mode to locate already-present page-break
// markers in a content document. It is deliberately not CSS: the id part
// supports `*` globs, and there is no descendant/combinator syntax.
package selector

import (
	"fmt"
	"regexp"
	"strings"
)

// Element is the minimal view of an XML/HTML element the matcher needs.
// Concrete adapters live alongside the tree representation they wrap
// (see textmodel).
type Element interface {
	TagName() string
	Attr(name string) (string, bool)
}

// Selector is a parsed `Tag.class[attr=value]#id` expression; every part is
// optional but at least one must be present.
type Selector struct {
	tag       string
	class     string
	attrName  string
	attrValue string
	hasAttr   bool // true if an [attr...] part was present at all
	hasValue  bool // true if the [attr=value] form (vs bare [attr]) was used
	id        string
	hasID     bool
}

var grammar = regexp.MustCompile(`^([A-Za-z]+)?(?:\.([^\[#]+))?(?:\[([^\]]+)\])?(?:#(.+))?$`)

// Parse parses a selector of the shape `Tag.class[attr=value]#id`.
func Parse(s string) (*Selector, error) {
	if len(s) == 0 {
		return nil, fmt.Errorf("selector: empty selector")
	}
	m := grammar.FindStringSubmatch(s)
	if m == nil || len(m[0]) == 0 {
		return nil, fmt.Errorf("selector: invalid selector %q", s)
	}
	tag, class, attrExpr, id := m[1], m[2], m[3], m[4]
	if tag == "" && class == "" && attrExpr == "" && id == "" {
		return nil, fmt.Errorf("selector: at least one part must be present in %q", s)
	}

	sel := &Selector{tag: strings.ToLower(tag), class: strings.ToLower(class)}
	if attrExpr != "" {
		sel.hasAttr = true
		if idx := strings.IndexByte(attrExpr, '='); idx >= 0 {
			sel.hasValue = true
			sel.attrName = attrExpr[:idx]
			sel.attrValue = attrExpr[idx+1:]
		} else {
			sel.attrName = attrExpr
		}
	}
	if id != "" {
		sel.hasID = true
		sel.id = id
	}
	return sel, nil
}

// Match reports whether el satisfies every part of the selector present.
func (s *Selector) Match(el Element) bool {
	if s.tag != "" && !strings.EqualFold(el.TagName(), s.tag) {
		return false
	}
	if s.class != "" {
		classes, _ := el.Attr("class")
		if !hasClass(classes, s.class) {
			return false
		}
	}
	if s.hasAttr {
		v, ok := el.Attr(s.attrName)
		if !ok {
			return false
		}
		if s.hasValue && v != s.attrValue {
			return false
		}
	}
	if s.hasID {
		id, _ := el.Attr("id")
		if !matchIDSelector(s.id, id) {
			return false
		}
	}
	return true
}

func hasClass(classAttr, want string) bool {
	for _, c := range strings.Fields(classAttr) {
		if strings.EqualFold(c, want) {
			return true
		}
	}
	return false
}

// matchIDSelector implements the `*`-glob matching rule: every fragment
// between stars must appear in id in order; the first fragment is required
// to be a prefix and the last a suffix (empty fragments, i.e. a leading or
// trailing star, impose no constraint there).
func matchIDSelector(idSelector, id string) bool {
	if id == "" {
		return false
	}
	parts := strings.Split(idSelector, "*")
	if len(parts) == 1 {
		return idSelector == id
	}
	if parts[0] != "" && !strings.HasPrefix(id, parts[0]) {
		return false
	}
	if last := parts[len(parts)-1]; last != "" && !strings.HasSuffix(id, last) {
		return false
	}
	pos := 0
	for _, part := range parts {
		if part == "" {
			continue
		}
		idx := strings.Index(id[pos:], part)
		if idx < 0 {
			return false
		}
		pos += idx + len(part)
	}
	return true
}

// MatchID exposes the id-glob matching rule standalone, for callers (such as
// the identify-existing walk) that already have candidate ids in hand and
// only need the glob semantics, not a full Element.
func MatchID(idSelector, id string) bool {
	return matchIDSelector(idSelector, id)
}
