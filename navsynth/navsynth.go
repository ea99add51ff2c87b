// Package navsynth builds the three navigation artefacts a paginated EPUB
// can carry (§4.C7): the EPUB2 NCX `<pageList>`, the EPUB3 `<nav
// epub:type="page-list">`, and the Adobe `page-map.xml` with its OPF
// patch. All three are driven by the same ordered PageRecord list the
// orchestrator assembles.
//
// Construction follows the teacher's convert/epub/epub.go style: build an
// *etree.Document with CreateElement/CreateAttr/SetText, rather than
// string templating.
package navsynth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/beevik/etree"

	"epagin/common"
	"epagin/pathutil"
)

// ErrCancelled is returned when the caller declines to overwrite an
// existing pageList/nav, per the "prompt before removing" REDESIGN FLAG.
// The orchestrator aborts the whole run on this error.
var ErrCancelled = errors.New("navsynth: overwrite declined")

// PageRecord is one entry of the final page list: the id of the injected
// break element, its romanized display value, and the container-relative
// path of the document it lives in.
type PageRecord struct {
	ID            string
	DisplayNumber string
	DocFileName   string
}

// Confirm is called when OverwritePolicyAsk needs a yes/no decision about
// removing an existing navigation artefact; it is never a direct terminal
// prompt inside this package; the caller (CLI layer) supplies it.
type Confirm func(existingDescription string) (bool, error)

func resolveOverwrite(policy common.OverwritePolicy, desc string, confirm Confirm) error {
	switch policy {
	case common.OverwritePolicyOverwrite:
		return nil
	case common.OverwritePolicyAbort:
		return fmt.Errorf("%s already exists: %w", desc, ErrCancelled)
	case common.OverwritePolicyAsk:
		if confirm == nil {
			return fmt.Errorf("%s already exists and no confirmation callback was supplied: %w", desc, ErrCancelled)
		}
		ok, err := confirm(desc)
		if err != nil {
			return err
		}
		if !ok {
			return ErrCancelled
		}
		return nil
	default:
		return fmt.Errorf("navsynth: unknown overwrite policy %v", policy)
	}
}

// WriteNCX appends a `<pageList>` to an already-parsed NCX document,
// removing any pre-existing one first (subject to policy/confirm). ncxPath
// is the NCX's own container-relative path, used to compute relative links.
func WriteNCX(doc *etree.Document, ncxPath string, records []PageRecord, policy common.OverwritePolicy, confirm Confirm) error {
	root := doc.Root()
	if root == nil {
		return fmt.Errorf("navsynth: NCX document has no root element")
	}
	if existing := doc.FindElement(".//pageList"); existing != nil {
		if err := resolveOverwrite(policy, "EPUB NCX pageList", confirm); err != nil {
			return err
		}
		if parent := existing.Parent(); parent != nil {
			parent.RemoveChild(existing)
		}
	}

	pageList := root.CreateElement("pageList")
	label := pageList.CreateElement("navLabel")
	label.CreateElement("text").SetText("Pages")

	for i, rec := range records {
		target := pageList.CreateElement("pageTarget")
		target.CreateAttr("id", fmt.Sprintf("pageNav_%d", i))
		target.CreateAttr("type", "normal")
		target.CreateAttr("value", rec.DisplayNumber)

		tLabel := target.CreateElement("navLabel")
		tLabel.CreateElement("text").SetText(rec.DisplayNumber)

		content := target.CreateElement("content")
		content.CreateAttr("src", pathutil.Relative(ncxPath, rec.DocFileName)+"#"+rec.ID)
	}
	return nil
}

// WriteNav3 appends an EPUB3 page-list `<nav>` to an already-parsed
// nav.xhtml document, removing any pre-existing one first. navPath is the
// nav document's own container-relative path.
func WriteNav3(doc *etree.Document, navPath string, records []PageRecord, policy common.OverwritePolicy, confirm Confirm) error {
	body := doc.FindElement(".//body")
	if body == nil {
		return fmt.Errorf("navsynth: EPUB3 nav document has no <body>")
	}
	if existing := body.FindElement("./nav[@epub:type='page-list']"); existing != nil {
		if err := resolveOverwrite(policy, "EPUB3 navigation page-list", confirm); err != nil {
			return err
		}
		body.RemoveChild(existing)
	}

	nav := body.CreateElement("nav")
	nav.CreateAttr("epub:type", "page-list")
	nav.CreateAttr("hidden", "")
	nav.CreateElement("h1").SetText("List of Pages")

	ol := nav.CreateElement("ol")
	for _, rec := range records {
		li := ol.CreateElement("li")
		a := li.CreateElement("a")
		a.CreateAttr("href", pathutil.Relative(navPath, rec.DocFileName)+"#"+rec.ID)
		a.SetText(rec.DisplayNumber)
	}
	return nil
}

// BuildPageMap constructs a standalone page-map.xml document. Links here
// are container-relative, not relative to any particular file (§6).
func BuildPageMap(records []PageRecord) *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("page-map")
	root.CreateAttr("xmlns", "http://www.idpf.org/2007/opf")

	for i, rec := range records {
		page := root.CreateElement("page")
		page.CreateAttr("id", fmt.Sprintf("pageNav_%d", i))
		page.CreateAttr("href", rec.DocFileName+"#"+rec.ID)
		page.CreateAttr("name", rec.DisplayNumber)
	}
	return doc
}

// PatchOPFForPageMap wires page-map.xml into the OPF's spine and manifest.
// If rawOPF already mentions "page-map.xml", the existing reference is
// assumed sufficient and the document is left untouched (changed is
// false); page-map.xml is still emitted by the caller regardless.
func PatchOPFForPageMap(rawOPF []byte, doc *etree.Document) (changed bool, err error) {
	if strings.Contains(string(rawOPF), "page-map.xml") {
		return false, nil
	}
	root := doc.Root()
	if root == nil {
		return false, fmt.Errorf("navsynth: OPF document has no root element")
	}

	spine := doc.FindElement(".//spine")
	if spine == nil {
		spine = root.CreateElement("spine")
	}
	spine.CreateAttr("page-map", "map")

	manifest := doc.FindElement(".//manifest")
	if manifest == nil {
		return false, fmt.Errorf("navsynth: OPF document has no manifest element")
	}
	item := manifest.CreateElement("item")
	item.CreateAttr("href", "page-map.xml")
	item.CreateAttr("id", "map")
	item.CreateAttr("media-type", "application/oebps-page-map+xml")
	return true, nil
}
