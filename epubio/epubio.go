// Package epubio is the container boundary (§6 E1): it reads an EPUB's ZIP
// container, OPF, spine, ToC and content documents into an engine.Book, and
// writes a pagination Result back out as a new EPUB.
//
// Reading enumerates entries with epagin/archive's Walk, the same
// prefix-matching wrapper around "archive/zip" the teacher keeps for its own
// archive inspection. Writing follows the teacher's two-pass
// convert/epub/generate.go shape: build the new archive with the standard
// library's archive/zip.Writer (mimetype stored and timestamp-free, every
// other entry deflated), then run a second pass with
// github.com/hidez8891/zip to strip the ZIP data-descriptor flag bit
// epubcheck rejects.
package epubio

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/beevik/etree"
	fixzip "github.com/hidez8891/zip"
	"golang.org/x/net/html"

	"epagin/archive"
	"epagin/engine"
	"epagin/navsynth"
	"epagin/textmodel"
)

const mimetypeName = "mimetype"
const mimetypeContent = "application/epub+zip"

// Container is the parsed view of one EPUB's structure, holding everything
// Write needs to reassemble the archive around a pagination Result: the
// original entries (by container path), the OPF's own path and already
// a parsed *etree.Document for later patching, and the engine.Book built
// from it.
type Container struct {
	Path    string
	OPFPath string
	RawOPF  []byte
	OPFDoc  *etree.Document
	Book    *engine.Book

	order   []string
	entries map[string]*zip.File
}

type manifestItem struct {
	Href       string
	MediaType  string
	Properties string
}

// Load opens epubPath, parses its OPF, spine, ToC and content documents, and
// returns a Container ready for engine.Run.
func Load(epubPath string) (*Container, error) {
	order, entries, err := readAllEntries(epubPath)
	if err != nil {
		return nil, fmt.Errorf("epubio: %w", err)
	}

	containerFile, ok := entries["META-INF/container.xml"]
	if !ok {
		return nil, fmt.Errorf("epubio: %s: missing META-INF/container.xml", epubPath)
	}
	containerData, err := readEntry(containerFile)
	if err != nil {
		return nil, fmt.Errorf("epubio: %w", err)
	}
	opfPath, err := findRootfile(containerData)
	if err != nil {
		return nil, fmt.Errorf("epubio: %w", err)
	}

	opfFile, ok := entries[opfPath]
	if !ok {
		return nil, fmt.Errorf("epubio: OPF %q referenced by container.xml not found", opfPath)
	}
	rawOPF, err := readEntry(opfFile)
	if err != nil {
		return nil, fmt.Errorf("epubio: %w", err)
	}
	opfDoc := etree.NewDocument()
	if err := opfDoc.ReadFromBytes(rawOPF); err != nil {
		return nil, fmt.Errorf("epubio: parsing OPF %s: %w", opfPath, err)
	}
	opfDir := path.Dir(opfPath)

	manifest, err := parseManifest(opfDoc)
	if err != nil {
		return nil, fmt.Errorf("epubio: %w", err)
	}
	spine, tocID := parseSpine(opfDoc)

	book := &engine.Book{RawOPF: rawOPF, Spine: spine}

	var docs []*textmodel.Document
	for _, itemEl := range opfDoc.FindElement(".//manifest").SelectElements("item") {
		id := itemEl.SelectAttrValue("id", "")
		item, ok := manifest[id]
		if !ok || !strings.Contains(item.MediaType, "xhtml") {
			continue
		}
		full := joinContainerPath(opfDir, item.Href)
		file, ok := entries[full]
		if !ok {
			return nil, fmt.Errorf("epubio: manifest item %q references missing file %q", id, full)
		}
		data, err := readEntry(file)
		if err != nil {
			return nil, fmt.Errorf("epubio: %w", err)
		}
		doc, err := textmodel.ParseDocument(full, id, data)
		if err != nil {
			return nil, fmt.Errorf("epubio: %w", err)
		}
		docs = append(docs, doc)

		if strings.Contains(item.Properties, "nav") {
			book.Epub3 = true
			book.Nav3Path = full
			navDoc := etree.NewDocument()
			if err := navDoc.ReadFromBytes(data); err != nil {
				return nil, fmt.Errorf("epubio: parsing nav document %s: %w", full, err)
			}
			book.AttachNav(nil, navDoc)
			book.TocLeaves = append(book.TocLeaves, flattenNav3(navDoc)...)
		}
	}
	book.Docs = docs

	if tocID != "" {
		if item, ok := manifest[tocID]; ok {
			ncxPath := joinContainerPath(opfDir, item.Href)
			book.NCXPath = ncxPath
			if file, ok := entries[ncxPath]; ok {
				data, err := readEntry(file)
				if err != nil {
					return nil, fmt.Errorf("epubio: %w", err)
				}
				ncxDoc := etree.NewDocument()
				if err := ncxDoc.ReadFromBytes(data); err != nil {
					return nil, fmt.Errorf("epubio: parsing NCX %s: %w", ncxPath, err)
				}
				book.AttachNav(ncxDoc, nil)
				if len(book.TocLeaves) == 0 {
					book.TocLeaves = flattenNCX(ncxDoc)
				}
			}
		}
	}

	return &Container{
		Path:    epubPath,
		OPFPath: opfPath,
		RawOPF:  rawOPF,
		OPFDoc:  opfDoc,
		Book:    book,
		order:   order,
		entries: entries,
	}, nil
}

func readAllEntries(epubPath string) ([]string, map[string]*zip.File, error) {
	order := []string{}
	entries := make(map[string]*zip.File)
	err := archive.Walk(epubPath, "", func(_ string, f *zip.File) error {
		order = append(order, f.Name)
		entries[f.Name] = f
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return order, entries, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", f.Name, err)
	}
	return data, nil
}

func findRootfile(containerXML []byte) (string, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(containerXML); err != nil {
		return "", fmt.Errorf("parsing container.xml: %w", err)
	}
	el := doc.FindElement(".//rootfile[@full-path]")
	if el == nil {
		return "", fmt.Errorf("container.xml has no rootfile element")
	}
	return el.SelectAttrValue("full-path", ""), nil
}

func parseManifest(opfDoc *etree.Document) (map[string]manifestItem, error) {
	manifestEl := opfDoc.FindElement(".//manifest")
	if manifestEl == nil {
		return nil, fmt.Errorf("OPF has no manifest element")
	}
	items := make(map[string]manifestItem)
	for _, item := range manifestEl.SelectElements("item") {
		id := item.SelectAttrValue("id", "")
		if id == "" {
			continue
		}
		items[id] = manifestItem{
			Href:       item.SelectAttrValue("href", ""),
			MediaType:  item.SelectAttrValue("media-type", ""),
			Properties: item.SelectAttrValue("properties", ""),
		}
	}
	return items, nil
}

func parseSpine(opfDoc *etree.Document) (entries []engine.SpineEntry, tocID string) {
	spineEl := opfDoc.FindElement(".//spine")
	if spineEl == nil {
		return nil, ""
	}
	tocID = spineEl.SelectAttrValue("toc", "")
	for _, ref := range spineEl.SelectElements("itemref") {
		linear := strings.ToLower(ref.SelectAttrValue("linear", "yes")) != "no"
		entries = append(entries, engine.SpineEntry{IDRef: ref.SelectAttrValue("idref", ""), Linear: linear})
	}
	return entries, tocID
}

// joinContainerPath resolves an OPF-relative href against the OPF's own
// directory, always producing forward-slash container paths.
func joinContainerPath(dir, href string) string {
	href = strings.SplitN(href, "#", 2)[0]
	if dir == "." || dir == "" {
		return href
	}
	return path.Join(dir, href)
}

// flattenNav3 pre-order-flattens an EPUB3 nav document's
// nav[epub:type=toc] ol/li/a tree into TocLeaves (§4.C8).
func flattenNav3(navDoc *etree.Document) []engine.TocLeaf {
	toc := navDoc.FindElement(".//nav[@epub:type='toc']")
	if toc == nil {
		return nil
	}
	var leaves []engine.TocLeaf
	var walk func(el *etree.Element)
	walk = func(el *etree.Element) {
		for _, li := range el.SelectElements("li") {
			if a := li.SelectElement("a"); a != nil {
				leaves = append(leaves, engine.TocLeaf{Title: a.Text(), Href: a.SelectAttrValue("href", "")})
			}
			if ol := li.SelectElement("ol"); ol != nil {
				walk(ol)
			}
		}
	}
	if ol := toc.SelectElement("ol"); ol != nil {
		walk(ol)
	}
	return leaves
}

// flattenNCX pre-order-flattens an NCX navMap's navPoint tree into TocLeaves.
func flattenNCX(ncxDoc *etree.Document) []engine.TocLeaf {
	navMap := ncxDoc.FindElement(".//navMap")
	if navMap == nil {
		return nil
	}
	var leaves []engine.TocLeaf
	var walk func(el *etree.Element)
	walk = func(el *etree.Element) {
		for _, np := range el.SelectElements("navPoint") {
			title := ""
			if label := np.FindElement("./navLabel/text"); label != nil {
				title = label.Text()
			}
			href := ""
			if content := np.SelectElement("content"); content != nil {
				href = content.SelectAttrValue("src", "")
			}
			leaves = append(leaves, engine.TocLeaf{Title: title, Href: href})
			walk(np)
		}
	}
	walk(navMap)
	return leaves
}

func renderEtree(doc *etree.Document) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := doc.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("serialising XML: %w", err)
	}
	return buf.Bytes(), nil
}

// Write serialises a pagination Result back into a new EPUB at outPath,
// reusing every unmodified entry of c's original archive verbatim and
// replacing only the touched content documents, navigation artefacts, OPF
// and (if requested) page-map.xml.
func Write(outPath string, c *Container, result *engine.Result) error {
	overrides := make(map[string][]byte, len(result.TouchedDocs)+3)

	for _, doc := range result.TouchedDocs {
		var buf bytes.Buffer
		if err := html.Render(&buf, doc.Root); err != nil {
			return fmt.Errorf("epubio: rendering %s: %w", doc.FileName, err)
		}
		overrides[doc.FileName] = buf.Bytes()
	}

	if ncxDoc := c.Book.NCXDoc(); ncxDoc != nil && c.Book.NCXPath != "" {
		data, err := renderEtree(ncxDoc)
		if err != nil {
			return fmt.Errorf("epubio: rendering NCX: %w", err)
		}
		overrides[c.Book.NCXPath] = data
	}
	if navDoc := c.Book.Nav3Doc(); navDoc != nil && c.Book.Nav3Path != "" {
		data, err := renderEtree(navDoc)
		if err != nil {
			return fmt.Errorf("epubio: rendering EPUB3 nav: %w", err)
		}
		overrides[c.Book.Nav3Path] = data
	}

	if result.PageMapDoc != nil {
		pageMapPath := joinContainerPath(path.Dir(c.OPFPath), "page-map.xml")
		data, err := renderEtree(navsynth.BuildPageMap(result.PageMapDoc))
		if err != nil {
			return fmt.Errorf("epubio: rendering page-map.xml: %w", err)
		}
		overrides[pageMapPath] = data

		changed, err := navsynth.PatchOPFForPageMap(c.RawOPF, c.OPFDoc)
		if err != nil {
			return fmt.Errorf("epubio: %w", err)
		}
		if changed {
			opfData, err := renderEtree(c.OPFDoc)
			if err != nil {
				return fmt.Errorf("epubio: rendering OPF: %w", err)
			}
			overrides[c.OPFPath] = opfData
		}
	}

	tmp, err := os.CreateTemp(path.Dir(outPath), "epagin-*.epub.tmp")
	if err != nil {
		return fmt.Errorf("epubio: creating temp archive: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := writeZip(tmp, c.order, c.entries, overrides); err != nil {
		tmp.Close()
		return fmt.Errorf("epubio: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("epubio: closing temp archive: %w", err)
	}

	if err := copyZipWithoutDataDescriptors(tmpPath, outPath); err != nil {
		return fmt.Errorf("epubio: %w", err)
	}
	return nil
}

// writeZip emits a fresh archive/zip.Writer container onto w, preserving
// entry order, writing mimetype first stored and timestamp-free (the
// epubcheck-mandated magic bytes), and substituting overridden bytes for
// anything engine.Run touched.
func writeZip(w io.Writer, order []string, entries map[string]*zip.File, overrides map[string][]byte) error {
	zw := zip.NewWriter(w)

	if err := writeMimetype(zw); err != nil {
		return err
	}

	written := map[string]bool{mimetypeName: true}
	for _, name := range order {
		if written[name] {
			continue
		}
		written[name] = true
		if data, ok := overrides[name]; ok {
			if err := writeDataToZip(zw, name, data); err != nil {
				return err
			}
			continue
		}
		if err := copyEntryRaw(zw, entries[name]); err != nil {
			return err
		}
	}

	for name, data := range overrides {
		if written[name] {
			continue
		}
		if err := writeDataToZip(zw, name, data); err != nil {
			return err
		}
	}
	return zw.Close()
}

func writeMimetype(zw *zip.Writer) error {
	w, err := zw.CreateHeader(&zip.FileHeader{Name: mimetypeName, Method: zip.Store})
	if err != nil {
		return fmt.Errorf("writing mimetype header: %w", err)
	}
	_, err = w.Write([]byte(mimetypeContent))
	return err
}

func writeDataToZip(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: time.Now()})
	if err != nil {
		return fmt.Errorf("writing %s header: %w", name, err)
	}
	_, err = w.Write(data)
	return err
}

func copyEntryRaw(zw *zip.Writer, f *zip.File) error {
	data, err := readEntry(f)
	if err != nil {
		return err
	}
	return writeDataToZip(zw, f.Name, data)
}

// copyZipWithoutDataDescriptors is the teacher's
// convert/epub/generate.go fixup pass: clear the data-descriptor flag bit
// on every entry so strict readers (epubcheck) accept the archive.
func copyZipWithoutDataDescriptors(from, to string) error {
	out, err := os.Create(to)
	if err != nil {
		return fmt.Errorf("unable to create target file (%s): %w", to, err)
	}
	defer out.Close()

	r, err := fixzip.OpenReader(from)
	if err != nil {
		return fmt.Errorf("unable to read archive file (%s): %w", from, err)
	}
	defer r.Close()

	w := fixzip.NewWriter(out)
	defer w.Close()

	for _, file := range r.File {
		file.Flags &= ^fixzip.FlagDataDescriptor
		if err := w.CopyFile(file); err != nil {
			return fmt.Errorf("unable to write target file (%s): %w", to, err)
		}
	}
	return nil
}
