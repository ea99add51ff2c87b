package epubio

import (
	"archive/zip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"epagin/engine"
	"epagin/navsynth"
	"epagin/textmodel"
)

const sampleContainerXML = `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

const sampleOPF = `<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0">
  <manifest>
    <item id="ch1" href="text/ch1.xhtml" media-type="application/xhtml+xml"/>
    <item id="ch2" href="text/ch2.xhtml" media-type="application/xhtml+xml"/>
    <item id="nav" href="nav.xhtml" media-type="application/xhtml+xml" properties="nav"/>
  </manifest>
  <spine>
    <itemref idref="ch1"/>
    <itemref idref="ch2"/>
  </spine>
</package>`

const sampleNav = `<?xml version="1.0"?>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops">
<body>
  <nav epub:type="toc">
    <ol>
      <li><a href="text/ch1.xhtml">Chapter One</a></li>
      <li><a href="text/ch2.xhtml">Chapter Two</a></li>
    </ol>
  </nav>
</body>
</html>`

func sampleChapter(title, body string) string {
	return "<html><body><h1>" + title + "</h1><p>" + body + "</p></body></html>"
}

func writeSampleEpub(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating fixture: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	files := map[string]string{
		"mimetype":                mimetypeContent,
		"META-INF/container.xml": sampleContainerXML,
		"OEBPS/content.opf":      sampleOPF,
		"OEBPS/nav.xhtml":        sampleNav,
		"OEBPS/text/ch1.xhtml":   sampleChapter("Chapter One", strings.Repeat("word ", 30)),
		"OEBPS/text/ch2.xhtml":   sampleChapter("Chapter Two", strings.Repeat("more ", 30)),
	}
	order := []string{"mimetype", "META-INF/container.xml", "OEBPS/content.opf", "OEBPS/nav.xhtml", "OEBPS/text/ch1.xhtml", "OEBPS/text/ch2.xhtml"}
	for _, name := range order {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("creating entry %s: %v", name, err)
		}
		if _, err := w.Write([]byte(files[name])); err != nil {
			t.Fatalf("writing entry %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("closing fixture zip: %v", err)
	}
}

func TestLoadParsesManifestSpineAndToc(t *testing.T) {
	dir := t.TempDir()
	epubPath := filepath.Join(dir, "sample.epub")
	writeSampleEpub(t, epubPath)

	c, err := Load(epubPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.OPFPath != "OEBPS/content.opf" {
		t.Errorf("OPFPath = %q", c.OPFPath)
	}
	if len(c.Book.Docs) != 3 {
		t.Fatalf("expected 3 xhtml documents (2 chapters + nav), got %d", len(c.Book.Docs))
	}
	if !c.Book.Epub3 {
		t.Error("expected Epub3 = true (nav item has properties=nav)")
	}
	if c.Book.Nav3Path != "OEBPS/nav.xhtml" {
		t.Errorf("Nav3Path = %q", c.Book.Nav3Path)
	}
	if len(c.Book.Spine) != 2 {
		t.Fatalf("expected 2 spine entries, got %d", len(c.Book.Spine))
	}
	if c.Book.Spine[0].IDRef != "ch1" || !c.Book.Spine[0].Linear {
		t.Errorf("unexpected first spine entry: %+v", c.Book.Spine[0])
	}
	if len(c.Book.TocLeaves) != 2 {
		t.Fatalf("expected 2 flattened ToC leaves, got %d", len(c.Book.TocLeaves))
	}
	if c.Book.TocLeaves[0].Title != "Chapter One" || c.Book.TocLeaves[0].Href != "text/ch1.xhtml" {
		t.Errorf("unexpected first ToC leaf: %+v", c.Book.TocLeaves[0])
	}
}

func TestLoadMissingContainerXMLErrors(t *testing.T) {
	dir := t.TempDir()
	epubPath := filepath.Join(dir, "broken.epub")

	f, err := os.Create(epubPath)
	if err != nil {
		t.Fatalf("creating fixture: %v", err)
	}
	zw := zip.NewWriter(f)
	w, _ := zw.Create("mimetype")
	w.Write([]byte(mimetypeContent))
	zw.Close()
	f.Close()

	if _, err := Load(epubPath); err == nil {
		t.Fatal("expected error for archive missing META-INF/container.xml")
	}
}

func TestWriteProducesReadableArchiveWithOverrides(t *testing.T) {
	dir := t.TempDir()
	epubPath := filepath.Join(dir, "sample.epub")
	writeSampleEpub(t, epubPath)

	c, err := Load(epubPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	touchedDoc := c.Book.Docs[0]
	result := &engine.Result{
		Records:     []navsynth.PageRecord{{ID: "pg_break_0", DisplayNumber: "1", DocFileName: touchedDoc.FileName}},
		TouchedDocs: []*textmodel.Document{touchedDoc},
	}

	outPath := filepath.Join(dir, "out.epub")
	if err := Write(outPath, c, result); err != nil {
		t.Fatalf("Write: %v", err)
	}

	r, err := zip.OpenReader(outPath)
	if err != nil {
		t.Fatalf("opening written archive: %v", err)
	}
	defer r.Close()

	names := map[string]*zip.File{}
	for _, f := range r.File {
		names[f.Name] = f
	}
	if _, ok := names["mimetype"]; !ok {
		t.Error("expected mimetype entry in written archive")
	}
	if r.File[0].Name != "mimetype" {
		t.Errorf("expected mimetype to be the first entry, got %q", r.File[0].Name)
	}
	if r.File[0].Method != zip.Store {
		t.Errorf("expected mimetype to be stored uncompressed, got method %d", r.File[0].Method)
	}
	for _, want := range []string{"META-INF/container.xml", "OEBPS/content.opf", "OEBPS/nav.xhtml", "OEBPS/text/ch1.xhtml", "OEBPS/text/ch2.xhtml"} {
		if _, ok := names[want]; !ok {
			t.Errorf("expected entry %q to survive into the written archive", want)
		}
	}
}

func TestWritePageMapAddsEntryAndPatchesOPF(t *testing.T) {
	dir := t.TempDir()
	epubPath := filepath.Join(dir, "sample.epub")
	writeSampleEpub(t, epubPath)

	c, err := Load(epubPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	records := []navsynth.PageRecord{
		{ID: "pg_break_0", DisplayNumber: "1", DocFileName: "OEBPS/text/ch1.xhtml"},
	}
	result := &engine.Result{Records: records, PageMapDoc: records}

	outPath := filepath.Join(dir, "out.epub")
	if err := Write(outPath, c, result); err != nil {
		t.Fatalf("Write: %v", err)
	}

	r, err := zip.OpenReader(outPath)
	if err != nil {
		t.Fatalf("opening written archive: %v", err)
	}
	defer r.Close()

	var foundPageMap, foundOPF bool
	for _, f := range r.File {
		switch f.Name {
		case "OEBPS/page-map.xml":
			foundPageMap = true
		case "OEBPS/content.opf":
			foundOPF = true
			rc, _ := f.Open()
			data := make([]byte, f.UncompressedSize64)
			rc.Read(data)
			rc.Close()
			if !strings.Contains(string(data), "page-map") {
				t.Errorf("expected patched OPF to reference page-map, got: %s", data)
			}
		}
	}
	if !foundPageMap {
		t.Error("expected OEBPS/page-map.xml in written archive")
	}
	if !foundOPF {
		t.Error("expected OEBPS/content.opf in written archive")
	}
}
