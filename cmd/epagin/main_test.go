package main

import (
	"errors"
	"testing"

	"epagin/common"
	"epagin/engine"
)

func TestParsePages(t *testing.T) {
	cases := []struct {
		arg      string
		autopage bool
		want     common.Pages
		wantErr  bool
	}{
		{"bookstats", false, common.PagesStats(), false},
		{"12", false, common.PagesCount(12), false},
		{"2000", true, common.PagesAuto(2000), false},
		{"bookstats", true, common.Pages{}, true},
		{"notanumber", false, common.Pages{}, true},
	}
	for _, c := range cases {
		got, err := parsePages(c.arg, c.autopage)
		if c.wantErr {
			if err == nil {
				t.Errorf("parsePages(%q, %v): expected error", c.arg, c.autopage)
			}
			continue
		}
		if err != nil {
			t.Errorf("parsePages(%q, %v): %v", c.arg, c.autopage, err)
			continue
		}
		if got != c.want {
			t.Errorf("parsePages(%q, %v) = %+v, want %+v", c.arg, c.autopage, got, c.want)
		}
	}
}

func TestParseRoman(t *testing.T) {
	if r, err := parseRoman("off"); err != nil || r.Kind != common.RomanKindOff {
		t.Errorf("parseRoman(off) = %+v, %v", r, err)
	}
	if r, err := parseRoman("auto"); err != nil || r.Kind != common.RomanKindAuto {
		t.Errorf("parseRoman(auto) = %+v, %v", r, err)
	}
	if r, err := parseRoman("4"); err != nil || r.Kind != common.RomanKindCount || r.Count != 4 {
		t.Errorf("parseRoman(4) = %+v, %v", r, err)
	}
	if _, err := parseRoman("bogus"); err == nil {
		t.Error("parseRoman(bogus): expected error")
	}
}

func TestParseTocMap(t *testing.T) {
	entries, err := parseTocMap([]string{"1,0,iv"})
	if err != nil {
		t.Fatalf("parseTocMap: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Kind != common.ToCEntryNumber || entries[0].Number != 1 {
		t.Errorf("entry 0 = %+v", entries[0])
	}
	if entries[1].Kind != common.ToCEntryIgnore {
		t.Errorf("entry 1 = %+v", entries[1])
	}
	if entries[2].Kind != common.ToCEntryRoman || entries[2].Roman != "iv" {
		t.Errorf("entry 2 = %+v", entries[2])
	}

	if entries, err := parseTocMap(nil); err != nil || entries != nil {
		t.Errorf("parseTocMap(nil) = %+v, %v", entries, err)
	}

	if _, err := parseTocMap([]string{"not-a-valid-entry!"}); err == nil {
		t.Error("parseTocMap: expected error for malformed entry")
	}
}

func TestExitCode(t *testing.T) {
	if got := exitCode(engine.ErrInvalidInput); got != 2 {
		t.Errorf("exitCode(ErrInvalidInput) = %d, want 2", got)
	}
	if got := exitCode(engine.ErrToCMapMismatch); got != 2 {
		t.Errorf("exitCode(ErrToCMapMismatch) = %d, want 2", got)
	}
	if got := exitCode(errors.New("boom")); got != 1 {
		t.Errorf("exitCode(generic) = %d, want 1", got)
	}
}
