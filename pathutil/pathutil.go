// Package pathutil computes relative paths between container-internal files
// and derives output filenames for a paginated copy of an EPUB.
package pathutil

import (
	"path"
	"strconv"
	"strings"

	"github.com/gosimple/slug"
)

// Relative strips the longest common leading `/`-delimited prefix of from and
// to; if the common prefix covers all of from, the result is to with that
// prefix removed. Both paths accept `/` and `\` as separators on input; the
// result always uses `/`.
//
// Known limitation (documented, not fixed): when `from` is nested deeper than
// the shared prefix extends, this never emits `../`, so a link can become
// invalid when the referencing file is deeper than the target. This mirrors
// the source algorithm exactly.
func Relative(from, to string) string {
	splitA := splitPath(from)
	splitB := splitPath(to)

	common := 0
	for i := 0; i < len(splitA) && i < len(splitB); i++ {
		if splitA[i] != splitB[i] {
			break
		}
		common++
	}
	if common > len(splitB) {
		common = len(splitB)
	}
	return strings.Join(splitB[common:], "/")
}

func splitPath(p string) []string {
	p = strings.ReplaceAll(p, "\\", "/")
	return strings.Split(p, "/")
}

// DerivePath strips a `.epub` extension (case-insensitively) from oldPath,
// appends suffix (default "_paginated", suppressed when newName is
// non-empty), sanitizes a caller-supplied newName into a safe path
// component, and re-appends ".epub". If newDir is non-empty, the result is
// placed there instead of oldPath's own directory.
func DerivePath(oldPath, newDir, newName, suffix string) string {
	if suffix == "" {
		suffix = "_paginated"
	}

	dir := path.Dir(toSlash(oldPath))
	base := path.Base(toSlash(oldPath))

	finalName := base
	if newName != "" {
		finalName = slug.Make(newName)
		suffix = ""
	}
	finalName = stripEpubExt(finalName)

	outDir := dir
	if newDir != "" {
		outDir = toSlash(newDir)
	}
	return path.Join(outDir, finalName+suffix+".epub")
}

func toSlash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

func stripEpubExt(name string) string {
	if len(name) >= 5 && strings.EqualFold(name[len(name)-5:], ".epub") {
		return name[:len(name)-5]
	}
	return name
}

// PageIDPattern generates the deterministic page-break anchor id used by the
// injector and navigation synthesiser: "pg_break_<n>".
func PageIDPattern(num int, prefix string) string {
	if prefix == "" {
		prefix = "pg_break_"
	}
	return prefix + strconv.Itoa(num)
}
