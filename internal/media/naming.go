package media

import (
	"path/filepath"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// maxNameBytes is the file name limit of common filesystems.
	maxNameBytes = 255
	// maxExtLen is the longest extension, dot included, kept as an extension.
	maxExtLen   = 6
	thumbPrefix = "thumb_"
)

// FileName builds the on-disk name of a downloaded file: "<id> <stem><ext>".
// Extensions longer than five characters are treated as part of the stem.
// The result never exceeds 255 bytes and is cut on a rune boundary.
func FileName(id int64, basename string) string {
	return buildName("", id, basename)
}

// ThumbName builds the on-disk name of a photo thumbnail.
func ThumbName(id int64, basename string) string {
	return buildName(thumbPrefix, id, basename)
}

func buildName(prefix string, id int64, basename string) string {
	basename = filepath.Base(strings.ReplaceAll(basename, `\`, "/"))
	if basename == "." || basename == "/" {
		basename = ""
	}
	ext := filepath.Ext(basename)
	stem := strings.TrimSuffix(basename, ext)
	if len(ext) > maxExtLen {
		stem, ext = basename, ""
	}
	stem, ext = sanitize(stem), sanitize(ext)

	name := prefix + strconv.FormatInt(id, 10) + " " + stem
	return truncateUTF8(name, maxNameBytes-len(ext)) + ext
}

// sanitize replaces path separators and control characters.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\':
			return '_'
		case unicode.IsControl(r), r == utf8.RuneError:
			return '_'
		}
		return r
	}, s)
}

func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
