// Package normalize canonicalizes publication text and process numbers so
// that hashing and similarity scoring compare like with like.
package normalize

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// letterhead is a vendor header or footer the source prepends or appends to
// publication bodies. initial is the header's first letter; rest matches the
// remainder of the phrase with its trailing date, page or caderno token.
type letterhead struct {
	initial string
	rest    string
}

const headerDate = `(?:\d{1,2}/\d{1,2}/\d{4}|\d{4}-\d{2}-\d{2})`

var letterheads = []letterhead{
	{"D", `i[aá]rio[ \t]+(?:oficial|da[ \t]+justi[cç]a|eletr[oô]nico)` +
		`(?:[ \t]+(?:da[ \t]+justi[cç]a|eletr[oô]nico|do[ \t]+estado|da[ \t]+uni[aã]o|dje))*` +
		`(?:[ \t]*[-–—][ \t]*caderno[ \t]*\d+)?` +
		`(?:[ \t]*[-–—,][ \t]*` + headerDate + `)?`},
	{"D", `isponibiliza[cç][aã]o(?:[ \t]+(?:no|em)[ \t]+(?:dje|di[aá]rio[ \t]+(?:oficial|da[ \t]+justi[cç]a)))?` +
		`[ \t]*:?(?:[ \t]*` + headerDate + `)?`},
	{"D", `ata[ \t]+de[ \t]+(?:publica[cç][aã]o|disponibiliza[cç][aã]o)[ \t]*:?(?:[ \t]*` + headerDate + `)?`},
	{"P", `[aá]gina[ \t]*:?[ \t]*\d+(?:[ \t]*(?:de|/)[ \t]*\d+)?`},
	{"D", `ocumento[ \t]+assinado[ \t]+digitalmente(?:[ \t]+(?:conforme|por|nos[ \t]+termos)\b[^\n]*)?`},
	{"P", `ublica[cç][oõ]es[ \t]+(?:online|digital|jur[ií]dicas?)`},
	{"R", `ecorte[ \t]+(?:online|digital|jur[ií]dico)`},
}

// Two rules per letterhead. A header that fills a whole line, terminated by
// a newline, is removed in any case. A header followed by body text on the
// same line, or ending the text, is removed only in its capitalized form,
// together with the separator after it.
//
// Normalized text has neither newlines nor capitals, so neither rule fires
// on it again and Text stays idempotent.
var (
	headerLines  []*regexp.Regexp
	headerInline []*regexp.Regexp
)

const (
	linePrefix = `^[^\p{L}\p{N}\n]*`
	headerSep  = `(?:[ \t]*[-–—:|][ \t]*)?`
)

func init() {
	for _, h := range letterheads {
		headerLines = append(headerLines,
			regexp.MustCompile(`(?im)`+linePrefix+h.initial+h.rest+`[ \t]*\n`))
		headerInline = append(headerInline,
			regexp.MustCompile(`(?m)`+linePrefix+h.initial+`(?i:`+h.rest+`)`+headerSep))
	}
}

var (
	manyNewlines = regexp.MustCompile(`\n{3,}`)
	disallowed   = regexp.MustCompile(`[^\p{L}\p{N}_\s.,;:!?()/\-]`)
	whitespace   = regexp.MustCompile(`\s+`)
	cnjPattern   = regexp.MustCompile(`\d{7}-\d{2}\.\d{4}\.\d\.\d{2}\.\d{4}`)
	notProcChars = regexp.MustCompile(`[^0-9.\-]`)
)

// Text canonicalizes a publication body: letterhead removal, diacritic
// stripping, allow-list filtering, whitespace collapsing and lowercasing.
// Text(Text(x)) == Text(x) for every x.
func Text(s string) string {
	if s == "" {
		return ""
	}
	s = StripLetterhead(s)
	s = manyNewlines.ReplaceAllString(s, "\n\n")
	s = StripDiacritics(s)
	s = disallowed.ReplaceAllString(s, " ")
	s = whitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(strings.ToLower(s))
}

// StripLetterhead removes vendor headers and footers at line starts, keeping
// the line structure and any body text that follows a header.
func StripLetterhead(s string) string {
	for _, re := range headerLines {
		s = re.ReplaceAllString(s, "\n")
	}
	for _, re := range headerInline {
		s = re.ReplaceAllString(s, "")
	}
	return s
}

// StripDiacritics decomposes s (NFD), drops combining marks and recomposes.
func StripDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// ProcessNumber reduces a process-number-like string to digits, dots and
// hyphens. When a CNJ-formatted number is present only that substring is
// kept; a bare 20-digit number is reformatted into the CNJ layout.
func ProcessNumber(s string) string {
	cleaned := notProcChars.ReplaceAllString(s, "")
	if m := cnjPattern.FindString(cleaned); m != "" {
		return m
	}
	if len(cleaned) == 20 && isDigits(cleaned) {
		return cleaned[0:7] + "-" + cleaned[7:9] + "." + cleaned[9:13] + "." +
			cleaned[13:14] + "." + cleaned[14:16] + "." + cleaned[16:20]
	}
	return cleaned
}

// FindProcessNumber returns the first CNJ-formatted number in text, or "".
func FindProcessNumber(text string) string {
	return cnjPattern.FindString(text)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

var dateLayouts = []string{
	"02/01/2006",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// ParseDate parses a publication date in one of the source's formats. The
// result is truncated to the calendar day in UTC.
func ParseDate(raw string) (*time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			return &day, true
		}
	}
	return nil, false
}
