// Package edition derives stable identities for newsletter editions.
// The canonical key is the cross-path identity: the same real edition must
// yield the same key whether it arrived via live polling, historical
// backfill, or a local archive import.
package edition

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Edition is one dated, numbered release of a publication. Editions live
// only in memory during a run; persistence happens through delivery records.
type Edition struct {
	Title       string
	Date        time.Time
	DownloadURL string
	DetailURL   string
}

var (
	// "<name> <issue>/<year>", issue optionally "12+13" for co-issued
	// numbers. The "-" separator variant is what DisplayName writes into
	// filenames, so titles recovered from a local import canonicalize to
	// the same key as the portal's original spelling.
	issueSuffix = regexp.MustCompile(`^(.*\S)\s+(\d+(?:\+\d+)*)[/-](\d{4})$`)
	// Fallback: split at the last whitespace before trailing digits.
	trailingNumber = regexp.MustCompile(`^(.*\S)\s+(\d+)$`)
)

// Canonicalize derives the canonical key for an edition from its publication
// date (YYYY-MM-DD) and raw title. The key has the shape
// {date}_{normalized-name}_{issue}-{year}; titles without a recognizable
// issue suffix fall back to {date}_{name}_{number} or plain {date}_{name}.
// An error means the title is unusable and the edition must be reported and
// skipped, never silently dropped.
func Canonicalize(date, title string) (string, error) {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return "", fmt.Errorf("edition date %q: %w", date, err)
	}
	t := foldASCII(normalizeRebranding(strings.TrimSpace(title)))

	name := t
	var tail string
	if m := issueSuffix.FindStringSubmatch(t); m != nil {
		name = m[1]
		tail = m[2] + "-" + m[3]
	} else if m := trailingNumber.FindStringSubmatch(t); m != nil {
		name = m[1]
		tail = m[2]
	}

	slug := slugify(name)
	if slug == "" {
		return "", fmt.Errorf("title %q has no usable name part", title)
	}
	if tail == "" {
		return date + "_" + slug, nil
	}
	return date + "_" + slug + "_" + tail, nil
}

// normalizeRebranding maps the historical percent-sign title of a renamed
// publication onto its current spelled-out form, so both canonicalize
// identically ("Die 800% Strategie" and "Die 800 Prozent Strategie" denote
// the same subscription).
func normalizeRebranding(title string) string {
	return strings.ReplaceAll(title, "%", " Prozent ")
}

var diacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// foldASCII strips diacritics to their ASCII base letters. The eszett is not
// a combining mark, so it is expanded explicitly before folding.
func foldASCII(s string) string {
	s = strings.NewReplacer("ß", "ss", "ẞ", "SS").Replace(s)
	folded, _, err := transform.String(diacritics, s)
	if err != nil {
		return s
	}
	return folded
}

func slugify(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	pending := false
	for _, r := range s {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			if pending && b.Len() > 0 {
				b.WriteByte('-')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	return b.String()
}

// DisplayName returns the human-facing PDF filename for an edition,
// e.g. "2024-03-21 Die 800% Strategie 12-2024.pdf". Path separators and
// other filesystem-hostile characters are replaced; the title otherwise
// keeps its original spelling.
func DisplayName(date, title string) string {
	name := strings.ReplaceAll(strings.TrimSpace(title), "/", "-")
	name = strings.Map(func(r rune) rune {
		switch r {
		case '\\', ':', '*', '?', '"', '<', '>', '|':
			return -1
		}
		return r
	}, name)
	name = strings.Join(strings.Fields(name), " ")
	return date + " " + name + ".pdf"
}

// Key returns the canonical key for the edition.
func (e Edition) Key() (string, error) {
	return Canonicalize(e.Date.Format("2006-01-02"), e.Title)
}

// Filename returns the display filename for the edition.
func (e Edition) Filename() string {
	return DisplayName(e.Date.Format("2006-01-02"), e.Title)
}

// Year returns the year used for organize-by-year folders: the issue year
// when the title carries one, otherwise the publication date's year. Issues
// published late in December for the following volume land in the volume's
// folder this way.
func (e Edition) Year() string {
	t := foldASCII(normalizeRebranding(strings.TrimSpace(e.Title)))
	if m := issueSuffix.FindStringSubmatch(t); m != nil {
		return m[3]
	}
	return e.Date.Format("2006")
}

// Name returns the title's name part with the issue suffix removed, in its
// original spelling. Used as the default folder label for a publication.
func Name(title string) string {
	t := strings.TrimSpace(title)
	if m := issueSuffix.FindStringSubmatch(t); m != nil {
		return m[1]
	}
	if m := trailingNumber.FindStringSubmatch(t); m != nil {
		return m[1]
	}
	return t
}

// SanitizeFolder makes a display name safe to use as a single folder
// segment.
func SanitizeFolder(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), "/", "-")
	name = strings.Map(func(r rune) rune {
		switch r {
		case '\\', ':', '*', '?', '"', '<', '>', '|':
			return -1
		}
		return r
	}, name)
	return strings.Join(strings.Fields(name), " ")
}

// ArchivePath returns the archive object path for an edition of the named
// publication: "<publication>/<year>/<display filename>". Live delivery,
// backfill and import all archive through this layout so the storage sink's
// existence check is meaningful across paths.
func ArchivePath(publication string, e Edition) string {
	return path.Join(SanitizeFolder(publication), e.Year(), e.Filename())
}
