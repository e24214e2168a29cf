package orchestrator

import (
	"strings"
	"unicode"

	"pagegen/internal/pagetype"
	"pagegen/internal/store"
)

// Catalog is the business data a page type fans out over.
type Catalog struct {
	Keywords  []store.Keyword
	Services  []store.Service
	Locations []store.Location
}

// Explode computes the content × location product for pt. Pages are returned in
// content-major order; a URL path that repeats keeps only its first page.
func Explode(pt pagetype.PageType, c Catalog) []store.JobPage {
	type item struct {
		slug     string
		keyword  *store.Keyword
		service  *store.Service
		language string
	}

	var items []item
	switch pt.Content() {
	case pagetype.ContentService:
		for i := range c.Services {
			s := &c.Services[i]
			items = append(items, item{slug: contentSlug(s.Slug, s.Name), service: s})
		}
	default:
		for i := range c.Keywords {
			k := &c.Keywords[i]
			items = append(items, item{slug: contentSlug(k.Slug, k.Text), keyword: k, language: k.Language})
		}
	}

	seen := make(map[string]bool)
	pages := make([]store.JobPage, 0, len(items)*len(c.Locations))
	for _, it := range items {
		if it.slug == "" {
			continue
		}
		for _, loc := range c.Locations {
			locSlug := contentSlug(loc.Slug, loc.Name)
			if locSlug == "" {
				continue
			}
			path := URLPath(pt, it.language, it.slug, locSlug)
			if seen[path] {
				continue
			}
			seen[path] = true

			p := store.JobPage{
				LocationID:   loc.ID,
				LocationSlug: locSlug,
				LocationName: loc.Name,
				URLPath:      path,
				Status:       store.PageStatusQueued,
			}
			if it.keyword != nil {
				slug, text, lang := it.slug, it.keyword.Text, it.keyword.Language
				p.KeywordSlug, p.KeywordText, p.KeywordLanguage = &slug, &text, &lang
			}
			if it.service != nil {
				slug, name := it.slug, it.service.Name
				p.ServiceSlug, p.ServiceName = &slug, &name
			}
			pages = append(pages, p)
		}
	}
	return pages
}

// URLPath derives /{lang}/{prefix}{content}/{location}. Only Spanish content gets a language segment.
func URLPath(pt pagetype.PageType, language, content, location string) string {
	var b strings.Builder
	b.WriteByte('/')
	if language == "es" {
		b.WriteString("es/")
	}
	b.WriteString(pt.URLPrefix())
	b.WriteString(content)
	b.WriteByte('/')
	b.WriteString(location)
	return b.String()
}

func contentSlug(slug, fallback string) string {
	if s := Slugify(slug); s != "" {
		return s
	}
	return Slugify(fallback)
}

// Slugify lowercases s, keeps [a-z0-9] and collapses every other run into a single '-'.
// Accented letters are folded to their ASCII base where a mapping exists.
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if folded, ok := accents[r]; ok {
			r = folded
		}
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if (unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r)) && !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

var accents = map[rune]rune{
	'á': 'a', 'à': 'a', 'ä': 'a', 'â': 'a',
	'é': 'e', 'è': 'e', 'ë': 'e', 'ê': 'e',
	'í': 'i', 'ì': 'i', 'ï': 'i', 'î': 'i',
	'ó': 'o', 'ò': 'o', 'ö': 'o', 'ô': 'o',
	'ú': 'u', 'ù': 'u', 'ü': 'u', 'û': 'u',
	'ñ': 'n', 'ç': 'c',
}
