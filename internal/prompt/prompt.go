// Package prompt renders prompt templates for a page.
// Templates use {{name}} tags; unknown tags render as the empty string.
package prompt

import (
	"errors"
	"io"
	"strings"
	"unicode"

	"pagegen/internal/pagetype"
	"pagegen/internal/store"

	"github.com/valyala/fasttemplate"
)

const (
	startTag = "{{"
	endTag   = "}}"
)

// ErrEmptyTemplate is returned for a template with no body.
var ErrEmptyTemplate = errors.New("prompt template body is empty")

// Input is everything a template may reference.
type Input struct {
	Business      store.Business
	Page          store.JobPage
	Location      *store.Location
	PageType      pagetype.PageType
	Questionnaire map[string]string
}

// Variables flattens the input into template variables.
func Variables(in Input) map[string]string {
	vars := map[string]string{
		"business_name":    in.Business.Name,
		"business_phone":   in.Business.Phone,
		"business_website": in.Business.Website,
		"industry":         in.Business.Industry,
		"location":         in.Page.LocationName,
		"location_slug":    in.Page.LocationSlug,
		"url_path":         in.Page.URLPath,
		"page_type":        in.PageType.String(),
		"city":             in.Business.City,
		"state":            in.Business.State,
		"language":         "en",
	}
	if in.Location != nil {
		if in.Location.City != "" {
			vars["city"] = in.Location.City
		}
		if in.Location.State != "" {
			vars["state"] = in.Location.State
		}
	}
	if in.Page.KeywordText != nil {
		vars["keyword"] = *in.Page.KeywordText
	}
	if in.Page.KeywordSlug != nil {
		vars["keyword_slug"] = *in.Page.KeywordSlug
	}
	if in.Page.KeywordLanguage != nil && *in.Page.KeywordLanguage != "" {
		vars["language"] = *in.Page.KeywordLanguage
	}
	if in.Page.ServiceName != nil {
		vars["service"] = *in.Page.ServiceName
	}

	for q, a := range in.Questionnaire {
		if key := questionKey(q); key != "" {
			vars["q_"+key] = a
		}
	}
	return vars
}

// questionKey lowercases a question identifier and folds anything but letters and digits to '_'.
func questionKey(q string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.TrimSpace(q) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

// Render substitutes vars into body.
func Render(body string, vars map[string]string) (string, error) {
	if strings.TrimSpace(body) == "" {
		return "", ErrEmptyTemplate
	}
	return fasttemplate.ExecuteFuncStringWithErr(body, startTag, endTag, func(w io.Writer, tag string) (int, error) {
		return w.Write([]byte(vars[strings.TrimSpace(tag)]))
	})
}

// Build renders tpl for the given input.
func Build(tpl *store.PromptTemplate, in Input) (string, error) {
	return Render(tpl.Body, Variables(in))
}
