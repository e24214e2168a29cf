// Package pagetype defines the page types a generation job can be created for.
// A page type pairs a content axis (keywords, services, blog topics) with a
// location axis (service areas or physical locations).
package pagetype

import (
	"errors"
	"fmt"
	"strings"
)

// PageType is the canonical identifier stored on jobs and prompt templates.
type PageType string

const (
	KeywordServiceArea PageType = "keyword-service-area"
	KeywordLocation    PageType = "keyword-location"
	ServiceServiceArea PageType = "service-service-area"
	ServiceLocation    PageType = "service-location"
	BlogServiceArea    PageType = "blog-service-area"
	BlogLocation       PageType = "blog-location"
)

// ContentAxis is the source of the first element of every page pair.
type ContentAxis string

const (
	ContentKeyword ContentAxis = "keyword"
	ContentService ContentAxis = "service"
	ContentBlog    ContentAxis = "blog"
)

// LocationAxis is the kind of location the second element of a pair comes from.
// The values double as the stored location kind.
type LocationAxis string

const (
	LocationServiceArea LocationAxis = "service_area"
	LocationPhysical    LocationAxis = "location"
)

// ErrInvalidPageType is returned by Parse for unrecognized input.
var ErrInvalidPageType = errors.New("invalid page type")

type definition struct {
	content   ContentAxis
	location  LocationAxis
	urlPrefix string
}

var definitions = map[PageType]definition{
	KeywordServiceArea: {ContentKeyword, LocationServiceArea, ""},
	KeywordLocation:    {ContentKeyword, LocationPhysical, ""},
	ServiceServiceArea: {ContentService, LocationServiceArea, "services/"},
	ServiceLocation:    {ContentService, LocationPhysical, "services/"},
	BlogServiceArea:    {ContentBlog, LocationServiceArea, "blog/"},
	BlogLocation:       {ContentBlog, LocationPhysical, "blog/"},
}

// Legacy names still sent by older clients.
var aliases = map[string]PageType{
	"location-keyword": KeywordLocation,
	"service-area":     KeywordServiceArea,
}

// Parse normalizes s into a canonical PageType, resolving legacy aliases.
func Parse(s string) (PageType, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if alias, ok := aliases[key]; ok {
		return alias, nil
	}
	pt := PageType(key)
	if _, ok := definitions[pt]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidPageType, s)
	}
	return pt, nil
}

// All returns the canonical page types in a stable order.
func All() []PageType {
	return []PageType{
		KeywordServiceArea, KeywordLocation,
		ServiceServiceArea, ServiceLocation,
		BlogServiceArea, BlogLocation,
	}
}

// Valid reports whether p is a canonical page type.
func (p PageType) Valid() bool {
	_, ok := definitions[p]
	return ok
}

func (p PageType) Content() ContentAxis {
	return definitions[p].content
}

func (p PageType) Location() LocationAxis {
	return definitions[p].location
}

// URLPrefix is prepended to the content slug when deriving page paths.
func (p PageType) URLPrefix() string {
	return definitions[p].urlPrefix
}

func (p PageType) String() string {
	return string(p)
}
