package views

import (
	"regexp"
	"strconv"
	"strings"
)

const maxSlugLength = 50

var (
	slugStrip      = regexp.MustCompile(`[^\w\s-]`)
	slugWhitespace = regexp.MustCompile(`\s+`)
	slugHyphens    = regexp.MustCompile(`-+`)
)

// Slugify turns a view name into its URL slug. The result is stable under
// repeated application.
func Slugify(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = slugStrip.ReplaceAllString(slug, "")
	slug = slugWhitespace.ReplaceAllString(slug, "-")
	slug = slugHyphens.ReplaceAllString(slug, "-")
	if len(slug) > maxSlugLength {
		slug = slug[:maxSlugLength]
	}
	return slug
}

// UniqueSlug slugifies name and appends -1, -2, ... until taken reports the
// candidate as free. An empty slug falls back to "view".
func UniqueSlug(name string, taken func(string) bool) string {
	base := Slugify(name)
	if base == "" {
		base = "view"
	}
	if !taken(base) {
		return base
	}
	for n := 1; ; n++ {
		candidate := withSuffix(base, "-"+strconv.Itoa(n))
		if !taken(candidate) {
			return candidate
		}
	}
}

// withSuffix shortens base so the result stays within maxSlugLength and
// never joins the suffix to a trailing hyphen.
func withSuffix(base, suffix string) string {
	if len(base)+len(suffix) > maxSlugLength {
		base = base[:maxSlugLength-len(suffix)]
	}
	base = strings.TrimRight(base, "-")
	if base == "" {
		base = "view"
	}
	return base + suffix
}
