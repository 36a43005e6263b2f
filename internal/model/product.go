package model

import (
	"strings"
	"unicode"
)

// ProductIdentity is the canonical identity of one product.
type ProductIdentity struct {
	Category string `json:"category"`
	Brand    string `json:"brand"`
	Model    string `json:"model"`
	Variant  string `json:"variant,omitempty"`
}

// Slug normalizes a label for use in ids and paths: lowercase, runs of
// non-alphanumeric characters collapsed to single dashes.
func Slug(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(value)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// ProductID returns the stable queue/product identifier for this identity.
func (p ProductIdentity) ProductID() string {
	parts := []string{p.Category, p.Brand, p.Model}
	if v := strings.TrimSpace(p.Variant); v != "" {
		parts = append(parts, v)
	}
	return Slug(strings.Join(parts, "-"))
}

// IdentityPath returns the bundle path segment for this identity:
// category/brand/model with an optional trailing variant segment.
func (p ProductIdentity) IdentityPath() string {
	parts := []string{Slug(p.Category), Slug(p.Brand), Slug(p.Model)}
	if v := strings.TrimSpace(p.Variant); v != "" {
		parts = append(parts, Slug(v))
	}
	return strings.Join(parts, "/")
}

// Valid reports whether the identity has the minimum fields to be queued.
func (p ProductIdentity) Valid() bool {
	return strings.TrimSpace(p.Category) != "" &&
		strings.TrimSpace(p.Brand) != "" &&
		strings.TrimSpace(p.Model) != ""
}
