package lanceserver

import "strings"

// SafeProjectSlug turns a project name into a filesystem-safe directory
// component, matching the original's lance_utils.safe_name (spec.md §12
// "Project name → folder-safe path slug").
func SafeProjectSlug(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	lastWasUnderscore := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastWasUnderscore = false
		default:
			if !lastWasUnderscore {
				b.WriteByte('_')
				lastWasUnderscore = true
			}
		}
	}
	slug := strings.Trim(b.String(), "_")
	if slug == "" {
		slug = "project"
	}
	return slug
}
