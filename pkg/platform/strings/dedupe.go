// Package strings holds helpers for list-valued settings.
package strings

import (
	"strings"
)

// SplitList splits s on sep, trims each item and drops empty items and repeats.
// Order of first occurrence is kept, so "b1, b2,,b1" yields [b1 b2].
func SplitList(s, sep string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, sep)
	seen := make(map[string]struct{}, len(parts))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
