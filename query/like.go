package query

import "strings"

// MatchLike evaluates a SQL LIKE pattern: '%' matches any run of characters
// including none, '_' matches exactly one. There is no ESCAPE clause, so the
// wildcards cannot be matched literally. With foldCase set the match is
// case-insensitive, mirroring how ilike compiles to LOWER() on both sides.
func MatchLike(text, pattern string, foldCase bool) bool {
	if foldCase {
		text = strings.ToLower(text)
		pattern = strings.ToLower(pattern)
	}

	t := []rune(text)
	p := []rune(pattern)

	// Greedy two-pointer scan: remember the last '%' and rewind to it when a
	// literal run stops matching.
	ti, pi := 0, 0
	backtrackTi, backtrackPi := 0, -1
	for ti < len(t) {
		switch {
		case pi < len(p) && (p[pi] == '_' || p[pi] == t[ti]):
			ti++
			pi++
		case pi < len(p) && p[pi] == '%':
			backtrackPi = pi
			backtrackTi = ti
			pi++
		case backtrackPi >= 0:
			backtrackTi++
			ti = backtrackTi
			pi = backtrackPi + 1
		default:
			return false
		}
	}
	for pi < len(p) && p[pi] == '%' {
		pi++
	}
	return pi == len(p)
}
