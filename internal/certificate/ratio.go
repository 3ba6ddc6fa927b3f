package certificate

// PartialRatio scores how well the shorter of a and b fits somewhere inside
// the longer one, from 0 to 100. It matches rapidfuzz's fuzz.partial_ratio:
//
//   - the shorter string is the needle; with equal lengths both directions are
//     tried and the better one wins
//   - the needle is compared with every window of the haystack that has the
//     needle's length, plus the shorter windows hanging off either edge
//   - windows whose open edge lands on a character absent from the needle are
//     skipped, exactly as rapidfuzz skips them
//   - each window is scored with the normalized InDel similarity
//     100 * 2*LCS / (len(needle)+len(window))
//
// Inputs are compared rune by rune and case-sensitively; callers lower-case
// first. An empty input scores 0.
func PartialRatio(a, b string) float64 {
	s1, s2 := []rune(a), []rune(b)
	if len(s1) > len(s2) {
		s1, s2 = s2, s1
	}
	if len(s1) == 0 {
		return 0
	}

	best := partialRatio(s1, s2)
	if best < 100 && len(s1) == len(s2) {
		if swapped := partialRatio(s2, s1); swapped > best {
			best = swapped
		}
	}
	return best
}

// partialRatio slides needle over haystack; len(needle) <= len(haystack).
func partialRatio(needle, haystack []rune) float64 {
	n, h := len(needle), len(haystack)

	inNeedle := make(map[rune]struct{}, n)
	for _, r := range needle {
		inNeedle[r] = struct{}{}
	}
	has := func(r rune) bool {
		_, ok := inNeedle[r]
		return ok
	}

	var best float64
	consider := func(window []rune) bool {
		if s := indelRatio(needle, window); s > best {
			best = s
		}
		return best == 100
	}

	// Windows growing in from the left edge.
	for i := 1; i < n; i++ {
		if has(haystack[i-1]) && consider(haystack[:i]) {
			return best
		}
	}

	// Full-width windows.
	for i := 0; i < h-n; i++ {
		if has(haystack[i+n-1]) && consider(haystack[i:i+n]) {
			return best
		}
	}

	// Windows shrinking toward the right edge; the first is the last full one.
	for i := h - n; i < h; i++ {
		if has(haystack[i]) && consider(haystack[i:]) {
			return best
		}
	}

	return best
}

// indelRatio is 100 * (1 - indelDistance/(len(a)+len(b))), which reduces
// to 100 * 2*LCS / (len(a)+len(b)).
func indelRatio(a, b []rune) float64 {
	total := len(a) + len(b)
	if total == 0 {
		return 100
	}
	return 100 * float64(2*lcsLength(a, b)) / float64(total)
}

// lcsLength is the length of the longest common subsequence, computed with a
// single rolling row.
func lcsLength(a, b []rune) int {
	if len(a) < len(b) {
		a, b = b, a
	}
	row := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		diag := 0
		for j := 1; j <= len(b); j++ {
			up := row[j]
			if a[i-1] == b[j-1] {
				row[j] = diag + 1
			} else if row[j-1] > row[j] {
				row[j] = row[j-1]
			}
			diag = up
		}
	}
	return row[len(b)]
}
