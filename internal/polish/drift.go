package polish

import "strings"

// overlap returns the length of the longest common subsequence of the two
// texts' normalised words divided by the word count of the longer one. A
// light grammar edit keeps it close to 1; a rewrite or an added commentary
// paragraph pulls it down.
func overlap(original, edited string) float64 {
	a := tokens(original)
	b := tokens(edited)
	n := max(len(a), len(b))
	if n == 0 {
		return 1
	}
	return float64(lcsLen(a, b)) / float64(n)
}

func tokens(s string) []string {
	fields := strings.Fields(s)
	out := fields[:0]
	for _, f := range fields {
		f = strings.ToLower(strings.Trim(f, ".,;:!?\"'()"))
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// lcsLen is the classic O(m×n) table; inputs are single utterances.
func lcsLen(a, b []string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				cur[j] = prev[j-1] + 1
			case prev[j] >= cur[j-1]:
				cur[j] = prev[j]
			default:
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
