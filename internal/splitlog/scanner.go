package splitlog

// MarkScanner finds occurrences of a marker in a byte stream that arrives in
// arbitrary chunks. It is a Knuth-Morris-Pratt automaton, so a marker split
// across any number of writes is still recognized.
type MarkScanner struct {
	pattern []byte
	fail    []int
	state   int
}

// NewMarkScanner builds the automaton for marker, which must not be empty.
func NewMarkScanner(marker []byte) *MarkScanner {
	if len(marker) == 0 {
		panic("splitlog: empty marker")
	}
	pattern := append([]byte(nil), marker...)
	fail := make([]int, len(pattern))
	k := 0
	for i := 1; i < len(pattern); i++ {
		for k > 0 && pattern[i] != pattern[k] {
			k = fail[k-1]
		}
		if pattern[i] == pattern[k] {
			k++
		}
		fail[i] = k
	}
	return &MarkScanner{pattern: pattern, fail: fail}
}

// Feed advances the automaton over p and returns, for every marker completed
// inside p, the offset just past its last byte. Matches do not overlap.
func (s *MarkScanner) Feed(p []byte) []int {
	var ends []int
	for i, c := range p {
		for s.state > 0 && c != s.pattern[s.state] {
			s.state = s.fail[s.state-1]
		}
		if c == s.pattern[s.state] {
			s.state++
		}
		if s.state == len(s.pattern) {
			ends = append(ends, i+1)
			s.state = 0
		}
	}
	return ends
}

// Pending is the length of the marker prefix matched so far.
func (s *MarkScanner) Pending() int { return s.state }

// Reset forgets any partial match.
func (s *MarkScanner) Reset() { s.state = 0 }
