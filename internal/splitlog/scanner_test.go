package splitlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarkScannerFindsMarksInOneChunk(t *testing.T) {
	s := NewMarkScanner([]byte("<mk>"))

	assert.Equal(t, []int{6, 14}, s.Feed([]byte("ab<mk>cd<mk><mk")))
	assert.Equal(t, 3, s.Pending())
	assert.Equal(t, []int{1}, s.Feed([]byte(">")))
	assert.Empty(t, s.Feed([]byte("no marks")))
}

func TestMarkScannerHandlesSplitMarkers(t *testing.T) {
	marker := []byte("\n[cascade:sync-mark:x]\n")
	s := NewMarkScanner(marker)
	stream := append([]byte("prefix"), marker...)
	stream = append(stream, "suffix"...)

	found := 0
	for i := range stream {
		found += len(s.Feed(stream[i : i+1]))
	}
	assert.Equal(t, 1, found)
}

func TestMarkScannerFallsBackOnPartialMatch(t *testing.T) {
	// "aab" must be found inside "aaab" although the first "aa" fails.
	s := NewMarkScanner([]byte("aab"))
	assert.Equal(t, []int{4}, s.Feed([]byte("aaab")))

	s = NewMarkScanner([]byte("abab"))
	assert.Equal(t, []int{6}, s.Feed([]byte("ababab")), "matches do not overlap")
	s.Reset()
	assert.Equal(t, 0, s.Pending())
}
