package normalization

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type color string

const (
	colorRed   color = "red"
	colorGreen color = "green"
	colorDeep  color = "deep_blue"
)

func newColors() *Normalizer[color] {
	return NewNormalizer(map[string]color{
		"red":       colorRed,
		"green":     colorGreen,
		"deep_blue": colorDeep,
	}, colorRed)
}

func TestNormalize(t *testing.T) {
	n := newColors()
	tests := []struct {
		input string
		want  color
	}{
		{"red", colorRed},
		{"  GREEN ", colorGreen},
		{"Deep-Blue", colorDeep},
		{"purple", colorRed},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			require.Equal(t, tt.want, n.Normalize(tt.input))
		})
	}
}

func TestNormalizeWithError(t *testing.T) {
	n := newColors()

	v, err := n.NormalizeWithError("")
	require.NoError(t, err)
	require.Equal(t, colorRed, v)

	v, err = n.NormalizeWithError("DEEP_BLUE")
	require.NoError(t, err)
	require.Equal(t, colorDeep, v)

	_, err = n.NormalizeWithError("purple")
	require.ErrorContains(t, err, "deep_blue")
	require.Equal(t, []string{"deep_blue", "green", "red"}, n.ValidKeys())
}
