package cmdline_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"worknode/internal/cmdline"
)

func TestSplit_Table(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "ImageMagick draw",
			input: `-font Helvetica -pointsize 50 -draw "circle 100,100 150,150"`,
			want:  []string{"-font", "Helvetica", "-pointsize", "50", "-draw", "circle 100,100 150,150"},
		},
		{
			name:  "Collapses whitespace runs",
			input: "  -a \t\t b   c  ",
			want:  []string{"-a", "b", "c"},
		},
		{
			name:  "Single quoted whole string",
			input: `'hello  world'`,
			want:  []string{"hello  world"},
		},
		{
			name:  "Partially quoted token",
			input: `-annotate=+10+10"Big Title" next`,
			want:  []string{"-annotate=+10+10Big Title", "next"},
		},
		{
			name:  "Other quote kind is literal",
			input: `"it's fine" '"quoted"'`,
			want:  []string{"it's fine", `"quoted"`},
		},
		{
			name:  "Adjacent spans join",
			input: `'a b'"c d"e`,
			want:  []string{"a bc de"},
		},
		{
			name:  "Empty quotes give empty token",
			input: `-label "" x`,
			want:  []string{"-label", "", "x"},
		},
		{
			name:  "Empty input",
			input: "",
			want:  []string{},
		},
		{
			name:  "Whitespace only",
			input: " \t  ",
			want:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cmdline.Split(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSplit_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		errIs error
		pos   int
	}{
		{name: "Unterminated double", input: `-draw "circle 1,1`, errIs: cmdline.ErrUnterminatedQuote, pos: 6},
		{name: "Unterminated single", input: `'abc`, errIs: cmdline.ErrUnterminatedQuote, pos: 0},
		{name: "Crossed spans", input: `'a "b' c"`, errIs: cmdline.ErrMalformedQuote, pos: 8},
		{name: "Crossed spans reversed", input: `"x 'y" z'`, errIs: cmdline.ErrMalformedQuote, pos: 8},
		{name: "Apostrophe then unterminated", input: `"it's" 'x`, errIs: cmdline.ErrUnterminatedQuote, pos: 6},
		{name: "Crossing only checks previous span", input: `'a "b' "c" 'd`, errIs: cmdline.ErrUnterminatedQuote, pos: 11},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cmdline.Split(tt.input)
			require.Error(t, err)
			assert.Nil(t, got)
			assert.True(t, errors.Is(err, tt.errIs), "got %v", err)

			var se *cmdline.SyntaxError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.pos, se.Pos)
		})
	}
}

func TestSplitRef(t *testing.T) {
	_, err := cmdline.SplitRef(nil)
	assert.ErrorIs(t, err, cmdline.ErrNilInput)

	s := "-quality 80"
	got, err := cmdline.SplitRef(&s)
	require.NoError(t, err)
	assert.Equal(t, []string{"-quality", "80"}, got)
}

func TestSplit_UnquotedRejoinsNormalized(t *testing.T) {
	inputs := []string{
		"a b c",
		"  -resize   100x100!   -strip ",
		"one\ttwo \t three",
		"x",
	}
	for _, in := range inputs {
		got, err := cmdline.Split(in)
		require.NoError(t, err)
		assert.Equal(t, strings.Join(strings.Fields(in), " "), strings.Join(got, " "))
	}
}

func TestSplit_FullyQuotedYieldsInner(t *testing.T) {
	inners := []string{"", "plain", "two words", "tab\there", "mixed 'single' inside"}
	for _, inner := range inners {
		if !strings.Contains(inner, `"`) {
			got, err := cmdline.Split(`"` + inner + `"`)
			require.NoError(t, err)
			assert.Equal(t, []string{inner}, got)
		}
		if !strings.Contains(inner, "'") {
			got, err := cmdline.Split("'" + inner + "'")
			require.NoError(t, err)
			assert.Equal(t, []string{inner}, got)
		}
	}
}

func TestJoin_RoundTrip(t *testing.T) {
	args := [][]string{
		{"-font", "Helvetica", "-draw", "circle 100,100 150,150"},
		{"", "a'b", `a"b`, `a"b'c`},
		{"plain"},
	}
	for _, a := range args {
		got, err := cmdline.Split(cmdline.Join(a))
		require.NoError(t, err)
		assert.Equal(t, a, got)
	}
}
