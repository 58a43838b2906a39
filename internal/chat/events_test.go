package chat

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitWords(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"Take ibuprofen twice daily ", []string{"Take ", "ibuprofen ", "twice ", "daily "}},
		{"no trailing", []string{"no ", "trailing"}},
		{"  lead", []string{"  lead"}},
		{"a  b\n\nc", []string{"a  ", "b\n\n", "c"}},
		{"   ", []string{"   "}},
		{"zähne putzen", []string{"zähne ", "putzen"}},
	}
	for _, tc := range cases {
		got := SplitWords(tc.in)
		assert.Equal(t, tc.want, got, "input %q", tc.in)
		assert.Equal(t, tc.in, strings.Join(got, ""))
	}
}
