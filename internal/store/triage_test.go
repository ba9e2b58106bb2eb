package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLikePattern(t *testing.T) {
	cases := map[string]string{
		"*@shop.com":  "%@shop.com",
		"a_b*":        `a\_b%`,
		"100%@x.com":  `100\%@x.com`,
		`back\slash*`: `back\\slash%`,
		"exact@x.com": "exact@x.com",
	}
	for glob, want := range cases {
		require.Equal(t, want, likePattern(glob), glob)
	}
}
