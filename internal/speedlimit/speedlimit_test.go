package speedlimit_test

import (
	"fmt"
	"math"
	"strconv"
	"testing"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghermez/ariabridge/internal/speedlimit"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0", "0"},
		{" 0 ", "0"},
		{"5M", "5120K"},
		{"100K", "100K"},
		{"1.5M", "1536K"},
		{"99.6K", "100K"},
		{"99.4K", "99K"},
		{"0.5K", "1K"},
		{"0K", "0K"},
		{"0M", "0K"},
		{"2G", "2048K"}, // non-K units are all treated as megabytes
		{"  10M\n", "10240K"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := speedlimit.Normalize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeInvalid(t *testing.T) {
	for _, in := range []string{"", " ", "K", "M", "abcK", "-5M", "-0.5K", "1.2.3M", "NaNK", "InfM"} {
		t.Run(fmt.Sprintf("%q", in), func(t *testing.T) {
			_, err := speedlimit.Normalize(in)
			require.Error(t, err)
			assert.ErrorIs(t, err, speedlimit.ErrInvalidLimit)
		})
	}
}

func TestNormalizeWholeKilobytes(t *testing.T) {
	for range 50 {
		n := gofakeit.IntRange(1, 100000)

		got, err := speedlimit.Normalize(strconv.Itoa(n) + "K")
		require.NoError(t, err)
		assert.Equal(t, strconv.Itoa(n)+"K", got)

		got, err = speedlimit.Normalize(strconv.Itoa(n) + "M")
		require.NoError(t, err)
		assert.Equal(t, strconv.Itoa(n*1024)+"K", got)
	}
}

func TestNormalizeFractionalMegabytes(t *testing.T) {
	for range 50 {
		v := gofakeit.Float64Range(0, 500)
		in := strconv.FormatFloat(v, 'f', 3, 64) + "M"
		parsed, _ := strconv.ParseFloat(strconv.FormatFloat(v, 'f', 3, 64), 64)

		got, err := speedlimit.Normalize(in)
		require.NoError(t, err)
		assert.Equal(t, strconv.FormatInt(int64(math.Round(parsed*1024)), 10)+"K", got, in)
	}
}

func TestOption(t *testing.T) {
	opts, err := speedlimit.Option("5M")
	require.NoError(t, err)
	assert.Equal(t, "5120K", opts[speedlimit.OptionKey])
	assert.Len(t, opts, 1)

	opts, err = speedlimit.Option("0")
	require.NoError(t, err)
	assert.Equal(t, "0", opts["max-download-limit"])

	_, err = speedlimit.Option("fast")
	assert.ErrorIs(t, err, speedlimit.ErrInvalidLimit)
}
