package dto

import (
	"testing"

	"instant-payout/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in    string
		want  string
		valid bool
	}{
		{"100.50", "100.50", true},
		{"0.01", "0.01", true},
		{"10000", "10000.00", true},
		{"10.505", "", false},
		{"1e2", "", false},
		{"1E2", "", false},
		{"abc", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			d, err := ParseAmount(tc.in)
			if !tc.valid {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, d.StringFixed(2))
		})
	}
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("")
	require.NoError(t, err)
	assert.Nil(t, st)

	st, err = ParseStatus("completed")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, domain.TransactionStatusCompleted, *st)

	_, err = ParseStatus("done")
	assert.Error(t, err)
}

func TestParseLimit(t *testing.T) {
	n, err := ParseLimit("")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = ParseLimit("25")
	require.NoError(t, err)
	assert.Equal(t, 25, n)

	_, err = ParseLimit("-1")
	assert.Error(t, err)
	_, err = ParseLimit("many")
	assert.Error(t, err)
}
