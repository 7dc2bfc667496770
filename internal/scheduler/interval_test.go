package scheduler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lifesync/internal/types"
)

func TestParseInterval_ValidUnits(t *testing.T) {
	tests := []struct {
		interval string
		want     int64
	}{
		{"30s", 30_000},
		{"5m", 300_000},
		{"2h", 7_200_000},
		{"1d", 86_400_000},
		{"1w", 604_800_000},
		{"10d", 864_000_000},
	}

	for _, tt := range tests {
		t.Run(tt.interval, func(t *testing.T) {
			got, err := ParseInterval(tt.interval)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseInterval_Invalid(t *testing.T) {
	tests := []string{
		"",     // empty
		"d",    // no value
		"5",    // no unit
		"5x",   // unknown unit
		"0s",   // zero value
		"-1h",  // negative value
		"1.5h", // fractional value
		"h5",   // reversed
		"5 m",  // embedded space
	}

	for _, interval := range tests {
		t.Run("invalid_"+interval, func(t *testing.T) {
			_, err := ParseInterval(interval)
			require.Error(t, err)

			var appErr *types.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, types.ErrCodeValidationInvalidInterval, appErr.Code)
		})
	}
}

func TestComputeNextRun_AdvancesFromLastRun(t *testing.T) {
	next, err := ComputeNextRun(1000, "2h")
	require.NoError(t, err)
	assert.Equal(t, int64(1000+7_200_000), next)
}

func TestComputeNextRun_DailyIsExact24h(t *testing.T) {
	base := int64(1_700_000_000_000)
	next, err := ComputeNextRun(base, "1d")
	require.NoError(t, err)
	assert.Equal(t, base+86_400_000, next)
}

func TestComputeNextRun_PropagatesInvalidInterval(t *testing.T) {
	_, err := ComputeNextRun(1000, "nope")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeValidationInvalidInterval, appErr.Code)
}
