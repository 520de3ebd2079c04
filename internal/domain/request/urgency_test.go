package request

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bloodlink/bloodlink-hub/internal/domain/shared"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		timeframe string
		band      UrgencyBand
		warning   bool
	}{
		{"immediate", UrgencyRed, true},
		{"within_2_hours", UrgencyRed, true},
		{"within_24_hours", UrgencyPink, false},
		{"after_24_hours", UrgencyWhite, false},
		{"garbage", UrgencyWhite, false},
		{"IMMEDIATE", UrgencyWhite, false},
	}

	for _, tt := range tests {
		t.Run(tt.timeframe, func(t *testing.T) {
			c, err := Classify(tt.timeframe)
			require.NoError(t, err)
			assert.Equal(t, tt.band, c.UrgencyBand)
			assert.Equal(t, tt.warning, c.EmergencyWarning)
		})
	}
}

func TestClassify_Empty(t *testing.T) {
	_, err := Classify("")
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))
	assert.Equal(t, MsgTimeframeMandatory, shared.Message(err))
}

func TestClassify_BlankIsUnknown(t *testing.T) {
	for _, in := range []string{"   ", "\t", " immediate"} {
		c, err := Classify(in)
		require.NoError(t, err, "%q", in)
		assert.Equal(t, UrgencyWhite, c.UrgencyBand, "%q", in)
		assert.False(t, c.EmergencyWarning)
	}
}

func TestIsValidTimeframe(t *testing.T) {
	for _, v := range []string{"immediate", "within_2_hours", "within_24_hours", "after_24_hours"} {
		assert.True(t, IsValidTimeframe(v), v)
	}
	for _, v := range []string{"", "soon", "Immediate", "within_48_hours"} {
		assert.False(t, IsValidTimeframe(v), v)
	}
}

func TestThresholds(t *testing.T) {
	red := Thresholds(UrgencyRed)
	assert.Equal(t, 10*time.Minute, red.ViewTimeout)
	assert.Equal(t, 20*time.Minute, red.ResponseTimeout)

	pink := Thresholds(UrgencyPink)
	assert.False(t, pink.HasViewTimeout())
	assert.Equal(t, 30*time.Minute, pink.ResponseTimeout)

	white := Thresholds(UrgencyWhite)
	assert.False(t, white.HasViewTimeout())
	assert.False(t, white.HasResponseTimeout())

	assert.Equal(t, white, Thresholds("BLUE"))
}
