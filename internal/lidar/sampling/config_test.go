package sampling

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lidarscan/internal/lidar"
)

func TestScanConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*ScanConfig)
		wantErr bool
	}{
		{"defaults", func(*ScanConfig) {}, false},
		{"zero rate allowed", func(c *ScanConfig) { c.SampleRate = 0 }, false},
		{"negative rate", func(c *ScanConfig) { c.SampleRate = -1 }, true},
		{"cone too wide", func(c *ScanConfig) { c.ConeAngleDeg = 61 }, true},
		{"negative square", func(c *ScanConfig) { c.SquareHalfExtent = -0.1 }, true},
		{"nan rate", func(c *ScanConfig) { c.SampleRate = math.NaN() }, true},
		{"unknown pattern", func(c *ScanConfig) { c.Pattern = Pattern(99) }, true},
		{"sphere without length", func(c *ScanConfig) {
			c.Pattern = PatternRandomSphere
			c.SphereLength = 0
		}, true},
		{"disc ignores length", func(c *ScanConfig) { c.SphereLength = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultScanConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.True(t, errors.Is(err, lidar.ErrConfiguration), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestScanConfig_AdjustScanArea(t *testing.T) {
	t.Parallel()
	cfg := DefaultScanConfig()
	cfg.ConeAngleDeg = 58
	cfg.SquareHalfExtent = 0.5

	cfg.AdjustScanArea(5)
	assert.Equal(t, 60.0, cfg.ConeAngleDeg)
	assert.InDelta(t, 0.55, cfg.SquareHalfExtent, 1e-12)

	cfg.AdjustScanArea(-100)
	assert.Equal(t, 0.0, cfg.ConeAngleDeg)
	assert.Equal(t, 0.0, cfg.SquareHalfExtent)

	cfg.AdjustScanArea(10)
	for _, d := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		cfg.AdjustScanArea(d)
		assert.Equal(t, 10.0, cfg.ConeAngleDeg, "delta %v", d)
		assert.InDelta(t, 0.1, cfg.SquareHalfExtent, 1e-12, "delta %v", d)
	}
	require.NoError(t, cfg.Validate())
}

func TestParsePattern(t *testing.T) {
	t.Parallel()
	for _, p := range []Pattern{PatternDisc, PatternSquare, PatternLine, PatternRandomSphere, PatternContinuousSweep} {
		got, err := ParsePattern(p.String())
		assert.NoError(t, err)
		assert.Equal(t, p, got)
	}
	got, err := ParsePattern(" Puck ")
	assert.NoError(t, err)
	assert.Equal(t, PatternContinuousSweep, got)

	_, err = ParsePattern("spiral")
	assert.ErrorIs(t, err, lidar.ErrConfiguration)
	assert.Equal(t, "Pattern(42)", Pattern(42).String())
	assert.Equal(t, PatternDisc, PatternContinuousSweep.Next())
}
