// Package config loads scan tuning from JSON. Every field is optional:
// omitted fields fall back to the defaults returned by the Get* methods,
// so partial files are safe.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/lidarscan/internal/lidar"
	"github.com/banshee-data/lidarscan/internal/lidar/intersect"
	"github.com/banshee-data/lidarscan/internal/lidar/pipeline"
	"github.com/banshee-data/lidarscan/internal/lidar/pointbuffer"
	"github.com/banshee-data/lidarscan/internal/lidar/sampling"
)

// DefaultConfigPath is the canonical defaults file, relative to the
// repository root.
const DefaultConfigPath = "config/scan.defaults.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// ScanTuning is the root scan configuration. The same JSON shape is
// accepted by POST /api/lidar/config.
type ScanTuning struct {
	// Sampling
	Pattern           *string  `json:"pattern,omitempty"`
	ConeAngleDeg      *float64 `json:"cone_angle_deg,omitempty"`
	SquareHalfExtent  *float64 `json:"square_half_extent,omitempty"`
	SweepIncrementDeg *float64 `json:"sweep_increment_deg,omitempty"`
	SampleRate        *float64 `json:"sample_rate,omitempty"`
	MinTickRate       *float64 `json:"min_tick_rate,omitempty"`
	SphereLength      *float64 `json:"sphere_length,omitempty"`

	// Queries and colour
	MaxDistance   *float64 `json:"max_distance,omitempty"`
	LayerMask     *uint32  `json:"layer_mask,omitempty"`
	ColorMode     *string  `json:"color_mode,omitempty"`
	OverrideColor *string  `json:"override_color,omitempty"` // "#rrggbb"
	HeightRange   *float64 `json:"height_range,omitempty"`

	// Point buffer
	MemoryBudgetMB *float64 `json:"memory_budget_mb,omitempty"`
	Normals        *bool    `json:"normals,omitempty"`
	Timestamps     *bool    `json:"timestamps,omitempty"`

	// Wide sweep
	SweepRows        *int     `json:"sweep_rows,omitempty"`
	SweepMinDuration *string  `json:"sweep_min_duration,omitempty"` // duration string like "1s"
	SweepAspect      *float64 `json:"sweep_aspect,omitempty"`

	// Drivers
	TickRate    *float64 `json:"tick_rate,omitempty"`
	SpinRateDeg *float64 `json:"spin_rate_deg,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }

// EmptyScanTuning returns a ScanTuning with every field nil.
func EmptyScanTuning() *ScanTuning {
	return &ScanTuning{}
}

// LoadScanTuning loads and validates a JSON file. The path must end in
// .json and the file must be under 1MB.
func LoadScanTuning(path string) (*ScanTuning, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseScanTuning(data)
}

// ParseScanTuning decodes and validates JSON bytes.
func ParseScanTuning(data []byte) (*ScanTuning, error) {
	cfg := EmptyScanTuning()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the working directory
// or one of its parents. It panics if the file cannot be found; it is
// meant for tests and tools run inside the repository.
func MustLoadDefaultConfig() *ScanTuning {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/lidar/*
		"../../../../" + DefaultConfigPath, // from internal/lidar/storage/*
	}
	for _, path := range candidates {
		if cfg, err := LoadScanTuning(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run from the repository root")
}

// Merge overlays every non-nil field of o onto c.
func (c *ScanTuning) Merge(o *ScanTuning) {
	if o == nil {
		return
	}
	merge(&c.Pattern, o.Pattern)
	merge(&c.ConeAngleDeg, o.ConeAngleDeg)
	merge(&c.SquareHalfExtent, o.SquareHalfExtent)
	merge(&c.SweepIncrementDeg, o.SweepIncrementDeg)
	merge(&c.SampleRate, o.SampleRate)
	merge(&c.MinTickRate, o.MinTickRate)
	merge(&c.SphereLength, o.SphereLength)
	merge(&c.MaxDistance, o.MaxDistance)
	merge(&c.LayerMask, o.LayerMask)
	merge(&c.ColorMode, o.ColorMode)
	merge(&c.OverrideColor, o.OverrideColor)
	merge(&c.HeightRange, o.HeightRange)
	merge(&c.MemoryBudgetMB, o.MemoryBudgetMB)
	merge(&c.Normals, o.Normals)
	merge(&c.Timestamps, o.Timestamps)
	merge(&c.SweepRows, o.SweepRows)
	merge(&c.SweepMinDuration, o.SweepMinDuration)
	merge(&c.SweepAspect, o.SweepAspect)
	merge(&c.TickRate, o.TickRate)
	merge(&c.SpinRateDeg, o.SpinRateDeg)
}

func merge[T any](dst **T, src *T) {
	if src != nil {
		v := *src
		*dst = &v
	}
}

// Validate checks every field that is set.
func (c *ScanTuning) Validate() error {
	if _, err := c.ScanConfig(); err != nil {
		return err
	}
	if c.MaxDistance != nil && *c.MaxDistance < 0 {
		return fmt.Errorf("%w: max_distance must be non-negative, got %f", lidar.ErrConfiguration, *c.MaxDistance)
	}
	if c.ColorMode != nil {
		if _, err := intersect.ParseColorMode(*c.ColorMode); err != nil {
			return err
		}
	}
	if c.OverrideColor != nil {
		if _, err := lidar.ParseHexColor(*c.OverrideColor); err != nil {
			return err
		}
	}
	if c.HeightRange != nil && !(*c.HeightRange > 0) {
		return fmt.Errorf("%w: height_range must be positive, got %f", lidar.ErrConfiguration, *c.HeightRange)
	}
	if c.MemoryBudgetMB != nil {
		if _, err := c.BufferBudget().Capacity(); err != nil {
			return err
		}
	}
	if c.SweepRows != nil && *c.SweepRows <= 0 {
		return fmt.Errorf("%w: sweep_rows must be positive, got %d", lidar.ErrConfiguration, *c.SweepRows)
	}
	if c.SweepMinDuration != nil && *c.SweepMinDuration != "" {
		if _, err := time.ParseDuration(*c.SweepMinDuration); err != nil {
			return fmt.Errorf("%w: invalid sweep_min_duration '%s': %w", lidar.ErrConfiguration, *c.SweepMinDuration, err)
		}
	}
	if c.SweepAspect != nil && !(*c.SweepAspect > 0) {
		return fmt.Errorf("%w: sweep_aspect must be positive, got %f", lidar.ErrConfiguration, *c.SweepAspect)
	}
	if c.TickRate != nil && !(*c.TickRate > 0) {
		return fmt.Errorf("%w: tick_rate must be positive, got %f", lidar.ErrConfiguration, *c.TickRate)
	}
	return nil
}

// GetPattern returns the pattern name or "disc".
func (c *ScanTuning) GetPattern() string {
	if c.Pattern == nil || *c.Pattern == "" {
		return sampling.PatternDisc.String()
	}
	return *c.Pattern
}

// GetSampleRate returns sample_rate or 20000.
func (c *ScanTuning) GetSampleRate() float64 {
	if c.SampleRate == nil {
		return sampling.DefaultScanConfig().SampleRate
	}
	return *c.SampleRate
}

// GetMaxDistance returns max_distance or the batcher default.
func (c *ScanTuning) GetMaxDistance() float64 {
	if c.MaxDistance == nil {
		return intersect.DefaultMaxDistance
	}
	return *c.MaxDistance
}

// GetLayerMask returns layer_mask or every layer.
func (c *ScanTuning) GetLayerMask() lidar.LayerMask {
	if c.LayerMask == nil {
		return lidar.AllLayers
	}
	return lidar.LayerMask(*c.LayerMask)
}

// GetColorMode returns the parsed color_mode, or height on absence or
// error.
func (c *ScanTuning) GetColorMode() intersect.ColorMode {
	if c.ColorMode == nil {
		return intersect.ModeHeight
	}
	m, err := intersect.ParseColorMode(*c.ColorMode)
	if err != nil {
		return intersect.ModeHeight
	}
	return m
}

// GetOverrideColor returns the parsed override_color or white.
func (c *ScanTuning) GetOverrideColor() lidar.Color {
	if c.OverrideColor == nil {
		return lidar.White
	}
	col, err := lidar.ParseHexColor(*c.OverrideColor)
	if err != nil {
		return lidar.White
	}
	return col
}

// GetHeightRange returns height_range or 5.
func (c *ScanTuning) GetHeightRange() float64 {
	if c.HeightRange == nil {
		return intersect.DefaultHeightRange
	}
	return *c.HeightRange
}

// GetMemoryBudgetMB returns memory_budget_mb or 576.
func (c *ScanTuning) GetMemoryBudgetMB() float64 {
	if c.MemoryBudgetMB == nil {
		return pointbuffer.DefaultBudgetMB
	}
	return *c.MemoryBudgetMB
}

// GetNormals returns normals or true.
func (c *ScanTuning) GetNormals() bool {
	if c.Normals == nil {
		return true
	}
	return *c.Normals
}

// GetTimestamps returns timestamps or true.
func (c *ScanTuning) GetTimestamps() bool {
	if c.Timestamps == nil {
		return true
	}
	return *c.Timestamps
}

// GetSweepRows returns sweep_rows or 200.
func (c *ScanTuning) GetSweepRows() int {
	if c.SweepRows == nil {
		return pipeline.DefaultSweepRows
	}
	return *c.SweepRows
}

// GetSweepMinDuration parses sweep_min_duration, falling back to 1s.
func (c *ScanTuning) GetSweepMinDuration() time.Duration {
	if c.SweepMinDuration == nil || *c.SweepMinDuration == "" {
		return pipeline.DefaultSweepDuration
	}
	d, err := time.ParseDuration(*c.SweepMinDuration)
	if err != nil {
		return pipeline.DefaultSweepDuration
	}
	return d
}

// GetSweepAspect returns sweep_aspect or 1.
func (c *ScanTuning) GetSweepAspect() float64 {
	if c.SweepAspect == nil {
		return 1
	}
	return *c.SweepAspect
}

// GetTickRate returns tick_rate or 60 ticks per second.
func (c *ScanTuning) GetTickRate() float64 {
	if c.TickRate == nil {
		return 60
	}
	return *c.TickRate
}

// GetSpinRateDeg returns spin_rate_deg or the turret default.
func (c *ScanTuning) GetSpinRateDeg() float64 {
	if c.SpinRateDeg == nil {
		return pipeline.DefaultSpinRateDeg
	}
	return *c.SpinRateDeg
}

// ScanConfig converts the sampling fields, applying defaults, and
// validates the result.
func (c *ScanTuning) ScanConfig() (sampling.ScanConfig, error) {
	sc := sampling.DefaultScanConfig()
	if c.Pattern != nil && *c.Pattern != "" {
		p, err := sampling.ParsePattern(*c.Pattern)
		if err != nil {
			return sc, err
		}
		sc.Pattern = p
	}
	set := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	set(&sc.ConeAngleDeg, c.ConeAngleDeg)
	set(&sc.SquareHalfExtent, c.SquareHalfExtent)
	set(&sc.SweepIncrementDeg, c.SweepIncrementDeg)
	set(&sc.SampleRate, c.SampleRate)
	set(&sc.MinTickRate, c.MinTickRate)
	set(&sc.SphereLength, c.SphereLength)
	if err := sc.Validate(); err != nil {
		return sc, err
	}
	return sc, nil
}

// PipelineConfig builds the scanner configuration. lookup backs the
// surface colour mode and may be nil.
func (c *ScanTuning) PipelineConfig(lookup intersect.SurfaceColorLookup) (pipeline.Config, error) {
	sc, err := c.ScanConfig()
	if err != nil {
		return pipeline.Config{}, err
	}
	colors := intersect.NewAttributeResolver(c.GetColorMode(), lookup)
	colors.Override = c.GetOverrideColor()
	colors.HeightRange = c.GetHeightRange()
	return pipeline.Config{
		Scan:        sc,
		MaxDistance: c.GetMaxDistance(),
		Mask:        c.GetLayerMask(),
		Colors:      *colors,
	}, nil
}

// BufferBudget returns the memory budget for the enabled channels.
func (c *ScanTuning) BufferBudget() pointbuffer.Budget {
	channels := 2
	if c.GetNormals() {
		channels++
	}
	if c.GetTimestamps() {
		channels++
	}
	return pointbuffer.Budget{
		TotalMB:         c.GetMemoryBudgetMB(),
		ChannelCount:    channels,
		BytesPerElement: pointbuffer.DefaultBytesPerElement,
	}
}

// BufferOptions returns the channel options matching BufferBudget.
func (c *ScanTuning) BufferOptions() pointbuffer.Options {
	return pointbuffer.Options{Normals: c.GetNormals(), Timestamps: c.GetTimestamps()}
}

// WideSweepOptions returns the sweep pacing parameters.
func (c *ScanTuning) WideSweepOptions() pipeline.WideSweepOptions {
	return pipeline.WideSweepOptions{
		Rows:        c.GetSweepRows(),
		MinDuration: c.GetSweepMinDuration(),
		Aspect:      c.GetSweepAspect(),
	}
}
