package pointbuffer

import (
	"fmt"
	"math"

	"github.com/banshee-data/lidarscan/internal/lidar"
)

const (
	// Megabyte is the byte size of one budget MB.
	Megabyte = 1 << 20

	// DefaultBudgetMB, DefaultChannelCount and DefaultBytesPerElement
	// describe four channels of Vec3 floats in 576 MB.
	DefaultBudgetMB        = 576.0
	DefaultChannelCount    = 4
	DefaultBytesPerElement = 12

	// MaxCapacity bounds the derived record count.
	MaxCapacity = 1 << 32
)

// Budget is the memory limit the buffer capacity is derived from.
type Budget struct {
	TotalMB         float64
	ChannelCount    int
	BytesPerElement int
}

// DefaultBudget returns the 576 MB, four channel, 12 byte budget.
func DefaultBudget() Budget {
	return Budget{
		TotalMB:         DefaultBudgetMB,
		ChannelCount:    DefaultChannelCount,
		BytesPerElement: DefaultBytesPerElement,
	}
}

// Capacity is a derived record count and the memory it actually uses.
type Capacity struct {
	Records     int
	RawRecords  float64 // records the budget would allow before rounding
	EffectiveMB float64
	Adjusted    bool // Records < RawRecords
}

// Capacity derives the record count for b. See CapacityFromBudget.
func (b Budget) Capacity() (Capacity, error) {
	return CapacityFromBudget(b.TotalMB, b.ChannelCount, b.BytesPerElement)
}

// CapacityFromBudget computes raw = totalMB·2^20 / (channelCount·bytesPerElement)
// and rounds it down to a power of two, so C·channelCount·bytesPerElement
// never exceeds the budget. An exact power of two is used as is. A budget
// too small for a single record is a configuration error.
func CapacityFromBudget(totalMB float64, channelCount, bytesPerElement int) (Capacity, error) {
	if math.IsNaN(totalMB) || math.IsInf(totalMB, 0) || totalMB <= 0 {
		return Capacity{}, fmt.Errorf("%w: memory budget must be positive, got %v MB", lidar.ErrConfiguration, totalMB)
	}
	if channelCount <= 0 || bytesPerElement <= 0 {
		return Capacity{}, fmt.Errorf("%w: channel count (%d) and bytes per element (%d) must be positive",
			lidar.ErrConfiguration, channelCount, bytesPerElement)
	}

	stride := float64(channelCount * bytesPerElement)
	raw := totalMB * Megabyte / stride
	if raw < 1 {
		return Capacity{}, fmt.Errorf("%w: %.4g MB holds no %d-byte records", lidar.ErrConfiguration, totalMB, channelCount*bytesPerElement)
	}

	// raw = frac·2^exp with frac in [0.5, 1); floor(log2 raw) = exp-1 and
	// raw is an exact power of two only when frac is 0.5.
	frac, exp := math.Frexp(raw)
	records := math.Ldexp(1, exp-1)
	if records > MaxCapacity {
		return Capacity{}, fmt.Errorf("%w: %.0f records exceeds the supported maximum", lidar.ErrConfiguration, records)
	}

	return Capacity{
		Records:     int(records),
		RawRecords:  raw,
		EffectiveMB: records * stride / Megabyte,
		Adjusted:    frac != 0.5,
	}, nil
}

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
