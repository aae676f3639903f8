package sampling

import (
	"fmt"
	"strings"

	"github.com/banshee-data/lidarscan/internal/lidar"
)

// Pattern selects how sample offsets are laid out around the scan basis.
type Pattern int

const (
	PatternDisc Pattern = iota
	PatternSquare
	PatternLine
	PatternRandomSphere
	PatternContinuousSweep
)

var patternNames = map[Pattern]string{
	PatternDisc:            "disc",
	PatternSquare:          "square",
	PatternLine:            "line",
	PatternRandomSphere:    "sphere",
	PatternContinuousSweep: "sweep",
}

func (p Pattern) String() string {
	if s, ok := patternNames[p]; ok {
		return s
	}
	return fmt.Sprintf("Pattern(%d)", int(p))
}

// ParsePattern accepts the lower-case pattern names plus "puck" and
// "circle" as aliases for the sweep and disc patterns.
func ParsePattern(s string) (Pattern, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "disc", "circle", "cone":
		return PatternDisc, nil
	case "square":
		return PatternSquare, nil
	case "line":
		return PatternLine, nil
	case "sphere", "randomsphere":
		return PatternRandomSphere, nil
	case "sweep", "puck", "continuoussweep":
		return PatternContinuousSweep, nil
	}
	return 0, fmt.Errorf("%w: unknown scan pattern %q", lidar.ErrConfiguration, s)
}

// Next cycles to the following pattern, wrapping after the sweep.
func (p Pattern) Next() Pattern {
	return (p + 1) % (PatternContinuousSweep + 1)
}

// ClampsDelta reports whether the sample count for p is computed from a
// delta time clamped to the minimum acceptable tick rate. Line and square
// scans use the raw delta.
func (p Pattern) ClampsDelta() bool {
	switch p {
	case PatternDisc, PatternRandomSphere, PatternContinuousSweep:
		return true
	}
	return false
}

// Omnidirectional reports whether samples are full directions rather than
// offsets from the facing direction. Sphere and sweep scans cast from a
// zero base direction.
func (p Pattern) Omnidirectional() bool {
	return p == PatternRandomSphere || p == PatternContinuousSweep
}
