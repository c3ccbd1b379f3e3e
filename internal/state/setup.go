package state

import (
	"strconv"
	"strings"
)

// Position is the side the user argues.
type Position string

const (
	PositionPro Position = "Pro"
	PositionCon Position = "Con"
)

const (
	MinDifficulty = 1
	MaxDifficulty = 5
)

// NormalizeDifficulty parses form input; anything outside 1..5 becomes 1.
func NormalizeDifficulty(raw string) int {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return MinDifficulty
	}
	return ClampDifficulty(v)
}

// ClampDifficulty maps out-of-range values to 1.
func ClampDifficulty(v int) int {
	if v < MinDifficulty || v > MaxDifficulty {
		return MinDifficulty
	}
	return v
}

// NormalizePosition accepts pro/con in any case and defaults to Pro.
func NormalizePosition(raw string) Position {
	if strings.EqualFold(strings.TrimSpace(raw), string(PositionCon)) {
		return PositionCon
	}
	return PositionPro
}
