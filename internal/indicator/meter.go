package indicator

import (
	"fmt"
	"math"
	"strings"

	"github.com/rbright/rebuttal/internal/state"
)

var meterGlyphs = []rune(" ▁▂▃▄▅▆▇█")

// RenderMeter folds a spectrum sample into width bar glyphs. An absent sample
// renders as blanks.
func RenderMeter(frame []byte, width int) string {
	if width <= 0 {
		return ""
	}
	if len(frame) == 0 {
		return strings.Repeat(" ", width)
	}

	var b strings.Builder
	b.Grow(width * 3)
	for col := 0; col < width; col++ {
		start := col * len(frame) / width
		end := (col + 1) * len(frame) / width
		if end <= start {
			end = start + 1
		}
		if end > len(frame) {
			end = len(frame)
		}

		sum := 0
		for _, v := range frame[start:end] {
			sum += int(v)
		}
		level := float64(sum) / float64(end-start) / 255
		idx := int(math.Round(level * float64(len(meterGlyphs)-1)))
		b.WriteRune(meterGlyphs[idx])
	}
	return b.String()
}

// Avatar is what the opponent's avatar renders from.
type Avatar struct {
	Speaking  bool
	Intensity float64
}

// AvatarFor derives the avatar from a store snapshot. Intensity follows the
// spectrum only while the opponent is speaking.
func AvatarFor(snap state.Snapshot) Avatar {
	if !snap.AISpeaking {
		return Avatar{}
	}
	return Avatar{Speaking: true, Intensity: state.FrameIntensity(snap.AudioFrame)}
}

// Face renders the avatar as a short glyph whose mouth opens with intensity.
func (a Avatar) Face() string {
	if !a.Speaking {
		return "(-_-)"
	}
	switch {
	case a.Intensity >= 0.5:
		return "(°O°)"
	case a.Intensity >= 0.2:
		return "(°o°)"
	default:
		return "(°-°)"
	}
}

func (a Avatar) String() string {
	return fmt.Sprintf("%s %3.0f%%", a.Face(), a.Intensity*100)
}
