package indicator

import (
	"os"
	"strings"

	"github.com/rbright/rebuttal/internal/state"
)

type locale string

const (
	localeEnglish locale = "en"
)

type messages struct {
	you       string
	ai        string
	system    string
	listening string
	speaking  string
	paused    string
	connected string
	offline   string
}

func indicatorMessagesFromEnv() messages {
	return indicatorMessages(resolveLocale(os.Getenv("LANG")))
}

func resolveLocale(raw string) locale {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if strings.HasPrefix(raw, "en") {
		return localeEnglish
	}
	return localeEnglish
}

func indicatorMessages(tag locale) messages {
	switch tag {
	case localeEnglish:
		fallthrough
	default:
		return messages{
			you:       "You",
			ai:        "AI",
			system:    "System",
			listening: "Listening…",
			speaking:  "AI speaking",
			paused:    "Paused",
			connected: "Connected to debate server",
			offline:   "Disconnected from debate server",
		}
	}
}

// label returns the transcript prefix for role.
func (m messages) label(role state.Role) string {
	switch role {
	case state.RoleUser:
		return m.you
	case state.RoleAI:
		return m.ai
	default:
		return m.system
	}
}
