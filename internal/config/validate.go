package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if err := validateServerURL(cfg.Server.URL); err != nil {
		return nil, err
	}
	if cfg.Server.DialTimeoutMS <= 0 {
		return nil, fmt.Errorf("server.dial_timeout_ms must be > 0")
	}

	position := strings.ToLower(strings.TrimSpace(cfg.Debate.Position))
	if position != "pro" && position != "con" {
		return nil, fmt.Errorf("debate.position must be one of: Pro, Con")
	}
	if cfg.Debate.Difficulty < 1 || cfg.Debate.Difficulty > 5 {
		return nil, fmt.Errorf("debate.difficulty must be between 1 and 5")
	}

	if cfg.Audio.FrameRate <= 0 || cfg.Audio.FrameRate > 240 {
		return nil, fmt.Errorf("audio.frame_rate must be between 1 and 240")
	}

	switch cfg.ASR.Provider {
	case ProviderGoogle, ProviderDeepgram:
	case ProviderNone:
		warnings = append(warnings, Warning{Message: "asr.provider=none; recording is disabled"})
	default:
		return nil, fmt.Errorf("asr.provider must be one of: google, deepgram, none")
	}
	if strings.TrimSpace(cfg.ASR.LanguageCode) == "" {
		return nil, fmt.Errorf("asr.language_code must not be empty")
	}
	if cfg.ASR.NoSpeechTimeoutMS < 0 {
		return nil, fmt.Errorf("asr.no_speech_timeout_ms must be >= 0")
	}

	if cfg.Indicator.MeterWidth <= 0 {
		return nil, fmt.Errorf("indicator.meter_width must be > 0")
	}
	if cfg.Indicator.DesktopNotify && strings.TrimSpace(cfg.Indicator.DesktopAppName) == "" {
		return nil, fmt.Errorf("indicator.desktop_app_name must not be empty when indicator.desktop_notify=true")
	}

	if cfg.Vocab.MaxPhrases <= 0 {
		return nil, fmt.Errorf("vocab.max_phrases must be > 0")
	}
	_, vocabWarnings, err := BuildSpeechPhrases(cfg)
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, vocabWarnings...)

	return warnings, nil
}

func validateServerURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("server.url must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("server.url is invalid: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("server.url must use ws:// or wss://")
	}
	if u.Host == "" {
		return fmt.Errorf("server.url must include a host")
	}
	return nil
}

// BuildSpeechPhrases merges enabled vocab sets into deterministic recogniser hints.
func BuildSpeechPhrases(cfg Config) ([]SpeechPhrase, []Warning, error) {
	enabledSets := cfg.Vocab.GlobalSets
	if len(enabledSets) == 0 {
		return nil, nil, nil
	}

	type candidate struct {
		boost float64
		from  string
	}

	warnings := make([]Warning, 0)
	selected := make(map[string]candidate)

	for _, name := range enabledSets {
		set, ok := cfg.Vocab.Sets[name]
		if !ok {
			return nil, nil, fmt.Errorf("vocab.global references unknown set %q", name)
		}
		for _, phrase := range set.Phrases {
			phrase = strings.TrimSpace(phrase)
			if phrase == "" {
				continue
			}
			existing, exists := selected[phrase]
			if !exists {
				selected[phrase] = candidate{boost: set.Boost, from: name}
				continue
			}
			if set.Boost > existing.boost {
				warnings = append(warnings, Warning{Message: fmt.Sprintf("phrase %q present in %q and %q; using higher boost %.2f", phrase, existing.from, name, set.Boost)})
				selected[phrase] = candidate{boost: set.Boost, from: name}
			}
		}
	}

	if len(selected) > cfg.Vocab.MaxPhrases {
		return nil, nil, fmt.Errorf("vocabulary phrase count %d exceeds vocab.max_phrases=%d", len(selected), cfg.Vocab.MaxPhrases)
	}

	phrases := make([]SpeechPhrase, 0, len(selected))
	for phrase, c := range selected {
		phrases = append(phrases, SpeechPhrase{Phrase: phrase, Boost: float32(c.boost)})
	}
	sort.Slice(phrases, func(i, j int) bool {
		return phrases[i].Phrase < phrases[j].Phrase
	})

	return phrases, warnings, nil
}
