package config

import (
	"encoding/json"
	"fmt"
	"strings"
)

type jsoncConfig struct {
	Server    *jsoncServer    `json:"server"`
	Debate    *jsoncDebate    `json:"debate"`
	Audio     *jsoncAudio     `json:"audio"`
	ASR       *jsoncASR       `json:"asr"`
	Indicator *jsoncIndicator `json:"indicator"`
	Vocab     *jsoncVocab     `json:"vocab"`
	Debug     *jsoncDebug     `json:"debug"`
}

type jsoncServer struct {
	URL           *string `json:"url"`
	DialTimeoutMS *int    `json:"dial_timeout_ms"`
}

type jsoncDebate struct {
	Topic      *string `json:"topic"`
	Position   *string `json:"position"`
	Difficulty *int    `json:"difficulty"`
}

type jsoncAudio struct {
	Input     *string `json:"input"`
	Fallback  *string `json:"fallback"`
	FrameRate *int    `json:"frame_rate"`
}

type jsoncASR struct {
	Provider          *string `json:"provider"`
	LanguageCode      *string `json:"language_code"`
	Model             *string `json:"model"`
	Endpoint          *string `json:"endpoint"`
	Insecure          *bool   `json:"insecure"`
	CredentialsFile   *string `json:"credentials_file"`
	APIKey            *string `json:"api_key"`
	NoSpeechTimeoutMS *int    `json:"no_speech_timeout_ms"`
}

type jsoncIndicator struct {
	Enable         *bool   `json:"enable"`
	SoundEnable    *bool   `json:"sound_enable"`
	DesktopNotify  *bool   `json:"desktop_notify"`
	DesktopAppName *string `json:"desktop_app_name"`
	MeterWidth     *int    `json:"meter_width"`
}

type jsoncVocab struct {
	Global     *jsoncStringList         `json:"global"`
	MaxPhrases *int                     `json:"max_phrases"`
	Sets       map[string]jsoncVocabSet `json:"sets"`
}

type jsoncVocabSet struct {
	Boost   *float64 `json:"boost"`
	Phrases []string `json:"phrases"`
}

type jsoncDebug struct {
	AudioDump *bool `json:"audio_dump"`
	GRPCDump  *bool `json:"grpc_dump"`
}

// jsoncStringList accepts either a JSON string array or a comma-delimited string.
type jsoncStringList []string

func (l *jsoncStringList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = list
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		out := make([]string, 0)
		for _, part := range strings.Split(single, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		*l = out
		return nil
	}

	return fmt.Errorf("expected string array or comma-delimited string")
}

func parseJSONC(content string, base Config) (Config, []Warning, error) {
	normalized, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload jsoncConfig
	if err := decoder.Decode(&payload); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}
	if err := ensureSingleJSONValue(decoder); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}

	cfg := base
	if err := payload.applyTo(&cfg); err != nil {
		return Config{}, nil, err
	}

	warnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, warnings, nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func (payload jsoncConfig) applyTo(cfg *Config) error {
	if s := payload.Server; s != nil {
		setString(&cfg.Server.URL, s.URL)
		setInt(&cfg.Server.DialTimeoutMS, s.DialTimeoutMS)
	}

	if d := payload.Debate; d != nil {
		setString(&cfg.Debate.Topic, d.Topic)
		setString(&cfg.Debate.Position, d.Position)
		setInt(&cfg.Debate.Difficulty, d.Difficulty)
	}

	if a := payload.Audio; a != nil {
		setString(&cfg.Audio.Input, a.Input)
		setString(&cfg.Audio.Fallback, a.Fallback)
		setInt(&cfg.Audio.FrameRate, a.FrameRate)
	}

	if a := payload.ASR; a != nil {
		setString(&cfg.ASR.Provider, a.Provider)
		cfg.ASR.Provider = strings.ToLower(cfg.ASR.Provider)
		setString(&cfg.ASR.LanguageCode, a.LanguageCode)
		setString(&cfg.ASR.Model, a.Model)
		setString(&cfg.ASR.Endpoint, a.Endpoint)
		setBool(&cfg.ASR.Insecure, a.Insecure)
		setString(&cfg.ASR.CredentialsFile, a.CredentialsFile)
		setString(&cfg.ASR.APIKey, a.APIKey)
		setInt(&cfg.ASR.NoSpeechTimeoutMS, a.NoSpeechTimeoutMS)
	}

	if ind := payload.Indicator; ind != nil {
		setBool(&cfg.Indicator.Enable, ind.Enable)
		setBool(&cfg.Indicator.SoundEnable, ind.SoundEnable)
		setBool(&cfg.Indicator.DesktopNotify, ind.DesktopNotify)
		setString(&cfg.Indicator.DesktopAppName, ind.DesktopAppName)
		setInt(&cfg.Indicator.MeterWidth, ind.MeterWidth)
	}

	if v := payload.Vocab; v != nil {
		if v.Global != nil {
			cfg.Vocab.GlobalSets = nil
			for _, name := range *v.Global {
				if name = strings.TrimSpace(name); name != "" {
					cfg.Vocab.GlobalSets = append(cfg.Vocab.GlobalSets, name)
				}
			}
		}
		setInt(&cfg.Vocab.MaxPhrases, v.MaxPhrases)
		if v.Sets != nil {
			sets := make(map[string]VocabSet, len(cfg.Vocab.Sets)+len(v.Sets))
			for name, set := range cfg.Vocab.Sets {
				sets[name] = set
			}
			for name, set := range v.Sets {
				trimmedName := strings.TrimSpace(name)
				if trimmedName == "" {
					return fmt.Errorf("vocab.sets contains an empty set name")
				}
				entry := VocabSet{Name: trimmedName, Phrases: append([]string(nil), set.Phrases...)}
				if set.Boost != nil {
					entry.Boost = *set.Boost
				}
				sets[trimmedName] = entry
			}
			cfg.Vocab.Sets = sets
		}
	}

	if d := payload.Debug; d != nil {
		setBool(&cfg.Debug.EnableAudioDump, d.AudioDump)
		setBool(&cfg.Debug.EnableGRPCDump, d.GRPCDump)
	}

	return nil
}
