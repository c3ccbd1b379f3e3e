package config

// DefaultServerURL is the hosted debate peer used when nothing else is configured.
const DefaultServerURL = "wss://debate-ai.onrender.com/ws/debate"

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	return Config{
		Server: ServerConfig{
			URL:           DefaultServerURL,
			DialTimeoutMS: 10000,
		},
		Debate: DebateConfig{
			Position:   "Pro",
			Difficulty: 1,
		},
		Audio: AudioConfig{
			Input:     "default",
			Fallback:  "default",
			FrameRate: 60,
		},
		ASR: ASRConfig{
			Provider:          ProviderNone,
			LanguageCode:      "en-US",
			NoSpeechTimeoutMS: 8000,
		},
		Indicator: IndicatorConfig{
			Enable:         true,
			SoundEnable:    true,
			DesktopAppName: "rebuttal",
			MeterWidth:     32,
		},
		Vocab: VocabConfig{
			GlobalSets: nil,
			Sets:       map[string]VocabSet{},
			MaxPhrases: 1024,
		},
		Debug: DebugConfig{},
	}
}
