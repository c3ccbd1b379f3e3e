// Package config resolves, parses, validates, and defaults rebuttal configuration.
package config

// Recogniser providers accepted by asr.provider.
const (
	ProviderGoogle   = "google"
	ProviderDeepgram = "deepgram"
	ProviderNone     = "none"
)

// Config is the fully materialized runtime configuration used by rebuttal.
type Config struct {
	Server    ServerConfig
	Debate    DebateConfig
	Audio     AudioConfig
	ASR       ASRConfig
	Indicator IndicatorConfig
	Vocab     VocabConfig
	Debug     DebugConfig
}

// ServerConfig locates the debate peer.
type ServerConfig struct {
	URL           string
	DialTimeoutMS int
}

// DebateConfig seeds the setup form for a new session.
type DebateConfig struct {
	Topic      string
	Position   string
	Difficulty int
}

// AudioConfig controls preferred and fallback input-source selection.
type AudioConfig struct {
	Input     string
	Fallback  string
	FrameRate int
}

// ASRConfig selects and configures the speech recogniser.
type ASRConfig struct {
	Provider          string
	LanguageCode      string
	Model             string
	Endpoint          string
	Insecure          bool
	CredentialsFile   string
	APIKey            string
	NoSpeechTimeoutMS int
}

// IndicatorConfig controls terminal surfaces and audio cue behavior.
type IndicatorConfig struct {
	Enable         bool
	SoundEnable    bool
	DesktopNotify  bool
	DesktopAppName string
	MeterWidth     int
}

// VocabConfig controls enabled speech phrase sets and dedupe limits.
type VocabConfig struct {
	GlobalSets []string
	Sets       map[string]VocabSet
	MaxPhrases int
}

// VocabSet is one named phrase group with a shared boost value.
type VocabSet struct {
	Name    string
	Boost   float64
	Phrases []string
}

// DebugConfig controls optional debug artifact output.
type DebugConfig struct {
	EnableAudioDump bool
	EnableGRPCDump  bool
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}

// SpeechPhrase is the normalized phrase payload sent to recognisers.
type SpeechPhrase struct {
	Phrase string
	Boost  float32
}
