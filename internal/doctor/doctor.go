// Package doctor runs readiness diagnostics for config, audio, the debate
// server, and speech recognition.
package doctor

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rbright/rebuttal/internal/audio"
	"github.com/rbright/rebuttal/internal/config"
	"github.com/rbright/rebuttal/internal/version"
)

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(ctx context.Context, cfg config.Loaded) Report {
	checks := []Check{}

	configMessage := fmt.Sprintf("loaded %q", cfg.Path)
	if !cfg.Exists {
		configMessage = fmt.Sprintf("using defaults (%q not found)", cfg.Path)
	}
	checks = append(checks, Check{Name: "config", Pass: true, Message: configMessage})

	checks = append(checks, checkEnv("XDG_RUNTIME_DIR", func(v string) bool {
		return strings.TrimSpace(v) != ""
	}, "runtime dir available for session control", "XDG_RUNTIME_DIR is empty; toggle/pause/resume cannot reach the session"))

	serverURL, urlCheck := checkServerURL(cfg.Config)
	checks = append(checks, urlCheck)
	if serverURL != nil {
		timeout := time.Duration(cfg.Config.Server.DialTimeoutMS) * time.Millisecond
		checks = append(checks, checkServerReachable(ctx, serverURL, &http.Client{Timeout: timeout}))
	}

	checks = append(checks, checkAudioSelection(ctx, cfg.Config))
	checks = append(checks, checkRecognizer(cfg.Config))

	return Report{Checks: checks}
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	value := os.Getenv(name)
	if predicate(value) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

// checkServerURL parses server.url and requires a ws or wss scheme.
func checkServerURL(cfg config.Config) (*url.URL, Check) {
	raw := strings.TrimSpace(cfg.Server.URL)
	if raw == "" {
		return nil, Check{Name: "server.url", Pass: false, Message: "server.url is empty"}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, Check{Name: "server.url", Pass: false, Message: fmt.Sprintf("invalid URL: %v", err)}
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, Check{Name: "server.url", Pass: false, Message: fmt.Sprintf("scheme %q is not ws or wss", u.Scheme)}
	}
	if u.Host == "" {
		return nil, Check{Name: "server.url", Pass: false, Message: "host is empty"}
	}
	return u, Check{Name: "server.url", Pass: true, Message: raw}
}

// checkServerReachable probes the HTTP root of the debate server host. Any
// non-5xx answer means the host is up.
func checkServerReachable(ctx context.Context, serverURL *url.URL, client *http.Client) Check {
	root := url.URL{Scheme: "http", Host: serverURL.Host, Path: "/"}
	if serverURL.Scheme == "wss" {
		root.Scheme = "https"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, root.String(), nil)
	if err != nil {
		return Check{Name: "server.reachable", Pass: false, Message: err.Error()}
	}
	req.Header.Set("User-Agent", version.UserAgent())
	resp, err := client.Do(req)
	if err != nil {
		return Check{Name: "server.reachable", Pass: false, Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return Check{Name: "server.reachable", Pass: false, Message: fmt.Sprintf("HTTP %d from %s", resp.StatusCode, root.String())}
	}
	return Check{Name: "server.reachable", Pass: true, Message: fmt.Sprintf("HTTP %d from %s", resp.StatusCode, root.String())}
}

// checkAudioSelection runs live device selection to surface selection/fallback issues.
func checkAudioSelection(ctx context.Context, cfg config.Config) Check {
	selection, err := audio.SelectDevice(ctx, cfg.Audio.Input, cfg.Audio.Fallback)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

// checkRecognizer verifies the selected provider has what it needs to start.
func checkRecognizer(cfg config.Config) Check {
	asr := cfg.ASR
	switch asr.Provider {
	case config.ProviderGoogle:
		if asr.Insecure {
			if strings.TrimSpace(asr.Endpoint) == "" {
				return Check{Name: "asr", Pass: false, Message: "google: asr.insecure requires asr.endpoint"}
			}
			return Check{Name: "asr", Pass: true, Message: fmt.Sprintf("google via %s (plaintext)", asr.Endpoint)}
		}
		path := strings.TrimSpace(asr.CredentialsFile)
		if path == "" {
			return Check{Name: "asr", Pass: true, Message: "google with application default credentials"}
		}
		if _, err := os.Stat(path); err != nil {
			return Check{Name: "asr", Pass: false, Message: fmt.Sprintf("google credentials file: %v", err)}
		}
		return Check{Name: "asr", Pass: true, Message: fmt.Sprintf("google with credentials %q", path)}
	case config.ProviderDeepgram:
		if strings.TrimSpace(asr.APIKey) == "" {
			return Check{Name: "asr", Pass: false, Message: "deepgram: asr.api_key or " + config.EnvDeepgramAPIKey + " is empty"}
		}
		return Check{Name: "asr", Pass: true, Message: "deepgram api key configured"}
	default:
		return Check{Name: "asr", Pass: false, Message: "asr.provider is none; recording is disabled"}
	}
}
