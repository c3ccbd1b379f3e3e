package cli

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDefaultsToHelp(t *testing.T) {
	parsed, err := Parse(nil)
	require.NoError(t, err)
	require.True(t, parsed.ShowHelp)
	require.Equal(t, CommandHelp, parsed.Command)
}

func TestParseCommandWithConfig(t *testing.T) {
	parsed, err := Parse([]string{"--config", "/tmp/rebuttal.jsonc", "doctor"})
	require.NoError(t, err)
	require.Equal(t, CommandDoctor, parsed.Command)
	require.Equal(t, "/tmp/rebuttal.jsonc", parsed.ConfigPath)
	require.False(t, parsed.ShowHelp)
}

func TestParseDebateFlags(t *testing.T) {
	parsed, err := Parse([]string{"debate", "--topic", "Ban cars downtown", "--position", "con", "--difficulty", "4"})
	require.NoError(t, err)
	require.Equal(t, CommandDebate, parsed.Command)
	require.Equal(t, DebateFlags{Topic: "Ban cars downtown", Position: "con", Difficulty: "4"}, parsed.Debate)
}

func TestParseSendJoinsText(t *testing.T) {
	parsed, err := Parse([]string{"send", "cars", "built", "cities"})
	require.NoError(t, err)
	require.Equal(t, CommandSend, parsed.Command)
	require.Equal(t, "cars built cities", parsed.Text)
}

func TestParseArgMatrix(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantErr  string
		wantCmd  Command
		wantHelp bool
		wantPath string
	}{
		{
			name:     "help short flag",
			args:     []string{"-h"},
			wantCmd:  CommandHelp,
			wantHelp: true,
		},
		{
			name:     "help long flag",
			args:     []string{"--help"},
			wantCmd:  CommandHelp,
			wantHelp: true,
		},
		{
			name:     "version flag",
			args:     []string{"--version"},
			wantCmd:  CommandVersion,
			wantHelp: false,
		},
		{
			name:    "config after command",
			args:    []string{"status", "--config", "/tmp/cfg"},
			wantErr: "unexpected arguments after command",
		},
		{
			name:    "missing config path",
			args:    []string{"--config"},
			wantErr: "requires a path",
		},
		{
			name:    "unknown flag",
			args:    []string{"--bogus"},
			wantErr: "unknown flag",
		},
		{
			name:    "unknown command",
			args:    []string{"bogus"},
			wantErr: "unknown command",
		},
		{
			name:    "extra args after command",
			args:    []string{"doctor", "extra"},
			wantErr: "unexpected arguments",
		},
		{
			name:    "unknown debate flag",
			args:    []string{"debate", "--side", "pro"},
			wantErr: "unknown debate flag",
		},
		{
			name:    "debate flag without value",
			args:    []string{"debate", "--topic"},
			wantErr: "--topic requires a value",
		},
		{
			name:    "send without text",
			args:    []string{"send", " "},
			wantErr: "send requires text",
		},
		{
			name:     "valid pause command",
			args:     []string{"pause"},
			wantCmd:  CommandPause,
			wantHelp: false,
		},
		{
			name:     "valid turn with config",
			args:     []string{"--config", "/tmp/cfg", "turn"},
			wantCmd:  CommandTurn,
			wantHelp: false,
			wantPath: "/tmp/cfg",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			parsed, err := Parse(tc.args)
			if tc.wantErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.wantErr)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.wantCmd, parsed.Command)
			require.Equal(t, tc.wantHelp, parsed.ShowHelp)
			require.Equal(t, tc.wantPath, parsed.ConfigPath)
		})
	}
}

func TestHelpTextIncludesCoreCommands(t *testing.T) {
	text := HelpText("rebuttal")
	for _, want := range []string{"debate", "toggle", "pause", "resume", "turn", "send", "doctor", "--config PATH"} {
		require.Contains(t, text, want)
	}
}
