package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nathan-Asif/AegisMedix/capture"
	"github.com/Nathan-Asif/AegisMedix/config"
	"github.com/Nathan-Asif/AegisMedix/events"
	"github.com/Nathan-Asif/AegisMedix/playback"
	"github.com/Nathan-Asif/AegisMedix/summary"
	"github.com/Nathan-Asif/AegisMedix/transport"
)

func newTestRunCmd(t *testing.T) *cobra.Command {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	cmd := &cobra.Command{Use: "run"}
	cmd.Flags().String("config", "", "")
	addRunFlags(cmd.Flags())
	return cmd
}

func TestLoadRunConfig_RequiresSubject(t *testing.T) {
	cmd := newTestRunCmd(t)
	_, err := loadRunConfig(cmd, viper.New())
	assert.ErrorContains(t, err, "subject ID is required")
}

func TestLoadRunConfig_Precedence(t *testing.T) {
	cmd := newTestRunCmd(t)
	t.Setenv("AEGIS_SUBJECT_ID", "from-env")
	t.Setenv("AEGIS_TRANSPORT_ENDPOINT", "ws://env.example:9000/ws/live-session")
	require.NoError(t, os.WriteFile("aegislive.yaml", []byte("capture:\n  video:\n    enabled: false\nplayback:\n  debounce: 200ms\n"), 0o600))

	require.NoError(t, cmd.Flags().Set("subject", "patient-7"))
	require.NoError(t, cmd.Flags().Set("video", "true"))

	cfg, err := loadRunConfig(cmd, viper.New())
	require.NoError(t, err)
	assert.Equal(t, "patient-7", cfg.SubjectID)
	assert.Equal(t, "ws://env.example:9000/ws/live-session", cfg.Transport.Endpoint)
	assert.True(t, cfg.Capture.Video.Enabled)
	assert.Equal(t, 200*time.Millisecond, cfg.Playback.Debounce)
}

func TestLoadRunConfig_ExplicitFile(t *testing.T) {
	cmd := newTestRunCmd(t)
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("subject_id: from-file\n"), 0o600))
	require.NoError(t, cmd.Flags().Set("config", path))

	cfg, err := loadRunConfig(cmd, viper.New())
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.SubjectID)

	require.NoError(t, cmd.Flags().Set("config", filepath.Join(t.TempDir(), "missing.yaml")))
	_, err = loadRunConfig(cmd, viper.New())
	assert.Error(t, err)
}

func TestSessionConfig(t *testing.T) {
	cfg := config.Default()
	cfg.SubjectID = "p-1"
	cfg.Audio.GateThreshold = 0.05
	cfg.Playback.Debounce = 90 * time.Millisecond
	cfg.Capture.Video.Enabled = true

	sc := sessionConfig(cfg)
	assert.Equal(t, "p-1", sc.SubjectID)
	assert.InDelta(t, 0.05, sc.GateThreshold, 1e-9)
	assert.Equal(t, 90*time.Millisecond, sc.Playback.Debounce)
	assert.Equal(t, playback.DefaultSampleRate, sc.Playback.SampleRate)
	assert.True(t, sc.Capture.Video.Enabled)
}

func TestConsole_RendersSession(t *testing.T) {
	var out bytes.Buffer
	c := newConsole(&out)
	hr, spo2 := 68.0, 97.0

	c.header("patient-1", true)
	c.OnEvent(&events.Event{Data: events.PhaseChangedData{From: "connected", To: "listening"}})
	c.OnEvent(&events.Event{Data: events.TextReceivedData{Content: "How did you sleep?"}})
	c.OnEvent(&events.Event{Data: events.SummaryReceivedData{Summary: &transport.Summary{
		Summary:     "Patient reports better sleep.",
		Insights:    "Continue current plan.",
		Vitals:      &transport.Vitals{HeartRate: &hr, SpO2Level: &spo2},
		Medications: []transport.Medication{{Name: "Metoprolol", Status: "taken"}},
	}}})
	c.OnEvent(&events.Event{Data: events.SessionEndedData{Phase: "ended", Reason: "user", Duration: 95 * time.Second}})

	text := out.String()
	for _, want := range []string{
		"patient-1", "voice + video", "listening", "How did you sleep?",
		"Patient reports better sleep.", "Continue current plan.", "heart rate 68 bpm", "SpO2 97%",
		"Metoprolol (taken)", "Session ended after 1m35s (user)",
	} {
		assert.Contains(t, text, want)
	}
}

func TestConsole_Fallback(t *testing.T) {
	var out bytes.Buffer
	c := newConsole(&out)

	c.OnEvent(&events.Event{Data: events.SessionEndedData{Phase: "ended", Reason: "transport_closed", NeedsSummaryFallback: true}})
	assert.Contains(t, out.String(), "waiting for the saved summary")

	c.OnFallback(summary.Result{Record: &summary.Record{Summary: "Saved summary.", AIInsights: "Hydrate."}})
	assert.Contains(t, out.String(), "Saved summary.")
	assert.Contains(t, out.String(), "Hydrate.")

	c.OnFallback(summary.Result{Err: summary.ErrNotAvailable})
	assert.Contains(t, out.String(), "Summary not available")

	c.OnEvent(&events.Event{Data: events.SessionEndedData{Phase: "error", Reason: "device_error", Err: errors.New("mic gone")}})
	assert.Contains(t, out.String(), "mic gone")
}

func TestPrintDevices(t *testing.T) {
	var out bytes.Buffer
	printDevices(&out,
		[]capture.InputInfo{{Name: "Built-in Mic", MaxInputChannels: 1, IsDefault: true}},
		[]playback.DeviceInfo{
			{Name: "Speakers", MaxOutputChannels: 2, IsDefault: true},
			{Name: "Jabra Hands-Free", MaxOutputChannels: 1},
		})
	text := out.String()
	assert.Contains(t, text, "Built-in Mic (default)")
	assert.Contains(t, text, "Speakers (default)")
	assert.Contains(t, text, "Speech plays on:")
	assert.Contains(t, text, "Jabra Hands-Free")

	out.Reset()
	printDevices(&out, nil, nil)
	assert.Contains(t, out.String(), "No output device available")
}

func TestConfigInitCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aegislive.yaml")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"config", "init", path})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "Wrote "+path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "endpoint: "+config.DefaultEndpoint))

	rootCmd.SetArgs([]string{"config", "init", path})
	assert.Error(t, rootCmd.Execute())
}

func TestVersionInfo(t *testing.T) {
	assert.True(t, strings.HasPrefix(versionInfo(), "aegislive version "))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "aegislive version")
}
