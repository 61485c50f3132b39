package utils

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/viper"
)

func TestConfigureDefaultLogger_WritesJSONToLogFile(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	logFile := filepath.Join(t.TempDir(), "meshroom.log")
	logFilePointer, err := ConfigureDefaultLogger("warn", logFile, slog.HandlerOptions{})
	if err != nil {
		t.Fatalf("configure: %v", err)
	}
	if logFilePointer == nil {
		t.Fatalf("no file returned for a log file")
	}

	slog.Info("below level")
	slog.Warn("at level", "peer", "user-a")
	logFilePointer.Close()

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one record, got %q", data)
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
		t.Fatalf("record is not JSON: %v", err)
	}
	if record["msg"] != "at level" || record["peer"] != "user-a" {
		t.Errorf("unexpected record %v", record)
	}
}

func TestConfigureDefaultLogger_LevelNames(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	for _, level := range []string{"none", "error", "warn", "info", "debug"} {
		f, err := ConfigureDefaultLogger(level, "", slog.HandlerOptions{})
		if err != nil || f != nil {
			t.Errorf("level %s: file %v, err %v", level, f, err)
		}
	}
	if _, err := ConfigureDefaultLogger("loud", "", slog.HandlerOptions{}); err == nil {
		t.Errorf("accepted an unknown level")
	}
}

func TestGetUserAuthorizedCodecs(t *testing.T) {
	codecs, err := GetUserAuthorizedCodecs([]string{"CodecPCMU8000Mono", "CodecOpus48000Stereo"})
	if err != nil {
		t.Fatalf("get codecs: %v", err)
	}
	if codecs[0].MimeType != webrtc.MimeTypePCMU || codecs[1].Channels != 2 {
		t.Errorf("unexpected codecs %+v", codecs)
	}

	if _, err := GetUserAuthorizedCodecs(nil); err == nil {
		t.Errorf("accepted no codecs")
	}
	if _, err := GetUserAuthorizedCodecs([]string{"CodecMP3"}); err == nil {
		t.Errorf("accepted an unknown codec")
	}
}

func TestSetViperDefaults_CodecsAreKnown(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetViperDefaults()

	if _, err := GetUserAuthorizedCodecs(viper.GetStringSlice("codecs")); err != nil {
		t.Errorf("default codecs: %v", err)
	}
	if len(viper.GetStringSlice("ICEServers")) == 0 {
		t.Errorf("no default ICE servers")
	}
	if _, err := ParseLogLevel(viper.GetString("loglevel")); err != nil {
		t.Errorf("default log level: %v", err)
	}
}
