package obslog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" WARN ":  zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"bogus":   zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestInitWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "boardcam.log")
	logger, err := Init(Options{Level: "debug", Format: "json", ToFile: true, FilePath: path})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { globalLogger = zap.NewNop() })

	logger.Debug("move detected", zap.String("move", "e2e4"))
	logger.Sync()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(raw), `"move":"e2e4"`) {
		t.Fatalf("log missing field: %s", raw)
	}
	if L() != logger {
		t.Fatalf("global logger not installed")
	}
}

func TestOptionsFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("LOG_TO_FILE", "true")
	t.Setenv("LOG_FILE", "")
	t.Setenv("LOG_TO_CONSOLE", "")
	opts := OptionsFromEnv()
	if opts.Level != "warn" || !opts.ToFile || !opts.Console {
		t.Fatalf("options = %+v", opts)
	}
	if opts.FilePath != filepath.Join("logs", "boardcam.log") {
		t.Fatalf("file path = %q", opts.FilePath)
	}
}
