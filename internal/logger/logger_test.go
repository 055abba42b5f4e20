package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestResolveLogFilePathDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	oldWD, err := os.Getwd()
	if err != nil {
		t.Fatalf("get wd failed: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(oldWD)
	})
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}

	got, err := resolveLogFilePath(Options{})
	if err != nil {
		t.Fatalf("resolve default log path failed: %v", err)
	}
	if filepath.Base(got) != defaultLogFilename {
		t.Fatalf("unexpected log filename: %s", filepath.Base(got))
	}
	if filepath.Base(filepath.Dir(got)) != defaultLogDirName {
		t.Fatalf("unexpected log dir: %s", filepath.Dir(got))
	}
	if _, err := os.Stat(got); err != nil {
		t.Fatalf("expected log file to be created: %v", err)
	}
}

func TestReleaseModeWritesJSONWithServiceField(t *testing.T) {
	tmpDir := t.TempDir()
	log := New("release", Options{Dir: tmpDir, Filename: "release.log"})
	log.Info("payout_transition_applied")
	_ = log.Sync()

	content, err := os.ReadFile(filepath.Join(tmpDir, "release.log"))
	if err != nil {
		t.Fatalf("read release log failed: %v", err)
	}
	text := string(content)
	if !strings.Contains(text, "payout_transition_applied") {
		t.Fatalf("expected message in log, got=%s", text)
	}
	if !strings.Contains(text, `"service":"affiliflow"`) {
		t.Fatalf("expected service field in log, got=%s", text)
	}
}

func TestDebugModeDoesNotWriteFile(t *testing.T) {
	tmpDir := t.TempDir()
	log := New("debug", Options{Dir: tmpDir, Filename: "debug.log"})
	log.Info("debug-log-test")
	_ = log.Sync()

	if _, err := os.Stat(filepath.Join(tmpDir, "debug.log")); !os.IsNotExist(err) {
		t.Fatalf("debug mode should not create log file")
	}
}

func TestResolveLevel(t *testing.T) {
	cases := []struct {
		raw   string
		debug bool
		want  zapcore.Level
	}{
		{"", false, zapcore.InfoLevel},
		{"", true, zapcore.DebugLevel},
		{"warn", false, zapcore.WarnLevel},
		{"bogus", false, zapcore.InfoLevel},
	}
	for _, tc := range cases {
		if got := resolveLevel(tc.raw, tc.debug).Level(); got != tc.want {
			t.Fatalf("resolveLevel(%q, %v) want %s got %s", tc.raw, tc.debug, tc.want, got)
		}
	}
}
