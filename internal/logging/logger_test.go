package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitializeRequiresWorkspace(t *testing.T) {
	if err := Initialize("", Options{}); err == nil {
		t.Fatal("expected error for empty workspace")
	}
}

func TestDisabledLoggingIsNoOp(t *testing.T) {
	ws := t.TempDir()
	if err := Initialize(ws, Options{DebugMode: false}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer CloseAll()

	Classify("this should not be written")

	if _, err := os.Stat(filepath.Join(ws, ".stacksbot", "logs")); !os.IsNotExist(err) {
		t.Error("logs directory should not exist in production mode")
	}
}

func TestCategoryFileWritten(t *testing.T) {
	ws := t.TempDir()
	if err := Initialize(ws, Options{DebugMode: true, Level: "debug"}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer CloseAll()

	Routing("decision made: %s", "library_hours_rooms")
	CloseAll()

	entries, err := os.ReadDir(filepath.Join(ws, ".stacksbot", "logs"))
	if err != nil {
		t.Fatalf("reading logs dir: %v", err)
	}
	var found bool
	for _, e := range entries {
		if strings.Contains(e.Name(), "routing") {
			found = true
			data, _ := os.ReadFile(filepath.Join(ws, ".stacksbot", "logs", e.Name()))
			if !strings.Contains(string(data), "library_hours_rooms") {
				t.Error("routing log missing expected message")
			}
		}
	}
	if !found {
		t.Error("no routing log file created")
	}
}

func TestCategoryFilter(t *testing.T) {
	ws := t.TempDir()
	err := Initialize(ws, Options{
		DebugMode:  true,
		Level:      "debug",
		Categories: map[string]bool{"arbiter": false},
	})
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer CloseAll()

	if IsCategoryEnabled(CategoryArbiter) {
		t.Error("arbiter category should be disabled")
	}
	if !IsCategoryEnabled(CategoryRouting) {
		t.Error("unlisted categories should default to enabled")
	}
}

func TestTimerStop(t *testing.T) {
	ws := t.TempDir()
	if err := Initialize(ws, Options{DebugMode: true, Level: "debug"}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer CloseAll()

	timer := StartTimer(CategoryClassify, "test-op")
	if d := timer.Stop(); d < 0 {
		t.Errorf("negative duration: %v", d)
	}
}

func TestTimerStopWithThresholdLogsSlowOps(t *testing.T) {
	ws := t.TempDir()
	if err := Initialize(ws, Options{DebugMode: true, Level: "debug"}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer CloseAll()

	// Zero threshold forces the slow-operation path.
	timer := StartTimer(CategoryClassify, "slow-op")
	timer.StopWithThreshold(0)
	CloseAll()

	data := readCategoryLog(t, ws, "performance")
	if !strings.Contains(data, "SLOW") || !strings.Contains(data, "slow-op") {
		t.Errorf("performance log missing slow operation entry: %q", data)
	}
}

func TestRequestLoggerCarriesRequestID(t *testing.T) {
	ws := t.TempDir()
	if err := Initialize(ws, Options{DebugMode: true, Level: "debug"}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer CloseAll()

	rlog := WithRequestID(CategorySession, "req-42").WithField("choice", "choice_1")
	rlog.Info("turn resolved")
	CloseAll()

	data := readCategoryLog(t, ws, "session")
	if !strings.Contains(data, "req=req-42") {
		t.Errorf("session log missing request id: %q", data)
	}
	if !strings.Contains(data, "choice_1") {
		t.Errorf("session log missing attached field: %q", data)
	}
}

func TestStructuredLogWritesJSONFields(t *testing.T) {
	ws := t.TempDir()
	if err := Initialize(ws, Options{DebugMode: true, Level: "debug", JSONFormat: true}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer CloseAll()

	Get(CategoryRouting).StructuredLog("info", "resolved", map[string]interface{}{
		"category": "library_account",
		"agent":    "circulation",
	})
	CloseAll()

	data := readCategoryLog(t, ws, "routing")
	if !strings.Contains(data, `"msg":"resolved"`) {
		t.Errorf("routing log missing structured message: %q", data)
	}
	if !strings.Contains(data, `"category":"library_account"`) {
		t.Errorf("routing log missing structured field: %q", data)
	}
}

// readCategoryLog returns the contents of the category's log file.
func readCategoryLog(t *testing.T, ws, category string) string {
	t.Helper()
	dir := filepath.Join(ws, ".stacksbot", "logs")
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading logs dir: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), category) {
			data, err := os.ReadFile(filepath.Join(dir, e.Name()))
			if err != nil {
				t.Fatalf("reading log file: %v", err)
			}
			return string(data)
		}
	}
	t.Fatalf("no %s log file created", category)
	return ""
}
