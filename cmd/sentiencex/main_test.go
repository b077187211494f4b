package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/stellarlinkco/sentiencex/internal/config"
	"github.com/stellarlinkco/sentiencex/internal/gateway"
	"github.com/stellarlinkco/sentiencex/internal/governor"
	"github.com/stellarlinkco/sentiencex/internal/memory"
)

type idleSampler struct{}

func (idleSampler) Sample(context.Context) (governor.Snapshot, error) {
	return governor.Snapshot{CPUPercent: 5, MemPercent: 20, RSSMB: 40, At: time.Now()}, nil
}

func testGatewayFactory(cfg *config.Config, logger *zap.Logger) (*gateway.Gateway, error) {
	return gateway.NewWithOptions(cfg, gateway.Options{Logger: logger, Sampler: idleSampler{}})
}

// setupHome points config and data at a temp dir and resets the flags.
func setupHome(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv(config.HomeEnv, tmpDir)
	t.Setenv("SENTIENCEX_DATA_DIR", filepath.Join(tmpDir, "data"))
	t.Chdir(tmpDir)

	messageFlag, adminFlag, diagFlag = "", false, false
	ratingFlag, templateFlag, toneFlag, noteFlag = 0, "", "", ""
	t.Cleanup(func() {
		messageFlag, adminFlag, diagFlag = "", false, false
		ratingFlag, templateFlag, toneFlag, noteFlag = 0, "", "", ""
	})
	return tmpDir
}

func testOptions(stdin string) (CommandOptions, *bytes.Buffer, *bytes.Buffer) {
	var stdout, stderr bytes.Buffer
	return CommandOptions{
		GatewayFactory: testGatewayFactory,
		Logger:         zap.NewNop(),
		Stdin:          strings.NewReader(stdin),
		Stdout:         &stdout,
		Stderr:         &stderr,
	}, &stdout, &stderr
}

func onboard(t *testing.T) {
	t.Helper()
	opts, _, _ := testOptions("")
	if err := runOnboardWithOptions(opts); err != nil {
		t.Fatalf("onboard error: %v", err)
	}
}

func TestInit(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"chat", "serve", "feedback", "status", "compact", "resolve", "onboard"} {
		if !names[want] {
			t.Errorf("missing command %q", want)
		}
	}
	if chatCmd.Flags().Lookup("message") == nil {
		t.Error("message flag should exist")
	}
	if feedbackCmd.Flags().Lookup("rating") == nil {
		t.Error("rating flag should exist")
	}
	if rootCmd.PersistentFlags().Lookup("admin") == nil {
		t.Error("admin flag should exist")
	}
}

func TestRunOnboard(t *testing.T) {
	tmpDir := setupHome(t)
	opts, stdout, _ := testOptions("")

	if err := runOnboardWithOptions(opts); err != nil {
		t.Fatalf("runOnboard error: %v", err)
	}

	if _, err := os.Stat(filepath.Join(tmpDir, config.ConfigFile)); err != nil {
		t.Errorf("config file was not created: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "data", "artifacts")); err != nil {
		t.Errorf("artifacts were not seeded: %v", err)
	}
	out := stdout.String()
	if !strings.Contains(out, "Created config") || !strings.Contains(out, "Next steps") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestRunOnboard_AlreadyExists(t *testing.T) {
	onboardDir := setupHome(t)
	onboard(t)

	opts, stdout, _ := testOptions("")
	if err := runOnboardWithOptions(opts); err != nil {
		t.Fatalf("runOnboard error: %v", err)
	}
	if !strings.Contains(stdout.String(), "Config already exists") {
		t.Errorf("expected 'Config already exists', got: %s", stdout.String())
	}
	if strings.Contains(stdout.String(), "Created: "+onboardDir) {
		t.Errorf("artifacts should not be rewritten: %s", stdout.String())
	}
}

func TestRunChat_SingleMessage(t *testing.T) {
	setupHome(t)
	onboard(t)
	messageFlag = "hello there"

	opts, stdout, _ := testOptions("")
	if err := runChatWithOptions(opts); err != nil {
		t.Fatalf("runChat error: %v", err)
	}
	if strings.TrimSpace(stdout.String()) == "" {
		t.Fatal("expected a reply")
	}

	data, err := os.ReadFile(filepath.Join(os.Getenv("SENTIENCEX_DATA_DIR"), memory.TurnsFile))
	if err != nil {
		t.Fatalf("conversation log: %v", err)
	}
	if !strings.Contains(string(data), "hello there") {
		t.Errorf("turn not persisted: %s", data)
	}
}

func TestRunChat_SingleMessageDiagnostics(t *testing.T) {
	setupHome(t)
	onboard(t)
	messageFlag = "ok"
	diagFlag = true

	opts, stdout, _ := testOptions("")
	if err := runChatWithOptions(opts); err != nil {
		t.Fatalf("runChat error: %v", err)
	}
	out := stdout.String()
	if !strings.Contains(out, `"template_id"`) || !strings.Contains(out, `"diagnostics"`) {
		t.Errorf("diagnostics missing: %s", out)
	}
}

func TestRunChat_SingleMessageEmpty(t *testing.T) {
	setupHome(t)
	onboard(t)
	messageFlag = "   "

	opts, _, _ := testOptions("")
	if err := runChatWithOptions(opts); err == nil {
		t.Fatal("expected error for blank message")
	}
}

func TestRunChat_REPL(t *testing.T) {
	setupHome(t)
	onboard(t)

	opts, stdout, stderr := testOptions("hi\n\n/good\ni feel tired today\nexit\nnever sent\n")
	if err := runChatWithOptions(opts); err != nil {
		t.Fatalf("runChat error: %v", err)
	}
	out := stdout.String()
	if !strings.Contains(out, "Thanks, noted.") {
		t.Errorf("rating not acknowledged: %s", out)
	}
	if strings.Count(out, "\n> ") != 5 {
		t.Errorf("prompts = %d, want 5; output: %s", strings.Count(out, "\n> "), out)
	}
	if stderr.Len() != 0 {
		t.Errorf("stderr = %s", stderr.String())
	}
}

func TestRunChat_REPLEOF(t *testing.T) {
	setupHome(t)
	onboard(t)

	opts, stdout, _ := testOptions("hello")
	if err := runChatWithOptions(opts); err != nil {
		t.Fatalf("runChat error: %v", err)
	}
	if !strings.Contains(stdout.String(), "sentiencex chat") {
		t.Errorf("banner missing: %s", stdout.String())
	}
}

func TestReplRating(t *testing.T) {
	tests := []struct {
		in     string
		rating int
		ok     bool
	}{
		{"/good", 1, true},
		{"/+1", 1, true},
		{"/meh", 0, true},
		{"/bad", -1, true},
		{"/-1", -1, true},
		{"good", 0, false},
		{"/great", 0, false},
	}
	for _, tt := range tests {
		rating, ok := replRating(tt.in)
		if rating != tt.rating || ok != tt.ok {
			t.Errorf("replRating(%q) = %d, %v; want %d, %v", tt.in, rating, ok, tt.rating, tt.ok)
		}
	}
}

func TestRunFeedback(t *testing.T) {
	setupHome(t)
	onboard(t)
	ratingFlag = 1
	templateFlag = "empathy.short.1"
	toneFlag = "empathy"
	noteFlag = "helpful"

	opts, stdout, _ := testOptions("")
	if err := runFeedbackWithOptions(opts); err != nil {
		t.Fatalf("runFeedback error: %v", err)
	}
	if !strings.Contains(stdout.String(), "success=true") {
		t.Errorf("unexpected output: %s", stdout.String())
	}
}

func TestRunFeedback_InvalidRating(t *testing.T) {
	setupHome(t)
	onboard(t)
	ratingFlag = 5

	opts, _, _ := testOptions("")
	if err := runFeedbackWithOptions(opts); err == nil {
		t.Fatal("expected error for out of range rating")
	}
}

func TestRunStatus(t *testing.T) {
	setupHome(t)
	onboard(t)

	opts, stdout, _ := testOptions("")
	if err := runStatusWithOptions(opts); err != nil {
		t.Fatalf("runStatus error: %v", err)
	}
	out := stdout.String()
	for _, want := range []string{"Session:", "Governor:", "Memory: stm=0", "Job compact:", "status=never"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %s", want, out)
		}
	}
}

func TestRunStatus_Admin(t *testing.T) {
	setupHome(t)
	onboard(t)
	adminFlag = true

	opts, stdout, _ := testOptions("")
	if err := runStatusWithOptions(opts); err != nil {
		t.Fatalf("runStatus error: %v", err)
	}
	if !strings.Contains(stdout.String(), "admin=true") {
		t.Errorf("admin not reported: %s", stdout.String())
	}
}

func TestRunStatus_InvalidConfig(t *testing.T) {
	tmpDir := setupHome(t)
	os.WriteFile(filepath.Join(tmpDir, config.ConfigFile), []byte("stm_turns: [oops"), 0644)

	opts, _, _ := testOptions("")
	if err := runStatusWithOptions(opts); err == nil {
		t.Fatal("expected config error")
	}
}

func TestRunCompact(t *testing.T) {
	setupHome(t)
	onboard(t)

	opts, stdout, _ := testOptions("")
	if err := runCompactWithOptions(opts); err != nil {
		t.Fatalf("runCompact error: %v", err)
	}
	if !strings.Contains(stdout.String(), "Memory compacted") {
		t.Errorf("unexpected output: %s", stdout.String())
	}
}

func TestRunResolve_Unknown(t *testing.T) {
	setupHome(t)
	onboard(t)

	opts, stdout, _ := testOptions("")
	if err := runResolveWithOptions(opts, "Work"); err != nil {
		t.Fatalf("runResolve error: %v", err)
	}
	if !strings.Contains(stdout.String(), "No unresolved topic") {
		t.Errorf("unexpected output: %s", stdout.String())
	}
}

func TestStatusOrNever(t *testing.T) {
	if got := statusOrNever(""); got != "never" {
		t.Errorf("statusOrNever(\"\") = %q", got)
	}
	if got := statusOrNever("ok"); got != "ok" {
		t.Errorf("statusOrNever(ok) = %q", got)
	}
}
