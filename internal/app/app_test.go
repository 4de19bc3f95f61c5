package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"gaswatch/internal/config"
	"gaswatch/internal/storage"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.App.Timezone = "UTC"
	cfg.History.Path = filepath.Join(t.TempDir(), "gas-history.json")
	cfg.History.Retention = 7 * 24 * time.Hour
	cfg.History.DailyWindow = 24 * time.Hour
	cfg.Scheduler.Interval = 20 * time.Minute
	cfg.Export.MaxDataPoints = 5000
	cfg.Telegram.Timeout = time.Second
	return cfg
}

func newTestApp(cfg *config.Config) (*App, *bytes.Buffer) {
	var out bytes.Buffer
	a := NewApp(cfg, zerolog.Nop())
	a.Out = &out
	return a, &out
}

func seedHistory(t *testing.T, path string, entries map[time.Duration]string) {
	t.Helper()
	now := time.Now()
	var history storage.History
	for _, offset := range []time.Duration{30 * time.Hour, 2 * time.Hour, time.Hour} {
		if v, ok := entries[offset]; ok {
			history = append(history, storage.NewSample(now.Add(-offset), decimal.RequireFromString(v)))
		}
	}
	if err := storage.NewFileStore(path).Save(context.Background(), history); err != nil {
		t.Fatalf("seed history: %v", err)
	}
}

func TestShowPrintsRecentSamplesAndExtrema(t *testing.T) {
	cfg := testConfig(t)
	seedHistory(t, cfg.History.Path, map[time.Duration]string{30 * time.Hour: "1.5", 2 * time.Hour: "3", time.Hour: "2.5"})
	a, out := newTestApp(cfg)

	if err := a.Show(context.Background(), ShowOptions{Limit: 2}); err != nil {
		t.Fatalf("show: %v", err)
	}

	text := out.String()
	if strings.Count(text, " UTC") != 2 {
		t.Fatalf("expected two rows:\n%s", text)
	}
	if strings.Contains(text, "1.500") {
		t.Fatalf("limit should hide the oldest sample:\n%s", text)
	}
	if strings.Index(text, "2.500") > strings.Index(text, "3.000") {
		t.Fatalf("newest sample should be listed first:\n%s", text)
	}
	for _, want := range []string{
		"7d: low 1.5 gwei, high 3 gwei (3 samples)",
		"24h: low 2.5 gwei, high 3 gwei (2 samples)",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("missing %q:\n%s", want, text)
		}
	}
}

func TestShowEmptyHistory(t *testing.T) {
	a, out := newTestApp(testConfig(t))
	if err := a.Show(context.Background(), ShowOptions{Limit: 5}); err != nil {
		t.Fatalf("show: %v", err)
	}
	if strings.TrimSpace(out.String()) != "no samples found" {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestExportRequiresTarget(t *testing.T) {
	a, _ := newTestApp(testConfig(t))
	if err := a.Export(context.Background(), ExportOptions{}); err == nil {
		t.Fatal("export without --csv/--png should fail")
	}
}

func TestExportRejectsInvertedWindow(t *testing.T) {
	a, _ := newTestApp(testConfig(t))
	from := time.Now()
	to := from.Add(-time.Hour)
	if err := a.Export(context.Background(), ExportOptions{CSVPath: "x.csv", From: &from, To: &to}); err == nil {
		t.Fatal("from after to should fail")
	}
}

func TestExportWritesCSV(t *testing.T) {
	cfg := testConfig(t)
	seedHistory(t, cfg.History.Path, map[time.Duration]string{30 * time.Hour: "1.5", 2 * time.Hour: "3", time.Hour: "2.5"})
	a, _ := newTestApp(cfg)

	csvPath := filepath.Join(t.TempDir(), "out", "gas.csv")
	if err := a.Export(context.Background(), ExportOptions{CSVPath: csvPath}); err != nil {
		t.Fatalf("export: %v", err)
	}

	data, err := os.ReadFile(csvPath)
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 4 || lines[0] != "time,gwei" {
		t.Fatalf("unexpected csv:\n%s", data)
	}
	if !strings.HasSuffix(lines[1], ",1.5") || !strings.HasSuffix(lines[3], ",2.5") {
		t.Fatalf("unexpected rows:\n%s", data)
	}
}

func TestExportDownsamplesKeepsEndpoints(t *testing.T) {
	cfg := testConfig(t)
	seedHistory(t, cfg.History.Path, map[time.Duration]string{30 * time.Hour: "1.5", 2 * time.Hour: "3", time.Hour: "2.5"})
	a, _ := newTestApp(cfg)

	csvPath := filepath.Join(t.TempDir(), "gas.csv")
	if err := a.Export(context.Background(), ExportOptions{CSVPath: csvPath, MaxPoints: 2}); err != nil {
		t.Fatalf("export: %v", err)
	}
	data, _ := os.ReadFile(csvPath)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 || !strings.HasSuffix(lines[1], ",1.5") || !strings.HasSuffix(lines[2], ",2.5") {
		t.Fatalf("downsample should keep first and last:\n%s", data)
	}
}

func TestExportWritesPNG(t *testing.T) {
	cfg := testConfig(t)
	seedHistory(t, cfg.History.Path, map[time.Duration]string{2 * time.Hour: "3", time.Hour: "2.5"})
	a, _ := newTestApp(cfg)

	pngPath := filepath.Join(t.TempDir(), "gas.png")
	if err := a.Export(context.Background(), ExportOptions{PNGPath: pngPath}); err != nil {
		t.Fatalf("export: %v", err)
	}
	data, err := os.ReadFile(pngPath)
	if err != nil {
		t.Fatalf("read png: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("\x89PNG")) {
		t.Fatal("output is not a PNG")
	}
}

type telegramCapture struct {
	mu    sync.Mutex
	texts []string
}

func (c *telegramCapture) server(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("解析请求体失败: %v", err)
		}
		c.mu.Lock()
		c.texts = append(c.texts, payload["text"])
		c.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (c *telegramCapture) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.texts...)
}

func TestSimulateBreachSendsAlertWithoutPersisting(t *testing.T) {
	capture := &telegramCapture{}
	srv := capture.server(t)

	cfg := testConfig(t)
	cfg.Telegram.BotToken = "token"
	cfg.Telegram.ChatID = "chat"
	cfg.Telegram.APIBase = srv.URL
	seedHistory(t, cfg.History.Path, map[time.Duration]string{2 * time.Hour: "3", time.Hour: "4"})
	before, _ := os.ReadFile(cfg.History.Path)

	a, out := newTestApp(cfg)
	if err := a.SimulateBreach(context.Background(), decimal.RequireFromString("2.5")); err != nil {
		t.Fatalf("simulate: %v", err)
	}

	sent := capture.sent()
	if len(sent) != 1 || !strings.HasPrefix(sent[0], "📉 New 7d Low: 2.5 gwei") {
		t.Fatalf("unexpected alerts %q", sent)
	}
	if !strings.Contains(out.String(), "alert sent") {
		t.Fatalf("unexpected output %q", out.String())
	}
	after, _ := os.ReadFile(cfg.History.Path)
	if !bytes.Equal(before, after) {
		t.Fatal("simulate must not modify history")
	}
}

func TestSimulateBreachWithinRangeSendsNothing(t *testing.T) {
	capture := &telegramCapture{}
	srv := capture.server(t)

	cfg := testConfig(t)
	cfg.Telegram.BotToken = "token"
	cfg.Telegram.ChatID = "chat"
	cfg.Telegram.APIBase = srv.URL
	seedHistory(t, cfg.History.Path, map[time.Duration]string{2 * time.Hour: "3", time.Hour: "4"})

	a, out := newTestApp(cfg)
	if err := a.SimulateBreach(context.Background(), decimal.RequireFromString("3.5")); err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if len(capture.sent()) != 0 {
		t.Fatalf("no alert expected, got %q", capture.sent())
	}
	if !strings.Contains(out.String(), "no alert") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestSimulateBreachRequiresTelegram(t *testing.T) {
	a, _ := newTestApp(testConfig(t))
	if err := a.SimulateBreach(context.Background(), decimal.RequireFromString("1")); err == nil {
		t.Fatal("missing telegram config should fail")
	}
}

func TestRunRequiresRuntimeConfig(t *testing.T) {
	a, _ := newTestApp(testConfig(t))
	if err := a.Run(context.Background()); err == nil {
		t.Fatal("run without bot token should fail")
	}
}

func TestReadOnlyCommandsDoNotCreateHistory(t *testing.T) {
	capture := &telegramCapture{}
	srv := capture.server(t)

	cfg := testConfig(t)
	cfg.Telegram.BotToken = "token"
	cfg.Telegram.ChatID = "chat"
	cfg.Telegram.APIBase = srv.URL
	a, _ := newTestApp(cfg)
	ctx := context.Background()

	if err := a.Show(ctx, ShowOptions{Limit: 5}); err != nil {
		t.Fatalf("show: %v", err)
	}
	if err := a.Export(ctx, ExportOptions{CSVPath: filepath.Join(t.TempDir(), "gas.csv")}); err != nil {
		t.Fatalf("export: %v", err)
	}
	if err := a.SimulateBreach(ctx, decimal.RequireFromString("2")); err != nil {
		t.Fatalf("simulate: %v", err)
	}

	if _, err := os.Stat(cfg.History.Path); !os.IsNotExist(err) {
		t.Fatalf("history file must not be created by read-only commands, stat err=%v", err)
	}
	if len(capture.sent()) != 0 {
		t.Fatalf("empty history must not alert, got %q", capture.sent())
	}
}
