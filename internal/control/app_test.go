package control

import (
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"affwatch/internal/core/config"
	"affwatch/internal/core/domain"
	"affwatch/internal/source/stream"
)

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		Store: config.StoreConfig{Backend: "memory"},
		Run:   config.RunConfig{QueueSize: 8},
		Fingerprints: config.FingerprintConfig{
			Addresses: map[string][]string{
				"thorchain": {"thor1dl7un46w7l7f3ewrnrm6nq58nerjtp0dradjtd"},
			},
		},
		Sources: []config.SourceConfig{
			{
				Name:     "midgard",
				Protocol: "thorchain",
				URL:      "http://127.0.0.1:0/v2/actions",
				Interval: time.Minute,
			},
		},
	}
}

func TestNewAppOnce(t *testing.T) {
	app, err := NewApp(testConfig(), Options{Once: true})
	if err != nil {
		t.Fatalf("NewApp() error = %v", err)
	}
	defer app.Close()

	if app.healthServer != nil {
		t.Error("once mode should not build a health server")
	}
	if app.pruner != nil {
		t.Error("once mode should not build a pruner")
	}
	if app.sinks.Len() == 0 {
		t.Error("expected a default sink")
	}
}

func TestNewAppDaemonBuildsHealthServer(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Port = 0
	cfg.Run.Retention = 24 * time.Hour

	app, err := NewApp(cfg, Options{})
	if err != nil {
		t.Fatalf("NewApp() error = %v", err)
	}
	defer app.Close()

	if app.healthServer == nil {
		t.Error("daemon mode should build a health server")
	}
	if app.pruner == nil {
		t.Error("retention should build a pruner")
	}
}

func TestNewAppNoSources(t *testing.T) {
	cfg := testConfig()
	cfg.Sources = nil

	if _, err := NewApp(cfg, Options{}); err == nil {
		t.Fatal("expected error for empty source list")
	}
}

func TestNewAppProtocolFilter(t *testing.T) {
	cfg := testConfig()

	// Filtering to a protocol nothing serves leaves no feeds.
	if _, err := NewApp(cfg, Options{Protocols: []string{"cowswap"}}); err == nil {
		t.Fatal("expected error when the filter matches no source")
	}

	app, err := NewApp(cfg, Options{Once: true, Protocols: []string{"THORChain"}})
	if err != nil {
		t.Fatalf("NewApp() error = %v", err)
	}
	app.Close()
}

func TestNewAppUnknownStoreBackend(t *testing.T) {
	cfg := testConfig()
	cfg.Store.Backend = "etcd"

	if _, err := NewApp(cfg, Options{}); err == nil {
		t.Fatal("expected error for unknown store backend")
	}
}

func TestNewAppPostgresSinkRequiresDatabase(t *testing.T) {
	cfg := testConfig()
	cfg.Sinks.Postgres = true

	_, err := NewApp(cfg, Options{})
	if err == nil {
		t.Fatal("expected error for postgres sink without database.url")
	}
	if !strings.Contains(err.Error(), "database.url") {
		t.Errorf("error = %q, want mention of database.url", err)
	}
}

func TestNewAppFileSinks(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.Sinks.CSVPath = filepath.Join(dir, "records.csv")
	cfg.Sinks.JSONLPath = filepath.Join(dir, "records.jsonl")

	app, err := NewApp(cfg, Options{Once: true})
	if err != nil {
		t.Fatalf("NewApp() error = %v", err)
	}
	defer app.Close()

	if got := app.sinks.Len(); got != 2 {
		t.Errorf("sinks = %d, want 2", got)
	}
}

func TestBuildSourceDispatch(t *testing.T) {
	tests := []struct {
		protocol string
		want     domain.Protocol
	}{
		{"thorchain", domain.ProtocolTHORChain},
		{"chainflip", domain.ProtocolChainflip},
		{"cowswap", domain.ProtocolCowSwap},
		{"zerox", domain.ProtocolZeroX},
		{"portals", domain.ProtocolPortals},
		{"relay", domain.ProtocolRelay},
		{"viewblock", domain.ProtocolViewBlock},
	}

	for _, tt := range tests {
		t.Run(tt.protocol, func(t *testing.T) {
			src, err := buildSource(config.SourceConfig{
				Name:     tt.protocol + "-feed",
				Protocol: tt.protocol,
				URL:      "http://127.0.0.1:0/feed",
			}, slog.Default())
			if err != nil {
				t.Fatalf("buildSource() error = %v", err)
			}
			if src.Protocol() != tt.want {
				t.Errorf("Protocol() = %q, want %q", src.Protocol(), tt.want)
			}
			if src.Name() != tt.protocol+"-feed" {
				t.Errorf("Name() = %q, want %q", src.Name(), tt.protocol+"-feed")
			}
		})
	}
}

func TestBuildSourceWebsocketURL(t *testing.T) {
	src, err := buildSource(config.SourceConfig{
		Name:     "firehose",
		Protocol: "thorchain",
		URL:      "wss://stream.example.com/swaps",
	}, slog.Default())
	if err != nil {
		t.Fatalf("buildSource() error = %v", err)
	}
	if _, ok := src.(*stream.Source); !ok {
		t.Errorf("buildSource() = %T, want *stream.Source", src)
	}
}

func TestBuildSourceUnknownProtocol(t *testing.T) {
	_, err := buildSource(config.SourceConfig{
		Name:     "mystery",
		Protocol: "uniswap",
		URL:      "http://127.0.0.1:0/feed",
	}, slog.Default())
	if err == nil {
		t.Fatal("expected error for unknown protocol")
	}
}

func TestBuildFeedsSkipsDisabled(t *testing.T) {
	feeds, err := buildFeeds([]config.SourceConfig{
		{Name: "on", Protocol: "relay", URL: "http://127.0.0.1:0/a"},
		{Name: "off", Protocol: "portals", URL: "http://127.0.0.1:0/b", Disabled: true},
	}, nil, slog.Default())
	if err != nil {
		t.Fatalf("buildFeeds() error = %v", err)
	}
	if len(feeds) != 1 {
		t.Fatalf("feeds = %d, want 1", len(feeds))
	}
	if feeds[0].Source.Name() != "on" {
		t.Errorf("feed = %q, want %q", feeds[0].Source.Name(), "on")
	}
}

func TestFingerprintsFromConfig(t *testing.T) {
	fp := fingerprintsFromConfig(config.FingerprintConfig{
		Addresses: map[string][]string{" THORChain ": {"thor1abc"}},
		MemoCodes: map[string][]string{"thorchain": {"ss"}},
		Partners:  map[string][]string{"cowswap": {"shapeshift"}},
	})

	if got := fp.Addresses[domain.ProtocolTHORChain]; len(got) != 1 || got[0] != "thor1abc" {
		t.Errorf("Addresses[thorchain] = %v", got)
	}
	if got := fp.MemoCodes[domain.ProtocolTHORChain]; len(got) != 1 || got[0] != "ss" {
		t.Errorf("MemoCodes[thorchain] = %v", got)
	}
	if got := fp.Partners[domain.ProtocolCowSwap]; len(got) != 1 || got[0] != "shapeshift" {
		t.Errorf("Partners[cowswap] = %v", got)
	}
}
