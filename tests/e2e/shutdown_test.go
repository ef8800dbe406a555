package e2e

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"affwatch/internal/control"
	"affwatch/internal/core/config"
)

func TestGracefulShutdown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"actions": [], "count": "0"}`))
	}))
	defer server.Close()

	cfg := &config.AppConfig{
		Store: config.StoreConfig{Backend: "memory"},
		Run:   config.RunConfig{QueueSize: 16},
		Sinks: config.SinkConfig{
			JSONLPath: filepath.Join(t.TempDir(), "records.jsonl"),
		},
		Sources: []config.SourceConfig{
			{
				Name:     "midgard",
				Protocol: "thorchain",
				URL:      server.URL + "/v2/actions",
				Interval: 50 * time.Millisecond,
			},
		},
	}

	app, err := control.NewApp(cfg, control.Options{})
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	runError := make(chan error, 1)
	go func() {
		runError <- app.Run(ctx)
	}()

	// Let a few poll cycles happen
	time.Sleep(300 * time.Millisecond)

	cancel()

	select {
	case err := <-runError:
		if err != nil && err != context.Canceled {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return within 10s of cancellation")
	}

	if err := app.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}
