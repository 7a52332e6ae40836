package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/owlby/owlby-backend/internal/config"
	"github.com/owlby/owlby-backend/internal/health"
)

func TestNewAssignsDependenciesAndTimeouts(t *testing.T) {
	cfg := &config.Config{ShutdownTimeout: 10 * time.Second}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	server := &http.Server{Addr: ":3001", ReadHeaderTimeout: time.Second}
	readiness := health.NewProbeRunner(time.Second)
	stopped := false
	stop := func() { stopped = true }

	a := New(cfg, logger, server, nil, readiness, stop)
	if a.Config != cfg || a.Logger != logger || a.Server != server || a.Readiness != readiness {
		t.Fatal("expected app dependencies to be assigned")
	}
	if a.ShutdownTimeout != cfg.ShutdownTimeout {
		t.Fatal("expected shutdown timeout copied from config")
	}

	a.StopBackgroundTasks()
	if !stopped {
		t.Fatal("expected stop callback invoked")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	cfg := &config.Config{ShutdownTimeout: time.Second}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	server := &http.Server{Addr: "127.0.0.1:0", ReadHeaderTimeout: time.Second}
	a := New(cfg, logger, server, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}
