package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestReadyAllChecksPass(t *testing.T) {
	p := NewProbeRunner(time.Second)
	p.Register("db", func(context.Context) error { return nil })
	p.Register("redis", func(context.Context) error { return nil })

	ready, results := p.Ready(context.Background())
	if !ready {
		t.Fatal("expected ready")
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
}

func TestReadyFailingCheck(t *testing.T) {
	p := NewProbeRunner(time.Second)
	p.Register("db", func(context.Context) error { return errors.New("down") })

	ready, results := p.Ready(context.Background())
	if ready {
		t.Fatal("expected not ready")
	}
	if results[0].Status != "failed" || results[0].Error != "down" {
		t.Fatalf("unexpected result %+v", results[0])
	}
}

func TestReadyNoChecks(t *testing.T) {
	p := NewProbeRunner(time.Second)
	ready, results := p.Ready(context.Background())
	if !ready || len(results) != 0 {
		t.Fatalf("expected trivially ready, got ready=%v results=%v", ready, results)
	}
}
