package stage

import (
	"context"
	"testing"
)

type fixedChecker Health

func (f fixedChecker) HealthCheck(context.Context) Health { return Health(f) }

func TestCheckAll(t *testing.T) {
	results, ready := CheckAll(context.Background(),
		fixedChecker(Healthy(Analysis)),
		nil,
		fixedChecker(Unhealthy(Notification, "webhook missing")),
	)
	if ready {
		t.Fatal("expected overall readiness to be false")
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[1].Detail != "webhook missing" {
		t.Fatalf("unexpected detail %q", results[1].Detail)
	}
}

func TestCheckAllHealthy(t *testing.T) {
	if _, ready := CheckAll(context.Background(), fixedChecker(Healthy(Storage))); !ready {
		t.Fatal("expected ready")
	}
}
