package stage

import "context"

// Names of the pipeline stages as recorded in logs and the attempt history.
const (
	Analysis     = "analysis"
	Notification = "notification"
	Storage      = "storage"
	Ingest       = "ingest"
)

// Health summarizes the readiness of a pipeline stage or its backing service.
type Health struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// Healthy constructs a ready Health record.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy constructs an unhealthy Health record with context detail.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}

// Checker is implemented by stages that can report readiness.
type Checker interface {
	HealthCheck(context.Context) Health
}

// CheckAll runs every checker and reports whether all are ready.
func CheckAll(ctx context.Context, checkers ...Checker) ([]Health, bool) {
	out := make([]Health, 0, len(checkers))
	ready := true
	for _, checker := range checkers {
		if checker == nil {
			continue
		}
		health := checker.HealthCheck(ctx)
		if !health.Ready {
			ready = false
		}
		out = append(out, health)
	}
	return out, ready
}
