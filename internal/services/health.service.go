package services

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthService struct {
	checks  map[string]Pinger
	timeout time.Duration
}

// NewHealthService checks every non-nil dependency. Missing optional
// dependencies are simply not probed.
func NewHealthService(checks map[string]Pinger) *HealthService {
	active := make(map[string]Pinger, len(checks))
	for name, p := range checks {
		if p != nil {
			active[name] = p
		}
	}
	return &HealthService{checks: active, timeout: 2 * time.Second}
}

// Ready returns the failing dependencies keyed by name.
func (s *HealthService) Ready(ctx context.Context) map[string]error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	failed := make(map[string]error)
	for name, p := range s.checks {
		if err := p.Ping(ctx); err != nil {
			failed[name] = errors.Wrapf(err, "%s ping", name)
		}
	}
	return failed
}
