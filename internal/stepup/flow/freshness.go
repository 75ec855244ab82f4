package flow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/meridianhq/stepup/internal/stepup/domain"
	"github.com/meridianhq/stepup/internal/stepup/gateway"
)

// FreshnessGuard issues factor-status reads with the guarantee that every
// answer reflects the service's current state. There is no snapshot field
// here and never will be: each call goes to the network, and two
// back-to-back calls produce two requests. A stale "disabled" answer is the
// bypass this component exists to prevent.
type FreshnessGuard struct {
	status gateway.StatusGateway

	mu           sync.Mutex
	lastMutation time.Time
}

// NewFreshnessGuard wraps a status gateway.
func NewFreshnessGuard(status gateway.StatusGateway) *FreshnessGuard {
	return &FreshnessGuard{status: status}
}

// NoteMutation records that this client just changed enrollment state.
// Snapshots fetched before this instant must not drive any decision.
func (g *FreshnessGuard) NoteMutation() {
	g.mu.Lock()
	g.lastMutation = time.Now()
	g.mu.Unlock()
}

// Snapshot performs one live factor-status read. On any failure the caller
// must block progress; a network error never means "no factor enabled".
func (g *FreshnessGuard) Snapshot(ctx context.Context, accountID string) (domain.StatusSnapshot, error) {
	snap, err := g.status.FactorStatus(ctx, accountID)
	if err != nil {
		return domain.StatusSnapshot{}, mapGatewayErr(err)
	}

	g.mu.Lock()
	floor := g.lastMutation
	g.mu.Unlock()

	if snap.FetchedAt.Before(floor) {
		return domain.StatusSnapshot{}, fmt.Errorf("%w: snapshot predates last known state change", gateway.ErrStaleStatus)
	}

	return snap, nil
}
