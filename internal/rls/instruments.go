// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rls

import (
	"context"
	"time"

	"github.com/opentrusty/pulse/internal/observability/metrics"
	"github.com/opentrusty/pulse/internal/scope"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instruments are the OpenTelemetry instruments the coordinator records to.
// A nil *Instruments records nothing.
type Instruments struct {
	scopesOpened     metric.Int64Counter
	scopesCommitted  metric.Int64Counter
	scopesRolledBack metric.Int64Counter
	scopesReleased   metric.Int64Counter
	bindFailures     metric.Int64Counter
	finalizeRaces    metric.Int64Counter
	scopesActive     metric.Int64UpDownCounter
	scopeDuration    metric.Float64Histogram
}

// NewInstruments creates the scope instruments on m.
func NewInstruments(m *metrics.Meter) (*Instruments, error) {
	var (
		i   Instruments
		err error
	)
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&i.scopesOpened, "pulse.rls.scopes.opened", "Identity-bound request scopes opened"},
		{&i.scopesCommitted, "pulse.rls.scopes.committed", "Request scopes committed"},
		{&i.scopesRolledBack, "pulse.rls.scopes.rolled_back", "Request scopes rolled back"},
		{&i.scopesReleased, "pulse.rls.scopes.released", "Request scope connections returned to the pool"},
		{&i.bindFailures, "pulse.rls.scopes.bind_failures", "Transactions abandoned because the identity could not be bound"},
		{&i.finalizeRaces, "pulse.rls.scopes.finalize_races", "Finalize calls absorbed because the scope was already released"},
	}
	for _, c := range counters {
		if *c.dst, err = m.CreateCounter(c.name, c.desc); err != nil {
			return nil, err
		}
	}
	if i.scopesActive, err = m.CreateUpDownCounter("pulse.rls.scopes.active", "Request scopes currently holding a connection"); err != nil {
		return nil, err
	}
	if i.scopeDuration, err = m.CreateHistogram("pulse.rls.scope.duration", "Time from begin to release of a request scope", "ms"); err != nil {
		return nil, err
	}
	return &i, nil
}

func (i *Instruments) opened(ctx context.Context) {
	if i == nil {
		return
	}
	i.scopesOpened.Add(ctx, 1)
	i.scopesActive.Add(ctx, 1)
}

func (i *Instruments) finalized(ctx context.Context, applied scope.Outcome, elapsed time.Duration) {
	if i == nil {
		return
	}
	outcome := metric.WithAttributes(attribute.String("outcome", applied.String()))
	if applied == scope.OutcomeCommit {
		i.scopesCommitted.Add(ctx, 1)
	} else {
		i.scopesRolledBack.Add(ctx, 1)
	}
	i.scopesReleased.Add(ctx, 1)
	i.scopesActive.Add(ctx, -1)
	i.scopeDuration.Record(ctx, float64(elapsed.Microseconds())/1000, outcome)
}

func (i *Instruments) bindFailure(ctx context.Context) {
	if i == nil {
		return
	}
	i.bindFailures.Add(ctx, 1)
}

func (i *Instruments) finalizeRace(ctx context.Context) {
	if i == nil {
		return
	}
	i.finalizeRaces.Add(ctx, 1)
}
