// Package payout defines how a processing transfer is delivered on its rail.
package payout

import (
	"context"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/punchamoorthee/remitops/internal/domain"
)

// Outcome is the adapter's verdict. Reason is set when OK is false.
type Outcome struct {
	OK       bool
	Provider string
	Reason   string
}

// Adapter delivers a transfer on one rail. A returned error means the
// outcome is unknown and the transfer must stay where it is.
type Adapter interface {
	Execute(ctx context.Context, t domain.Transfer) (Outcome, error)
}

// Registry selects the adapter for a transfer's rail.
type Registry struct {
	adapters map[domain.Rail]Adapter
}

func NewRegistry(adapters map[domain.Rail]Adapter) *Registry {
	return &Registry{adapters: adapters}
}

func (r *Registry) For(rail domain.Rail) (Adapter, error) {
	a, ok := r.adapters[rail]
	if !ok {
		return nil, fmt.Errorf("no payout adapter for rail %s", rail)
	}
	return a, nil
}

// Simulated settles deterministically: the xxhash of "rail:transferID"
// modulo 100 is compared against the success percentage, so the same
// transfer always gets the same outcome.
type Simulated struct {
	Rail       domain.Rail
	Provider   string
	SuccessPct int
	Failure    string
}

func (s Simulated) Execute(ctx context.Context, t domain.Transfer) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	if t.Rail != s.Rail {
		return Outcome{}, fmt.Errorf("%s adapter cannot execute %s transfer %s", s.Rail, t.Rail, t.ID)
	}
	if Roll(s.Rail, t.ID) < s.SuccessPct {
		return Outcome{OK: true, Provider: s.Provider}, nil
	}
	return Outcome{OK: false, Provider: s.Provider, Reason: s.Failure}, nil
}

// Roll returns the stable bucket in [0, 100) for a rail and transfer id.
func Roll(rail domain.Rail, transferID string) int {
	return int(xxhash.Sum64String(string(rail)+":"+transferID) % 100)
}

func NewSimulatedBank(successPct int) Simulated {
	return Simulated{Rail: domain.RailBank, Provider: "sim-bank", SuccessPct: successPct, Failure: "beneficiary bank rejected the credit"}
}

func NewSimulatedMobileMoney(successPct int) Simulated {
	return Simulated{Rail: domain.RailMobileMoney, Provider: "sim-mobile-money", SuccessPct: successPct, Failure: "wallet provider declined the deposit"}
}

func NewSimulatedLightning(successPct int) Simulated {
	return Simulated{Rail: domain.RailLightning, Provider: "sim-lightning", SuccessPct: successPct, Failure: "no route found for invoice"}
}

// SimulatedRegistry wires a simulated adapter for every rail.
func SimulatedRegistry(successPct int) *Registry {
	return NewRegistry(map[domain.Rail]Adapter{
		domain.RailBank:        NewSimulatedBank(successPct),
		domain.RailMobileMoney: NewSimulatedMobileMoney(successPct),
		domain.RailLightning:   NewSimulatedLightning(successPct),
	})
}
