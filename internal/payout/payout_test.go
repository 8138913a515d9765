package payout

import (
	"context"
	"fmt"
	"testing"

	"github.com/punchamoorthee/remitops/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulatedOutcomeIsReproducible(t *testing.T) {
	adapter := NewSimulatedBank(50)
	tr := domain.Transfer{ID: "7d3c5a1e-0000-4000-8000-000000000001", Rail: domain.RailBank}

	first, err := adapter.Execute(context.Background(), tr)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := adapter.Execute(context.Background(), tr)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, Roll(domain.RailBank, tr.ID) < 50, first.OK)
}

func TestSimulatedBounds(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		tr := domain.Transfer{ID: fmt.Sprintf("t-%d", i), Rail: domain.RailMobileMoney}

		ok, err := NewSimulatedMobileMoney(100).Execute(ctx, tr)
		require.NoError(t, err)
		assert.True(t, ok.OK)
		assert.Equal(t, "sim-mobile-money", ok.Provider)

		failed, err := NewSimulatedMobileMoney(0).Execute(ctx, tr)
		require.NoError(t, err)
		assert.False(t, failed.OK)
		assert.NotEmpty(t, failed.Reason)
	}
}

func TestRollDependsOnRail(t *testing.T) {
	differs := false
	for i := 0; i < 20 && !differs; i++ {
		id := fmt.Sprintf("transfer-%d", i)
		differs = Roll(domain.RailBank, id) != Roll(domain.RailLightning, id)
	}
	assert.True(t, differs)
}

func TestRegistry(t *testing.T) {
	reg := SimulatedRegistry(90)
	for _, rail := range domain.Rails {
		a, err := reg.For(rail)
		require.NoError(t, err)
		assert.Equal(t, rail, a.(Simulated).Rail)
	}

	_, err := NewRegistry(nil).For(domain.RailBank)
	assert.Error(t, err)
}

func TestSimulatedRejectsOtherRails(t *testing.T) {
	_, err := NewSimulatedLightning(100).Execute(context.Background(), domain.Transfer{ID: "x", Rail: domain.RailBank})
	assert.Error(t, err)
}
