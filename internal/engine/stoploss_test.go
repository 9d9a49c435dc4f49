package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebot/config"
	"tradebot/internal/domain"
)

func TestStoplossMirrorPlacedForOpenTrade(t *testing.T) {
	rig := newTestRig(func(cfg *config.Config) {
		cfg.StoplossOnExchange = true
	})
	seed := rig.openTrade("ETH/USDT", 0.05, 2000)

	require.NoError(t, rig.engine.ProcessTick(context.Background()))

	trade, _ := rig.trades.FindByID(context.Background(), seed.ID)
	require.NotNil(t, trade.StoplossOrderID)
	require.Len(t, rig.gateway.created, 1)
	req := rig.gateway.created[0]
	assert.Equal(t, domain.KindStoploss, req.Kind)
	assert.Equal(t, domain.Sell, req.Side)
	require.NotNil(t, req.StopPrice)
	assert.InDelta(t, 1800.0, *req.StopPrice, 1e-9)

	// An aligned mirror is left alone on the next tick.
	require.NoError(t, rig.engine.ProcessTick(context.Background()))
	assert.Len(t, rig.gateway.created, 1)
}

func TestStoplossMirrorReplacedWhenTrailingTightens(t *testing.T) {
	rig := newTestRig(func(cfg *config.Config) {
		cfg.StoplossOnExchange = true
		cfg.TrailingStop = true
	})
	seed := rig.openTrade("ETH/USDT", 0.05, 2000)
	require.NoError(t, rig.engine.ProcessTick(context.Background()))
	trade, _ := rig.trades.FindByID(context.Background(), seed.ID)
	firstMirror := *trade.StoplossOrderID

	rig.gateway.setTicker("ETH/USDT", 2200, 2200)
	require.NoError(t, rig.engine.ProcessTick(context.Background()))

	trade, _ = rig.trades.FindByID(context.Background(), seed.ID)
	require.NotNil(t, trade.StoplossOrderID)
	assert.NotEqual(t, firstMirror, *trade.StoplossOrderID, "mirror follows the trailed price")
	assert.Equal(t, domain.OrderCanceled, rig.gateway.orders[firstMirror].Status)

	var stops []float64
	for _, req := range rig.gateway.created {
		if req.Kind == domain.KindStoploss {
			stops = append(stops, *req.StopPrice)
		}
	}
	require.Len(t, stops, 2)
	assert.InDelta(t, 1800.0, stops[0], 1e-9)
	assert.InDelta(t, 1980.0, stops[1], 1e-9)
}

func TestStoplossMirrorFillClosesTrade(t *testing.T) {
	rig := newTestRig(func(cfg *config.Config) {
		cfg.StoplossOnExchange = true
	})
	seed := rig.openTrade("ETH/USDT", 0.05, 2000)
	require.NoError(t, rig.engine.ProcessTick(context.Background()))
	trade, _ := rig.trades.FindByID(context.Background(), seed.ID)
	mirrorID := *trade.StoplossOrderID

	rig.gateway.fill(mirrorID, 0.05, true)
	require.NoError(t, rig.engine.ProcessTick(context.Background()))

	trade, _ = rig.trades.FindByID(context.Background(), seed.ID)
	assert.False(t, trade.IsOpen)
	assert.Equal(t, domain.StatusClosed, trade.Status)
	assert.Equal(t, domain.ExitReasonStoplossOnExchange, trade.ExitReason)
	assert.Nil(t, trade.StoplossOrderID)
	assert.InDelta(t, 1800.0, trade.CloseRate, 1e-9)
}

func TestLocalStoplossDefersToLiveMirror(t *testing.T) {
	rig := newTestRig(func(cfg *config.Config) {
		cfg.StoplossOnExchange = true
	})
	seed := rig.openTrade("ETH/USDT", 0.05, 2000)
	require.NoError(t, rig.engine.ProcessTick(context.Background()))

	// The rate breaches the stop but the exchange-side order is live: the
	// exchange executes it, the engine must not race it with an exit order.
	rig.gateway.setTicker("ETH/USDT", 1700, 1700)
	require.NoError(t, rig.engine.ProcessTick(context.Background()))

	trade, _ := rig.trades.FindByID(context.Background(), seed.ID)
	assert.True(t, trade.IsOpen)
	for _, req := range rig.gateway.created {
		assert.NotEqual(t, domain.KindExit, req.Kind)
	}
}

func TestExitCancelsMirrorFirst(t *testing.T) {
	rig := newTestRig(func(cfg *config.Config) {
		cfg.StoplossOnExchange = true
		cfg.ROITable = []config.ROIEntry{{Minutes: 0, Ratio: 0.04}}
	})
	seed := rig.openTrade("ETH/USDT", 0.05, 2000)
	require.NoError(t, rig.engine.ProcessTick(context.Background()))
	trade, _ := rig.trades.FindByID(context.Background(), seed.ID)
	mirrorID := *trade.StoplossOrderID

	rig.gateway.setTicker("ETH/USDT", 2100, 2100)
	require.NoError(t, rig.engine.ProcessTick(context.Background()))

	trade, _ = rig.trades.FindByID(context.Background(), seed.ID)
	assert.Equal(t, domain.StatusPendingExit, trade.Status)
	assert.Nil(t, trade.StoplossOrderID, "the mirror is cancelled before the exit order goes out")
	assert.Equal(t, domain.OrderCanceled, rig.gateway.orders[mirrorID].Status)
}

func TestTrailingPositiveArmsAtOffset(t *testing.T) {
	rig := newTestRig(func(cfg *config.Config) {
		cfg.TrailingStop = true
		cfg.TrailingStopPositive = 0.02
		cfg.TrailingStopPositiveOffset = 0.04
	})
	seed := rig.openTrade("ETH/USDT", 0.05, 2000)

	// Below the offset the initial stoploss holds.
	rig.gateway.setTicker("ETH/USDT", 2040, 2040)
	require.NoError(t, rig.engine.ProcessTick(context.Background()))
	trade, _ := rig.trades.FindByID(context.Background(), seed.ID)
	assert.InDelta(t, 1800.0, trade.Stoploss, 1e-9)

	// At 5% profit the tighter positive distance takes over.
	rig.gateway.setTicker("ETH/USDT", 2100, 2100)
	require.NoError(t, rig.engine.ProcessTick(context.Background()))
	trade, _ = rig.trades.FindByID(context.Background(), seed.ID)
	assert.InDelta(t, 2100*0.98, trade.Stoploss, 1e-9)
}
