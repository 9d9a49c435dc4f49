package strategy

import (
	"context"

	"tradebot/internal/domain"
	"tradebot/internal/ports"
)

func init() {
	Register("averaging", func(cfg Config, logger ports.Logger) (ports.Strategy, error) {
		if cfg.MaxEntryAdjustments <= 0 {
			cfg.MaxEntryAdjustments = 3
		}
		if cfg.AdjustmentTriggerRatio >= 0 {
			cfg.AdjustmentTriggerRatio = -0.02
		}
		return &averaging{cfg: cfg, logger: logger}, nil
	})
}

// averaging adds to a losing position in equal-stake steps once the
// drawdown passes the trigger ratio, lowering the average entry price.
// It produces no entry signals of its own; first entries arrive through
// the administrative commands, as with the manual strategy.
type averaging struct {
	cfg    Config
	logger ports.Logger
}

func (s *averaging) Name() string      { return "averaging" }
func (s *averaging) Stoploss() float64 { return s.cfg.Stoploss }

func (s *averaging) ShouldEnter(ctx context.Context, pair string, rate float64) ports.EntrySignal {
	return ports.EntrySignal{}
}

func (s *averaging) ShouldExit(ctx context.Context, trade *domain.Trade, rate float64) bool {
	return false
}

func (s *averaging) StakeAmount(ctx context.Context, pair string, proposed, minStake, maxStake float64) float64 {
	return proposed
}

// AdjustTradePosition reinvests the trade's first-entry stake at the
// current price while the position is under water and the adjustment
// budget is not spent.
func (s *averaging) AdjustTradePosition(ctx context.Context, trade *domain.Trade, rate, profitRatio, minStake, maxStake float64) float64 {
	if profitRatio > s.cfg.AdjustmentTriggerRatio {
		return 0
	}
	filledEntries := 0
	var firstStake float64
	for _, o := range trade.Orders {
		if o.Kind == domain.KindEntry && o.Filled > 0 {
			filledEntries++
			if firstStake == 0 {
				firstStake = o.Cost
			}
		}
	}
	// The first entry is not an adjustment.
	if filledEntries == 0 || filledEntries > s.cfg.MaxEntryAdjustments {
		return 0
	}
	stake := firstStake
	if stake > maxStake {
		stake = maxStake
	}
	s.logger.Info(ctx, "Position adjustment triggered", map[string]interface{}{
		"pair":        trade.Pair,
		"profitRatio": profitRatio,
		"stake":       stake,
		"step":        filledEntries,
	})
	return stake
}

func (s *averaging) AdjustEntryPrice(ctx context.Context, trade *domain.Trade, order *domain.Order, rate float64) float64 {
	return order.Price
}

func (s *averaging) ConfirmTradeEntry(ctx context.Context, pair string, side domain.OrderSide, stake, rate float64) bool {
	return true
}

func (s *averaging) ConfirmTradeExit(ctx context.Context, trade *domain.Trade, rate float64, reason domain.ExitReason) bool {
	return true
}
