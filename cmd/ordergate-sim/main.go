// ordergate-sim drives the admission pipeline in-process against a
// simulated venue: it submits random orders, executes or cancels them at
// venue prices, and prints the resulting book and risk state.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/rand"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"ordergate/internal/config"
	"ordergate/internal/cost"
	"ordergate/internal/domain"
	"ordergate/internal/engine"
	"ordergate/internal/lifecycle"
	"ordergate/internal/metrics"
	"ordergate/internal/ratelimit"
	"ordergate/internal/risk"
	"ordergate/internal/util"
	"ordergate/internal/venue"
)

func main() {
	var (
		cfgPath = flag.String("config", "config/ordergate.yaml", "path to configuration file")
		orders  = flag.Int("orders", 50, "number of orders to submit")
		seed    = flag.Int64("seed", 1, "random seed for the price walk and order flow")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level)
	util.SetDefault(logger)

	if err := run(cfg, logger, *orders, *seed); err != nil {
		logger.Error("simulation failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger, orderCount int, seed int64) error {
	registry, err := risk.NewRegistry(cfg.Risk, logger)
	if err != nil {
		return err
	}
	costs, err := cost.New(cfg.Cost)
	if err != nil {
		return err
	}
	machine := lifecycle.NewMachine(logger)
	set := metrics.NewSet(prometheus.NewRegistry())
	machine.AddListener(set)

	eng := engine.New(logger, ratelimit.New(cfg.Exchanges), registry, costs, machine, set)

	sim := venue.NewSimVenue(seed, 0.002, map[string]decimal.Decimal{
		"BTC-USD": decimal.NewFromInt(50000),
		"ETH-USD": decimal.NewFromInt(3000),
	})
	symbols := sim.Symbols()
	rng := rand.New(rand.NewSource(seed))
	ctx := context.Background()

	var admitted, rejected, executed, canceled int
	for i := 0; i < orderCount; i++ {
		// Move the market and feed fresh marks into the risk book.
		for _, sym := range symbols {
			price, err := sim.Step(sym)
			if err != nil {
				return err
			}
			eng.UpdateMark(sym, price)
		}

		sym := symbols[rng.Intn(len(symbols))]
		side := domain.SideBuy
		if rng.Intn(2) == 1 {
			side = domain.SideSell
		}
		mark, err := sim.Mark(ctx, sym)
		if err != nil {
			return err
		}
		qty := decimal.NewFromFloat(float64(rng.Intn(3)+1) / 10.0)

		order, err := eng.SubmitOrder(ctx, &domain.Order{
			Symbol:     sym,
			Side:       side,
			Price:      mark,
			Quantity:   qty,
			StrategyID: "sim-random",
			Exchange:   sim.Name(),
		})
		if err != nil {
			rejected++
			continue
		}
		admitted++

		// Most admitted orders fill at the venue price; the rest cancel.
		if rng.Intn(10) < 8 {
			fillPrice, err := sim.FillPrice(ctx, order)
			if err != nil {
				return err
			}
			if _, err := eng.ExecuteOrder(ctx, order.ID, fillPrice); err != nil {
				return err
			}
			executed++
		} else {
			if _, err := eng.CancelOrder(ctx, order.ID, "sim cancel"); err != nil {
				return err
			}
			canceled++
		}
	}

	// Exercise the query bucket the way a polling client would.
	var throttledQueries int
	for _, sym := range symbols {
		if err := eng.AcquireQuery(sim.Name()); err != nil {
			var rlErr *ratelimit.Error
			if !errors.As(err, &rlErr) {
				return err
			}
			throttledQueries++
			continue
		}
		if _, err := sim.Mark(ctx, sym); err != nil {
			return err
		}
	}

	fmt.Printf("orders: %d submitted, %d admitted, %d rejected, %d executed, %d canceled\n",
		orderCount, admitted, rejected, executed, canceled)
	if throttledQueries > 0 {
		fmt.Printf("queries throttled: %d\n", throttledQueries)
	}

	fmt.Println("\npositions:")
	for _, pos := range eng.Positions(ctx) {
		fmt.Printf("  %-8s qty=%s avg=%s mark=%s realized=%s\n",
			pos.Symbol, pos.Quantity, pos.AvgEntryPrice.StringFixed(2),
			pos.MarkPrice.StringFixed(2), pos.RealizedPnL.StringFixed(2))
	}

	s := eng.RiskSummary(ctx)
	fmt.Printf("\nportfolio value=%s gross=%s drawdown=%s%% daily_pnl=%s\n",
		s.PortfolioValue.StringFixed(2), s.GrossValue.StringFixed(2),
		s.DrawdownPct.StringFixed(2), s.DailyRealized.StringFixed(2))
	fmt.Printf("strategy sim-random exposure=%s\n",
		eng.StrategyExposure("sim-random").StringFixed(2))
	if len(s.Violations) > 0 {
		fmt.Println("violations:")
		for reason, count := range s.Violations {
			fmt.Printf("  %-22s %d\n", reason, count)
		}
	}
	return nil
}
