// Package risk implements the layered pre-trade limit registry: quantity
// ceilings, position caps, portfolio concentration, drawdown and daily-loss
// circuit breakers, and strategy exposure caps.
package risk

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"ordergate/internal/config"
	"ordergate/internal/domain"
	"ordergate/internal/util"
)

var hundred = decimal.NewFromInt(100)

// reasoner is implemented by every rejection error in this package (and by
// ratelimit.Error); Reason() feeds the per-reason violation counters.
type reasoner interface {
	Reason() string
}

// ---------------------------------------------------------------------------
// Internal state
// ---------------------------------------------------------------------------

// instrumentState serializes admission for one symbol. value and unrealized
// cache the position's mark-to-market so portfolio aggregates can be
// maintained incrementally without walking every instrument.
type instrumentState struct {
	mu          sync.Mutex
	pos         domain.Position
	reservedQty decimal.Decimal // signed quantity of accepted, unsettled orders
	value       decimal.Decimal // |quantity| × mark price
	unrealized  decimal.Decimal
}

// recalc refreshes the cached mark-to-market figures. Caller holds mu.
func (s *instrumentState) recalc() {
	s.value = s.pos.MarketValue().Abs()
	s.unrealized = s.pos.UnrealizedPnL()
}

// strategyState tracks committed and reserved notional for one strategy.
type strategyState struct {
	mu               sync.Mutex
	exposure         decimal.Decimal
	reservedNotional decimal.Decimal
}

// reservation records what an accepted order holds against the limits until
// it is committed or released.
type reservation struct {
	symbol     string
	strategyID string
	signedQty  decimal.Decimal
	notional   decimal.Decimal
}

// portfolioState holds the aggregates behind the portfolio-wide checks.
type portfolioState struct {
	mu              sync.Mutex
	grossValue      decimal.Decimal // Σ |quantity| × mark across instruments
	unrealizedTotal decimal.Decimal
	realized        decimal.Decimal // cumulative realized P&L net of commissions
	peak            decimal.Decimal
	peakSet         bool
	windowAnchor    time.Time
	dayOpen         time.Time
	dailyRealized   decimal.Decimal
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// Registry is the admission-side risk book. Check runs the limit layers in a
// fixed order and, on acceptance, reserves the order's quantity and notional
// against the limits; Commit settles a reservation into the position book and
// Release discards it.
//
// Locking is striped per instrument and per strategy so concurrent checks for
// unrelated symbols do not contend. Lock order is instrument → strategy →
// portfolio; the portfolio mutex guards only short arithmetic sections.
type Registry struct {
	log *slog.Logger
	now func() time.Time

	positionLimits map[string]decimal.Decimal
	maxOrderQty    map[string]decimal.Decimal
	defaultMaxQty  decimal.Decimal
	maxValuePct    decimal.Decimal
	maxDrawdownPct decimal.Decimal
	drawdownWindow time.Duration
	maxDailyLoss   decimal.Decimal
	dayLoc         *time.Location
	exposureLimits map[string]decimal.Decimal

	instMu      sync.Mutex
	instruments map[string]*instrumentState

	stratMu    sync.Mutex
	strategies map[string]*strategyState

	pf portfolioState

	resMu        sync.Mutex
	reservations map[string]reservation

	warnMu sync.Mutex
	warned map[string]bool

	violMu     sync.Mutex
	violations map[string]int64

	posHook func(domain.Position)
}

// NewRegistry builds a Registry from validated risk configuration. The day
// and drawdown windows are anchored at construction time.
func NewRegistry(cfg config.RiskConfig, log *slog.Logger) (*Registry, error) {
	loc, err := time.LoadLocation(cfg.DayBoundaryTZ)
	if err != nil {
		return nil, fmt.Errorf("risk: invalid day_boundary_tz %q: %w", cfg.DayBoundaryTZ, err)
	}

	r := &Registry{
		log:            log,
		now:            time.Now,
		positionLimits: toDecimalMap(cfg.PositionLimits),
		maxOrderQty:    toDecimalMap(cfg.MaxOrderQuantity),
		defaultMaxQty:  decimal.NewFromFloat(cfg.DefaultMaxOrderQuantity),
		maxValuePct:    decimal.NewFromFloat(cfg.MaxPositionValuePct),
		maxDrawdownPct: decimal.NewFromFloat(cfg.MaxDrawdownPct),
		drawdownWindow: time.Duration(cfg.DrawdownWindowDays) * 24 * time.Hour,
		maxDailyLoss:   decimal.NewFromFloat(cfg.MaxDailyLoss),
		dayLoc:         loc,
		exposureLimits: toDecimalMap(cfg.StrategyExposureLimits),
		instruments:    make(map[string]*instrumentState),
		strategies:     make(map[string]*strategyState),
		reservations:   make(map[string]reservation),
		warned:         make(map[string]bool),
		violations:     make(map[string]int64),
	}

	start := r.now()
	r.pf.windowAnchor = start
	r.pf.dayOpen = util.DayOpen(loc, start)
	return r, nil
}

func toDecimalMap(in map[string]float64) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(in))
	for k, v := range in {
		out[k] = decimal.NewFromFloat(v)
	}
	return out
}

// SetPositionHook registers a callback invoked with the updated position
// after every Commit. Wire persistence here before traffic starts.
func (r *Registry) SetPositionHook(fn func(domain.Position)) {
	r.posHook = fn
}

// SetNow overrides the registry's clock. Intended for tests.
func (r *Registry) SetNow(now func() time.Time) {
	r.now = now
	r.pf.mu.Lock()
	r.pf.windowAnchor = now()
	r.pf.dayOpen = util.DayOpen(r.dayLoc, now())
	r.pf.mu.Unlock()
}

func (r *Registry) instrument(symbol string) *instrumentState {
	r.instMu.Lock()
	defer r.instMu.Unlock()
	s, ok := r.instruments[symbol]
	if !ok {
		s = &instrumentState{pos: domain.Position{Symbol: symbol}}
		r.instruments[symbol] = s
	}
	return s
}

func (r *Registry) strategy(id string) *strategyState {
	r.stratMu.Lock()
	defer r.stratMu.Unlock()
	s, ok := r.strategies[id]
	if !ok {
		s = &strategyState{}
		r.strategies[id] = s
	}
	return s
}

// ---------------------------------------------------------------------------
// Check
// ---------------------------------------------------------------------------

// Check runs the limit layers against the order in a fixed order, short-
// circuiting on the first failure: order quantity, position cap, portfolio
// concentration, drawdown, daily loss, strategy exposure. On success the
// order's quantity and notional are reserved under the order ID until Commit
// or Release.
func (r *Registry) Check(o *domain.Order) error {
	if err := r.checkOrderQuantity(o); err != nil {
		return r.reject(o, err)
	}

	inst := r.instrument(o.Symbol)
	inst.mu.Lock()
	defer inst.mu.Unlock()

	if err := r.checkPositionLimit(inst, o); err != nil {
		return r.reject(o, err)
	}

	var strat *strategyState
	if o.StrategyID != "" {
		strat = r.strategy(o.StrategyID)
		strat.mu.Lock()
		defer strat.mu.Unlock()
	}

	if err := r.checkPortfolio(inst, o); err != nil {
		return r.reject(o, err)
	}

	if strat != nil {
		if err := r.checkStrategyExposure(strat, o); err != nil {
			return r.reject(o, err)
		}
	}

	inst.reservedQty = inst.reservedQty.Add(o.SignedQuantity())
	if strat != nil {
		strat.reservedNotional = strat.reservedNotional.Add(o.Notional())
	}

	r.resMu.Lock()
	r.reservations[o.ID] = reservation{
		symbol:     o.Symbol,
		strategyID: o.StrategyID,
		signedQty:  o.SignedQuantity(),
		notional:   o.Notional(),
	}
	r.resMu.Unlock()
	return nil
}

func (r *Registry) reject(o *domain.Order, err error) error {
	reason := "unknown"
	if re, ok := err.(reasoner); ok {
		reason = re.Reason()
	}
	r.violMu.Lock()
	r.violations[reason]++
	r.violMu.Unlock()
	r.log.Warn("order rejected",
		"order_id", o.ID, "symbol", o.Symbol, "reason", reason, "error", err)
	return err
}

func (r *Registry) checkOrderQuantity(o *domain.Order) error {
	limit, ok := r.maxOrderQty[o.Symbol]
	if !ok {
		limit = r.defaultMaxQty
	}
	if limit.IsZero() {
		r.warnOnce("qty:"+o.Symbol, "no order quantity ceiling configured", o.Symbol)
		return nil
	}
	if o.Quantity.GreaterThan(limit) {
		return &MaxOrderQuantityError{Symbol: o.Symbol, Limit: limit, Requested: o.Quantity}
	}
	return nil
}

// checkPositionLimit projects the position including outstanding
// reservations. Caller holds inst.mu.
func (r *Registry) checkPositionLimit(inst *instrumentState, o *domain.Order) error {
	limit, ok := r.positionLimits[o.Symbol]
	if !ok {
		r.warnOnce("pos:"+o.Symbol, "no position limit configured", o.Symbol)
		return nil
	}
	projected := inst.pos.Quantity.Add(inst.reservedQty).Add(o.SignedQuantity())
	if projected.Abs().GreaterThan(limit) {
		return &PositionLimitError{
			Symbol:    o.Symbol,
			Limit:     limit,
			Current:   inst.pos.Quantity.Add(inst.reservedQty),
			Requested: o.SignedQuantity(),
		}
	}
	return nil
}

// checkPortfolio runs the three portfolio-wide layers under the portfolio
// mutex: concentration, drawdown, daily loss. Caller holds inst.mu.
func (r *Registry) checkPortfolio(inst *instrumentState, o *domain.Order) error {
	r.pf.mu.Lock()
	defer r.pf.mu.Unlock()
	r.rolloverLocked(r.now())

	if r.maxValuePct.IsPositive() {
		ref := inst.pos.MarkPrice
		if ref.IsZero() {
			ref = o.Price
		}
		projQty := inst.pos.Quantity.Add(inst.reservedQty).Add(o.SignedQuantity())
		projValue := projQty.Abs().Mul(ref)
		othersValue := r.pf.grossValue.Sub(inst.value)
		total := othersValue.Add(projValue)
		// A single-instrument portfolio is always 100% concentrated; the
		// check only applies once other positions carry value.
		if othersValue.IsPositive() && total.IsPositive() {
			pct := projValue.Div(total).Mul(hundred)
			if pct.GreaterThan(r.maxValuePct) {
				return &PortfolioValueLimitError{Symbol: o.Symbol, LimitPct: r.maxValuePct, ObservedPct: pct}
			}
		}
	}

	if r.maxDrawdownPct.IsPositive() {
		value := r.pf.realized.Add(r.pf.unrealizedTotal)
		if !r.pf.peakSet || value.GreaterThan(r.pf.peak) {
			r.pf.peak = value
			r.pf.peakSet = true
		}
		if r.pf.peak.IsPositive() {
			dd := r.pf.peak.Sub(value).Div(r.pf.peak).Mul(hundred)
			if dd.GreaterThan(r.maxDrawdownPct) {
				return &DrawdownError{LimitPct: r.maxDrawdownPct, ObservedPct: dd}
			}
		}
	}

	if r.maxDailyLoss.IsPositive() {
		loss := r.pf.dailyRealized.Neg()
		if loss.GreaterThanOrEqual(r.maxDailyLoss) {
			return &DailyLossError{Limit: r.maxDailyLoss, Observed: loss}
		}
	}
	return nil
}

// checkStrategyExposure projects exposure including outstanding
// reservations. Caller holds strat.mu.
func (r *Registry) checkStrategyExposure(strat *strategyState, o *domain.Order) error {
	limit, ok := r.exposureLimits[o.StrategyID]
	if !ok {
		return nil
	}
	projected := strat.exposure.Add(strat.reservedNotional).Add(o.Notional())
	if projected.GreaterThan(limit) {
		return &StrategyExposureError{
			StrategyID: o.StrategyID,
			Limit:      limit,
			Current:    strat.exposure.Add(strat.reservedNotional),
			Requested:  o.Notional(),
		}
	}
	return nil
}

// rolloverLocked resets the drawdown window and the daily-loss accumulator
// when their boundaries have passed. Caller holds pf.mu.
func (r *Registry) rolloverLocked(now time.Time) {
	if r.drawdownWindow > 0 && now.Sub(r.pf.windowAnchor) >= r.drawdownWindow {
		r.pf.windowAnchor = now
		r.pf.peak = r.pf.realized.Add(r.pf.unrealizedTotal)
		r.pf.peakSet = true
	}
	if !util.SameTradingDay(r.dayLoc, r.pf.dayOpen, now) {
		r.pf.dayOpen = util.DayOpen(r.dayLoc, now)
		r.pf.dailyRealized = decimal.Zero
	}
}

func (r *Registry) warnOnce(key, msg, symbol string) {
	r.warnMu.Lock()
	defer r.warnMu.Unlock()
	if r.warned[key] {
		return
	}
	r.warned[key] = true
	r.log.Warn(msg, "symbol", symbol)
}

// ---------------------------------------------------------------------------
// Settlement
// ---------------------------------------------------------------------------

// Commit settles the reservation held by orderID into the position book at
// the adjusted fill, realizes P&L net of commission into the daily and
// window accumulators, and returns the updated position.
func (r *Registry) Commit(orderID string, fill domain.AdjustedFill) (domain.Position, error) {
	res, ok := r.takeReservation(orderID)
	if !ok {
		return domain.Position{}, fmt.Errorf("risk: no reservation for order %s", orderID)
	}

	side := domain.SideBuy
	if res.signedQty.IsNegative() {
		side = domain.SideSell
	}

	inst := r.instrument(res.symbol)
	inst.mu.Lock()
	inst.reservedQty = inst.reservedQty.Sub(res.signedQty)
	oldValue, oldUnrealized := inst.value, inst.unrealized
	realized := inst.pos.ApplyFill(side, res.signedQty.Abs(), fill.ExecutedPrice)
	inst.recalc()
	dValue := inst.value.Sub(oldValue)
	dUnrealized := inst.unrealized.Sub(oldUnrealized)
	pos := inst.pos
	inst.mu.Unlock()

	if res.strategyID != "" {
		strat := r.strategy(res.strategyID)
		strat.mu.Lock()
		strat.reservedNotional = strat.reservedNotional.Sub(res.notional)
		strat.exposure = strat.exposure.Add(res.signedQty.Abs().Mul(fill.ExecutedPrice))
		strat.mu.Unlock()
	}

	pnl := realized.Sub(fill.Commission)
	r.pf.mu.Lock()
	r.rolloverLocked(r.now())
	r.pf.grossValue = r.pf.grossValue.Add(dValue)
	r.pf.unrealizedTotal = r.pf.unrealizedTotal.Add(dUnrealized)
	r.pf.realized = r.pf.realized.Add(pnl)
	r.pf.dailyRealized = r.pf.dailyRealized.Add(pnl)
	r.pf.mu.Unlock()

	if r.posHook != nil {
		r.posHook(pos)
	}
	return pos, nil
}

// Release discards the reservation held by orderID, restoring the limit
// headroom the order was occupying.
func (r *Registry) Release(orderID string) error {
	res, ok := r.takeReservation(orderID)
	if !ok {
		return fmt.Errorf("risk: no reservation for order %s", orderID)
	}

	inst := r.instrument(res.symbol)
	inst.mu.Lock()
	inst.reservedQty = inst.reservedQty.Sub(res.signedQty)
	inst.mu.Unlock()

	if res.strategyID != "" {
		strat := r.strategy(res.strategyID)
		strat.mu.Lock()
		strat.reservedNotional = strat.reservedNotional.Sub(res.notional)
		strat.mu.Unlock()
	}
	return nil
}

func (r *Registry) takeReservation(orderID string) (reservation, bool) {
	r.resMu.Lock()
	defer r.resMu.Unlock()
	res, ok := r.reservations[orderID]
	if ok {
		delete(r.reservations, orderID)
	}
	return res, ok
}

// UpdateMark revalues an instrument at the given mark price. Drawdown and
// concentration checks use the marks fed through here.
func (r *Registry) UpdateMark(symbol string, price decimal.Decimal) {
	inst := r.instrument(symbol)
	inst.mu.Lock()
	oldValue, oldUnrealized := inst.value, inst.unrealized
	inst.pos.MarkPrice = price
	inst.pos.UpdatedAt = r.now()
	inst.recalc()
	dValue := inst.value.Sub(oldValue)
	dUnrealized := inst.unrealized.Sub(oldUnrealized)
	inst.mu.Unlock()

	r.pf.mu.Lock()
	r.pf.grossValue = r.pf.grossValue.Add(dValue)
	r.pf.unrealizedTotal = r.pf.unrealizedTotal.Add(dUnrealized)
	r.pf.mu.Unlock()
}

// RecordPnL folds an externally settled P&L amount (funding, fees, manual
// adjustments) into the realized accumulators.
func (r *Registry) RecordPnL(delta decimal.Decimal) {
	r.pf.mu.Lock()
	r.rolloverLocked(r.now())
	r.pf.realized = r.pf.realized.Add(delta)
	r.pf.dailyRealized = r.pf.dailyRealized.Add(delta)
	r.pf.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Introspection
// ---------------------------------------------------------------------------

// Summary is a point-in-time snapshot of the portfolio-wide risk state.
type Summary struct {
	PortfolioValue decimal.Decimal  `json:"portfolio_value"`
	GrossValue     decimal.Decimal  `json:"gross_value"`
	PeakValue      decimal.Decimal  `json:"peak_value"`
	DrawdownPct    decimal.Decimal  `json:"drawdown_pct"`
	DailyRealized  decimal.Decimal  `json:"daily_realized_pnl"`
	Violations     map[string]int64 `json:"violations"`
}

// Summary returns the current portfolio aggregates and violation counters.
func (r *Registry) Summary() Summary {
	r.pf.mu.Lock()
	value := r.pf.realized.Add(r.pf.unrealizedTotal)
	s := Summary{
		PortfolioValue: value,
		GrossValue:     r.pf.grossValue,
		PeakValue:      r.pf.peak,
		DailyRealized:  r.pf.dailyRealized,
	}
	if r.pf.peakSet && r.pf.peak.IsPositive() {
		s.DrawdownPct = r.pf.peak.Sub(value).Div(r.pf.peak).Mul(hundred)
	}
	r.pf.mu.Unlock()

	r.violMu.Lock()
	s.Violations = make(map[string]int64, len(r.violations))
	for k, v := range r.violations {
		s.Violations[k] = v
	}
	r.violMu.Unlock()
	return s
}

// Positions returns a snapshot of every non-empty position.
func (r *Registry) Positions() []domain.Position {
	r.instMu.Lock()
	states := make([]*instrumentState, 0, len(r.instruments))
	for _, s := range r.instruments {
		states = append(states, s)
	}
	r.instMu.Unlock()

	out := make([]domain.Position, 0, len(states))
	for _, s := range states {
		s.mu.Lock()
		if !s.pos.Quantity.IsZero() || !s.pos.RealizedPnL.IsZero() {
			out = append(out, s.pos)
		}
		s.mu.Unlock()
	}
	return out
}

// Position returns the position for one symbol and whether it exists.
func (r *Registry) Position(symbol string) (domain.Position, bool) {
	r.instMu.Lock()
	s, ok := r.instruments[symbol]
	r.instMu.Unlock()
	if !ok {
		return domain.Position{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos, true
}

// StrategyExposure returns the committed plus reserved notional for a
// strategy.
func (r *Registry) StrategyExposure(strategyID string) decimal.Decimal {
	r.stratMu.Lock()
	s, ok := r.strategies[strategyID]
	r.stratMu.Unlock()
	if !ok {
		return decimal.Zero
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exposure.Add(s.reservedNotional)
}

// Violations returns a copy of the per-reason rejection counters.
func (r *Registry) Violations() map[string]int64 {
	r.violMu.Lock()
	defer r.violMu.Unlock()
	out := make(map[string]int64, len(r.violations))
	for k, v := range r.violations {
		out[k] = v
	}
	return out
}
