package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"copyRiskBot/config"
	"copyRiskBot/internal/domain"
	"copyRiskBot/internal/indicators"
	"copyRiskBot/internal/lifecycle"
	"copyRiskBot/internal/monitor"
	"copyRiskBot/internal/ports"
	"copyRiskBot/internal/risk"
)

const recentEventCount = 20 // audit rows included in the status snapshot

// Service owns the risk state and orchestrates admission, execution and
// lifecycle management for copied trades. One master ticket maps to at
// most one managed position, and at most one managed position is open
// per symbol because the venue keeps a single net position there.
type Service struct {
	cfg     *config.Config
	logger  ports.Logger
	venue   ports.VenueClient
	repo    ports.StateRepository
	events  ports.EventSource
	metrics *monitor.Metrics

	budget    *risk.BudgetTracker
	allocator *risk.RiskAllocator
	stops     *risk.StopTargetBuilder
	sizer     *risk.PositionSizer
	admission *risk.AdmissionController
	lifecycle *lifecycle.Manager
	atr       *indicators.ATR

	// mu protects the risk state below. Venue calls never run under it.
	mu         sync.Mutex
	positions  map[string]*domain.ManagedPosition
	refs       map[int64]string // master ticket -> position ID
	halted     bool
	lastEquity float64

	// venueMu serializes protective-order mutations so a manage tick and
	// a master modify cannot interleave on the same position. Always
	// acquired before mu, never while holding it.
	venueMu sync.Mutex

	factsMu sync.Mutex
	facts   map[string]*domain.InstrumentFacts
}

// Deps bundles the service dependencies. All fields are required.
type Deps struct {
	Config  *config.Config
	Logger  ports.Logger
	Venue   ports.VenueClient
	Repo    ports.StateRepository
	Events  ports.EventSource
	Metrics *monitor.Metrics
}

// New creates the application service and wires the risk components
// from configuration.
func New(deps Deps) (*Service, error) {
	if deps.Config == nil || deps.Logger == nil || deps.Venue == nil || deps.Repo == nil || deps.Events == nil || deps.Metrics == nil {
		return nil, fmt.Errorf("missing required dependencies for Service")
	}
	cfg := deps.Config

	var regime risk.RegimePolicy = risk.StaticRegime{Mult: cfg.RiskRegimeMult}
	if len(cfg.QuietWindows) > 0 {
		regime = risk.SessionRegime{
			Base:      cfg.RiskRegimeMult,
			Quiet:     cfg.QuietWindows,
			QuietMult: cfg.QuietRiskMult,
			Location:  cfg.Location,
		}
	}

	stops := risk.NewStopTargetBuilder(risk.StopBuilderConfig{
		Mode:                   cfg.CopyMode,
		VolatilityMultiplier:   cfg.SyntheticStopATRMult,
		MinSyntheticStopPoints: cfg.MinSyntheticStopPoints,
		CushionPoints:          cfg.StopCushionPoints,
	})

	return &Service{
		cfg:     cfg,
		logger:  deps.Logger,
		venue:   deps.Venue,
		repo:    deps.Repo,
		events:  deps.Events,
		metrics: deps.Metrics,
		budget: risk.NewBudgetTracker(risk.BudgetConfig{
			DailyAbsoluteCap: cfg.DailyLossLimit,
			DailyPercentCap:  cfg.DailyLossPercent,
			EquityFloor:      cfg.OverallEquityFloor,
			Location:         cfg.Location,
		}),
		allocator: risk.NewRiskAllocator(risk.AllocatorConfig{
			BaseRiskFraction:        cfg.BaseRiskFraction,
			ReferenceBalance:        cfg.ReferenceBalance,
			PerTradeDailyFraction:   cfg.PerTradeDailyFraction,
			PerTradeOverallFraction: cfg.PerTradeOverallFraction,
			Sessions:                cfg.SessionWindows,
			Location:                cfg.Location,
			Allowlist:               cfg.SymbolAllowlist,
			Regime:                  regime,
		}),
		stops:     stops,
		sizer:     risk.NewPositionSizer(risk.SizerConfig{MarginKeepFraction: cfg.MarginKeepFraction}),
		admission: risk.NewAdmissionController(risk.AdmissionConfig{Fraction: cfg.OpenRiskFraction}),
		lifecycle: lifecycle.New(lifecycle.Config{
			BreakevenTriggerRR:   cfg.BreakevenTriggerRR,
			BreakevenExtraPoints: cfg.BreakevenExtraPoints,
			PartialCloseFraction: cfg.PartialCloseFraction,
			VolatilityMultiplier: cfg.TrailATRMult,
			TrailFromOpen:        cfg.TrailFromOpen,
		}, stops),
		atr:       indicators.NewATR(indicators.ATRConfig{Lookback: cfg.ATRPeriod}),
		positions: make(map[string]*domain.ManagedPosition),
		refs:      make(map[int64]string),
		facts:     make(map[string]*domain.InstrumentFacts),
	}, nil
}

// Start restores persisted state, reconciles against the venue and then
// runs the event and management loops until the context is canceled.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info(ctx, "Starting copy risk service...")

	// --- Initialization Steps ---
	// 1. Restore persisted state so budgets and positions survive restarts.
	if err := s.restoreState(ctx); err != nil {
		s.logger.Error(ctx, err, "Failed to restore persisted state")
		return err
	}

	// 2. Anchor today's budget to current equity.
	acct, err := s.venue.GetAccount(ctx)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to fetch initial account snapshot")
		return fmt.Errorf("failed to fetch account snapshot: %w", err)
	}
	s.mu.Lock()
	s.rollDayLocked(ctx, acct.Equity, time.Now())
	s.lastEquity = acct.Equity
	day := s.budget.Day()
	remainingDaily := s.budget.RemainingDaily(acct.Equity)
	s.mu.Unlock()
	s.metrics.Equity.Set(acct.Equity)
	s.logger.Info(ctx, "Budget anchored", map[string]interface{}{
		"dateKey":        day.DateKey,
		"startEquity":    day.StartEquity,
		"remainingDaily": remainingDaily,
	})

	// 3. Reconcile the book against the venue.
	if err := s.reconcile(ctx); err != nil {
		s.logger.Error(ctx, err, "Failed to reconcile against the venue")
		return err
	}

	// --- Run Loops ---
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return s.events.Run(ctx, s.handleEvent) })
	group.Go(func() error { return s.manageLoop(ctx) })

	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error(ctx, err, "Service loop failed")
		return err
	}
	s.logger.Info(ctx, "Copy risk service stopped.")
	return nil
}

// restoreState loads the day anchor and open positions written by a
// previous run.
func (s *Service) restoreState(ctx context.Context) error {
	op := "restoreState"

	key := s.budget.DateKey(time.Now())
	ds, err := s.repo.FindDayState(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to load day state: %w", err)
	}
	if ds != nil {
		s.budget.Restore(ds)
		s.logger.Info(ctx, op+": day anchor restored", map[string]interface{}{
			"dateKey":     ds.DateKey,
			"startEquity": ds.StartEquity,
		})
	}

	positions, err := s.repo.FindOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load open positions: %w", err)
	}
	s.mu.Lock()
	for _, p := range positions {
		s.positions[p.ID] = p
		s.refs[p.RefID] = p.ID
	}
	s.mu.Unlock()
	s.logger.Info(ctx, op+": open positions restored", map[string]interface{}{"count": len(positions)})
	return nil
}

// reconcile aligns the managed book with the venue at startup. Records
// for positions the venue no longer holds are closed, and the venue's
// quantity and protective levels win where they differ.
func (s *Service) reconcile(ctx context.Context) error {
	op := "reconcile"

	live, err := s.venue.GetOpenPositions(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to list venue positions: %w", err)
	}
	liveBySymbol := make(map[string]*ports.VenuePosition, len(live))
	for _, vp := range live {
		liveBySymbol[vp.Symbol] = vp
	}

	s.mu.Lock()
	open := make([]*domain.ManagedPosition, 0, len(s.positions))
	managed := make(map[string]bool, len(s.positions))
	for _, p := range s.positions {
		open = append(open, p)
		managed[p.Symbol] = true
	}
	s.mu.Unlock()

	for _, pos := range open {
		vp, ok := liveBySymbol[pos.Symbol]
		if !ok {
			s.logger.Info(ctx, op+": position closed while offline", map[string]interface{}{
				"positionID": pos.ID,
				"symbol":     pos.Symbol,
			})
			s.closeManaged(ctx, pos, domain.CloseReasonVenue)
			continue
		}

		s.mu.Lock()
		changed := false
		if vp.Quantity > 0 && vp.Quantity != pos.Quantity {
			s.logger.Warn(ctx, op+": venue quantity differs, adopting it", map[string]interface{}{
				"positionID": pos.ID,
				"recorded":   pos.Quantity,
				"venue":      vp.Quantity,
			})
			pos.Quantity = vp.Quantity
			changed = true
		}
		if vp.StopPrice > 0 && vp.StopPrice != pos.StopPrice {
			pos.StopPrice = vp.StopPrice
			changed = true
		}
		if vp.TargetPrice > 0 && vp.TargetPrice != pos.TargetPrice {
			pos.TargetPrice = vp.TargetPrice
			changed = true
		}
		if changed {
			if err := s.repo.UpdatePosition(ctx, pos); err != nil {
				s.logger.Error(ctx, err, op+": failed to persist reconciled position", map[string]interface{}{"positionID": pos.ID})
			}
		}
		s.mu.Unlock()
	}

	for _, vp := range live {
		if !managed[vp.Symbol] {
			s.logger.Warn(ctx, op+": venue position with no managed record, leaving untouched", map[string]interface{}{
				"symbol":   vp.Symbol,
				"quantity": vp.Quantity,
			})
		}
	}
	return nil
}

// handleEvent is the bridge callback. Events arrive in master order per
// connection and are processed synchronously so admission stays serial.
func (s *Service) handleEvent(ctx context.Context, ev *domain.CopyEvent) {
	s.metrics.EventsReceived.WithLabelValues(string(ev.Kind)).Inc()
	s.logger.Debug(ctx, "copy event received", map[string]interface{}{
		"kind":   string(ev.Kind),
		"refID":  ev.RefID,
		"symbol": ev.Symbol,
	})

	switch ev.Kind {
	case domain.EventOpen:
		s.handleOpen(ctx, ev)
	case domain.EventModify:
		s.handleModify(ctx, ev)
	case domain.EventClose:
		s.handleClose(ctx, ev)
	}
}

// handleOpen runs the admission pipeline for a master open: budgets,
// allocation, stop construction, sizing and the open-risk cap, then the
// venue order. Market data is gathered outside the lock; the decision
// and the reservation happen inside it.
func (s *Service) handleOpen(ctx context.Context, ev *domain.CopyEvent) {
	op := "handleOpen"

	s.mu.Lock()
	if s.halted {
		s.mu.Unlock()
		s.rejectOpen(ctx, ev, "engine_halted", "engine halted, not accepting new trades")
		return
	}
	if id, ok := s.refs[ev.RefID]; ok {
		s.mu.Unlock()
		s.logger.Warn(ctx, op+": duplicate open event ignored", map[string]interface{}{
			"refID":      ev.RefID,
			"positionID": id,
		})
		return
	}
	busy := false
	for _, p := range s.positions {
		if p.IsOpen() && p.Symbol == ev.Symbol {
			busy = true
			break
		}
	}
	s.mu.Unlock()
	if busy {
		s.rejectOpen(ctx, ev, "symbol_busy", "position already open for symbol")
		return
	}

	facts, err := s.factsFor(ctx, ev.Symbol)
	if err != nil {
		s.metrics.VenueErrors.Inc()
		s.rejectOpen(ctx, ev, "data_unavailable", err.Error())
		return
	}
	quote, err := s.venue.GetQuote(ctx, ev.Symbol)
	if err != nil {
		s.metrics.VenueErrors.Inc()
		s.rejectOpen(ctx, ev, "data_unavailable", err.Error())
		return
	}
	acct, err := s.venue.GetAccount(ctx)
	if err != nil {
		s.metrics.VenueErrors.Inc()
		s.rejectOpen(ctx, ev, "data_unavailable", err.Error())
		return
	}
	atrPoints := s.atrPoints(ctx, ev.Symbol, facts)

	proposal := &domain.TradeProposal{
		RefID:      ev.RefID,
		Symbol:     ev.Symbol,
		Direction:  ev.Direction,
		Entry:      ev.Entry,
		Stop:       ev.Stop,
		Target:     ev.Target,
		ReceivedAt: time.Now(),
	}

	s.mu.Lock()
	s.rollDayLocked(ctx, acct.Equity, proposal.ReceivedAt)
	s.lastEquity = acct.Equity

	remainingDaily := s.budget.RemainingDaily(acct.Equity)
	remainingOverall := s.budget.RemainingOverall(acct.Equity)
	allowed, reason := s.allocator.AllowedRisk(ev.Symbol, remainingDaily, remainingOverall, proposal.ReceivedAt)
	if allowed <= 0 {
		s.mu.Unlock()
		s.rejectOpen(ctx, ev, string(reason), fmt.Sprintf("no risk allowance: %s", reason))
		return
	}

	plan, err := s.stops.Build(proposal, facts, quote, atrPoints)
	if err != nil {
		s.mu.Unlock()
		s.rejectOpen(ctx, ev, rejectReason(err), err.Error())
		return
	}

	quantity, err := s.sizer.Size(allowed, plan.StopPoints, acct, facts)
	if err != nil {
		s.mu.Unlock()
		s.rejectOpen(ctx, ev, rejectReason(err), err.Error())
		return
	}

	decision, err := s.admission.Evaluate(s.openRiskLocked(), remainingDaily, quantity, plan.StopPoints, facts)
	if err != nil {
		s.mu.Unlock()
		s.rejectOpen(ctx, ev, rejectReason(err), err.Error())
		return
	}

	token := strconv.FormatInt(ev.RefID, 10)
	s.admission.Reserve(token, decision.RiskAmount)
	s.mu.Unlock()

	if decision.Shrunk {
		s.logger.Info(ctx, op+": quantity shrunk to fit the open-risk cap", map[string]interface{}{
			"refID":     ev.RefID,
			"requested": quantity,
			"admitted":  decision.Quantity,
		})
	}

	result, err := s.venue.PlaceOrder(ctx, &ports.OrderSpec{
		Symbol:      ev.Symbol,
		Direction:   plan.Direction,
		Quantity:    decision.Quantity,
		StopPrice:   plan.StopPrice,
		TargetPrice: plan.TargetPrice,
		ClientTag:   token,
	})
	if err != nil {
		s.metrics.VenueErrors.Inc()
		s.mu.Lock()
		s.admission.Release(token)
		if errors.Is(err, ports.ErrAuthenticationFailed) || errors.Is(err, ports.ErrInvalidRequest) {
			// Bad credentials or malformed orders will not heal on
			// their own; stop taking new trades.
			s.haltLocked(ctx, "permanent venue failure: "+err.Error())
		}
		s.mu.Unlock()
		s.rejectOpen(ctx, ev, "venue_error", err.Error())
		return
	}

	pos := &domain.ManagedPosition{
		ID:              uuid.NewString(),
		RefID:           ev.RefID,
		Symbol:          ev.Symbol,
		Direction:       plan.Direction,
		State:           domain.StateOpen,
		EntryPrice:      result.FillPrice,
		Quantity:        result.Quantity,
		InitialQuantity: result.Quantity,
		StopPrice:       plan.StopPrice,
		TargetPrice:     plan.TargetPrice,
		StopPoints:      plan.StopPoints,
		RiskAmount:      decision.RiskAmount,
		PointSize:       facts.PointSize,
		ValuePerPoint:   facts.ValuePerPoint,
		OpenedAt:        result.PlacedAt,
		Status:          domain.StatusOpen,
	}
	if pos.EntryPrice <= 0 {
		// Market fill price missing; the quote anchor is the best estimate.
		pos.EntryPrice = plan.AnchorPrice
	}

	s.mu.Lock()
	s.admission.Commit(token)
	s.positions[pos.ID] = pos
	s.refs[ev.RefID] = pos.ID
	if err := s.repo.SavePosition(ctx, pos); err != nil {
		// The venue position is live; keep managing it from memory.
		s.logger.Error(ctx, err, op+": failed to persist new position", map[string]interface{}{"positionID": pos.ID})
	}
	openRisk := s.openRiskLocked()
	count := len(s.positions)
	s.mu.Unlock()

	s.metrics.ProposalsAdmitted.Inc()
	s.metrics.OpenRisk.Set(openRisk)
	s.metrics.OpenPositions.Set(float64(count))
	s.logRiskEvent(ctx, domain.RiskEventAdmitted, ev.Symbol, ev.RefID,
		fmt.Sprintf("risk=%.2f qty=%.4f stopPoints=%.1f", decision.RiskAmount, decision.Quantity, plan.StopPoints))
	s.logRiskEvent(ctx, domain.RiskEventOpened, ev.Symbol, ev.RefID,
		fmt.Sprintf("entry=%.5f stop=%.5f target=%.5f", pos.EntryPrice, pos.StopPrice, pos.TargetPrice))
	s.logger.Info(ctx, op+": position opened", map[string]interface{}{
		"positionID": pos.ID,
		"refID":      ev.RefID,
		"symbol":     ev.Symbol,
		"direction":  pos.Direction,
		"quantity":   pos.Quantity,
		"entry":      pos.EntryPrice,
		"stop":       pos.StopPrice,
		"target":     pos.TargetPrice,
		"risk":       pos.RiskAmount,
	})
}

// handleModify syncs master stop and target moves onto the follower
// position. A master widening its stop never loosens the follower's; a
// cleared master target clears the follower's.
func (s *Service) handleModify(ctx context.Context, ev *domain.CopyEvent) {
	op := "handleModify"

	s.mu.Lock()
	pos := s.positionByRefLocked(ev.RefID)
	if pos == nil {
		s.mu.Unlock()
		s.logger.Debug(ctx, op+": modify for unmanaged ticket ignored", map[string]interface{}{"refID": ev.RefID})
		return
	}
	symbol := pos.Symbol
	entry := pos.EntryPrice
	dir := pos.Direction
	s.mu.Unlock()

	facts, err := s.factsFor(ctx, symbol)
	if err != nil {
		s.metrics.VenueErrors.Inc()
		s.logger.Warn(ctx, op+": instrument facts unavailable", map[string]interface{}{"symbol": symbol, "error": err.Error()})
		return
	}
	quote, err := s.venue.GetQuote(ctx, symbol)
	if err != nil {
		s.metrics.VenueErrors.Inc()
		s.logger.Warn(ctx, op+": quote unavailable", map[string]interface{}{"symbol": symbol, "error": err.Error()})
		return
	}

	candStop, candTarget := s.stops.TransformModify(ev.Entry, ev.Stop, ev.Target, entry, dir)

	s.venueMu.Lock()
	defer s.venueMu.Unlock()

	s.mu.Lock()
	if !pos.IsOpen() {
		s.mu.Unlock()
		return
	}
	newStop := pos.StopPrice
	if candStop > 0 {
		valid := s.stops.ValidStop(dir, candStop, quote, facts)
		if pos.Tightens(valid) {
			newStop = valid
		} else {
			s.logger.Debug(ctx, op+": master stop move would loosen the follower stop, kept", map[string]interface{}{
				"refID":     ev.RefID,
				"candidate": valid,
				"current":   pos.StopPrice,
			})
		}
	}
	newTarget := 0.0
	if candTarget > 0 {
		newTarget = s.stops.ValidTarget(dir, candTarget, quote, facts)
	}
	changed := newStop != pos.StopPrice || newTarget != pos.TargetPrice
	s.mu.Unlock()

	if !changed {
		return
	}
	if err := s.venue.ModifyStopTarget(ctx, symbol, newStop, newTarget); err != nil {
		s.metrics.VenueErrors.Inc()
		s.logger.Error(ctx, err, op+": venue rejected protective level update", map[string]interface{}{"refID": ev.RefID})
		return
	}

	s.mu.Lock()
	pos.StopPrice = newStop
	pos.TargetPrice = newTarget
	if err := s.repo.UpdatePosition(ctx, pos); err != nil {
		s.logger.Error(ctx, err, op+": failed to persist modified position", map[string]interface{}{"positionID": pos.ID})
	}
	s.mu.Unlock()

	s.logRiskEvent(ctx, domain.RiskEventModified, symbol, ev.RefID,
		fmt.Sprintf("stop=%.5f target=%.5f", newStop, newTarget))
	s.logger.Info(ctx, op+": protective levels updated", map[string]interface{}{
		"refID":  ev.RefID,
		"symbol": symbol,
		"stop":   newStop,
		"target": newTarget,
	})
}

// handleClose flattens the follower position when the master closes.
func (s *Service) handleClose(ctx context.Context, ev *domain.CopyEvent) {
	op := "handleClose"

	s.mu.Lock()
	pos := s.positionByRefLocked(ev.RefID)
	if pos == nil {
		s.mu.Unlock()
		s.logger.Debug(ctx, op+": close for unmanaged ticket ignored", map[string]interface{}{"refID": ev.RefID})
		return
	}
	symbol := pos.Symbol
	s.mu.Unlock()

	s.venueMu.Lock()
	defer s.venueMu.Unlock()

	if err := s.venue.ClosePosition(ctx, symbol, 1.0); err != nil {
		if !errors.Is(err, ports.ErrPositionNotFound) {
			s.metrics.VenueErrors.Inc()
			s.logger.Error(ctx, err, op+": failed to close position at venue", map[string]interface{}{
				"refID":  ev.RefID,
				"symbol": symbol,
			})
			// Still open at the venue; the next tick reconciles if it
			// closes there in the meantime.
			return
		}
		s.logger.Warn(ctx, op+": venue already flat, closing the record", map[string]interface{}{
			"refID":  ev.RefID,
			"symbol": symbol,
		})
	}

	s.closeManaged(ctx, pos, domain.CloseReasonMaster)
	s.logger.Info(ctx, op+": position closed on master signal", map[string]interface{}{
		"refID":  ev.RefID,
		"symbol": symbol,
	})
}

// manageLoop drives periodic position management.
func (s *Service) manageLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.ManageInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.manageTick(ctx)
		}
	}
}

// manageTick refreshes the budget picture, reconciles venue-side closes
// and applies lifecycle plans to each open position.
func (s *Service) manageTick(ctx context.Context) {
	op := "manageTick"

	acct, err := s.venue.GetAccount(ctx)
	if err != nil {
		s.metrics.VenueErrors.Inc()
		s.logger.Warn(ctx, op+": skipping tick, account snapshot unavailable", map[string]interface{}{"error": err.Error()})
		return
	}

	s.mu.Lock()
	s.rollDayLocked(ctx, acct.Equity, time.Now())
	s.lastEquity = acct.Equity
	remainingDaily := s.budget.RemainingDaily(acct.Equity)
	remainingOverall := s.budget.RemainingOverall(acct.Equity)
	open := make([]*domain.ManagedPosition, 0, len(s.positions))
	for _, p := range s.positions {
		open = append(open, p)
	}
	openRisk := s.openRiskLocked()
	s.mu.Unlock()

	s.metrics.Equity.Set(acct.Equity)
	s.metrics.RemainingDaily.Set(remainingDaily)
	s.metrics.RemainingOverall.Set(remainingOverall)
	s.metrics.OpenRisk.Set(openRisk)
	s.metrics.OpenPositions.Set(float64(len(open)))

	if len(open) == 0 {
		return
	}

	live, err := s.venue.GetOpenPositions(ctx, "")
	if err != nil {
		s.metrics.VenueErrors.Inc()
		s.logger.Warn(ctx, op+": skipping tick, venue positions unavailable", map[string]interface{}{"error": err.Error()})
		return
	}
	liveBySymbol := make(map[string]*ports.VenuePosition, len(live))
	for _, vp := range live {
		liveBySymbol[vp.Symbol] = vp
	}

	for _, pos := range open {
		if ctx.Err() != nil {
			return
		}
		if _, ok := liveBySymbol[pos.Symbol]; !ok {
			// Stop or target fired at the venue.
			s.logger.Info(ctx, op+": venue closed position, reconciling", map[string]interface{}{
				"positionID": pos.ID,
				"symbol":     pos.Symbol,
			})
			s.closeManaged(ctx, pos, domain.CloseReasonVenue)
			continue
		}
		s.managePosition(ctx, pos)
	}
}

// managePosition computes and applies one lifecycle plan. The venue
// calls run between the planning and the commit, so only the parts the
// venue accepted are folded back into the record.
func (s *Service) managePosition(ctx context.Context, pos *domain.ManagedPosition) {
	op := "managePosition"

	facts, err := s.factsFor(ctx, pos.Symbol)
	if err != nil {
		s.metrics.VenueErrors.Inc()
		s.logger.Warn(ctx, op+": instrument facts unavailable", map[string]interface{}{"symbol": pos.Symbol, "error": err.Error()})
		return
	}
	quote, err := s.venue.GetQuote(ctx, pos.Symbol)
	if err != nil {
		s.metrics.VenueErrors.Inc()
		s.logger.Warn(ctx, op+": quote unavailable", map[string]interface{}{"symbol": pos.Symbol, "error": err.Error()})
		return
	}
	atrPoints := s.atrPoints(ctx, pos.Symbol, facts)

	s.venueMu.Lock()
	defer s.venueMu.Unlock()

	s.mu.Lock()
	if !pos.IsOpen() {
		s.mu.Unlock()
		return
	}
	plan := s.lifecycle.Plan(pos, quote, atrPoints, facts)
	quantity := pos.Quantity
	target := pos.TargetPrice
	s.mu.Unlock()

	stopApplied := false
	if plan.NewStop > 0 {
		if err := s.venue.ModifyStopTarget(ctx, pos.Symbol, plan.NewStop, target); err != nil {
			s.venueFailure(ctx, err, op+": stop move failed, recomputing next tick", map[string]interface{}{
				"positionID": pos.ID,
				"newStop":    plan.NewStop,
			})
		} else {
			stopApplied = true
		}
	}

	partialApplied := false
	if plan.PartialQuantity > 0 && (plan.NewStop == 0 || stopApplied) && quantity > 0 {
		fraction := plan.PartialQuantity / quantity
		if fraction > 1 {
			fraction = 1
		}
		if err := s.venue.ClosePosition(ctx, pos.Symbol, fraction); err != nil {
			s.venueFailure(ctx, err, op+": partial close failed, recomputing next tick", map[string]interface{}{
				"positionID": pos.ID,
				"quantity":   plan.PartialQuantity,
			})
		} else {
			partialApplied = true
		}
	}

	s.commitPlan(ctx, pos, plan, stopApplied, partialApplied)
}

// commitPlan folds the applied parts of a lifecycle plan back into the
// position record and persists it.
func (s *Service) commitPlan(ctx context.Context, pos *domain.ManagedPosition, plan *lifecycle.Plan, stopApplied, partialApplied bool) {
	s.mu.Lock()
	if !pos.IsOpen() {
		s.mu.Unlock()
		return
	}

	changed := false
	if plan.BestExcursion > pos.BestExcursion {
		pos.BestExcursion = plan.BestExcursion
		changed = true
	}
	if stopApplied {
		pos.StopPrice = plan.NewStop
		changed = true
	}
	armCommitted := false
	if plan.ArmBreakeven && pos.State == domain.StateOpen && (plan.NewStop == 0 || stopApplied) {
		pos.BreakevenArmed = true
		pos.State = domain.StateArmed
		armCommitted = true
		changed = true
	}
	if plan.NextState == domain.StateTrailing && stopApplied && pos.State == domain.StateArmed {
		pos.State = domain.StateTrailing
		changed = true
	}
	if plan.MarkPartialDone && !pos.PartialClosed {
		pos.PartialClosed = true
		changed = true
	}
	if partialApplied {
		pos.Quantity -= plan.PartialQuantity
		if pos.Quantity < 0 {
			pos.Quantity = 0
		}
		pos.PartialClosed = true
		changed = true
	}
	if changed {
		if err := s.repo.UpdatePosition(ctx, pos); err != nil {
			s.logger.Error(ctx, err, "failed to persist lifecycle update", map[string]interface{}{"positionID": pos.ID})
		}
	}
	openRisk := s.openRiskLocked()
	stop := pos.StopPrice
	remaining := pos.Quantity
	s.mu.Unlock()

	if !changed {
		return
	}
	s.metrics.OpenRisk.Set(openRisk)

	if armCommitted {
		s.metrics.LifecycleActions.WithLabelValues("breakeven").Inc()
		s.logRiskEvent(ctx, domain.RiskEventBreakeven, pos.Symbol, pos.RefID, fmt.Sprintf("stop=%.5f", stop))
		s.logger.Info(ctx, "breakeven armed", map[string]interface{}{"positionID": pos.ID, "stop": stop})
	} else if stopApplied {
		s.metrics.LifecycleActions.WithLabelValues("trail").Inc()
		s.logRiskEvent(ctx, domain.RiskEventTrail, pos.Symbol, pos.RefID, fmt.Sprintf("stop=%.5f", stop))
		s.logger.Info(ctx, "stop trailed", map[string]interface{}{"positionID": pos.ID, "stop": stop})
	}
	if partialApplied {
		s.metrics.LifecycleActions.WithLabelValues("partial_close").Inc()
		s.logRiskEvent(ctx, domain.RiskEventPartial, pos.Symbol, pos.RefID,
			fmt.Sprintf("qty=%.4f remaining=%.4f", plan.PartialQuantity, remaining))
		s.logger.Info(ctx, "partial close taken", map[string]interface{}{
			"positionID": pos.ID,
			"quantity":   plan.PartialQuantity,
			"remaining":  remaining,
		})
	}
}

// closeManaged marks a managed position closed and drops it from the
// working set.
func (s *Service) closeManaged(ctx context.Context, pos *domain.ManagedPosition, reason domain.CloseReason) {
	s.mu.Lock()
	if !pos.IsOpen() {
		s.mu.Unlock()
		return
	}
	pos.Status = domain.StatusClosed
	pos.State = domain.StateClosed
	pos.ClosedAt = time.Now()
	pos.CloseReason = reason
	delete(s.positions, pos.ID)
	delete(s.refs, pos.RefID)
	if err := s.repo.UpdatePosition(ctx, pos); err != nil {
		s.logger.Error(ctx, err, "failed to persist closed position", map[string]interface{}{"positionID": pos.ID})
	}
	openRisk := s.openRiskLocked()
	count := len(s.positions)
	s.mu.Unlock()

	s.metrics.OpenRisk.Set(openRisk)
	s.metrics.OpenPositions.Set(float64(count))
	s.logRiskEvent(ctx, domain.RiskEventClosed, pos.Symbol, pos.RefID, string(reason))
}

// --- Status Snapshot ---

// PositionStatus is one open position in the status snapshot.
type PositionStatus struct {
	ID            string               `json:"id"`
	RefID         int64                `json:"ref_id"`
	Symbol        string               `json:"symbol"`
	Direction     domain.Direction     `json:"direction"`
	State         domain.PositionState `json:"state"`
	Quantity      float64              `json:"quantity"`
	EntryPrice    float64              `json:"entry_price"`
	StopPrice     float64              `json:"stop_price"`
	TargetPrice   float64              `json:"target_price"`
	RiskAmount    float64              `json:"risk_amount"`
	BestExcursion float64              `json:"best_excursion_points"`
	OpenedAt      time.Time            `json:"opened_at"`
}

// Status is the engine snapshot served on the status endpoint.
type Status struct {
	Halted           bool                `json:"halted"`
	DateKey          string              `json:"date_key"`
	DayStartEquity   float64             `json:"day_start_equity"`
	Equity           float64             `json:"equity"`
	RemainingDaily   float64             `json:"remaining_daily"`
	RemainingOverall float64             `json:"remaining_overall"`
	OpenRisk         float64             `json:"open_risk"`
	PendingRisk      float64             `json:"pending_risk"`
	OpenPositions    []*PositionStatus   `json:"open_positions"`
	RecentEvents     []*domain.RiskEvent `json:"recent_events,omitempty"`
}

// Snapshot assembles the engine state for the monitor's status endpoint.
func (s *Service) Snapshot(ctx context.Context) (interface{}, error) {
	s.mu.Lock()
	st := &Status{
		Halted:      s.halted,
		Equity:      s.lastEquity,
		OpenRisk:    s.openRiskLocked(),
		PendingRisk: s.admission.PendingRisk(),
	}
	if day := s.budget.Day(); day != nil {
		st.DateKey = day.DateKey
		st.DayStartEquity = day.StartEquity
		st.RemainingDaily = s.budget.RemainingDaily(s.lastEquity)
		st.RemainingOverall = s.budget.RemainingOverall(s.lastEquity)
	}
	st.OpenPositions = make([]*PositionStatus, 0, len(s.positions))
	for _, p := range s.positions {
		st.OpenPositions = append(st.OpenPositions, &PositionStatus{
			ID:            p.ID,
			RefID:         p.RefID,
			Symbol:        p.Symbol,
			Direction:     p.Direction,
			State:         p.State,
			Quantity:      p.Quantity,
			EntryPrice:    p.EntryPrice,
			StopPrice:     p.StopPrice,
			TargetPrice:   p.TargetPrice,
			RiskAmount:    p.RiskAmount,
			BestExcursion: p.BestExcursion,
			OpenedAt:      p.OpenedAt,
		})
	}
	s.mu.Unlock()

	sort.Slice(st.OpenPositions, func(i, j int) bool {
		return st.OpenPositions[i].OpenedAt.Before(st.OpenPositions[j].OpenedAt)
	})

	// The audit trail lives beyond the port interface; include it when
	// the repository can serve it.
	if src, ok := s.repo.(interface {
		RecentEvents(ctx context.Context, limit int) ([]*domain.RiskEvent, error)
	}); ok {
		if events, err := src.RecentEvents(ctx, recentEventCount); err == nil {
			st.RecentEvents = events
		}
	}
	return st, nil
}

// --- Private helper methods ---

// rollDayLocked rolls the budget day anchor when the calendar day
// changed and persists the new anchor.
// NOTE: assumes s.mu is held.
func (s *Service) rollDayLocked(ctx context.Context, equity float64, now time.Time) {
	ds, rolled := s.budget.RollIfNeeded(equity, now)
	if !rolled {
		return
	}
	if err := s.repo.UpsertDayState(ctx, ds); err != nil {
		s.logger.Error(ctx, err, "failed to persist day anchor", map[string]interface{}{"dateKey": ds.DateKey})
	}
	s.logRiskEvent(ctx, domain.RiskEventDayRolled, "", 0,
		fmt.Sprintf("date=%s startEquity=%.2f", ds.DateKey, ds.StartEquity))
	s.logger.Info(ctx, "daily budget rolled", map[string]interface{}{
		"dateKey":     ds.DateKey,
		"startEquity": ds.StartEquity,
	})
}

// haltLocked stops new admissions; open positions continue to be managed.
// NOTE: assumes s.mu is held.
func (s *Service) haltLocked(ctx context.Context, reason string) {
	if s.halted {
		return
	}
	s.halted = true
	s.logger.Error(ctx, errors.New(reason), "engine halted, manual restart required")
	s.logRiskEvent(ctx, domain.RiskEventHalted, "", 0, reason)
}

// positionByRefLocked resolves a master ticket to its managed position.
// NOTE: assumes s.mu is held.
func (s *Service) positionByRefLocked(refID int64) *domain.ManagedPosition {
	id, ok := s.refs[refID]
	if !ok {
		return nil
	}
	return s.positions[id]
}

// openRiskLocked sums committed stop-out risk and pending reservations.
// NOTE: assumes s.mu is held.
func (s *Service) openRiskLocked() float64 {
	total := s.admission.PendingRisk()
	for _, p := range s.positions {
		total += p.OpenRisk()
	}
	return total
}

// factsFor returns instrument facts with config fallbacks applied,
// cached after the first fetch. The venue's numbers win; config fills
// what the venue leaves at zero, and the engine's own lot cap applies
// on top.
func (s *Service) factsFor(ctx context.Context, symbol string) (*domain.InstrumentFacts, error) {
	s.factsMu.Lock()
	facts, ok := s.facts[symbol]
	s.factsMu.Unlock()
	if ok {
		return facts, nil
	}

	facts, err := s.venue.GetInstrumentFacts(ctx, symbol)
	if err != nil {
		return nil, err
	}

	if facts.QtyStep <= 0 {
		facts.QtyStep = s.cfg.LotStep
	}
	if facts.MinQty <= 0 {
		facts.MinQty = s.cfg.MinLot
	}
	if s.cfg.MaxLot > 0 && (facts.MaxQty <= 0 || s.cfg.MaxLot < facts.MaxQty) {
		facts.MaxQty = s.cfg.MaxLot
	}
	if s.cfg.StopLevelPoints > facts.StopLevelPoints {
		facts.StopLevelPoints = s.cfg.StopLevelPoints
	}
	if s.cfg.FreezeLevelPoints > facts.FreezeLevelPoints {
		facts.FreezeLevelPoints = s.cfg.FreezeLevelPoints
	}

	s.factsMu.Lock()
	s.facts[symbol] = facts
	s.factsMu.Unlock()
	return facts, nil
}

// atrPoints returns the current ATR in points, 0 when bars are not
// available. Callers treat 0 as volatility unknown.
func (s *Service) atrPoints(ctx context.Context, symbol string, facts *domain.InstrumentFacts) float64 {
	bars, err := s.venue.GetBars(ctx, symbol, s.cfg.ATRTimeframe, s.cfg.ATRPeriod+1)
	if err != nil {
		s.metrics.VenueErrors.Inc()
		s.logger.Debug(ctx, "bars unavailable for volatility", map[string]interface{}{
			"symbol": symbol,
			"error":  err.Error(),
		})
		return 0
	}
	return s.atr.Points(bars, facts.PointSize)
}

// rejectOpen records a rejected proposal in metrics, the audit log and
// the service log.
func (s *Service) rejectOpen(ctx context.Context, ev *domain.CopyEvent, reason, detail string) {
	s.metrics.ProposalsRejected.WithLabelValues(reason).Inc()
	s.logRiskEvent(ctx, domain.RiskEventRejected, ev.Symbol, ev.RefID, detail)
	s.logger.Info(ctx, "proposal rejected", map[string]interface{}{
		"refID":  ev.RefID,
		"symbol": ev.Symbol,
		"reason": reason,
		"detail": detail,
	})
}

// venueFailure counts and logs a failed venue call. Transient failures
// log at Warn since the next tick recomputes and retries; permanent
// ones log at Error so they stand out.
func (s *Service) venueFailure(ctx context.Context, err error, msg string, fields map[string]interface{}) {
	s.metrics.VenueErrors.Inc()
	if ports.Transient(err) {
		fields["error"] = err.Error()
		s.logger.Warn(ctx, msg, fields)
		return
	}
	s.logger.Error(ctx, err, msg, fields)
}

// logRiskEvent appends to the audit log, best effort.
func (s *Service) logRiskEvent(ctx context.Context, kind, symbol string, refID int64, detail string) {
	ev := &domain.RiskEvent{At: time.Now(), Kind: kind, Symbol: symbol, RefID: refID, Detail: detail}
	if err := s.repo.LogEvent(ctx, ev); err != nil {
		s.logger.Warn(ctx, "failed to write audit event", map[string]interface{}{
			"kind":  kind,
			"error": err.Error(),
		})
	}
}

// rejectReason maps pipeline errors onto metric labels.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, ports.ErrInsufficientBudget):
		return "budget_exhausted"
	case errors.Is(err, ports.ErrSizingInfeasible):
		return "sizing_infeasible"
	case errors.Is(err, ports.ErrAdmissionRejected):
		return "admission_rejected"
	case errors.Is(err, ports.ErrDataUnavailable):
		return "data_unavailable"
	default:
		return "error"
	}
}
