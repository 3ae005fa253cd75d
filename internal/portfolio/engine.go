package portfolio

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/quantledger/backtester/internal/execution"
	"github.com/quantledger/backtester/internal/warndedup"
)

const tailXnThreshold = 4.0

// subKind discriminates a candidate's internal sub-events.
type subKind string

const (
	subOpen    subKind = "open"
	subPartial subKind = "partial"
	subFinal   subKind = "final"
)

type subEvent struct {
	Time     time.Time
	Kind     subKind
	IsClose  bool
	Xn       float64
	Fraction float64
}

func subPriority(se subEvent) int {
	if se.IsClose {
		return 0
	}
	if se.Kind == subOpen {
		return 1
	}
	return 2
}

// candidate tracks one signal outcome's replay state across the simulation.
type candidate struct {
	idx       int
	outcome   Outcome
	subEvents []subEvent

	admitted bool
	skipped  bool
	position *Position
}

func buildCandidate(idx int, o Outcome) *candidate {
	c := &candidate{idx: idx, outcome: o}
	c.subEvents = append(c.subEvents, subEvent{Time: o.EntryTime, Kind: subOpen})

	xns := sortedXns(o.LevelsHit)
	closingPartial := false
	for i, xn := range xns {
		t := o.LevelsHit[xn]
		frac := o.FractionsExited[xn]
		isLast := i == len(xns)-1
		isClose := isLast && t.Equal(o.ExitTime)
		if isClose {
			closingPartial = true
		}
		c.subEvents = append(c.subEvents, subEvent{Time: t, Kind: subPartial, Xn: xn, Fraction: frac, IsClose: isClose})
	}
	if !closingPartial {
		c.subEvents = append(c.subEvents, subEvent{Time: o.ExitTime, Kind: subFinal, IsClose: true})
	}
	return c
}

func sortedXns(m map[float64]time.Time) []float64 {
	out := make([]float64, 0, len(m))
	for xn := range m {
		out = append(out, xn)
	}
	sort.Float64s(out)
	return out
}

type flatEvent struct {
	candidateIdx int
	seq          int
	se           subEvent
}

// Engine replays a time-sorted stream of signal outcomes into positions,
// executions, and a typed event ledger, applying exposure limits and reset
// triggers.
type Engine struct {
	cfg   Config
	dedup *warndedup.Dedup

	balance          float64
	openPositions    map[uuid.UUID]*candidate
	closedPositions  []Position
	executions       []Execution
	events           []Event
	equityCurve      []EquityPoint
	runningMax       float64
	maxDrawdownPct   float64

	cycleStartEquity  float64
	equityPeakInCycle float64
	lastResetTime     *time.Time
	resetCount        int

	tradesExecuted       int
	tradesSkippedByRisk  int
	tradesSkippedByReset int

	recentBlocked  []bool
	recentHoldDays []float64
}

// NewEngine constructs an Engine. dedup may be nil, in which case warnings
// fall back to direct logging.
func NewEngine(cfg Config, dedup *warndedup.Dedup) *Engine {
	return &Engine{
		cfg:               cfg,
		dedup:             dedup,
		balance:           cfg.InitialBalanceSOL,
		openPositions:     make(map[uuid.UUID]*candidate),
		runningMax:        cfg.InitialBalanceSOL,
		cycleStartEquity:  cfg.InitialBalanceSOL,
		equityPeakInCycle: cfg.InitialBalanceSOL,
	}
}

// Replay executes the full event-ordered simulation over outcomes (which
// need not be pre-sorted; Replay establishes the deterministic order
// itself) and returns the final snapshot.
func (e *Engine) Replay(outcomes []Outcome) PortfolioStats {
	candidates := make([]*candidate, 0, len(outcomes))
	for i, o := range outcomes {
		if !o.HasEntry() {
			continue
		}
		candidates = append(candidates, buildCandidate(i, o))
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].outcome.EntryTime.Before(candidates[j].outcome.EntryTime)
	})
	for newIdx, c := range candidates {
		c.idx = newIdx
	}

	flat := make([]flatEvent, 0)
	for _, c := range candidates {
		for seq, se := range c.subEvents {
			flat = append(flat, flatEvent{candidateIdx: c.idx, seq: seq, se: se})
		}
	}

	sort.SliceStable(flat, func(i, j int) bool {
		a, b := flat[i], flat[j]
		if !a.se.Time.Equal(b.se.Time) {
			return a.se.Time.Before(b.se.Time)
		}
		pa, pb := subPriority(a.se), subPriority(b.se)
		if pa != pb {
			return pa < pb
		}
		if a.candidateIdx != b.candidateIdx {
			return a.candidateIdx < b.candidateIdx
		}
		return a.seq < b.seq
	})

	e.recordEquityPoint(e.firstTimestamp(flat))

	for _, fe := range flat {
		c := candidates[fe.candidateIdx]
		if c.skipped {
			continue
		}
		switch fe.se.Kind {
		case subOpen:
			e.handleOpen(c)
		case subPartial, subFinal:
			if !c.admitted {
				continue
			}
			e.handleLeg(c, fe.se)
		}
	}

	return e.snapshot()
}

func (e *Engine) firstTimestamp(flat []flatEvent) time.Time {
	if len(flat) == 0 {
		return time.Time{}
	}
	return flat[0].se.Time
}

func (e *Engine) inResetGrace(t time.Time) bool {
	if e.lastResetTime == nil {
		return false
	}
	grace := time.Duration(e.cfg.ResetGraceMinutes * float64(time.Minute))
	return t.After(*e.lastResetTime) && !t.After(e.lastResetTime.Add(grace))
}

func (e *Engine) handleOpen(c *candidate) {
	o := c.outcome

	if e.inResetGrace(o.EntryTime) {
		c.skipped = true
		e.tradesSkippedByReset++
		e.recentBlocked = append(e.recentBlocked, true)
		e.trimWindows()
		return
	}

	size := e.positionSize()
	exposure := e.currentExposure()

	if exposure+size > e.cfg.MaxExposure*e.balance ||
		len(e.openPositions) >= e.cfg.MaxOpenPositions ||
		e.balance < size+e.cfg.Fee.NetworkFeeSOL {
		c.skipped = true
		e.tradesSkippedByRisk++
		e.recentBlocked = append(e.recentBlocked, true)
		e.trimWindows()
		e.events = append(e.events, Event{Type: EventRiskLimitHit, Timestamp: o.EntryTime, Reason: "admission_refused"})
		return
	}

	entryResult := execution.ApplyEntry(o.EntryPrice, size, e.cfg.Fee)
	pos := &Position{
		PositionID:      uuid.New(),
		SignalID:        o.SignalID,
		ContractAddress: o.Contract,
		Strategy:        o.Strategy,
		EntryTime:       o.EntryTime,
		Size:            size,
		RawEntryPrice:   o.EntryPrice,
		ExecEntryPrice:  entryResult.EffectiveEntryPrice,
		Status:          StatusOpen,
		FeesTotalSOL:    entryResult.FeesSOL,
		remaining:       1.0,
	}

	e.balance -= size + entryResult.FeesSOL
	c.admitted = true
	c.position = pos
	e.openPositions[pos.PositionID] = c

	e.executions = append(e.executions, Execution{
		PositionID: pos.PositionID, SignalID: o.SignalID, Strategy: o.Strategy,
		EventTime: o.EntryTime, EventType: ExecEntry, QtyDelta: size,
		RawPrice: o.EntryPrice, ExecPrice: entryResult.EffectiveEntryPrice, FeesSOL: entryResult.FeesSOL,
	})
	e.events = append(e.events, Event{
		Type: EventPositionOpened, PositionID: pos.PositionID, Timestamp: o.EntryTime,
		Meta: map[string]interface{}{"size": size},
	})
	e.recentBlocked = append(e.recentBlocked, false)
	e.trimWindows()
	e.recordEquityPoint(o.EntryTime)
}

func (e *Engine) positionSize() float64 {
	switch e.cfg.AllocationMode {
	case "fixed":
		return e.cfg.InitialBalanceSOL * e.cfg.PercentPerTrade
	case "kelly":
		stats := computeKellyStats(e.closedPositions)
		return kellyPositionSize(stats, e.balance, e.cfg.KellyFraction)
	default:
		return e.balance * e.cfg.PercentPerTrade
	}
}

func (e *Engine) currentExposure() float64 {
	total := 0.0
	for _, c := range e.openPositions {
		total += c.position.Size * c.position.remaining
	}
	return total
}

func (e *Engine) legKind(o Outcome, xn float64) execution.LegKind {
	if xn > 0 {
		return execution.LegExitTP
	}
	switch o.CanonicalReason {
	case "stop_loss":
		return execution.LegExitSL
	case "time_stop":
		return execution.LegExitTimeout
	case "manual_close":
		return execution.LegExitManual
	default:
		return execution.LegExitTimeout
	}
}

func (e *Engine) handleLeg(c *candidate, se subEvent) {
	pos := c.position
	o := c.outcome

	var rawPrice float64
	var fraction float64
	if se.Kind == subPartial {
		rawPrice = pos.RawEntryPrice * se.Xn
		fraction = se.Fraction
	} else {
		rawPrice = o.ExitPrice
		fraction = pos.remaining
	}
	if fraction <= 0 {
		fraction = 0
	}

	committed := pos.Size * fraction
	kind := e.legKind(o, se.Xn)
	pnlPct := execution.EffectivePnLPct(pos.ExecEntryPrice, execution.EffectiveExitPrice(rawPrice, kind, e.cfg.Fee))
	notionalReturned := committed * (1 + pnlPct)
	exitResult := execution.ApplyExit(pos.ExecEntryPrice, rawPrice, notionalReturned, kind, e.cfg.Fee)

	pnlDelta := exitResult.NotionalAfterFees - committed
	pos.remaining -= fraction
	pos.FeesTotalSOL += exitResult.FeesSOL
	pos.PnLSOL += pnlDelta
	pos.RealizedTotalPnLSOL += pnlDelta
	if se.Xn >= tailXnThreshold {
		pos.RealizedTailPnLSOL += pnlDelta
	}
	if se.Xn > pos.MaxXnReached {
		pos.MaxXnReached = se.Xn
	}

	e.balance += exitResult.NotionalAfterFees

	execType := ExecPartialExit
	eventType := EventPositionPartial
	if se.IsClose {
		execType = ExecFinalExit
		eventType = EventPositionClosed
	}

	e.executions = append(e.executions, Execution{
		PositionID: pos.PositionID, SignalID: o.SignalID, Strategy: o.Strategy,
		EventTime: se.Time, EventType: execType, QtyDelta: -fraction * pos.Size,
		RawPrice: rawPrice, ExecPrice: exitResult.EffectiveExitPrice,
		FeesSOL: exitResult.FeesSOL, PnLSOLDelta: pnlDelta,
	})
	e.events = append(e.events, Event{
		Type: eventType, PositionID: pos.PositionID, Timestamp: se.Time,
		Meta: map[string]interface{}{"level_xn": se.Xn, "fraction": fraction},
	})
	e.recordEquityPoint(se.Time)

	if se.IsClose {
		e.closePosition(c, se.Time, exitResult.EffectiveExitPrice)
	}
}

func (e *Engine) closePosition(c *candidate, at time.Time, execExitPrice float64) {
	pos := c.position
	pos.Status = StatusClosed
	pos.ExitTime = at
	pos.RawExitPrice = c.outcome.ExitPrice
	pos.ExecExitPrice = execExitPrice
	pos.HoldMinutes = at.Sub(pos.EntryTime).Minutes()
	if pos.MaxXnReached == 0 {
		if pos.ExecEntryPrice != 0 {
			pos.MaxXnReached = pos.RawExitPrice / pos.ExecEntryPrice
		}
	}
	delete(e.openPositions, pos.PositionID)

	e.recentHoldDays = append(e.recentHoldDays, pos.HoldMinutes/1440.0)
	e.trimWindows()

	e.tradesExecuted++
	e.closedPositions = append(e.closedPositions, *pos)
	idx := len(e.closedPositions) - 1
	e.recordEquityPoint(at)

	e.maybeTriggerReset(pos, at, idx)
}

func (e *Engine) maybeTriggerReset(justClosed *Position, at time.Time, closedIdx int) {
	if e.cfg.RunnerResetEnabled && justClosed.MaxXnReached >= e.cfg.RunnerResetMultiple {
		e.closedPositions[closedIdx].TriggeredPortfolioReset = true
		e.triggerReset(at, ResetRunnerLegacy, &justClosed.PositionID)
		return
	}
	if e.cfg.ProfitResetEnabled && e.cycleStartEquity > 0 &&
		e.equityPeakInCycle/e.cycleStartEquity >= e.cfg.ProfitResetMultiple {
		e.triggerReset(at, ResetProfitReset, nil)
		return
	}
	if e.cfg.CapacityReset.Enabled && e.capacityConditionMet() {
		e.triggerReset(at, ResetCapacityPrune, nil)
	}
}

func (e *Engine) capacityConditionMet() bool {
	blockedRatio := 0.0
	if len(e.recentBlocked) > 0 {
		blocked := 0
		for _, b := range e.recentBlocked {
			if b {
				blocked++
			}
		}
		blockedRatio = float64(blocked) / float64(len(e.recentBlocked))
	}
	avgHoldDays := 0.0
	if len(e.recentHoldDays) > 0 {
		sum := 0.0
		for _, d := range e.recentHoldDays {
			sum += d
		}
		avgHoldDays = sum / float64(len(e.recentHoldDays))
	}
	return blockedRatio > e.cfg.CapacityReset.MaxBlockedRatio || avgHoldDays > e.cfg.CapacityReset.MaxAvgHoldDays
}

func (e *Engine) trimWindows() {
	n := e.cfg.CapacityReset.WindowSize
	if n <= 0 {
		n = 50
	}
	if len(e.recentBlocked) > n {
		e.recentBlocked = e.recentBlocked[len(e.recentBlocked)-n:]
	}
	if len(e.recentHoldDays) > n {
		e.recentHoldDays = e.recentHoldDays[len(e.recentHoldDays)-n:]
	}
}

// triggerReset closes every still-open position at `at`. A forced close has
// no live market price for that position (the replay carries only the
// position's own outcome schedule, not a continuous feed), so it is closed
// flat at its own raw entry price -- documented in DESIGN.md.
func (e *Engine) triggerReset(at time.Time, reason ResetReason, triggeringPositionID *uuid.UUID) {
	e.resetCount++
	e.lastResetTime = &at

	triggerID := uuid.Nil
	if triggeringPositionID != nil {
		triggerID = *triggeringPositionID
	}
	e.events = append(e.events, Event{
		Type: EventResetTriggered, PositionID: triggerID, Timestamp: at, Reason: string(reason),
	})

	ids := make([]uuid.UUID, 0, len(e.openPositions))
	for id := range e.openPositions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	for _, id := range ids {
		c := e.openPositions[id]
		pos := c.position
		fraction := pos.remaining
		committed := pos.Size * fraction
		rawPrice := pos.RawEntryPrice

		exitResult := execution.ApplyExit(pos.ExecEntryPrice, rawPrice, committed, execution.LegExitManual, e.cfg.Fee)
		pnlDelta := exitResult.NotionalAfterFees - committed

		pos.remaining = 0
		pos.FeesTotalSOL += exitResult.FeesSOL
		pos.PnLSOL += pnlDelta
		pos.RealizedTotalPnLSOL += pnlDelta
		pos.ResetReason = string(reason)
		if triggeringPositionID != nil && *triggeringPositionID == pos.PositionID {
			pos.TriggeredPortfolioReset = true
			pos.ClosedByReset = false
		} else {
			pos.ClosedByReset = true
		}

		e.balance += exitResult.NotionalAfterFees
		e.executions = append(e.executions, Execution{
			PositionID: pos.PositionID, SignalID: pos.SignalID, Strategy: pos.Strategy,
			EventTime: at, EventType: ExecResetClose, QtyDelta: -committed,
			RawPrice: rawPrice, ExecPrice: exitResult.EffectiveExitPrice,
			FeesSOL: exitResult.FeesSOL, PnLSOLDelta: pnlDelta, ResetReason: string(reason),
		})
		e.events = append(e.events, Event{
			Type: EventPositionClosed, PositionID: pos.PositionID, Timestamp: at,
			Reason: string(reason),
		})

		pos.Status = StatusClosed
		pos.ExitTime = at
		pos.RawExitPrice = rawPrice
		pos.ExecExitPrice = exitResult.EffectiveExitPrice
		pos.HoldMinutes = at.Sub(pos.EntryTime).Minutes()

		e.tradesExecuted++
		e.closedPositions = append(e.closedPositions, *pos)
		delete(e.openPositions, id)
	}

	e.recordEquityPoint(at)
	e.cycleStartEquity = e.balance
	e.equityPeakInCycle = e.balance
}

func (e *Engine) recordEquityPoint(at time.Time) {
	e.equityCurve = append(e.equityCurve, EquityPoint{Timestamp: at, Balance: e.balance})
	if e.balance > e.runningMax {
		e.runningMax = e.balance
	}
	if e.runningMax > 0 {
		dd := (e.balance - e.runningMax) / e.runningMax
		if dd < e.maxDrawdownPct {
			e.maxDrawdownPct = dd
		}
	}
	if e.balance > e.equityPeakInCycle {
		e.equityPeakInCycle = e.balance
	}
}

func (e *Engine) snapshot() PortfolioStats {
	totalReturn := 0.0
	if e.cfg.InitialBalanceSOL != 0 {
		totalReturn = (e.balance - e.cfg.InitialBalanceSOL) / e.cfg.InitialBalanceSOL
	}
	return PortfolioStats{
		FinalBalanceSOL:        e.balance,
		TotalReturnPct:         totalReturn,
		MaxDrawdownPct:         e.maxDrawdownPct,
		TradesExecuted:         e.tradesExecuted,
		TradesSkippedByRisk:    e.tradesSkippedByRisk,
		TradesSkippedByReset:   e.tradesSkippedByReset,
		PortfolioResetCount:    e.resetCount,
		LastPortfolioResetTime: e.lastResetTime,
		CycleStartEquity:       e.cycleStartEquity,
		EquityPeakInCycle:      e.equityPeakInCycle,
	}
}

// Positions returns every closed position produced by the last Replay.
func (e *Engine) Positions() []Position { return e.closedPositions }

// Executions returns every execution row produced by the last Replay.
func (e *Engine) Executions() []Execution { return e.executions }

// Events returns the full typed event stream produced by the last Replay.
func (e *Engine) Events() []Event { return e.events }

// EquityCurve returns the time-ordered equity samples from the last Replay.
func (e *Engine) EquityCurve() []EquityPoint { return e.equityCurve }

func (e *Engine) warnOnce(key, msg string) {
	if e.dedup != nil {
		e.dedup.WarnOnce(key, msg)
		return
	}
	log.Warn().Str("key", key).Msg(msg)
}
