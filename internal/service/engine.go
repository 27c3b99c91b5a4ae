package service

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"reminder-engine/internal/dedup"
	"reminder-engine/internal/metrics"
	"reminder-engine/internal/model"
)

// RuleSource is the read side of the rule store used by the engine.
type RuleSource interface {
	ListEnabledRules(ctx context.Context) ([]model.Rule, error)
	GetLatestActivity(ctx context.Context, subjectID string, kind model.ActivityKind) (*model.ActivityRecord, error)
}

// RuleStatus is the outcome of evaluating one rule in one tick.
type RuleStatus string

const (
	StatusNotDue      RuleStatus = "not_due"
	StatusDeduped     RuleStatus = "deduped"
	StatusSent        RuleStatus = "sent"
	StatusUndelivered RuleStatus = "undelivered"
	StatusInvalid     RuleStatus = "invalid"
	StatusFailed      RuleStatus = "failed"
)

// RuleResult reports one rule's evaluation.
type RuleResult struct {
	RuleID   string
	Kind     model.RuleKind
	Status   RuleStatus
	Key      string
	Err      error
	Delivery *DeliveryResult
}

// TickReport aggregates the results of one evaluation.
type TickReport struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []RuleResult
}

// Count returns how many rules ended with status.
func (r TickReport) Count(status RuleStatus) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == status {
			n++
		}
	}
	return n
}

// Summary returns counts keyed by status.
func (r TickReport) Summary() map[RuleStatus]int {
	out := make(map[RuleStatus]int)
	for _, res := range r.Results {
		out[res.Status]++
	}
	return out
}

// EngineConfig tunes the evaluation routine.
type EngineConfig struct {
	Location    *time.Location
	Workers     int
	CallTimeout time.Duration
	Retention   time.Duration
}

// Engine evaluates every enabled rule and delivers the ones that fire.
//
// Evaluate may run concurrently with itself. Dedup keys make repeated
// firings within a window idempotent, except that two evaluations racing
// on the same key can both deliver.
type Engine struct {
	rules      RuleSource
	targets    TargetStore
	dispatcher *Dispatcher
	cache      dedup.Cache
	cfg        EngineConfig
	log        zerolog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

func NewEngine(rules RuleSource, targets TargetStore, dispatcher *Dispatcher, cache dedup.Cache, cfg EngineConfig, log zerolog.Logger, m *metrics.Metrics) *Engine {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.Retention <= 0 {
		cfg.Retention = dedup.DefaultRetention
	}
	return &Engine{
		rules:      rules,
		targets:    targets,
		dispatcher: dispatcher,
		cache:      cache,
		cfg:        cfg,
		log:        log,
		metrics:    m,
		now:        time.Now,
	}
}

// Cache exposes the dedup cache for health reporting.
func (e *Engine) Cache() dedup.Cache { return e.cache }

// Dispatcher exposes channel availability for health reporting.
func (e *Engine) Dispatcher() *Dispatcher { return e.dispatcher }

// Evaluate runs one tick at the current time.
func (e *Engine) Evaluate(ctx context.Context) (TickReport, error) {
	return e.EvaluateAt(ctx, e.now())
}

// EvaluateAt runs one tick as if the clock read now. Only a failure to list
// rules is returned as an error; per-rule failures are in the report.
func (e *Engine) EvaluateAt(ctx context.Context, now time.Time) (TickReport, error) {
	report := TickReport{StartedAt: now}

	listCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	rules, err := e.rules.ListEnabledRules(listCtx)
	cancel()
	if err != nil {
		report.FinishedAt = e.now()
		return report, fmt.Errorf("list enabled rules: %w", err)
	}

	memo := newTargetMemo(e.targets)
	report.Results = make([]RuleResult, len(rules))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i := range rules {
		i := i
		g.Go(func() error {
			report.Results[i] = e.evaluateRuleSafe(gctx, memo, rules[i], now)
			return nil
		})
	}
	_ = g.Wait()

	if report.Count(StatusSent) > 0 {
		e.Purge(ctx, now)
	}

	for _, res := range report.Results {
		e.metrics.RuleOutcome(string(res.Kind), string(res.Status))
	}
	report.FinishedAt = e.now()
	return report, nil
}

// Purge drops dedup entries older than the retention horizon.
func (e *Engine) Purge(ctx context.Context, now time.Time) {
	purgeCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	dropped, err := e.cache.PurgeOlderThan(purgeCtx, e.cfg.Retention, now)
	if err != nil {
		e.log.Warn().Err(err).Msg("purge dedup cache")
		return
	}
	remaining, err := e.cache.Len(purgeCtx)
	if err != nil {
		e.log.Warn().Err(err).Msg("count dedup cache")
		return
	}
	e.metrics.Purged(dropped, remaining)
	if dropped > 0 {
		e.log.Debug().Int("dropped", dropped).Int("remaining", remaining).Msg("purged dedup cache")
	}
}

// evaluateRuleSafe turns a panic in one rule into a failed result.
func (e *Engine) evaluateRuleSafe(ctx context.Context, memo *targetMemo, rule model.Rule, now time.Time) (res RuleResult) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Str("rule_id", rule.ID).Interface("panic", r).Str("stack", string(debug.Stack())).Msg("rule evaluation panicked")
			res = RuleResult{RuleID: rule.ID, Kind: rule.Kind(), Status: StatusFailed, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	res = e.evaluateRule(ctx, memo, rule, now)
	if res.Status == StatusFailed || res.Status == StatusInvalid {
		e.log.Warn().Str("rule_id", rule.ID).Str("status", string(res.Status)).Err(res.Err).Msg("rule skipped")
	}
	return res
}

func (e *Engine) evaluateRule(ctx context.Context, memo *targetMemo, rule model.Rule, now time.Time) RuleResult {
	res := RuleResult{RuleID: rule.ID, Kind: rule.Kind()}
	if err := rule.Validate(); err != nil {
		res.Status, res.Err = StatusInvalid, err
		return res
	}

	var since time.Time
	var hold time.Duration
	switch s := rule.Schedule.(type) {
	case model.TimeSchedule:
		if !MatchTime(s, now, e.cfg.Location) {
			res.Status = StatusNotDue
			return res
		}
		res.Key = dedup.TimeKey(rule.ID, now)
	case model.IntervalSchedule:
		actCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		last, err := e.rules.GetLatestActivity(actCtx, rule.OwnerID, rule.ActivityKind)
		cancel()
		if err != nil {
			res.Status, res.Err = StatusFailed, fmt.Errorf("latest activity: %w", err)
			return res
		}
		if last == nil {
			res.Status = StatusNotDue
			return res
		}
		since = last.LastOccurrence()
		m := MatchInterval(s, now, since)
		if !m.ShouldSend {
			res.Status = StatusNotDue
			return res
		}
		res.Key = dedup.IntervalKey(rule.ID, m.Window)
		// The window can outlast the retention horizon.
		hold = time.Duration(s.Minutes) * time.Minute
	}

	sent, err := e.cache.HasSent(ctx, res.Key)
	if err != nil {
		res.Status, res.Err = StatusFailed, fmt.Errorf("dedup lookup: %w", err)
		return res
	}
	if sent {
		res.Status = StatusDeduped
		return res
	}

	title, message := ReminderText(rule, now, since)
	data := map[string]string{"rule_id": rule.ID, "activity_kind": string(rule.ActivityKind)}
	delivery := e.dispatcher.sendVia(ctx, memo, rule.OwnerID, title, message, data)
	res.Delivery = &delivery
	if !delivery.Success {
		res.Status, res.Err = StatusUndelivered, delivery.Err
		return res
	}

	res.Status = StatusSent
	if err := e.cache.MarkSent(ctx, res.Key, now, hold); err != nil {
		e.log.Warn().Err(err).Str("rule_id", rule.ID).Str("key", res.Key).Msg("record dedup key")
	}
	e.log.Info().Str("rule_id", rule.ID).Str("key", res.Key).Msg("reminder delivered")
	return res
}

// targetMemo caches owner lookups for the duration of one tick and
// collapses concurrent lookups of the same owner.
type targetMemo struct {
	store TargetStore
	group singleflight.Group

	mu       sync.Mutex
	resolved map[string]model.DeliveryTarget
}

func newTargetMemo(store TargetStore) *targetMemo {
	return &targetMemo{store: store, resolved: make(map[string]model.DeliveryTarget)}
}

func (m *targetMemo) ResolveOwnerChannels(ctx context.Context, ownerID string) (model.DeliveryTarget, error) {
	m.mu.Lock()
	target, ok := m.resolved[ownerID]
	m.mu.Unlock()
	if ok {
		return target, nil
	}

	v, err, _ := m.group.Do(ownerID, func() (interface{}, error) {
		t, err := m.store.ResolveOwnerChannels(ctx, ownerID)
		if err != nil {
			return model.DeliveryTarget{}, err
		}
		m.mu.Lock()
		m.resolved[ownerID] = t
		m.mu.Unlock()
		return t, nil
	})
	if err != nil {
		return model.DeliveryTarget{}, err
	}
	return v.(model.DeliveryTarget), nil
}

// DeleteDeviceTokens deletes through to the store and drops the deleted
// tokens from memoized targets.
func (m *targetMemo) DeleteDeviceTokens(ctx context.Context, tokens []string) error {
	if err := m.store.DeleteDeviceTokens(ctx, tokens); err != nil {
		return err
	}
	gone := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		gone[t] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for owner, target := range m.resolved {
		kept := target.Tokens[:0:0]
		for _, tok := range target.Tokens {
			if _, dead := gone[tok.Token]; !dead {
				kept = append(kept, tok)
			}
		}
		target.Tokens = kept
		m.resolved[owner] = target
	}
	return nil
}
