package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reminder-engine/internal/dedup"
	"reminder-engine/internal/model"
)

type engineFixture struct {
	store  *fakeStore
	chat   *fakeChat
	push   *fakePush
	cache  *dedup.MemoryCache
	engine *Engine
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{
		store: newFakeStore(),
		chat:  newFakeChat(),
		push:  newFakePush(),
		cache: dedup.NewMemoryCache(24*time.Hour, 0),
	}
	d := NewDispatcher(f.store, f.chat, f.push, time.Second, zerolog.Nop(), nil)
	f.engine = NewEngine(f.store, f.store, d, f.cache, EngineConfig{Location: time.UTC, Workers: 4, CallTimeout: time.Second}, zerolog.Nop(), nil)
	f.store.targets["u1"] = model.DeliveryTarget{ChatID: chatID(10)}
	return f
}

func (f *engineFixture) tick(t *testing.T, now time.Time) TickReport {
	t.Helper()
	report, err := f.engine.EvaluateAt(context.Background(), now)
	require.NoError(t, err)
	return report
}

func timeRule(id string, hour, minute int) model.Rule {
	return model.Rule{
		ID:           id,
		OwnerID:      "u1",
		ActivityKind: model.ActivityFeeding,
		Enabled:      true,
		Schedule:     model.TimeSchedule{At: model.TimeOfDay{Hour: hour, Minute: minute}, Days: model.AllDays},
	}
}

func intervalRule(id string, minutes int) model.Rule {
	return model.Rule{
		ID:           id,
		OwnerID:      "u1",
		ActivityKind: model.ActivityFeeding,
		Enabled:      true,
		Schedule:     model.IntervalSchedule{Minutes: minutes},
	}
}

func TestEngineTimeRuleScenario(t *testing.T) {
	f := newEngineFixture(t)
	f.store.rules = []model.Rule{timeRule("r1", 8, 0)}
	day := monday

	report := f.tick(t, day.Add(8*time.Hour+30*time.Second))
	require.Len(t, report.Results, 1)
	assert.Equal(t, StatusSent, report.Results[0].Status)
	assert.Equal(t, "r1-time-2026-03-02T08:00", report.Results[0].Key)
	assert.Equal(t, 1, f.chat.count())

	report = f.tick(t, day.Add(8*time.Hour+45*time.Second))
	assert.Equal(t, StatusDeduped, report.Results[0].Status)

	report = f.tick(t, day.Add(8*time.Hour+2*time.Minute))
	assert.Equal(t, StatusNotDue, report.Results[0].Status)
	assert.Equal(t, 1, f.chat.count())

	// Next day is a new window.
	report = f.tick(t, day.AddDate(0, 0, 1).Add(8*time.Hour+10*time.Second))
	assert.Equal(t, StatusSent, report.Results[0].Status)
	assert.Equal(t, 2, f.chat.count())
}

func TestEngineIntervalRuleScenario(t *testing.T) {
	f := newEngineFixture(t)
	f.store.rules = []model.Rule{intervalRule("r2", 180)}
	last := monday.Add(6 * time.Hour)
	f.store.activities[activityKey("u1", model.ActivityFeeding)] = &model.ActivityRecord{SubjectID: "u1", Kind: model.ActivityFeeding, StartTime: last.Add(-20 * time.Minute), EndTime: &last}

	report := f.tick(t, last.Add(179*time.Minute))
	assert.Equal(t, StatusNotDue, report.Results[0].Status)

	report = f.tick(t, last.Add(181*time.Minute))
	assert.Equal(t, StatusSent, report.Results[0].Status)
	assert.Equal(t, "r2-interval-1", report.Results[0].Key)
	require.Equal(t, 1, f.chat.count())
	assert.Contains(t, f.chat.calls[0].Text, "It has been 3 h 1 min since the last feeding.")

	report = f.tick(t, last.Add(182*time.Minute))
	assert.Equal(t, StatusDeduped, report.Results[0].Status)

	report = f.tick(t, last.Add(365*time.Minute))
	assert.Equal(t, StatusSent, report.Results[0].Status)
	assert.Equal(t, "r2-interval-2", report.Results[0].Key)
	assert.Equal(t, 2, f.chat.count())
}

func TestEngineLongWindowSurvivesPurge(t *testing.T) {
	f := newEngineFixture(t)
	last := monday.Add(6 * time.Hour)
	f.store.activities[activityKey("u1", model.ActivityFeeding)] = &model.ActivityRecord{StartTime: last}
	f.store.rules = []model.Rule{intervalRule("long", 300), timeRule("t", 13, 30)}

	report := f.tick(t, last.Add(301*time.Minute))
	require.Equal(t, 1, report.Count(StatusSent))

	// The time rule's send purges entries older than two hours.
	report = f.tick(t, monday.Add(13*time.Hour+30*time.Minute))
	require.Equal(t, 1, report.Count(StatusSent))

	report = f.tick(t, monday.Add(13*time.Hour+31*time.Minute))
	for _, res := range report.Results {
		if res.RuleID == "long" {
			assert.Equal(t, StatusDeduped, res.Status)
		}
	}
	assert.Equal(t, 2, f.chat.count())
}

func TestEngineRejectsOversizedInterval(t *testing.T) {
	f := newEngineFixture(t)
	last := monday
	f.store.activities[activityKey("u1", model.ActivityFeeding)] = &model.ActivityRecord{StartTime: last}
	f.store.rules = []model.Rule{intervalRule("huge", 200_000_000)}

	report := f.tick(t, last.Add(time.Hour))
	assert.Equal(t, StatusInvalid, report.Results[0].Status)
	assert.ErrorIs(t, report.Results[0].Err, model.ErrMalformedRule)
	assert.Zero(t, f.chat.count())
}

// The tolerance spans two minute buckets, so ticks on either side of the
// scheduled minute each get their own key.
func TestEngineTimeRuleKeysByTickMinute(t *testing.T) {
	f := newEngineFixture(t)
	f.store.rules = []model.Rule{timeRule("r1", 8, 0)}

	before := f.tick(t, monday.Add(7*time.Hour+59*time.Minute+30*time.Second))
	after := f.tick(t, monday.Add(8*time.Hour+30*time.Second))

	assert.Equal(t, StatusSent, before.Results[0].Status)
	assert.Equal(t, "r1-time-2026-03-02T07:59", before.Results[0].Key)
	assert.Equal(t, StatusSent, after.Results[0].Status)
	assert.Equal(t, "r1-time-2026-03-02T08:00", after.Results[0].Key)
	assert.Equal(t, 2, f.chat.count())
}

func TestEngineNewActivityResetsInterval(t *testing.T) {
	f := newEngineFixture(t)
	f.store.rules = []model.Rule{intervalRule("r2", 60)}
	key := activityKey("u1", model.ActivityFeeding)
	first := monday.Add(6 * time.Hour)
	f.store.activities[key] = &model.ActivityRecord{StartTime: first}

	report := f.tick(t, first.Add(61*time.Minute))
	assert.Equal(t, StatusSent, report.Results[0].Status)

	f.store.activities[key] = &model.ActivityRecord{StartTime: first.Add(70 * time.Minute)}
	report = f.tick(t, first.Add(100*time.Minute))
	assert.Equal(t, StatusNotDue, report.Results[0].Status)
}

func TestEngineNoActivityNeverFires(t *testing.T) {
	f := newEngineFixture(t)
	f.store.rules = []model.Rule{intervalRule("r2", 1)}

	report := f.tick(t, monday)
	assert.Equal(t, StatusNotDue, report.Results[0].Status)
	assert.Zero(t, f.chat.count())
}

func TestEngineIsolatesRuleFailures(t *testing.T) {
	f := newEngineFixture(t)
	f.store.targets["u2"] = model.DeliveryTarget{ChatID: chatID(20)}
	broken := intervalRule("broken", 30)
	broken.OwnerID = "u2"
	broken.ActivityKind = model.ActivitySleep
	f.store.activityErr[activityKey("u2", model.ActivitySleep)] = errors.New("store unreachable")
	malformed := model.Rule{ID: "malformed", OwnerID: "u1", Enabled: true}
	orphan := timeRule("orphan", 8, 0)
	orphan.OwnerID = "nobody"

	f.store.rules = []model.Rule{broken, malformed, orphan, timeRule("ok", 8, 0)}
	report := f.tick(t, monday.Add(8*time.Hour))

	statuses := map[string]RuleStatus{}
	for _, res := range report.Results {
		statuses[res.RuleID] = res.Status
	}
	assert.Equal(t, StatusFailed, statuses["broken"])
	assert.Equal(t, StatusInvalid, statuses["malformed"])
	assert.Equal(t, StatusUndelivered, statuses["orphan"])
	assert.Equal(t, StatusSent, statuses["ok"])
}

func TestEngineUndeliveredIsRetried(t *testing.T) {
	f := newEngineFixture(t)
	f.store.rules = []model.Rule{intervalRule("r", 60)}
	last := monday
	f.store.activities[activityKey("u1", model.ActivityFeeding)] = &model.ActivityRecord{StartTime: last}
	f.chat.err = errors.New("telegram down")

	report := f.tick(t, last.Add(61*time.Minute))
	assert.Equal(t, StatusUndelivered, report.Results[0].Status)

	f.chat.err = nil
	report = f.tick(t, last.Add(62*time.Minute))
	assert.Equal(t, StatusSent, report.Results[0].Status)
}

func TestEngineResolvesEachOwnerOncePerTick(t *testing.T) {
	f := newEngineFixture(t)
	f.store.rules = []model.Rule{timeRule("a", 8, 0), timeRule("b", 8, 0), timeRule("c", 8, 0)}

	report := f.tick(t, monday.Add(8*time.Hour))
	assert.Equal(t, 3, report.Count(StatusSent))
	assert.Equal(t, 1, f.store.resolveCalls)

	f.tick(t, monday.Add(8*time.Hour+time.Minute-time.Second))
	assert.Equal(t, 1, f.store.resolveCalls, "deduped rules never resolve")
}

func TestEnginePrunedTokenNotRetriedInSameTick(t *testing.T) {
	f := newEngineFixture(t)
	f.store.targets["u1"] = model.DeliveryTarget{Tokens: fcmTokens("good", "dead")}
	f.push.errors["dead"] = errInvalid
	f.engine.cfg.Workers = 1
	f.store.rules = []model.Rule{timeRule("a", 8, 0), timeRule("b", 8, 0)}

	report := f.tick(t, monday.Add(8*time.Hour))
	assert.Equal(t, 2, report.Count(StatusSent))
	assert.Equal(t, []string{"good", "dead", "good"}, f.push.tokens())
	assert.Equal(t, []string{"dead"}, f.store.deleted)
}

func TestEngineListFailure(t *testing.T) {
	f := newEngineFixture(t)
	f.store.listErr = errors.New("db offline")

	_, err := f.engine.EvaluateAt(context.Background(), monday)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db offline")
}

func TestEnginePurgesAfterSend(t *testing.T) {
	f := newEngineFixture(t)
	now := monday.Add(8 * time.Hour)
	require.NoError(t, f.cache.MarkSent(context.Background(), "old", now.Add(-3*time.Hour), 0))
	f.store.rules = []model.Rule{timeRule("r", 8, 0)}

	f.tick(t, now)

	sent, err := f.cache.HasSent(context.Background(), "old")
	require.NoError(t, err)
	assert.False(t, sent)
	n, err := f.cache.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRunnerTrigger(t *testing.T) {
	f := newEngineFixture(t)
	f.store.rules = []model.Rule{timeRule("r", 8, 0)}
	f.engine.now = func() time.Time { return monday.Add(8 * time.Hour) }

	runner := NewRunner(f.engine, NewSchedulerService(time.UTC, zerolog.Nop()), RunnerConfig{}, zerolog.Nop(), nil)
	report, err := runner.Trigger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(StatusSent))

	report, err = runner.Trigger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(StatusDeduped))
	assert.Equal(t, 1, f.chat.count())
}

func TestRunnerStartRegistersJobs(t *testing.T) {
	f := newEngineFixture(t)
	sched := NewSchedulerService(time.UTC, zerolog.Nop())
	runner := NewRunner(f.engine, sched, RunnerConfig{TickInterval: time.Minute, PurgeInterval: 10 * time.Minute}, zerolog.Nop(), nil)

	require.NoError(t, runner.Start())
	defer runner.Stop()
	assert.Equal(t, 2, sched.Entries())
}
