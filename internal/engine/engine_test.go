package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"questline/internal/combat"
	"questline/internal/config"
	"questline/internal/db"
	"questline/internal/domain"
	"questline/internal/engine"
	"questline/internal/engine/auth"
	"questline/internal/events"
	"questline/internal/logger"
	"questline/internal/migrate"
	"questline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Hero   auth.Caller
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default(), logger.Discard())
	fixed := func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	eng.Now = fixed
	eng.Events = events.Writer{Now: fixed}
	eng.Seed = func() (int64, error) { return 1, nil }
	return testEnv{Engine: eng, Ctx: ctx, Hero: auth.Caller{ActorID: "hero"}}
}

func (env testEnv) create(t *testing.T, enemyHP int) domain.Encounter {
	t.Helper()
	enc, err := env.Engine.CreateEncounter(env.Ctx, engine.CreateEncounterOptions{
		ActorID: "hero",
		Actor:   combat.Sheet{Name: "Hero", HP: 30, ArmorClass: 14, DexModifier: 3, StrModifier: 2, Zone: domain.ZoneMelee},
		Enemies: []combat.Sheet{{Name: "Goblin", HP: enemyHP, ArmorClass: 12, Weapon: "claws"}},
		Caller:  env.Hero,
	})
	if err != nil {
		t.Fatalf("create encounter: %v", err)
	}
	return enc
}

// activate rolls a natural 20 for the hero, which always beats a dex 0 goblin.
func (env testEnv) activate(t *testing.T, enc domain.Encounter) domain.Encounter {
	t.Helper()
	tr, err := env.Engine.SubmitInitiative(env.Ctx, env.Hero, enc.ID, enc.Version, 20)
	if err != nil {
		t.Fatalf("submit initiative: %v", err)
	}
	return tr.Encounter
}

func intp(v int) *int { return &v }

func TestCreateEncounterConflict(t *testing.T) {
	env := newTestEnv(t)
	enc := env.create(t, 10)
	if enc.Status != domain.StatusPending || enc.Version != 1 {
		t.Fatalf("unexpected new encounter %+v", enc)
	}
	_, err := env.Engine.CreateEncounter(env.Ctx, engine.CreateEncounterOptions{
		ActorID: "hero",
		Actor:   combat.Sheet{HP: 10},
		Enemies: []combat.Sheet{{HP: 3}},
		Caller:  env.Hero,
	})
	if !errors.Is(err, combat.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestInitiativeAndActiveCombat(t *testing.T) {
	env := newTestEnv(t)
	enc := env.create(t, 10)
	active, _, err := env.Engine.ActiveCombat(env.Ctx, env.Hero, "hero")
	if err != nil || active == nil || active.ID != enc.ID {
		t.Fatalf("expected pending encounter from active-combat, got %v %v", active, err)
	}
	enc = env.activate(t, enc)
	if enc.Status != domain.StatusActive || enc.Version != 2 || enc.TurnCursor != 0 {
		t.Fatalf("unexpected activated encounter %+v", enc)
	}
	if enc.InitiativeOrder[0].Side != domain.SideActor || *enc.InitiativeOrder[0].InitiativeScore != 23 {
		t.Fatalf("hero should lead with 23, got %+v", enc.InitiativeOrder[0])
	}
	stored, err := env.Engine.GetEncounter(env.Ctx, env.Hero, enc.ID)
	if err != nil || stored.Version != 2 {
		t.Fatalf("stored version mismatch: %+v %v", stored, err)
	}
}

func TestInvalidInitiativeLeavesVersion(t *testing.T) {
	env := newTestEnv(t)
	enc := env.create(t, 10)
	_, err := env.Engine.SubmitInitiative(env.Ctx, env.Hero, enc.ID, enc.Version, 25)
	if !errors.Is(err, combat.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	stored, err := env.Engine.GetEncounter(env.Ctx, env.Hero, enc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Version != 1 || stored.Status != domain.StatusPending {
		t.Fatalf("encounter changed: %+v", stored)
	}
	logRows, err := env.Engine.EncounterLog(env.Ctx, env.Hero, enc.ID, 0, 0)
	if err != nil || len(logRows) != 1 {
		t.Fatalf("expected only the created event, got %d %v", len(logRows), err)
	}
}

func TestStaleVersionCheckedBeforeRollRange(t *testing.T) {
	env := newTestEnv(t)
	enc := env.create(t, 10)
	_, err := env.Engine.SubmitInitiative(env.Ctx, env.Hero, enc.ID, enc.Version+3, 25)
	if !errors.Is(err, combat.ErrStaleVersion) {
		t.Fatalf("expected stale version to win over the bad roll, got %v", err)
	}
	if errors.Is(err, combat.ErrInvalidInput) {
		t.Fatalf("stale request must not report invalid input: %v", err)
	}
	stored, err := env.Engine.GetEncounter(env.Ctx, env.Hero, enc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Version != 1 || stored.Status != domain.StatusPending {
		t.Fatalf("encounter changed: %+v", stored)
	}
}

func TestStaleVersion(t *testing.T) {
	env := newTestEnv(t)
	enc := env.activate(t, env.create(t, 10))
	seen := enc.Version

	if _, err := env.Engine.SubmitAction(env.Ctx, env.Hero, domain.ActionRequest{EncounterID: enc.ID, ExpectedVersion: seen, Kind: domain.ActionDefend}); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	_, err := env.Engine.SubmitAction(env.Ctx, env.Hero, domain.ActionRequest{EncounterID: enc.ID, ExpectedVersion: seen, Kind: domain.ActionDefend})
	if !errors.Is(err, combat.ErrStaleVersion) {
		t.Fatalf("expected stale version, got %v", err)
	}
	var ce *combat.Error
	if !errors.As(err, &ce) || ce.Metadata["current_version"] != "3" {
		t.Fatalf("expected current version 3 in metadata, got %+v", ce)
	}
}

func TestConcurrentSubmitsOneWins(t *testing.T) {
	env := newTestEnv(t)
	enc := env.activate(t, env.create(t, 10))

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.Engine.SubmitAction(env.Ctx, env.Hero, domain.ActionRequest{
				EncounterID: enc.ID, ExpectedVersion: enc.Version, Kind: domain.ActionDefend,
			})
		}(i)
	}
	wg.Wait()
	ok, stale := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, combat.ErrStaleVersion):
			stale++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || stale != 1 {
		t.Fatalf("expected one success and one stale, got %d/%d", ok, stale)
	}
	stored, err := env.Engine.GetEncounter(env.Ctx, env.Hero, enc.ID)
	if err != nil || stored.Version != enc.Version+1 {
		t.Fatalf("expected exactly one bump, got %+v %v", stored.Version, err)
	}
}

func TestAttackProtocolAndVictory(t *testing.T) {
	env := newTestEnv(t)
	enc := env.activate(t, env.create(t, 5))

	tr, err := env.Engine.SubmitAction(env.Ctx, env.Hero, domain.ActionRequest{EncounterID: enc.ID, ExpectedVersion: enc.Version, Kind: domain.ActionAttack})
	if err != nil {
		t.Fatalf("attack without roll: %v", err)
	}
	if tr.Result.Accepted || tr.Result.AwaitingRoll == nil || tr.Result.Version != enc.Version {
		t.Fatalf("expected awaiting roll at same version, got %+v", tr.Result)
	}

	tr, err = env.Engine.SubmitAction(env.Ctx, env.Hero, domain.ActionRequest{EncounterID: enc.ID, ExpectedVersion: enc.Version, Kind: domain.ActionAttack, AttackRoll: intp(20)})
	if err != nil {
		t.Fatalf("attack roll: %v", err)
	}
	if tr.Result.Accepted || tr.Result.AwaitingRoll == nil || tr.Result.AwaitingRoll.Kind != domain.RollDamage {
		t.Fatalf("expected awaiting damage, got %+v", tr.Result)
	}
	if tr.Encounter.PendingAttack == nil || tr.Result.Version != enc.Version+1 {
		t.Fatalf("pending attack not persisted: %+v", tr.Encounter)
	}

	tr, err = env.Engine.SubmitAction(env.Ctx, env.Hero, domain.ActionRequest{EncounterID: enc.ID, ExpectedVersion: tr.Result.Version, Kind: domain.ActionAttack, DamageRoll: intp(3)})
	if err != nil {
		t.Fatalf("damage roll: %v", err)
	}
	if !tr.Result.EncounterEnded || tr.Result.Outcome != domain.OutcomeVictory {
		t.Fatalf("expected victory, got %+v", tr.Result)
	}
	active, _, err := env.Engine.ActiveCombat(env.Ctx, env.Hero, "hero")
	if err != nil || active != nil {
		t.Fatalf("expected no active combat after victory, got %v %v", active, err)
	}
	rows, err := env.Engine.EncounterLog(env.Ctx, env.Hero, enc.ID, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	var types []string
	for _, r := range rows {
		types = append(types, r.Type)
	}
	want := []string{events.TypeEncounterCreated, events.TypeInitiativeRolled, events.TypeAttackPending, events.TypeActionResolved, events.TypeEncounterEnded}
	if len(types) != len(want) {
		t.Fatalf("unexpected log %v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("unexpected log %v", types)
		}
	}

	if _, err := env.Engine.SubmitAction(env.Ctx, env.Hero, domain.ActionRequest{EncounterID: enc.ID, ExpectedVersion: tr.Result.Version, Kind: domain.ActionDefend}); !errors.Is(err, combat.ErrEncounterNotActive) {
		t.Fatalf("expected not active after victory, got %v", err)
	}
	env.create(t, 4)
}

func TestConditionsExpireAcrossRound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.ReplaceConditions(env.Ctx, env.Hero, "hero", []domain.Condition{
		{Name: "well-rested", Source: "sleep", StatModifiers: map[string]int{domain.StatATK: 2}, RoundsRemaining: 1},
	})
	if err != nil {
		t.Fatalf("replace conditions: %v", err)
	}
	enc := env.create(t, 10)
	if len(enc.Conditions) != 1 {
		t.Fatalf("expected snapshot at creation, got %+v", enc.Conditions)
	}
	_, mods, err := env.Engine.ActiveCombat(env.Ctx, env.Hero, "hero")
	if err != nil || mods[domain.StatATK] != 2 {
		t.Fatalf("expected ATK +2, got %+v %v", mods, err)
	}
	enc = env.activate(t, enc)
	tr, err := env.Engine.SubmitAction(env.Ctx, env.Hero, domain.ActionRequest{EncounterID: enc.ID, ExpectedVersion: enc.Version, Kind: domain.ActionDefend})
	if err != nil {
		t.Fatalf("defend: %v", err)
	}
	if tr.Encounter.Round != 2 || len(tr.Encounter.Conditions) != 0 {
		t.Fatalf("expected condition gone in round 2, got round %d %+v", tr.Encounter.Round, tr.Encounter.Conditions)
	}
	_, mods, err = env.Engine.ActiveCombat(env.Ctx, env.Hero, "hero")
	if err != nil || mods[domain.StatATK] != 0 {
		t.Fatalf("expected modifiers without ATK, got %+v %v", mods, err)
	}
}

func TestReplaceConditionsValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.ReplaceConditions(env.Ctx, env.Hero, "hero", []domain.Condition{{Name: "x", Source: "s", RoundsRemaining: -1}})
	if !errors.Is(err, combat.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	_, err = env.Engine.ReplaceConditions(env.Ctx, env.Hero, "hero", []domain.Condition{{Name: "x", Source: "s"}, {Name: "x", Source: "s"}})
	if !errors.Is(err, combat.ErrInvalidInput) {
		t.Fatalf("expected duplicate to be invalid, got %v", err)
	}
	env.Engine.Conditions = readOnlySource{}
	if _, err := env.Engine.ReplaceConditions(env.Ctx, env.Hero, "hero", nil); !errors.Is(err, engine.ErrReadOnlySource) {
		t.Fatalf("expected read-only source, got %v", err)
	}
}

func TestForbiddenForOtherActor(t *testing.T) {
	env := newTestEnv(t)
	enc := env.create(t, 10)
	villain := auth.Caller{ActorID: "villain"}
	var forbidden auth.ForbiddenError
	if _, err := env.Engine.GetEncounter(env.Ctx, villain, enc.ID); !errors.As(err, &forbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := env.Engine.SubmitInitiative(env.Ctx, villain, enc.ID, enc.Version, 10); !errors.As(err, &forbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := env.Engine.GetEncounter(env.Ctx, auth.Local("gm"), enc.ID); err != nil {
		t.Fatalf("admin should read: %v", err)
	}
	if _, err := env.Engine.GetEncounter(env.Ctx, env.Hero, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

type stubNarrator struct {
	text string
	err  error
}

func (s stubNarrator) Narrate(ctx context.Context, hooks []domain.NarrativeHook) (string, error) {
	return s.text, s.err
}

type readOnlySource struct{}

func (readOnlySource) ActiveConditions(ctx context.Context, actorID string) ([]domain.Condition, error) {
	return nil, nil
}

func (readOnlySource) TotalStatModifiers(ctx context.Context, actorID string) (map[string]int, error) {
	return map[string]int{}, nil
}

func TestNarration(t *testing.T) {
	env := newTestEnv(t)
	enc := env.activate(t, env.create(t, 10))

	env.Engine.Narrator = stubNarrator{err: errors.New("model offline")}
	tr, err := env.Engine.SubmitAction(env.Ctx, env.Hero, domain.ActionRequest{EncounterID: enc.ID, ExpectedVersion: enc.Version, Kind: domain.ActionDefend})
	if err != nil {
		t.Fatalf("narration failure must not fail the action: %v", err)
	}
	if tr.Result.Narration != "" || tr.Result.Version != enc.Version+1 {
		t.Fatalf("expected persisted result without narration, got %+v", tr.Result)
	}

	env.Engine.Narrator = stubNarrator{text: "You brace behind your shield."}
	tr, err = env.Engine.SubmitAction(env.Ctx, env.Hero, domain.ActionRequest{EncounterID: enc.ID, ExpectedVersion: tr.Result.Version, Kind: domain.ActionDefend})
	if err != nil {
		t.Fatalf("defend: %v", err)
	}
	if tr.Result.Narration != "You brace behind your shield." {
		t.Fatalf("unexpected narration %q", tr.Result.Narration)
	}
}
