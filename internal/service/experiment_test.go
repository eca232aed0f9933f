package service

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opositia/enforce/internal/domain"
)

// fakeExperimentStore holds experiment definitions and assignments in
// memory with the insert-if-absent semantics of the assignments table.
type fakeExperimentStore struct {
	mu          sync.Mutex
	experiments map[string]*domain.Experiment
	assignments map[string]domain.GroupAssignment
	inserts     int
}

func newFakeExperimentStore(experiments ...*domain.Experiment) *fakeExperimentStore {
	f := &fakeExperimentStore{
		experiments: make(map[string]*domain.Experiment),
		assignments: make(map[string]domain.GroupAssignment),
	}
	for _, e := range experiments {
		f.experiments[e.Name] = e
	}
	return f
}

func assignmentKey(name string, userID uuid.UUID) string {
	return name + "|" + userID.String()
}

func (f *fakeExperimentStore) GetExperiment(_ context.Context, name string) (*domain.Experiment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.experiments[name], nil
}

func (f *fakeExperimentStore) ListEnabledExperiments(context.Context) ([]*domain.Experiment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Experiment
	for _, e := range f.experiments {
		if e.Enabled {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeExperimentStore) GetAssignment(_ context.Context, name string, userID uuid.UUID) (*domain.GroupAssignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.assignments[assignmentKey(name, userID)]; ok {
		return &a, nil
	}
	return nil, nil
}

func (f *fakeExperimentStore) InsertAssignmentIfAbsent(_ context.Context, name string, userID uuid.UUID, group domain.Group) (*domain.GroupAssignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := assignmentKey(name, userID)
	if a, ok := f.assignments[k]; ok {
		return &a, nil
	}
	a := domain.GroupAssignment{ExperimentName: name, UserID: userID, Group: group}
	f.assignments[k] = a
	f.inserts++
	return &a, nil
}

func (f *fakeExperimentStore) assignmentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.assignments)
}

var experimentNow = time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

func runningExperiment(name string, variantPercent int) *domain.Experiment {
	return &domain.Experiment{
		Name:           name,
		Enabled:        true,
		StartsAt:       experimentNow.AddDate(0, -1, 0),
		EndsAt:         experimentNow.AddDate(0, 1, 0),
		VariantPercent: variantPercent,
		Strategy:       domain.StrategyHash,
	}
}

func newTestExperiments(store ExperimentStore, priority []string) *experimentService {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	svc := NewExperiments(store, priority, time.Minute, logger).(*experimentService)
	svc.now = func() time.Time { return experimentNow }
	return svc
}

func TestExperiments_GetGroup_StickyAcrossCalls(t *testing.T) {
	store := newFakeExperimentStore(runningExperiment("larger_free_tier", 50))
	svc := newTestExperiments(store, nil)
	userID := uuid.New()
	ctx := context.Background()

	first, ok, err := svc.GetGroup(ctx, "larger_free_tier", userID)
	require.NoError(t, err)
	require.True(t, ok)

	for i := 0; i < 10; i++ {
		got, ok, err := svc.GetGroup(ctx, "larger_free_tier", userID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, first, got)
	}

	assert.Equal(t, 1, store.inserts, "one user gets one row per experiment")
}

func TestExperiments_GetGroup_MatchesDeterministicBucket(t *testing.T) {
	exp := runningExperiment("larger_free_tier", 40)
	store := newFakeExperimentStore(exp)
	svc := newTestExperiments(store, nil)
	userID := uuid.New()

	got, ok, err := svc.GetGroup(context.Background(), "larger_free_tier", userID)
	require.NoError(t, err)
	require.True(t, ok)

	want := domain.GroupForBucket(domain.Bucket("larger_free_tier", userID), 40)
	assert.Equal(t, want, got)
}

func TestExperiments_GetGroup_DisabledWritesNoAssignment(t *testing.T) {
	exp := runningExperiment("larger_free_tier", 50)
	exp.Enabled = false
	store := newFakeExperimentStore(exp)
	svc := newTestExperiments(store, nil)

	_, ok, err := svc.GetGroup(context.Background(), "larger_free_tier", uuid.New())
	require.NoError(t, err)

	assert.False(t, ok)
	assert.Equal(t, 0, store.assignmentCount(), "disabled experiments must not enroll users")
}

func TestExperiments_GetGroup_OutsideWindowWritesNoAssignment(t *testing.T) {
	exp := runningExperiment("spring_promo", 50)
	exp.EndsAt = experimentNow.AddDate(0, 0, -1)
	store := newFakeExperimentStore(exp)
	svc := newTestExperiments(store, nil)

	_, ok, err := svc.GetGroup(context.Background(), "spring_promo", uuid.New())
	require.NoError(t, err)

	assert.False(t, ok)
	assert.Equal(t, 0, store.assignmentCount())
}

func TestExperiments_GetGroup_UnknownExperiment(t *testing.T) {
	svc := newTestExperiments(newFakeExperimentStore(), nil)

	_, ok, err := svc.GetGroup(context.Background(), "does_not_exist", uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExperiments_GetGroup_RandomStrategySticksToPersistedRow(t *testing.T) {
	exp := runningExperiment("random_rollout", 50)
	exp.Strategy = domain.StrategyRandom
	store := newFakeExperimentStore(exp)
	svc := newTestExperiments(store, nil)
	svc.randIntN = func(int) int { return 10 } // bucket 10 -> variant
	userID := uuid.New()
	ctx := context.Background()

	first, ok, err := svc.GetGroup(ctx, "random_rollout", userID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.GroupVariant, first)

	// Later randomness is irrelevant once the row exists
	svc.randIntN = func(int) int { return 90 }
	second, ok, err := svc.GetGroup(ctx, "random_rollout", userID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.GroupVariant, second)
}

func TestExperiments_GetConfig_CarriesGroupOverride(t *testing.T) {
	three := 3
	exp := runningExperiment("larger_free_tier", 100) // everyone lands in variant
	exp.Overrides = map[domain.Group]domain.PlanOverride{
		domain.GroupVariant: {DailySessionQuota: &three},
	}
	store := newFakeExperimentStore(exp)
	svc := newTestExperiments(store, nil)

	cfg, err := svc.GetConfig(context.Background(), "larger_free_tier", uuid.New())
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, domain.GroupVariant, cfg.Group)
	require.NotNil(t, cfg.Override.DailySessionQuota)
	assert.Equal(t, 3, *cfg.Override.DailySessionQuota)
}

func TestExperiments_OverridesFor_FiltersByPlanTargeting(t *testing.T) {
	two := 2
	targeted := runningExperiment("free_only", 100)
	targeted.TargetPlans = []string{"FREE"}
	targeted.Overrides = map[domain.Group]domain.PlanOverride{
		domain.GroupVariant: {DailySessionQuota: &two},
	}
	store := newFakeExperimentStore(targeted)
	svc := newTestExperiments(store, nil)

	applied, overrides, err := svc.OverridesFor(context.Background(), uuid.New(), "MENSAL", experimentNow)
	require.NoError(t, err)
	assert.Empty(t, applied)
	assert.Empty(t, overrides)
	assert.Equal(t, 0, store.assignmentCount(), "untargeted plans must not enroll")

	applied, overrides, err = svc.OverridesFor(context.Background(), uuid.New(), "FREE", experimentNow)
	require.NoError(t, err)
	require.Len(t, applied, 1)
	assert.Equal(t, "free_only", applied[0].Name)
	require.Len(t, overrides, 1)
}

func TestExperiments_OverridesFor_EnrollmentWithoutOverride(t *testing.T) {
	// Control group carries no delta but the enrollment is still reported
	exp := runningExperiment("quota_bump", 0) // everyone lands in control
	two := 2
	exp.Overrides = map[domain.Group]domain.PlanOverride{
		domain.GroupVariant: {DailySessionQuota: &two},
	}
	store := newFakeExperimentStore(exp)
	svc := newTestExperiments(store, nil)

	applied, overrides, err := svc.OverridesFor(context.Background(), uuid.New(), "FREE", experimentNow)
	require.NoError(t, err)

	require.Len(t, applied, 1)
	assert.Equal(t, domain.GroupControl, applied[0].Group)
	assert.Empty(t, overrides)
}

func exps(names ...string) []*domain.Experiment {
	out := make([]*domain.Experiment, len(names))
	for i, n := range names {
		out[i] = &domain.Experiment{Name: n}
	}
	return out
}

func names(experiments []*domain.Experiment) []string {
	out := make([]string, len(experiments))
	for i, e := range experiments {
		out[i] = e.Name
	}
	return out
}

func TestOrderByPriority(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		priority []string
		want     []string
	}{
		{
			name:     "no priority keeps incoming order",
			input:    []string{"beta_quota", "alpha_quota"},
			priority: nil,
			want:     []string{"beta_quota", "alpha_quota"},
		},
		{
			name:     "listed experiments move to the front in list order",
			input:    []string{"alpha_quota", "beta_quota", "gamma_reports"},
			priority: []string{"gamma_reports", "alpha_quota"},
			want:     []string{"gamma_reports", "alpha_quota", "beta_quota"},
		},
		{
			name:     "unlisted experiments keep their incoming order",
			input:    []string{"a", "b", "c", "d"},
			priority: []string{"c"},
			want:     []string{"c", "a", "b", "d"},
		},
		{
			name:     "priority names with no running experiment are ignored",
			input:    []string{"a", "b"},
			priority: []string{"retired_experiment", "b"},
			want:     []string{"b", "a"},
		},
		{
			name:     "empty input",
			input:    nil,
			priority: []string{"a"},
			want:     []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := orderByPriority(exps(tt.input...), tt.priority)
			assert.Equal(t, tt.want, names(got))
		})
	}
}

func TestOrderByPriority_DoesNotMutateInput(t *testing.T) {
	input := exps("a", "b", "c")
	orderByPriority(input, []string{"c", "b"})
	assert.Equal(t, []string{"a", "b", "c"}, names(input))
}
