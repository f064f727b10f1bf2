package fraud

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	domainerrors "github.com/shiftmarket/fraud-engine/internal/domain/errors"
	"github.com/shiftmarket/fraud-engine/internal/domain/rule"
)

func TestRuleStore_SeedIsIdempotent(t *testing.T) {
	repo := newMemRuleRepo()
	store := NewRuleStore(repo, zaptest.NewLogger(t), time.Minute)

	created, err := store.Seed(context.Background(), DefaultCatalog())
	require.NoError(t, err)
	assert.Equal(t, len(DefaultCatalog()), created)

	// Re-seeding leaves existing rules (and any operator edits) alone.
	created, err = store.Seed(context.Background(), DefaultCatalog())
	require.NoError(t, err)
	assert.Equal(t, 0, created)
}

func TestRuleStore_ActiveRulesFiltersInactive(t *testing.T) {
	repo := newMemRuleRepo()
	store := NewRuleStore(repo, zaptest.NewLogger(t), time.Minute)
	_, err := store.Seed(context.Background(), DefaultCatalog())
	require.NoError(t, err)

	require.NoError(t, store.SetActive(context.Background(), "VEL_LOGIN_FAIL", false))

	active, err := store.ActiveRules(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, active, len(DefaultCatalog())-1)
	for _, r := range active {
		assert.NotEqual(t, "VEL_LOGIN_FAIL", r.Code)
	}

	// The deactivated rule is retained, not deleted.
	all, err := store.AllRules(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, len(DefaultCatalog()))
}

func TestRuleStore_ActiveRulesByCategory(t *testing.T) {
	repo := newMemRuleRepo()
	store := NewRuleStore(repo, zaptest.NewLogger(t), time.Minute)
	_, err := store.Seed(context.Background(), DefaultCatalog())
	require.NoError(t, err)

	payment, err := store.ActiveRules(context.Background(), rule.CategoryPayment)
	require.NoError(t, err)
	assert.Len(t, payment, 2)
	for _, r := range payment {
		assert.Equal(t, rule.CategoryPayment, r.Category)
	}
}

func TestRuleStore_UpsertKeepsStoredIdentity(t *testing.T) {
	repo := newMemRuleRepo()
	store := NewRuleStore(repo, zaptest.NewLogger(t), time.Minute)
	_, err := store.Seed(context.Background(), DefaultCatalog())
	require.NoError(t, err)

	original, err := store.GetByCode(context.Background(), "VEL_LOGIN_FAIL")
	require.NoError(t, err)

	edit := rule.NewFraudRule("VEL_LOGIN_FAIL", "Repeated failed logins", rule.CategoryVelocity, rule.Condition{
		Field:    FieldFailedLogins,
		Operator: rule.OpGreaterEqual,
		Value:    3, // tightened threshold
		Period:   time.Hour,
	}, 8, rule.ActionFlag)

	created, err := store.Upsert(context.Background(), edit)
	require.NoError(t, err)
	assert.False(t, created)

	stored, err := store.GetByCode(context.Background(), "VEL_LOGIN_FAIL")
	require.NoError(t, err)
	assert.Equal(t, original.ID, stored.ID, "edits must not renumber the rule")
	assert.Equal(t, original.CreatedAt, stored.CreatedAt)
	assert.Equal(t, 3.0, stored.Condition.Value)

	// The cache reflects the edit on the next read.
	active, err := store.ActiveRules(context.Background(), rule.CategoryVelocity)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, 3.0, active[0].Condition.Value)
}

func TestRuleStore_UpsertRejectsInvalidRule(t *testing.T) {
	repo := newMemRuleRepo()
	store := NewRuleStore(repo, zaptest.NewLogger(t), time.Minute)

	bad := rule.NewFraudRule("BAD", "bad", rule.CategoryVelocity, rule.Condition{
		Field:    FieldFailedLogins,
		Operator: rule.OpGreaterEqual,
		Value:    5,
	}, 99, rule.ActionFlag)

	_, err := store.Upsert(context.Background(), bad)
	require.Error(t, err)
	assert.True(t, domainerrors.IsType(err, domainerrors.ErrorTypeValidation))
}

func TestRuleStore_ServesStaleSnapshotOnReloadFailure(t *testing.T) {
	repo := newMemRuleRepo()
	store := NewRuleStore(repo, zaptest.NewLogger(t), time.Nanosecond)
	_, err := store.Seed(context.Background(), DefaultCatalog())
	require.NoError(t, err)

	warm, err := store.ActiveRules(context.Background(), "")
	require.NoError(t, err)
	require.NotEmpty(t, warm)

	// Storage goes down; the nanosecond TTL forces a reload attempt, which
	// must fall back to the stale snapshot instead of failing the hot path.
	repo.listErr = domainerrors.NewInternalError("storage down")
	time.Sleep(time.Millisecond)

	stale, err := store.ActiveRules(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, len(warm), len(stale))
}
