package fraud

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	domainerrors "github.com/shiftmarket/fraud-engine/internal/domain/errors"
	"github.com/shiftmarket/fraud-engine/internal/domain/rule"
)

// ruleSnapshot is an immutable view of the active rule set. Readers always
// see a complete snapshot; mutations build a fresh one and swap the pointer.
type ruleSnapshot struct {
	rules      []*rule.FraudRule
	byCategory map[rule.Category][]*rule.FraudRule
	loadedAt   time.Time
}

// RuleStore caches the configured rules in memory in front of durable
// storage. Mutations invalidate the snapshot immediately; the TTL bounds
// staleness for evaluator instances that only pull.
type RuleStore struct {
	repo   RuleRepository
	logger *zap.Logger
	ttl    time.Duration

	mu   sync.RWMutex
	snap *ruleSnapshot
}

// NewRuleStore creates a store with an empty cache. A ttl of zero falls back
// to DefaultRuleCacheTTL.
func NewRuleStore(repo RuleRepository, logger *zap.Logger, ttl time.Duration) *RuleStore {
	if ttl <= 0 {
		ttl = DefaultRuleCacheTTL
	}
	return &RuleStore{
		repo:   repo,
		logger: logger,
		ttl:    ttl,
	}
}

// ActiveRules returns the active rules, optionally filtered by category
// (empty category means all). The returned slice is shared snapshot state
// and must not be mutated by callers.
func (rs *RuleStore) ActiveRules(ctx context.Context, category rule.Category) ([]*rule.FraudRule, error) {
	snap, err := rs.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if category == "" {
		return snap.rules, nil
	}
	return snap.byCategory[category], nil
}

// AllRules returns every rule, active or not, straight from storage.
func (rs *RuleStore) AllRules(ctx context.Context) ([]*rule.FraudRule, error) {
	return rs.repo.List(ctx)
}

// GetByCode fetches one rule from storage.
func (rs *RuleStore) GetByCode(ctx context.Context, code string) (*rule.FraudRule, error) {
	return rs.repo.GetByCode(ctx, code)
}

// Upsert creates or edits a rule in place, then invalidates the cache. The
// returned bool is true when the rule was newly created.
func (rs *RuleStore) Upsert(ctx context.Context, r *rule.FraudRule) (bool, error) {
	if err := r.Validate(); err != nil {
		return false, domainerrors.NewValidationError("INVALID_RULE", err.Error()).WithCause(err)
	}

	existing, err := rs.repo.GetByCode(ctx, r.Code)
	switch {
	case err == nil:
		// Code is immutable; edits keep the stored identity.
		r.ID = existing.ID
		r.CreatedAt = existing.CreatedAt
		r.UpdatedAt = time.Now().UTC()
		if err := rs.repo.Update(ctx, r); err != nil {
			return false, err
		}
		rs.Invalidate()
		return false, nil
	case domainerrors.IsType(err, domainerrors.ErrorTypeNotFound):
		if _, err := rs.repo.Create(ctx, r); err != nil {
			return false, err
		}
		rs.Invalidate()
		return true, nil
	default:
		return false, err
	}
}

// SetActive toggles a rule in or out of evaluation. Inactive rules are
// retained for audit and history.
func (rs *RuleStore) SetActive(ctx context.Context, code string, active bool) error {
	if err := rs.repo.SetActive(ctx, code, active); err != nil {
		return err
	}
	rs.Invalidate()
	return nil
}

// Invalidate drops the cached snapshot. The next reader reloads from storage.
func (rs *RuleStore) Invalidate() {
	rs.mu.Lock()
	rs.snap = nil
	rs.mu.Unlock()
}

// Seed installs a rule catalog idempotently: rules whose code already exists
// are left untouched. Returns how many rules were newly created.
func (rs *RuleStore) Seed(ctx context.Context, catalog []*rule.FraudRule) (int, error) {
	created := 0
	for _, r := range catalog {
		if err := r.Validate(); err != nil {
			return created, domainerrors.NewConfigurationError("INVALID_SEED_RULE", err.Error()).WithCause(err)
		}
		ok, err := rs.repo.Create(ctx, r)
		if err != nil {
			return created, err
		}
		if ok {
			created++
			rs.logger.Info("seeded fraud rule",
				zap.String("code", r.Code),
				zap.String("category", string(r.Category)))
		}
	}
	if created > 0 {
		rs.Invalidate()
	}
	return created, nil
}

func (rs *RuleStore) snapshot(ctx context.Context) (*ruleSnapshot, error) {
	rs.mu.RLock()
	snap := rs.snap
	rs.mu.RUnlock()
	if snap != nil && time.Since(snap.loadedAt) < rs.ttl {
		return snap, nil
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	// Another goroutine may have reloaded while we waited.
	if rs.snap != nil && time.Since(rs.snap.loadedAt) < rs.ttl {
		return rs.snap, nil
	}

	all, err := rs.repo.List(ctx)
	if err != nil {
		// Serve the stale snapshot rather than failing the hot path.
		if rs.snap != nil {
			rs.logger.Warn("rule reload failed, serving stale snapshot", zap.Error(err))
			return rs.snap, nil
		}
		return nil, err
	}

	next := &ruleSnapshot{
		byCategory: make(map[rule.Category][]*rule.FraudRule),
		loadedAt:   time.Now(),
	}
	for _, r := range all {
		if !r.Active {
			continue
		}
		next.rules = append(next.rules, r)
		next.byCategory[r.Category] = append(next.byCategory[r.Category], r)
	}
	rs.snap = next
	ruleCacheReloads.Inc()
	return next, nil
}
