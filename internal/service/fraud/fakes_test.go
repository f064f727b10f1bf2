package fraud

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/shiftmarket/fraud-engine/internal/domain/activity"
	"github.com/shiftmarket/fraud-engine/internal/domain/audit"
	"github.com/shiftmarket/fraud-engine/internal/domain/device"
	domainerrors "github.com/shiftmarket/fraud-engine/internal/domain/errors"
	"github.com/shiftmarket/fraud-engine/internal/domain/risk"
	"github.com/shiftmarket/fraud-engine/internal/domain/rule"
	"github.com/shiftmarket/fraud-engine/internal/domain/signal"
)

// In-memory collaborators for service-level tests. Each fake honors the same
// error contracts as the PostgreSQL/Redis implementations.

type memRuleRepo struct {
	mu      sync.Mutex
	rules   map[string]*rule.FraudRule
	listErr error
}

func newMemRuleRepo() *memRuleRepo {
	return &memRuleRepo{rules: make(map[string]*rule.FraudRule)}
}

func (m *memRuleRepo) List(context.Context) ([]*rule.FraudRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]*rule.FraudRule, 0, len(m.rules))
	for _, r := range m.rules {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memRuleRepo) GetByCode(_ context.Context, code string) (*rule.FraudRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[code]
	if !ok {
		return nil, domainerrors.ErrRuleNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRuleRepo) Create(_ context.Context, r *rule.FraudRule) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[r.Code]; ok {
		return false, nil
	}
	cp := *r
	m.rules[r.Code] = &cp
	return true, nil
}

func (m *memRuleRepo) Update(_ context.Context, r *rule.FraudRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[r.Code]; !ok {
		return domainerrors.ErrRuleNotFound
	}
	cp := *r
	m.rules[r.Code] = &cp
	return nil
}

func (m *memRuleRepo) SetActive(_ context.Context, code string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[code]
	if !ok {
		return domainerrors.ErrRuleNotFound
	}
	r.Active = active
	return nil
}

type memSignalRepo struct {
	mu      sync.Mutex
	signals map[uuid.UUID]*signal.FraudSignal
	saveErr error
}

func newMemSignalRepo() *memSignalRepo {
	return &memSignalRepo{signals: make(map[uuid.UUID]*signal.FraudSignal)}
}

func (m *memSignalRepo) Save(_ context.Context, s *signal.FraudSignal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	cp := *s
	m.signals[s.ID] = &cp
	return nil
}

func (m *memSignalRepo) Update(_ context.Context, s *signal.FraudSignal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.signals[s.ID]; !ok {
		return domainerrors.ErrSignalNotFound
	}
	cp := *s
	m.signals[s.ID] = &cp
	return nil
}

func (m *memSignalRepo) GetByID(_ context.Context, id uuid.UUID) (*signal.FraudSignal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.signals[id]
	if !ok {
		return nil, domainerrors.ErrSignalNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memSignalRepo) UnresolvedForUser(_ context.Context, userID uuid.UUID) ([]*signal.FraudSignal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*signal.FraudSignal
	for _, s := range m.signals {
		if s.UserID == userID && s.IsUnresolved() {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memSignalRepo) LatestUnresolved(_ context.Context, userID, ruleID uuid.UUID) (*signal.FraudSignal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *signal.FraudSignal
	for _, s := range m.signals {
		if s.UserID != userID || s.RuleID != ruleID || !s.IsUnresolved() {
			continue
		}
		if latest == nil || s.LastMatchedAt.After(latest.LastMatchedAt) {
			latest = s
		}
	}
	if latest == nil {
		return nil, domainerrors.ErrSignalNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *memSignalRepo) BySeverity(_ context.Context, minSeverity, limit int) ([]*signal.FraudSignal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*signal.FraudSignal
	for _, s := range m.signals {
		if s.IsUnresolved() && s.Severity >= minSeverity {
			cp := *s
			out = append(out, &cp)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memSignalRepo) CountUnresolvedForUser(_ context.Context, userID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.signals {
		if s.UserID == userID && s.IsUnresolved() {
			n++
		}
	}
	return n, nil
}

type memScoreRepo struct {
	mu            sync.Mutex
	scores        map[uuid.UUID]*risk.UserRiskScore
	conflictsLeft int
}

func newMemScoreRepo() *memScoreRepo {
	return &memScoreRepo{scores: make(map[uuid.UUID]*risk.UserRiskScore)}
}

func (m *memScoreRepo) Get(_ context.Context, userID uuid.UUID) (*risk.UserRiskScore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scores[userID]
	if !ok {
		return nil, domainerrors.ErrScoreNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memScoreRepo) Upsert(_ context.Context, score *risk.UserRiskScore, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conflictsLeft > 0 {
		m.conflictsLeft--
		return domainerrors.NewConflictError("injected conflict")
	}
	current, ok := m.scores[score.UserID]
	if expectedVersion == 0 {
		if ok {
			return domainerrors.NewConflictError("score exists")
		}
	} else if !ok || current.Version != expectedVersion {
		return domainerrors.NewConflictError("version mismatch")
	}
	cp := *score
	m.scores[score.UserID] = &cp
	return nil
}

type memDeviceRepo struct {
	mu        sync.Mutex
	devices   map[string]*device.Fingerprint
	updateErr error
}

func newMemDeviceRepo() *memDeviceRepo {
	return &memDeviceRepo{devices: make(map[string]*device.Fingerprint)}
}

func (m *memDeviceRepo) GetByHash(_ context.Context, hash string) (*device.Fingerprint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.devices[hash]
	if !ok {
		return nil, domainerrors.ErrDeviceNotFound
	}
	cp := *f
	return &cp, nil
}

func (m *memDeviceRepo) Save(_ context.Context, f *device.Fingerprint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[f.Hash]; !ok {
		cp := *f
		m.devices[f.Hash] = &cp
	}
	return nil
}

func (m *memDeviceRepo) Update(_ context.Context, f *device.Fingerprint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	if _, ok := m.devices[f.Hash]; !ok {
		return domainerrors.ErrDeviceNotFound
	}
	cp := *f
	m.devices[f.Hash] = &cp
	return nil
}

type memUserBlockRepo struct {
	mu       sync.Mutex
	blocked  map[uuid.UUID]string
	blockErr error
}

func newMemUserBlockRepo() *memUserBlockRepo {
	return &memUserBlockRepo{blocked: make(map[uuid.UUID]string)}
}

func (m *memUserBlockRepo) IsBlocked(_ context.Context, userID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blocked[userID]
	return ok, nil
}

func (m *memUserBlockRepo) Block(_ context.Context, userID, _ uuid.UUID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.blockErr != nil {
		return m.blockErr
	}
	m.blocked[userID] = reason
	return nil
}

func (m *memUserBlockRepo) Unblock(_ context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blocked, userID)
	return nil
}

type memAuditRepo struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (m *memAuditRepo) Record(_ context.Context, ev *audit.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *memAuditRepo) Recent(_ context.Context, limit int) ([]*audit.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit > len(m.events) {
		limit = len(m.events)
	}
	return m.events[len(m.events)-limit:], nil
}

func (m *memAuditRepo) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, ev := range m.events {
		out[i] = ev.Action
	}
	return out
}

type memEvalErrRepo struct {
	mu   sync.Mutex
	errs []*rule.EvaluationError
}

func (m *memEvalErrRepo) Record(_ context.Context, e *rule.EvaluationError) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, e)
	return nil
}

func (m *memEvalErrRepo) Recent(_ context.Context, limit int) ([]*rule.EvaluationError, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit > len(m.errs) {
		limit = len(m.errs)
	}
	return m.errs[:limit], nil
}

// fakeVelocity replays recorded events through real counting logic so
// evaluator tests exercise genuine window arithmetic.
type fakeVelocity struct {
	mu       sync.Mutex
	seen     map[uuid.UUID]bool
	events   []*activity.Event
	now      func() time.Time
	countErr error
}

func newFakeVelocity() *fakeVelocity {
	return &fakeVelocity{
		seen: make(map[uuid.UUID]bool),
		now:  time.Now,
	}
}

func (f *fakeVelocity) RecordEvent(_ context.Context, ev *activity.Event) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen[ev.ID] {
		return false, nil
	}
	f.seen[ev.ID] = true
	cp := *ev
	f.events = append(f.events, &cp)
	return true, nil
}

func (f *fakeVelocity) inWindow(ev *activity.Event, window time.Duration) bool {
	if window <= 0 {
		return true
	}
	return ev.OccurredAt.After(f.now().Add(-window))
}

func (f *fakeVelocity) CountEvents(_ context.Context, userID uuid.UUID, eventType string, window time.Duration) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.countErr != nil {
		return 0, f.countErr
	}
	var n float64
	for _, ev := range f.events {
		if ev.UserID == userID && ev.Type == eventType && f.inWindow(ev, window) {
			n++
		}
	}
	return n, nil
}

func (f *fakeVelocity) DistinctDevices(_ context.Context, userID uuid.UUID, window time.Duration) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	hashes := make(map[string]bool)
	for _, ev := range f.events {
		if ev.UserID == userID && ev.Context.DeviceHash != "" && f.inWindow(ev, window) {
			hashes[ev.Context.DeviceHash] = true
		}
	}
	return float64(len(hashes)), nil
}

func (f *fakeVelocity) DistinctIPs(_ context.Context, userID uuid.UUID, window time.Duration) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ips := make(map[string]bool)
	for _, ev := range f.events {
		if ev.UserID == userID && ev.Context.IPAddress != "" && f.inWindow(ev, window) {
			ips[ev.Context.IPAddress] = true
		}
	}
	return float64(len(ips)), nil
}

func (f *fakeVelocity) AmountSum(_ context.Context, userID uuid.UUID, eventType string, window time.Duration) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sum := decimal.Zero
	for _, ev := range f.events {
		if ev.UserID == userID && ev.Type == eventType && ev.Context.Amount != nil && f.inWindow(ev, window) {
			sum = sum.Add(*ev.Context.Amount)
		}
	}
	return sum, nil
}

func newTestSignal(r *rule.FraudRule, userID uuid.UUID, observed float64) *signal.FraudSignal {
	return signal.New(r, userID, observed, signal.Context{})
}

type fakeNotifier struct {
	mu       sync.Mutex
	sent     []*Notification
	deliverE error
}

func (f *fakeNotifier) Notify(_ context.Context, n *Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deliverE != nil {
		return f.deliverE
	}
	f.sent = append(f.sent, n)
	return nil
}
