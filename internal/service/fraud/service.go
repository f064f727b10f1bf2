package fraud

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/shiftmarket/fraud-engine/internal/domain/activity"
	"github.com/shiftmarket/fraud-engine/internal/domain/audit"
	"github.com/shiftmarket/fraud-engine/internal/domain/device"
	domainerrors "github.com/shiftmarket/fraud-engine/internal/domain/errors"
	"github.com/shiftmarket/fraud-engine/internal/domain/risk"
	"github.com/shiftmarket/fraud-engine/internal/domain/rule"
	"github.com/shiftmarket/fraud-engine/internal/domain/signal"
)

// Options tune engine policy that is configuration, not code.
type Options struct {
	// TrustedDeviceSkipsVelocity exempts explicitly trusted devices from
	// velocity-category rules.
	TrustedDeviceSkipsVelocity bool
}

// service implements the Service interface.
type service struct {
	rules      *RuleStore
	evaluator  *Evaluator
	recorder   *SignalRecorder
	scorer     *Scorer
	dispatcher *Dispatcher
	velocity   VelocityCounter
	devices    DeviceRepository
	userBlocks UserBlockRepository
	auditLog   AuditRepository
	evalErrs   EvaluationErrorRepository
	logger     *zap.Logger
	tracer     trace.Tracer
	locks      *userLocks

	trustedSkipsVelocity bool
}

// NewService assembles the fraud engine.
func NewService(
	rules *RuleStore,
	evaluator *Evaluator,
	recorder *SignalRecorder,
	scorer *Scorer,
	dispatcher *Dispatcher,
	velocity VelocityCounter,
	devices DeviceRepository,
	userBlocks UserBlockRepository,
	auditLog AuditRepository,
	evalErrs EvaluationErrorRepository,
	logger *zap.Logger,
	opts Options,
) Service {
	return &service{
		rules:                rules,
		evaluator:            evaluator,
		recorder:             recorder,
		scorer:               scorer,
		dispatcher:           dispatcher,
		velocity:             velocity,
		devices:              devices,
		userBlocks:           userBlocks,
		auditLog:             auditLog,
		evalErrs:             evalErrs,
		logger:               logger,
		tracer:               otel.Tracer("fraud-engine"),
		locks:                newUserLocks(),
		trustedSkipsVelocity: opts.TrustedDeviceSkipsVelocity,
	}
}

// ReportActivity records the event, evaluates the active rule set, applies
// configured actions and returns the verdict. It runs synchronously on the
// caller's request path: the rule loop is bounded by the cached rule set and
// touches only per-rule counters.
func (s *service) ReportActivity(ctx context.Context, ev *activity.Event) (*Verdict, error) {
	start := time.Now()
	defer func() { reportActivityDuration.Observe(time.Since(start).Seconds()) }()

	ctx, span := s.tracer.Start(ctx, "fraud.ReportActivity",
		trace.WithAttributes(attribute.String("event.type", ev.Type)))
	defer span.End()

	if err := ev.Validate(); err != nil {
		return nil, domainerrors.NewValidationError("INVALID_EVENT", err.Error()).WithCause(err)
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	// Feed velocity counters first so this event is visible to its own
	// evaluation. Ingestion is idempotent per event id; counter outages
	// degrade velocity rules to fail-closed rather than failing the call.
	if _, err := s.velocity.RecordEvent(ctx, ev); err != nil {
		s.logger.Error("velocity ingestion failed",
			zap.String("event_id", ev.ID.String()),
			zap.Error(err))
	}

	dev, err := s.observeDevice(ctx, ev)
	if err != nil {
		return nil, err
	}

	// Hard gates come before any scoring: a blocked device or user is
	// rejected regardless of risk level.
	if dev != nil && dev.IsBlocked() {
		return s.deniedVerdict(ctx, ev.UserID, "device is blocked")
	}
	userBlocked, err := s.userBlocks.IsBlocked(ctx, ev.UserID)
	if err != nil {
		// Cannot prove the user is admissible: the verdict is
		// indeterminate and the caller must deny.
		return nil, domainerrors.NewBlockDispatchError("user block check failed").WithCause(err)
	}
	if userBlocked {
		return s.deniedVerdict(ctx, ev.UserID, "user is blocked")
	}

	unlock := s.locks.Lock(ev.UserID)
	defer unlock()

	active, err := s.rules.ActiveRules(ctx, "")
	if err != nil {
		return nil, domainerrors.Wrap(err, "loading active rules")
	}

	subj := Subject{UserID: ev.UserID, DeviceHash: ev.Context.DeviceHash, IPAddress: ev.Context.IPAddress}
	sctx := signal.Context{
		DeviceHash:    ev.Context.DeviceHash,
		IPAddress:     ev.Context.IPAddress,
		TransactionID: ev.Context.TransactionID,
	}

	var (
		matched     []*signal.FraudSignal
		blocked     bool
		blockReason string
	)
	for _, r := range active {
		if s.trustedSkipsVelocity && r.Category == rule.CategoryVelocity && dev != nil && dev.IsTrusted() {
			continue
		}

		res, err := s.evaluator.Evaluate(ctx, r, subj)
		if err != nil {
			// Fail closed: the evaluator already recorded the error.
			continue
		}
		if !res.Matched {
			continue
		}

		sig, created, err := s.recorder.Record(ctx, r, ev.UserID, res.Observed, sctx)
		if err != nil {
			if r.Action == rule.ActionBlock {
				// Losing the signal behind a block action means the
				// block cannot be attributed; deny rather than allow.
				return nil, domainerrors.NewBlockDispatchError("signal persistence failed for block rule").WithCause(err)
			}
			s.logger.Error("signal persistence failed, skipping rule",
				zap.String("rule_code", r.Code), zap.Error(err))
			continue
		}
		matched = append(matched, sig)
		s.audit(ctx, audit.NewEvent(uuid.Nil, audit.ActionRuleMatched, "rule", r.Code, map[string]interface{}{
			"user_id":  ev.UserID.String(),
			"observed": res.Observed,
			"signal":   sig.ID.String(),
		}))
		sigAction := audit.ActionSignalTouched
		if created {
			sigAction = audit.ActionSignalCreated
		}
		s.audit(ctx, audit.NewEvent(uuid.Nil, sigAction, "signal", sig.ID.String(), map[string]interface{}{
			"user_id":     ev.UserID.String(),
			"rule":        r.Code,
			"match_count": sig.MatchCount,
		}))

		out, err := s.dispatcher.Dispatch(ctx, r, sig, ev)
		if err != nil {
			if domainerrors.IsType(err, domainerrors.ErrorTypeBlockDispatch) {
				return nil, err
			}
			s.logger.Error("action dispatch failed",
				zap.String("rule_code", r.Code),
				zap.String("action", string(r.Action)),
				zap.Error(err))
			continue
		}
		if out.Blocked {
			blocked = true
			blockReason = out.BlockReason
			s.audit(ctx, audit.NewEvent(uuid.Nil, audit.ActionUserBlocked, "user", ev.UserID.String(), map[string]interface{}{
				"reason": out.BlockReason,
				"rule":   r.Code,
			}))
		}
	}

	// Score must be fresh within this signal-processing cycle.
	var score *risk.UserRiskScore
	if len(matched) > 0 {
		score, err = s.recalculate(ctx, ev.UserID, uuid.Nil)
	} else {
		score, err = s.scorer.Current(ctx, ev.UserID)
	}
	if err != nil {
		return nil, err
	}

	return &Verdict{
		Signals:     matched,
		RiskScore:   score.Score,
		RiskLevel:   score.Level,
		Blocked:     blocked,
		BlockReason: blockReason,
	}, nil
}

// observeDevice registers or refreshes the event's device fingerprint.
func (s *service) observeDevice(ctx context.Context, ev *activity.Event) (*device.Fingerprint, error) {
	hash := ev.Context.DeviceHash
	if hash == "" {
		return nil, nil
	}

	f, err := s.devices.GetByHash(ctx, hash)
	switch {
	case err == nil:
		f.Seen(ev.UserID, ev.OccurredAt)
		if err := s.devices.Update(ctx, f); err != nil {
			s.logger.Warn("device last-seen update failed", zap.String("hash", hash), zap.Error(err))
		}
		return f, nil
	case domainerrors.IsType(err, domainerrors.ErrorTypeNotFound):
		f = device.New(hash, ev.UserID, ev.Context.UserAgent, ev.Context.Platform)
		if err := s.devices.Save(ctx, f); err != nil {
			return nil, domainerrors.Wrap(err, "registering device fingerprint")
		}
		return f, nil
	default:
		return nil, domainerrors.Wrap(err, "looking up device fingerprint")
	}
}

func (s *service) deniedVerdict(ctx context.Context, userID uuid.UUID, reason string) (*Verdict, error) {
	score, err := s.scorer.Current(ctx, userID)
	if err != nil {
		// The denial stands even when the advisory score is unavailable.
		s.logger.Warn("risk score unavailable for denied verdict",
			zap.String("user_id", userID.String()), zap.Error(err))
		score = &risk.UserRiskScore{UserID: userID, Level: risk.LevelLow}
	}
	return &Verdict{
		RiskScore:   score.Score,
		RiskLevel:   score.Level,
		Blocked:     true,
		BlockReason: reason,
	}, nil
}

// ResolveSignal closes a signal and refreshes the owner's score.
func (s *service) ResolveSignal(ctx context.Context, signalID, resolver uuid.UUID, notes string) error {
	if resolver == uuid.Nil {
		return domainerrors.NewValidationError("MISSING_RESOLVER", "resolving a signal requires an acting admin")
	}

	sig, err := s.recorder.signals.GetByID(ctx, signalID)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(sig.UserID)
	defer unlock()

	resolved, err := s.recorder.Resolve(ctx, signalID, resolver, notes)
	if err != nil {
		return err
	}
	s.audit(ctx, audit.NewEvent(resolver, audit.ActionSignalResolved, "signal", resolved.ID.String(), map[string]interface{}{
		"user_id": resolved.UserID.String(),
		"rule":    resolved.RuleCode,
		"notes":   notes,
	}))

	_, err = s.recalculate(ctx, resolved.UserID, resolver)
	return err
}

// recalculate refreshes a user's score and audits the new aggregate.
func (s *service) recalculate(ctx context.Context, userID, actor uuid.UUID) (*risk.UserRiskScore, error) {
	score, err := s.scorer.Recalculate(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, audit.NewEvent(actor, audit.ActionScoreUpdated, "user", userID.String(), map[string]interface{}{
		"score": score.Score,
		"level": string(score.Level),
	}))
	return score, nil
}

// UnresolvedSignals lists a user's open signals, newest first.
func (s *service) UnresolvedSignals(ctx context.Context, userID uuid.UUID) ([]*signal.FraudSignal, error) {
	return s.recorder.signals.UnresolvedForUser(ctx, userID)
}

// SignalsBySeverity lists open signals at or above a severity floor.
func (s *service) SignalsBySeverity(ctx context.Context, minSeverity, limit int) ([]*signal.FraudSignal, error) {
	if limit <= 0 {
		limit = DefaultSignalQueryLimit
	}
	return s.recorder.signals.BySeverity(ctx, minSeverity, limit)
}

// RecalculateScore is the manual admin trigger.
func (s *service) RecalculateScore(ctx context.Context, userID uuid.UUID) (*risk.UserRiskScore, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()
	return s.recalculate(ctx, userID, uuid.Nil)
}

// GetRiskScore returns the stored aggregate, computing lazily if missing.
func (s *service) GetRiskScore(ctx context.Context, userID uuid.UUID) (*risk.UserRiskScore, error) {
	return s.scorer.Current(ctx, userID)
}

// UpsertRule creates or edits a rule in place.
func (s *service) UpsertRule(ctx context.Context, r *rule.FraudRule, actor uuid.UUID) error {
	if actor == uuid.Nil {
		return domainerrors.NewValidationError("MISSING_ACTOR", "rule mutation requires an acting admin")
	}
	created, err := s.rules.Upsert(ctx, r)
	if err != nil {
		return err
	}
	s.audit(ctx, audit.NewEvent(actor, audit.ActionRuleUpserted, "rule", r.Code, map[string]interface{}{
		"created":  created,
		"category": string(r.Category),
		"severity": r.Severity,
		"action":   string(r.Action),
	}))
	return nil
}

// SetRuleActive toggles a rule in or out of evaluation.
func (s *service) SetRuleActive(ctx context.Context, code string, active bool, actor uuid.UUID) error {
	if actor == uuid.Nil {
		return domainerrors.NewValidationError("MISSING_ACTOR", "rule mutation requires an acting admin")
	}
	if err := s.rules.SetActive(ctx, code, active); err != nil {
		return err
	}
	action := audit.ActionRuleActivated
	if !active {
		action = audit.ActionRuleDeactived
	}
	s.audit(ctx, audit.NewEvent(actor, action, "rule", code, nil))
	return nil
}

// ListRules returns every rule, optionally filtered by category.
func (s *service) ListRules(ctx context.Context, category rule.Category) ([]*rule.FraudRule, error) {
	all, err := s.rules.AllRules(ctx)
	if err != nil || category == "" {
		return all, err
	}
	filtered := make([]*rule.FraudRule, 0, len(all))
	for _, r := range all {
		if r.Category == category {
			filtered = append(filtered, r)
		}
	}
	return filtered, nil
}

// GetDevice looks up a fingerprint by hash.
func (s *service) GetDevice(ctx context.Context, hash string) (*device.Fingerprint, error) {
	return s.devices.GetByHash(ctx, hash)
}

// BlockDevice hard-blocks a device. Effective for the very next request.
func (s *service) BlockDevice(ctx context.Context, hash string, actor uuid.UUID, reason string) error {
	f, err := s.devices.GetByHash(ctx, hash)
	if err != nil {
		return err
	}
	if err := f.Block(actor, reason); err != nil {
		return domainerrors.NewValidationError("INVALID_TRANSITION", err.Error()).WithCause(err)
	}
	if err := s.devices.Update(ctx, f); err != nil {
		return domainerrors.NewBlockDispatchError("device block persistence failed").WithCause(err)
	}
	blocksTotal.Inc()
	s.audit(ctx, audit.NewEvent(actor, audit.ActionDeviceBlocked, "device", hash, map[string]interface{}{
		"reason": reason,
	}))
	return nil
}

// UnblockDevice returns a blocked device to unknown (never straight to
// trusted).
func (s *service) UnblockDevice(ctx context.Context, hash string, actor uuid.UUID) error {
	f, err := s.devices.GetByHash(ctx, hash)
	if err != nil {
		return err
	}
	if err := f.Unblock(actor); err != nil {
		return domainerrors.NewValidationError("INVALID_TRANSITION", err.Error()).WithCause(err)
	}
	if err := s.devices.Update(ctx, f); err != nil {
		return err
	}
	s.audit(ctx, audit.NewEvent(actor, audit.ActionDeviceUnblock, "device", hash, nil))
	return nil
}

// TrustDevice promotes an unknown device to trusted.
func (s *service) TrustDevice(ctx context.Context, hash string, actor uuid.UUID) error {
	f, err := s.devices.GetByHash(ctx, hash)
	if err != nil {
		return err
	}
	if err := f.Trust(actor); err != nil {
		return domainerrors.NewValidationError("INVALID_TRANSITION", err.Error()).WithCause(err)
	}
	if err := s.devices.Update(ctx, f); err != nil {
		return err
	}
	s.audit(ctx, audit.NewEvent(actor, audit.ActionDeviceTrusted, "device", hash, nil))
	return nil
}

// BlockUser applies an explicit user-level hard block.
func (s *service) BlockUser(ctx context.Context, userID, actor uuid.UUID, reason string) error {
	if actor == uuid.Nil {
		return domainerrors.NewValidationError("MISSING_ACTOR", "user block requires an acting admin")
	}
	if err := s.userBlocks.Block(ctx, userID, actor, reason); err != nil {
		return domainerrors.NewBlockDispatchError("user block persistence failed").WithCause(err)
	}
	s.audit(ctx, audit.NewEvent(actor, audit.ActionUserBlocked, "user", userID.String(), map[string]interface{}{
		"reason": reason,
	}))
	return nil
}

// UnblockUser lifts a user-level hard block.
func (s *service) UnblockUser(ctx context.Context, userID, actor uuid.UUID) error {
	if actor == uuid.Nil {
		return domainerrors.NewValidationError("MISSING_ACTOR", "user unblock requires an acting admin")
	}
	if err := s.userBlocks.Unblock(ctx, userID); err != nil {
		return err
	}
	s.audit(ctx, audit.NewEvent(actor, audit.ActionUserUnblocked, "user", userID.String(), nil))
	return nil
}

// EvaluationErrors feeds the admin "rules with errors" surface.
func (s *service) EvaluationErrors(ctx context.Context, limit int) ([]*rule.EvaluationError, error) {
	if limit <= 0 {
		limit = DefaultErrorQueryLimit
	}
	return s.evalErrs.Recent(ctx, limit)
}

// audit writes fire-and-forget: a failed audit write never aborts the
// operation it describes.
func (s *service) audit(ctx context.Context, ev *audit.Event) {
	if err := s.auditLog.Record(ctx, ev); err != nil {
		s.logger.Warn("audit write failed",
			zap.String("action", ev.Action),
			zap.String("entity", ev.EntityID),
			zap.Error(err))
	}
}
