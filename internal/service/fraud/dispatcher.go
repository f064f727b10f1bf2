package fraud

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shiftmarket/fraud-engine/internal/domain/activity"
	domainerrors "github.com/shiftmarket/fraud-engine/internal/domain/errors"
	"github.com/shiftmarket/fraud-engine/internal/domain/rule"
	"github.com/shiftmarket/fraud-engine/internal/domain/signal"
)

// DispatchOutcome reports the hard effects of executing a rule's action.
type DispatchOutcome struct {
	Blocked     bool
	BlockReason string
}

// Dispatcher applies the side effect a matched rule configures. The action
// set is a closed enum: the switch below is exhaustive and an unknown action
// is a configuration error, not a silent no-op.
type Dispatcher struct {
	devices    DeviceRepository
	userBlocks UserBlockRepository
	signals    SignalRepository
	notifier   Notifier
	logger     *zap.Logger
}

// NewDispatcher wires the action handlers.
func NewDispatcher(devices DeviceRepository, userBlocks UserBlockRepository, signals SignalRepository, notifier Notifier, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		devices:    devices,
		userBlocks: userBlocks,
		signals:    signals,
		notifier:   notifier,
		logger:     logger,
	}
}

// Dispatch executes the configured action for a matched rule. Block is the
// only action with a hard-stop effect and must commit synchronously; its
// failure is fatal to the calling report. Review and notify failures are
// best-effort and never propagate.
func (d *Dispatcher) Dispatch(ctx context.Context, r *rule.FraudRule, sig *signal.FraudSignal, ev *activity.Event) (DispatchOutcome, error) {
	dispatchTotal.WithLabelValues(string(r.Action)).Inc()

	switch r.Action {
	case rule.ActionFlag:
		// Informational: the recorded signal is the whole effect.
		return DispatchOutcome{}, nil

	case rule.ActionBlock:
		return d.applyBlock(ctx, r, ev)

	case rule.ActionReview:
		sig.RequestReview()
		if err := d.signals.Update(ctx, sig); err != nil {
			// The signal is already in the unresolved queue; losing the
			// review marker is not worth failing the report over.
			d.logger.Error("failed to mark signal for review",
				zap.String("signal_id", sig.ID.String()),
				zap.Error(err))
		}
		return DispatchOutcome{}, nil

	case rule.ActionNotify:
		n := &Notification{
			UserID:   sig.UserID,
			SignalID: sig.ID,
			RuleCode: r.Code,
			Severity: sig.Severity,
			Summary:  fmt.Sprintf("%s: observed %.2f against threshold %s %.2f", r.Name, sig.Observed, r.Condition.Operator, r.Condition.Value),
		}
		if err := d.notifier.Notify(ctx, n); err != nil {
			notifyFailuresTotal.Inc()
			d.logger.Warn("notification delivery failed",
				zap.String("rule_code", r.Code),
				zap.String("signal_id", sig.ID.String()),
				zap.Error(err))
		}
		return DispatchOutcome{}, nil

	default:
		return DispatchOutcome{}, domainerrors.NewConfigurationError("UNKNOWN_ACTION",
			fmt.Sprintf("rule %s configures unknown action %q", r.Code, r.Action))
	}
}

// applyBlock hard-blocks the originating device (when the event names one)
// and the user. If either write fails the verdict is indeterminate and the
// caller must deny.
func (d *Dispatcher) applyBlock(ctx context.Context, r *rule.FraudRule, ev *activity.Event) (DispatchOutcome, error) {
	reason := fmt.Sprintf("rule %s matched", r.Code)

	if ev.Context.DeviceHash != "" {
		f, err := d.devices.GetByHash(ctx, ev.Context.DeviceHash)
		if err != nil {
			return DispatchOutcome{}, domainerrors.NewBlockDispatchError("device lookup failed during block").WithCause(err)
		}
		if !f.IsBlocked() {
			if err := f.Block(uuid.Nil, reason); err != nil {
				return DispatchOutcome{}, domainerrors.NewBlockDispatchError("device block transition failed").WithCause(err)
			}
			if err := d.devices.Update(ctx, f); err != nil {
				return DispatchOutcome{}, domainerrors.NewBlockDispatchError("device block persistence failed").WithCause(err)
			}
		}
	}

	if err := d.userBlocks.Block(ctx, ev.UserID, uuid.Nil, reason); err != nil {
		return DispatchOutcome{}, domainerrors.NewBlockDispatchError("user block persistence failed").WithCause(err)
	}

	blocksTotal.Inc()
	d.logger.Warn("hard block applied",
		zap.String("rule_code", r.Code),
		zap.String("user_id", ev.UserID.String()),
		zap.String("device_hash", ev.Context.DeviceHash))
	return DispatchOutcome{Blocked: true, BlockReason: reason}, nil
}
