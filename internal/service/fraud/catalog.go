package fraud

import (
	"time"

	"github.com/shiftmarket/fraud-engine/internal/domain/rule"
)

// DefaultCatalog is the stock rule set seeded at startup. Seeding is
// idempotent: codes that already exist are left alone, so operators can edit
// thresholds in place without re-seeds clobbering them.
func DefaultCatalog() []*rule.FraudRule {
	catalog := []*rule.FraudRule{
		rule.NewFraudRule(
			"VEL_LOGIN_FAIL",
			"Repeated failed logins",
			rule.CategoryVelocity,
			rule.Condition{Field: FieldFailedLogins, Operator: rule.OpGreaterEqual, Value: 5, Period: time.Hour},
			8,
			rule.ActionFlag,
		),
		rule.NewFraudRule(
			"DEV_SPREAD",
			"Too many devices on one account",
			rule.CategoryDevice,
			rule.Condition{Field: FieldDistinctDevices, Operator: rule.OpGreaterThan, Value: 3, Period: 24 * time.Hour},
			6,
			rule.ActionReview,
		),
		rule.NewFraudRule(
			"LOC_IP_SPREAD",
			"Logins from many networks",
			rule.CategoryLocation,
			rule.Condition{Field: FieldDistinctIPs, Operator: rule.OpGreaterThan, Value: 5, Period: 24 * time.Hour},
			5,
			rule.ActionNotify,
		),
		rule.NewFraudRule(
			"BEH_SHIFT_CANCEL",
			"Excessive shift cancellations",
			rule.CategoryBehavior,
			rule.Condition{Field: FieldShiftCancellations, Operator: rule.OpGreaterThan, Value: 3, Period: 7 * 24 * time.Hour},
			4,
			rule.ActionFlag,
		),
		rule.NewFraudRule(
			"PAY_RAPID_FIRE",
			"Rapid payment attempts",
			rule.CategoryPayment,
			rule.Condition{Field: FieldPaymentAttempts, Operator: rule.OpGreaterThan, Value: 10, Period: time.Hour},
			7,
			rule.ActionReview,
		),
		rule.NewFraudRule(
			"PAY_AMOUNT_SURGE",
			"Payment volume surge",
			rule.CategoryPayment,
			rule.Condition{Field: FieldPaymentAmountSum, Operator: rule.OpGreaterThan, Value: 5000, Period: 24 * time.Hour},
			9,
			rule.ActionBlock,
		),
		rule.NewFraudRule(
			"SIG_PILEUP",
			"Unresolved signal pileup",
			rule.CategoryIdentity,
			rule.Condition{Field: FieldUnresolvedSignals, Operator: rule.OpGreaterEqual, Value: 5, Period: 0},
			6,
			rule.ActionNotify,
		),
	}

	descriptions := map[string]string{
		"VEL_LOGIN_FAIL":   "Five or more failed logins within an hour suggests credential stuffing.",
		"DEV_SPREAD":       "An account seen on more than three devices in a day is shared or compromised.",
		"LOC_IP_SPREAD":    "Access from more than five networks in a day suggests proxy rotation.",
		"BEH_SHIFT_CANCEL": "Cancelling more than three accepted shifts in a week games marketplace ranking.",
		"PAY_RAPID_FIRE":   "More than ten payment attempts in an hour suggests card testing.",
		"PAY_AMOUNT_SURGE": "Daily payment volume above the surge ceiling is hard-blocked pending review.",
		"SIG_PILEUP":       "Five or more open signals of any kind warrants an alert to the risk team.",
	}
	for _, r := range catalog {
		r.Description = descriptions[r.Code]
	}
	return catalog
}
