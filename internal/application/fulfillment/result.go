package fulfillment

import domorder "github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/order"

type Stage string

const (
	StageReceived      Stage = "RECEIVED"
	StageVerified      Stage = "VERIFIED"
	StageLedgerUpdated Stage = "LEDGER_UPDATED"
	StageStockAdjusted Stage = "STOCK_ADJUSTED"
	StageDone          Stage = "DONE"
)

type Outcome string

const (
	OutcomeConfirmed        Outcome = "confirmed"
	OutcomePartial          Outcome = "partial"
	OutcomeAlreadyConfirmed Outcome = "already_confirmed"
	OutcomeRejected         Outcome = "rejected"
	OutcomeFailed           Outcome = "failed"
)

// ItemOutcome is the stock adjustment result of one line item.
type ItemOutcome struct {
	ProductID string
	Quantity  int
	Remaining int
	Err       error
	Reason    string
}

func (i ItemOutcome) OK() bool { return i.Err == nil }

// Result describes how far a callback got. It is returned on failure as well,
// with Trace ending at the last stage reached.
type Result struct {
	Order   *domorder.Order
	Outcome Outcome
	Trace   []Stage
	Items   []ItemOutcome
	// Flagged is true once the order's reconciliation flag was persisted.
	Flagged bool
}

func (r *Result) reached(s Stage) { r.Trace = append(r.Trace, s) }

// Reached reports whether the callback passed through the given stage.
func (r *Result) Reached(s Stage) bool {
	for _, t := range r.Trace {
		if t == s {
			return true
		}
	}
	return false
}

// Failed lists the items whose stock could not be adjusted.
func (r *Result) Failed() []ItemOutcome {
	var out []ItemOutcome
	for _, it := range r.Items {
		if !it.OK() {
			out = append(out, it)
		}
	}
	return out
}
