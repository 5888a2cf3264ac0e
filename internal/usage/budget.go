package usage

import (
	"github.com/freol35241/lisa-loop/internal/errors"
	"github.com/freol35241/lisa-loop/internal/logging"
)

// CheckBudget compares cumulative spend against the configured limit.
//
// A limit of zero or less means no budget is configured and the check is
// a no-op. At or above the limit a fatal BudgetError is returned. At or
// above limit*warnPct/100 the warning threshold is reported so the
// caller can surface it to the operator, and it is logged.
func CheckBudget(cumulative, limit float64, warnPct int, logger *logging.Logger) (bool, error) {
	if limit <= 0 {
		return false, nil
	}

	if cumulative >= limit {
		return false, errors.NewBudgetError(cumulative, limit)
	}

	warnAt := limit * float64(warnPct) / 100
	if cumulative >= warnAt {
		logger.Warn("approaching budget limit",
			"spent_usd", cumulative,
			"limit_usd", limit,
			"warn_pct", warnPct)
		return true, nil
	}
	return false, nil
}
