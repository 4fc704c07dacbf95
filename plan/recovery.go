package plan

import "time"

// transientCodes are failure shapes that may clear on their own.
var transientCodes = map[string]bool{
	FailTimeout:     true,
	FailTransient:   true,
	FailRateLimited: true,
}

// logicCodes are failure shapes caused by the plan's own assumptions.
var logicCodes = map[string]bool{
	FailPrecondition: true,
	FailLogic:        true,
	FailInvalid:      true,
}

// Classify maps a step failure to a failure class and recovery strategy.
//
// The rules, in priority order:
//   - Policy violations are Policy/Abort. Never retried, regardless of
//     remaining attempts.
//   - Transient shapes (timeout, transient, rate_limited) with attempts
//     remaining retry: immediately on the first failure, with backoff
//     after that. Rate limits always back off.
//   - Transient shapes with attempts exhausted abort.
//   - Logic shapes (precondition, logic, invalid) switch to a declared
//     alternate branch, or abort when the step declares none.
//   - Everything else (unknown tools, auth failures, internal errors)
//     is Fatal/Abort.
//
// Note the retry cadence: the first retry of a timeout or transient
// failure runs immediately, and every retry after that waits for the
// exponential delay computed by Backoff. Only rate-limited failures
// back off from the very first retry.
func Classify(step *Step, attempt int, f *Failure) Classification {
	c := Classification{
		StepID:  step.ID,
		Attempt: attempt,
		Reason:  f.Message,
	}

	maxAttempts := 1
	if step.Retry != nil {
		maxAttempts = step.Retry.MaxAttempts
	}

	switch {
	case f.Code == FailPolicy:
		c.Class = ClassPolicy
		c.Strategy = StrategyAbort

	case transientCodes[f.Code]:
		c.Class = ClassTransient
		if attempt >= maxAttempts {
			c.Strategy = StrategyAbort
			return c
		}
		if f.Code == FailRateLimited || attempt > 1 {
			c.Strategy = StrategyBackoff
		} else {
			c.Strategy = StrategyRetry
		}

	case logicCodes[f.Code]:
		c.Class = ClassLogic
		if len(step.Alternates) > 0 {
			c.Strategy = StrategyAlternate
		} else {
			c.Strategy = StrategyAbort
		}

	default:
		c.Class = ClassFatal
		c.Strategy = StrategyAbort
	}
	return c
}

// Backoff returns the delay before retry attempt+1, doubling from the
// policy's base delay and capped at its max. The exponent uses the
// number of completed attempts, so the first retry waits BaseDelay.
// No jitter: identical histories must replay identically.
func Backoff(attempt int, policy *RetryPolicy) time.Duration {
	if policy == nil || policy.BaseDelay <= 0 {
		return 0
	}
	delay := policy.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if policy.MaxDelay > 0 && delay >= policy.MaxDelay {
			return policy.MaxDelay
		}
	}
	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	return delay
}
