package metrics

import "time"

// Quota ledger labels.
const (
	LedgerAnonymous     = "anonymous"
	LedgerAuthenticated = "authenticated"
)

// WebhookOutcome records the result of one reconciliation. reason is empty
// for applied events.
func WebhookOutcome(outcome, reason string) {
	if reason == "" {
		reason = "none"
	}
	WebhookOutcomesTotal.WithLabelValues(outcome, reason).Inc()
}

// SignatureFailure records a delivery rejected by the verifier.
func SignatureFailure(kind string) {
	WebhookSignatureFailuresTotal.WithLabelValues(kind).Inc()
}

// EntitlementWritten records a tier written to a subject record.
func EntitlementWritten(tier string) {
	EntitlementWritesTotal.WithLabelValues(tier).Inc()
}

// QuotaDecision records an allow, deny or fail-open/closed decision.
func QuotaDecision(ledger, decision, tier string) {
	QuotaDecisionsTotal.WithLabelValues(ledger, decision, tier).Inc()
}

// AICall records a completed provider call, successful or not.
func AICall(provider, status string, d time.Duration) {
	AIAPICalls.WithLabelValues(provider, status).Inc()
	AICallDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// AITokens adds token usage reported by the provider.
func AITokens(input, output int) {
	if input > 0 {
		AITokensTotal.WithLabelValues("input").Add(float64(input))
	}
	if output > 0 {
		AITokensTotal.WithLabelValues("output").Add(float64(output))
	}
}
