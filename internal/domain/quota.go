// Package domain contains core business types and interfaces.
//
// This file defines the daily AI usage counter and the per-tier limits it is
// compared against.
package domain

import (
	"fmt"
	"time"
)

// QuotaDateLayout is the calendar-day format used for counter rows (UTC).
const QuotaDateLayout = "2006-01-02"

// TierAnonymous labels the device counter used when no user is signed in.
const TierAnonymous = "anonymous"

// QuotaDay returns the UTC calendar day containing t.
func QuotaDay(t time.Time) string {
	return t.UTC().Format(QuotaDateLayout)
}

// QuotaCounter is the per-subject usage row.
type QuotaCounter struct {
	SubjectID string
	Date      string
	Used      int
}

// ForDay returns the counter as it should be read on day.
// A row from any other day is stale and reads as zero.
func (c QuotaCounter) ForDay(day string) QuotaCounter {
	if c.Date != day {
		return QuotaCounter{SubjectID: c.SubjectID, Date: day, Used: 0}
	}
	return c
}

// QuotaPolicy maps a tier to its daily generation limit.
type QuotaPolicy struct {
	AnonymousPerDay int
	FreePerDay      int
	ProPerDay       int
}

// Free tier limits are bounded so misconfiguration cannot give away pro usage.
const (
	MinFreeDailyLimit = 8
	MaxFreeDailyLimit = 20
)

// DefaultQuotaPolicy matches the published plans.
var DefaultQuotaPolicy = QuotaPolicy{
	AnonymousPerDay: 2,
	FreePerDay:      20,
	ProPerDay:       200,
}

// Limit returns the daily limit for an authenticated tier.
func (p QuotaPolicy) Limit(tier Tier) int {
	if tier.IsPro() {
		return p.ProPerDay
	}
	return p.FreePerDay
}

// Validate checks the policy against the plan bounds.
func (p QuotaPolicy) Validate() error {
	if p.AnonymousPerDay < 0 {
		return fmt.Errorf("anonymous daily limit must not be negative")
	}
	if p.FreePerDay < MinFreeDailyLimit || p.FreePerDay > MaxFreeDailyLimit {
		return fmt.Errorf("free daily limit must be between %d and %d, got %d", MinFreeDailyLimit, MaxFreeDailyLimit, p.FreePerDay)
	}
	if p.ProPerDay < p.FreePerDay {
		return fmt.Errorf("pro daily limit (%d) must not be below free limit (%d)", p.ProPerDay, p.FreePerDay)
	}
	return nil
}

// QuotaDecision is the result of a check-and-consume or a usage read.
type QuotaDecision struct {
	Allowed   bool
	Tier      string // tier label the limit came from ("free", "pro_yearly", "anonymous")
	Limit     int
	Used      int // usage after this decision
	Remaining int
	Date      string
}

// LimitReachedError is returned when a subject has used its daily allowance.
// Callers render it as a structured 429, not as a generic failure.
type LimitReachedError struct {
	Tier  string
	Limit int
	Used  int
}

func (e *LimitReachedError) Error() string {
	return fmt.Sprintf("daily limit of %d reached for tier %s", e.Limit, e.Tier)
}
