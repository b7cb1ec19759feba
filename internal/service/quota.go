// Package service contains the business logic layer.
//
// This file implements the daily AI quota ledger. Two counters exist:
// a server-enforced counter per signed-in user, stored in user metadata and
// compared against the user's tier, and an advisory counter per anonymous
// device, stored in the counter package.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/DukeRupert/dentaistudy/internal/counter"
	"github.com/DukeRupert/dentaistudy/internal/domain"
	"github.com/DukeRupert/dentaistudy/internal/identity"
	"github.com/DukeRupert/dentaistudy/internal/metrics"
)

// User metadata keys for the authenticated counter.
const (
	MetaAIDate  = identity.AttrAIDate
	MetaAICount = identity.AttrAICount
)

// QuotaSubject identifies who is being metered. UserID wins when set;
// otherwise DeviceKey selects the anonymous counter.
type QuotaSubject struct {
	UserID    string
	DeviceKey string
}

// Authenticated reports whether the subject is a signed-in user.
func (s QuotaSubject) Authenticated() bool {
	return s.UserID != ""
}

// =============================================================================
// Interface Definition
// =============================================================================

// QuotaService defines operations for checking and consuming daily quota.
type QuotaService interface {
	// CheckAndConsume consumes one generation for the subject if the daily
	// limit allows it. A denial returns the decision together with a
	// *domain.LimitReachedError. For signed-in users any failure to read the
	// tier or persist the counter denies with an EUNAVAILABLE error; for
	// anonymous subjects such failures allow the request.
	CheckAndConsume(ctx context.Context, subject QuotaSubject) (*domain.QuotaDecision, error)

	// Usage returns today's usage without consuming anything.
	Usage(ctx context.Context, subject QuotaSubject) (*domain.QuotaDecision, error)
}

// =============================================================================
// Implementation
// =============================================================================

type quotaService struct {
	users   identity.Store
	devices counter.Store
	policy  domain.QuotaPolicy
	now     func() time.Time
	logger  *slog.Logger
}

// NewQuotaService creates a new QuotaService. now may be nil.
func NewQuotaService(users identity.Store, devices counter.Store, policy domain.QuotaPolicy, now func() time.Time, logger *slog.Logger) QuotaService {
	if now == nil {
		now = time.Now
	}
	return &quotaService{
		users:   users,
		devices: devices,
		policy:  policy,
		now:     now,
		logger:  logger,
	}
}

// CheckAndConsume implements QuotaService.
func (s *quotaService) CheckAndConsume(ctx context.Context, subject QuotaSubject) (*domain.QuotaDecision, error) {
	if subject.Authenticated() {
		return s.consumeUser(ctx, subject.UserID)
	}
	return s.consumeDevice(ctx, subject.DeviceKey)
}

// Usage implements QuotaService.
func (s *quotaService) Usage(ctx context.Context, subject QuotaSubject) (*domain.QuotaDecision, error) {
	const op = "QuotaService.Usage"
	today := domain.QuotaDay(s.now())

	if !subject.Authenticated() {
		limit := s.policy.AnonymousPerDay
		c, err := s.devices.Get(ctx, subject.DeviceKey, today)
		if err != nil {
			s.logger.Warn("anonymous usage unavailable", "error", err)
			c = domain.QuotaCounter{Date: today}
		}
		return decision(true, domain.TierAnonymous, limit, c.Used, today), nil
	}

	user, err := s.users.GetUser(ctx, subject.UserID)
	if err != nil {
		return nil, storeError(err, op)
	}
	tier := domain.EntitlementFromAttributes(user.AppMetadata).Tier
	limit := s.policy.Limit(tier)
	c := userCounter(subject.UserID, user.UserMetadata).ForDay(today)
	return decision(c.Used < limit, string(tier), limit, c.Used, today), nil
}

// consumeUser is the hard counter. It fails closed.
func (s *quotaService) consumeUser(ctx context.Context, userID string) (*domain.QuotaDecision, error) {
	const op = "QuotaService.CheckAndConsume"
	today := domain.QuotaDay(s.now())

	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		metrics.QuotaDecision(metrics.LedgerAuthenticated, "fail_closed", "unknown")
		s.logger.Error("quota check failed closed", "op", op, "user_id", userID, "error", err)
		return nil, closedError(err, op)
	}

	// Tier is read on every check, so an upgrade applies from the next call
	// while the day's count carries over.
	tier := domain.EntitlementFromAttributes(user.AppMetadata).Tier
	limit := s.policy.Limit(tier)

	used, ok, err := s.users.ConsumeDailyCounter(ctx, userID, today, limit)
	if err != nil {
		metrics.QuotaDecision(metrics.LedgerAuthenticated, "fail_closed", string(tier))
		s.logger.Error("quota write failed closed", "op", op, "user_id", userID, "error", err)
		return nil, closedError(err, op)
	}
	if !ok {
		metrics.QuotaDecision(metrics.LedgerAuthenticated, "deny", string(tier))
		s.logger.Info("daily quota reached", "user_id", userID, "tier", tier, "used", used, "limit", limit)
		return decision(false, string(tier), limit, used, today),
			&domain.LimitReachedError{Tier: string(tier), Limit: limit, Used: used}
	}

	metrics.QuotaDecision(metrics.LedgerAuthenticated, "allow", string(tier))
	return decision(true, string(tier), limit, used, today), nil
}

// consumeDevice is the advisory counter. It fails open.
func (s *quotaService) consumeDevice(ctx context.Context, key string) (*domain.QuotaDecision, error) {
	today := domain.QuotaDay(s.now())
	limit := s.policy.AnonymousPerDay

	c, ok, err := s.devices.ConsumeUpTo(ctx, key, today, limit)
	if err != nil {
		metrics.QuotaDecision(metrics.LedgerAnonymous, "fail_open", domain.TierAnonymous)
		s.logger.Warn("anonymous quota unavailable, allowing", "error", err)
		return decision(true, domain.TierAnonymous, limit, 0, today), nil
	}
	if !ok {
		metrics.QuotaDecision(metrics.LedgerAnonymous, "deny", domain.TierAnonymous)
		return decision(false, domain.TierAnonymous, limit, c.Used, today),
			&domain.LimitReachedError{Tier: domain.TierAnonymous, Limit: limit, Used: c.Used}
	}

	metrics.QuotaDecision(metrics.LedgerAnonymous, "allow", domain.TierAnonymous)
	return decision(true, domain.TierAnonymous, limit, c.Used, today), nil
}

func userCounter(userID string, meta map[string]any) domain.QuotaCounter {
	return domain.QuotaCounter{
		SubjectID: userID,
		Date:      attrString(meta, MetaAIDate),
		Used:      attrInt(meta, MetaAICount),
	}
}

func decision(allowed bool, tier string, limit, used int, day string) *domain.QuotaDecision {
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return &domain.QuotaDecision{
		Allowed:   allowed,
		Tier:      tier,
		Limit:     limit,
		Used:      used,
		Remaining: remaining,
		Date:      day,
	}
}

// closedError maps every hard-counter failure to EUNAVAILABLE so the caller
// denies instead of serving an unmetered request.
func closedError(err error, op string) error {
	if domain.ErrorCode(storeError(err, op)) == domain.ENOTFOUND {
		return domain.Unauthorized(op, "Account not found")
	}
	return domain.Unavailable(err, op, "Quota is temporarily unavailable")
}
