package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/DukeRupert/dentaistudy/internal/billing"
	"github.com/DukeRupert/dentaistudy/internal/domain"
	"github.com/DukeRupert/dentaistudy/internal/identity"
	"github.com/DukeRupert/dentaistudy/internal/storage"
)

// AccountStatus is what the account page shows about a signed-in user.
type AccountStatus struct {
	Entitlement domain.Entitlement
	Quota       domain.QuotaDecision
}

// AccountService defines operations on the signed-in user's own account.
type AccountService interface {
	// Status returns the entitlement and today's quota usage.
	Status(ctx context.Context, userID string) (*AccountStatus, error)

	// PortalLink creates a payment-provider self-service session for the
	// customer recorded on the entitlement.
	PortalLink(ctx context.Context, userID string) (string, error)

	// Delete removes the user's stored files and then the user record.
	Delete(ctx context.Context, userID string) error
}

type accountService struct {
	users        identity.Store
	entitlements *EntitlementStore
	quota        QuotaService
	portal       billing.Portal
	storage      storage.Storage
	logger       *slog.Logger
}

// NewAccountService creates a new AccountService.
func NewAccountService(
	users identity.Store,
	entitlements *EntitlementStore,
	quota QuotaService,
	portal billing.Portal,
	store storage.Storage,
	logger *slog.Logger,
) AccountService {
	return &accountService{
		users:        users,
		entitlements: entitlements,
		quota:        quota,
		portal:       portal,
		storage:      store,
		logger:       logger,
	}
}

// Status implements AccountService.
func (s *accountService) Status(ctx context.Context, userID string) (*AccountStatus, error) {
	snap, err := s.entitlements.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	usage, err := s.quota.Usage(ctx, QuotaSubject{UserID: userID})
	if err != nil {
		return nil, err
	}
	return &AccountStatus{Entitlement: snap.Entitlement, Quota: *usage}, nil
}

// PortalLink implements AccountService.
func (s *accountService) PortalLink(ctx context.Context, userID string) (string, error) {
	const op = "AccountService.PortalLink"

	snap, err := s.entitlements.Load(ctx, userID)
	if err != nil {
		return "", err
	}
	if snap.Entitlement.CustomerID == "" {
		return "", domain.Invalid(op, "No billing account found")
	}

	link, err := s.portal.CreatePortalLink(ctx, snap.Entitlement.CustomerID)
	if err != nil {
		if errors.Is(err, billing.ErrPortalNotConfigured) {
			return "", domain.Unavailable(err, op, "Billing portal is not available")
		}
		s.logger.Error("failed to create portal session", "op", op, "user_id", userID, "error", err)
		return "", domain.Wrap(err, domain.EPAYMENT, op, "Could not open billing portal")
	}
	return link, nil
}

// Delete implements AccountService. File cleanup is best effort; the user
// record is only removed once cleanup has been attempted.
func (s *accountService) Delete(ctx context.Context, userID string) error {
	const op = "AccountService.Delete"

	if n, err := s.storage.DeletePrefix(ctx, storage.AvatarPrefix(userID)); err != nil {
		s.logger.Warn("avatar cleanup failed", "op", op, "user_id", userID, "error", err)
	} else if n > 0 {
		s.logger.Info("avatar files removed", "user_id", userID, "count", n)
	}

	if err := s.users.DeleteUser(ctx, userID); err != nil {
		s.logger.Error("failed to delete user", "op", op, "user_id", userID, "error", err)
		return storeError(err, op)
	}

	s.logger.Info("account deleted", "user_id", userID)
	return nil
}
