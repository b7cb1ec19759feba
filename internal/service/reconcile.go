package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/DukeRupert/dentaistudy/internal/billing"
	"github.com/DukeRupert/dentaistudy/internal/domain"
	"github.com/DukeRupert/dentaistudy/internal/metrics"
)

// ReconcileService turns payment webhook deliveries into entitlement changes.
type ReconcileService interface {
	// Reconcile verifies, normalizes and applies one delivery.
	//
	// Verification failures come back as a Rejected outcome with a nil error.
	// Every verified delivery yields Applied or Ignored, except a store
	// failure during apply, which returns an error and writes nothing so the
	// provider can redeliver.
	Reconcile(ctx context.Context, body []byte, headers billing.Headers) (domain.ReconcileOutcome, error)
}

// ReconcileConfig configures the reconciler.
type ReconcileConfig struct {
	Source  string           // provider name written to subscription_source
	Timeout time.Duration    // deadline for the store round trip
	Now     func() time.Time // clock for subscription_updated_at
}

type reconcileService struct {
	verifier *billing.Verifier
	catalog  *billing.ProductCatalog
	store    *EntitlementStore
	cfg      ReconcileConfig
	logger   *slog.Logger
}

// NewReconcileService creates a new ReconcileService.
func NewReconcileService(
	verifier *billing.Verifier,
	catalog *billing.ProductCatalog,
	store *EntitlementStore,
	cfg ReconcileConfig,
	logger *slog.Logger,
) ReconcileService {
	if cfg.Source == "" {
		cfg.Source = "dodo"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &reconcileService{
		verifier: verifier,
		catalog:  catalog,
		store:    store,
		cfg:      cfg,
		logger:   logger,
	}
}

// Reconcile implements ReconcileService.
func (s *reconcileService) Reconcile(ctx context.Context, body []byte, headers billing.Headers) (domain.ReconcileOutcome, error) {
	outcome, err := s.reconcile(ctx, body, headers)
	if err != nil {
		metrics.WebhookOutcome("error", "store")
		return outcome, err
	}
	metrics.WebhookOutcome(string(outcome.Kind), outcome.Reason)
	return outcome, nil
}

func (s *reconcileService) reconcile(ctx context.Context, body []byte, headers billing.Headers) (domain.ReconcileOutcome, error) {
	const op = "ReconcileService.Reconcile"

	// Nothing in body is looked at before this succeeds.
	if err := s.verifier.Verify(body, headers); err != nil {
		kind := billing.VerificationKind(err)
		metrics.SignatureFailure(kind)
		s.logger.Warn("webhook rejected", "reason", kind, "webhook_id", headers.ID, "error", err)
		return domain.Rejected(kind), nil
	}

	ev, err := billing.Normalize(body)
	ev.EventID = headers.ID
	if err != nil {
		reason := billing.NormalizationReason(err)
		s.logger.Warn("webhook ignored",
			"reason", reason,
			"event_id", ev.EventID,
			"event_type", ev.EventType,
			"error", err,
		)
		return domain.Ignored(reason, ev.EventID), nil
	}

	if !billing.IsUpgradeSignal(ev.PayloadKind, ev.Status) {
		// Cancellations and expiries land here; downgrades are not automatic.
		s.logger.Info("webhook ignored",
			"reason", domain.ReasonNotAnUpgradeEvent,
			"event_id", ev.EventID,
			"event_type", ev.EventType,
			"payload_kind", ev.PayloadKind,
			"status", ev.Status,
			"user_id", ev.SubjectUserID,
		)
		return domain.Ignored(domain.ReasonNotAnUpgradeEvent, ev.EventID), nil
	}

	tier, ok := s.catalog.Resolve(ev.PayloadKind, ev.Status, ev.ProductID)
	if !ok {
		s.logger.Warn("webhook ignored",
			"reason", domain.ReasonUnknownProduct,
			"event_id", ev.EventID,
			"product_id", ev.ProductID,
			"user_id", ev.SubjectUserID,
		)
		return domain.Ignored(domain.ReasonUnknownProduct, ev.EventID), nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	// Single read, immediately before the single write.
	snap, err := s.store.Load(ctx, ev.SubjectUserID)
	if err != nil {
		if domain.ErrorCode(err) == domain.ENOTFOUND {
			s.logger.Warn("webhook ignored",
				"reason", domain.ReasonUnknownUser,
				"event_id", ev.EventID,
				"user_id", ev.SubjectUserID,
			)
			return domain.Ignored(domain.ReasonUnknownUser, ev.EventID), nil
		}
		s.logger.Error("failed to read entitlement", "op", op, "event_id", ev.EventID, "user_id", ev.SubjectUserID, "error", err)
		return domain.ReconcileOutcome{EventID: ev.EventID}, err
	}

	current := snap.Entitlement
	if current.LastEventID != "" && current.LastEventID == ev.EventID && current.Tier == tier {
		s.logger.Info("webhook replay", "event_id", ev.EventID, "user_id", ev.SubjectUserID, "tier", tier)
		out := domain.Applied(ev.SubjectUserID, tier, ev.EventID)
		out.Replayed = true
		return out, nil
	}

	at := eventTime(ev, headers.Timestamp)
	if !at.IsZero() && !current.LastEventAt.IsZero() && at.Before(current.LastEventAt) {
		s.logger.Warn("webhook ignored",
			"reason", domain.ReasonStaleEvent,
			"event_id", ev.EventID,
			"user_id", ev.SubjectUserID,
			"event_at", at,
			"last_event_at", current.LastEventAt,
		)
		return domain.Ignored(domain.ReasonStaleEvent, ev.EventID), nil
	}

	next := domain.Entitlement{
		Tier:           tier,
		Source:         s.cfg.Source,
		LastEventID:    ev.EventID,
		LastEventType:  ev.EventType,
		LastEventAt:    at,
		UpdatedAt:      s.cfg.Now().UTC(),
		ProductID:      ev.ProductID,
		SubscriptionID: ev.SubscriptionID,
		PaymentID:      ev.PaymentID,
		CustomerID:     ev.CustomerID,
	}
	if err := s.store.Save(ctx, snap, next); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.logger.Error("entitlement write timed out", "op", op, "event_id", ev.EventID, "user_id", ev.SubjectUserID)
		} else {
			s.logger.Error("failed to write entitlement", "op", op, "event_id", ev.EventID, "user_id", ev.SubjectUserID, "error", err)
		}
		return domain.ReconcileOutcome{EventID: ev.EventID}, err
	}

	metrics.EntitlementWritten(string(tier))
	s.logger.Info("entitlement applied",
		"event_id", ev.EventID,
		"event_type", ev.EventType,
		"user_id", ev.SubjectUserID,
		"tier", tier,
		"previous_tier", current.Tier,
	)
	return domain.Applied(ev.SubjectUserID, tier, ev.EventID), nil
}
