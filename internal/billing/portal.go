package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dodopayments/dodopayments-go"
	"github.com/dodopayments/dodopayments-go/option"
)

// Environments accepted by the provider client.
const (
	EnvironmentTestMode = "test_mode"
	EnvironmentLiveMode = "live_mode"
)

// ErrPortalNotConfigured is returned when no provider API key is set.
var ErrPortalNotConfigured = errors.New("billing portal is not configured")

// Portal creates self-service billing sessions for existing customers.
type Portal interface {
	// CreatePortalLink returns a one-time URL to the customer portal.
	CreatePortalLink(ctx context.Context, customerID string) (string, error)
}

// PortalConfig configures the provider API client.
type PortalConfig struct {
	APIKey      string
	Environment string // EnvironmentTestMode or EnvironmentLiveMode
}

// DodoPortal implements Portal with the provider's Go SDK.
type DodoPortal struct {
	client *dodopayments.Client
	logger *slog.Logger
}

// NewDodoPortal creates a portal client. Without an API key every call
// returns ErrPortalNotConfigured.
func NewDodoPortal(cfg PortalConfig, logger *slog.Logger) *DodoPortal {
	p := &DodoPortal{logger: logger}
	if cfg.APIKey == "" {
		logger.Warn("billing portal disabled: no provider API key")
		return p
	}

	envOpt := option.WithEnvironmentTestMode()
	if cfg.Environment == EnvironmentLiveMode {
		envOpt = option.WithEnvironmentLiveMode()
	}

	p.client = dodopayments.NewClient(
		option.WithBearerToken(cfg.APIKey),
		envOpt,
	)
	return p
}

// CreatePortalLink implements Portal.
func (p *DodoPortal) CreatePortalLink(ctx context.Context, customerID string) (string, error) {
	if p.client == nil {
		return "", ErrPortalNotConfigured
	}

	session, err := p.client.Customers.CustomerPortal.New(ctx, customerID, dodopayments.CustomerCustomerPortalNewParams{})
	if err != nil {
		return "", fmt.Errorf("create customer portal session: %w", err)
	}

	p.logger.Debug("customer portal session created", "customer_id", customerID)
	return session.Link, nil
}

var _ Portal = (*DodoPortal)(nil)
