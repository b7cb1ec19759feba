// This file implements the signed-in account endpoints.
//
// Routes (all require a bearer token):
//   - GET    /api/me/entitlement -> HandleEntitlement
//   - POST   /api/billing/portal -> HandlePortal
//   - POST   /api/profile/avatar -> HandleAvatarUpload
//   - DELETE /api/account        -> HandleDeleteAccount
package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/DukeRupert/dentaistudy/internal/auth"
	"github.com/DukeRupert/dentaistudy/internal/domain"
	"github.com/DukeRupert/dentaistudy/internal/service"
)

// EntitlementResponse is the body of GET /api/me/entitlement.
type EntitlementResponse struct {
	Tier      string        `json:"tier"`
	IsPro     bool          `json:"is_pro"`
	Source    string        `json:"source,omitempty"`
	UpdatedAt *time.Time    `json:"updated_at,omitempty"`
	Quota     QuotaResponse `json:"quota"`
}

// QuotaResponse is today's generation usage.
type QuotaResponse struct {
	Used      int    `json:"used"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
	Date      string `json:"date"`
}

// AccountHandler serves the account endpoints.
type AccountHandler struct {
	accounts service.AccountService
	avatars  service.AvatarService
	logger   *slog.Logger
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(accounts service.AccountService, avatars service.AvatarService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		accounts: accounts,
		avatars:  avatars,
		logger:   logger,
	}
}

// RegisterRoutes registers account routes. requireSubject must reject
// anonymous callers.
func (h *AccountHandler) RegisterRoutes(mux *http.ServeMux, requireSubject func(http.Handler) http.Handler) {
	mux.Handle("GET /api/me/entitlement", requireSubject(http.HandlerFunc(h.HandleEntitlement)))
	mux.Handle("POST /api/billing/portal", requireSubject(http.HandlerFunc(h.HandlePortal)))
	mux.Handle("POST /api/profile/avatar", requireSubject(http.HandlerFunc(h.HandleAvatarUpload)))
	mux.Handle("DELETE /api/account", requireSubject(http.HandlerFunc(h.HandleDeleteAccount)))
}

// HandleEntitlement returns the caller's tier and quota usage.
func (h *AccountHandler) HandleEntitlement(w http.ResponseWriter, r *http.Request) {
	sub := auth.GetSubjectFromRequest(r)
	if sub == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	status, err := h.accounts.Status(r.Context(), sub.UserID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	ent := status.Entitlement
	resp := EntitlementResponse{
		Tier:   string(ent.Tier),
		IsPro:  ent.Tier.IsPro(),
		Source: ent.Source,
		Quota: QuotaResponse{
			Used:      status.Quota.Used,
			Limit:     status.Quota.Limit,
			Remaining: status.Quota.Remaining,
			Date:      status.Quota.Date,
		},
	}
	if !ent.UpdatedAt.IsZero() {
		resp.UpdatedAt = &ent.UpdatedAt
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandlePortal returns a billing portal link for the caller.
func (h *AccountHandler) HandlePortal(w http.ResponseWriter, r *http.Request) {
	sub := auth.GetSubjectFromRequest(r)
	if sub == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	link, err := h.accounts.PortalLink(r.Context(), sub.UserID)
	if err != nil {
		if domain.ErrorCode(err) == domain.EINVALID {
			writeJSON(w, http.StatusBadRequest, JSONError{
				Error:   "NO_BILLING_ACCOUNT",
				Message: domain.ErrorMessage(err),
			})
			return
		}
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"link": link})
}

// HandleAvatarUpload stores a new profile picture from the "avatar" form field.
func (h *AccountHandler) HandleAvatarUpload(w http.ResponseWriter, r *http.Request) {
	sub := auth.GetSubjectFromRequest(r)
	if sub == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	// Multipart overhead on top of the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, service.MaxAvatarBytes+64<<10)
	if err := r.ParseMultipartForm(service.MaxAvatarBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			ErrorResponse(w, r, h.logger, domain.TooLarge("", "Image must be 5MB or smaller"))
			return
		}
		ErrorResponse(w, r, h.logger, domain.Invalid("", "Expected a multipart upload"))
		return
	}

	file, _, err := r.FormFile("avatar")
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("", "No file uploaded"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, service.MaxAvatarBytes+1))
	if err != nil {
		InternalErrorResponse(w, r, h.logger, err)
		return
	}

	url, err := h.avatars.Upload(r.Context(), sub.UserID, data)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"avatar_url": url})
}

// HandleDeleteAccount removes the caller's files and account.
func (h *AccountHandler) HandleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	sub := auth.GetSubjectFromRequest(r)
	if sub == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	if err := h.accounts.Delete(r.Context(), sub.UserID); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
