package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/DukeRupert/dentaistudy/internal/billing"
	"github.com/DukeRupert/dentaistudy/internal/domain"
	"github.com/DukeRupert/dentaistudy/internal/email"
	"github.com/DukeRupert/dentaistudy/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePortal struct {
	link       string
	err        error
	customerID string
}

func (p *fakePortal) CreatePortalLink(ctx context.Context, customerID string) (string, error) {
	p.customerID = customerID
	return p.link, p.err
}

type fakeMailer struct {
	sent []email.ContactMessage
	err  error
}

func (m *fakeMailer) SendContactMessage(ctx context.Context, msg email.ContactMessage) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func newLocalStorage(t *testing.T) *storage.LocalStorage {
	t.Helper()
	s, err := storage.NewLocalStorage(storage.LocalConfig{
		BasePath: t.TempDir(),
		BaseURL:  "http://localhost:8080/files",
	}, discardLogger())
	require.NoError(t, err)
	return s
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// =============================================================================
// AvatarService Tests
// =============================================================================

func TestAvatar_UploadResizesAndRecordsURL(t *testing.T) {
	f := newQuotaFixture(t, domain.TierFree)
	store := newLocalStorage(t)
	svc := NewAvatarService(f.users, store, NewImagingProcessor(), discardLogger())

	url, err := svc.Upload(context.Background(), testUserID, pngBytes(t, 1024, 600))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "http://localhost:8080/files/profile-pictures/"+testUserID+"/"))

	u, err := f.users.GetUser(context.Background(), testUserID)
	require.NoError(t, err)
	assert.Equal(t, url, u.UserMetadata[MetaAvatarURL])
	assert.Equal(t, "Sam", u.UserMetadata["display_name"])

	key, _ := u.UserMetadata[MetaAvatarKey].(string)
	b, err := os.ReadFile(filepath.Join(store.BasePath(), filepath.FromSlash(key)))
	require.NoError(t, err)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(b))
	require.NoError(t, err)
	assert.Equal(t, 512, cfg.Width)
	assert.Equal(t, 300, cfg.Height)
}

func TestAvatar_ReplacesPreviousFile(t *testing.T) {
	f := newQuotaFixture(t, domain.TierFree)
	store := newLocalStorage(t)
	svc := NewAvatarService(f.users, store, NewImagingProcessor(), discardLogger())

	_, err := svc.Upload(context.Background(), testUserID, pngBytes(t, 64, 64))
	require.NoError(t, err)
	_, err = svc.Upload(context.Background(), testUserID, pngBytes(t, 32, 32))
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(store.BasePath(), "profile-pictures", testUserID))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAvatar_RejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		code string
	}{
		{"empty", nil, domain.EINVALID},
		{"not an image", []byte("%PDF-1.4 hello"), domain.EINVALID},
		{"too large", append(pngBytes(t, 4, 4), make([]byte, MaxAvatarBytes)...), domain.ETOOLARGE},
		{"truncated png", pngBytes(t, 16, 16)[:40], domain.EINVALID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newQuotaFixture(t, domain.TierFree)
			svc := NewAvatarService(f.users, newLocalStorage(t), NewImagingProcessor(), discardLogger())

			_, err := svc.Upload(context.Background(), testUserID, tt.data)
			require.Error(t, err)
			assert.Equal(t, tt.code, domain.ErrorCode(err))
			assert.Equal(t, 0, f.users.UserWrites)
		})
	}
}

func TestAvatar_MetadataWriteFailureRemovesUpload(t *testing.T) {
	f := newQuotaFixture(t, domain.TierFree)
	f.users.WriteErr = errors.New("boom")
	store := newLocalStorage(t)
	svc := NewAvatarService(f.users, store, NewImagingProcessor(), discardLogger())

	_, err := svc.Upload(context.Background(), testUserID, pngBytes(t, 32, 32))
	require.Error(t, err)

	entries, _ := os.ReadDir(filepath.Join(store.BasePath(), "profile-pictures", testUserID))
	assert.Empty(t, entries)
}

// =============================================================================
// AccountService Tests
// =============================================================================

func newAccountFixture(t *testing.T, portal billing.Portal) (*quotaFixture, *storage.LocalStorage, AccountService) {
	t.Helper()
	f := newQuotaFixture(t, domain.TierProYearly)
	store := newLocalStorage(t)
	svc := NewAccountService(f.users, NewEntitlementStore(f.users), f.svc, portal, store, discardLogger())
	return f, store, svc
}

func TestAccount_Status(t *testing.T) {
	f, _, svc := newAccountFixture(t, &fakePortal{})
	f.seedCount(t, domain.QuotaDay(fixedNow), 12)

	status, err := svc.Status(context.Background(), testUserID)
	require.NoError(t, err)
	assert.Equal(t, domain.TierProYearly, status.Entitlement.Tier)
	assert.Equal(t, 200, status.Quota.Limit)
	assert.Equal(t, 188, status.Quota.Remaining)
}

func TestAccount_PortalLink(t *testing.T) {
	portal := &fakePortal{link: "https://portal.example/session/1"}
	f, _, svc := newAccountFixture(t, portal)

	_, err := svc.PortalLink(context.Background(), testUserID)
	require.Error(t, err)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err), "no customer recorded yet")

	require.NoError(t, f.users.ReplaceAppMetadata(context.Background(), testUserID, map[string]any{
		domain.AttrSubscriptionTier: "pro_yearly",
		domain.AttrCustomerID:       "cus_42",
	}))

	link, err := svc.PortalLink(context.Background(), testUserID)
	require.NoError(t, err)
	assert.Equal(t, "https://portal.example/session/1", link)
	assert.Equal(t, "cus_42", portal.customerID)
}

func TestAccount_PortalLinkErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"not configured", billing.ErrPortalNotConfigured, domain.EUNAVAILABLE},
		{"provider error", errors.New("502 from provider"), domain.EPAYMENT},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, _, svc := newAccountFixture(t, &fakePortal{err: tt.err})
			require.NoError(t, f.users.ReplaceAppMetadata(context.Background(), testUserID,
				map[string]any{domain.AttrCustomerID: "cus_1"}))

			_, err := svc.PortalLink(context.Background(), testUserID)
			require.Error(t, err)
			assert.Equal(t, tt.code, domain.ErrorCode(err))
		})
	}
}

func TestAccount_DeleteRemovesFilesAndUser(t *testing.T) {
	f, store, svc := newAccountFixture(t, &fakePortal{})
	avatars := NewAvatarService(f.users, store, NewImagingProcessor(), discardLogger())
	_, err := avatars.Upload(context.Background(), testUserID, pngBytes(t, 16, 16))
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), testUserID))

	_, err = f.users.GetUser(context.Background(), testUserID)
	assert.Error(t, err)
	_, statErr := os.Stat(filepath.Join(store.BasePath(), "profile-pictures", testUserID))
	assert.True(t, os.IsNotExist(statErr))

	err = svc.Delete(context.Background(), testUserID)
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
}

// =============================================================================
// ContactService Tests
// =============================================================================

func TestContact_Send(t *testing.T) {
	mailer := &fakeMailer{}
	svc := NewContactService(mailer, discardLogger())

	err := svc.Send(context.Background(), email.ContactMessage{
		Name:    "  Dr. Lee ",
		Email:   "lee@example.com",
		Topic:   "Billing",
		Message: "Hello there",
	})
	require.NoError(t, err)
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "Dr. Lee", mailer.sent[0].Name)
}

func TestContact_Validation(t *testing.T) {
	svc := NewContactService(&fakeMailer{}, discardLogger())

	err := svc.Send(context.Background(), email.ContactMessage{Email: "not-an-email"})

	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "name")
	assert.Contains(t, verr.Fields, "email")
	assert.Contains(t, verr.Fields, "message")
	assert.NotContains(t, verr.Fields, "topic")
}

func TestContact_NotConfigured(t *testing.T) {
	svc := NewContactService(nil, discardLogger())

	err := svc.Send(context.Background(), email.ContactMessage{
		Name: "A", Email: "a@example.com", Message: "hi",
	})
	assert.Equal(t, domain.EUNAVAILABLE, domain.ErrorCode(err))
}

func TestContact_MailerFailure(t *testing.T) {
	svc := NewContactService(&fakeMailer{err: errors.New("smtp down")}, discardLogger())

	err := svc.Send(context.Background(), email.ContactMessage{
		Name: "A", Email: "a@example.com", Message: "hi",
	})
	assert.Equal(t, domain.EINTERNAL, domain.ErrorCode(err))
}
