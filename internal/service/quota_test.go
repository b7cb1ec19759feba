package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DukeRupert/dentaistudy/internal/counter"
	"github.com/DukeRupert/dentaistudy/internal/domain"
	"github.com/DukeRupert/dentaistudy/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

type quotaFixture struct {
	users   *identity.MemoryStore
	devices *counter.MemoryStore
	clock   *testClock
	svc     QuotaService
}

func newQuotaFixture(t *testing.T, tier domain.Tier) *quotaFixture {
	t.Helper()

	users := identity.NewMemoryStore()
	users.Put(identity.User{
		ID:           testUserID,
		AppMetadata:  map[string]any{domain.AttrSubscriptionTier: string(tier)},
		UserMetadata: map[string]any{"display_name": "Sam"},
	})
	devices := counter.NewMemoryStore()
	clock := &testClock{now: fixedNow}

	return &quotaFixture{
		users:   users,
		devices: devices,
		clock:   clock,
		svc:     NewQuotaService(users, devices, domain.DefaultQuotaPolicy, clock.Now, discardLogger()),
	}
}

func (f *quotaFixture) seedCount(t *testing.T, date string, count int) {
	t.Helper()
	u, err := f.users.GetUser(context.Background(), testUserID)
	require.NoError(t, err)
	u.UserMetadata[MetaAIDate] = date
	u.UserMetadata[MetaAICount] = count
	f.users.Put(*u)
}

var signedIn = QuotaSubject{UserID: testUserID}

// slowUserStore delays reads so concurrent callers overlap, and runs
// beforeReturn between the read and the caller's next store call.
type slowUserStore struct {
	*identity.MemoryStore
	delay        time.Duration
	beforeReturn func()
}

func (s *slowUserStore) GetUser(ctx context.Context, id string) (*identity.User, error) {
	u, err := s.MemoryStore.GetUser(ctx, id)
	time.Sleep(s.delay)
	if s.beforeReturn != nil {
		s.beforeReturn()
	}
	return u, err
}

// =============================================================================
// Authenticated Counter
// =============================================================================

func TestQuota_AllowsBelowLimitDeniesAtLimit(t *testing.T) {
	f := newQuotaFixture(t, domain.TierFree)
	today := domain.QuotaDay(fixedNow)
	f.seedCount(t, today, 19)

	d, err := f.svc.CheckAndConsume(context.Background(), signedIn)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 20, d.Used)
	assert.Equal(t, 0, d.Remaining)

	d, err = f.svc.CheckAndConsume(context.Background(), signedIn)
	var limitErr *domain.LimitReachedError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, "free", limitErr.Tier)
	assert.Equal(t, 20, limitErr.Limit)
	require.NotNil(t, d)
	assert.False(t, d.Allowed)

	u, _ := f.users.GetUser(context.Background(), testUserID)
	assert.Equal(t, float64(20), u.UserMetadata[MetaAICount], "denied call must not increment")
}

func TestQuota_PersistsCounterAndKeepsOtherMetadata(t *testing.T) {
	f := newQuotaFixture(t, domain.TierFree)

	d, err := f.svc.CheckAndConsume(context.Background(), signedIn)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Used)
	assert.Equal(t, 19, d.Remaining)
	assert.Equal(t, "free", d.Tier)

	u, err := f.users.GetUser(context.Background(), testUserID)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-10", u.UserMetadata[MetaAIDate])
	assert.Equal(t, float64(1), u.UserMetadata[MetaAICount])
	assert.Equal(t, "Sam", u.UserMetadata["display_name"])

	// second call reads the float64 back through the store
	d, err = f.svc.CheckAndConsume(context.Background(), signedIn)
	require.NoError(t, err)
	assert.Equal(t, 2, d.Used)
}

func TestQuota_ResetsOnNewUTCDay(t *testing.T) {
	f := newQuotaFixture(t, domain.TierFree)
	f.seedCount(t, "2026-03-09", 20)

	d, err := f.svc.CheckAndConsume(context.Background(), signedIn)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Used)
}

func TestQuota_DayBoundaryIsUTC(t *testing.T) {
	f := newQuotaFixture(t, domain.TierFree)
	// 23:30 on the 9th in UTC-5 is already the 10th in UTC
	f.clock.now = time.Date(2026, 3, 9, 23, 30, 0, 0, time.FixedZone("EST", -5*3600))
	f.seedCount(t, "2026-03-10", 20)

	_, err := f.svc.CheckAndConsume(context.Background(), signedIn)
	var limitErr *domain.LimitReachedError
	assert.ErrorAs(t, err, &limitErr)
}

func TestQuota_MidDayUpgradeRaisesLimit(t *testing.T) {
	f := newQuotaFixture(t, domain.TierFree)
	f.seedCount(t, domain.QuotaDay(fixedNow), 20)

	_, err := f.svc.CheckAndConsume(context.Background(), signedIn)
	var limitErr *domain.LimitReachedError
	require.ErrorAs(t, err, &limitErr)

	require.NoError(t, f.users.ReplaceAppMetadata(context.Background(), testUserID,
		map[string]any{domain.AttrSubscriptionTier: "pro_monthly"}))

	d, err := f.svc.CheckAndConsume(context.Background(), signedIn)
	require.NoError(t, err)
	assert.Equal(t, "pro_monthly", d.Tier)
	assert.Equal(t, 200, d.Limit)
	assert.Equal(t, 21, d.Used, "count carries over after upgrade")
	assert.Equal(t, 179, d.Remaining)
}

func TestQuota_ProLimit(t *testing.T) {
	f := newQuotaFixture(t, domain.TierProYearly)
	f.seedCount(t, domain.QuotaDay(fixedNow), 199)

	d, err := f.svc.CheckAndConsume(context.Background(), signedIn)
	require.NoError(t, err)
	assert.Equal(t, 200, d.Used)

	_, err = f.svc.CheckAndConsume(context.Background(), signedIn)
	var limitErr *domain.LimitReachedError
	assert.ErrorAs(t, err, &limitErr)
}

func TestQuota_ConcurrentCallsStopAtLimit(t *testing.T) {
	f := newQuotaFixture(t, domain.TierFree)
	users := &slowUserStore{MemoryStore: f.users, delay: 5 * time.Millisecond}
	svc := NewQuotaService(users, f.devices, domain.DefaultQuotaPolicy, f.clock.Now, discardLogger())

	const callers = 50
	var (
		wg      sync.WaitGroup
		allowed atomic.Int32
		denied  atomic.Int32
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := svc.CheckAndConsume(context.Background(), signedIn)
			var limitErr *domain.LimitReachedError
			switch {
			case err == nil && d.Allowed:
				allowed.Add(1)
			case errors.As(err, &limitErr):
				denied.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(20), allowed.Load())
	assert.Equal(t, int32(callers-20), denied.Load())

	u, err := f.users.GetUser(context.Background(), testUserID)
	require.NoError(t, err)
	assert.Equal(t, float64(20), u.UserMetadata[MetaAICount])
}

func TestQuota_CounterWriteKeepsConcurrentProfileChange(t *testing.T) {
	f := newQuotaFixture(t, domain.TierFree)
	users := &slowUserStore{MemoryStore: f.users}
	users.beforeReturn = func() {
		// another request updates the profile after the tier was read
		_ = f.users.MergeUserMetadata(context.Background(), testUserID,
			map[string]any{MetaAvatarURL: "https://cdn.example.com/a.jpg"})
	}
	svc := NewQuotaService(users, f.devices, domain.DefaultQuotaPolicy, f.clock.Now, discardLogger())

	_, err := svc.CheckAndConsume(context.Background(), signedIn)
	require.NoError(t, err)

	u, err := f.users.GetUser(context.Background(), testUserID)
	require.NoError(t, err)
	assert.Equal(t, float64(1), u.UserMetadata[MetaAICount])
	assert.Equal(t, "https://cdn.example.com/a.jpg", u.UserMetadata[MetaAvatarURL])
	assert.Equal(t, "Sam", u.UserMetadata["display_name"])
}

func TestQuota_FailsClosed(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(f *quotaFixture)
		wantCode string
	}{
		{
			name:     "tier read fails",
			setup:    func(f *quotaFixture) { f.users.GetErr = fmt.Errorf("timeout: %w", domain.ErrTransient) },
			wantCode: domain.EUNAVAILABLE,
		},
		{
			name:     "counter write fails",
			setup:    func(f *quotaFixture) { f.users.WriteErr = errors.New("disk full") },
			wantCode: domain.EUNAVAILABLE,
		},
		{
			name:     "user record missing",
			setup:    func(f *quotaFixture) { _ = f.users.DeleteUser(context.Background(), testUserID) },
			wantCode: domain.EUNAUTHORIZED,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newQuotaFixture(t, domain.TierProYearly)
			tt.setup(f)

			d, err := f.svc.CheckAndConsume(context.Background(), signedIn)
			require.Error(t, err)
			assert.Nil(t, d)
			assert.Equal(t, tt.wantCode, domain.ErrorCode(err))
		})
	}
}

// =============================================================================
// Anonymous Counter
// =============================================================================

func TestQuota_AnonymousSoftLimit(t *testing.T) {
	f := newQuotaFixture(t, domain.TierFree)
	device := QuotaSubject{DeviceKey: "device-1"}

	for i := 1; i <= 2; i++ {
		d, err := f.svc.CheckAndConsume(context.Background(), device)
		require.NoError(t, err)
		assert.Equal(t, domain.TierAnonymous, d.Tier)
		assert.Equal(t, i, d.Used)
	}

	d, err := f.svc.CheckAndConsume(context.Background(), device)
	var limitErr *domain.LimitReachedError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, domain.TierAnonymous, limitErr.Tier)
	assert.False(t, d.Allowed)

	// a different device has its own allowance
	d, err = f.svc.CheckAndConsume(context.Background(), QuotaSubject{DeviceKey: "device-2"})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestQuota_AnonymousResetsOnNewDay(t *testing.T) {
	f := newQuotaFixture(t, domain.TierFree)
	f.devices.Set(domain.QuotaCounter{SubjectID: "device-1", Date: "2026-03-09", Used: 2})

	d, err := f.svc.CheckAndConsume(context.Background(), QuotaSubject{DeviceKey: "device-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, d.Used)
}

func TestQuota_AnonymousFailsOpen(t *testing.T) {
	f := newQuotaFixture(t, domain.TierFree)
	f.devices.Err = errors.New("redis: connection refused")

	d, err := f.svc.CheckAndConsume(context.Background(), QuotaSubject{DeviceKey: "device-1"})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.Limit)
}

func TestQuota_AuthenticatedIgnoresDeviceCounter(t *testing.T) {
	f := newQuotaFixture(t, domain.TierFree)
	f.devices.Err = errors.New("should not be called")

	d, err := f.svc.CheckAndConsume(context.Background(), QuotaSubject{UserID: testUserID, DeviceKey: "device-1"})
	require.NoError(t, err)
	assert.Equal(t, "free", d.Tier)
}

// =============================================================================
// Usage
// =============================================================================

func TestQuota_UsageDoesNotConsume(t *testing.T) {
	f := newQuotaFixture(t, domain.TierFree)
	f.seedCount(t, domain.QuotaDay(fixedNow), 5)
	writes := f.users.UserWrites

	d, err := f.svc.Usage(context.Background(), signedIn)
	require.NoError(t, err)
	assert.Equal(t, 5, d.Used)
	assert.Equal(t, 15, d.Remaining)
	assert.True(t, d.Allowed)
	assert.Equal(t, writes, f.users.UserWrites)
}

func TestQuota_UsageStaleRowReadsZero(t *testing.T) {
	f := newQuotaFixture(t, domain.TierFree)
	f.seedCount(t, "2026-03-01", 20)

	d, err := f.svc.Usage(context.Background(), signedIn)
	require.NoError(t, err)
	assert.Equal(t, 0, d.Used)
	assert.Equal(t, 20, d.Remaining)
}
