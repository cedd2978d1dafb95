package apikey

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nftecnologia/mailgenius/internal/store"
)

func testService(t *testing.T) (*Service, *MemoryRepo) {
	t.Helper()
	repo := NewMemoryRepo()
	return NewService(repo), repo
}

func TestCreateReturnsWellFormedKey(t *testing.T) {
	ctx := context.Background()
	svc, repo := testService(t)

	res, err := svc.Create(ctx, "tenant-a", "ci key", []string{"imports:write"}, 0, false)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.PlaintextKey, KeyPrefix))
	assert.Len(t, res.PlaintextKey, len(KeyPrefix)+48)
	assert.True(t, wellFormed(res.PlaintextKey))

	// Only the digest is stored.
	stored, err := repo.GetByID(ctx, res.ID, "tenant-a")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.NotEqual(t, res.PlaintextKey, stored.KeyHash)
	assert.Equal(t, HashKey(res.PlaintextKey), stored.KeyHash)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, 90), stored.ExpiresAt, time.Minute)

	logs, err := svc.AuditLogs(ctx, res.ID, "tenant-a", 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "created", logs[0].Action)
	// Audit metadata never carries the plaintext.
	for _, v := range logs[0].Metadata {
		if s, ok := v.(string); ok {
			assert.NotContains(t, s, res.PlaintextKey)
		}
	}

	_, err = svc.Create(ctx, "", "nameless", nil, 0, false)
	assert.Error(t, err)
}

func TestValidateHappyPath(t *testing.T) {
	ctx := context.Background()
	svc, _ := testService(t)

	res, err := svc.Create(ctx, "tenant-a", "k", []string{"*"}, 30, false)
	require.NoError(t, err)

	id, err := svc.Validate(ctx, res.PlaintextKey, &RequestContext{IPAddress: "10.0.0.9", UserAgent: "curl/8"})
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, "tenant-a", id.OwnerID)
	assert.Equal(t, res.ID, id.KeyID)

	keys, err := svc.List(ctx, "tenant-a", false)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.NotNil(t, keys[0].LastUsedAt)

	logs, err := svc.AuditLogs(ctx, res.ID, "tenant-a", 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "used", logs[0].Action)
	assert.Equal(t, "10.0.0.9", logs[0].IPAddress)
	assert.Equal(t, "curl/8", logs[0].UserAgent)
}

func TestValidateRejectsMalformedAndUnknown(t *testing.T) {
	ctx := context.Background()
	svc, _ := testService(t)

	for _, plaintext := range []string{
		"",
		"sk_live_abc",
		KeyPrefix + "tooshort",
		KeyPrefix + strings.Repeat("Z", 48), // not hex
		KeyPrefix + strings.Repeat("a", 48), // well formed, unknown
	} {
		id, err := svc.Validate(ctx, plaintext, nil)
		require.NoError(t, err)
		assert.Nil(t, id, "plaintext %q", plaintext)
	}
}

func TestValidateFlipsExpiredExactlyOnce(t *testing.T) {
	ctx := context.Background()
	svc, repo := testService(t)

	res, err := svc.Create(ctx, "tenant-a", "short", nil, 30, false)
	require.NoError(t, err)

	// Force the key past its expiry.
	stored, err := repo.GetByID(ctx, res.ID, "tenant-a")
	require.NoError(t, err)
	stored.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, repo.Update(ctx, stored))

	id, err := svc.Validate(ctx, res.PlaintextKey, nil)
	require.NoError(t, err)
	assert.Nil(t, id)

	stored, err = repo.GetByID(ctx, res.ID, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, stored.Status)

	// Second validation rejects without auditing another flip.
	id, err = svc.Validate(ctx, res.PlaintextKey, nil)
	require.NoError(t, err)
	assert.Nil(t, id)

	logs, err := svc.AuditLogs(ctx, res.ID, "tenant-a", 0)
	require.NoError(t, err)
	expiredCount := 0
	for _, l := range logs {
		if l.Action == "expired" {
			expiredCount++
		}
	}
	assert.Equal(t, 1, expiredCount)
}

func TestRevoke(t *testing.T) {
	ctx := context.Background()
	svc, _ := testService(t)

	res, err := svc.Create(ctx, "tenant-a", "doomed", nil, 0, false)
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, res.ID, "tenant-a", "admin-1", "leaked in CI logs"))
	require.Error(t, svc.Revoke(ctx, res.ID, "tenant-a", "admin-1", "again"))

	stored, err := svc.List(ctx, "tenant-a", true)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "admin-1", stored[0].RevokedBy)
	assert.Equal(t, "leaked in CI logs", stored[0].RevokedReason)
	require.NotNil(t, stored[0].RevokedAt)

	id, err := svc.Validate(ctx, res.PlaintextKey, nil)
	require.NoError(t, err)
	assert.Nil(t, id)

	// Wrong owner cannot touch the key.
	require.Error(t, svc.Revoke(ctx, res.ID, "tenant-b", "", ""))

	keys, err := svc.List(ctx, "tenant-a", false)
	require.NoError(t, err)
	assert.Empty(t, keys)
	keys, err = svc.List(ctx, "tenant-a", true)
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestRenewExtendsFromExpiry(t *testing.T) {
	ctx := context.Background()
	svc, repo := testService(t)

	res, err := svc.Create(ctx, "tenant-a", "renewable", nil, 30, false)
	require.NoError(t, err)

	before, _ := repo.GetByID(ctx, res.ID, "tenant-a")
	require.NoError(t, svc.Renew(ctx, res.ID, "tenant-a", "admin-1", 60))

	after, _ := repo.GetByID(ctx, res.ID, "tenant-a")
	assert.Equal(t, before.ExpiresAt.AddDate(0, 0, 60), after.ExpiresAt)
	assert.Equal(t, StatusActive, after.Status)
}

func TestRenewDefaultsToRenewalPeriod(t *testing.T) {
	ctx := context.Background()
	svc, repo := testService(t)

	res, err := svc.Create(ctx, "tenant-a", "periodic", nil, 30, true)
	require.NoError(t, err)

	before, _ := repo.GetByID(ctx, res.ID, "tenant-a")
	assert.Equal(t, 30, before.RenewalPeriodDays)

	// An omitted extension uses the key's own period, not the default.
	require.NoError(t, svc.Renew(ctx, res.ID, "tenant-a", "", 0))
	after, _ := repo.GetByID(ctx, res.ID, "tenant-a")
	assert.Equal(t, before.ExpiresAt.AddDate(0, 0, 30), after.ExpiresAt)
}

func TestStatsAndExpiring(t *testing.T) {
	ctx := context.Background()
	svc, repo := testService(t)

	fresh, err := svc.Create(ctx, "tenant-a", "fresh", nil, 90, false)
	require.NoError(t, err)
	_ = fresh
	soon, err := svc.Create(ctx, "tenant-a", "soon", nil, 3, false)
	require.NoError(t, err)
	gone, err := svc.Create(ctx, "tenant-a", "gone", nil, 30, false)
	require.NoError(t, err)
	require.NoError(t, svc.Revoke(ctx, gone.ID, "tenant-a", "", ""))

	k, _ := repo.GetByID(ctx, soon.ID, "tenant-a")
	require.NotNil(t, k)

	st, err := svc.Stats(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, OwnerStats{Total: 3, Active: 2, Revoked: 1, ExpiringSoon: 1}, st)

	expiring, err := svc.Expiring(ctx, "tenant-a", 0)
	require.NoError(t, err)
	require.Len(t, expiring, 1)
	assert.Equal(t, soon.ID, expiring[0].ID)
}

func TestUpdateSettings(t *testing.T) {
	ctx := context.Background()
	svc, repo := testService(t)

	res, err := svc.Create(ctx, "tenant-a", "tunable", nil, 0, false)
	require.NoError(t, err)

	require.NoError(t, svc.UpdateSettings(ctx, res.ID, "tenant-a", map[string]interface{}{"webhook_url": "https://example.com/hook"}))
	k, _ := repo.GetByID(ctx, res.ID, "tenant-a")
	assert.Equal(t, "https://example.com/hook", k.Settings["webhook_url"])

	// The renewal knobs land in their typed fields. JSON numbers decode
	// as float64, which is what handlers pass through.
	require.NoError(t, svc.UpdateSettings(ctx, res.ID, "tenant-a", map[string]interface{}{
		"auto_renew":          true,
		"renewal_period_days": float64(45),
	}))
	k, _ = repo.GetByID(ctx, res.ID, "tenant-a")
	assert.True(t, k.AutoRenew)
	assert.Equal(t, 45, k.RenewalPeriodDays)
}

func TestHasPermission(t *testing.T) {
	k := &APIKey{Permissions: []string{"imports:write"}}
	assert.True(t, k.HasPermission("imports:write"))
	assert.False(t, k.HasPermission("keys:admin"))

	admin := &APIKey{Permissions: []string{"*"}}
	assert.True(t, admin.HasPermission("anything"))
}

func TestScannerAutoRenewAndDedup(t *testing.T) {
	ctx := context.Background()
	svc, repo := testService(t)
	st := store.NewMemory()
	t.Cleanup(func() { _ = st.Close() })

	auto, err := svc.Create(ctx, "tenant-a", "auto", nil, 3, true)
	require.NoError(t, err)
	manual, err := svc.Create(ctx, "tenant-a", "manual", nil, 3, false)
	require.NoError(t, err)

	sc := NewScanner(svc, st, time.Hour)
	var mu sync.Mutex
	events := make(map[string][]string)
	sc.OnEvent(func(ctx context.Context, event string, key *APIKey) {
		mu.Lock()
		events[key.ID] = append(events[key.ID], event)
		mu.Unlock()
	})

	sc.Sweep(ctx)
	sc.Sweep(ctx) // duplicates suppressed for 24h

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"renewed"}, events[auto.ID])
	assert.Equal(t, []string{"expiring_soon"}, events[manual.ID])

	// Auto-renew extends by the key's own renewal period.
	renewed, err := repo.GetByID(ctx, auto.ID, "tenant-a")
	require.NoError(t, err)
	assert.True(t, renewed.ExpiresAt.After(time.Now().AddDate(0, 0, 4)))
	assert.True(t, renewed.ExpiresAt.Before(time.Now().AddDate(0, 0, 8)))
}
