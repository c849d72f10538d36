package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wekeepgrowing/entitlement-service/internal/domain/entity"
	domainErrors "github.com/wekeepgrowing/entitlement-service/internal/domain/errors"
	"github.com/wekeepgrowing/entitlement-service/internal/domain/repository"
)

func activate(subID string) repository.TransitionFunc {
	return func(cur entity.Entitlement) (entity.Entitlement, bool, error) {
		cur.Status = entity.StatusActive
		cur.PlanTier = entity.PlanTierPro
		cur.BillingSubscriptionID = subID
		return cur, true, nil
	}
}

func TestMemoryEntitlementRepository_GetMissing(t *testing.T) {
	repo := NewMemoryEntitlementRepository()
	_, err := repo.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domainErrors.ErrEntitlementNotFound)

	_, err = repo.GetBySubscriptionID(context.Background(), "sub_1")
	assert.ErrorIs(t, err, domainErrors.ErrEntitlementNotFound)
}

func TestMemoryEntitlementRepository_Upsert(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryEntitlementRepository()
	userID := uuid.New()
	cause := repository.Cause{Trigger: repository.TriggerWebhook, EventID: "evt_1"}

	got, changed, err := repo.Upsert(ctx, userID, cause, activate("sub_1"))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, int64(1), got.Revision)
	assert.False(t, got.CreatedAt.IsZero())

	stored, err := repo.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusActive, stored.Status)

	bySub, err := repo.GetBySubscriptionID(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, userID, bySub.UserID)

	trail := repo.AuditTrail(userID)
	require.Len(t, trail, 1)
	assert.Equal(t, entity.StatusNone, trail[0].Before.Status)
	assert.Equal(t, "evt_1", trail[0].Cause.EventID)
}

func TestMemoryEntitlementRepository_UpsertNoWrite(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryEntitlementRepository()
	userID := uuid.New()

	t.Run("unchanged", func(t *testing.T) {
		_, changed, err := repo.Upsert(ctx, userID, repository.Cause{}, func(cur entity.Entitlement) (entity.Entitlement, bool, error) {
			return cur, false, nil
		})
		require.NoError(t, err)
		assert.False(t, changed)
		_, err = repo.Get(ctx, userID)
		assert.ErrorIs(t, err, domainErrors.ErrEntitlementNotFound)
	})

	t.Run("transition error", func(t *testing.T) {
		boom := errors.New("boom")
		cur, changed, err := repo.Upsert(ctx, userID, repository.Cause{}, func(cur entity.Entitlement) (entity.Entitlement, bool, error) {
			return cur, false, boom
		})
		assert.ErrorIs(t, err, boom)
		assert.False(t, changed)
		assert.Equal(t, entity.StatusNone, cur.Status)
	})

	t.Run("invalid state is refused", func(t *testing.T) {
		_, _, err := repo.Upsert(ctx, userID, repository.Cause{}, func(cur entity.Entitlement) (entity.Entitlement, bool, error) {
			cur.Status = entity.StatusActive
			return cur, true, nil
		})
		assert.ErrorIs(t, err, domainErrors.ErrInvalidTransition)
		assert.Empty(t, repo.AuditTrail(userID))
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, _, err := repo.Upsert(cctx, userID, repository.Cause{}, activate("sub_1"))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestMemoryEntitlementRepository_SerializesPerUser(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryEntitlementRepository()
	userID := uuid.New()
	_, _, err := repo.Upsert(ctx, userID, repository.Cause{}, activate("sub_1"))
	require.NoError(t, err)

	const writers = 50
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := repo.Upsert(ctx, userID, repository.Cause{}, func(cur entity.Entitlement) (entity.Entitlement, bool, error) {
				cur.LastEventAt++
				return cur, true, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := repo.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(writers), got.LastEventAt)
	assert.Equal(t, int64(writers+1), got.Revision)
}

func schedule(subID string, end time.Time) repository.TransitionFunc {
	return func(cur entity.Entitlement) (entity.Entitlement, bool, error) {
		cur.Status = entity.StatusCancelAtPeriodEnd
		cur.PlanTier = entity.PlanTierPro
		cur.BillingSubscriptionID = subID
		cur.CurrentPeriodEnd = &end
		return cur, true, nil
	}
}

func TestMemoryEntitlementRepository_ListDue(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryEntitlementRepository()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	repo.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}

	// updated in this order; deadlines deliberately in another
	ends := []time.Time{
		clock.AddDate(1, 0, 0),
		clock.Add(-2 * time.Hour),
		clock.AddDate(1, 0, 0),
		clock.Add(-3 * time.Hour),
	}
	var ids []uuid.UUID
	for _, end := range ends {
		id := uuid.New()
		ids = append(ids, id)
		_, _, err := repo.Upsert(ctx, id, repository.Cause{}, schedule("sub_"+id.String(), end))
		require.NoError(t, err)
	}
	_, _, err := repo.Upsert(ctx, uuid.New(), repository.Cause{}, activate("sub_active"))
	require.NoError(t, err)

	rows, err := repo.ListDue(ctx, entity.StatusCancelAtPeriodEnd, clock, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, ids[3], rows[0].UserID)
	assert.Equal(t, ids[1], rows[1].UserID)

	rows, err = repo.ListDue(ctx, entity.StatusCancelAtPeriodEnd, clock, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, ids[3], rows[0].UserID)

	rows, err = repo.ListDue(ctx, entity.StatusCanceled, clock, 0)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestMemoryEventLedger(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryEventLedger()

	seen, err := ledger.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, ledger.MarkProcessed(ctx, entity.BillingEvent{ID: "evt_1"}, "applied"))
	require.NoError(t, ledger.MarkProcessed(ctx, entity.BillingEvent{ID: "evt_1"}, "duplicate"))

	seen, err = ledger.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)
	outcome, _ := ledger.Outcome("evt_1")
	assert.Equal(t, "applied", outcome)

	n, err := ledger.Prune(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
