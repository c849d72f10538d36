package usecase_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wekeepgrowing/entitlement-service/internal/domain/entity"
	"github.com/wekeepgrowing/entitlement-service/internal/usecase"
)

func TestSweeper_RunOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	canceled := uuid.New()
	seedActive(t, f, canceled)
	_, err := f.service.ApplyWebhookEvent(ctx, canceled,
		subscriptionEvent("evt_del", entity.EventSubscriptionDeleted, 200, "sub_1", "canceled", false))
	require.NoError(t, err)

	overdue := uuid.New()
	seedActive(t, f, overdue)
	f.billing.On("CancelSubscription", mock.Anything, "sub_1").Return(scheduledCancel(), nil).Once()
	_, err = f.service.RequestCancellation(ctx, overdue)
	require.NoError(t, err)
	ended := scheduledCancel()
	ended.Status = "canceled"
	f.billing.On("RetrieveSubscription", mock.Anything, "sub_1").Return(ended, nil).Once()

	active := uuid.New()
	seedActive(t, f, active)

	require.NoError(t, f.ledger.MarkProcessed(ctx, entity.BillingEvent{ID: "evt_old"}, usecase.OutcomeApplied))

	// Past the retention window, the scheduled period end and the dedup window.
	sweeper := usecase.NewSweeper(f.service, f.repo, f.ledger, zap.NewNop(), usecase.SweeperConfig{
		BatchSize:       10,
		Timeout:         5 * time.Second,
		PeriodEndLeeway: time.Hour,
		DedupWindow:     72 * time.Hour,
	}).WithClock(func() time.Time { return time.Now().Add(100 * time.Hour) })

	report, err := sweeper.RunOnce(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, report.Expired)
	assert.Equal(t, 1, report.Reconciled)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, int64(1), report.Pruned)

	got, err := f.repo.Get(ctx, canceled)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusExpired, got.Status)

	got, err = f.repo.Get(ctx, overdue)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCanceled, got.Status)
	assert.Equal(t, entity.PlanTierFree, got.PlanTier)

	got, err = f.repo.Get(ctx, active)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusActive, got.Status)
	f.billing.AssertExpectations(t)
}

func TestSweeper_LeavesRecentRows(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	userID := uuid.New()
	seedActive(t, f, userID)
	f.billing.On("CancelSubscription", mock.Anything, "sub_1").Return(scheduledCancel(), nil).Once()
	_, err := f.service.RequestCancellation(ctx, userID)
	require.NoError(t, err)

	sweeper := usecase.NewSweeper(f.service, f.repo, f.ledger, zap.NewNop(), usecase.SweeperConfig{PeriodEndLeeway: time.Hour}).
		WithClock(func() time.Time { return base })

	report, err := sweeper.RunOnce(ctx)

	require.NoError(t, err)
	assert.Zero(t, report.Reconciled)
	f.billing.AssertNotCalled(t, "RetrieveSubscription", mock.Anything, mock.Anything)
}

// Rows updated earlier but due much later must not fill every batch ahead of
// an overdue row.
func TestSweeper_OverdueRowsAreNotStarved(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	schedule := func(userID uuid.UUID, subID string, end time.Time) {
		t.Helper()
		created := subscriptionEvent("evt_"+subID, entity.EventSubscriptionCreated, 100, subID, "active", true)
		created.Subscription.CurrentPeriodEnd = end
		_, err := f.service.ApplyWebhookEvent(ctx, userID, created)
		require.NoError(t, err)
	}

	annualA, annualB, overdue := uuid.New(), uuid.New(), uuid.New()
	schedule(annualA, "sub_a", base.AddDate(1, 0, 0))
	schedule(annualB, "sub_b", base.AddDate(1, 0, 0))
	schedule(overdue, "sub_c", base.Add(-48*time.Hour))

	ended := scheduledCancel()
	ended.ID = "sub_c"
	ended.Status = "canceled"
	f.billing.On("RetrieveSubscription", mock.Anything, "sub_c").Return(ended, nil).Once()

	sweeper := usecase.NewSweeper(f.service, f.repo, f.ledger, zap.NewNop(), usecase.SweeperConfig{
		BatchSize:       2,
		Timeout:         5 * time.Second,
		PeriodEndLeeway: time.Hour,
	}).WithClock(func() time.Time { return base })

	report, err := sweeper.RunOnce(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, report.Reconciled)
	got, err := f.repo.Get(ctx, overdue)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCanceled, got.Status)
	for _, id := range []uuid.UUID{annualA, annualB} {
		got, err := f.repo.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, entity.StatusCancelAtPeriodEnd, got.Status)
	}
	f.billing.AssertExpectations(t)
}

func TestSweeper_ExpiresOnlyPastRetention(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	cancel := func(userID uuid.UUID, subID string, at time.Time) {
		t.Helper()
		deleted := subscriptionEvent("evt_"+subID, entity.EventSubscriptionDeleted, 100, subID, "canceled", false)
		deleted.Subscription.CanceledAt = &at
		_, err := f.service.ApplyWebhookEvent(ctx, userID, deleted)
		require.NoError(t, err)
	}

	recentA, recentB, old := uuid.New(), uuid.New(), uuid.New()
	cancel(recentA, "sub_a", base.Add(-time.Hour))
	cancel(recentB, "sub_b", base.Add(-time.Hour))
	cancel(old, "sub_c", base.Add(-72*time.Hour))

	sweeper := usecase.NewSweeper(f.service, f.repo, f.ledger, zap.NewNop(), usecase.SweeperConfig{
		BatchSize: 2,
		Timeout:   5 * time.Second,
	}).WithClock(func() time.Time { return base })

	report, err := sweeper.RunOnce(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, report.Expired)
	got, err := f.repo.Get(ctx, old)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusExpired, got.Status)
	got, err = f.repo.Get(ctx, recentA)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCanceled, got.Status)
}

func TestSweeper_RunStopsWithContext(t *testing.T) {
	f := newFixture(t)
	sweeper := usecase.NewSweeper(f.service, f.repo, f.ledger, zap.NewNop(), usecase.SweeperConfig{Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sweeper.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
