package entity

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntitlementValidate(t *testing.T) {
	uid := uuid.New()
	tests := []struct {
		name    string
		mutate  func(e *Entitlement)
		wantErr bool
	}{
		{"new user", func(e *Entitlement) {}, false},
		{"active pro", func(e *Entitlement) { e.Status, e.PlanTier, e.BillingSubscriptionID = StatusActive, PlanTierPro, "sub_1" }, false},
		{"canceled keeps subscription", func(e *Entitlement) { e.Status, e.BillingSubscriptionID = StatusCanceled, "sub_1" }, false},
		{"paid tier on free status", func(e *Entitlement) { e.Status, e.PlanTier, e.BillingSubscriptionID = StatusCanceled, PlanTierPro, "sub_1" }, true},
		{"free tier on active status", func(e *Entitlement) { e.Status, e.BillingSubscriptionID = StatusActive, "sub_1" }, true},
		{"active without subscription", func(e *Entitlement) { e.Status, e.PlanTier = StatusActive, PlanTierPro }, true},
		{"none with subscription", func(e *Entitlement) { e.BillingSubscriptionID = "sub_1" }, true},
		{"unknown status", func(e *Entitlement) { e.Status = "trialing" }, true},
		{"missing user", func(e *Entitlement) { e.UserID = uuid.Nil }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEntitlement(uid)
			tt.mutate(&e)
			if tt.wantErr {
				assert.Error(t, e.Validate())
			} else {
				assert.NoError(t, e.Validate())
			}
		})
	}
}

func TestRecordEventRing(t *testing.T) {
	e := NewEntitlement(uuid.New())
	for i := 1; i <= maxAppliedEventIDs+5; i++ {
		e.RecordEvent(fmt.Sprintf("evt_%d", i), int64(i))
	}

	require.Len(t, e.AppliedEventIDs, maxAppliedEventIDs)
	assert.Equal(t, "evt_6", e.AppliedEventIDs[0])
	assert.True(t, e.HasApplied("evt_37"))
	assert.False(t, e.HasApplied("evt_5"))
	assert.Equal(t, int64(37), e.LastEventAt)

	// an equal-or-older sequence never rewinds the ordering key
	e.RecordEvent("evt_late", 10)
	assert.Equal(t, int64(37), e.LastEventAt)
	assert.Equal(t, "evt_late", e.LastReconciledEventID)
	assert.False(t, e.HasApplied(""))
}

func TestCloneDoesNotAlias(t *testing.T) {
	end := time.Now()
	e := NewEntitlement(uuid.New())
	e.CurrentPeriodEnd = &end
	e.AppliedEventIDs = []string{"a"}

	cp := e.Clone()
	cp.AppliedEventIDs[0] = "b"
	*cp.CurrentPeriodEnd = end.Add(time.Hour)

	assert.Equal(t, "a", e.AppliedEventIDs[0])
	assert.True(t, e.CurrentPeriodEnd.Equal(end))
	assert.True(t, e.SameState(e.Clone()))
	assert.False(t, e.SameState(cp))
}

func TestStatusPredicates(t *testing.T) {
	free := map[Status]bool{StatusNone: true, StatusCanceled: true, StatusExpired: true}
	for _, s := range AllStatuses {
		assert.Equal(t, free[s], s.IsFree(), s)
		assert.Equal(t, free[s], s.CanStartSubscription(), s)
	}
	assert.False(t, Status("bogus").Valid())
	assert.True(t, PlanTierEnterprise.IsPaid())
	assert.False(t, PlanTierFree.IsPaid())
}
