package stripe

import (
	"encoding/json"
	"fmt"
	"time"

	stripego "github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
	"github.com/wekeepgrowing/entitlement-service/internal/domain/entity"
	domainErrors "github.com/wekeepgrowing/entitlement-service/internal/domain/errors"
)

const (
	metadataUserID = "user_id"
	metadataPlan   = "plan"

	// invoicePaidEvent is delivered alongside invoice.payment_succeeded.
	invoicePaidEvent stripego.EventType = "invoice.paid"
)

// ParseWebhook verifies the Stripe-Signature header and maps the event. Event
// types the lifecycle does not handle come back with Kind EventUnhandled.
func (c *Client) ParseWebhook(payload []byte, signatureHeader string) (entity.BillingEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, c.webhookSecret,
		webhook.ConstructEventOptions{
			Tolerance:                webhook.DefaultTolerance,
			IgnoreAPIVersionMismatch: true,
		})
	if err != nil {
		return entity.BillingEvent{}, fmt.Errorf("%w: %v", domainErrors.ErrInvalidSignature, err)
	}
	return mapEvent(event, payload)
}

func mapEvent(event stripego.Event, payload []byte) (entity.BillingEvent, error) {
	ev := entity.BillingEvent{
		ID:         event.ID,
		Type:       string(event.Type),
		Kind:       entity.EventUnhandled,
		OccurredAt: time.Unix(event.Created, 0).UTC(),
		Sequence:   event.Created,
		Payload:    payload,
	}
	if event.Data == nil {
		return ev, nil
	}
	raw := event.Data.Raw

	switch event.Type {
	case stripego.EventTypeCustomerSubscriptionCreated,
		stripego.EventTypeCustomerSubscriptionUpdated,
		stripego.EventTypeCustomerSubscriptionDeleted:
		var sub stripego.Subscription
		if err := json.Unmarshal(raw, &sub); err != nil {
			return ev, fmt.Errorf("failed to decode subscription payload: %w", err)
		}
		var periods itemPeriods
		if err := json.Unmarshal(raw, &periods); err != nil {
			return ev, fmt.Errorf("failed to decode subscription items: %w", err)
		}
		ev.Kind = subscriptionKinds[event.Type]
		ev.Subscription = withItemPeriods(toExternalSubscription(&sub), periods)
		ev.SubscriptionID = sub.ID
		ev.CustomerID = ev.Subscription.CustomerID
		ev.UserRef = sub.Metadata[metadataUserID]

	case stripego.EventTypeCheckoutSessionCompleted:
		var session stripego.CheckoutSession
		if err := json.Unmarshal(raw, &session); err != nil {
			return ev, fmt.Errorf("failed to decode checkout payload: %w", err)
		}
		if session.Mode != stripego.CheckoutSessionModeSubscription {
			return ev, nil
		}
		ev.Kind = entity.EventCheckoutCompleted
		if session.Customer != nil {
			ev.CustomerID = session.Customer.ID
		}
		ev.UserRef = session.ClientReferenceID
		if ev.UserRef == "" {
			ev.UserRef = session.Metadata[metadataUserID]
		}
		if session.Subscription != nil {
			ev.SubscriptionID = session.Subscription.ID
			// a bare id decodes without a status; the ingestor fetches it
			if session.Subscription.Status != "" {
				var expanded struct {
					Subscription itemPeriods `json:"subscription"`
				}
				if err := json.Unmarshal(raw, &expanded); err != nil {
					return ev, fmt.Errorf("failed to decode checkout subscription items: %w", err)
				}
				ev.Subscription = withItemPeriods(toExternalSubscription(session.Subscription), expanded.Subscription)
			}
		}

	case stripego.EventTypeInvoicePaymentFailed,
		stripego.EventTypeInvoicePaymentSucceeded,
		invoicePaidEvent:
		var invoice stripego.Invoice
		if err := json.Unmarshal(raw, &invoice); err != nil {
			return ev, fmt.Errorf("failed to decode invoice payload: %w", err)
		}
		var parent invoiceParent
		if err := json.Unmarshal(raw, &parent); err != nil {
			return ev, fmt.Errorf("failed to decode invoice parent: %w", err)
		}
		ev.Kind = entity.EventPaymentSucceeded
		if event.Type == stripego.EventTypeInvoicePaymentFailed {
			ev.Kind = entity.EventPaymentFailed
		}
		if invoice.Customer != nil {
			ev.CustomerID = invoice.Customer.ID
		}
		ev.SubscriptionID = invoiceSubscriptionID(&invoice, parent)
		ev.UserRef = invoiceUserRef(&invoice, parent)
		if end := invoicePeriodEnd(&invoice); end > 0 {
			t := time.Unix(end, 0).UTC()
			ev.PeriodEnd = &t
		}
		if ev.SubscriptionID == "" {
			// one-off invoices carry no entitlement
			ev.Kind = entity.EventUnhandled
		}
	}

	return ev, nil
}

var subscriptionKinds = map[stripego.EventType]entity.EventKind{
	stripego.EventTypeCustomerSubscriptionCreated: entity.EventSubscriptionCreated,
	stripego.EventTypeCustomerSubscriptionUpdated: entity.EventSubscriptionUpdated,
	stripego.EventTypeCustomerSubscriptionDeleted: entity.EventSubscriptionDeleted,
}

// Webhooks are rendered in the account's API version, which can be newer than
// the one stripe-go v79 is pinned to. itemPeriods and invoiceParent pick up the
// fields those versions moved and v79 does not declare.

// itemPeriods reads items[].current_period_end, where newer API versions keep
// the billing period instead of on the subscription.
type itemPeriods struct {
	Items struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

func withItemPeriods(sub *entity.ExternalSubscription, periods itemPeriods) *entity.ExternalSubscription {
	for _, item := range periods.Items.Data {
		if end := time.Unix(item.CurrentPeriodEnd, 0).UTC(); item.CurrentPeriodEnd > 0 && end.After(sub.CurrentPeriodEnd) {
			sub.CurrentPeriodEnd = end
		}
	}
	return sub
}

// invoiceParent reads parent.subscription_details, which replaced the
// top-level invoice subscription fields.
type invoiceParent struct {
	Parent struct {
		SubscriptionDetails struct {
			Subscription *stripego.Subscription `json:"subscription"`
			Metadata     map[string]string      `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func invoiceSubscriptionID(invoice *stripego.Invoice, parent invoiceParent) string {
	if invoice.Subscription != nil && invoice.Subscription.ID != "" {
		return invoice.Subscription.ID
	}
	if sub := parent.Parent.SubscriptionDetails.Subscription; sub != nil {
		return sub.ID
	}
	return ""
}

func invoiceUserRef(invoice *stripego.Invoice, parent invoiceParent) string {
	if invoice.SubscriptionDetails != nil {
		if ref := invoice.SubscriptionDetails.Metadata[metadataUserID]; ref != "" {
			return ref
		}
	}
	return parent.Parent.SubscriptionDetails.Metadata[metadataUserID]
}

func invoicePeriodEnd(invoice *stripego.Invoice) int64 {
	var end int64
	if invoice.Lines == nil {
		return end
	}
	for _, line := range invoice.Lines.Data {
		if line != nil && line.Period != nil && line.Period.End > end {
			end = line.Period.End
		}
	}
	return end
}
