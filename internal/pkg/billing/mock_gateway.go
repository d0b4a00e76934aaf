package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MockSignature is the only signature MockGateway accepts by default.
const MockSignature = "mock-signature"

// MockGateway is a test double that records calls and returns configurable
// results. Webhook payloads are JSON encodings of Event.
type MockGateway struct {
	mu sync.Mutex

	// Customers maps customer id -> email.
	Customers map[string]string
	// Subscriptions maps subscription id -> snapshot.
	Subscriptions map[string]*SubscriptionSnapshot
	// CheckoutInputs and CreditCheckoutInputs collect checkout requests.
	CheckoutInputs       []CheckoutSessionInput
	CreditCheckoutInputs []CreditCheckoutInput
	// PortalRequests collects customer ids for portal sessions.
	PortalRequests []string
	// Canceled collects subscription ids with the immediate flag.
	Canceled map[string]bool

	// Signature accepted by ConstructEvent.
	Signature string

	// Error fields allow tests to inject failures.
	CreateCustomerErr     error
	CreateCheckoutErr     error
	CancelSubscriptionErr error
	UpdatePriceErr        error
	CreatePortalErr       error

	nextCustomerSeq int
	nextSessionSeq  int
}

// NewMockGateway creates a MockGateway ready for use.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		Customers:     make(map[string]string),
		Subscriptions: make(map[string]*SubscriptionSnapshot),
		Canceled:      make(map[string]bool),
		Signature:     MockSignature,
	}
}

func (m *MockGateway) CreateCustomer(_ context.Context, email, _ string, _ map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CreateCustomerErr != nil {
		return "", gatewayError("create customer", m.CreateCustomerErr)
	}
	m.nextCustomerSeq++
	id := fmt.Sprintf("cus_mock_%d", m.nextCustomerSeq)
	m.Customers[id] = email
	return id, nil
}

func (m *MockGateway) CreateCheckoutSession(_ context.Context, in CheckoutSessionInput) (*CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CreateCheckoutErr != nil {
		return nil, gatewayError("create checkout session", m.CreateCheckoutErr)
	}
	m.CheckoutInputs = append(m.CheckoutInputs, in)
	return m.newSession(), nil
}

func (m *MockGateway) CreateCreditCheckoutSession(_ context.Context, in CreditCheckoutInput) (*CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CreateCheckoutErr != nil {
		return nil, gatewayError("create credit checkout session", m.CreateCheckoutErr)
	}
	m.CreditCheckoutInputs = append(m.CreditCheckoutInputs, in)
	return m.newSession(), nil
}

func (m *MockGateway) newSession() *CheckoutSession {
	m.nextSessionSeq++
	id := fmt.Sprintf("cs_mock_%d", m.nextSessionSeq)
	return &CheckoutSession{ID: id, URL: "https://checkout.example.test/" + id}
}

func (m *MockGateway) GetSubscription(_ context.Context, subscriptionID string) *SubscriptionSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, ok := m.Subscriptions[subscriptionID]
	if !ok {
		return nil
	}
	c := *snap
	return &c
}

func (m *MockGateway) CancelSubscription(_ context.Context, subscriptionID string, immediately bool) (*SubscriptionSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CancelSubscriptionErr != nil {
		return nil, gatewayError("cancel subscription", m.CancelSubscriptionErr)
	}
	snap, ok := m.Subscriptions[subscriptionID]
	if !ok {
		return nil, gatewayError("cancel subscription", fmt.Errorf("subscription %s not found", subscriptionID))
	}
	m.Canceled[subscriptionID] = immediately
	if immediately {
		snap.Status = "canceled"
	} else {
		snap.CancelAtPeriodEnd = true
	}
	c := *snap
	return &c, nil
}

func (m *MockGateway) UpdateSubscriptionPrice(_ context.Context, subscriptionID, priceID string) (*SubscriptionSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.UpdatePriceErr != nil {
		return nil, gatewayError("update subscription price", m.UpdatePriceErr)
	}
	snap, ok := m.Subscriptions[subscriptionID]
	if !ok {
		return nil, gatewayError("update subscription price", fmt.Errorf("subscription %s not found", subscriptionID))
	}
	snap.PriceID = priceID
	snap.CancelAtPeriodEnd = false
	c := *snap
	return &c, nil
}

func (m *MockGateway) CreatePortalSession(_ context.Context, customerID, returnURL string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CreatePortalErr != nil {
		return "", gatewayError("create portal session", m.CreatePortalErr)
	}
	m.PortalRequests = append(m.PortalRequests, customerID)
	return "https://billing.example.test/portal/" + customerID + "?return=" + returnURL, nil
}

func (m *MockGateway) ConstructEvent(payload []byte, signature string) (*Event, error) {
	m.mu.Lock()
	expected := m.Signature
	m.mu.Unlock()

	if signature != expected {
		return nil, fmt.Errorf("%w: signature mismatch", ErrInvalidSignature)
	}
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("parse mock event: %w", err)
	}
	ev.Payload = payload
	return &ev, nil
}

// AddSubscription registers a subscription the mock will report.
func (m *MockGateway) AddSubscription(snap SubscriptionSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if snap.CurrentPeriodStart == nil {
		now := time.Now().UTC()
		end := now.AddDate(0, 1, 0)
		snap.CurrentPeriodStart, snap.CurrentPeriodEnd = &now, &end
	}
	m.Subscriptions[snap.ID] = &snap
}

// CustomerCount returns how many customers were created.
func (m *MockGateway) CustomerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Customers)
}

// MockEventPayload encodes ev in the format MockGateway.ConstructEvent reads.
func MockEventPayload(ev Event) []byte {
	ev.Payload = nil
	b, _ := json.Marshal(ev)
	return b
}
