package sale

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventSaleCompleted EventType = "sale.completed"
	EventSaleVoided    EventType = "sale.voided"
)

// Event is an outbox record written in the same transaction as the sale
// change it describes. PublishedAt is nil until the publisher delivers it.
type Event struct {
	ID          string
	SaleID      SaleID
	Type        EventType
	Payload     []byte
	CreatedAt   time.Time
	PublishedAt *time.Time
}

type eventItem struct {
	ProductID ProductID `json:"productId"`
	Quantity  int       `json:"quantity"`
}

type eventPayload struct {
	SaleID     SaleID      `json:"saleId"`
	Type       EventType   `json:"type"`
	CashierID  CashierID   `json:"cashierId"`
	Status     Status      `json:"status"`
	GrandTotal string      `json:"grandTotal"`
	Items      []eventItem `json:"items"`
	OccurredAt time.Time   `json:"occurredAt"`
}

// NewEvent builds the outbox record for a sale change.
func NewEvent(t EventType, s *Sale, at time.Time) (Event, error) {
	items := make([]eventItem, len(s.Items))
	for i, it := range s.Items {
		items[i] = eventItem{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	payload, err := json.Marshal(eventPayload{
		SaleID:     s.ID,
		Type:       t,
		CashierID:  s.CashierID,
		Status:     s.Status,
		GrandTotal: s.GrandTotal().StringFixed(CurrencyPlaces),
		Items:      items,
		OccurredAt: at,
	})
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:        uuid.NewString(),
		SaleID:    s.ID,
		Type:      t,
		Payload:   payload,
		CreatedAt: at,
	}, nil
}
