package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventKind описывает тип события журнала билетов.
type EventKind string

const (
	EventPurchase   EventKind = "purchase"
	EventSpend      EventKind = "spend"
	EventRefund     EventKind = "refund"
	EventAdjustment EventKind = "adjustment"
)

// Valid сообщает, известен ли тип события.
func (k EventKind) Valid() bool {
	switch k {
	case EventPurchase, EventSpend, EventRefund, EventAdjustment:
		return true
	}
	return false
}

// LedgerEvent неизменяемая запись журнала, влияющая на баланс.
type LedgerEvent struct {
	ID                uuid.UUID
	UserID            int64
	Kind              EventKind
	Quantity          int64
	Delta             int64
	FiatAmount        *decimal.Decimal
	Currency          string
	ExternalReference *string
	CreatedAt         time.Time
}

// EventDraft содержит данные для добавления события в журнал.
type EventDraft struct {
	UserID            int64
	Kind              EventKind
	Quantity          int64
	Debit             bool // только для adjustment
	FiatAmount        *decimal.Decimal
	Currency          string
	ExternalReference *string
}

// Delta возвращает изменение баланса со знаком.
func (d EventDraft) Delta() int64 {
	switch d.Kind {
	case EventSpend:
		return -d.Quantity
	case EventAdjustment:
		if d.Debit {
			return -d.Quantity
		}
	}
	return d.Quantity
}

// Purchase описывает подтверждённую покупку билетов у платёжного провайдера.
type Purchase struct {
	Quantity          int64
	FiatAmount        *decimal.Decimal
	Currency          string
	ExternalReference string
}
