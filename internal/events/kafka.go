// Package events публикует зафиксированные события журнала билетов в Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/mmeshcher/raffle-ledger/internal/model"
)

// message описывает формат события в топике.
type message struct {
	ID                string  `json:"id"`
	UserID            int64   `json:"user_id"`
	Kind              string  `json:"kind"`
	Quantity          int64   `json:"quantity"`
	Delta             int64   `json:"delta"`
	FiatAmount        *string `json:"fiat_amount,omitempty"`
	Currency          string  `json:"currency,omitempty"`
	ExternalReference *string `json:"external_reference,omitempty"`
	CreatedAt         string  `json:"created_at"`
}

// KafkaPublisher отправляет события журнала в топик, используя id пользователя как ключ,
// чтобы события одного пользователя попадали в одну партицию по порядку.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher создаёт асинхронного писателя в topic для указанных брокеров.
// Publish не ждёт брокера; ошибки доставки пишутся в logger после всех попыток.
func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        true,
			MaxAttempts:  3,
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			Completion: func(msgs []kafka.Message, err error) {
				if err != nil {
					logger.Warn("deliver ledger events",
						zap.Error(err), zap.String("topic", topic), zap.Int("count", len(msgs)))
				}
			},
		},
	}
}

func encode(ev model.LedgerEvent) (kafka.Message, error) {
	m := message{
		ID:                ev.ID.String(),
		UserID:            ev.UserID,
		Kind:              string(ev.Kind),
		Quantity:          ev.Quantity,
		Delta:             ev.Delta,
		Currency:          ev.Currency,
		ExternalReference: ev.ExternalReference,
		CreatedAt:         ev.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if ev.FiatAmount != nil {
		s := ev.FiatAmount.StringFixed(2)
		m.FiatAmount = &s
	}

	value, err := json.Marshal(m)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode ledger event: %w", err)
	}

	return kafka.Message{
		Key:   []byte(strconv.FormatInt(ev.UserID, 10)),
		Value: value,
	}, nil
}

// Publish ставит события в очередь писателя и возвращается, не дожидаясь брокера.
func (p *KafkaPublisher) Publish(ctx context.Context, evs ...model.LedgerEvent) error {
	msgs := make([]kafka.Message, 0, len(evs))
	for _, ev := range evs {
		msg, err := encode(ev)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write messages: %w", err)
	}
	return nil
}

// Close сбрасывает буферы и закрывает соединения писателя.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
