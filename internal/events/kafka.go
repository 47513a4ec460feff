package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/logger"
)

type KafkaPublisher struct {
	producer   sarama.SyncProducer
	stockTopic string
	shiftTopic string
}

func NewKafkaPublisher(brokers []string, stockTopic string, shiftTopic string) (*KafkaPublisher, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.Retry.Max = 3
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	logger.Logger.Info().
		Strs("brokers", brokers).
		Str("stock_topic", stockTopic).
		Str("shift_topic", shiftTopic).
		Msg("kafka publisher initialized")

	return NewKafkaPublisherWithProducer(producer, stockTopic, shiftTopic), nil
}

func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, stockTopic string, shiftTopic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, stockTopic: stockTopic, shiftTopic: shiftTopic}
}

// PublishStockTransactions sends one message per transaction keyed by
// item and shop, so a level's history stays ordered within a partition.
func (p *KafkaPublisher) PublishStockTransactions(ctx context.Context, txns []domain.StockTransaction) error {
	if len(txns) == 0 {
		return nil
	}

	msgs := make([]*sarama.ProducerMessage, 0, len(txns))
	now := time.Now().UTC()
	for _, txn := range txns {
		event := StockTransactionEvent{
			EventID:     txn.ID,
			EventType:   EventTypeStockTransaction,
			Timestamp:   now,
			Transaction: txn,
		}
		msg, err := newMessage(p.stockTopic, txn.ShopID+"/"+txn.ItemID, event.EventType, event.EventID, event)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}

	if err := p.producer.SendMessages(msgs); err != nil {
		logger.Error(ctx).Err(err).Str("topic", p.stockTopic).Int("count", len(msgs)).Msg("failed to publish stock transactions")
		return fmt.Errorf("failed to send stock transactions to Kafka: %w", err)
	}

	logger.Debug(ctx).Str("topic", p.stockTopic).Int("count", len(msgs)).Msg("stock transactions published")
	return nil
}

func (p *KafkaPublisher) PublishShiftClosed(ctx context.Context, closed domain.ShiftCloseResponse) error {
	event := ShiftClosedEvent{
		EventID:        closed.Reconciliation.ID,
		EventType:      EventTypeShiftClosed,
		Timestamp:      time.Now().UTC(),
		Shift:          closed.Shift,
		Reconciliation: closed.Reconciliation,
	}
	msg, err := newMessage(p.shiftTopic, closed.Shift.ShopID, event.EventType, event.EventID, event)
	if err != nil {
		return err
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		logger.Error(ctx).Err(err).Str("topic", p.shiftTopic).Str("shift_id", closed.Shift.ID).Msg("failed to publish shift close")
		return fmt.Errorf("failed to send shift close to Kafka: %w", err)
	}

	logger.Info(ctx).
		Str("event_id", event.EventID).
		Str("topic", p.shiftTopic).
		Int32("partition", partition).
		Int64("offset", offset).
		Str("shift_id", closed.Shift.ID).
		Msg("shift closed event published")
	return nil
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

func newMessage(topic string, key string, eventType string, eventID string, payload any) (*sarama.ProducerMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(body),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(eventType)},
			{Key: []byte("event_id"), Value: []byte(eventID)},
		},
	}, nil
}
