package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"visaconnect-relay/internal/models"
	"visaconnect-relay/pkg/logger"

	"github.com/IBM/sarama"
)

const EventMessageCreated = "message.created"

// MessageCreatedEvent is emitted for every stored message so downstream consumers
// (push notifications, analytics) can react without touching the relay.
type MessageCreatedEvent struct {
	Type           string    `json:"type"`
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	RecipientIDs   []string  `json:"recipientIds"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

func InitKafkaProducer(brokers []string, topic string) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	// Keyed by conversation so one conversation's events stay ordered.
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Version = sarama.V2_0_0_0
	config.ClientID = "visaconnect-relay"
	config.Producer.MaxMessageBytes = 1000000

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer for topic %s: %w", topic, err)
	}

	return producer, nil
}

type Producer struct {
	producer sarama.SyncProducer
	topic    string
	logger   *logger.Logger
}

func NewProducer(producer sarama.SyncProducer, topic string, log *logger.Logger) *Producer {
	return &Producer{
		producer: producer,
		topic:    topic,
		logger:   log,
	}
}

func (p *Producer) PublishMessageCreated(ctx context.Context, message *models.Message, recipientIDs []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(MessageCreatedEvent{
		Type:           EventMessageCreated,
		MessageID:      message.ID,
		ConversationID: message.ConversationID,
		SenderID:       message.SenderID,
		RecipientIDs:   recipientIDs,
		Content:        message.Content,
		CreatedAt:      message.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(message.ConversationID),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event-type"), Value: []byte(EventMessageCreated)},
		},
	})
	if err != nil {
		p.logger.Error("Failed to produce event", "topic", p.topic, "messageID", message.ID, "error", err)
		return err
	}

	p.logger.Debug("Produced event", "topic", p.topic, "partition", partition, "offset", offset)
	return nil
}

func (p *Producer) Close() error {
	return p.producer.Close()
}
