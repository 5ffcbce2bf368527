package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"example.com/dompay/services/esocial/config"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/rs/zerolog/log"
)

// IntakeMessage is the wire shape of an event submission on the queue
type IntakeMessage struct {
	EventType string          `json:"eventType"`
	Payload   json.RawMessage `json:"payload"`
}

// MessageHandler consumes one intake message
type MessageHandler func(ctx context.Context, msg IntakeMessage) error

// ServiceBusClient is the intake side of the Azure Service Bus queue
type ServiceBusClient struct {
	client    *azservicebus.Client
	queueName string
}

// NewServiceBusClient creates a new Azure Service Bus client
func NewServiceBusClient(cfg config.AzureConfig) (*ServiceBusClient, error) {
	if cfg.QueueConnStr == "" {
		return nil, fmt.Errorf("Azure Service Bus connection string is empty")
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.QueueConnStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Service Bus client: %w", err)
	}

	return &ServiceBusClient{
		client:    client,
		queueName: cfg.QueueName,
	}, nil
}

// ProcessMessages receives intake messages until ctx is canceled. Messages
// the handler rejects are abandoned so the queue redelivers them.
func (s *ServiceBusClient) ProcessMessages(ctx context.Context, handler MessageHandler) error {
	receiver, err := s.client.NewReceiverForQueue(s.queueName, nil)
	if err != nil {
		return fmt.Errorf("failed to create Service Bus receiver: %w", err)
	}
	defer func() {
		if err := receiver.Close(context.Background()); err != nil {
			log.Error().Err(err).Msg("Error closing Service Bus receiver")
		}
	}()

	log.Info().Str("queue", s.queueName).Msg("Receiving intake messages")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		messages, err := receiver.ReceiveMessages(ctx, 10, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error().Err(err).Msg("Error receiving messages, backing off")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(2 * time.Second):
			}
			continue
		}

		for _, message := range messages {
			var intake IntakeMessage
			if err := json.Unmarshal(message.Body, &intake); err != nil {
				log.Error().Err(err).Str("message_id", message.MessageID).Msg("Discarding malformed intake message")
				if err := receiver.DeadLetterMessage(ctx, message, nil); err != nil {
					log.Error().Err(err).Msg("Failed to dead-letter message")
				}
				continue
			}

			if err := handler(ctx, intake); err != nil {
				log.Error().Err(err).Str("message_id", message.MessageID).Msg("Error handling intake message")
				// Return the message to the queue
				if err := receiver.AbandonMessage(ctx, message, nil); err != nil {
					log.Error().Err(err).Msg("Failed to abandon message")
				}
				continue
			}

			if err := receiver.CompleteMessage(ctx, message, nil); err != nil {
				log.Error().Err(err).Msg("Failed to complete message")
			}
		}
	}
}

// SendMessage publishes an intake message, used by tooling and tests
func (s *ServiceBusClient) SendMessage(ctx context.Context, msg IntakeMessage) error {
	sender, err := s.client.NewSender(s.queueName, nil)
	if err != nil {
		return fmt.Errorf("failed to create Service Bus sender: %w", err)
	}
	defer sender.Close(context.Background())

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message body: %w", err)
	}

	sbMsg := &azservicebus.Message{
		Body: data,
		ApplicationProperties: map[string]interface{}{
			"source": "esocial-intake",
			"time":   time.Now().UTC().Format(time.RFC3339),
		},
	}

	return sender.SendMessage(ctx, sbMsg, nil)
}

// Close closes the Service Bus client
func (s *ServiceBusClient) Close() error {
	if s.client != nil {
		return s.client.Close(context.Background())
	}
	return nil
}
