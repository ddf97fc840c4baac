package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/doc-converter/internal/domain"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// task is one decoded job together with the delivery to acknowledge
type task struct {
	msg      *domain.JobMessage
	delivery amqp.Delivery
}

// setupConsumer starts consuming with the configured prefetch
func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	deliveries, err := w.consumer.Consume(w.workerID, w.prefetchCount)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", w.workerID),
		slog.String("queue", w.queueName),
	)

	return deliveries, nil
}

// decodeJob parses and validates a delivery body
func decodeJob(body []byte) (*domain.JobMessage, error) {
	var msg domain.JobMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if _, err := uuid.Parse(msg.JobID); err != nil {
		return nil, fmt.Errorf("%w: job_id is not a UUID: %v", domain.ErrInvalidPayload, err)
	}
	if !domain.ValidContentHash(msg.ContentHash) {
		return nil, fmt.Errorf("%w: malformed content hash", domain.ErrInvalidPayload)
	}
	if msg.InputPath == "" {
		return nil, fmt.Errorf("%w: input path is empty", domain.ErrInvalidPayload)
	}
	return &msg, nil
}

// startMessageDispatcher hands deliveries to the pool until ctx is done, Stop
// is called, or the broker closes the channel
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) {
	w.logger.Info("Message dispatcher started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return

		case <-w.stopChan:
			w.logger.Info("Message dispatcher stopped - stop requested")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return
			}

			msg, err := decodeJob(delivery.Body)
			if err != nil {
				w.logger.Error("Discarding malformed job message",
					slog.Any("error", err),
					slog.String("message_id", delivery.MessageId),
				)
				// malformed messages go to the dead-letter exchange, if any
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					w.logger.Error("Failed to NACK malformed message",
						slog.Any("error", nackErr),
					)
				}
				continue
			}

			select {
			case w.jobsChan <- &task{msg: msg, delivery: delivery}:
				w.logger.Debug("Job dispatched to worker pool",
					slog.String("job_id", msg.JobID),
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
				)
			case <-ctx.Done():
				w.requeue(delivery, msg.JobID)
				return
			case <-w.stopChan:
				w.requeue(delivery, msg.JobID)
				return
			}
		}
	}
}

func (w *Worker) requeue(delivery amqp.Delivery, jobID string) {
	w.logger.Info("Returning undispatched job to the queue",
		slog.String("job_id", jobID),
	)
	if err := delivery.Nack(false, true); err != nil {
		w.logger.Error("Failed to NACK message on shutdown",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
	}
}
