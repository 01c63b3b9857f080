// Package queue dispatches audio-generation tasks onto RabbitMQ so pipeline
// runs never block the request that triggered them.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"listen_later/internal/domain"
)

// Task is one unit of background work: generate audio for an article.
// Redelivered tasks are safe to process again; the job lease in the store
// deduplicates concurrent runs.
type Task struct {
	TaskID     string            `json:"task_id"`
	ArticleID  int64             `json:"article_id"`
	Kind       domain.SourceKind `json:"kind"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
}

// NewTask builds a Task for an article.
func NewTask(articleID int64, kind domain.SourceKind) Task {
	return Task{
		TaskID:     uuid.NewString(),
		ArticleID:  articleID,
		Kind:       kind,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Handler processes one task. A returned error discards the delivery; the
// retry sweep owns rescheduling, not the broker.
type Handler func(ctx context.Context, task Task) error

type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
	QueueName  string
	Prefetch   int
}

type RabbitMQ struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
	queueName  string
	prefetch   int
	logger     *slog.Logger
}

func NewRabbitMQ(cfg Config, logger *slog.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		cfg.Exchange,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(
		cfg.QueueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	err = ch.QueueBind(
		q.Name,
		cfg.RoutingKey,
		cfg.Exchange,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("bind queue: %w", err)
	}

	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 4
	}

	logger.Info("connected to rabbitmq",
		"exchange", cfg.Exchange,
		"queue", cfg.QueueName,
		"routing_key", cfg.RoutingKey,
	)

	return &RabbitMQ{
		conn:       conn,
		channel:    ch,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		queueName:  q.Name,
		prefetch:   prefetch,
		logger:     logger,
	}, nil
}

// Enqueue publishes a task as a persistent message.
func (r *RabbitMQ) Enqueue(ctx context.Context, task Task) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	err = r.channel.PublishWithContext(
		ctx,
		r.exchange,
		r.routingKey,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    task.TaskID,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("publish task: %w", err)
	}

	r.logger.Debug("enqueued task",
		"task_id", task.TaskID,
		"article_id", task.ArticleID,
		"kind", task.Kind,
	)

	return nil
}

// Consume runs a pool of workers over the queue until ctx is cancelled.
func (r *RabbitMQ) Consume(ctx context.Context, workers int, handler Handler) error {
	if workers <= 0 {
		workers = 1
	}

	if err := r.channel.Qos(r.prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := r.channel.Consume(
		r.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r.work(ctx, worker, deliveries, handler)
		}(i)
	}

	<-ctx.Done()
	wg.Wait()
	return nil
}

func (r *RabbitMQ) work(ctx context.Context, worker int, deliveries <-chan amqp.Delivery, handler Handler) {
	log := r.logger.With("worker", worker)

	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-deliveries:
			if !ok {
				return
			}

			var task Task
			if err := json.Unmarshal(delivery.Body, &task); err != nil {
				log.Error("discarding malformed task", "error", err)
				_ = delivery.Nack(false, false)
				continue
			}

			log.Info("processing task", "task_id", task.TaskID, "article_id", task.ArticleID)

			if err := handler(ctx, task); err != nil {
				// Failure state lives in the job row; the retry sweep will
				// resubmit if the error was retryable. Requeueing here would
				// double up on that.
				log.Error("task failed", "task_id", task.TaskID, "article_id", task.ArticleID, "error", err)
				_ = delivery.Nack(false, false)
				continue
			}

			_ = delivery.Ack(false)
		}
	}
}

func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
