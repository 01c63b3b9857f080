//go:build integration

package queue

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"

	"listen_later/internal/domain"
)

type RabbitMQIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *rabbitmq.RabbitMQContainer
	url       string
	logger    *slog.Logger
}

func (s *RabbitMQIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()

	container, err := rabbitmq.Run(s.ctx, "rabbitmq:3.13-alpine")
	s.Require().NoError(err)
	s.container = container

	url, err := container.AmqpURL(s.ctx)
	s.Require().NoError(err)
	s.url = url

	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func (s *RabbitMQIntegrationSuite) TearDownSuite() {
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func TestRabbitMQIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	suite.Run(t, new(RabbitMQIntegrationSuite))
}

func (s *RabbitMQIntegrationSuite) newQueue(name string) *RabbitMQ {
	q, err := NewRabbitMQ(Config{
		URL:        s.url,
		Exchange:   "listen_later_test",
		RoutingKey: name,
		QueueName:  name,
		Prefetch:   2,
	}, s.logger)
	s.Require().NoError(err)
	return q
}

func (s *RabbitMQIntegrationSuite) TestEnqueueAndConsume() {
	q := s.newQueue("tasks_roundtrip")
	defer q.Close()

	task := NewTask(42, domain.SourceWeb)
	s.Require().NoError(q.Enqueue(s.ctx, task))

	received := make(chan Task, 1)
	ctx, cancel := context.WithTimeout(s.ctx, 15*time.Second)
	defer cancel()

	go func() {
		_ = q.Consume(ctx, 1, func(_ context.Context, got Task) error {
			received <- got
			cancel()
			return nil
		})
	}()

	select {
	case got := <-received:
		s.Equal(task.TaskID, got.TaskID)
		s.Equal(int64(42), got.ArticleID)
		s.Equal(domain.SourceWeb, got.Kind)
	case <-ctx.Done():
		s.Fail("task was not delivered in time")
	}
}

func (s *RabbitMQIntegrationSuite) TestHandlerErrorDiscardsDelivery() {
	q := s.newQueue("tasks_discard")
	defer q.Close()

	s.Require().NoError(q.Enqueue(s.ctx, NewTask(7, domain.SourceWeb)))

	var calls int
	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = q.Consume(ctx, 1, func(_ context.Context, _ Task) error {
			calls++
			return errors.New("boom")
		})
		close(done)
	}()

	// The failed delivery is nacked without requeue, so it must not come back.
	time.Sleep(3 * time.Second)
	cancel()
	<-done

	s.Equal(1, calls)
}
