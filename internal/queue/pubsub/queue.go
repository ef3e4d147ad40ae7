// Package pubsub backs the job queue with Google Cloud Pub/Sub for
// deployments where producers and the worker run in separate processes.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/storepulse/appscraper/internal/scrape"
)

// Config identifies the Pub/Sub resources the queue is built on.
type Config struct {
	ProjectID      string
	TopicID        string
	SubscriptionID string
}

// Queue adapts a Pub/Sub topic/subscription pair to the queue contract.
// Messages are JSON-encoded jobs; a message that does not decode is acked
// and dropped so it cannot wedge the subscription.
type Queue struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	logger *zap.Logger

	jobs chan scrape.Job

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewQueue creates a Pub/Sub client and verifies the topic and subscription
// exist. It authenticates with Application Default Credentials.
func NewQueue(ctx context.Context, cfg Config, logger *zap.Logger) (*Queue, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}

	topic := client.Topic(cfg.TopicID)
	ok, err := topic.Exists(ctx)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("check topic %s: %w", cfg.TopicID, err)
	}
	if !ok {
		_ = client.Close()
		return nil, fmt.Errorf("pubsub topic %q does not exist in project %q", cfg.TopicID, cfg.ProjectID)
	}

	sub := client.Subscription(cfg.SubscriptionID)
	ok, err = sub.Exists(ctx)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("check subscription %s: %w", cfg.SubscriptionID, err)
	}
	if !ok {
		_ = client.Close()
		return nil, fmt.Errorf("pubsub subscription %q does not exist in project %q", cfg.SubscriptionID, cfg.ProjectID)
	}
	// The orchestrator is a single consumer; deliver one message at a time.
	sub.ReceiveSettings.MaxOutstandingMessages = 1

	return &Queue{
		client: client,
		topic:  topic,
		sub:    sub,
		logger: logger.Named("pubsub_queue"),
		jobs:   make(chan scrape.Job),
		done:   make(chan struct{}),
	}, nil
}

// Enqueue publishes a job and waits for the server acknowledgement.
func (q *Queue) Enqueue(ctx context.Context, job scrape.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	result := q.topic.Publish(ctx, &pubsub.Message{Data: data})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Dequeue returns the next job from the subscription. The underlying
// receive loop starts lazily on the first call and runs until Close.
func (q *Queue) Dequeue(ctx context.Context) (scrape.Job, error) {
	q.startOnce.Do(q.startReceiving)
	select {
	case <-ctx.Done():
		return scrape.Job{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case job, ok := <-q.jobs:
		if !ok {
			return scrape.Job{}, fmt.Errorf("pubsub receive loop stopped")
		}
		return job, nil
	}
}

func (q *Queue) startReceiving() {
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	go func() {
		defer close(q.done)
		defer close(q.jobs)
		err := q.sub.Receive(ctx, func(msgCtx context.Context, msg *pubsub.Message) {
			var job scrape.Job
			if err := json.Unmarshal(msg.Data, &job); err != nil {
				q.logger.Error("dropping undecodable message",
					zap.String("message_id", msg.ID), zap.Error(err))
				msg.Ack()
				return
			}
			select {
			case q.jobs <- job:
				msg.Ack()
			case <-msgCtx.Done():
				msg.Nack()
			}
		})
		if err != nil && ctx.Err() == nil {
			q.logger.Error("pubsub receive loop failed", zap.Error(err))
		}
	}()
}

// Close stops the receive loop and closes the client.
func (q *Queue) Close() error {
	if q.cancel != nil {
		q.cancel()
		<-q.done
	}
	q.topic.Stop()
	if err := q.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
