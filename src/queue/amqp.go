package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/streadway/amqp"

	app "imghost/src/app"
)

// AMQPQueue publishes thumbnail jobs to a durable RabbitMQ queue and
// consumes them with the same handler the in-process pool uses.
type AMQPQueue struct {
	url     string
	queue   string
	handler Handler

	conn    *amqp.Connection
	mu      sync.Mutex
	publish *amqp.Channel
	consume *amqp.Channel
	done    chan struct{}
	wg      sync.WaitGroup
}

func NewAMQPQueue(url, queue string, handler Handler) *AMQPQueue {
	return &AMQPQueue{url: url, queue: queue, handler: handler, done: make(chan struct{})}
}

// Connect dials the broker and declares the queue.
func (q *AMQPQueue) Connect() error {
	conn, err := amqp.Dial(q.url)
	if err != nil {
		return fmt.Errorf("can't dial amqp: %w", err)
	}

	publish, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("can't get channel: %w", err)
	}
	if _, err := publish.QueueDeclare(q.queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return fmt.Errorf("can't declare queue %s: %w", q.queue, err)
	}

	q.conn = conn
	q.publish = publish
	log.Info().Str("queue", q.queue).Msg("amqp connected")
	return nil
}

func (q *AMQPQueue) Publish(ctx context.Context, job app.ThumbnailJob) error {
	body, err := encodeJob(job)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.publish == nil {
		return ErrQueueClosed
	}
	err = q.publish.Publish("", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish job for image %d: %w", job.ImageID, err)
	}
	log.Ctx(ctx).Debug().Uint("image", job.ImageID).Str("queue", q.queue).Msg("thumbnail job published")
	return nil
}

// Start consumes the queue with workers goroutines. Deliveries are acked
// after the handler returns; undecodable bodies are dropped.
func (q *AMQPQueue) Start(ctx context.Context, workers int) error {
	if q.conn == nil {
		return fmt.Errorf("amqp is not connected")
	}
	if workers <= 0 {
		workers = 1
	}

	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("can't get channel: %w", err)
	}
	if err := ch.Qos(workers, 0, false); err != nil {
		ch.Close()
		return fmt.Errorf("can't set qos: %w", err)
	}
	msgs, err := ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("can't consume %s: %w", q.queue, err)
	}
	q.consume = ch

	q.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go q.worker(ctx, i, msgs)
	}
	log.Info().Str("queue", q.queue).Int("workers", workers).Msg("amqp consumers started")
	return nil
}

func (q *AMQPQueue) worker(ctx context.Context, id int, msgs <-chan amqp.Delivery) {
	defer q.wg.Done()
	logger := log.With().Str("component", "amqp").Int("worker", id).Logger()

	for {
		select {
		case d, ok := <-msgs:
			if !ok {
				return
			}
			deliver(ctx, logger, q.handler, d)
		case <-q.done:
			return
		}
	}
}

// deliver runs one delivery. It is acked once the handler returns, failed
// jobs included, since a rerun only fills missing sizes. Malformed bodies
// are nacked without requeue.
func deliver(ctx context.Context, logger zerolog.Logger, handler Handler, d amqp.Delivery) {
	job, err := decodeJob(d.Body)
	if err != nil {
		logger.Error().Err(err).Msg("dropping malformed thumbnail job")
		if err := d.Nack(false, false); err != nil {
			logger.Warn().Err(err).Msg("nack failed")
		}
		return
	}
	run(logger.WithContext(ctx), logger, handler, job)
	if err := d.Ack(false); err != nil {
		logger.Warn().Err(err).Msg("ack failed")
	}
}

// Stop cancels consumption, waits for running handlers and closes the connection.
func (q *AMQPQueue) Stop() {
	q.mu.Lock()
	select {
	case <-q.done:
		q.mu.Unlock()
		return
	default:
		close(q.done)
	}
	q.publish = nil
	q.mu.Unlock()

	q.wg.Wait()
	if q.consume != nil {
		q.consume.Close()
	}
	if q.conn != nil {
		q.conn.Close()
	}
	log.Info().Str("queue", q.queue).Msg("amqp stopped")
}

func encodeJob(job app.ThumbnailJob) ([]byte, error) {
	body, err := json.Marshal(&job)
	if err != nil {
		return nil, fmt.Errorf("can't encode job: %w", err)
	}
	return body, nil
}

func decodeJob(body []byte) (app.ThumbnailJob, error) {
	var job app.ThumbnailJob
	if err := json.Unmarshal(body, &job); err != nil {
		return job, fmt.Errorf("can't decode job: %w", err)
	}
	if job.ImageID == 0 || job.StoragePath == "" || job.OwnerID == "" {
		return job, fmt.Errorf("incomplete job %s", string(body))
	}
	return job, nil
}
