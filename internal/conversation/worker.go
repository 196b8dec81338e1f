package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/wolfman30/sara-leads/internal/events"
	"github.com/wolfman30/sara-leads/pkg/logging"
)

// InboundHandler processes one inbound message. *Engine implements it.
type InboundHandler interface {
	HandleInbound(ctx context.Context, msg events.InboundMessageV1) (Result, error)
}

// Worker consumes inbound jobs from the queue and hands them to the engine.
type Worker struct {
	handler   InboundHandler
	queue     Queue
	processed events.Deduper
	logger    *logging.Logger

	cfg workerConfig
	wg  sync.WaitGroup
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	jobTimeout       time.Duration
	maxAttempts      int
	processed        events.Deduper
}

const (
	defaultWorkerCount   = 2
	defaultWaitSeconds   = 2
	defaultBatchSize     = 5
	defaultJobTimeout    = 45 * time.Second
	defaultMaxAttempts   = 5
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5

	jobScope = "conversation_job"
)

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the SQS long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// WithJobTimeout bounds the time spent on one message.
func WithJobTimeout(d time.Duration) WorkerOption {
	return func(cfg *workerConfig) {
		if d > 0 {
			cfg.jobTimeout = d
		}
	}
}

// WithMaxAttempts drops a job after it has been received this many times.
func WithMaxAttempts(n int) WorkerOption {
	return func(cfg *workerConfig) {
		if n > 0 {
			cfg.maxAttempts = n
		}
	}
}

// WithProcessedStore skips jobs that were already handled, which guards
// against queue redelivery after a lost delete.
func WithProcessedStore(store events.Deduper) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.processed = store
	}
}

func NewWorker(handler InboundHandler, queue Queue, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if handler == nil {
		panic("conversation: handler cannot be nil")
	}
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
		jobTimeout:       defaultJobTimeout,
		maxAttempts:      defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Worker{
		handler:   handler,
		queue:     queue,
		processed: cfg.processed,
		logger:    logger,
		cfg:       cfg,
	}
}

// Start launches worker goroutines until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("conversation worker started", "worker_id", workerID)

	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("conversation worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			w.logger.Error("failed to receive conversation jobs", "error", err, "worker_id", workerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg Delivery) {
	var payload queuePayload
	if err := json.Unmarshal([]byte(msg.Body), &payload); err != nil {
		w.logger.Error("failed to decode conversation job", "error", err, "msg_id", msg.ID)
		w.deleteMessage(ctx, msg.ReceiptHandle)
		return
	}
	if payload.Kind != jobTypeInbound || payload.Inbound == nil {
		w.logger.Warn("dropping unknown conversation job", "job_id", payload.ID, "kind", payload.Kind)
		w.deleteMessage(ctx, msg.ReceiptHandle)
		return
	}

	if msg.Attempt > w.cfg.maxAttempts {
		w.logger.Error("dropping conversation job after repeated failures",
			"job_id", payload.ID,
			"attempt", msg.Attempt,
			"from", payload.Inbound.From,
		)
		w.deleteMessage(ctx, msg.ReceiptHandle)
		return
	}

	if w.processed != nil {
		claimed, err := w.processed.MarkProcessed(ctx, jobScope, payload.ID)
		if err != nil {
			w.logger.Warn("job dedupe unavailable", "error", err, "job_id", payload.ID)
		} else if !claimed {
			w.logger.Info("skipping already processed job", "job_id", payload.ID)
			w.deleteMessage(ctx, msg.ReceiptHandle)
			return
		}
	}

	jobCtx, cancel := context.WithTimeout(ctx, w.cfg.jobTimeout)
	defer cancel()

	res, err := w.handler.HandleInbound(jobCtx, *payload.Inbound)
	if err != nil {
		// leave the message for redelivery
		w.logger.Error("conversation job failed", "error", err, "job_id", payload.ID, "attempt", msg.Attempt)
		if w.processed != nil {
			if rerr := w.processed.Release(context.WithoutCancel(ctx), jobScope, payload.ID); rerr != nil {
				w.logger.Error("failed to release job claim", "error", rerr, "job_id", payload.ID)
			}
		}
		return
	}

	w.logger.Info("conversation job processed",
		"job_id", payload.ID,
		"lead_id", res.LeadID,
		"reply_kind", res.ReplyKind,
		"event_id", res.EventID,
		"failures", len(res.Failures),
	)
	w.deleteMessage(ctx, msg.ReceiptHandle)
}

func (w *Worker) deleteMessage(ctx context.Context, receiptHandle string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deleteTimeoutSeconds*time.Second)
	defer cancel()
	if err := w.queue.Delete(ctx, receiptHandle); err != nil {
		w.logger.Error("failed to delete conversation job", "error", err)
	}
}
