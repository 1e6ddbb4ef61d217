package eventlog

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"viewrewards/settlement"
)

const (
	maxDeliveryAttempts = 3
	retryBackoff        = 5 * time.Second
)

// Worker drains the queue into the settlement gateway's event log. A
// failed submission is retried a bounded number of times and then dropped
// with a log line; event-log delivery never rolls back the state change
// that produced the event.
type Worker struct {
	queue   *Queue
	gateway settlement.Gateway
	topic   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewWorker constructs a delivery worker for the given topic.
func NewWorker(queue *Queue, gateway settlement.Gateway, topic string, timeout time.Duration, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Worker{
		queue:   queue,
		gateway: gateway,
		topic:   topic,
		timeout: timeout,
		logger:  logger,
	}
}

// Run delivers events until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		task, ok := w.queue.Dequeue(ctx)
		if !ok {
			return
		}
		w.deliver(ctx, task)
	}
}

func (w *Worker) deliver(ctx context.Context, task Task) {
	payload, err := json.Marshal(struct {
		Type      string                 `json:"type"`
		Timestamp int64                  `json:"timestamp"`
		Data      map[string]interface{} `json:"data"`
	}{
		Type:      task.Event.Type,
		Timestamp: task.Event.Timestamp.UnixMilli(),
		Data:      task.Event.Data,
	})
	if err != nil {
		w.logger.Error("event payload marshal failed", "type", task.Event.Type, "err", err)
		return
	}

	callCtx, cancel := settlement.WithTimeout(ctx, w.timeout)
	receipt, err := w.gateway.SubmitEvent(callCtx, w.topic, payload)
	cancel()
	if err == nil {
		w.logger.Debug("event logged",
			"type", task.Event.Type,
			"topic", w.topic,
			"sequence", receipt.SequenceNumber,
		)
		return
	}

	if task.Attempt+1 >= maxDeliveryAttempts {
		w.logger.Warn("event delivery abandoned",
			"type", task.Event.Type,
			"attempts", task.Attempt+1,
			"err", err,
		)
		return
	}
	w.logger.Warn("event delivery failed, retrying",
		"type", task.Event.Type,
		"attempt", task.Attempt+1,
		"err", err,
	)
	w.queue.Retry(Task{
		Event:     task.Event,
		Attempt:   task.Attempt + 1,
		NotBefore: time.Now().Add(retryBackoff),
	})
}
