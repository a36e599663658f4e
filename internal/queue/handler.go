package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/medgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/graph"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/loader"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/store"

	"github.com/rabbitmq/amqp091-go"
)

// ErrPermanent marks a message that can never succeed, such as one that is
// not valid JSON. Such messages skip the retry queue.
var ErrPermanent = errors.New("permanent message failure")

// QueueIngestMsg carries clinical records to add to the graph, inline or as
// paths of record batch files for the configured file loader.
type QueueIngestMsg struct {
	CorrelationID string          `json:"correlation_id,omitempty"`
	Records       []common.Record `json:"records,omitempty"`
	Files         []string        `json:"files,omitempty"`
}

// QueueRetractMsg removes everything extracted from a source record.
type QueueRetractMsg struct {
	CorrelationID string `json:"correlation_id,omitempty"`
	RecordID      string `json:"record_id"`
}

// QueueReconcileMsg triggers one reconciliation pass over entities stored
// without a canonical concept.
type QueueReconcileMsg struct {
	Limit int `json:"limit,omitempty"`
}

// GraphWriter is the part of *graph.GraphClient the handlers use.
type GraphWriter interface {
	ProcessRecords(ctx context.Context, recs []common.Record) (graph.BatchResult, error)
	RetractRecord(ctx context.Context, recordID string) (store.Counts, error)
	Reconcile(ctx context.Context, limit int) (graph.ReconcileResult, error)
}

// Handler dispatches queue messages to the write path.
type Handler struct {
	graph GraphWriter
	files loader.RecordFileLoader
}

type HandlerOption func(*Handler)

// WithFileLoader enables ingest messages that reference record batch files.
func WithFileLoader(l loader.RecordFileLoader) HandlerOption {
	return func(h *Handler) {
		h.files = l
	}
}

func NewHandler(g GraphWriter, opts ...HandlerOption) *Handler {
	h := &Handler{graph: g}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: invalid message: %w", ErrPermanent, err)
	}
	return nil
}

// Handle processes one message of queueName.
func (h *Handler) Handle(ctx context.Context, queueName string, body []byte) error {
	switch queueName {
	case IngestQueue:
		return h.ProcessIngestMessage(ctx, body)
	case RetractQueue:
		return h.ProcessRetractMessage(ctx, body)
	case ReconcileQueue:
		return h.ProcessReconcileMessage(ctx, body)
	}
	return fmt.Errorf("%w: unknown queue %q", ErrPermanent, queueName)
}

func (h *Handler) ProcessIngestMessage(ctx context.Context, body []byte) error {
	var msg QueueIngestMsg
	if err := decode(body, &msg); err != nil {
		return err
	}
	records := msg.Records
	if len(msg.Files) > 0 {
		if h.files == nil {
			return fmt.Errorf("%w: message references files but no file loader is configured", ErrPermanent)
		}
		for _, f := range msg.Files {
			recs, err := loader.LoadRecords(ctx, h.files, f)
			if errors.Is(err, loader.ErrInvalidBatch) {
				return fmt.Errorf("%w: %w", ErrPermanent, err)
			}
			if err != nil {
				return err
			}
			logger.Debug("[Queue][Ingest] Loaded record batch", "file", f, "records", len(recs))
			records = append(records, recs...)
		}
	}
	if len(records) == 0 {
		logger.Warn("[Queue][Ingest] Message without records", "correlation_id", msg.CorrelationID)
		return nil
	}

	res, err := h.graph.ProcessRecords(ctx, records)
	if err != nil {
		return err
	}
	logger.Info("[Queue][Ingest] Batch done",
		"correlation_id", msg.CorrelationID,
		"processed", res.Processed,
		"skipped", len(res.Skipped),
		"entities", res.Entities,
		"relationships", res.Relationships,
	)
	return nil
}

func (h *Handler) ProcessRetractMessage(ctx context.Context, body []byte) error {
	var msg QueueRetractMsg
	if err := decode(body, &msg); err != nil {
		return err
	}
	if strings.TrimSpace(msg.RecordID) == "" {
		return fmt.Errorf("%w: retract message without record_id", ErrPermanent)
	}

	_, err := h.graph.RetractRecord(ctx, msg.RecordID)
	return err
}

func (h *Handler) ProcessReconcileMessage(ctx context.Context, body []byte) error {
	var msg QueueReconcileMsg
	if len(body) > 0 {
		if err := decode(body, &msg); err != nil {
			return err
		}
	}

	_, err := h.graph.Reconcile(ctx, msg.Limit)
	if errors.Is(err, common.ErrNormalizationUnavailable) {
		// the next scheduled pass picks the entities up again
		logger.Warn("[Queue][Reconcile] Terminology unavailable, pass aborted", "err", err)
		return nil
	}
	return err
}

// Retries returns the x-retries header of a delivery.
func Retries(headers amqp091.Table) int {
	switch v := headers["x-retries"].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// HandleProcessingError moves a failed delivery to the retry queue of
// queueName, or to its dead-letter queue once MaxRetries is reached or the
// failure is permanent. The original delivery is acked once the copy is
// published and requeued when publishing fails.
func HandleProcessingError(ctx context.Context, ch Publisher, msg amqp091.Delivery, queueName string, cause error) {
	retries := Retries(msg.Headers)

	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}

	target := queueName + retrySuffix
	if retries >= MaxRetries || errors.Is(cause, ErrPermanent) {
		target = queueName + dlqSuffix
		if cause != nil {
			headers["x-last-error"] = cause.Error()
		}
		logger.Warn("[Queue] Sending message to DLQ", "dlq", target, "retries", retries)
	} else {
		headers["x-retries"] = int32(retries + 1)
	}

	pubErr := ch.PublishWithContext(
		ctx,
		"",
		target,
		false,
		false,
		amqp091.Publishing{
			ContentType:  msg.ContentType,
			Body:         msg.Body,
			Headers:      headers,
			DeliveryMode: amqp091.Persistent,
		},
	)
	if pubErr != nil {
		logger.Error("[Queue] Failed to publish failed message", "queue", target, "err", pubErr)
		if err := msg.Nack(false, true); err != nil {
			logger.Error("[Queue] Failed to nack message", "err", err)
		}
		return
	}
	if err := msg.Ack(false); err != nil {
		logger.Error("[Queue] Failed to ack message", "err", err)
	}
}
