package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"docbrain/internal/app"
	"docbrain/internal/model"
)

type Ingester interface {
	IngestDocument(ctx context.Context, input app.IngestInput) (*app.IngestResult, error)
	MarkRunFailed(ctx context.Context, jobID, reason string)
}

// Outcome tells the consumer loop how to settle a delivery.
type Outcome int

const (
	OutcomeAck Outcome = iota
	OutcomeReject
	OutcomeRequeue
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAck:
		return "ack"
	case OutcomeReject:
		return "reject"
	case OutcomeRequeue:
		return "requeue"
	default:
		return "unknown"
	}
}

type IngestWorker struct {
	conn      *amqp.Connection
	ingester  Ingester
	queueName string
	prefetch  int
	logger    *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewIngestWorker(conn *amqp.Connection, ingester Ingester, queueName string, prefetch int, logger *zap.Logger) *IngestWorker {
	if prefetch <= 0 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestWorker{
		conn:      conn,
		ingester:  ingester,
		queueName: queueName,
		prefetch:  prefetch,
		logger:    logger,
	}
}

func (w *IngestWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	if _, err := ch.QueueDeclare(w.queueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("declare worker queue failed: %w", err)
	}

	if err := ch.Qos(w.prefetch, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set worker prefetch failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					w.logger.Warn("ingest delivery channel closed", zap.String("queue", w.queueName))
					return
				}
				settle(d, w.Handle(workerCtx, d.Body), w.logger)
			}
		}
	}()

	w.logger.Info("ingest worker started", zap.String("queue", w.queueName), zap.Int("prefetch", w.prefetch))
	return nil
}

// Handle runs one queued job and decides what to do with its delivery.
// Malformed payloads are dropped, a busy document goes back on the queue.
func (w *IngestWorker) Handle(ctx context.Context, body []byte) Outcome {
	var job model.IngestJob
	if err := json.Unmarshal(body, &job); err != nil {
		w.logger.Error("worker decode ingest job failed", zap.Error(err))
		w.markFailed(ctx, jobIDOf(body), "malformed ingest job: "+err.Error())
		return OutcomeReject
	}

	log := w.logger.With(zap.String("job_id", job.JobID), zap.Uint("document_id", job.DocumentID))

	result, err := w.ingester.IngestDocument(ctx, app.IngestInput{
		DocumentID:    job.DocumentID,
		Text:          job.Text,
		MaxTokens:     job.MaxTokens,
		OverlapTokens: job.OverlapTokens,
		JobID:         job.JobID,
	})
	switch {
	case err == nil:
		log.Info("worker ingested document", zap.Int("chunk_count", result.ChunkCount))
		return OutcomeAck
	case errors.Is(err, app.ErrDocumentBusy):
		log.Info("document busy, requeueing ingest job")
		return OutcomeRequeue
	case errors.Is(err, app.ErrInvalidInput):
		log.Error("worker rejected ingest job", zap.Error(err))
		w.markFailed(ctx, job.JobID, err.Error())
		return OutcomeReject
	default:
		log.Error("worker ingest document failed", zap.Error(err))
		return OutcomeReject
	}
}

func (w *IngestWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *IngestWorker) markFailed(ctx context.Context, jobID, reason string) {
	if jobID == "" {
		return
	}
	w.ingester.MarkRunFailed(ctx, jobID, reason)
}

// jobIDOf salvages the job id from a payload that failed to decode as a whole.
func jobIDOf(body []byte) string {
	var envelope struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	return envelope.JobID
}

type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func settle(d acknowledger, outcome Outcome, logger *zap.Logger) {
	var err error
	switch outcome {
	case OutcomeAck:
		err = d.Ack(false)
	case OutcomeRequeue:
		err = d.Nack(false, true)
	default:
		err = d.Nack(false, false)
	}
	if err != nil {
		logger.Warn("settle ingest delivery failed", zap.Stringer("outcome", outcome), zap.Error(err))
	}
}
