package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"ragchat/internal/model"
	"ragchat/internal/platform/logger"
	"ragchat/internal/platform/rabbitmq"
)

var errBadJob = errors.New("malformed index job")

// Indexer embeds one document into a vector-store location.
type Indexer interface {
	IndexDocument(ctx context.Context, job model.IndexJob) (int, error)
}

// IndexWorker consumes index jobs one at a time. Failed jobs are dropped,
// not requeued; their failure is recorded in the job progress.
type IndexWorker struct {
	conn      *amqp.Connection
	indexer   Indexer
	queueName string
	log       *logger.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewIndexWorker(conn *amqp.Connection, indexer Indexer, queueName string, log *logger.Logger) *IndexWorker {
	if log == nil {
		log = logger.Nop()
	}
	return &IndexWorker{
		conn:      conn,
		indexer:   indexer,
		queueName: queueName,
		log:       log.With("queue", queueName),
	}
}

func (w *IndexWorker) Start(ctx context.Context) error {
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
	if err := rabbitmq.DeclareQueue(ch, w.queueName); err != nil {
		_ = ch.Close()
		cancel()
		return err
	}
	// embedding is heavy; take one job at a time
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set worker qos failed: %w", err)
	}

	deliveries, err := ch.Consume(w.queueName, "", false, false, false, false, nil)
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
					w.log.Warn("index queue closed")
					return
				}
				if err := w.handle(workerCtx, d.Body); err != nil {
					_ = d.Nack(false, false)
					continue
				}
				_ = d.Ack(false)
			}
		}
	}()

	w.log.Info("index worker started")
	return nil
}

func (w *IndexWorker) handle(ctx context.Context, body []byte) error {
	var job model.IndexJob
	if err := json.Unmarshal(body, &job); err != nil {
		w.log.Error("decode index job failed", "err", err)
		return fmt.Errorf("%w: %v", errBadJob, err)
	}
	if job.DocumentID == 0 || job.StoreLoc == "" {
		w.log.Error("index job missing fields", "job_id", job.JobID)
		return errBadJob
	}
	n, err := w.indexer.IndexDocument(ctx, job)
	if err != nil {
		w.log.Error("index job failed", "job_id", job.JobID, "document_id", job.DocumentID, "err", err)
		return err
	}
	w.log.Info("index job done", "job_id", job.JobID, "chunks", n)
	return nil
}

func (w *IndexWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
