package export

import (
	"context"

	"go.uber.org/zap"

	"beaconattend/internal/queue"
)

// Worker consumes export jobs from a queue until its context ends.
type Worker struct {
	queue   queue.Queue
	service *Service
	logger  *zap.Logger
	// Done, when set, receives every finished job; used by tests.
	Done func(Result, error)
}

func NewWorker(q queue.Queue, svc *Service, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{queue: q, service: svc, logger: logger}
}

// Run blocks, processing messages one at a time.
func (w *Worker) Run(ctx context.Context) error {
	messages, err := w.queue.Consume(ctx)
	if err != nil {
		return err
	}
	w.logger.Info("export worker started")
	for msg := range messages {
		res, err := w.service.Handle(ctx, msg)
		if err != nil {
			w.logger.Error("export failed", zap.String("type", msg.Type), zap.Error(err))
		}
		if w.Done != nil && (res != nil || err != nil) {
			var r Result
			if res != nil {
				r = *res
			}
			w.Done(r, err)
		}
	}
	w.logger.Info("export worker stopped")
	return nil
}
