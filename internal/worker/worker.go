// Package worker 把 item 队列和入库流水线串起来。
package worker

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/AtomNotShy/tbbid-scrapy/internal/ingest"
	"github.com/AtomNotShy/tbbid-scrapy/internal/pkg/itemqueue"
)

// Worker 串行消费 item 队列并交给流水线入库。
//
// 串行是有意的：项目缓存的判定与转正必须和入库动作保持同一顺序，
// 并发消费会让"项目已入库"的判断失去意义。
type Worker struct {
	consumer *itemqueue.Consumer
	pipeline *ingest.Pipeline
	logger   *slog.Logger

	stats workerStats
}

type workerStats struct {
	Processed atomic.Int64
	Succeeded atomic.Int64
	Rejected  atomic.Int64
	Failed    atomic.Int64
}

// Stats 本次运行的处理计数快照。
type Stats struct {
	Processed int64
	Succeeded int64
	Rejected  int64
	Failed    int64
}

// Stats 返回处理计数快照。
func (w *Worker) Stats() Stats {
	return Stats{
		Processed: w.stats.Processed.Load(),
		Succeeded: w.stats.Succeeded.Load(),
		Rejected:  w.stats.Rejected.Load(),
		Failed:    w.stats.Failed.Load(),
	}
}

// New 创建入库 worker。
func New(consumer *itemqueue.Consumer, pipeline *ingest.Pipeline, logger *slog.Logger) *Worker {
	return &Worker{
		consumer: consumer,
		pipeline: pipeline,
		logger:   logger,
	}
}

// Run 循环读取并处理 item，直到 ctx 被取消。
// 收到取消信号后会把手头已读出的消息处理完再返回。
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("ingest worker started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("ingest worker stopped")
			return ctx.Err()
		default:
		}

		msgs, err := w.consumer.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("read items failed", slog.String("error", err.Error()))
			continue
		}

		for _, msg := range msgs {
			w.handle(ctx, msg)
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg *itemqueue.EnvelopeWithID) {
	item, err := ingest.DecodeItem(msg.Envelope)
	if err != nil {
		// 信封完好但载荷解不开，重试也不会变好
		w.logger.Error("decode item failed",
			slog.String("msg_id", msg.ID),
			slog.String("kind", string(msg.Envelope.Kind)),
			slog.String("error", err.Error()))
		if _, failErr := w.consumer.HandleFailure(ctx, msg, err); failErr != nil {
			w.logger.Error("handle decode failure", slog.String("error", failErr.Error()))
		}
		return
	}

	w.stats.Processed.Add(1)

	err = w.pipeline.Process(ctx, item)
	switch {
	case err == nil:
		w.stats.Succeeded.Add(1)
		w.ack(ctx, msg.ID)

	case ingest.IsMissingField(err):
		// 字段缺失是数据本身的问题，直接丢弃
		w.stats.Rejected.Add(1)
		w.logger.Warn("item rejected",
			slog.String("msg_id", msg.ID),
			slog.String("error", err.Error()))
		w.ack(ctx, msg.ID)

	default:
		w.stats.Failed.Add(1)
		w.logger.Error("process item failed",
			slog.String("msg_id", msg.ID),
			slog.String("kind", string(msg.Envelope.Kind)),
			slog.String("error", err.Error()))
		if _, failErr := w.consumer.HandleFailure(ctx, msg, err); failErr != nil {
			w.logger.Error("handle process failure", slog.String("error", failErr.Error()))
		}
	}
}

func (w *Worker) ack(ctx context.Context, msgID string) {
	if err := w.consumer.Ack(ctx, msgID); err != nil {
		w.logger.Error("ack failed",
			slog.String("msg_id", msgID),
			slog.String("error", err.Error()))
	}
}
