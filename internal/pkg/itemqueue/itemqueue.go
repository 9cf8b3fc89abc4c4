// Package itemqueue 封装抓取 item 在 Redis Streams 上的传输。
//
// 各爬虫进程把解析出的 item 发布到 Stream，入库 worker 通过消费者组
// 读取并逐条送入入库流水线。
package itemqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/AtomNotShy/tbbid-scrapy/internal/ingest"
)

// DefaultStream 默认的 item Stream 名称。
const DefaultStream = "tbbid:item:queue"

// ItemQueue 封装 Redis Streams 的发布与消费者组管理。
type ItemQueue struct {
	rdb        *redis.Client
	logger     *slog.Logger
	streamName string
}

// NewItemQueue 创建一个 item 队列实例。
func NewItemQueue(rdb *redis.Client, logger *slog.Logger, streamName string) *ItemQueue {
	if streamName == "" {
		streamName = DefaultStream
	}
	return &ItemQueue{
		rdb:        rdb,
		logger:     logger,
		streamName: streamName,
	}
}

// Publish 将一个 item 打包成信封发布到 Stream。
func (q *ItemQueue) Publish(ctx context.Context, item ingest.Item) error {
	if item == nil {
		return fmt.Errorf("item is nil")
	}

	data, err := ingest.EncodeItem(item)
	if err != nil {
		return fmt.Errorf("encode item: %w", err)
	}

	return q.publishRaw(ctx, q.streamName, map[string]interface{}{
		"data": string(data),
	})
}

// publishEnvelope 重新发布一个已带 retry 计数的信封（消费失败重投用）。
func (q *ItemQueue) publishEnvelope(ctx context.Context, env *ingest.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return q.publishRaw(ctx, q.streamName, map[string]interface{}{
		"data": string(data),
	})
}

func (q *ItemQueue) publishRaw(ctx context.Context, stream string, values map[string]interface{}) error {
	args := &redis.XAddArgs{
		Stream: stream,
		MaxLen: 100000,
		Approx: false,
		Values: values,
	}

	msgID, err := q.rdb.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("xadd failed: %w", err)
	}

	q.logger.Debug("item published",
		slog.String("stream", stream),
		slog.String("msg_id", msgID))

	return nil
}

// CreateConsumerGroup 创建消费者组，已存在时忽略。
func (q *ItemQueue) CreateConsumerGroup(ctx context.Context, groupName string) error {
	err := q.rdb.XGroupCreateMkStream(ctx, q.streamName, groupName, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("create consumer group: %w", err)
	}

	q.logger.Info("consumer group ready",
		slog.String("stream", q.streamName),
		slog.String("group", groupName))

	return nil
}

// Len 返回 Stream 中的消息数量。
func (q *ItemQueue) Len(ctx context.Context) (int64, error) {
	length, err := q.rdb.XLen(ctx, q.streamName).Result()
	if err != nil {
		return 0, fmt.Errorf("xlen failed: %w", err)
	}
	return length, nil
}
