package api

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	redisAdapter "bidwatch/adapters/redis"
	"bidwatch/auction"
	"bidwatch/metrics"
)

// SnapshotWriter 把商品快照寫回資料庫，返回 false 表示快照比資料庫中的舊
type SnapshotWriter interface {
	SaveSnapshot(ctx context.Context, item auction.ProductItem) (bool, error)
}

// SnapshotSynchronizer 從 consumer group 讀取商品快照並寫回資料庫
// 寫入失敗的快照會被移到 dead-letter stream。
type SnapshotSynchronizer struct {
	consumer   *redisAdapter.GroupConsumer[auction.ProductItem]
	writer     SnapshotWriter
	metrics    *metrics.Metrics
	timeout    time.Duration
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	logger     *slog.Logger
}

func NewSnapshotSynchronizer(
	consumer *redisAdapter.GroupConsumer[auction.ProductItem],
	writer SnapshotWriter,
	m *metrics.Metrics,
	logger *slog.Logger,
) *SnapshotSynchronizer {
	return &SnapshotSynchronizer{
		consumer: consumer,
		writer:   writer,
		metrics:  m,
		timeout:  5 * time.Second,
		logger:   logger.With(slog.String("caller", "SnapshotSynchronize")),
	}
}

// Start 啟動 consumer 以及同步 worker
func (s *SnapshotSynchronizer) Start() error {
	const op = "SnapshotSynchronizer.Start"
	if err := s.consumer.Start(); err != nil {
		return fmt.Errorf("[%s] Fail to start group consumer, err=%w", op, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelFunc = cancel
	ch := s.consumer.Subscribe()

	s.logger.Info("Start snapshot synchronization worker")
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.logger.Info("Snapshot synchronization worker stopped")
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				s.handle(ctx, msg)
			}
		}
	}()
	return nil
}

func (s *SnapshotSynchronizer) handle(ctx context.Context, msg *redisAdapter.Message[auction.ProductItem]) {
	logger := s.logger.With(slog.String("messageId", msg.ID()), slog.String("itemId", msg.Data.ID))
	logger.Debug("Receive snapshot", slog.Time("publishedAt", msg.PublishedAt()))

	saveCtx, cancel := context.WithTimeout(ctx, s.timeout)
	applied, err := s.writer.SaveSnapshot(saveCtx, msg.Data)
	cancel()
	if err != nil {
		s.metrics.SnapshotSynchronized(false)
		logger.Error("Fail to synchronize snapshot", slog.Any("error", err))
		if err := msg.Fail(ctx, err); err != nil {
			logger.Error("Fail to fail message", slog.Any("error", err))
		}
		return
	}

	s.metrics.SnapshotSynchronized(true)
	if !applied {
		logger.Debug("Ignore stale snapshot")
	}
	if err := msg.Done(ctx); err != nil {
		logger.Error("Sync success but fail to done message", slog.Any("error", err))
	}
}

// Close 停止 worker 並關閉 consumer
func (s *SnapshotSynchronizer) Close() {
	if s.cancelFunc != nil {
		s.cancelFunc()
	}
	s.wg.Wait()
	if err := s.consumer.Close(); err != nil {
		s.logger.Error("Fail to close group consumer", slog.Any("error", err))
	}
}
