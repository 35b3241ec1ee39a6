package usecase

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

type DataDispatcher struct {
	dataChan    chan Envelope
	producer    DataProducer
	topic       string
	logger      *zap.Logger
	workerCount int
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	dropped     atomic.Uint64
	failed      atomic.Uint64
}

// NewDataDispatcher 创建一个新的数据分发器。topic 为空时由 producer 使用自身默认值。
func NewDataDispatcher(producer DataProducer, topic string, workerCount, queueSize int, logger *zap.Logger) *DataDispatcher {
	if workerCount <= 0 {
		workerCount = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &DataDispatcher{
		dataChan:    make(chan Envelope, queueSize),
		producer:    producer,
		topic:       topic,
		workerCount: workerCount,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start 启动 worker 协程池
func (d *DataDispatcher) Start() {
	for i := 0; i < d.workerCount; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	d.logger.Info("DataDispatcher started", zap.Int("workers", d.workerCount), zap.String("topic", d.topic))
}

// Stop drains what is already queued, then stops the workers.
func (d *DataDispatcher) Stop() {
	d.cancel()
	d.wg.Wait()
	d.logger.Info("DataDispatcher stopped",
		zap.Uint64("dropped", d.dropped.Load()),
		zap.Uint64("failed", d.failed.Load()))
}

// Dispatch 将数据投递到缓冲通道 (非阻塞, 通道满或已停止时丢弃并返回 false)
func (d *DataDispatcher) Dispatch(env Envelope) bool {
	if d.ctx.Err() != nil {
		d.dropped.Add(1)
		return false
	}
	select {
	case d.dataChan <- env:
		return true
	default:
		d.dropped.Add(1)
		d.logger.Warn("DataDispatcher channel full, dropping data",
			zap.String("type", env.Type),
			zap.String("device", env.Device))
		return false
	}
}

// Dropped 因队列满或已停止而丢弃的消息数
func (d *DataDispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

func (d *DataDispatcher) worker(id int) {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			d.drain()
			return
		case env := <-d.dataChan:
			d.process(d.ctx, env)
		}
	}
}

// drain 停止后尽量发送已入队的数据
func (d *DataDispatcher) drain() {
	for {
		select {
		case env := <-d.dataChan:
			d.process(context.Background(), env)
		default:
			return
		}
	}
}

func (d *DataDispatcher) process(ctx context.Context, env Envelope) {
	if err := d.producer.Produce(ctx, d.topic, env.Device, env); err != nil {
		d.failed.Add(1)
		d.logger.Error("DataDispatcher failed to send data",
			zap.Error(err),
			zap.String("type", env.Type),
			zap.String("device", env.Device))
	}
}
