package usecase

import "context"

type DataProducer interface {
	// Produce 发送数据到指定 Topic, key 通常为设备标识
	Produce(ctx context.Context, topic string, key string, data interface{}) error
}

// Publisher 接收解码后的数据, 由 DataDispatcher 实现
type Publisher interface {
	Dispatch(env Envelope) bool
}
