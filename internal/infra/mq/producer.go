package mq

import (
	"context"
)

// Producer defines the interface for message queue producers
type Producer interface {
	Produce(ctx context.Context, topic string, key string, data interface{}) error
	Close()
}

// NoOpProducer is used when the message queue is disabled
type NoOpProducer struct{}

func NewNoOpProducer() *NoOpProducer {
	return &NoOpProducer{}
}

func (p *NoOpProducer) Produce(ctx context.Context, topic string, key string, data interface{}) error {
	return nil
}

func (p *NoOpProducer) Close() {}
