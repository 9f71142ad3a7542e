package exercise

import "context"

// Producer runs the workload of one pipe and returns whatever it captured.
type Producer interface {
	Produce(ctx context.Context) (any, error)
}

// LambdaProducer is a producer made of a function and the parameters it is always called with.
type LambdaProducer[P any] struct {
	Func   func(ctx context.Context, params P) (any, error)
	Params P
}

func NewLambdaProducer[P any](fn func(ctx context.Context, params P) (any, error), params P) *LambdaProducer[P] {
	return &LambdaProducer[P]{Func: fn, Params: params}
}

func (p *LambdaProducer[P]) Produce(ctx context.Context) (any, error) {
	return p.Func(ctx, p.Params)
}
