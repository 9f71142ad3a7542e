package exercise

import (
	"context"
	"fmt"

	"github.com/Octogonapus/BlockBenchmark/report"
)

type State int

const (
	StateCreated State = iota
	StateProducing
	StateConsuming
	StateFinalized
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateProducing:
		return "producing"
	case StateConsuming:
		return "consuming"
	case StateFinalized:
		return "finalized"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// PipeError reports the pipe that failed and the state it failed in.
type PipeError struct {
	Tag   string
	State State
	Err   error
}

func (e *PipeError) Error() string {
	return fmt.Sprintf("pipe '%s' failed while %s: %v", e.Tag, e.State, e.Err)
}

func (e *PipeError) Unwrap() error {
	return e.Err
}

// Pipe binds one producer to one consumer under a tag.
type Pipe struct {
	Tag      string
	Producer Producer
	Consumer Consumer

	state State
}

func (p *Pipe) State() State {
	return p.state
}

func (p *Pipe) fail(err error) error {
	failedIn := p.state
	p.state = StateFailed
	return &PipeError{Tag: p.Tag, State: failedIn, Err: err}
}

// Run produces and consumes once per iteration, then finalizes. The consumer never sees the
// output of a failed producer run.
func (p *Pipe) Run(ctx context.Context, iterations int) (*report.PipeResult, error) {
	if p.state != StateCreated {
		return nil, &PipeError{Tag: p.Tag, State: p.state, Err: fmt.Errorf("pipe already ran")}
	}

	for i := 0; i < iterations; i++ {
		p.state = StateProducing
		raw, err := p.Producer.Produce(ctx)
		if err != nil {
			return nil, p.fail(err)
		}

		p.state = StateConsuming
		err = p.Consumer.Ingest(ctx, i, raw)
		if err != nil {
			return nil, p.fail(err)
		}
	}

	res, err := p.Consumer.Process()
	if err != nil {
		return nil, p.fail(err)
	}
	res.Tag = p.Tag
	p.state = StateFinalized
	return res, nil
}
