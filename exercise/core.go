package exercise

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Octogonapus/BlockBenchmark/report"
)

var (
	ErrDuplicateTag = errors.New("duplicate pipe tag")
	ErrRegression   = errors.New("performance regression")
	ErrPipeTimeout  = errors.New("pipe timed out")
)

// Core runs a named set of pipes, one after the other, and folds their results into one report.
type Core struct {
	name        string
	iterations  int
	custom      map[string]any
	pipeTimeout time.Duration
	logger      *slog.Logger
	pipeDone    func(res *report.PipeResult)

	pipes []*Pipe
	tags  map[string]struct{}
}

type Option func(*Core)

// WithIterations sets how many times each pipe produces and consumes before it is finalized.
func WithIterations(n int) Option {
	return func(c *Core) {
		if n > 0 {
			c.iterations = n
		}
	}
}

// WithCustom sets context that is copied into the report as-is.
func WithCustom(custom map[string]any) Option {
	return func(c *Core) {
		c.custom = custom
	}
}

// WithPipeTimeout bounds the produce and consume time of each pipe. Zero means no bound.
func WithPipeTimeout(d time.Duration) Option {
	return func(c *Core) {
		c.pipeTimeout = d
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Core) {
		c.logger = l
	}
}

// WithPipeDoneHook registers a callback invoked after each pipe is finalized.
func WithPipeDoneHook(fn func(res *report.PipeResult)) Option {
	return func(c *Core) {
		c.pipeDone = fn
	}
}

func NewCore(name string, opts ...Option) *Core {
	c := &Core{
		name:       name,
		iterations: 1,
		logger:     slog.Default(),
		tags:       map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Core) Name() string {
	return c.name
}

func (c *Core) AddPipe(producer Producer, consumer Consumer, tag string) error {
	if _, ok := c.tags[tag]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTag, tag)
	}
	c.tags[tag] = struct{}{}
	c.pipes = append(c.pipes, &Pipe{Tag: tag, Producer: producer, Consumer: consumer})
	return nil
}

// Tags returns the registered tags in registration order.
func (c *Core) Tags() []string {
	tags := make([]string, len(c.pipes))
	for i, p := range c.pipes {
		tags[i] = p.Tag
	}
	return tags
}

// RunExercise runs every pipe in registration order. The first pipe that fails aborts the
// exercise with a *PipeError. When check is set, any statistic outside its baseline tolerance makes
// RunExercise return ErrRegression along with the complete report.
func (c *Core) RunExercise(ctx context.Context, check bool) (*report.ExerciseReport, error) {
	rep := report.NewExerciseReport(c.name, c.iterations, c.custom)

	for _, p := range c.pipes {
		c.logger.Info("running pipe", slog.String("tag", p.Tag), slog.Int("iterations", c.iterations))
		start := time.Now()

		res, err := c.runPipe(ctx, p)
		if err != nil {
			c.logger.Error("pipe failed", slog.String("tag", p.Tag), slog.String("error", err.Error()))
			return nil, err
		}

		rep.Add(res)
		c.logger.Info("pipe finished",
			slog.String("tag", p.Tag),
			slog.Bool("passed", res.Passed()),
			slog.Duration("duration", time.Since(start)))
		if c.pipeDone != nil {
			c.pipeDone(res)
		}
	}

	if check && !rep.Passed {
		failures := rep.Failures()
		lines := make([]string, len(failures))
		for i, f := range failures {
			lines[i] = f.String()
		}
		return rep, fmt.Errorf("%w in %d comparison(s):\n%s", ErrRegression, len(failures), strings.Join(lines, "\n"))
	}
	return rep, nil
}

func (c *Core) runPipe(ctx context.Context, p *Pipe) (*report.PipeResult, error) {
	if c.pipeTimeout <= 0 {
		return p.Run(ctx, c.iterations)
	}

	pipeCtx, cancel := context.WithTimeout(ctx, c.pipeTimeout)
	defer cancel()

	res, err := p.Run(pipeCtx, c.iterations)
	if errors.Is(pipeCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		var pe *PipeError
		if errors.As(err, &pe) {
			return nil, &PipeError{Tag: p.Tag, State: pe.State, Err: fmt.Errorf("%w after %s: %w", ErrPipeTimeout, c.pipeTimeout, pe.Err)}
		}
		return nil, &PipeError{Tag: p.Tag, State: p.State(), Err: fmt.Errorf("%w after %s", ErrPipeTimeout, c.pipeTimeout)}
	}
	return res, err
}
