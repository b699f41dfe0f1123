// Package samples holds capabilities used by the demo binaries and tests.
package samples

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	grid "github.com/seoyhaein/grid-go"
)

const (
	Module = "samples"

	RepeaterType = "SentenceRepeater"
	CounterType  = "Counter"
)

const defaultSentence = "The quick brown fox jumps over the lazy dog."

// Register adds SentenceRepeater and Counter to caps. Repeated sentences are written to out.
func Register(caps *grid.Capabilities, out io.Writer) error {
	if err := caps.Register(Module, RepeaterType, func() (grid.Invoker, error) {
		return NewSentenceRepeater(out), nil
	}); err != nil {
		return err
	}
	return caps.Register(Module, CounterType, func() (grid.Invoker, error) {
		return &Counter{}, nil
	})
}

// SentenceRepeater writes a sentence a number of times.
//
//	RepeatSentences            ten copies of a fixed sentence
//	RepeatSentencesWithParams  args: sentence (string), count (number), delay_ms (number, optional)
type SentenceRepeater struct {
	mu  sync.Mutex
	out io.Writer
}

func NewSentenceRepeater(out io.Writer) *SentenceRepeater {
	if out == nil {
		out = io.Discard
	}
	return &SentenceRepeater{out: out}
}

func (s *SentenceRepeater) Invoke(ctx context.Context, method string, args grid.Arguments) error {
	return grid.Methods{
		"RepeatSentences": func(ctx context.Context, _ grid.Arguments) error {
			return s.repeat(ctx, defaultSentence, 10, 0)
		},
		"RepeatSentencesWithParams": func(ctx context.Context, args grid.Arguments) error {
			sentence, _ := args["sentence"].(string)
			if strings.TrimSpace(sentence) == "" {
				return fmt.Errorf("sentence is required")
			}
			count, err := intArg(args, "count", 1)
			if err != nil {
				return err
			}
			delay, err := intArg(args, "delay_ms", 0)
			if err != nil {
				return err
			}
			return s.repeat(ctx, sentence, count, time.Duration(delay)*time.Millisecond)
		},
	}.Invoke(ctx, method, args)
}

func (s *SentenceRepeater) repeat(ctx context.Context, sentence string, count int, delay time.Duration) error {
	if count < 0 {
		return fmt.Errorf("count must not be negative, got %d", count)
	}
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.mu.Lock()
		_, err := fmt.Fprintf(s.out, "%d: %s\n", i+1, sentence)
		s.mu.Unlock()
		if err != nil {
			return err
		}
		if delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return nil
}

// Counter is a stateful object for work bound to one engine.
//
//	Add    args: amount (number, default 1)
//	Reset
type Counter struct {
	mu    sync.Mutex
	value int64
}

func (c *Counter) Invoke(ctx context.Context, method string, args grid.Arguments) error {
	return grid.Methods{
		"Add": func(_ context.Context, args grid.Arguments) error {
			n, err := intArg(args, "amount", 1)
			if err != nil {
				return err
			}
			c.mu.Lock()
			c.value += int64(n)
			c.mu.Unlock()
			return nil
		},
		"Reset": func(context.Context, grid.Arguments) error {
			c.mu.Lock()
			c.value = 0
			c.mu.Unlock()
			return nil
		},
	}.Invoke(ctx, method, args)
}

func (c *Counter) Value() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// intArg reads a whole number. Arguments decoded from JSON carry numbers as float64.
func intArg(args grid.Arguments, name string, def int) (int, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("%s must be a whole number, got %v", name, n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("%s must be a number, got %T", name, v)
	}
}
