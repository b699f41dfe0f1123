package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/google/uuid"
	grid "github.com/seoyhaein/grid-go"
	"golang.org/x/sync/errgroup"
)

// Submitter is satisfied by *grid.Broker.
type Submitter interface {
	ExecuteTask(d grid.WorkDescriptor, cb grid.CompletionCallback) (grid.RequestHandle, error)
}

// Pipeline is a batch of descriptors submitted together and awaited together.
type Pipeline struct {
	Id          string
	Descriptors []grid.WorkDescriptor
}

func NewPipeline() *Pipeline {
	return &Pipeline{
		Id: uuid.NewString(),
	}
}

// Add appends a descriptor whose id is <pipeline id>-<n>, n counting from 1.
func (pipe *Pipeline) Add(module, typeName, method string, args grid.Arguments) grid.WorkDescriptor {
	n := strconv.Itoa(len(pipe.Descriptors) + 1)
	d := grid.NewWorkDescriptor(pipe.Id+"-"+n, module, typeName, method, args)
	pipe.Descriptors = append(pipe.Descriptors, d)
	return d
}

func (pipe *Pipeline) AddDescriptor(d grid.WorkDescriptor) {
	pipe.Descriptors = append(pipe.Descriptors, d)
}

// Result holds the completed handle of every descriptor, by task id.
type Result struct {
	PipelineId string
	Handles    map[string]grid.RequestHandle
}

// Faulted lists the ids of the descriptors that ended Faulted, sorted.
func (r Result) Faulted() []string {
	var ids []string
	for id, h := range r.Handles {
		if h.Status == grid.Faulted {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Err is non-nil when any descriptor faulted.
func (r Result) Err() error {
	ids := r.Faulted()
	if len(ids) == 0 {
		return nil
	}
	return fmt.Errorf("pipeline %s: %d task(s) faulted: %v", r.PipelineId, len(ids), ids)
}

// Run submits every descriptor and waits until each one completes or ctx ends.
// On ctx end the partial result is returned with ctx's error.
func (pipe *Pipeline) Run(ctx context.Context, s Submitter) (Result, error) {
	res := Result{PipelineId: pipe.Id, Handles: make(map[string]grid.RequestHandle, len(pipe.Descriptors))}
	if len(pipe.Descriptors) == 0 {
		return res, nil
	}

	cb := grid.NewChannelCallback(len(pipe.Descriptors))
	for _, d := range pipe.Descriptors {
		if _, err := s.ExecuteTask(d, cb); err != nil {
			return res, fmt.Errorf("pipeline %s: submit %s: %w", pipe.Id, d.ID, err)
		}
	}

	for len(res.Handles) < len(pipe.Descriptors) {
		select {
		case h := <-cb.Completions():
			res.Handles[h.TaskID] = h
		case <-ctx.Done():
			return res, ctx.Err()
		}
	}
	return res, nil
}

// RunAll runs the pipelines concurrently. The first submission error or ctx end stops
// the waiting; results are returned in the order of pipes.
func RunAll(ctx context.Context, s Submitter, pipes ...*Pipeline) ([]Result, error) {
	results := make([]Result, len(pipes))
	g, ctx := errgroup.WithContext(ctx)
	for i, p := range pipes {
		g.Go(func() error {
			r, err := p.Run(ctx, s)
			results[i] = r
			return err
		})
	}
	err := g.Wait()
	return results, err
}
