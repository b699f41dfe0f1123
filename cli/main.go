package main

import (
	"context"
	"fmt"
	"os"
	"time"

	grid "github.com/seoyhaein/grid-go"
	"github.com/seoyhaein/grid-go/pipeline"
	"github.com/seoyhaein/grid-go/samples"
)

// TODO 이건 별도로 테스트 서버에서 해야함. 내 개발 노트북에서 하면 뻗음.

// HeavyCommand simulates customer code with CPU and I/O load.
type HeavyCommand struct {
	Iterations int           // 반복 연산 횟수
	Sleep      time.Duration // 부하 시뮬레이션용 sleep 시간
}

func (c *HeavyCommand) Invoke(ctx context.Context, _ string, _ grid.Arguments) error {
	// CPU 부하 시뮬레이션
	sum := 0
	for i := 0; i < c.Iterations; i++ {
		sum += i*i + i%3
	}
	_ = sum // 쓰이지 않지만 최적화 방지

	// 네트워크/디스크 I/O 지연 시뮬레이션
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.Sleep):
	}
	return nil
}

const numEngines = 4

func main() {
	if err := RunLocalGrid(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// RunLocalGrid runs a broker and a few engines in one process and pushes sample work through them.
func RunLocalGrid() error {
	caps := grid.NewCapabilities()
	if err := samples.Register(caps, os.Stdout); err != nil {
		return err
	}
	caps.MustRegister("demo", "Heavy", func() (grid.Invoker, error) {
		return &HeavyCommand{
			Iterations: 10_000_000,             // 꽤 많은 연산
			Sleep:      200 * time.Millisecond, // 네트워크/디스크 지연 시뮬레이션
		}, nil
	})

	broker := grid.NewBroker()
	for i := 0; i < numEngines; i++ {
		e := grid.NewGridEngine(caps, grid.WithReporter(broker))
		defer e.Close()
		broker.RegisterEngine(e)
	}
	broker.Start()
	defer broker.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	// stateful object, every call goes to the engine hosting it
	ref, err := broker.CreateObject(ctx, grid.NewWorkDescriptor("counter", samples.Module, samples.CounterType, "", nil))
	if err != nil {
		return fmt.Errorf("create counter: %w", err)
	}
	fmt.Printf("counter %s lives on %s\n", ref.ObjectID, ref.EngineID)

	pipe := pipeline.NewPipeline()
	for i := 0; i < 8; i++ {
		pipe.Add("demo", "Heavy", "Run", nil)
	}
	for i := 0; i < 3; i++ {
		pipe.Add(samples.Module, samples.RepeaterType, "RepeatSentencesWithParams", grid.Arguments{
			"sentence": fmt.Sprintf("sentence %d", i),
			"count":    2,
		})
	}
	for i := 0; i < 5; i++ {
		d := grid.NewWorkDescriptor(fmt.Sprintf("count-%d", i), samples.Module, samples.CounterType, "Add", grid.Arguments{"amount": i})
		pipe.AddDescriptor(d.OnObject(ref))
	}

	start := time.Now()
	res, err := pipe.Run(ctx, broker)
	if err != nil {
		return err
	}
	for _, d := range pipe.Descriptors {
		h := res.Handles[d.ID]
		fmt.Printf("%-45s %-9s engine=%s\n", d.ID, h.Status, h.EngineID)
	}
	fmt.Printf("%d tasks on %d engines in %s\n", len(res.Handles), broker.TotalEngines(), time.Since(start))
	return res.Err()
}
