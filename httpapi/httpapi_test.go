package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	grid "github.com/seoyhaein/grid-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCapabilities() *grid.Capabilities {
	caps := grid.NewCapabilities()
	caps.MustRegister("samples", "Echo", func() (grid.Invoker, error) {
		return grid.Methods{
			"Run":  func(context.Context, grid.Arguments) error { return nil },
			"Fail": func(context.Context, grid.Arguments) error { return errors.New("echo failed") },
		}, nil
	})
	caps.MustRegister("samples", "Counter", func() (grid.Invoker, error) {
		n := 0
		return grid.Methods{"Add": func(context.Context, grid.Arguments) error { n++; return nil }}, nil
	})
	return caps
}

type testGrid struct {
	broker *grid.Broker
	client *BrokerClient
	url    string
}

func startBroker(t *testing.T, opts ...grid.BrokerOption) *testGrid {
	t.Helper()
	b := grid.NewBroker(opts...)
	reg := prometheus.NewRegistry()
	require.NoError(t, b.Metrics().Register(reg))

	srv := httptest.NewServer(NewBrokerServer(b, WithGatherer(reg), WithCallbackTimeout(time.Second)).Handler())
	t.Cleanup(srv.Close)
	b.Start()
	t.Cleanup(b.Stop)
	return &testGrid{broker: b, client: NewBrokerClient(srv.URL, WithRetries(0)), url: srv.URL}
}

func startEngine(t *testing.T, id string, reporter grid.StatusReporter) (*grid.GridEngine, *httptest.Server) {
	t.Helper()
	e := grid.NewGridEngine(testCapabilities(), grid.WithEngineID(id), grid.WithReporter(reporter))
	es := NewEngineServer(e, nil)
	srv := httptest.NewServer(es.Handler())
	t.Cleanup(func() {
		srv.Close()
		es.Wait()
		_ = e.Close()
	})
	return e, srv
}

func waitCompletion(t *testing.T, cb *grid.ChannelCallback) grid.RequestHandle {
	t.Helper()
	select {
	case h := <-cb.Completions():
		return h
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for a completion callback")
	}
	return grid.RequestHandle{}
}

func TestTasksOverHTTP(t *testing.T) {
	ctx := context.Background()
	g := startBroker(t)
	_, esrv := startEngine(t, "E1", g.client)
	require.NoError(t, g.client.Register(ctx, "E1", esrv.URL))

	engines, err := g.client.Engines(ctx)
	require.NoError(t, err)
	assert.Equal(t, EnginesResponse{Total: 1, Available: 1, Engines: []string{"E1"}}, engines)

	cb := grid.NewChannelCallback(4)
	cbsrv := httptest.NewServer(CallbackHandler(cb))
	defer cbsrv.Close()

	h, err := g.client.Submit(ctx, grid.NewWorkDescriptor("T1", "samples", "Echo", "Run", grid.Arguments{"n": 1}), cbsrv.URL)
	require.NoError(t, err)
	assert.Equal(t, grid.Queued, h.Status)
	assert.Equal(t, "T1", h.TaskID)

	done := waitCompletion(t, cb)
	assert.Equal(t, grid.Finished, done.Status)
	assert.Equal(t, "E1", done.EngineID)

	status, err := g.client.TaskStatus(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, grid.Finished, status)

	collected, err := g.client.Collect(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, grid.Retrieved, collected.Status)
	assert.False(t, collected.CollectTime.IsZero())

	_, err = g.client.Collect(ctx, "T1")
	assert.ErrorIs(t, err, grid.ErrTaskNotCollectable)
	_, err = g.client.TaskHandle(ctx, "T1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)

	status, err = g.client.TaskStatus(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, grid.Faulted, status)
}

func TestFaultsAndAffinityOverHTTP(t *testing.T) {
	ctx := context.Background()
	g := startBroker(t)
	_, esrv := startEngine(t, "E1", g.client)
	require.NoError(t, g.client.Register(ctx, "E1", esrv.URL))

	cb := grid.NewChannelCallback(8)
	cbsrv := httptest.NewServer(CallbackHandler(cb))
	defer cbsrv.Close()

	_, err := g.client.Submit(ctx, grid.NewWorkDescriptor("bad", "samples", "Echo", "Fail", nil), cbsrv.URL)
	require.NoError(t, err)
	h := waitCompletion(t, cb)
	assert.Equal(t, grid.Faulted, h.Status)
	assert.Contains(t, h.Fault, "echo failed")

	ref, err := g.client.CreateObject(ctx, grid.NewWorkDescriptor("mk", "samples", "Counter", "", nil))
	require.NoError(t, err)
	assert.Equal(t, "E1", ref.EngineID)

	for _, id := range []string{"add-1", "add-2"} {
		_, err := g.client.Submit(ctx, grid.NewWorkDescriptor(id, "samples", "Counter", "Add", nil).OnObject(ref), cbsrv.URL)
		require.NoError(t, err)
	}
	for i := 0; i < 2; i++ {
		h := waitCompletion(t, cb)
		assert.Equal(t, grid.Finished, h.Status, h.Fault)
		assert.Equal(t, "E1", h.EngineID)
	}

	_, err = g.client.Submit(ctx, grid.WorkDescriptor{}, "")
	assert.ErrorIs(t, err, grid.ErrInvalidDescriptor)
	_, err = g.client.Submit(ctx, grid.NewWorkDescriptor("add-1", "samples", "Counter", "Add", nil), "")
	assert.ErrorIs(t, err, grid.ErrDuplicateTask)

	st, err := g.client.EngineStatus(ctx, "nobody")
	require.NoError(t, err)
	assert.Equal(t, grid.EngineFaulted, st)
}

func TestRegisterByIDUsesDialer(t *testing.T) {
	ctx := context.Background()

	// engines are served under /<engine id>/ on one listener
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	g := startBroker(t, grid.WithEngineDialer(NewEngineDialer(srv.URL+"/%s", WithRetries(0))))
	for _, id := range []string{"E1", "E2"} {
		_, esrv := startEngine(t, id, g.client)
		mux.Handle("/"+id+"/", http.StripPrefix("/"+id, esrv.Config.Handler))
	}

	require.NoError(t, g.client.Register(ctx, "E1", ""))
	require.NoError(t, g.client.Register(ctx, "E2", ""))
	// nothing answers for ghost, so it is not registered
	require.NoError(t, g.client.Register(ctx, "ghost", ""))

	engines, err := g.client.Engines(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"E1", "E2"}, engines.Engines)

	// the dialed clients reach the engines through the prefixed paths
	cb := grid.NewChannelCallback(1)
	cbsrv := httptest.NewServer(CallbackHandler(cb))
	defer cbsrv.Close()
	_, err = g.client.Submit(ctx, grid.NewWorkDescriptor("T1", "samples", "Echo", "Run", nil), cbsrv.URL)
	require.NoError(t, err)
	done := waitCompletion(t, cb)
	assert.Equal(t, grid.Finished, done.Status)
	assert.Contains(t, []string{"E1", "E2"}, done.EngineID)

	require.NoError(t, g.client.Unregister(ctx, "E2"))
	engines, err = g.client.Engines(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, engines.Total)
}

func TestEngineClientDoesNotRetryExecute(t *testing.T) {
	var executes, probes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/execute":
			executes.Add(1)
		case "/status":
			probes.Add(1)
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewEngineClient("E1", srv.URL, WithRetries(2))
	ctx := context.Background()

	assert.Error(t, c.ExecuteTask(ctx, grid.NewWorkDescriptor("T1", "samples", "Echo", "Run", nil)))
	assert.Equal(t, int32(1), executes.Load())

	_, err := c.Status(ctx)
	assert.Error(t, err)
	assert.Equal(t, int32(3), probes.Load(), "status is retried twice after the first 502")
}

func TestEngineClientAgainstClosedEngine(t *testing.T) {
	ctx := context.Background()
	e, esrv := startEngine(t, "E1", nil)
	c := NewEngineClient("E1", esrv.URL, WithRetries(0))

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "E1", st.EngineID)
	assert.Equal(t, grid.Idle, st.Status)

	ref, err := c.CreateObject(ctx, grid.NewWorkDescriptor("mk", "samples", "Counter", "", nil))
	require.NoError(t, err)
	st, err = c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Objects)
	require.NoError(t, c.ReleaseObject(ctx, ref.ObjectID))
	assert.ErrorIs(t, c.ReleaseObject(ctx, ref.ObjectID), grid.ErrUnknownObject)

	_, err = c.CreateObject(ctx, grid.NewWorkDescriptor("mk", "samples", "Missing", "", nil))
	assert.ErrorIs(t, err, grid.ErrUnknownCapability)

	require.NoError(t, e.Close())
	err = c.ExecuteTask(ctx, grid.NewWorkDescriptor("T1", "samples", "Echo", "Run", nil))
	assert.ErrorIs(t, err, grid.ErrEngineClosed)
}

func TestMetricsEndpoint(t *testing.T) {
	g := startBroker(t)
	_, err := g.client.Submit(context.Background(), grid.NewWorkDescriptor("T1", "samples", "Echo", "Run", nil), "")
	require.NoError(t, err)

	resp, err := http.Get(g.url + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "grid_tasks_submitted_total 1")
	assert.Contains(t, string(body), "grid_queue_depth 1")
}

func TestAPIErrorUnwrap(t *testing.T) {
	e := toAPIError(errors.Join(errors.New("context"), grid.ErrDuplicateTask))
	assert.Equal(t, http.StatusConflict, e.StatusCode)
	assert.ErrorIs(t, e, grid.ErrDuplicateTask)

	e = toAPIError(errors.New("boom"))
	assert.Equal(t, "internal", e.Code)
	assert.Nil(t, e.Unwrap())
}
