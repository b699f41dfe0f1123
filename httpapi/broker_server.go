package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/dimfeld/httptreemux/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	grid "github.com/seoyhaein/grid-go"
	"github.com/seoyhaein/utils"
	"github.com/sirupsen/logrus"
)

type BrokerServerOption func(*BrokerServer)

// WithGatherer serves g on GET /metrics.
func WithGatherer(g prometheus.Gatherer) BrokerServerOption {
	return func(s *BrokerServer) { s.gatherer = g }
}

func WithServerLogger(l logrus.FieldLogger) BrokerServerOption {
	return func(s *BrokerServer) { s.log = l }
}

// WithCallbackTimeout bounds each completion POST to a submitter.
func WithCallbackTimeout(d time.Duration) BrokerServerOption {
	return func(s *BrokerServer) { s.callbackTimeout = d }
}

// WithEngineClientOptions applies to the EngineClient built for engines registering with an address.
func WithEngineClientOptions(opts ...ClientOption) BrokerServerOption {
	return func(s *BrokerServer) { s.engineOpts = opts }
}

// BrokerServer exposes a grid.Broker over HTTP.
type BrokerServer struct {
	broker          *grid.Broker
	mux             *httptreemux.ContextMux
	gatherer        prometheus.Gatherer
	callbackTimeout time.Duration
	engineOpts      []ClientOption
	log             logrus.FieldLogger
}

func NewBrokerServer(b *grid.Broker, opts ...BrokerServerOption) *BrokerServer {
	s := &BrokerServer{
		broker:          b,
		mux:             httptreemux.NewContextMux(),
		callbackTimeout: DefaultTimeout,
		log:             grid.Log,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *BrokerServer) Handler() http.Handler { return s.mux }

func (s *BrokerServer) routes() {
	s.mux.POST("/tasks", s.submit)
	s.mux.GET("/tasks/:id", s.taskStatus)
	s.mux.GET("/tasks/:id/handle", s.taskHandle)
	s.mux.POST("/tasks/:id/collect", s.collect)

	s.mux.POST("/objects", s.createObject)

	s.mux.GET("/engines", s.engines)
	s.mux.POST("/engines", s.register)
	s.mux.GET("/engines/:id", s.engineStatus)
	s.mux.DELETE("/engines/:id", s.unregister)
	s.mux.PUT("/engines/:id/status", s.updateStatus)
	s.mux.POST("/engines/:id/faults", s.reportFault)

	if s.gatherer != nil {
		s.mux.Handler(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

func param(r *http.Request, name string) string {
	return httptreemux.ContextParams(r.Context())[name]
}

func (s *BrokerServer) submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, badRequest(err))
		return
	}
	var cb grid.CompletionCallback
	if !utils.IsEmptyString(req.CallbackURL) {
		cb = NewCallbackNotifier(req.CallbackURL, s.callbackTimeout, WithClientLogger(s.log))
	}
	h, err := s.broker.ExecuteTask(req.Descriptor, cb)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, h)
}

func (s *BrokerServer) taskStatus(w http.ResponseWriter, r *http.Request) {
	id := param(r, "id")
	writeJSON(w, http.StatusOK, TaskStatusResponse{TaskID: id, Status: s.broker.GetTaskStatus(id)})
}

func (s *BrokerServer) taskHandle(w http.ResponseWriter, r *http.Request) {
	id := param(r, "id")
	h, ok := s.broker.TaskHandle(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, &APIError{Code: "unknown_task", Message: fmt.Sprintf("unknown task %s", id)})
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *BrokerServer) collect(w http.ResponseWriter, r *http.Request) {
	h, err := s.broker.CollectTask(param(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *BrokerServer) createObject(w http.ResponseWriter, r *http.Request) {
	var req ObjectRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, badRequest(err))
		return
	}
	ref, err := s.broker.CreateObject(r.Context(), req.Descriptor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ref)
}

func (s *BrokerServer) engines(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, EnginesResponse{
		Total:     s.broker.TotalEngines(),
		Available: s.broker.AvailableEngines(),
		Engines:   s.broker.RegisteredEngines(),
	})
}

// register never reports a failed registration back; it is logged by the broker.
func (s *BrokerServer) register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, badRequest(err))
		return
	}
	if utils.IsEmptyString(req.EngineID) {
		writeError(w, badRequest(fmt.Errorf("engine_id is required")))
		return
	}
	if req.Address != "" {
		opts := append([]ClientOption{WithClientLogger(s.log)}, s.engineOpts...)
		s.broker.RegisterEngine(NewEngineClient(req.EngineID, req.Address, opts...))
	} else {
		s.broker.RegisterEngineID(r.Context(), req.EngineID)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *BrokerServer) engineStatus(w http.ResponseWriter, r *http.Request) {
	id := param(r, "id")
	writeJSON(w, http.StatusOK, EngineStatusResponse{EngineID: id, Status: s.broker.GetEngineStatus(id)})
}

func (s *BrokerServer) unregister(w http.ResponseWriter, r *http.Request) {
	s.broker.UnregisterEngine(param(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *BrokerServer) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusUpdate
	if err := readJSON(r, &req); err != nil {
		writeError(w, badRequest(err))
		return
	}
	s.broker.UpdateEngineStatus(param(r, "id"), req.Status)
	w.WriteHeader(http.StatusNoContent)
}

func (s *BrokerServer) reportFault(w http.ResponseWriter, r *http.Request) {
	var req FaultReport
	if err := readJSON(r, &req); err != nil {
		writeError(w, badRequest(err))
		return
	}
	s.broker.ReportTaskFault(param(r, "id"), req.TaskID, req.Reason)
	w.WriteHeader(http.StatusNoContent)
}
