package httpapi

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/dimfeld/httptreemux/v5"
	"github.com/dlsniper/debugger"
	grid "github.com/seoyhaein/grid-go"
	"github.com/sirupsen/logrus"
)

// EngineServer exposes a grid.GridEngine to the broker.
// POST /execute returns 202 as soon as the task is started; the outcome travels back
// through the engine's StatusReporter.
type EngineServer struct {
	engine *grid.GridEngine
	mux    *httptreemux.ContextMux
	log    logrus.FieldLogger

	running sync.WaitGroup
}

func NewEngineServer(e *grid.GridEngine, log logrus.FieldLogger) *EngineServer {
	if log == nil {
		log = grid.Log
	}
	s := &EngineServer{
		engine: e,
		mux:    httptreemux.NewContextMux(),
		log:    log.WithField("engine_id", e.ID()),
	}
	// route on URL.Path so the server also works mounted under a prefix by http.StripPrefix
	s.mux.PathSource = httptreemux.URLPath
	s.mux.POST("/execute", s.execute)
	s.mux.POST("/objects", s.createObject)
	s.mux.DELETE("/objects/:id", s.releaseObject)
	s.mux.GET("/status", s.status)
	return s
}

func (s *EngineServer) Handler() http.Handler { return s.mux }

// Wait blocks until every task started through this server has returned.
func (s *EngineServer) Wait() {
	s.running.Wait()
}

func (s *EngineServer) execute(w http.ResponseWriter, r *http.Request) {
	var d grid.WorkDescriptor
	if err := readJSON(r, &d); err != nil {
		writeError(w, badRequest(err))
		return
	}
	if s.engine.Closed() {
		writeError(w, grid.ErrEngineClosed)
		return
	}

	s.running.Add(1)
	go func() {
		defer s.running.Done()
		debugger.SetLabels(func() []string {
			return []string{"grid", "execute", "engine_id", s.engine.ID(), "task_id", d.ID}
		})
		if err := s.engine.ExecuteTask(context.Background(), d); err != nil {
			s.log.WithField("task_id", d.ID).WithError(err).Error("task not executed")
		}
	}()
	w.WriteHeader(http.StatusAccepted)
}

func (s *EngineServer) createObject(w http.ResponseWriter, r *http.Request) {
	var req ObjectRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, badRequest(err))
		return
	}
	ref, err := s.engine.CreateObject(r.Context(), req.Descriptor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ref)
}

func (s *EngineServer) releaseObject(w http.ResponseWriter, r *http.Request) {
	err := s.engine.ReleaseObject(param(r, "id"))
	if err != nil && !errors.Is(err, grid.ErrUnknownObject) {
		s.log.WithError(err).Warn("object released with error")
	} else if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *EngineServer) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, EngineStatusResponse{
		EngineID: s.engine.ID(),
		Status:   s.engine.Status(),
		Objects:  len(s.engine.Objects()),
	})
}
