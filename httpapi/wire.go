// Package httpapi carries the broker and engine operations over HTTP.
//
// The broker serves submitters and engines; each engine serves the broker. Bodies are JSON.
package httpapi

import (
	"io"
	"net/http"

	jsoniter "github.com/json-iterator/go"
	grid "github.com/seoyhaein/grid-go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type SubmitRequest struct {
	Descriptor grid.WorkDescriptor `json:"descriptor"`
	// CallbackURL receives the completed handle as a POST, once.
	CallbackURL string `json:"callback_url,omitempty"`
}

type ObjectRequest struct {
	Descriptor grid.WorkDescriptor `json:"descriptor"`
}

type TaskStatusResponse struct {
	TaskID string          `json:"task_id"`
	Status grid.TaskStatus `json:"status"`
}

type EngineStatusResponse struct {
	EngineID string            `json:"engine_id"`
	Status   grid.EngineStatus `json:"status"`
	Objects  int               `json:"objects,omitempty"`
}

type EnginesResponse struct {
	Total     int      `json:"total"`
	Available int      `json:"available"`
	Engines   []string `json:"engines"`
}

// RegisterRequest registers an engine. Without Address the broker derives it from the engine id.
type RegisterRequest struct {
	EngineID string `json:"engine_id"`
	Address  string `json:"address,omitempty"`
}

type StatusUpdate struct {
	Status grid.EngineStatus `json:"status"`
}

type FaultReport struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason"`
}

func readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

const maxBody = 4 << 20
