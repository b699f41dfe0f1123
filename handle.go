package grid_go

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// RequestHandle is the caller-visible tracking record for one submitted descriptor.
// Zero timestamps mean "unset". The broker owns the live record and only hands out copies.
type RequestHandle struct {
	Handle      string     `json:"handle"`
	TaskID      string     `json:"task_id"`
	SubmitTime  time.Time  `json:"submit_time"`
	PauseTime   time.Time  `json:"pause_time"`
	FinishTime  time.Time  `json:"finish_time"`
	CollectTime time.Time  `json:"collect_time"`
	Status      TaskStatus `json:"status"`
	EngineID    string     `json:"engine_id,omitempty"`
	// Fault is set when the handle ended Faulted.
	Fault string `json:"fault,omitempty"`
}

// Assigned reports whether the handle has been dispatched to an engine.
func (h RequestHandle) Assigned() bool {
	return h.EngineID != ""
}

func newRequestHandle(taskID string) *RequestHandle {
	return &RequestHandle{
		Handle: newHandleID(),
		TaskID: taskID,
		Status: Queued,
	}
}

func hostName() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "localhost"
	}
	return h
}

func newHandleID() string {
	return fmt.Sprintf("%s-%s-%s", handlePrefix, hostName(), uuid.NewString())
}

// NewEngineID returns an engine id of the form Engine_<host>_<uuid>.
func NewEngineID() string {
	return fmt.Sprintf("%s_%s_%s", enginePrefix, hostName(), uuid.NewString())
}

func newObjectID(engineID string) string {
	return fmt.Sprintf("%s_%s_%s", objectPrefix, engineID, uuid.NewString())
}
