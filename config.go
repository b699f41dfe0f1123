package grid_go

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// Log is the default logger for the broker and the engines.
var Log = logrus.New()

type (
	// TaskStatus is the lifecycle state of a submitted descriptor, carried by its RequestHandle.
	TaskStatus int

	// EngineStatus is the state an engine reports about itself.
	EngineStatus int
)

const (
	Queued TaskStatus = iota
	Executing
	// Paused is declared for compatibility with existing clients. Nothing moves a handle here yet.
	Paused
	Finished
	Retrieved
	Faulted
)

const (
	Idle EngineStatus = iota
	Busy
	EngineFaulted
)

var taskStatusNames = [...]string{"Queued", "Executing", "Paused", "Finished", "Retrieved", "Faulted"}

var engineStatusNames = [...]string{"Idle", "Busy", "Faulted"}

func (s TaskStatus) String() string {
	if s < 0 || int(s) >= len(taskStatusNames) {
		return fmt.Sprintf("TaskStatus(%d)", int(s))
	}
	return taskStatusNames[s]
}

// Terminal reports whether no further transition happens without a collect.
func (s TaskStatus) Terminal() bool {
	return s == Finished || s == Retrieved || s == Faulted
}

func (s TaskStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *TaskStatus) UnmarshalText(b []byte) error {
	for i, n := range taskStatusNames {
		if strings.EqualFold(n, string(b)) {
			*s = TaskStatus(i)
			return nil
		}
	}
	return fmt.Errorf("unknown task status %q", string(b))
}

func (s EngineStatus) String() string {
	if s < 0 || int(s) >= len(engineStatusNames) {
		return fmt.Sprintf("EngineStatus(%d)", int(s))
	}
	return engineStatusNames[s]
}

func (s EngineStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *EngineStatus) UnmarshalText(b []byte) error {
	for i, n := range engineStatusNames {
		if strings.EqualFold(n, string(b)) {
			*s = EngineStatus(i)
			return nil
		}
	}
	return fmt.Errorf("unknown engine status %q", string(b))
}

// id prefixes, kept compatible with the ids older grid clients log and parse.
const (
	handlePrefix = "TB"
	enginePrefix = "Engine"
	objectPrefix = "object"
)
