package domain

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

type TaskType int

const (
	TaskCloseProblem        TaskType = 1
	TaskRemoteCommand       TaskType = 2
	TaskRemoteCommandResult TaskType = 3
	TaskAcknowledge         TaskType = 4
)

func (t TaskType) String() string {
	switch t {
	case TaskCloseProblem:
		return "close_problem"
	case TaskRemoteCommand:
		return "remote_command"
	case TaskRemoteCommandResult:
		return "remote_command_result"
	case TaskAcknowledge:
		return "acknowledge"
	}
	return fmt.Sprintf("unknown(%d)", int(t))
}

// ParseTaskType accepts the names returned by TaskType.String.
func ParseTaskType(s string) (TaskType, error) {
	for _, t := range []TaskType{TaskCloseProblem, TaskRemoteCommand, TaskRemoteCommandResult, TaskAcknowledge} {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownTaskType, s)
}

type TaskStatus int

const (
	StatusNew        TaskStatus = 1
	StatusInProgress TaskStatus = 2
	StatusDone       TaskStatus = 3
	StatusExpired    TaskStatus = 4
)

func (s TaskStatus) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusInProgress:
		return "in_progress"
	case StatusDone:
		return "done"
	case StatusExpired:
		return "expired"
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

func ParseTaskStatus(s string) (TaskStatus, error) {
	for _, st := range []TaskStatus{StatusNew, StatusInProgress, StatusDone, StatusExpired} {
		if st.String() == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown task status %q", s)
}

// Terminal reports whether the status can no longer change.
func (s TaskStatus) Terminal() bool { return s == StatusDone || s == StatusExpired }

var ErrUnknownTaskType = errors.New("unknown task type")

type Task struct {
	ID     int64
	Type   TaskType
	Status TaskStatus
	Clock  int64 // creation time, unix seconds
	TTL    int   // seconds, 0 never expires
}

// Expired reports whether the task's TTL has elapsed at now (unix seconds).
func (t Task) Expired(now int64) bool {
	return t.TTL != 0 && t.Clock+int64(t.TTL) <= now
}

type CloseProblem struct {
	TriggerID int64
	EventID   int64
	UserID    int64
}

type RemoteCommand struct {
	AlertID *int64
}

const (
	RemoteCommandCompleted = 0
	RemoteCommandFailed    = -1
)

type RemoteCommandResult struct {
	Status       int
	Info         string
	ParentTaskID int64
}

type Acknowledge struct {
	AcknowledgeID int64
}

// AckRef is one entry of an acknowledgement batch.
type AckRef struct {
	EventID       int64
	AcknowledgeID int64
	TaskID        int64
}

type AlertStatus int

const (
	AlertNotSent AlertStatus = 0
	AlertSent    AlertStatus = 1
	AlertFailed  AlertStatus = 2
	AlertNew     AlertStatus = 3
)

// AlertErrorLen is the width of the alerts.error column, in characters.
const AlertErrorLen = 2048

// TruncateField cuts s to at most n characters without splitting a UTF-8 sequence.
func TruncateField(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i, count := 0, 0
	for i < len(s) && count < n {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
		count++
	}
	return s[:i]
}
