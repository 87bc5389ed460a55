package domain

import "fmt"

// Job is the dispatchable form of a pending task. The set of implementations is
// closed: only this package can add one.
type Job interface {
	TaskID() int64
	job()
}

type CloseProblemJob struct{ ID int64 }

type RemoteCommandJob struct {
	ID    int64
	Clock int64
	TTL   int
}

type RemoteCommandResultJob struct{ ID int64 }

type AcknowledgeJob struct{ ID int64 }

func (j CloseProblemJob) TaskID() int64        { return j.ID }
func (j RemoteCommandJob) TaskID() int64       { return j.ID }
func (j RemoteCommandResultJob) TaskID() int64 { return j.ID }
func (j AcknowledgeJob) TaskID() int64         { return j.ID }

func (CloseProblemJob) job()        {}
func (RemoteCommandJob) job()       {}
func (RemoteCommandResultJob) job() {}
func (AcknowledgeJob) job()         {}

// NewJob converts a task row into its job. Rows with a type this build does not
// know about return ErrUnknownTaskType.
func NewJob(t Task) (Job, error) {
	switch t.Type {
	case TaskCloseProblem:
		return CloseProblemJob{ID: t.ID}, nil
	case TaskRemoteCommand:
		return RemoteCommandJob{ID: t.ID, Clock: t.Clock, TTL: t.TTL}, nil
	case TaskRemoteCommandResult:
		return RemoteCommandResultJob{ID: t.ID}, nil
	case TaskAcknowledge:
		return AcknowledgeJob{ID: t.ID}, nil
	}
	return nil, fmt.Errorf("%w: task %d has type %d", ErrUnknownTaskType, t.ID, int(t.Type))
}

// NewTask describes a task to enqueue together with its type-specific payload.
// Exactly one payload field must be set, matching Type.
type NewTask struct {
	Type  TaskType
	Clock int64
	TTL   int

	CloseProblem *NewCloseProblem
	Command      *RemoteCommand
	Result       *RemoteCommandResult
	Acknowledge  *Acknowledge
}

// NewCloseProblem references the acknowledgement that asked for the close.
type NewCloseProblem struct {
	AcknowledgeID int64
}

func (n NewTask) Validate() error {
	var ok bool
	switch n.Type {
	case TaskCloseProblem:
		ok = n.CloseProblem != nil
	case TaskRemoteCommand:
		ok = n.Command != nil
	case TaskRemoteCommandResult:
		ok = n.Result != nil
	case TaskAcknowledge:
		ok = n.Acknowledge != nil
	default:
		return fmt.Errorf("%w: %d", ErrUnknownTaskType, int(n.Type))
	}
	if !ok {
		return fmt.Errorf("%s task requires a %s payload", n.Type, n.Type)
	}
	if n.TTL < 0 {
		return fmt.Errorf("ttl must not be negative")
	}
	return nil
}

// Expired reports whether the command's TTL has elapsed at now (unix seconds).
func (j RemoteCommandJob) Expired(now int64) bool {
	return Task{Clock: j.Clock, TTL: j.TTL}.Expired(now)
}
