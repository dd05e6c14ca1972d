package worker

import (
	"context"
	"errors"
	"sync/atomic"

	"medihelp/internal/models"
)

// JobType selects what a worker does with a job.
type JobType int

const (
	Stop JobType = iota
	Extract
	Chat
)

func (t JobType) String() string {
	switch t {
	case Extract:
		return "extract"
	case Chat:
		return "chat"
	default:
		return "stop"
	}
}

var errJobCancelled = errors.New("job cancelled")

// Job is the unit handed from the dispatcher to a worker. Key groups jobs of
// one client session for fair scheduling.
type Job struct {
	Type JobType
	Key  string

	extract *extractTask
	chat    *chatTask
}

// ExtractRequest asks for the report text of an uploaded file.
type ExtractRequest struct {
	Context    context.Context
	SessionKey string
	MimeType   string
	Data       []byte
}

// ChatRequest asks for one streamed assistant turn. ChunkFn is called from a
// worker goroutine; Chat does not return before the last call.
type ChatRequest struct {
	Context    context.Context
	SessionKey string
	Messages   []models.Message
	ReportData string
	ChunkFn    func(string) error
}

const (
	taskPending int32 = iota
	taskRunning
	taskDropped
)

// taskState decides, exactly once, whether a task runs or is dropped.
type taskState struct {
	state atomic.Int32
}

func (s *taskState) start() bool { return s.state.CompareAndSwap(taskPending, taskRunning) }
func (s *taskState) drop() bool  { return s.state.CompareAndSwap(taskPending, taskDropped) }

type extractResult struct {
	text string
	err  error
}

type extractTask struct {
	taskState
	req      ExtractRequest
	resultCh chan extractResult
}

type chatTask struct {
	taskState
	req      ChatRequest
	resultCh chan error
}

// abandon fails a job that never reached a worker.
func (j Job) abandon(err error) {
	switch {
	case j.extract != nil:
		if j.extract.drop() {
			j.extract.resultCh <- extractResult{err: err}
		}
	case j.chat != nil:
		if j.chat.drop() {
			j.chat.resultCh <- err
		}
	}
}
