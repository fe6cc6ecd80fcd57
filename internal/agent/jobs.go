package agent

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fankaidev/agentrt/pkg/agentmodel"
)

// JobStatus is the lifecycle state of an async tool execution
// (supplemented feature, SPEC_FULL.md §4 "async tool execution as
// background jobs", grounded on the teacher's internal/jobs package).
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Job tracks one tool call running outside the turn that triggered it.
// A tool opts into this by being registered in AsyncTools; the loop then
// returns a synthesized "queued" tool-result immediately instead of
// waiting for Execute to return, and the job's eventual result is
// delivered as a follow-up message once it completes (so it surfaces on
// the next POLLING pass rather than blocking the turn).
type Job struct {
	ID         string             `json:"id"`
	ToolName   string             `json:"tool_name"`
	ToolCallID string             `json:"tool_call_id"`
	RunID      string             `json:"run_id,omitempty"`
	Status     JobStatus          `json:"status"`
	CreatedAt  time.Time          `json:"created_at"`
	StartedAt  time.Time          `json:"started_at,omitempty"`
	FinishedAt time.Time          `json:"finished_at,omitempty"`
	Result     *agentmodel.Message `json:"result,omitempty"`
	Error      string             `json:"error,omitempty"`

	cancel context.CancelFunc
}

// JobStore persists job records so a long-running tool survives a
// process restart being queried by id.
type JobStore interface {
	Create(ctx context.Context, job *Job) error
	Update(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	List(ctx context.Context, limit, offset int) ([]*Job, error)
	Cancel(ctx context.Context, id string) error
}

// MemoryJobStore is an in-process JobStore.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
	keys []string
}

// NewMemoryJobStore creates an empty store.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]*Job)}
}

func (s *MemoryJobStore) Create(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; !exists {
		s.keys = append(s.keys, job.ID)
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryJobStore) Update(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryJobStore) Get(ctx context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	return cloneJob(job), nil
}

func (s *MemoryJobStore) List(ctx context.Context, limit, offset int) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if offset < 0 {
		offset = 0
	}
	if offset >= len(s.keys) {
		return nil, nil
	}
	end := len(s.keys)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]*Job, 0, end-offset)
	for _, id := range s.keys[offset:end] {
		if job, ok := s.jobs[id]; ok {
			out = append(out, cloneJob(job))
		}
	}
	return out, nil
}

func (s *MemoryJobStore) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil
	}
	if job.Status == JobQueued || job.Status == JobRunning {
		if job.cancel != nil {
			job.cancel()
		}
		job.Status = JobFailed
		job.Error = "job cancelled"
		job.FinishedAt = time.Now()
	}
	return nil
}

func cloneJob(job *Job) *Job {
	if job == nil {
		return nil
	}
	clone := *job
	if job.Result != nil {
		result := *job.Result
		clone.Result = &result
	}
	return &clone
}

// JobRunner launches async tool executions and delivers their result
// onto a SteeringQueue as a follow-up message once they finish.
type JobRunner struct {
	store    JobStore
	registry *ToolRegistry
	queue    *SteeringQueue
}

// NewJobRunner builds a runner over store (nil means jobs aren't
// tracked, only run), registry and the queue results are delivered to.
func NewJobRunner(store JobStore, registry *ToolRegistry, queue *SteeringQueue) *JobRunner {
	return &JobRunner{store: store, registry: registry, queue: queue}
}

// Start launches call in the background and returns immediately with a
// queued tool-result message the loop can append in place of a blocking
// execution.
func (r *JobRunner) Start(ctx context.Context, runID string, call agentmodel.ContentBlock) agentmodel.Message {
	jobID := uuid.NewString()
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	job := &Job{
		ID:         jobID,
		ToolName:   call.ToolName,
		ToolCallID: call.ToolCallID,
		RunID:      runID,
		Status:     JobQueued,
		CreatedAt:  time.Now(),
		cancel:     cancel,
	}
	if r.store != nil {
		r.store.Create(ctx, job)
	}

	go r.run(jobCtx, job, call)

	return agentmodel.NewToolResultMessage(uuid.NewString(), call.ToolCallID, call.ToolName,
		[]agentmodel.ContentBlock{agentmodel.NewTextBlock("queued as background job " + jobID)}, false, nil)
}

func (r *JobRunner) run(ctx context.Context, job *Job, call agentmodel.ContentBlock) {
	defer func() { recover() }() // a panicking tool must not take the runner down with it

	job.Status = JobRunning
	job.StartedAt = time.Now()
	if r.store != nil {
		r.store.Update(ctx, job)
	}

	desc, ok := r.registry.Get(call.ToolName)
	var resultMsg agentmodel.Message
	if !ok {
		resultMsg = agentmodel.NewToolResultMessage(uuid.NewString(), call.ToolCallID, call.ToolName,
			[]agentmodel.ContentBlock{agentmodel.NewTextBlock("tool not found: " + call.ToolName)}, true, nil)
	} else {
		result, err := desc.Execute(ctx, call.ToolCallID, call.ToolArgs, nil)
		if err != nil {
			resultMsg = agentmodel.NewToolResultMessage(uuid.NewString(), call.ToolCallID, call.ToolName,
				[]agentmodel.ContentBlock{agentmodel.NewTextBlock(err.Error())}, true, nil)
		} else {
			resultMsg = agentmodel.NewToolResultMessage(uuid.NewString(), call.ToolCallID, call.ToolName,
				result.Content, false, result.Details)
		}
	}

	job.FinishedAt = time.Now()
	job.Result = &resultMsg
	if resultMsg.IsError {
		job.Status = JobFailed
		job.Error = resultMsg.Content[0].Text
	} else {
		job.Status = JobSucceeded
	}
	if r.store != nil {
		r.store.Update(ctx, job)
	}

	if r.queue != nil {
		r.queue.FollowUp(FollowUpMessage{Content: resultMsg.Content})
	}
}
