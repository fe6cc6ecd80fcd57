// Package agent implements the Agent Loop (C6), the Tool Registry and
// Executor (C3), and the Event Stream (C1) of the agent runtime.
package agent

import (
	"sync"

	"github.com/fankaidev/agentrt/pkg/agentmodel"
)

// SteeringMessage is a high-priority interjection queued while a turn is
// streaming (spec §4.6, GLOSSARY "Steering"). Delivered ahead of the
// follow-up queue during POLLING.
type SteeringMessage struct {
	Content []agentmodel.ContentBlock

	// Priority affects ordering when multiple steering messages queue
	// within the same drain (higher = first).
	Priority int

	// SkipRemainingTools is carried with the message but not read by the
	// loop: a queued steering message never cancels or skips tool calls
	// of the current turn that are already dispatched.
	SkipRemainingTools bool
}

// FollowUpMessage is a lower-priority queued message processed only
// after the steering queue is drained (spec §4.6, GLOSSARY "Follow-up").
type FollowUpMessage struct {
	Content []agentmodel.ContentBlock
}

// SteeringMode controls how many steering messages are dispatched per
// POLLING pass: all of them, or exactly one.
type SteeringMode string

const (
	SteeringModeOneAtATime SteeringMode = "one-at-a-time"
	SteeringModeAll        SteeringMode = "all"
)

// FollowUpMode is the follow-up queue's equivalent of SteeringMode.
type FollowUpMode string

const (
	FollowUpModeOneAtATime FollowUpMode = "one-at-a-time"
	FollowUpModeAll        FollowUpMode = "all"
)

// SteeringQueue holds the two interjection queues consulted during
// POLLING (spec §4.6). Safe for concurrent use: Steer/FollowUp are
// typically called from a different goroutine than the one driving the
// loop, while streaming is in flight.
type SteeringQueue struct {
	mu sync.Mutex

	steering []SteeringMessage
	followUp []FollowUpMessage

	steeringMode SteeringMode
	followUpMode FollowUpMode
}

// NewSteeringQueue creates a queue with both modes defaulted to
// one-at-a-time.
func NewSteeringQueue() *SteeringQueue {
	return &SteeringQueue{
		steeringMode: SteeringModeOneAtATime,
		followUpMode: FollowUpModeOneAtATime,
	}
}

// SetSteeringMode configures the steering queue's per-poll dispatch mode.
func (q *SteeringQueue) SetSteeringMode(mode SteeringMode) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.steeringMode = mode
}

// SetFollowUpMode configures the follow-up queue's per-poll dispatch mode.
func (q *SteeringQueue) SetFollowUpMode(mode FollowUpMode) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.followUpMode = mode
}

// Steer enqueues a steering interjection.
func (q *SteeringQueue) Steer(msg SteeringMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := len(q.steering)
	for i > 0 && q.steering[i-1].Priority < msg.Priority {
		i--
	}
	q.steering = append(q.steering, SteeringMessage{})
	copy(q.steering[i+1:], q.steering[i:])
	q.steering[i] = msg
}

// SteerText enqueues a plain-text steering interjection.
func (q *SteeringQueue) SteerText(text string) {
	q.Steer(SteeringMessage{Content: []agentmodel.ContentBlock{agentmodel.NewTextBlock(text)}})
}

// FollowUp enqueues a follow-up message.
func (q *SteeringQueue) FollowUp(msg FollowUpMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.followUp = append(q.followUp, msg)
}

// FollowUpText enqueues a plain-text follow-up message.
func (q *SteeringQueue) FollowUpText(text string) {
	q.FollowUp(FollowUpMessage{Content: []agentmodel.ContentBlock{agentmodel.NewTextBlock(text)}})
}

// DrainSteering pops the queued steering messages per the configured
// mode: all of them, or just the head.
func (q *SteeringQueue) DrainSteering() []SteeringMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.steering) == 0 {
		return nil
	}
	if q.steeringMode == SteeringModeAll {
		msgs := q.steering
		q.steering = nil
		return msgs
	}
	msg := q.steering[0]
	q.steering = q.steering[1:]
	return []SteeringMessage{msg}
}

// DrainFollowUp pops the queued follow-up messages per the configured
// mode.
func (q *SteeringQueue) DrainFollowUp() []FollowUpMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.followUp) == 0 {
		return nil
	}
	if q.followUpMode == FollowUpModeAll {
		msgs := q.followUp
		q.followUp = nil
		return msgs
	}
	msg := q.followUp[0]
	q.followUp = q.followUp[1:]
	return []FollowUpMessage{msg}
}

// HasSteering reports whether any steering messages are queued.
func (q *SteeringQueue) HasSteering() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.steering) > 0
}

// HasFollowUp reports whether any follow-up messages are queued.
func (q *SteeringQueue) HasFollowUp() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.followUp) > 0
}

// Clear empties both queues.
func (q *SteeringQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.steering = nil
	q.followUp = nil
}
