package agent

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSteeringQueue_OneAtATimeIsTheDefault(t *testing.T) {
	q := NewSteeringQueue()
	q.SteerText("first")
	q.SteerText("second")

	require.True(t, q.HasSteering())
	drained := q.DrainSteering()
	require.Len(t, drained, 1)
	require.Equal(t, "first", drained[0].Content[0].Text)
	require.True(t, q.HasSteering(), "a second message remains queued in one-at-a-time mode")

	drained = q.DrainSteering()
	require.Len(t, drained, 1)
	require.Equal(t, "second", drained[0].Content[0].Text)
	require.False(t, q.HasSteering())
}

func TestSteeringQueue_AllModeDrainsEverythingAtOnce(t *testing.T) {
	q := NewSteeringQueue()
	q.SetSteeringMode(SteeringModeAll)
	q.SteerText("a")
	q.SteerText("b")
	q.SteerText("c")

	drained := q.DrainSteering()
	require.Len(t, drained, 3)
	require.False(t, q.HasSteering())
}

func TestSteeringQueue_FollowUpIndependentOfSteering(t *testing.T) {
	q := NewSteeringQueue()
	q.FollowUpText("later")
	require.False(t, q.HasSteering())
	require.True(t, q.HasFollowUp())

	drained := q.DrainFollowUp()
	require.Len(t, drained, 1)
	require.False(t, q.HasFollowUp())
}

func TestSteeringQueue_DrainOnEmptyReturnsNil(t *testing.T) {
	q := NewSteeringQueue()
	require.Nil(t, q.DrainSteering())
	require.Nil(t, q.DrainFollowUp())
}

func TestSteeringQueue_Clear(t *testing.T) {
	q := NewSteeringQueue()
	q.SteerText("x")
	q.FollowUpText("y")
	q.Clear()
	require.False(t, q.HasSteering())
	require.False(t, q.HasFollowUp())
}
