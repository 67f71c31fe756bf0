package eventlog

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmitAndRecentPreservesOrder(t *testing.T) {
	l := New()
	l.Emit("scheduler", "first")
	l.Emit("scheduler", "second")
	l.Emit("worktree", "third")

	events := l.Recent()
	require.Len(t, events, 3)
	require.Equal(t, "first", events[0].Message)
	require.Equal(t, "third", events[2].Message)
	require.Equal(t, "worktree", events[2].Source)
}

func TestEmitEvictsOldestOnceFull(t *testing.T) {
	l := New()
	for i := 0; i < Capacity+10; i++ {
		l.Emit("scheduler", fmt.Sprintf("event-%d", i))
	}

	events := l.Recent()
	require.Len(t, events, Capacity)
	require.Equal(t, "event-10", events[0].Message, "the ring should have evicted the first 10 events")
	require.Equal(t, fmt.Sprintf("event-%d", Capacity+9), events[Capacity-1].Message)
}
