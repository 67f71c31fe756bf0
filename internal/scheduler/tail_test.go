package scheduler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTailOutputCapsLineCount(t *testing.T) {
	var lines []string
	for i := 0; i < 100; i++ {
		lines = append(lines, "line")
	}
	output := strings.Join(lines, "\n")

	tail := tailOutput(output, 50, 6000)
	require.Equal(t, 50, strings.Count(tail, "\n")+1)
}

func TestTailOutputCapsCharCount(t *testing.T) {
	output := strings.Repeat("x", 10000)
	tail := tailOutput(output, 50, 6000)
	require.Len(t, tail, 6000)
}

func TestTailOutputShorterThanCapsIsUnchanged(t *testing.T) {
	output := "line one\nline two"
	require.Equal(t, output, tailOutput(output, 50, 6000))
}
