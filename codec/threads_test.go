package codec

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodingThreadsOverride(t *testing.T) {
	require.Equal(t, 4, DecodingThreads(4))
	require.Equal(t, 1, DecodingThreads(1))
}

func TestDecodingThreadsDefault(t *testing.T) {
	n := DecodingThreads(0)
	require.GreaterOrEqual(t, n, 1)
	require.LessOrEqual(t, n, MaxDecodingThreads)
	if runtime.NumCPU() <= MaxDecodingThreads {
		require.Equal(t, runtime.NumCPU(), n)
	}
}
