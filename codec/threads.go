package codec

import (
	"runtime"
)

// MaxDecodingThreads caps the decoding worker count; more workers stop
// helping well before this point and each one deepens the reorder delay.
const MaxDecodingThreads = 16

// DecodingThreads returns the number of decoding workers to use: the
// override when positive, otherwise one per available CPU capped at
// MaxDecodingThreads.
func DecodingThreads(override int) int {
	if override > 0 {
		return override
	}
	n := runtime.NumCPU()
	if n < 1 {
		n = 1
	}
	if n > MaxDecodingThreads {
		n = MaxDecodingThreads
	}
	return n
}
