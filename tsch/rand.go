package tsch

import "math/rand"

// defaultRandByte mirrors the teacher's xmit.go backoff draw
// (`rand.Int() & 0xff`) used to pick a persistence/backoff value.
func defaultRandByte() byte {
	return byte(rand.Int() & 0xff)
}
