package plugraph

import (
	"bytes"
	"runtime"
	"strconv"
)

var goroutinePrefix = []byte("goroutine ")

// goroutineID returns the id of the calling goroutine, parsed from the header
// of its stack trace ("goroutine 42 [running]:"). It returns 0 if the header
// cannot be parsed.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)

	b := bytes.TrimPrefix(buf[:n], goroutinePrefix)
	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}

	id, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return 0
	}

	return id
}
