package reactorcore

import "runtime"

// currentGoroutineID parses the running goroutine's numeric ID out of its
// own stack trace header ("goroutine 123 [running]:..."). This is the same
// trick used elsewhere in this lineage to implement thread-affinity checks
// without cgo or a per-goroutine registration call.
func currentGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
