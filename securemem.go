package main

// wipeBytes best-effort zeroes a byte slice.
// This is not a guarantee in Go (copies may exist), but it reduces exposure windows.
func wipeBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

