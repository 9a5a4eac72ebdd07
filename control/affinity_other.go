//go:build !linux

// affinity_other.go
//
// Thread pinning is unavailable off Linux; goroutines still lock their OS
// thread but float across CPUs.

package control

// PinThread is a no-op on this platform.
func PinThread(cpu int) error {
	return nil
}
