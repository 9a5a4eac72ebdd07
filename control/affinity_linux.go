//go:build linux

// affinity_linux.go
//
// Pins the calling OS thread to one logical CPU with sched_setaffinity(2).
// Callers must hold the thread with runtime.LockOSThread first.

package control

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// PinThread binds the current thread to cpu. A negative cpu is a no-op; a
// cpu beyond the mask yields an empty set, which the kernel rejects.
func PinThread(cpu int) error {
	if cpu < 0 {
		return nil
	}
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("control: pin to cpu %d: %w", cpu, err)
	}
	return nil
}
