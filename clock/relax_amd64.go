//go:build amd64 && !noasm

// relax_amd64.go
//
// Go declaration for cpuRelax on amd64. The body lives in relax_amd64.s and
// emits a single PAUSE so busy-wait loops back off politely in userspace.

package clock

// cpuRelax executes the x86_64 PAUSE instruction.
//
//go:noescape
func cpuRelax()
