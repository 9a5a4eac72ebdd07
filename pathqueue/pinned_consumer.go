// pinned_consumer.go
//
// Dedicated drain loop for one PathQueue.
//
//   • Runs on a locked OS thread, optionally pinned to `core`.
//   • Hot-spin (no relax) while the flags are hot or a packet arrived
//     within HotTimeout.
//   • Cold-spin with a CPU relax per miss; after SpinBudget misses, and
//     only once the queue lowered its non-empty signal, parks on the
//     notifier channel with a HotTimeout ceiling.
//   • Exits when flags.Stopping() and closes `done` exactly once.
//
// The consumer is the queue's single dequeuer; nothing else may call
// Dequeue while it runs.

package pathqueue

import (
	"runtime"
	"time"

	"hybridsched/clock"
	"hybridsched/constants"
	"hybridsched/control"
	"hybridsched/debug"
	"hybridsched/packet"
)

// PinnedConsumer drains q into fn until flags request shutdown.
func PinnedConsumer(
	core int,
	q *Queue,
	flags *control.Flags,
	fn func(*packet.Packet),
	done chan<- struct{},
) {
	go func() {
		runtime.LockOSThread()
		if err := control.PinThread(core); err != nil {
			debug.DropError(q.name, err)
		}
		defer func() {
			runtime.UnlockOSThread()
			close(done)
		}()

		park := time.NewTimer(constants.HotTimeout)
		park.Stop()
		defer park.Stop()

		last := time.Now()
		miss := 0
		for {
			if p := q.Dequeue(); p != nil {
				fn(p)
				last, miss = time.Now(), 0
				continue
			}
			if flags.Stopping() {
				return
			}
			if time.Since(last) <= constants.HotTimeout {
				continue
			}
			if flags.PollCooldown(); flags.Hot() {
				continue
			}

			if miss++; miss >= constants.SpinBudget && !q.nonEmpty.Active() {
				miss = 0
				park.Reset(constants.HotTimeout)
				select {
				case <-q.nonEmpty.C():
				case <-park.C:
				}
				park.Stop()
				continue
			}
			clock.Pause()
		}
	}()
}
