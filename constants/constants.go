// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: constants.go — Fabric tunables & executor defaults
//
// Purpose:
//   - Defines the default VOQ sizing pair, marking thresholds and lookahead.
//   - Holds PathQueue notification and accounting constants.
//
// Notes:
//   - Defaults mirror a 20x time-dilated testbed: 16/128 packet VOQs,
//     a 12 ms lookahead horizon.
//   - Values are compile-time only; runtime overrides go through config/.
//
// ⚠️ No runtime logic here. All values must be compile-time resolvable
// ─────────────────────────────────────────────────────────────────────────────

package constants

import "time"

// ───────────────────────────── VOQ Sizing ──────────────────────────────

const (
	// DefaultSmallCapacity is the VOQ capacity (packets) for pairs with no
	// circuit inside the horizon.
	DefaultSmallCapacity = 16

	// DefaultBigCapacity is the VOQ capacity for pairs about to receive or
	// currently holding a circuit.
	DefaultBigCapacity = 128

	// DefaultSmallThreshold and DefaultBigThreshold are the matching marking
	// thresholds. Equal by default so resizing only changes capacity.
	DefaultSmallThreshold = 1000
	DefaultBigThreshold   = 1000

	// DefaultQueueCapacity is the capacity a PathQueue starts with before the
	// executor takes over.
	DefaultQueueCapacity = 1000

	// DefaultMarkingThreshold is the starting per-queue marking threshold.
	DefaultMarkingThreshold = 40

	// MaxQueueCapacity bounds a single resize request. Larger requests are
	// rejected instead of attempting the allocation.
	MaxQueueCapacity = 1 << 24
)

// ─────────────────────────── Lookahead Horizon ─────────────────────────────

const (
	// DefaultInAdvanceUs is the lookahead horizon in microseconds.
	DefaultInAdvanceUs = 12000

	// StatusEveryPasses controls how often the executor logs its state.
	StatusEveryPasses = 99
)

// ───────────────────────── Topology Limits ─────────────────────────

const (
	// MaxHosts is the largest host count accepted. The congestion map wire
	// format uses one decimal digit per 1-based index.
	MaxHosts = 9
)

// ────────────────────── Notification & Accounting ───────────────────────

const (
	// SleepinessTrigger is the number of consecutive empty dequeues before
	// the non-empty notifier is lowered.
	SleepinessTrigger = 9

	// AduDedupWindow is how long a (flow, seq) stays a retransmission.
	AduDedupWindow = time.Second

	// SpinBudget is the number of cold polls before a parked consumer blocks
	// on its notifier.
	SpinBudget = 256

	// HotTimeout keeps a drain consumer in tight spin after its last item.
	HotTimeout = 50 * time.Millisecond

	// ActivityCooldown clears the hot flag after this much producer silence.
	ActivityCooldown = time.Second
)

// ───────────────────────── Journal ─────────────────────────

const (
	// JournalBuffer is the number of circuit events queued for the SQLite
	// writer before new events are dropped.
	JournalBuffer = 4096
)
