package pathqueue

import (
	"fmt"
	"strconv"
	"strings"

	"hybridsched/handler"
	"hybridsched/utils"
)

// RegisterHandlers exposes the queue's control surface as <prefix>.<name>.
func (q *Queue) RegisterHandlers(t *handler.Table, prefix string) error {
	readInt := func(f func() int) handler.ReadFunc {
		return func() (string, error) { return utils.Itoa(f()), nil }
	}
	readU64 := func(f func() uint64) handler.ReadFunc {
		return func() (string, error) { return strconv.FormatUint(f(), 10), nil }
	}
	writeInt := func(f func(int) error) handler.WriteFunc {
		return func(s string) error {
			n, err := strconv.Atoi(strings.TrimSpace(s))
			if err != nil {
				return fmt.Errorf("%s: %q is not an integer", q.name, s)
			}
			return f(n)
		}
	}
	action := func(f func()) handler.WriteFunc {
		return func(string) error { f(); return nil }
	}

	entries := []struct {
		name  string
		read  handler.ReadFunc
		write handler.WriteFunc
	}{
		{"resize_capacity", readInt(q.Capacity), writeInt(q.Resize)},
		{"capacity", readInt(q.Capacity), nil},
		{"marking_threshold", readInt(q.MarkingThreshold), writeInt(q.SetMarkingThreshold)},
		{"marking_enabled",
			func() (string, error) { return strconv.FormatBool(q.MarkingEnabled()), nil },
			func(s string) error {
				on, err := strconv.ParseBool(strings.TrimSpace(s))
				if err != nil {
					return fmt.Errorf("%s: %q is not a boolean", q.name, s)
				}
				q.SetMarkingEnabled(on)
				return nil
			}},
		{"length", readInt(q.Len), nil},
		{"highwater_length", readInt(q.HighWater), nil},
		{"drops", readU64(q.Drops), nil},
		{"bytes", readInt(q.Bytes), nil},
		{"enqueue_bytes", readU64(q.EnqueueBytes), nil},
		{"dequeue_bytes", readU64(q.DequeueBytes), nil},
		{"dequeue_bytes_no_headers", readU64(q.DequeuePayloadBytes), nil},
		{"clear", nil, action(q.ClearAccounting)},
		{"reset_counts", nil, action(q.ResetCounts)},
		{"reset", nil, action(q.Reset)},
	}
	for _, e := range entries {
		if err := t.Register(prefix+"."+e.name, e.read, e.write); err != nil {
			return err
		}
	}
	return nil
}
