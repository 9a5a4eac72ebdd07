package fabric

import "github.com/sugawarayuuta/sonnet"

// QueueStats is one VOQ's counters at snapshot time.
type QueueStats struct {
	Name             string `json:"name"`
	Src              int    `json:"src"`
	Dst              int    `json:"dst"`
	Len              int    `json:"len"`
	Capacity         int    `json:"capacity"`
	HighWater        int    `json:"highwater"`
	MarkingThreshold int    `json:"marking_threshold"`
	Drops            uint64 `json:"drops"`
	EnqueueBytes     uint64 `json:"enqueue_bytes"`
	DequeueBytes     uint64 `json:"dequeue_bytes"`
	PacketEnabled    bool   `json:"packet_enabled"`
}

// Snapshot is a point-in-time view of the fabric.
type Snapshot struct {
	Hosts      int          `json:"hosts"`
	Circuits   []int        `json:"circuits"`
	Congestion string       `json:"congestion"`
	Queues     []QueueStats `json:"queues"`
}

// Snapshot collects switch state and every VOQ's counters. Fields are read
// one at a time, so the view is not atomic across queues.
func (f *Fabric) Snapshot() Snapshot {
	s := Snapshot{
		Hosts:      f.hosts,
		Circuits:   make([]int, f.hosts),
		Congestion: f.ece.Text(),
		Queues:     make([]QueueStats, 0, f.hosts*f.hosts),
	}
	for dst := range s.Circuits {
		s.Circuits[dst] = f.CircuitSource(dst)
	}
	for src := 0; src < f.hosts; src++ {
		for dst := 0; dst < f.hosts; dst++ {
			q := f.queues.MustAt(src, dst)
			s.Queues = append(s.Queues, QueueStats{
				Name:             q.Name(),
				Src:              src,
				Dst:              dst,
				Len:              q.Len(),
				Capacity:         q.Capacity(),
				HighWater:        q.HighWater(),
				MarkingThreshold: q.MarkingThreshold(),
				Drops:            q.Drops(),
				EnqueueBytes:     q.EnqueueBytes(),
				DequeueBytes:     q.DequeueBytes(),
				PacketEnabled:    f.PacketEnabled(src, dst),
			})
		}
	}
	return s
}

// SnapshotJSON encodes Snapshot.
func (f *Fabric) SnapshotJSON() ([]byte, error) {
	return sonnet.Marshal(f.Snapshot())
}
