package fabric

import (
	"fmt"
	"strconv"
	"strings"

	"hybridsched/handler"
	"hybridsched/schedule"
	"hybridsched/utils"
)

// RegisterHandlers exposes every VOQ as q<s><d>.*, the circuit state as
// circuit<d>.source / circuit<d>.delay, the packet switches as
// pps<s><d>.switch, the ECE map as ecem.setECE and a JSON snapshot as
// fabric.snapshot. Indices in names are 1-based.
func (f *Fabric) RegisterHandlers(t *handler.Table) error {
	for src := 0; src < f.hosts; src++ {
		for dst := 0; dst < f.hosts; dst++ {
			if err := f.queues.MustAt(src, dst).RegisterHandlers(t, QueueName(src, dst)); err != nil {
				return err
			}
			if err := f.registerPacketSwitch(t, src, dst); err != nil {
				return err
			}
		}
	}
	for dst := 0; dst < f.hosts; dst++ {
		if err := f.registerCircuit(t, dst); err != nil {
			return err
		}
	}
	if err := f.ece.RegisterHandlers(t, "ecem"); err != nil {
		return err
	}
	return t.Register("fabric.snapshot", func() (string, error) {
		b, err := f.SnapshotJSON()
		return string(b), err
	}, nil)
}

// registerPacketSwitch uses the pull-switch convention: 0 open, -1 closed.
func (f *Fabric) registerPacketSwitch(t *handler.Table, src, dst int) error {
	name := "pps" + utils.Itoa(src+1) + utils.Itoa(dst+1) + ".switch"
	return t.Register(name,
		func() (string, error) {
			if f.PacketEnabled(src, dst) {
				return "0", nil
			}
			return "-1", nil
		},
		func(s string) error {
			switch strings.TrimSpace(s) {
			case "0":
				f.SetPacketEnabled(src, dst, true)
			case "-1":
				f.SetPacketEnabled(src, dst, false)
			default:
				return fmt.Errorf("%s: %q is not 0 or -1", name, s)
			}
			return nil
		})
}

func (f *Fabric) registerCircuit(t *handler.Table, dst int) error {
	prefix := "circuit" + utils.Itoa(dst+1)
	err := t.Register(prefix+".source",
		func() (string, error) { return utils.Itoa(f.CircuitSource(dst)), nil },
		func(s string) error {
			src, err := strconv.Atoi(strings.TrimSpace(s))
			if err != nil || src < schedule.NoCircuit || src >= f.hosts {
				return fmt.Errorf("%s.source: %q is not a source in -1..%d", prefix, s, f.hosts-1)
			}
			f.SelectSource(dst, src)
			return nil
		})
	if err != nil {
		return err
	}
	return t.Register(prefix+".delay",
		func() (string, error) { return strconv.FormatFloat(f.ExtraDelay(dst), 'g', -1, 64), nil },
		func(s string) error {
			sec, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil || sec < 0 {
				return fmt.Errorf("%s.delay: %q is not a non-negative number", prefix, s)
			}
			f.SetExtraDelay(dst, sec)
			return nil
		})
}
