// Package lfssync pairs a host layout with a device file system: it strips
// the attributes that only one side tracks and plans the changes needed to
// bring one side in line with the other.
package lfssync

import (
	"fmt"

	"locutusfs/internal/lfs"
	"locutusfs/internal/logging"
)

var logger = logging.GetLogger().WithPrefix("sync")

// Direction names the side that is the source of truth.
type Direction int

const (
	// ToDevice makes the device match the host layout.
	ToDevice Direction = iota
	// FromDevice makes the host layout match the device.
	FromDevice
)

func (d Direction) String() string {
	if d == FromDevice {
		return "from-device"
	}
	return "to-device"
}

// MarshalText implements encoding.TextMarshaler
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Direction) UnmarshalText(text []byte) error {
	parsed, err := ParseDirection(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDirection accepts the names printed by String.
func ParseDirection(name string) (Direction, error) {
	switch name {
	case "to-device", "":
		return ToDevice, nil
	case "from-device":
		return FromDevice, nil
	default:
		return ToDevice, fmt.Errorf("unknown direction %q (want to-device or from-device)", name)
	}
}

// Normalize returns a clone of fs with provenance noise removed before it is
// compared against a container of origin counterpart. Menu position forks
// are dropped, and the root's names are blanked when the origins differ
// since host and device name the root independently.
func Normalize(fs *lfs.FileSystem, counterpart lfs.Origin) (*lfs.FileSystem, error) {
	clone := fs.Clone()

	var files []*lfs.File
	clone.Walk(func(entry lfs.Entry, _ int) bool {
		switch e := entry.(type) {
		case *lfs.File:
			files = append(files, e)
		case *lfs.Directory:
			if record, ok := clone.HousekeepingRecord(e); ok {
				files = append(files, record)
			}
		}
		return true
	})
	stripped := 0
	for _, f := range files {
		if _, ok := f.Fork(lfs.ForkMenuPosition); !ok {
			continue
		}
		if err := clone.ClearFork(f.Number(), lfs.ForkMenuPosition); err != nil {
			return nil, fmt.Errorf("failed to strip menu position of file #%d: %w", f.Number(), err)
		}
		stripped++
	}

	if fs.Origin() != counterpart {
		root := clone.Root()
		if err := root.SetLongName(""); err != nil {
			return nil, fmt.Errorf("failed to blank root name: %w", err)
		}
		if err := root.SetShortName(""); err != nil {
			return nil, fmt.Errorf("failed to blank root short name: %w", err)
		}
	}

	logger.Trace("Normalized %s file system against %s: %d menu position forks stripped",
		fs.Origin(), counterpart, stripped)
	return clone, nil
}

// Plan is the outcome of comparing a host layout with a device.
type Plan struct {
	Direction   Direction        `json:"direction" yaml:"direction"`
	Keying      lfs.Keying       `json:"keying" yaml:"keying"`
	Differences *lfs.Differences `json:"differences" yaml:"differences"`
	// TransferBytes estimates the fork data the direction would copy.
	TransferBytes uint64 `json:"transfer_bytes" yaml:"transfer_bytes"`
	// Orphans found while validating either side. They are left in place
	// and ignored by the comparison.
	HostOrphans   *lfs.OrphanReport `json:"host_orphans,omitempty" yaml:"host_orphans,omitempty"`
	DeviceOrphans *lfs.OrphanReport `json:"device_orphans,omitempty" yaml:"device_orphans,omitempty"`
}

// InSync reports whether nothing needs to change
func (p *Plan) InSync() bool { return p.Differences.Empty() }

// NewPlan validates both sides, normalizes them and compares them with the
// source of truth chosen by direction as the diff's source.
func NewPlan(host, device *lfs.FileSystem, direction Direction, keying lfs.Keying) (*Plan, error) {
	if host == nil || device == nil {
		return nil, fmt.Errorf("both a host layout and a device are required")
	}

	hostOrphans, err := lfs.Validate(host)
	if err != nil {
		return nil, fmt.Errorf("host layout: %w", err)
	}
	deviceOrphans, err := lfs.Validate(device)
	if err != nil {
		return nil, fmt.Errorf("device: %w", err)
	}
	if !hostOrphans.Empty() || !deviceOrphans.Empty() {
		logger.Warn("Ignoring %d host and %d device orphans", hostOrphans.Count(), deviceOrphans.Count())
	}

	h, err := Normalize(host, device.Origin())
	if err != nil {
		return nil, err
	}
	d, err := Normalize(device, host.Origin())
	if err != nil {
		return nil, err
	}

	source, target := h, d
	if direction == FromDevice {
		source, target = d, h
	}
	diff, err := lfs.Compare(source, target, lfs.WithKeying(keying))
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Direction:   direction,
		Keying:      keying,
		Differences: diff,
	}
	if !hostOrphans.Empty() {
		plan.HostOrphans = hostOrphans
	}
	if !deviceOrphans.Empty() {
		plan.DeviceOrphans = deviceOrphans
	}
	for _, changes := range [][]lfs.Difference{diff.Forks.ToAdd, diff.Forks.ToUpdate} {
		for _, c := range changes {
			if c.Source == nil {
				continue
			}
			if fork, ok := source.Fork(*c.Source); ok {
				plan.TransferBytes += fork.Size()
			}
		}
	}

	logger.Info("Plan %s by %s: %d differences, %d bytes to transfer",
		direction, keying, diff.Count(), plan.TransferBytes)
	return plan, nil
}
