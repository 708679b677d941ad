package lfssync

import (
	"locutusfs/internal/lfs"
)

// NeedsSync reports whether host and device differ once normalized.
func NeedsSync(host, device *lfs.FileSystem, keying lfs.Keying) lfs.CompareResult {
	if host == nil || device == nil {
		return lfs.CompareError
	}
	h, err := Normalize(host, device.Origin())
	if err != nil {
		logger.Warn("Failed to normalize host layout: %v", err)
		return lfs.CompareError
	}
	d, err := Normalize(device, host.Origin())
	if err != nil {
		logger.Warn("Failed to normalize device: %v", err)
		return lfs.CompareError
	}
	return lfs.SimpleCompare(h, d, lfs.WithKeying(keying))
}

// Indicator caches the last NeedsSync result. The owner calls Invalidate
// after mutating either side; the cache never observes mutations itself.
type Indicator struct {
	Keying lfs.Keying

	result lfs.CompareResult
	valid  bool
}

// NeedsSync returns the cached result, computing it when invalid.
func (i *Indicator) NeedsSync(host, device *lfs.FileSystem) lfs.CompareResult {
	if i.valid {
		return i.result
	}
	i.result = NeedsSync(host, device, i.Keying)
	// Errors are not cached so the next call retries.
	i.valid = i.result != lfs.CompareError
	logger.Debug("Sync indicator recomputed: %s", i.result)
	return i.result
}

// Invalidate drops the cached result
func (i *Indicator) Invalidate() {
	i.valid = false
}
