// Package sandbox provisions and runs ephemeral, network-less, resource-bounded
// execution environments. Each sandbox instance serves exactly one job attempt
// and is destroyed afterwards; a sweep pass destroys anything a crashed worker
// left behind.
package sandbox

import "time"

// Limits bounds one sandbox instance. Zero fields take the defaults.
type Limits struct {
	MemoryBytes int64         // address space ceiling
	CPUs        int           // CPU budget multiplier for the time ceiling
	MaxPids     int           // process/thread ceiling
	Timeout     time.Duration // wall-clock ceiling for the whole attempt
}

// DefaultLimits returns the documented defaults: 2 GiB, 2 CPUs, 200 pids, 10 minutes.
func DefaultLimits() Limits {
	return Limits{
		MemoryBytes: 2 << 30,
		CPUs:        2,
		MaxPids:     200,
		Timeout:     10 * time.Minute,
	}
}

// withDefaults fills zero fields from DefaultLimits.
func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MemoryBytes <= 0 {
		l.MemoryBytes = d.MemoryBytes
	}
	if l.CPUs <= 0 {
		l.CPUs = d.CPUs
	}
	if l.MaxPids <= 0 {
		l.MaxPids = d.MaxPids
	}
	if l.Timeout <= 0 {
		l.Timeout = d.Timeout
	}
	return l
}
