//go:build linux

package engine

import "golang.org/x/sys/unix"

// setAffinity pins the calling thread to one CPU.
func setAffinity(cpu int) error {
	var mask unix.CPUSet
	mask.Set(cpu)
	return unix.SchedSetaffinity(0, &mask)
}
