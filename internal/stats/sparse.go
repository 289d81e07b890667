// Package stats implements sparse per-CPU counters.
//
// A sparse counter is an array of cache-line padded cells, one per
// worker CPU. A worker adds to its own cell with plain (relaxed)
// stores; nothing synchronizes the write path. A reader sums all cells
// and gets an eventually-consistent total, which is all the statistics
// surface promises.
package stats

import "code.hybscloud.com/atomix"

const cacheLine = 64

type cell struct {
	v atomix.Int64
	_ [cacheLine - 8]byte
}

// Sparse is a per-CPU counter. Cells are single-writer: exactly one
// worker may use a given cpu slot. Writers without a dedicated slot go
// through AddAny, which is atomic.
type Sparse struct {
	cells []cell
}

// NewSparse creates a counter with n cells. n is clamped to at least 1.
func NewSparse(n int) *Sparse {
	if n < 1 {
		n = 1
	}
	return &Sparse{cells: make([]cell, n)}
}

// Add bumps the cell owned by cpu. No synchronization: the cell has a
// single writer and readers tolerate staleness.
func (s *Sparse) Add(cpu int, n uint64) {
	c := &s.cells[cpu%len(s.cells)].v
	c.StoreRelaxed(c.LoadRelaxed() + int64(n))
}

// Inc is Add(cpu, 1).
func (s *Sparse) Inc(cpu int) {
	s.Add(cpu, 1)
}

// AddAny bumps the counter from a thread with no dedicated cell. This
// is the slow path: it pays an atomic add on cell 0.
func (s *Sparse) AddAny(n uint64) {
	s.cells[0].v.Add(int64(n))
}

// IncAny is AddAny(1).
func (s *Sparse) IncAny() {
	s.AddAny(1)
}

// Read sums all cells.
func (s *Sparse) Read() uint64 {
	var total int64
	for i := range s.cells {
		total += s.cells[i].v.LoadRelaxed()
	}
	return uint64(total)
}

// Reset zeroes all cells. Only safe while no writer is active.
func (s *Sparse) Reset() {
	for i := range s.cells {
		s.cells[i].v.StoreRelaxed(0)
	}
}
