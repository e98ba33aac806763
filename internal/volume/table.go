// Package volume holds the live per-channel gain table read by routing workers.
package volume

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
)

// DefaultGain is returned for channels that have no entry.
const DefaultGain = 1.0

// cell stores one gain as float64 bits so readers never observe a torn value.
type cell struct {
	bits atomic.Uint64
}

func (c *cell) load() float64 {
	return math.Float64frombits(c.bits.Load())
}

func (c *cell) store(gain float64) {
	c.bits.Store(math.Float64bits(gain))
}

// Table maps channel names to gains. Reads and writes on distinct names never
// contend on a shared lock; a writer to one name only swaps that name's cell.
type Table struct {
	cells sync.Map // string -> *cell
}

// New returns an empty table.
func New() *Table {
	return &Table{}
}

// Get returns the gain for name, or DefaultGain when absent.
func (t *Table) Get(name string) float64 {
	gain, ok := t.Lookup(name)
	if !ok {
		return DefaultGain
	}
	return gain
}

// Lookup returns the gain for name and whether an entry exists.
func (t *Table) Lookup(name string) (float64, bool) {
	v, ok := t.cells.Load(name)
	if !ok {
		return 0, false
	}
	return v.(*cell).load(), true
}

// Set stores gain for name, creating the entry on first use.
func (t *Table) Set(name string, gain float64) {
	if v, ok := t.cells.Load(name); ok {
		v.(*cell).store(gain)
		return
	}
	fresh := &cell{}
	fresh.store(gain)
	if v, loaded := t.cells.LoadOrStore(name, fresh); loaded {
		v.(*cell).store(gain)
	}
}

// ResetAll drops every entry; subsequent reads see DefaultGain until reseeded.
func (t *Table) ResetAll() {
	t.cells.Clear()
}

// Snapshot copies the current table contents.
func (t *Table) Snapshot() map[string]float64 {
	out := make(map[string]float64)
	t.cells.Range(func(key, value any) bool {
		out[key.(string)] = value.(*cell).load()
		return true
	})
	return out
}

// Names returns the sorted set of names with entries.
func (t *Table) Names() []string {
	names := make([]string, 0)
	t.cells.Range(func(key, _ any) bool {
		names = append(names, key.(string))
		return true
	})
	sort.Strings(names)
	return names
}
