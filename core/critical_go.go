//go:build !tinygo

package core

import "sync"

// irqState is the saved interrupt state on regular Go. Critical sections
// are modelled with a mutex so that goroutines standing in for interrupt
// handlers (tests, host simulation) are serialized like real ISRs.
type irqState struct{}

// criticalSection guards state shared between the cooperative context and
// interrupt context. Sections must not nest.
type criticalSection struct {
	mu sync.Mutex
}

// enter disables interrupts and returns the previous state
func (c *criticalSection) enter() irqState {
	c.mu.Lock()
	return irqState{}
}

// exit restores the interrupt state
func (c *criticalSection) exit(irqState) {
	c.mu.Unlock()
}
