//go:build tinygo

package core

import "runtime/interrupt"

type irqState = interrupt.State

// criticalSection guards state shared between the cooperative context and
// interrupt context. On the MCU this is a global interrupt disable; the
// struct carries no state of its own.
type criticalSection struct{}

// enter disables interrupts and returns the previous state
func (c *criticalSection) enter() irqState {
	return interrupt.Disable()
}

// exit restores the interrupt state
func (c *criticalSection) exit(state irqState) {
	interrupt.Restore(state)
}
