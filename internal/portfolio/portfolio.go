// Package portfolio holds the risk and position-lifecycle rules of the bot:
// trade sizing, the per-symbol position state machine, the cross-symbol
// capacity book and the trade ledger.
package portfolio

import "sync"

// Book tracks how many symbols hold (or are about to hold) an open
// position, so lanes running in parallel never exceed MaxPositions.
type Book struct {
	mu       sync.Mutex
	max      int
	open     map[string]struct{}
	reserved map[string]struct{}
}

// NewBook creates a Book capped at max concurrent positions.
func NewBook(max int) *Book {
	return &Book{
		max:      max,
		open:     make(map[string]struct{}),
		reserved: make(map[string]struct{}),
	}
}

// Count returns open plus reserved slots.
func (b *Book) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.open) + len(b.reserved)
}

// Open returns the number of committed open positions.
func (b *Book) Open() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.open)
}

// TryReserve claims a slot for symbol ahead of order placement. It fails
// when the book is full or the symbol already holds a slot.
func (b *Book) TryReserve(symbol string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.open[symbol]; ok {
		return false
	}
	if _, ok := b.reserved[symbol]; ok {
		return false
	}
	if len(b.open)+len(b.reserved) >= b.max {
		return false
	}
	b.reserved[symbol] = struct{}{}
	return true
}

// Commit turns symbol's reservation into an open slot.
func (b *Book) Commit(symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.reserved, symbol)
	b.open[symbol] = struct{}{}
}

// Release drops symbol's reservation after a failed entry.
func (b *Book) Release(symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.reserved, symbol)
}

// Remove frees symbol's open slot after its position closed.
func (b *Book) Remove(symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.open, symbol)
}

// Restore marks symbol open without a reservation (recovery on restart).
func (b *Book) Restore(symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open[symbol] = struct{}{}
}
