package branch

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/next-trace/scg-branch-host/container"
	berr "github.com/next-trace/scg-branch-host/contract/errors"
)

// Bridge maps branch names to their isolated containers so cross-cutting resolvers, such as
// the message bus, can reach the right branch. It is written during startup only; after Seal
// lookups read the table without locking.
//
// The bridge holds back-references: branches own their containers.
type Bridge struct {
	mu     sync.Mutex
	m      map[string]*container.Container
	sealed atomic.Bool
}

// NewBridge returns an empty, writable bridge.
func NewBridge() *Bridge {
	return &Bridge{m: make(map[string]*container.Container)}
}

// Register publishes c under name. Only sealed containers are accepted, so no caller ever
// observes a partially built branch.
func (b *Bridge) Register(name string, c *container.Container) error {
	if c == nil || !c.Sealed() {
		return berr.Op("bridge register", name, berr.ErrInvalidBranch)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sealed.Load() {
		return berr.Op("bridge register", name, berr.ErrBridgeSealed)
	}

	if _, ok := b.m[name]; ok {
		return berr.Op("bridge register", name, berr.ErrDuplicateBranchName)
	}

	b.m[name] = c

	return nil
}

// Lookup returns the container published under name.
func (b *Bridge) Lookup(name string) (*container.Container, bool) {
	if !b.sealed.Load() {
		b.mu.Lock()
		defer b.mu.Unlock()
	}

	c, ok := b.m[name]

	return c, ok
}

// Seal ends the write phase.
func (b *Bridge) Seal() {
	b.mu.Lock()
	b.sealed.Store(true)
	b.mu.Unlock()
}

// Sealed reports whether the write phase is over.
func (b *Bridge) Sealed() bool { return b.sealed.Load() }

// Names returns the published branch names, sorted.
func (b *Bridge) Names() []string {
	if !b.sealed.Load() {
		b.mu.Lock()
		defer b.mu.Unlock()
	}

	out := make([]string, 0, len(b.m))
	for n := range b.m {
		out = append(out, n)
	}

	sort.Strings(out)

	return out
}
