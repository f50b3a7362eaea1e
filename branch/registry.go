package branch

import (
	"fmt"
	"strings"
	"sync"

	berr "github.com/next-trace/scg-branch-host/contract/errors"
)

// Descriptor is the finalized configuration of one branch. It is immutable once the
// registry is closed.
type Descriptor struct {
	Name   string
	Paths  []string
	Module Module
	Order  int
}

// Registry collects branch descriptors during startup. Names and mount prefixes are validated
// eagerly, so a bad configuration fails at AddBranch rather than at the first request.
type Registry struct {
	mu     sync.Mutex
	descs  []Descriptor
	names  map[string]struct{}
	owners map[string]string // folded prefix -> owning branch
	closed bool
}

// NewRegistry returns an empty, open registry.
func NewRegistry() *Registry {
	return &Registry{
		names:  make(map[string]struct{}),
		owners: make(map[string]string),
	}
}

// AddBranch registers a branch mounted at paths. It fails with ErrDuplicateBranchName when
// name is taken, ErrOverlappingPath when a prefix is already mounted, ErrInvalidBranch on
// malformed input and ErrRegistryClosed after Close. A failed call leaves the registry unchanged.
func (r *Registry) AddBranch(name string, paths []string, m Module) error {
	if name == "" || m == nil || len(paths) == 0 {
		return berr.Op("add branch", name, fmt.Errorf("%w: name, module and at least one path are required", berr.ErrInvalidBranch))
	}

	norm := make([]string, 0, len(paths))
	seen := make(map[string]struct{}, len(paths))

	for _, p := range paths {
		np, err := NormalizePath(p)
		if err != nil {
			return berr.Op("add branch", name, err)
		}

		key := strings.ToLower(strings.ToUpper(np))
		if _, dup := seen[key]; dup {
			return berr.Op("add branch", name, fmt.Errorf("%w: %q listed twice", berr.ErrOverlappingPath, p))
		}

		seen[key] = struct{}{}
		norm = append(norm, np)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return berr.Op("add branch", name, berr.ErrRegistryClosed)
	}

	if _, dup := r.names[name]; dup {
		return berr.Op("add branch", name, berr.ErrDuplicateBranchName)
	}

	for key := range seen {
		if owner, taken := r.owners[key]; taken {
			return berr.Op("add branch", name,
				fmt.Errorf("%w: %q is already mounted by branch %q", berr.ErrOverlappingPath, displayPath(key), owner))
		}
	}

	for key := range seen {
		r.owners[key] = name
	}

	r.names[name] = struct{}{}
	r.descs = append(r.descs, Descriptor{Name: name, Paths: norm, Module: m, Order: len(r.descs)})

	return nil
}

// Close finalizes the registry and returns the descriptors in registration order.
// Later AddBranch calls fail with ErrRegistryClosed.
func (r *Registry) Close() []Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true

	return append([]Descriptor(nil), r.descs...)
}

// Closed reports whether Close was called.
func (r *Registry) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.closed
}

// Descriptors returns a copy of the descriptors registered so far, in registration order.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Descriptor(nil), r.descs...)
}

// NormalizePath validates a mount prefix and trims trailing slashes. The root path "/"
// normalizes to "", which matches every request.
func NormalizePath(p string) (string, error) {
	if !strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%w: path %q must start with /", berr.ErrInvalidBranch, p)
	}

	if strings.ContainsAny(p, " ?#") {
		return "", fmt.Errorf("%w: path %q contains query, fragment or space", berr.ErrInvalidBranch, p)
	}

	return strings.TrimRight(p, "/"), nil
}

func displayPath(p string) string {
	if p == "" {
		return "/"
	}

	return p
}
