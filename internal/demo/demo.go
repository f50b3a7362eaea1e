// Package demo holds the branch modules the branchhost command can mount by name.
package demo

import (
	"fmt"
	"maps"
	"slices"

	"github.com/next-trace/scg-branch-host/branch"
	"github.com/next-trace/scg-branch-host/config"
	berr "github.com/next-trace/scg-branch-host/contract/errors"
)

// Factory builds a module from its decoded branch options.
type Factory func(options map[string]any) (branch.Module, error)

var modules = map[string]Factory{
	"identity": Identity,
}

// Module returns the module registered under name.
func Module(name string, options map[string]any) (branch.Module, error) {
	f, ok := modules[name]
	if !ok {
		return nil, fmt.Errorf("module %q: %w", name, berr.ErrUnknownModule)
	}

	return f(options)
}

// Names lists the registered module names.
func Names() []string { return slices.Sorted(maps.Keys(modules)) }

// DefaultBranches is the mount table used when the configuration names no branches.
func DefaultBranches() []config.BranchConfig {
	return []config.BranchConfig{
		{Name: "endpoint", Module: "identity", Paths: []string{"/api"}},
		{Name: "endpoint2", Module: "identity", Paths: []string{"/api2"}},
	}
}

// Mount adds every configured branch to b.
func Mount(b *branch.Builder, branches []config.BranchConfig) error {
	for _, bc := range branches {
		m, err := Module(bc.Module, bc.Options)
		if err != nil {
			return berr.Op("mount", bc.Name, err)
		}

		if err := b.AddBranch(bc.Name, bc.Paths, m); err != nil {
			return err
		}
	}

	return nil
}
