package branch_test

import (
	"errors"
	"testing"

	"github.com/next-trace/scg-branch-host/branch"
	"github.com/next-trace/scg-branch-host/container"
	berr "github.com/next-trace/scg-branch-host/contract/errors"
)

func TestRegistry_AddBranchValidation(t *testing.T) {
	r := branch.NewRegistry()
	m := echoPath()

	if err := r.AddBranch("api", []string{"/api/"}, m); err != nil {
		t.Fatalf("add: %v", err)
	}

	tests := []struct {
		name   string
		branch string
		paths  []string
		module branch.Module
		want   error
	}{
		{"duplicate name", "api", []string{"/other"}, m, berr.ErrDuplicateBranchName},
		{"same prefix other branch", "api2", []string{"/api"}, m, berr.ErrOverlappingPath},
		{"same prefix differing case", "api2", []string{"/API"}, m, berr.ErrOverlappingPath},
		{"same prefix twice in one branch", "twice", []string{"/x", "/x/"}, m, berr.ErrOverlappingPath},
		{"relative path", "rel", []string{"api"}, m, berr.ErrInvalidBranch},
		{"no paths", "none", nil, m, berr.ErrInvalidBranch},
		{"no module", "nomod", []string{"/nomod"}, nil, berr.ErrInvalidBranch},
		{"no name", "", []string{"/anon"}, m, berr.ErrInvalidBranch},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := r.AddBranch(tc.branch, tc.paths, tc.module)
			if !errors.Is(err, tc.want) {
				t.Fatalf("want %v, got %v", tc.want, err)
			}

			var op *berr.OpError
			if !errors.As(err, &op) || op.Branch != tc.branch {
				t.Fatalf("error must name the branch: %v", err)
			}
		})
	}

	if err := r.AddBranch("v2", []string{"/api/v2"}, m); err != nil {
		t.Fatalf("nested prefixes are allowed: %v", err)
	}

	if err := r.AddBranch("twice", []string{"/twice"}, m); err != nil {
		t.Fatalf("failed add must leave no trace: %v", err)
	}

	descs := r.Close()
	if len(descs) != 3 || descs[0].Name != "api" || descs[0].Paths[0] != "/api" || descs[2].Order != 2 {
		t.Fatalf("descriptors=%+v", descs)
	}

	if err := r.AddBranch("late", []string{"/late"}, m); !errors.Is(err, berr.ErrRegistryClosed) {
		t.Fatalf("want ErrRegistryClosed, got %v", err)
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in, want string
		ok       bool
	}{
		{"/", "", true},
		{"/api", "/api", true},
		{"/api//", "/api", true},
		{"api", "", false},
		{"/a b", "", false},
		{"/a?x=1", "", false},
	}

	for _, tc := range tests {
		got, err := branch.NormalizePath(tc.in)
		if (err == nil) != tc.ok || got != tc.want {
			t.Fatalf("NormalizePath(%q)=%q,%v", tc.in, got, err)
		}
	}
}

func TestBridge_WriteOnceThenRead(t *testing.T) {
	b := branch.NewBridge()

	open := container.New("a")
	if err := b.Register("a", open); !errors.Is(err, berr.ErrInvalidBranch) {
		t.Fatalf("unsealed container must be rejected, got %v", err)
	}

	open.Seal()

	if err := b.Register("a", open); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := b.Register("a", open); !errors.Is(err, berr.ErrDuplicateBranchName) {
		t.Fatalf("want ErrDuplicateBranchName, got %v", err)
	}

	b.Seal()

	other := container.New("b")
	other.Seal()

	if err := b.Register("b", other); !errors.Is(err, berr.ErrBridgeSealed) {
		t.Fatalf("want ErrBridgeSealed, got %v", err)
	}

	if c, ok := b.Lookup("a"); !ok || c != open {
		t.Fatalf("lookup a failed")
	}

	if _, ok := b.Lookup("b"); ok {
		t.Fatalf("b was never published")
	}

	if names := b.Names(); len(names) != 1 || names[0] != "a" || !b.Sealed() {
		t.Fatalf("names=%v sealed=%v", names, b.Sealed())
	}
}
