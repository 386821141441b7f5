package tracker

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ksargent/cascade/internal/retry"
)

// fakeRunner records invocations and returns a scripted error.
type fakeRunner struct {
	calls  [][]string
	output []byte
	err    error
}

func (r *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.calls = append(r.calls, append([]string{name}, args...))
	return r.output, r.err
}

func (r *fakeRunner) RunInput(ctx context.Context, input []byte, name string, args ...string) ([]byte, error) {
	return r.Run(ctx, name, args...)
}

func TestGHTracker_Commands(t *testing.T) {
	tests := []struct {
		name string
		call func(g *GHTracker) error
		want []string
	}{
		{
			"CreateComment",
			func(g *GHTracker) error {
				return g.CreateComment(context.Background(), "42", "phase done")
			},
			[]string{"gh", "issue", "comment", "42", "--repo", "octo/widgets", "--body", "phase done"},
		},
		{
			"CloseItem",
			func(g *GHTracker) error {
				return g.CloseItem(context.Background(), "42", "plan completed")
			},
			[]string{"gh", "issue", "close", "42", "--repo", "octo/widgets", "--comment", "plan completed"},
		},
		{
			"AddLabel",
			func(g *GHTracker) error {
				return g.AddLabel(context.Background(), "42", "blocked")
			},
			[]string{"gh", "issue", "edit", "42", "--repo", "octo/widgets", "--add-label", "blocked"},
		},
		{
			"RemoveLabel",
			func(g *GHTracker) error {
				return g.RemoveLabel(context.Background(), "42", "blocked")
			},
			[]string{"gh", "issue", "edit", "42", "--repo", "octo/widgets", "--remove-label", "blocked"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{}
			g := NewGHTracker(runner, "gh", "octo/widgets")

			if err := tt.call(g); err != nil {
				t.Fatalf("%s: %v", tt.name, err)
			}
			if len(runner.calls) != 1 {
				t.Fatalf("got %d CLI calls, want 1", len(runner.calls))
			}
			got := strings.Join(runner.calls[0], " ")
			want := strings.Join(tt.want, " ")
			if got != want {
				t.Errorf("CLI call = %q, want %q", got, want)
			}
		})
	}
}

func TestGHTracker_FailureIsTransient(t *testing.T) {
	runner := &fakeRunner{output: []byte("connection reset"), err: errors.New("exit status 1")}
	g := NewGHTracker(runner, "gh", "octo/widgets")

	err := g.CreateComment(context.Background(), "42", "hello")
	if err == nil {
		t.Fatal("CreateComment succeeded, want error")
	}
	if !retry.IsTransient(err) {
		t.Errorf("tracker failure not transient: %v", err)
	}
	if !strings.Contains(err.Error(), "connection reset") {
		t.Errorf("error lost CLI output: %v", err)
	}
}

func TestGHTracker_RequiresRepo(t *testing.T) {
	g := NewGHTracker(&fakeRunner{}, "gh", "")

	if err := g.CreateComment(context.Background(), "42", "hello"); err == nil {
		t.Error("CreateComment without repo succeeded, want error")
	}
}

func TestNewGHTracker_DefaultCommand(t *testing.T) {
	runner := &fakeRunner{}
	g := NewGHTracker(runner, "", "octo/widgets")

	if err := g.AddLabel(context.Background(), "7", "blocked"); err != nil {
		t.Fatalf("AddLabel: %v", err)
	}
	if runner.calls[0][0] != "gh" {
		t.Errorf("command = %q, want gh", runner.calls[0][0])
	}
}
