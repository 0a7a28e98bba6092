package manifest

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// RevisionProvider reports the source-control revision of the code
// producing a build.
type RevisionProvider interface {
	Revision(ctx context.Context) (string, error)
}

// RevisionFunc adapts a function to RevisionProvider.
type RevisionFunc func(ctx context.Context) (string, error)

func (f RevisionFunc) Revision(ctx context.Context) (string, error) { return f(ctx) }

// StaticRevision always reports the same revision.
type StaticRevision string

func (s StaticRevision) Revision(context.Context) (string, error) { return string(s), nil }

// GitRevision runs `git rev-parse HEAD` in Dir (the working directory when empty).
type GitRevision struct {
	Dir string
}

func (g GitRevision) Revision(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "HEAD")
	cmd.Dir = g.Dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(string(out)), nil
}
