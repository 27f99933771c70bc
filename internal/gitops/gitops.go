// Package gitops wraps the git CLI for the repository operations a build needs.
package gitops

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/cabinet-fe/MiniDevOps/internal/procgroup"
)

var ErrDestinationExists = errors.New("gitops: clone destination already exists")

// Error carries the failed command and its stderr.
type Error struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("git %s: %s", strings.Join(e.Args, " "), msg)
}

func (e *Error) Unwrap() error { return e.Err }

type Client struct {
	Binary    string        // default "git"
	KillGrace time.Duration // SIGTERM to SIGKILL delay for a cancelled command's process group
}

func NewClient(binary string, killGrace time.Duration) *Client {
	return &Client{Binary: binary, KillGrace: killGrace}
}

func (c *Client) binary() string {
	if c.Binary == "" {
		return "git"
	}
	return c.Binary
}

// run executes git in dir inside its own process group, so cancelling ctx also
// stops helpers such as git-remote-https. shown replaces args in errors so
// credentials never leak.
func (c *Client) run(ctx context.Context, dir string, shown []string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.binary(), args...)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	if err := procgroup.Run(cmd, c.KillGrace); err != nil {
		if shown == nil {
			shown = args
		}
		return "", &Error{Args: shown, Stderr: stderr.String(), Err: err}
	}
	return stdout.String(), nil
}

// Checkout discards local changes, switches to branch and pulls.
// A remote-style branch such as "origin/dev" is checked out as "dev".
func (c *Client) Checkout(ctx context.Context, dir, branch string) error {
	if _, err := c.run(ctx, dir, nil, "checkout", "."); err != nil {
		return err
	}
	if _, err := c.run(ctx, dir, nil, "checkout", LocalBranch(branch)); err != nil {
		return err
	}
	return c.Pull(ctx, dir)
}

// Pull merges the upstream of the current branch.
func (c *Client) Pull(ctx context.Context, dir string) error {
	_, err := c.run(ctx, dir, nil, "pull", "--no-rebase")
	return err
}

// Clone clones address into dest. dest must not exist yet; its parent is created.
func (c *Client) Clone(ctx context.Context, address, username, password, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("%w: %s", ErrDestinationExists, dest)
	}
	parent, name := filepath.Split(filepath.Clean(dest))
	if name == "" {
		return fmt.Errorf("gitops: invalid clone destination %q", dest)
	}
	if parent == "" {
		parent = "."
	}
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("gitops: create workspace: %w", err)
	}
	cloneURL, err := CloneURL(address, username, password)
	if err != nil {
		return err
	}
	redacted, _ := CloneURL(address, username, "")
	_, err = c.run(ctx, parent, []string{"clone", redacted, name}, "clone", cloneURL, name)
	return err
}

// RepoName is the last path segment of address without a trailing ".git".
func RepoName(address string) string {
	a := strings.TrimRight(strings.TrimSpace(address), "/")
	if i := strings.LastIndexAny(a, "/:"); i >= 0 {
		a = a[i+1:]
	}
	return strings.TrimSuffix(a, ".git")
}

func LocalBranch(branch string) string {
	return strings.Replace(branch, "origin/", "", 1)
}

// CloneURL renders an https URL for address with optional credentials.
// address may be given with or without a scheme.
func CloneURL(address, username, password string) (string, error) {
	raw := strings.TrimSpace(address)
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("gitops: invalid repository address %q: %w", address, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("gitops: repository address %q has no host", address)
	}
	switch {
	case username != "" && password != "":
		u.User = url.UserPassword(username, password)
	case username != "":
		u.User = url.User(username)
	}
	return u.String(), nil
}
