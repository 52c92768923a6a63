package ingest

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Cloner materializes a repository working tree at an exact commit.
type Cloner struct {
	baseURL string // e.g. https://github.com
	timeout time.Duration
}

// NewCloner creates a cloner rooted at baseURL.
func NewCloner(baseURL string, timeout time.Duration) *Cloner {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Cloner{baseURL: strings.TrimSuffix(baseURL, "/"), timeout: timeout}
}

// Clone clones repository (an owner/name identifier) into a fresh temp
// directory and checks out ref; an empty ref stays on the default branch
// head. Returns the directory and the resolved commit SHA. The caller owns
// the directory and must remove it, failure or not.
func (c *Cloner) Clone(ctx context.Context, repository, ref string) (string, string, error) {
	dir, err := os.MkdirTemp("", "codechat-clone-*")
	if err != nil {
		return "", "", fmt.Errorf("create temp clone dir: %w", err)
	}

	cloneCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/%s.git", c.baseURL, repository)
	repo, err := git.PlainCloneContext(cloneCtx, dir, false, &git.CloneOptions{
		URL:               url,
		RecurseSubmodules: git.DefaultSubmoduleRecursionDepth,
	})
	if err != nil {
		os.RemoveAll(dir)
		return "", "", fmt.Errorf("clone %s: %w", url, err)
	}

	if ref != "" {
		worktree, err := repo.Worktree()
		if err != nil {
			os.RemoveAll(dir)
			return "", "", fmt.Errorf("open worktree: %w", err)
		}
		if err := worktree.Checkout(&git.CheckoutOptions{Hash: plumbing.NewHash(ref)}); err != nil {
			os.RemoveAll(dir)
			return "", "", fmt.Errorf("checkout %s: %w", ref, err)
		}
		return dir, ref, nil
	}

	head, err := repo.Head()
	if err != nil {
		os.RemoveAll(dir)
		return "", "", fmt.Errorf("resolve HEAD: %w", err)
	}
	return dir, head.Hash().String(), nil
}

// gitTimeout bounds individual git CLI invocations used by the sync driver.
const gitTimeout = 2 * time.Minute

// runGit executes a git command in dir and returns stdout. Diff plumbing
// goes through the CLI: go-git has no --name-status or --submodule diff.
func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "git", args...) // #nosec G204 -- fixed binary, args built internally
	cmd.Dir = dir
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(stderr.String()), err)
	}
	return stdout.String(), nil
}

var submoduleLinePattern = regexp.MustCompile(`^Submodule\s+(\S+)\s+([0-9a-f]{7,})\.\.\.?([0-9a-f]{7,})`)

// submoduleChange records one submodule pointer move between two
// superproject revisions.
type submoduleChange struct {
	Path   string
	OldSHA string
	NewSHA string
}

// parseSubmoduleDiff extracts pointer moves from `git diff --submodule=short`.
func parseSubmoduleDiff(output string) []submoduleChange {
	var changes []submoduleChange
	for _, line := range strings.Split(output, "\n") {
		if m := submoduleLinePattern.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			changes = append(changes, submoduleChange{Path: m[1], OldSHA: m[2], NewSHA: m[3]})
		}
	}
	return changes
}

// isZeroSHA reports whether a rev is the all-zeros placeholder git prints
// for added or removed submodules.
func isZeroSHA(sha string) bool {
	for _, r := range sha {
		if r != '0' {
			return false
		}
	}
	return len(sha) > 0
}
