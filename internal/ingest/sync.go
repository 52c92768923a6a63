package ingest

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/modelearth/codechat/internal/chunker"
	"github.com/modelearth/codechat/internal/observability"
)

// ChangeStatus is the A/M/D status of one file in a sync plan.
type ChangeStatus string

const (
	StatusAdded    ChangeStatus = "A"
	StatusModified ChangeStatus = "M"
	StatusDeleted  ChangeStatus = "D"
)

// Change is one entry of a sync plan.
type Change struct {
	Status ChangeStatus
	Path   string // repo-relative, submodule paths prefixed
}

// SyncDriver converts a git commit range into an A/M/D plan and applies it
// against the vector store. Replaying the same range is idempotent: chunk
// IDs are content-addressed and every apply pre-deletes by file path.
type SyncDriver struct {
	ingester *Ingester
	journal  *observability.ErrorJournal
	logger   *observability.Logger
}

// NewSyncDriver creates a sync driver on top of an ingester.
func NewSyncDriver(ingester *Ingester, journal *observability.ErrorJournal, logger *observability.Logger) *SyncDriver {
	return &SyncDriver{ingester: ingester, journal: journal, logger: logger}
}

// ComputePlan diffs (fromRev, toRev] in the superproject at repoRoot,
// expanding renames into delete+modify and submodule pointer moves into
// file-level changes inside the submodule.
func (d *SyncDriver) ComputePlan(ctx context.Context, repoRoot, fromRev, toRev string) ([]Change, error) {
	superOut, err := runGit(ctx, repoRoot, "diff", "--name-status", fromRev, toRev)
	if err != nil {
		return nil, fmt.Errorf("superproject diff: %w", err)
	}
	plan := parseNameStatus(superOut, "")

	subOut, err := runGit(ctx, repoRoot, "diff", "--submodule=short", fromRev, toRev)
	if err != nil {
		return nil, fmt.Errorf("submodule diff: %w", err)
	}

	for _, sub := range parseSubmoduleDiff(subOut) {
		subChanges, err := d.expandSubmodule(ctx, repoRoot, sub)
		if err != nil {
			// A broken submodule never sinks the rest of the plan.
			d.journal.Append(observability.JournalEntry{
				FilePath:  sub.Path,
				Operation: "diff-submodule",
				Message:   err.Error(),
			})
			d.logger.WarnContext(ctx, "submodule diff failed", "submodule", sub.Path, "error", err)
			continue
		}
		plan = append(plan, subChanges...)
	}

	// The superproject diff reports the pointer move as M on the submodule
	// path itself; drop those now that they are expanded.
	filtered := plan[:0]
	for _, ch := range plan {
		if isSubmodulePointer(ch, subOut) {
			continue
		}
		filtered = append(filtered, ch)
	}
	return filtered, nil
}

// expandSubmodule turns one pointer move into file-level changes: an added
// submodule contributes every file at the new SHA as A, a removed one every
// file at the old SHA as D, and anything else a translated sub-diff.
func (d *SyncDriver) expandSubmodule(ctx context.Context, repoRoot string, sub submoduleChange) ([]Change, error) {
	subDir := filepath.Join(repoRoot, filepath.FromSlash(sub.Path))

	switch {
	case isZeroSHA(sub.OldSHA):
		out, err := runGit(ctx, subDir, "ls-tree", "-r", "--name-only", sub.NewSHA)
		if err != nil {
			return nil, err
		}
		return listedChanges(out, sub.Path, StatusAdded), nil

	case isZeroSHA(sub.NewSHA):
		out, err := runGit(ctx, subDir, "ls-tree", "-r", "--name-only", sub.OldSHA)
		if err != nil {
			return nil, err
		}
		return listedChanges(out, sub.Path, StatusDeleted), nil

	default:
		out, err := runGit(ctx, subDir, "diff", "--name-status", sub.OldSHA, sub.NewSHA)
		if err != nil {
			return nil, err
		}
		return parseNameStatus(out, sub.Path), nil
	}
}

// parseNameStatus parses `git diff --name-status` output, expanding renames
// (R score old new) into D old + M new. prefix scopes submodule paths.
func parseNameStatus(output, prefix string) []Change {
	var changes []Change
	for _, line := range strings.Split(output, "\n") {
		cols := strings.Split(strings.TrimSpace(line), "\t")
		if len(cols) < 2 || cols[0] == "" {
			continue
		}
		status := cols[0]
		switch {
		case strings.HasPrefix(status, "R") && len(cols) >= 3:
			changes = append(changes,
				Change{Status: StatusDeleted, Path: joinPrefix(prefix, cols[1])},
				Change{Status: StatusModified, Path: joinPrefix(prefix, cols[2])},
			)
		case status == "A" || status == "M" || status == "D":
			changes = append(changes, Change{Status: ChangeStatus(status), Path: joinPrefix(prefix, cols[1])})
		case strings.HasPrefix(status, "C") && len(cols) >= 3:
			// copy: only the destination is new content
			changes = append(changes, Change{Status: StatusAdded, Path: joinPrefix(prefix, cols[2])})
		default:
			// T (typechange) and friends reprocess as modification
			changes = append(changes, Change{Status: StatusModified, Path: joinPrefix(prefix, cols[1])})
		}
	}
	return changes
}

func listedChanges(output, prefix string, status ChangeStatus) []Change {
	var changes []Change
	for _, line := range strings.Split(output, "\n") {
		f := strings.TrimSpace(line)
		if f == "" {
			continue
		}
		changes = append(changes, Change{Status: status, Path: joinPrefix(prefix, f)})
	}
	return changes
}

func joinPrefix(prefix, p string) string {
	if prefix == "" {
		return p
	}
	return path.Join(prefix, p)
}

// isSubmodulePointer reports whether a change entry is the submodule
// gitlink itself rather than a real file.
func isSubmodulePointer(ch Change, submoduleDiff string) bool {
	return strings.Contains(submoduleDiff, "Submodule "+ch.Path+" ")
}

// Apply executes a plan against a checked-out working tree at toRev.
// Deletes run as delete_by_filter on file path; adds and modifications
// pre-delete then re-ingest. Failures are journaled with their status so
// RetryErrors can replay exactly the failed paths.
func (d *SyncDriver) Apply(ctx context.Context, repo chunker.RepoContext, workTree string, plan []Change) error {
	applied, failed := 0, 0
	for _, ch := range plan {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.applyChange(ctx, repo, workTree, ch); err != nil {
			failed++
			operation := "process"
			if ch.Status == StatusDeleted {
				operation = "delete"
			}
			d.journal.Append(observability.JournalEntry{
				FilePath:  ch.Path,
				Operation: operation,
				Message:   err.Error(),
				Status:    string(ch.Status),
			})
			d.logger.WarnContext(ctx, "sync change failed",
				"file_path", ch.Path, "status", string(ch.Status), "error", err)
			continue
		}
		applied++
	}

	d.logger.InfoContext(ctx, "sync plan applied",
		"repository", repo.Repository, "applied", applied, "failed", failed)

	if err := d.ingester.Activate(ctx, repo.Namespace, repo.Ref); err != nil {
		return fmt.Errorf("activate %s@%s: %w", repo.Namespace, repo.Ref, err)
	}
	return nil
}

func (d *SyncDriver) applyChange(ctx context.Context, repo chunker.RepoContext, workTree string, ch Change) error {
	switch ch.Status {
	case StatusDeleted:
		return d.ingester.DeleteFile(ctx, repo.Namespace, ch.Path)
	default:
		_, err := d.ingester.IngestFile(ctx, repo, workTree, ch.Path)
		return err
	}
}

// RetryErrors replays the journaled failures against the working tree. The
// journal is truncated before the replay, so afterwards it holds only the
// paths that failed again; a clean pass leaves it empty.
func (d *SyncDriver) RetryErrors(ctx context.Context, repo chunker.RepoContext, workTree string) error {
	entries, err := d.journal.Read()
	if err != nil {
		return fmt.Errorf("read error journal: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	var plan []Change
	for _, e := range entries {
		status := ChangeStatus(e.Status)
		if status != StatusAdded && status != StatusModified && status != StatusDeleted {
			status = StatusModified
		}
		plan = append(plan, Change{Status: status, Path: e.FilePath})
	}

	if err := d.journal.Truncate(); err != nil {
		return fmt.Errorf("truncate error journal: %w", err)
	}
	return d.Apply(ctx, repo, workTree, plan)
}
