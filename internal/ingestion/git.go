package ingestion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/merkletrie"
)

// ErrNotARepository is returned when no git repository contains the path.
var ErrNotARepository = errors.New("not a git repository")

// EnvGitSHA1 overrides the baseline on release branches.
const EnvGitSHA1 = "GIT_SHA1"

// GitStatus is the change status of a file against the baseline.
type GitStatus string

const (
	StatusAdded    GitStatus = "A"
	StatusModified GitStatus = "M"
	StatusRenamed  GitStatus = "R"
	StatusDeleted  GitStatus = "D"
)

// ChangedFile is a file that differs from the baseline.
type ChangedFile struct {
	Path string
	// OldPath is the previous path of a renamed file.
	OldPath string
	Status  GitStatus
}

// ChangeOptions selects the changes to report.
type ChangeOptions struct {
	// Baseline is the revision to compare with; DefaultBaseline when empty.
	Baseline string
	// Staged restricts the report to the index.
	Staged bool
	// IncludeUntracked reports untracked files as added.
	IncludeUntracked bool
}

// GitRepo wraps the repository holding the content tree.
type GitRepo struct {
	repo *git.Repository
	root string
}

// OpenGitRepo opens the repository containing path.
func OpenGitRepo(path string) (*GitRepo, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("%s: %w", path, ErrNotARepository)
	}
	if err != nil {
		return nil, fmt.Errorf("opening git repository: %w", err)
	}
	w, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("opening worktree: %w", err)
	}
	return &GitRepo{repo: repo, root: w.Filesystem.Root()}, nil
}

// Root returns the worktree root directory.
func (r *GitRepo) Root() string {
	return r.root
}

// CurrentBranch returns the short name of HEAD, empty when detached.
func (r *GitRepo) CurrentBranch() string {
	head, err := r.repo.Head()
	if err != nil || !head.Name().IsBranch() {
		return ""
	}
	return head.Name().Short()
}

// DefaultBaseline picks origin/master, or demisto/master when that remote
// exists. Release branches (21.x, 22.x) use the commit named by GIT_SHA1.
func (r *GitRepo) DefaultBaseline() string {
	branch := r.CurrentBranch()
	if sha := os.Getenv(EnvGitSHA1); sha != "" && (strings.HasPrefix(branch, "21.") || strings.HasPrefix(branch, "22.")) {
		return sha
	}
	if _, err := r.repo.Remote("demisto"); err == nil {
		return "demisto/master"
	}
	return "origin/master"
}

func (r *GitRepo) commit(rev string) (*object.Commit, error) {
	hash, err := r.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", rev, err)
	}
	c, err := r.repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("reading commit %s: %w", rev, err)
	}
	return c, nil
}

func (r *GitRepo) tree(rev string) (*object.Tree, error) {
	c, err := r.commit(rev)
	if err != nil {
		return nil, err
	}
	return c.Tree()
}

// MergeBase returns the hash of the commit HEAD forked from rev, the side
// a three-dot comparison diffs from. Unrelated histories use rev itself.
func (r *GitRepo) MergeBase(rev string) (string, error) {
	c, err := r.mergeBase(rev)
	if err != nil {
		return "", err
	}
	return c.Hash.String(), nil
}

func (r *GitRepo) mergeBase(rev string) (*object.Commit, error) {
	baseline, err := r.commit(rev)
	if err != nil {
		return nil, err
	}
	head, err := r.commit("HEAD")
	if err != nil {
		return nil, err
	}
	bases, err := head.MergeBase(baseline)
	if err != nil {
		return nil, fmt.Errorf("merge base of HEAD and %s: %w", rev, err)
	}
	if len(bases) == 0 {
		return baseline, nil
	}
	return bases[0], nil
}

// ChangedFiles lists the files that differ from the baseline: changes
// committed on HEAD since it forked from the baseline, then index and
// worktree changes. Commits that landed on the baseline after the fork are
// not reported. Later observations of a path override earlier ones, except
// that additions and renames stay so when modified again.
func (r *GitRepo) ChangedFiles(ctx context.Context, opts ChangeOptions) ([]ChangedFile, error) {
	baseline := opts.Baseline
	if baseline == "" {
		baseline = r.DefaultBaseline()
	}
	changed := make(map[string]ChangedFile)

	if !opts.Staged {
		base, err := r.mergeBase(baseline)
		if err != nil {
			return nil, err
		}
		from, err := base.Tree()
		if err != nil {
			return nil, err
		}
		to, err := r.tree("HEAD")
		if err != nil {
			return nil, err
		}
		changes, err := object.DiffTreeWithOptions(ctx, from, to, &object.DiffTreeOptions{DetectRenames: true})
		if err != nil {
			return nil, fmt.Errorf("diffing against %s: %w", baseline, err)
		}
		for _, c := range changes {
			f, err := changedFile(c)
			if err != nil {
				return nil, err
			}
			changed[f.Path] = f
		}
	}

	w, err := r.repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("opening worktree: %w", err)
	}
	status, err := w.Status()
	if err != nil {
		return nil, fmt.Errorf("reading status: %w", err)
	}
	for p, s := range status {
		code := s.Staging
		if !opts.Staged && code == git.Unmodified {
			code = s.Worktree
		}
		switch code {
		case git.Added, git.Copied:
			changed[p] = ChangedFile{Path: p, Status: StatusAdded}
		case git.Modified:
			if prev, ok := changed[p]; !ok || (prev.Status != StatusAdded && prev.Status != StatusRenamed) {
				changed[p] = ChangedFile{Path: p, Status: StatusModified}
			}
		case git.Renamed:
			changed[p] = ChangedFile{Path: p, OldPath: s.Extra, Status: StatusRenamed}
		case git.Deleted:
			changed[p] = ChangedFile{Path: p, Status: StatusDeleted}
		case git.Untracked:
			if opts.IncludeUntracked && !opts.Staged {
				changed[p] = ChangedFile{Path: p, Status: StatusAdded}
			}
		}
	}

	out := make([]ChangedFile, 0, len(changed))
	for _, f := range changed {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func changedFile(c *object.Change) (ChangedFile, error) {
	action, err := c.Action()
	if err != nil {
		return ChangedFile{}, err
	}
	switch action {
	case merkletrie.Insert:
		return ChangedFile{Path: c.To.Name, Status: StatusAdded}, nil
	case merkletrie.Delete:
		return ChangedFile{Path: c.From.Name, Status: StatusDeleted}, nil
	}
	if c.From.Name != c.To.Name {
		return ChangedFile{Path: c.To.Name, OldPath: c.From.Name, Status: StatusRenamed}, nil
	}
	return ChangedFile{Path: c.To.Name, Status: StatusModified}, nil
}

// FileAtRevision returns the contents of path at rev. A path missing from
// the revision yields os.ErrNotExist.
func (r *GitRepo) FileAtRevision(rev, path string) ([]byte, error) {
	tree, err := r.tree(rev)
	if err != nil {
		return nil, err
	}
	f, err := tree.File(path)
	if errors.Is(err, object.ErrFileNotFound) {
		return nil, fmt.Errorf("%s at %s: %w", path, rev, os.ErrNotExist)
	}
	if err != nil {
		return nil, err
	}
	data, err := f.Contents()
	if err != nil {
		return nil, err
	}
	return []byte(data), nil
}
