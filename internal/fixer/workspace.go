// internal/fixer/workspace.go
package fixer

import (
	"context"
	"errors"
	"fmt"
	"time"

	git "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"
)

// Workspace is an isolated clone of the source repository in which one fix
// attempt runs. Nothing in here ever touches the source checkout directly.
type Workspace struct {
	Dir    string
	repo   *git.Repository
	logger *zap.Logger
}

// OpenOrClone reuses an existing workspace clone at dir or clones sourceURL
// into it. Reuse keeps retry attempts cheap when the workspace from the
// previous attempt is still around.
func OpenOrClone(ctx context.Context, logger *zap.Logger, sourceURL, dir string) (*Workspace, error) {
	log := logger.Named("workspace")

	repo, err := git.PlainOpen(dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		log.Info("Cloning source repository into workspace",
			zap.String("source", sourceURL), zap.String("dir", dir))
		repo, err = git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{URL: sourceURL})
		if err != nil {
			return nil, fmt.Errorf("failed to clone %s: %w", sourceURL, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to open workspace at %s: %w", dir, err)
	} else {
		log.Debug("Reusing existing workspace clone", zap.String("dir", dir))
	}

	return &Workspace{Dir: dir, repo: repo, logger: log}, nil
}

// CurrentBranch reports the short name of the branch HEAD points at.
func (w *Workspace) CurrentBranch() (string, error) {
	head, err := w.repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	if !head.Name().IsBranch() {
		return "", fmt.Errorf("HEAD is detached at %s", head.Hash())
	}
	return head.Name().Short(), nil
}

// CheckoutBranch switches HEAD to the named branch, creating it from the
// current HEAD commit when it does not exist yet.
func (w *Workspace) CheckoutBranch(name string) error {
	wt, err := w.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to open worktree: %w", err)
	}

	ref := plumbing.NewBranchReferenceName(name)
	_, err = w.repo.Reference(ref, true)
	create := err != nil

	if err := wt.Checkout(&git.CheckoutOptions{Branch: ref, Create: create, Force: true}); err != nil {
		return fmt.Errorf("failed to checkout branch %s: %w", name, err)
	}
	w.logger.Debug("Checked out branch", zap.String("branch", name), zap.Bool("created", create))
	return nil
}

// CommitAll stages every change in the worktree and commits it, returning
// the commit hash.
func (w *Workspace) CommitAll(message, authorName, authorEmail string) (string, error) {
	wt, err := w.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to open worktree: %w", err)
	}

	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", fmt.Errorf("failed to stage changes: %w", err)
	}

	status, err := wt.Status()
	if err != nil {
		return "", fmt.Errorf("failed to read worktree status: %w", err)
	}
	if status.IsClean() {
		return "", fmt.Errorf("nothing to commit: worktree is clean")
	}

	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  authorName,
			Email: authorEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}
	return hash.String(), nil
}

// Push publishes the branch to the named remote.
func (w *Workspace) Push(ctx context.Context, remote, branch string) error {
	refSpec := gitconfig.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, branch))
	err := w.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: remote,
		RefSpecs:   []gitconfig.RefSpec{refSpec},
	})
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to push %s to %s: %w", branch, remote, err)
	}
	return nil
}
