// Package gitsource keeps local clones of deck sources hosted in git.
package gitsource

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"

	"github.com/conorfennell/knolplan/internal/logger"
)

// IsURL reports whether path names a git remote rather than a local directory.
func IsURL(path string) bool {
	if strings.HasPrefix(path, "git@") {
		return true
	}
	u, err := url.Parse(path)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "http", "https", "ssh", "git":
		return u.Host != ""
	}
	return false
}

// LocalPath maps a remote URL to its clone directory under baseDir,
// e.g. https://github.com/a/b.git to baseDir/github.com/a/b.
func LocalPath(baseDir, repoURL string) (string, error) {
	parsed, err := url.Parse(repoURL)
	if err == nil && parsed.Host != "" && parsed.Scheme != "" {
		return filepath.Join(baseDir, parsed.Host, strings.TrimSuffix(parsed.Path, ".git")), nil
	}

	// scp-like syntax: user@host:owner/repo.git
	userHost, repoPath, ok := strings.Cut(repoURL, ":")
	if ok {
		if _, host, ok := strings.Cut(userHost, "@"); ok && host != "" && repoPath != "" {
			return filepath.Join(baseDir, host, strings.TrimSuffix(repoPath, ".git")), nil
		}
	}
	return "", fmt.Errorf("could not parse git URL: %s", repoURL)
}

// Sync clones repoURL into localPath if it is not there yet, or pulls the
// latest changes if it is.
func Sync(ctx context.Context, log *logger.Logger, repoURL, localPath string) error {
	_, err := os.Stat(localPath)
	switch {
	case os.IsNotExist(err):
		log.Info("cloning repository", "url", repoURL, "path", localPath)
		if _, err := git.PlainCloneContext(ctx, localPath, false, &git.CloneOptions{URL: repoURL}); err != nil {
			return fmt.Errorf("failed to clone repo %s: %w", repoURL, err)
		}
		log.Info("clone successful", "url", repoURL)
	case err == nil:
		log.Info("pulling latest changes", "path", localPath)
		repo, err := git.PlainOpen(localPath)
		if err != nil {
			return fmt.Errorf("failed to open existing repo at %s: %w", localPath, err)
		}
		worktree, err := repo.Worktree()
		if err != nil {
			return fmt.Errorf("failed to get worktree for repo at %s: %w", localPath, err)
		}
		err = worktree.PullContext(ctx, &git.PullOptions{RemoteName: "origin"})
		if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
			return fmt.Errorf("failed to pull changes for repo at %s: %w", localPath, err)
		}
		log.Debug("pull finished", "path", localPath)
	default:
		return fmt.Errorf("error checking path %s: %w", localPath, err)
	}
	return nil
}
