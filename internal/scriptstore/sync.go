// File: internal/scriptstore/sync.go
package scriptstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/google/go-github/v58/github"
	"go.uber.org/zap"

	"github.com/greasewire/greasewire/internal/script"
)

// SyncResult summarizes one git sync pass.
type SyncResult struct {
	Added   int
	Updated int
	Skipped int
}

// SyncGit mirrors a remote repository of *.user.js files into the store. The
// remote is cloned (shallow) into a cache directory next to the store on the
// first sync and pulled afterwards. Scripts are identified across syncs by
// their (@namespace, @name) pair: a known identity is updated in place so it
// keeps its id and enabled flag, an unknown one is added.
func (s *Store) SyncGit(ctx context.Context, remoteURL string) (SyncResult, error) {
	if remoteURL == "" {
		return SyncResult{}, fmt.Errorf("no git remote configured")
	}
	cacheDir := filepath.Join(s.dir, ".sync-cache")

	_, err := git.PlainCloneContext(ctx, cacheDir, false, &git.CloneOptions{
		URL:   remoteURL,
		Depth: 1,
	})
	switch {
	case err == nil:
	case errors.Is(err, git.ErrRepositoryAlreadyExists):
		repo, openErr := git.PlainOpen(cacheDir)
		if openErr != nil {
			return SyncResult{}, fmt.Errorf("failed to open sync cache: %w", openErr)
		}
		wt, wtErr := repo.Worktree()
		if wtErr != nil {
			return SyncResult{}, fmt.Errorf("failed to open sync worktree: %w", wtErr)
		}
		if pullErr := wt.PullContext(ctx, &git.PullOptions{}); pullErr != nil &&
			!errors.Is(pullErr, git.NoErrAlreadyUpToDate) {
			return SyncResult{}, fmt.Errorf("failed to pull %q: %w", remoteURL, pullErr)
		}
	default:
		return SyncResult{}, fmt.Errorf("failed to clone %q: %w", remoteURL, err)
	}

	return s.importDir(cacheDir)
}

// importDir walks a directory tree and folds every *.user.js into the store.
func (s *Store) importDir(root string) (SyncResult, error) {
	var res SyncResult
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".user.js") {
			return nil
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("Skipping unreadable script.", zap.String("path", path), zap.Error(err))
			res.Skipped++
			return nil
		}
		source := string(raw)
		meta := script.ParseHeader(source)
		if meta.Name == "" {
			s.logger.Warn("Skipping script without a usable header.", zap.String("path", path))
			res.Skipped++
			return nil
		}

		if existing, ok := s.FindByIdentity(meta.Namespace, meta.Name); ok {
			if existing.Source == source {
				res.Skipped++
				return nil
			}
			if err := s.UpdateScript(existing.ID, source); err != nil {
				s.logger.Warn("Skipping script that failed validation.",
					zap.String("path", path), zap.Error(err))
				res.Skipped++
				return nil
			}
			res.Updated++
			return nil
		}

		if _, err := s.AddScript(source); err != nil {
			s.logger.Warn("Skipping script that failed validation.",
				zap.String("path", path), zap.Error(err))
			res.Skipped++
			return nil
		}
		res.Added++
		return nil
	})
	return res, err
}

// FetchGitHub retrieves a script source from a "github:owner/repo/path"
// reference through the GitHub contents API. The token is optional for
// public repositories.
func FetchGitHub(ctx context.Context, ref, token string) (string, error) {
	spec, ok := strings.CutPrefix(ref, "github:")
	if !ok {
		return "", fmt.Errorf("not a github reference: %q", ref)
	}
	parts := strings.SplitN(spec, "/", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", fmt.Errorf("github reference %q must be github:owner/repo/path", ref)
	}

	client := github.NewClient(nil)
	if token != "" {
		client = client.WithAuthToken(token)
	}

	fc, _, _, err := client.Repositories.GetContents(ctx, parts[0], parts[1], parts[2], nil)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %q: %w", ref, err)
	}
	if fc == nil {
		return "", fmt.Errorf("%q is a directory, not a script file", ref)
	}
	content, err := fc.GetContent()
	if err != nil {
		return "", fmt.Errorf("failed to decode %q: %w", ref, err)
	}
	return content, nil
}
