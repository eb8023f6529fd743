package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/go-github/v68/github"

	"ghchrono/internal/bootstrap/logging"
	"ghchrono/internal/domain/activity"
	"ghchrono/internal/errs"
)

// DefaultPaths are the ownership and contribution files fetched when the
// caller names none.
var DefaultPaths = []string{
	"CODEOWNERS",
	".github/CODEOWNERS",
	"docs/CODEOWNERS",
	"CONTRIBUTING.md",
	".github/CONTRIBUTING.md",
	"docs/CONTRIBUTING.md",
}

type ContentFetcher interface {
	GetContent(ctx context.Context, owner, repo, path, ref string) (*github.RepositoryContent, bool, error)
}

type Entry struct {
	Path          string `json:"path"`
	ContentSHA256 string `json:"content_sha256"`
	BlobSHA       string `json:"blob_sha"`
	SourceURL     string `json:"source_url"`
	Size          int    `json:"size"`
}

type Manifest struct {
	Repo    string  `json:"repo"`
	BaseSHA string  `json:"base_sha"`
	Files   []Entry `json:"files"`
}

// Service pins repository files at a commit for ownership consumers.
type Service struct {
	fetcher ContentFetcher
	dir     string
}

func NewService(fetcher ContentFetcher, dir string) *Service {
	return &Service{fetcher: fetcher, dir: dir}
}

// Fetch stores each existing path at sha under
// {dir}/{owner}__{name}/repo_artifacts/{sha}/ and writes manifest.json next to
// the files. Missing paths are skipped.
func (s *Service) Fetch(ctx context.Context, repo activity.RepoRef, sha string, paths []string) (Manifest, string, error) {
	if ctx == nil {
		return Manifest{}, "", errors.New("context is required")
	}
	sha = strings.TrimSpace(sha)
	if sha == "" || strings.ContainsAny(sha, `/\.`) {
		return Manifest{}, "", errors.New("commit sha is required")
	}
	if len(paths) == 0 {
		paths = DefaultPaths
	}
	logCtx := logging.WithAttrs(ctx, slog.String("component", "usecase.artifacts"), slog.String("repo", repo.FullName()), slog.String("sha", sha))

	root := filepath.Join(s.dir, repo.Owner+"__"+repo.Name, "repo_artifacts", sha)
	manifest := Manifest{Repo: repo.FullName(), BaseSHA: sha, Files: []Entry{}}
	for _, p := range paths {
		clean, err := cleanPath(p)
		if err != nil {
			return Manifest{}, "", err
		}
		content, found, err := s.fetcher.GetContent(ctx, repo.Owner, repo.Name, clean, sha)
		if err != nil {
			return Manifest{}, "", errs.Wrapf(err, "fetch %s", clean)
		}
		if !found || content.GetType() != "file" {
			logging.Debug(logCtx, "artifact not present", slog.String("path", clean))
			continue
		}
		body, err := content.GetContent()
		if err != nil {
			return Manifest{}, "", errs.Wrapf(err, "decode %s", clean)
		}

		target := filepath.Join(root, filepath.FromSlash(clean))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return Manifest{}, "", errs.Wrapf(err, "create directory for %s", clean)
		}
		if err := os.WriteFile(target, []byte(body), 0o644); err != nil {
			return Manifest{}, "", errs.Wrapf(err, "write %s", clean)
		}

		sum := sha256.Sum256([]byte(body))
		source := content.GetHTMLURL()
		if source == "" {
			source = content.GetURL()
		}
		manifest.Files = append(manifest.Files, Entry{
			Path:          clean,
			ContentSHA256: hex.EncodeToString(sum[:]),
			BlobSHA:       content.GetSHA(),
			SourceURL:     source,
			Size:          len(body),
		})
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return Manifest{}, "", errs.Wrap(err, "create artifact directory")
	}
	raw, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return Manifest{}, "", errs.Wrap(err, "marshal manifest")
	}
	manifestPath := filepath.Join(root, "manifest.json")
	if err := os.WriteFile(manifestPath, append(raw, '\n'), 0o644); err != nil {
		return Manifest{}, "", errs.Wrap(err, "write manifest")
	}

	logging.Info(logCtx, "artifacts pinned", slog.Int("files", len(manifest.Files)), slog.String("manifest", manifestPath))
	return manifest, manifestPath, nil
}

func cleanPath(p string) (string, error) {
	clean := path.Clean(strings.TrimPrefix(strings.TrimSpace(p), "/"))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", errs.Wrapf(errors.New("invalid artifact path"), "%q", p)
	}
	return clean, nil
}
