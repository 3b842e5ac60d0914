// Package packager implements core.Builder by zipping a project per platform
// into the artifact store.
package packager

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/Johnshah/My/internal/core"
	"github.com/Johnshah/My/internal/domain/model"
	apperrors "github.com/Johnshah/My/internal/errors"
)

// entryTime is stamped on every archive entry so identical projects produce
// identical archives.
var entryTime = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

var allPlatforms = []model.Platform{
	model.PlatformWeb, model.PlatformAndroid, model.PlatformIOS, model.PlatformDesktop,
}

// BuilderOptions configures a Builder.
type BuilderOptions struct {
	Store  core.ArtifactStore
	Logger *slog.Logger
}

// Builder writes <job_id>/<platform>.zip archives.
type Builder struct {
	store  core.ArtifactStore
	logger *slog.Logger
}

var _ core.Builder = (*Builder)(nil)

// NewBuilder creates a Builder backed by opts.Store.
func NewBuilder(opts BuilderOptions) *Builder {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{store: opts.Store, logger: logger.With("component", "packager")}
}

// ArtifactKey returns the store key of a job's package for platform.
func ArtifactKey(jobID string, platform model.Platform) string {
	return jobID + "/" + string(platform) + ".zip"
}

// Build archives the shared files plus the platform's own directory.
func (b *Builder) Build(ctx context.Context, req core.BuildRequest) (string, error) {
	if b.store == nil {
		return "", apperrors.BuildFailed("no artifact store configured")
	}
	if req.Project == nil {
		return "", apperrors.BuildFailed("no project to package")
	}
	if !req.Platform.Valid() {
		return "", apperrors.BuildFailed(fmt.Sprintf("unsupported platform %q", req.Platform))
	}

	paths := Select(req.Project, req.Platform)
	if len(paths) == 0 {
		return "", apperrors.BuildFailed(fmt.Sprintf("nothing to package for %s", req.Platform))
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(writeArchive(pw, req.Project, paths))
	}()

	key := ArtifactKey(req.JobID, req.Platform)
	info, err := b.store.Put(ctx, key, pr)
	_ = pr.Close()
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", apperrors.BuildFailed(fmt.Sprintf("package %s: %v", req.Platform, err))
	}

	b.logger.InfoContext(ctx, "package written",
		"job_id", req.JobID,
		"platform", req.Platform,
		"key", info.Key,
		"files", len(paths),
		"bytes", info.Size)
	return key, nil
}

// Select returns the project paths that belong in platform's package, in
// lexical order: every path outside the platform directories plus the
// platform's own directory.
func Select(project *core.Project, platform model.Platform) []string {
	var out []string
	for _, p := range project.Paths() {
		owner := platformOf(p)
		if owner == "" || owner == platform {
			out = append(out, p)
		}
	}
	return out
}

func platformOf(path string) model.Platform {
	for _, p := range allPlatforms {
		if strings.HasPrefix(path, string(p)+"/") {
			return p
		}
	}
	return ""
}

func writeArchive(w io.Writer, project *core.Project, paths []string) error {
	zw := zip.NewWriter(w)
	root := project.Name
	if root == "" {
		root = "app"
	}
	for _, p := range paths {
		f, err := zw.CreateHeader(&zip.FileHeader{
			Name:     root + "/" + p,
			Method:   zip.Deflate,
			Modified: entryTime,
		})
		if err != nil {
			return fmt.Errorf("add %s: %w", p, err)
		}
		if _, err = f.Write(project.Files[p]); err != nil {
			return fmt.Errorf("write %s: %w", p, err)
		}
	}
	return zw.Close()
}
