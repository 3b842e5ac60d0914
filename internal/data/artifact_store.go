package data

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/Johnshah/My/internal/core"
	apperrors "github.com/Johnshah/My/internal/errors"
)

// FileArtifactStore keeps artifacts on the local filesystem under root/<job_id>/.
type FileArtifactStore struct {
	root string
}

// NewFileArtifactStore creates root if needed.
func NewFileArtifactStore(root string) (*FileArtifactStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("artifact root is required")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	return &FileArtifactStore{root: root}, nil
}

// resolve maps a slash-separated key to a path inside root.
func (s *FileArtifactStore) resolve(key string) (string, error) {
	clean := path.Clean("/" + key)[1:]
	if clean == "" || clean != key || strings.Contains(key, `\`) {
		return "", fmt.Errorf("%w: %q", ErrArtifactKeyInvalid, key)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// Put writes r to key atomically: readers never observe a partial artifact.
func (s *FileArtifactStore) Put(ctx context.Context, key string, r io.Reader) (*core.ArtifactInfo, error) {
	dst, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	if err = os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("create temp artifact: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = io.Copy(tmp, &ctxReader{ctx: ctx, r: r}); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("write artifact: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return nil, fmt.Errorf("close artifact: %w", err)
	}
	if err = os.Rename(tmp.Name(), dst); err != nil {
		return nil, fmt.Errorf("publish artifact: %w", err)
	}

	return s.stat(key, dst)
}

// Open returns a reader for key or a NotFound AppError.
func (s *FileArtifactStore) Open(_ context.Context, key string) (io.ReadCloser, *core.ArtifactInfo, error) {
	p, err := s.resolve(key)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, apperrors.NotFoundf("artifact %s not found", key)
		}
		return nil, nil, fmt.Errorf("open artifact: %w", err)
	}
	info, err := s.stat(key, p)
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	return f, info, nil
}

// DeleteJob removes every artifact of jobID.
func (s *FileArtifactStore) DeleteJob(_ context.Context, jobID string) error {
	if jobID == "" {
		return ErrJobIDRequired
	}
	dir, err := s.resolve(jobID)
	if err != nil {
		return err
	}
	if err = os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete artifacts: %w", err)
	}
	return nil
}

func (s *FileArtifactStore) stat(key, p string) (*core.ArtifactInfo, error) {
	fi, err := os.Stat(p)
	if err != nil {
		return nil, fmt.Errorf("stat artifact: %w", err)
	}
	return &core.ArtifactInfo{Key: key, Size: fi.Size(), ContentType: contentTypeFor(key), ModTime: fi.ModTime().UTC()}, nil
}

func contentTypeFor(key string) string {
	ext := path.Ext(key)
	if ext == ".zip" {
		return "application/zip"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

var _ core.ArtifactStore = (*FileArtifactStore)(nil)
