package packager

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Johnshah/My/internal/core"
	"github.com/Johnshah/My/internal/data"
	"github.com/Johnshah/My/internal/domain/model"
	apperrors "github.com/Johnshah/My/internal/errors"
)

func sampleProject() *core.Project {
	p := core.NewProject("notes")
	p.Put("README.md", []byte("# Notes\n"))
	p.Put("docs/ARCHITECTURE.md", []byte("arch\n"))
	p.Put("web/src/main.js", []byte("main\n"))
	p.Put("android/app/build.gradle.kts", []byte("gradle\n"))
	return p
}

func readZip(t *testing.T, store core.ArtifactStore, key string) map[string]string {
	t.Helper()
	rc, info, err := store.Open(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, "application/zip", info.ContentType)

	raw, err := io.ReadAll(rc)
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	require.NoError(t, err)

	out := make(map[string]string)
	for _, f := range zr.File {
		r, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(r)
		require.NoError(t, err)
		_ = r.Close()
		out[f.Name] = string(b)
	}
	return out
}

func TestBuilder_BuildPerPlatform(t *testing.T) {
	store, err := data.NewFileArtifactStore(t.TempDir())
	require.NoError(t, err)
	b := NewBuilder(BuilderOptions{Store: store})

	key, err := b.Build(context.Background(), core.BuildRequest{
		JobID: "job-1", Platform: model.PlatformWeb, Project: sampleProject(),
	})
	require.NoError(t, err)
	assert.Equal(t, "job-1/web.zip", key)

	files := readZip(t, store, key)
	assert.Equal(t, map[string]string{
		"notes/README.md":            "# Notes\n",
		"notes/docs/ARCHITECTURE.md": "arch\n",
		"notes/web/src/main.js":      "main\n",
	}, files)

	key, err = b.Build(context.Background(), core.BuildRequest{
		JobID: "job-1", Platform: model.PlatformAndroid, Project: sampleProject(),
	})
	require.NoError(t, err)
	assert.Contains(t, readZip(t, store, key), "notes/android/app/build.gradle.kts")
	assert.NotContains(t, readZip(t, store, key), "notes/web/src/main.js")
}

func TestBuilder_Deterministic(t *testing.T) {
	var first []byte
	for range 2 {
		var buf bytes.Buffer
		p := sampleProject()
		require.NoError(t, writeArchive(&buf, p, Select(p, model.PlatformWeb)))
		if first == nil {
			first = buf.Bytes()
			continue
		}
		assert.Equal(t, first, buf.Bytes())
	}
}

type failingStore struct{ core.ArtifactStore }

func (failingStore) Put(_ context.Context, _ string, r io.Reader) (*core.ArtifactInfo, error) {
	_, _ = io.Copy(io.Discard, r)
	return nil, errors.New("disk full")
}

func TestBuilder_Failures(t *testing.T) {
	ctx := context.Background()

	_, err := NewBuilder(BuilderOptions{Store: failingStore{}}).Build(ctx, core.BuildRequest{
		JobID: "j", Platform: model.PlatformWeb, Project: sampleProject(),
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsBuildFailed(err))
	assert.Contains(t, apperrors.GetMessage(err), "disk full")

	store, err := data.NewFileArtifactStore(t.TempDir())
	require.NoError(t, err)
	b := NewBuilder(BuilderOptions{Store: store})

	_, err = b.Build(ctx, core.BuildRequest{JobID: "j", Platform: "tv", Project: sampleProject()})
	assert.True(t, apperrors.IsBuildFailed(err))

	_, err = b.Build(ctx, core.BuildRequest{JobID: "j", Platform: model.PlatformWeb})
	assert.True(t, apperrors.IsBuildFailed(err))

	empty := core.NewProject("x")
	empty.Put("ios/App.swift", []byte("x"))
	_, err = b.Build(ctx, core.BuildRequest{JobID: "j", Platform: model.PlatformWeb, Project: empty})
	assert.True(t, apperrors.IsBuildFailed(err))
}
