// Package gitsource probes and analyzes git repositories used as generation input.
package gitsource

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"slices"
	"strings"

	enry "github.com/go-enry/go-enry/v2"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/storage/memory"
	gitignore "github.com/sabhiram/go-gitignore"
	giturls "github.com/whilp/git-urls"
	"golang.org/x/net/publicsuffix"

	"github.com/Johnshah/My/internal/core"
	"github.com/Johnshah/My/internal/domain/model"
	apperrors "github.com/Johnshah/My/internal/errors"
)

// sniffBytes bounds how much of each file is read for language detection.
const sniffBytes = 16 * 1024

var defaultIgnorePatterns = []string{
	".git/",
	"node_modules/",
	"vendor/",
	"dist/",
	"build/",
	"*.min.js",
	"*.lock",
}

// AnalyzerOptions configure an Analyzer.
type AnalyzerOptions struct {
	// AllowedHosts lists registrable domains (eTLD+1) that may be cloned. Empty allows any host.
	AllowedHosts []string
	// AllowFileURLs permits local repositories; intended for tests and air-gapped setups.
	AllowFileURLs bool
	CloneDepth    int
	MaxFiles      int
	Logger        *slog.Logger
}

// Analyzer implements core.SourceAnalyzer with an in-memory go-git client.
type Analyzer struct {
	allowed       map[string]struct{}
	allowFileURLs bool
	depth         int
	maxFiles      int
	logger        *slog.Logger
}

// NewAnalyzer constructs an Analyzer.
func NewAnalyzer(opts AnalyzerOptions) *Analyzer {
	allowed := make(map[string]struct{}, len(opts.AllowedHosts))
	for _, h := range opts.AllowedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			allowed[registrableDomain(h)] = struct{}{}
		}
	}
	depth := opts.CloneDepth
	if depth <= 0 {
		depth = 1
	}
	maxFiles := opts.MaxFiles
	if maxFiles <= 0 {
		maxFiles = 5000
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		allowed:       allowed,
		allowFileURLs: opts.AllowFileURLs,
		depth:         depth,
		maxFiles:      maxFiles,
		logger:        logger.With("component", "gitsource"),
	}
}

// Probe validates the reference and lists the remote's refs without cloning.
func (a *Analyzer) Probe(ctx context.Context, ref model.SourceRef) error {
	cloneURL, err := a.checkURL(ref.URL)
	if err != nil {
		return err
	}

	remote := git.NewRemote(memory.NewStorage(), &config.RemoteConfig{Name: "origin", URLs: []string{cloneURL}})
	refs, err := remote.ListContext(ctx, &git.ListOptions{})
	if err != nil {
		return unavailable(ref, err)
	}
	if ref.Ref == "" || plumbing.IsHash(ref.Ref) {
		return nil
	}
	for _, r := range refs {
		if r.Name().Short() == ref.Ref {
			return nil
		}
	}
	return apperrors.SourceUnavailable(fmt.Sprintf("ref %q not found in %s", ref.Ref, ref.URL), nil)
}

// Analyze shallow-clones the repository into memory and summarises its files.
func (a *Analyzer) Analyze(ctx context.Context, ref model.SourceRef) (*core.SourceReport, error) {
	cloneURL, err := a.checkURL(ref.URL)
	if err != nil {
		return nil, err
	}

	repo, err := a.clone(ctx, cloneURL, ref.Ref)
	if err != nil {
		return nil, unavailable(ref, err)
	}
	head, err := repo.Head()
	if err != nil {
		return nil, unavailable(ref, err)
	}
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("read head commit: %w", err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("read tree: %w", err)
	}

	report := &core.SourceReport{
		URL:       ref.URL,
		Ref:       ref.Ref,
		Commit:    commit.Hash.String(),
		Languages: make(map[string]int),
	}
	if err = a.walk(ctx, tree, report); err != nil {
		return nil, err
	}
	report.Primary = primaryLanguage(report.Languages)

	a.logger.InfoContext(ctx, "source analyzed",
		"url", ref.URL, "commit", report.Commit, "files", report.Files, "primary", report.Primary)
	return report, nil
}

func (a *Analyzer) clone(ctx context.Context, cloneURL, ref string) (*git.Repository, error) {
	opts := &git.CloneOptions{
		URL:          cloneURL,
		Depth:        a.depth,
		SingleBranch: true,
		Tags:         git.NoTags,
	}
	if u, err := giturls.Parse(cloneURL); err == nil && u.Scheme == "file" {
		// Local transports do not support shallow fetches.
		opts.Depth = 0
	}
	if ref == "" {
		return git.CloneContext(ctx, memory.NewStorage(), nil, opts)
	}

	var lastErr error
	for _, name := range []plumbing.ReferenceName{
		plumbing.NewBranchReferenceName(ref),
		plumbing.NewTagReferenceName(ref),
	} {
		opts.ReferenceName = name
		repo, err := git.CloneContext(ctx, memory.NewStorage(), nil, opts)
		if err == nil {
			return repo, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (a *Analyzer) walk(ctx context.Context, tree *object.Tree, report *core.SourceReport) error {
	matcher := gitignore.CompileIgnoreLines(append(rootIgnoreLines(tree), defaultIgnorePatterns...)...)

	err := tree.Files().ForEach(func(f *object.File) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if report.Files >= a.maxFiles {
			return storer.ErrStop
		}
		// Dotfiles are tool configuration, not source; .gitignore is read above.
		if matcher.MatchesPath(f.Name) || enry.IsDotFile(f.Name) || enry.IsVendor(f.Name) {
			return nil
		}
		if binary, binErr := f.IsBinary(); binErr != nil || binary {
			return nil
		}

		report.Files++
		content, readErr := sniff(f)
		if readErr != nil {
			return fmt.Errorf("read %s: %w", f.Name, readErr)
		}
		if lang := enry.GetLanguage(path.Base(f.Name), content); lang != "" {
			report.Languages[lang]++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk tree: %w", err)
	}
	return nil
}

// checkURL parses raw as a git URL and enforces the scheme and host rules.
func (a *Analyzer) checkURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := giturls.Parse(raw)
	if err != nil || raw == "" {
		return "", apperrors.InvalidRequest("source.url", fmt.Sprintf("invalid repository url %q", raw))
	}

	switch u.Scheme {
	case "https", "http", "ssh", "git":
	case "file":
		if !a.allowFileURLs {
			return "", apperrors.InvalidRequest("source.url", "local repositories are not accepted")
		}
		return raw, nil
	default:
		return "", apperrors.InvalidRequest("source.url", fmt.Sprintf("unsupported scheme %q", u.Scheme))
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", apperrors.InvalidRequest("source.url", "repository url has no host")
	}
	if len(a.allowed) > 0 {
		if _, ok := a.allowed[registrableDomain(host)]; !ok {
			return "", apperrors.SourceUnavailable(fmt.Sprintf("host %s is not an allowed source host", host), nil)
		}
	}
	return normalizedURL(raw, u), nil
}

// normalizedURL keeps scp-style ssh references as written and re-serialises the rest.
func normalizedURL(raw string, u *url.URL) string {
	if u.Scheme == "ssh" && !strings.HasPrefix(raw, "ssh://") {
		return raw
	}
	return u.String()
}

func registrableDomain(host string) string {
	if d, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return d
	}
	return host
}

func unavailable(ref model.SourceRef, err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	msg := fmt.Sprintf("repository %s is unreachable", ref.URL)
	switch {
	case errors.Is(err, transport.ErrRepositoryNotFound):
		msg = fmt.Sprintf("repository %s does not exist", ref.URL)
	case errors.Is(err, transport.ErrAuthenticationRequired), errors.Is(err, transport.ErrAuthorizationFailed):
		msg = fmt.Sprintf("repository %s requires credentials", ref.URL)
	case errors.Is(err, transport.ErrEmptyRemoteRepository):
		msg = fmt.Sprintf("repository %s is empty", ref.URL)
	case errors.Is(err, context.DeadlineExceeded):
		msg = fmt.Sprintf("repository %s timed out", ref.URL)
	}
	return apperrors.SourceUnavailable(msg, err)
}

func rootIgnoreLines(tree *object.Tree) []string {
	f, err := tree.File(".gitignore")
	if err != nil {
		return nil
	}
	contents, err := f.Contents()
	if err != nil {
		return nil
	}
	var lines []string
	for _, line := range strings.Split(contents, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "#") {
			lines = append(lines, line)
		}
	}
	return lines
}

func sniff(f *object.File) ([]byte, error) {
	r, err := f.Reader()
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(io.LimitReader(r, sniffBytes))
}

func primaryLanguage(langs map[string]int) string {
	type entry struct {
		name  string
		count int
	}
	entries := make([]entry, 0, len(langs))
	for name, count := range langs {
		entries = append(entries, entry{name, count})
	}
	if len(entries) == 0 {
		return ""
	}
	slices.SortFunc(entries, func(x, y entry) int {
		if c := cmp.Compare(y.count, x.count); c != 0 {
			return c
		}
		return cmp.Compare(x.name, y.name)
	})
	return entries[0].name
}

var _ core.SourceAnalyzer = (*Analyzer)(nil)
