// Package llm implements core.Generator on top of the OpenAI chat completions API.
// Each phase is one completion that returns a JSON file map.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/Johnshah/My/internal/core"
	apperrors "github.com/Johnshah/My/internal/errors"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = "gpt-4o-mini"
	// DefaultTimeout bounds one completion call including retries.
	DefaultTimeout = 2 * time.Minute
	// DefaultMaxRetries is the number of retries after a rate limited call.
	DefaultMaxRetries = 3
	// DefaultBaseBackoff is the first retry delay; later delays double.
	DefaultBaseBackoff = 2 * time.Second
	// DefaultMaxBackoff caps the retry delay.
	DefaultMaxBackoff = 32 * time.Second
)

// ErrAPIKeyNotSet is returned by NewGenerator when no API key is configured.
var ErrAPIKeyNotSet = errors.New("openai api key not set")

// GeneratorOptions configures a Generator.
type GeneratorOptions struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// Generator asks a chat model for the files of each phase.
type Generator struct {
	client      openai.Client
	model       string
	timeout     time.Duration
	maxRetries  int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	logger      *slog.Logger
}

var _ core.Generator = (*Generator)(nil)

// NewGenerator builds a Generator. The SDK's own retries are disabled so
// rate limiting follows MaxRetries and the backoff settings.
func NewGenerator(opts GeneratorOptions) (*Generator, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, ErrAPIKeyNotSet
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}

	g := &Generator{
		client:      openai.NewClient(reqOpts...),
		model:       opts.Model,
		timeout:     opts.Timeout,
		maxRetries:  opts.MaxRetries,
		baseBackoff: opts.BaseBackoff,
		maxBackoff:  opts.MaxBackoff,
		logger:      opts.Logger,
	}
	if g.model == "" {
		g.model = DefaultModel
	}
	if g.timeout <= 0 {
		g.timeout = DefaultTimeout
	}
	if g.maxRetries < 0 {
		g.maxRetries = 0
	}
	if g.baseBackoff <= 0 {
		g.baseBackoff = DefaultBaseBackoff
	}
	if g.maxBackoff < g.baseBackoff {
		g.maxBackoff = max(DefaultMaxBackoff, g.baseBackoff)
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	g.logger = g.logger.With("component", "llm_generator", "model", g.model)
	return g, nil
}

// phaseOutput is the JSON document the model is asked to return.
type phaseOutput struct {
	Files []struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	} `json:"files"`
	Problems []string `json:"problems"`
}

// Generate runs one completion for req.Phase and writes the returned files.
// A non-empty problems list fails the phase.
func (g *Generator) Generate(ctx context.Context, req core.GenerateRequest, project *core.Project, onUnit core.UnitFunc) error {
	if project == nil {
		return apperrors.GenerationFailed("no project to write into")
	}
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	content, err := g.complete(callCtx, systemPrompt(req, project), userPrompt(req))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	var out phaseOutput
	if err = json.Unmarshal([]byte(content), &out); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeGenerationFailed,
			fmt.Sprintf("%s: model returned invalid JSON", req.Phase.Name))
	}
	if len(out.Problems) > 0 {
		return apperrors.GenerationFailed(fmt.Sprintf("%s: %s", req.Phase.Name, strings.Join(out.Problems, "; ")))
	}

	total := len(out.Files)
	for i, f := range out.Files {
		p, ok := cleanPath(f.Path)
		if !ok {
			return apperrors.GenerationFailed(fmt.Sprintf("%s: model returned unsafe path %q", req.Phase.Name, f.Path))
		}
		project.Put(p, []byte(f.Content))
		if onUnit != nil {
			onUnit(i+1, total)
		}
	}
	if total == 0 && onUnit != nil {
		onUnit(1, 1)
	}

	g.logger.DebugContext(ctx, "phase generated",
		"job_id", req.JobID,
		"phase", req.Phase.Name,
		"files", total)
	return nil
}

// complete calls the chat completions API, retrying rate limited calls with
// exponential backoff.
func (g *Generator) complete(ctx context.Context, system, user string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{Type: "json_object"},
		},
	}

	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			wait := g.backoff(attempt)
			g.logger.WarnContext(ctx, "rate limited, retrying", "attempt", attempt, "wait", wait)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(wait):
			}
		}

		completion, err := g.client.Chat.Completions.New(ctx, params)
		if err != nil {
			lastErr = err
			if isRateLimitError(err) {
				continue
			}
			return "", apperrors.Wrap(err, apperrors.ErrCodeGenerationFailed, "completion request failed")
		}
		if len(completion.Choices) == 0 {
			return "", apperrors.GenerationFailed("completion returned no choices")
		}
		return completion.Choices[0].Message.Content, nil
	}
	return "", apperrors.Wrap(lastErr, apperrors.ErrCodeGenerationFailed,
		fmt.Sprintf("rate limited after %d retries", g.maxRetries))
}

func (g *Generator) backoff(attempt int) time.Duration {
	d := g.baseBackoff << (attempt - 1)
	if d <= 0 || d > g.maxBackoff {
		return g.maxBackoff
	}
	return d
}

func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}

// cleanPath accepts relative slash paths that stay inside the project.
func cleanPath(p string) (string, bool) {
	p = strings.TrimSpace(p)
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, `\`) {
		return "", false
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", false
	}
	return clean, true
}

func systemPrompt(req core.GenerateRequest, project *core.Project) string {
	var b strings.Builder
	b.WriteString("You generate application source code one phase at a time.\n")
	fmt.Fprintf(&b, "Current phase: %s (%s mode).\n", req.Phase.Name, req.Mode)
	fmt.Fprintf(&b, "Target platforms: %s. Keep each platform's files under a directory named after it.\n",
		joinPlatforms(req))
	b.WriteString(`Reply with a JSON object {"files": [{"path": "...", "content": "..."}], "problems": []}. `)
	b.WriteString("Paths are relative. Only list problems when the existing files cannot be fixed in this phase.\n")
	if paths := project.Paths(); len(paths) > 0 {
		b.WriteString("Files already emitted:\n")
		for _, p := range paths {
			b.WriteString("- " + p + "\n")
		}
	}
	return b.String()
}

func userPrompt(req core.GenerateRequest) string {
	var b strings.Builder
	if req.AppName != "" {
		fmt.Fprintf(&b, "Application name: %s\n", req.AppName)
	}
	if req.Prompt != "" {
		fmt.Fprintf(&b, "Request: %s\n", req.Prompt)
	}
	if src := req.Source; src != nil {
		fmt.Fprintf(&b, "Base the application on the repository %s at commit %s (%d files, mostly %s).\n",
			src.URL, src.Commit, src.Files, src.Primary)
	}
	return b.String()
}

func joinPlatforms(req core.GenerateRequest) string {
	names := make([]string, len(req.Platforms))
	for i, p := range req.Platforms {
		names[i] = string(p)
	}
	return strings.Join(names, ", ")
}
