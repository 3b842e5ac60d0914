// Package scaffold implements a deterministic core.Generator from embedded
// text/template scaffolds, one file per progress unit.
package scaffold

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"text/template"
	"unicode"

	"github.com/Johnshah/My/internal/core"
	"github.com/Johnshah/My/internal/domain/model"
	apperrors "github.com/Johnshah/My/internal/errors"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

const defaultAppName = "Generated App"

// GeneratorOptions configures a Generator.
type GeneratorOptions struct {
	Logger *slog.Logger
	// PackagePrefix is prepended to the slug to form JVM package names.
	PackagePrefix string
}

// Generator emits a multi-platform project skeleton. It keeps no per-job state.
type Generator struct {
	tmpl   *template.Template
	prefix string
	logger *slog.Logger
}

var _ core.Generator = (*Generator)(nil)

// NewGenerator parses the embedded templates.
func NewGenerator(opts GeneratorOptions) (*Generator, error) {
	tmpl, err := template.New("scaffold").Option("missingkey=error").ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse scaffold templates: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	prefix := strings.Trim(opts.PackagePrefix, ".")
	if prefix == "" {
		prefix = "com.appgen"
	}
	return &Generator{
		tmpl:   tmpl,
		prefix: prefix,
		logger: logger.With("component", "scaffold_generator"),
	}, nil
}

// unit is one reportable step of a phase. It returns an error only for
// substantive failures.
type unit struct {
	path string
	run  func(project *core.Project) error
}

// view is the data handed to every template.
type view struct {
	AppName   string
	Slug      string
	Ident     string
	Package   string
	Prompt    string
	Phase     string
	Mode      model.JobMode
	Platforms []model.Platform
	Platform  model.Platform
	Source    *core.SourceReport
	Files     []string
}

// Generate emits the files bound to req.Phase, reporting one unit per file.
func (g *Generator) Generate(ctx context.Context, req core.GenerateRequest, project *core.Project, onUnit core.UnitFunc) error {
	if project == nil {
		return apperrors.GenerationFailed("no project to write into")
	}
	v := g.newView(req)
	units := g.plan(strings.ToLower(strings.TrimSpace(req.Phase.Name)), v)

	total := len(units)
	for i, u := range units {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := u.run(project); err != nil {
			return err
		}
		if onUnit != nil {
			onUnit(i+1, total)
		}
	}
	g.logger.DebugContext(ctx, "phase generated",
		"job_id", req.JobID,
		"phase", req.Phase.Name,
		"units", total,
		"files", len(project.Files))
	return nil
}

func (g *Generator) newView(req core.GenerateRequest) view {
	name := strings.TrimSpace(req.AppName)
	if name == "" {
		name = appNameFrom(req.Prompt, req.Source)
	}
	slug := slugify(name)
	return view{
		AppName:   name,
		Slug:      slug,
		Ident:     identifier(name),
		Package:   g.prefix + "." + strings.ReplaceAll(slug, "-", ""),
		Prompt:    req.Prompt,
		Phase:     req.Phase.Name,
		Mode:      req.Mode,
		Platforms: req.Platforms,
		Source:    req.Source,
	}
}

func (g *Generator) plan(phaseName string, v view) []unit {
	switch phaseName {
	case "requirements analysis", "architecture validation":
		return []unit{g.render("docs/REQUIREMENTS.md", "requirements.md.tmpl", v)}
	case "architecture planning", "file structure planning":
		return []unit{g.render("docs/ARCHITECTURE.md", "architecture.md.tmpl", v)}
	case "dependency resolution":
		return g.perPlatform(v, roleManifest)
	case "code generation":
		return g.perPlatform(v, roleManifest, roleEntry, roleComponent)
	case "core file generation":
		return g.perPlatform(v, roleEntry)
	case "component generation":
		return g.perPlatform(v, roleComponent)
	case "test suite":
		return g.perPlatform(v, roleTest)
	case "configuration":
		return g.configUnits(v)
	case "documentation":
		return []unit{g.readme(v)}
	case "project assembly":
		units := g.perPlatform(v, roleTest)
		units = append(units, g.configUnits(v)...)
		return append(units, g.readme(v))
	case "file validation":
		return []unit{{path: "", run: validateProject}}
	case "optimization":
		return []unit{{path: "", run: normalizeNewlines}}
	default:
		return []unit{g.render("docs/phases/"+slugify(v.Phase)+".md", "phase_notes.md.tmpl", v)}
	}
}

func (g *Generator) configUnits(v view) []unit {
	return []unit{
		g.render("config.json", "config.json.tmpl", v),
		g.render(".gitignore", "gitignore.tmpl", v),
	}
}

// readme lists the project's files as they stand when the unit runs.
func (g *Generator) readme(v view) unit {
	return unit{path: "README.md", run: func(p *core.Project) error {
		v.Files = p.Paths()
		return g.write(p, "README.md", "readme.md.tmpl", v)
	}}
}

func (g *Generator) perPlatform(v view, roles ...role) []unit {
	units := make([]unit, 0, len(v.Platforms)*len(roles))
	for _, p := range v.Platforms {
		pv := v
		pv.Platform = p
		for _, r := range roles {
			path := layoutPath(p, r, pv)
			if path == "" {
				continue
			}
			units = append(units, g.render(path, string(p)+"_"+string(r)+".tmpl", pv))
		}
	}
	return units
}

func (g *Generator) render(path, name string, v view) unit {
	return unit{path: path, run: func(p *core.Project) error {
		return g.write(p, path, name, v)
	}}
}

func (g *Generator) write(p *core.Project, path, name string, v view) error {
	var buf bytes.Buffer
	if err := g.tmpl.ExecuteTemplate(&buf, name, v); err != nil {
		return apperrors.GenerationFailed(fmt.Sprintf("render %s: %v", path, err))
	}
	p.Put(path, buf.Bytes())
	return nil
}

func validateProject(p *core.Project) error {
	if len(p.Files) == 0 {
		return apperrors.GenerationFailed("project is empty")
	}
	for _, path := range p.Paths() {
		if len(bytes.TrimSpace(p.Files[path])) == 0 {
			return apperrors.GenerationFailed(fmt.Sprintf("%s is empty", path))
		}
	}
	return nil
}

func normalizeNewlines(p *core.Project) error {
	for path, content := range p.Files {
		trimmed := bytes.TrimRight(content, " \t\r\n")
		p.Files[path] = append(trimmed, '\n')
	}
	return nil
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(s string) string {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(s), "-"), "-")
	if slug == "" {
		return "app"
	}
	return slug
}

// identifier returns an UpperCamelCase name usable in Swift and Kotlin.
func identifier(s string) string {
	var b strings.Builder
	upper := true
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			upper = true
			continue
		}
		if r > unicode.MaxASCII {
			continue
		}
		if b.Len() == 0 && unicode.IsDigit(r) {
			b.WriteString("App")
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		b.WriteRune(r)
	}
	if b.Len() == 0 {
		return "App"
	}
	return b.String()
}

// appNameFrom takes the first few words of the prompt, or the repository name.
func appNameFrom(prompt string, src *core.SourceReport) string {
	words := strings.Fields(prompt)
	if len(words) > 4 {
		words = words[:4]
	}
	if len(words) > 0 {
		for i, w := range words {
			words[i] = strings.Trim(w, ".,;:!?\"'")
		}
		if name := strings.TrimSpace(strings.Join(words, " ")); name != "" {
			return name
		}
	}
	if src != nil && src.URL != "" {
		base := src.URL[strings.LastIndexAny(src.URL, "/:")+1:]
		if base = strings.TrimSuffix(base, ".git"); base != "" {
			return base
		}
	}
	return defaultAppName
}
