package prompts

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/hochfrequenz/adw-orchestrator/internal/domain"
)

// Loader manages prompt templates with override support.
type Loader struct {
	overrideDirs []string // Checked in priority order before the embedded templates
	cache        map[string]*template.Template
	metaCache    map[string]*TemplateMeta
	mu           sync.RWMutex
}

// TemplateMeta holds the frontmatter of a phase template.
type TemplateMeta struct {
	ID          string `yaml:"id"`
	Phase       string `yaml:"phase"`
	Description string `yaml:"description"`
}

// NewLoader creates a loader with the given override directories.
// Directories are checked in order; first match wins.
func NewLoader(overrideDirs ...string) *Loader {
	return &Loader{
		overrideDirs: overrideDirs,
		cache:        make(map[string]*template.Template),
		metaCache:    make(map[string]*TemplateMeta),
	}
}

// DefaultLoader creates a loader with the standard override paths:
//  1. extra, when configured
//  2. Project-local: <workingDir>/.adw/prompts/
//  3. User config: ~/.config/adw-orchestrator/prompts/
func DefaultLoader(workingDir, extra string) *Loader {
	var dirs []string
	if extra != "" {
		dirs = append(dirs, extra)
	}
	if workingDir != "" {
		dirs = append(dirs, filepath.Join(workingDir, ".adw", "prompts"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".config", "adw-orchestrator", "prompts"))
	}
	return NewLoader(dirs...)
}

// loadContent loads raw content from override dirs or the embedded FS.
func (l *Loader) loadContent(name string) ([]byte, error) {
	for _, dir := range l.overrideDirs {
		if data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(name))); err == nil {
			return data, nil
		}
	}
	return fs.ReadFile(embeddedFS, name)
}

// parseFrontmatter splits content into frontmatter and body.
func parseFrontmatter(content []byte) (*TemplateMeta, string, error) {
	str := strings.ReplaceAll(string(content), "\r\n", "\n")

	if !strings.HasPrefix(str, "---\n") {
		return nil, str, nil
	}

	end := strings.Index(str[4:], "\n---\n")
	if end == -1 {
		return nil, str, nil // Malformed, treat as no frontmatter
	}

	frontmatter := str[4 : 4+end]
	body := str[4+end+5:]

	var meta TemplateMeta
	if err := yaml.Unmarshal([]byte(frontmatter), &meta); err != nil {
		return nil, "", fmt.Errorf("parse frontmatter: %w", err)
	}
	return &meta, body, nil
}

// LoadTemplate loads and parses a template by path (e.g. "phases/plan.md").
func (l *Loader) LoadTemplate(name string) (*template.Template, *TemplateMeta, error) {
	l.mu.RLock()
	if tmpl, ok := l.cache[name]; ok {
		meta := l.metaCache[name]
		l.mu.RUnlock()
		return tmpl, meta, nil
	}
	l.mu.RUnlock()

	content, err := l.loadContent(name)
	if err != nil {
		return nil, nil, fmt.Errorf("load %s: %w", name, err)
	}

	meta, body, err := parseFrontmatter(content)
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", name, err)
	}

	tmpl, err := template.New(name).Option("missingkey=error").Parse(body)
	if err != nil {
		return nil, nil, fmt.Errorf("compile template %s: %w", name, err)
	}

	l.mu.Lock()
	l.cache[name] = tmpl
	l.metaCache[name] = meta
	l.mu.Unlock()

	return tmpl, meta, nil
}

// Execute loads and executes a template with the given data.
func (l *Loader) Execute(name string, data any) (string, error) {
	tmpl, _, err := l.LoadTemplate(name)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// PhaseData holds template variables for phase prompts.
type PhaseData struct {
	Prompt      string
	TaskType    string
	RunID       string
	RunDir      string // Relative to WorkingDir
	WorkingDir  string
	Attempt     int
	MaxAttempts int
	AutoFix     bool
}

func phaseTemplate(phase domain.PhaseName) string {
	return path.Join("phases", string(phase)+".md")
}

// BuildPhasePrompt renders the instruction for one phase invocation.
func (l *Loader) BuildPhasePrompt(phase domain.PhaseName, data PhaseData) (string, error) {
	return l.Execute(phaseTemplate(phase), data)
}

// Validate loads every phase template so a broken override fails before
// any child is started.
func (l *Loader) Validate() error {
	for _, phase := range []domain.PhaseName{domain.PhasePlan, domain.PhaseBuild, domain.PhaseTest} {
		if _, _, err := l.LoadTemplate(phaseTemplate(phase)); err != nil {
			return err
		}
	}
	return nil
}

// ClearCache clears the template cache.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	l.cache = make(map[string]*template.Template)
	l.metaCache = make(map[string]*TemplateMeta)
	l.mu.Unlock()
}
