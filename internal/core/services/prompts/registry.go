package prompts

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strings"
	"sync"
	"text/template"
)

//go:embed templates
var templateFS embed.FS

// DefaultVersion is used whenever a requested version is blank or malformed
const DefaultVersion = "v1"

var versionPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Template file names every version must provide
const (
	tmplDebaterASystem = "debater_a_system.tmpl"
	tmplDebaterBSystem = "debater_b_system.tmpl"
	tmplJudgeSystem    = "judge_system.tmpl"
	tmplDebaterUser    = "debater_user.tmpl"
	tmplJudgeUser      = "judge_user.tmpl"
)

var requiredTemplates = []string{
	tmplDebaterASystem,
	tmplDebaterBSystem,
	tmplJudgeSystem,
	tmplDebaterUser,
	tmplJudgeUser,
}

// Registry maps prompt versions to parsed template sets
type Registry struct {
	mu       sync.RWMutex
	versions map[string]*template.Template
	aliases  map[string]string
}

// Global registry instance
var globalRegistry = NewRegistry()

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{
		versions: make(map[string]*template.Template),
		aliases:  make(map[string]string),
	}
}

// Register adds a template set under version with optional aliases
func (r *Registry) Register(version string, set *template.Template, aliases ...string) error {
	for _, name := range requiredTemplates {
		if set.Lookup(name) == nil {
			return fmt.Errorf("prompt version %s is missing %s", version, name)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.versions[version] = set
	for _, alias := range aliases {
		r.aliases[alias] = version
	}
	return nil
}

// Get resolves a version or alias. Unknown versions fall back to DefaultVersion.
func (r *Registry) Get(identifier string) (*template.Template, string, error) {
	version := NormalizeVersion(identifier)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if target, ok := r.aliases[version]; ok {
		version = target
	}
	if set, ok := r.versions[version]; ok {
		return set, version, nil
	}
	if set, ok := r.versions[DefaultVersion]; ok {
		return set, DefaultVersion, nil
	}
	return nil, "", fmt.Errorf("prompt version '%s' not found. Available: %v", identifier, r.listLocked())
}

// ListAvailable returns registered versions, sorted
func (r *Registry) ListAvailable() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listLocked()
}

func (r *Registry) listLocked() []string {
	versions := make([]string, 0, len(r.versions))
	for v := range r.versions {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions
}

// NormalizeVersion trims the input and rejects anything outside [A-Za-z0-9_-]
func NormalizeVersion(version string) string {
	v := strings.TrimSpace(version)
	if v == "" || !versionPattern.MatchString(v) {
		return DefaultVersion
	}
	return v
}

// loadEmbedded registers every directory under templates/ as a version
func loadEmbedded(r *Registry, fsys fs.FS) error {
	entries, err := fs.ReadDir(fsys, "templates")
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if !entry.IsDir() || !versionPattern.MatchString(entry.Name()) {
			continue
		}
		set, err := template.New(entry.Name()).
			Option("missingkey=error").
			ParseFS(fsys, path.Join("templates", entry.Name(), "*.tmpl"))
		if err != nil {
			return fmt.Errorf("parse prompt version %s: %w", entry.Name(), err)
		}

		var aliases []string
		if entry.Name() == DefaultVersion {
			aliases = []string{"default", "latest"}
		}
		if err := r.Register(entry.Name(), set, aliases...); err != nil {
			return err
		}
	}
	return nil
}

// init registers the embedded prompt versions
func init() {
	if err := loadEmbedded(globalRegistry, templateFS); err != nil {
		panic(fmt.Sprintf("prompts: %v", err))
	}
}
