package language

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/isdmx/jobbox/config"
	"github.com/isdmx/jobbox/sandbox"
)

// Registry maps language tags (and their aliases) to runners
type Registry struct {
	mu      sync.RWMutex
	runners map[string]Runner
	aliases map[string]string
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		runners: make(map[string]Runner),
		aliases: make(map[string]string),
	}
}

// NewRegistryFromConfig registers a ScriptRunner for every allowed language.
// Languages that are defined but not allowed stay unregistered.
func NewRegistryFromConfig(logger *zap.Logger, cfg *config.Config, executor sandbox.Executor) (*Registry, error) {
	registry := NewRegistry()

	for _, name := range cfg.Sandbox.AllowedLanguages {
		def, ok := cfg.Languages[name]
		if !ok {
			return nil, fmt.Errorf("no definition for allowed language: %s", name)
		}

		runner := NewScriptRunner(executor, ScriptSpec{
			Name:        name,
			Interpreter: def.Interpreter,
			Args:        def.Args,
			Filename:    def.Filename,
			Environment: def.Environment,
		},
			WithLogger(logger.With(zap.String("language", name))),
			WithWorkdirRoot(cfg.Sandbox.WorkdirRoot),
		)
		registry.Register(name, runner, def.Aliases...)
	}

	logger.Info("language runners registered", zap.Strings("languages", registry.Names()))

	return registry, nil
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register adds runner under name. Re-registering a name replaces its runner.
func (r *Registry) Register(name string, runner Runner, aliases ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name = normalize(name)
	r.runners[name] = runner
	for _, alias := range aliases {
		if alias = normalize(alias); alias != "" && alias != name {
			r.aliases[alias] = name
		}
	}
}

// Canonical resolves a tag or alias to its registered language name
func (r *Registry) Canonical(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name = normalize(name)
	if _, ok := r.runners[name]; ok {
		return name, true
	}
	if target, ok := r.aliases[name]; ok {
		if _, ok := r.runners[target]; ok {
			return target, true
		}
	}
	return "", false
}

// Lookup returns the runner for a tag or alias
func (r *Registry) Lookup(name string) (Runner, error) {
	canonical, ok := r.Canonical(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, normalize(name))
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.runners[canonical], nil
}

// Names returns the registered language names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.runners))
	for name := range r.runners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
