// Package config holds the daemon configuration and the versioned,
// immutable core-threshold records. Threshold tunings ship as a new named
// version; a shipped version is never edited, so historical signals stay
// reproducible against the exact version they were generated under.
package config

import (
	"fmt"
	"sort"
	"sync"

	"github.com/oddsworks/linesignal/pkg/execution"
	"github.com/oddsworks/linesignal/pkg/movement"
	"github.com/oddsworks/linesignal/pkg/odds"
	"github.com/oddsworks/linesignal/pkg/portfolio"
	"github.com/oddsworks/linesignal/pkg/signal"
)

// CoreVersion is one frozen set of pipeline thresholds. Every pipeline
// invocation receives its version explicitly; there is no process-wide
// active-version default.
type CoreVersion struct {
	Name      string
	Estimator *odds.EstimatorConfig
	Detector  *movement.Config
	Builder   *signal.BuilderConfig
	Gate      *signal.GateConfig
	Execution *execution.Config
	Sizer     *portfolio.SizerConfig
	Score     *portfolio.ScoreConfig
	Selector  *portfolio.SelectorConfig
}

// Registry maps version names to frozen records. Registration of an
// existing name is an error, never an overwrite.
type Registry struct {
	mu       sync.RWMutex
	versions map[string]*CoreVersion
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{versions: make(map[string]*CoreVersion)}
}

// Register adds a version. The record must not be mutated after
// registration.
func (r *Registry) Register(v *CoreVersion) error {
	if v == nil || v.Name == "" {
		return fmt.Errorf("version must have a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.versions[v.Name]; exists {
		return fmt.Errorf("version %q already registered, thresholds ship as a new version", v.Name)
	}
	r.versions[v.Name] = v
	return nil
}

// Get returns the named version.
func (r *Registry) Get(name string) (*CoreVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.versions[name]
	if !ok {
		return nil, fmt.Errorf("unknown core version %q", name)
	}
	return v, nil
}

// Names returns the registered version names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.versions))
	for name := range r.versions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// VersionV1 is the initial shipped threshold set.
const VersionV1 = "v1"

// DefaultRegistry returns a registry holding v1 built from each
// component's defaults.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	// Defaults cannot collide in a fresh registry.
	_ = r.Register(&CoreVersion{
		Name:      VersionV1,
		Estimator: odds.DefaultEstimatorConfig(),
		Detector:  movement.DefaultConfig(),
		Builder:   signal.DefaultBuilderConfig(),
		Gate:      signal.DefaultGateConfig(),
		Execution: execution.DefaultConfig(),
		Sizer:     portfolio.DefaultSizerConfig(),
		Score:     portfolio.DefaultScoreConfig(),
		Selector:  portfolio.DefaultSelectorConfig(),
	})
	return r
}
