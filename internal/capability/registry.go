// Package capability maps model identifiers to the OpenAI API surface they
// must be called through.
//
// The registry merges three sources, checked in this order:
//
//  1. **Overrides**: exact model ids operators declared responses-only via
//     LLM_RESPONSES_ONLY_MODELS or the capabilities YAML file.
//  2. **Suffix patterns**: glob patterns such as "*-codex" for model
//     families that only exist on the Responses API.
//  3. **Allow-list**: known chat-completions model ids.
//
// Anything else defaults to chat completions. Overrides and suffix patterns
// are additive; an id listed both as an override and on the allow-list
// resolves to responses because overrides are checked first.
package capability

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/manatap/triage/pkg/models"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// DefaultResponsesSuffixes are the built-in responses-only patterns.
var DefaultResponsesSuffixes = []string{"*-codex", "*-pro", "*-deep-research"}

// DefaultChatCompletionsModels is the built-in allow-list.
var DefaultChatCompletionsModels = []string{
	"gpt-5", "gpt-5-mini", "gpt-5-nano", "gpt-5-chat-latest",
	"gpt-4.1", "gpt-4.1-mini", "gpt-4.1-nano",
	"gpt-4o", "gpt-4o-mini", "gpt-4-turbo", "gpt-3.5-turbo",
	"o1", "o3", "o3-mini", "o4-mini",
}

// Options configures a Registry. Empty slices fall back to the defaults for
// suffixes and the allow-list; overrides have no default.
type Options struct {
	ResponsesOnly     []string `yaml:"responses_only"`
	ChatCompletions   []string `yaml:"chat_completions"`
	ResponsesSuffixes []string `yaml:"responses_suffixes"`
}

// Registry is an immutable model capability lookup table. It is safe for
// concurrent use.
type Registry struct {
	overrides map[string]bool
	suffixes  []string
	allow     map[string]bool
}

// NewRegistry builds a registry. Invalid glob patterns are dropped with a warning.
func NewRegistry(opts Options) *Registry {
	r := &Registry{
		overrides: make(map[string]bool),
		allow:     make(map[string]bool),
	}

	for _, id := range opts.ResponsesOnly {
		if n := normalize(id); n != "" {
			r.overrides[n] = true
		}
	}

	allow := append(append([]string{}, DefaultChatCompletionsModels...), opts.ChatCompletions...)
	for _, id := range allow {
		if n := normalize(id); n != "" {
			r.allow[n] = true
		}
	}

	suffixes := opts.ResponsesSuffixes
	if len(suffixes) == 0 {
		suffixes = DefaultResponsesSuffixes
	}
	for _, p := range suffixes {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if !doublestar.ValidatePattern(p) {
			log.Warn().Str("pattern", p).Msg("Capability registry: invalid responses suffix pattern ignored")
			continue
		}
		r.suffixes = append(r.suffixes, p)
	}

	return r
}

// LoadOptions merges an env-supplied override list with an optional YAML file.
func LoadOptions(responsesOnly []string, path string) (Options, error) {
	opts := Options{ResponsesOnly: append([]string{}, responsesOnly...)}
	if path == "" {
		return opts, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return opts, fmt.Errorf("read capabilities file: %w", err)
	}
	var file Options
	if err := yaml.Unmarshal(data, &file); err != nil {
		return opts, fmt.Errorf("parse capabilities file: %w", err)
	}

	opts.ResponsesOnly = append(opts.ResponsesOnly, file.ResponsesOnly...)
	opts.ChatCompletions = file.ChatCompletions
	opts.ResponsesSuffixes = file.ResponsesSuffixes
	return opts, nil
}

// APISurfaceFor returns the API surface modelID must use.
func (r *Registry) APISurfaceFor(modelID string) models.APISurface {
	return r.Lookup(modelID).APISurface
}

// SupportsChatCompletions reports whether modelID can be called through chat completions.
func (r *Registry) SupportsChatCompletions(modelID string) bool {
	return r.APISurfaceFor(modelID) == models.SurfaceChatCompletions
}

// Lookup resolves the full capability record for modelID.
func (r *Registry) Lookup(modelID string) models.ModelCapability {
	id := normalize(modelID)
	provider, name := splitProvider(id)

	capab := models.ModelCapability{
		ModelID:      id,
		ModelName:    name,
		ProviderKind: provider,
	}

	switch {
	case r.overrides[id] || r.overrides[name]:
		capab.APISurface, capab.Source = models.SurfaceResponses, "override"
	case r.matchSuffix(name, &capab):
		capab.APISurface, capab.Source = models.SurfaceResponses, "suffix"
	case r.allow[id] || r.allow[name]:
		capab.APISurface, capab.Source = models.SurfaceChatCompletions, "builtin"
	default:
		capab.APISurface, capab.Source = models.SurfaceChatCompletions, "default"
	}

	capab.TokenParamName = TokenParamName(capab.APISurface)
	return capab
}

// ListAll returns the capability records for every explicitly known model id,
// sorted by id.
func (r *Registry) ListAll() []models.ModelCapability {
	seen := make(map[string]bool)
	var ids []string
	for id := range r.overrides {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for id := range r.allow {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	result := make([]models.ModelCapability, 0, len(ids))
	for _, id := range ids {
		result = append(result, r.Lookup(id))
	}
	return result
}

// Suffixes returns the active responses-only patterns.
func (r *Registry) Suffixes() []string {
	return append([]string{}, r.suffixes...)
}

func (r *Registry) matchSuffix(name string, capab *models.ModelCapability) bool {
	for _, p := range r.suffixes {
		if ok, _ := doublestar.Match(p, name); ok {
			capab.Pattern = p
			return true
		}
	}
	return false
}

// TokenParamName returns the body field carrying the output-token ceiling.
func TokenParamName(surface models.APISurface) string {
	if surface == models.SurfaceResponses {
		return "max_output_tokens"
	}
	return "max_completion_tokens"
}

func normalize(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// splitProvider splits "openai/gpt-5" into ("openai", "gpt-5").
func splitProvider(id string) (string, string) {
	if provider, name, ok := strings.Cut(id, "/"); ok && name != "" {
		return provider, name
	}
	return "", id
}
