package config

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/MrWong99/voxrelay/pkg/provider/llm"
	"github.com/MrWong99/voxrelay/pkg/provider/stt"
	"github.com/MrWong99/voxrelay/pkg/provider/translate"
	"github.com/MrWong99/voxrelay/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by the Create* methods when no
// factory has been registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider of type T from its configuration entry.
type Factory[T any] func(ProviderEntry) (T, error)

// TranslatorFactory builds a translator. model is the configured LLM, or nil
// when none is configured, for translators that delegate to one.
type TranslatorFactory func(entry ProviderEntry, model llm.Provider) (translate.Translator, error)

// Registry maps provider names to their factories for each provider kind.
// It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	stt        map[string]Factory[stt.Transcriber]
	tts        map[string]Factory[tts.Synthesizer]
	llm        map[string]Factory[llm.Provider]
	translator map[string]TranslatorFactory
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:        make(map[string]Factory[stt.Transcriber]),
		tts:        make(map[string]Factory[tts.Synthesizer]),
		llm:        make(map[string]Factory[llm.Provider]),
		translator: make(map[string]TranslatorFactory),
	}
}

// RegisterSTT registers a transcriber factory under name. Registering the
// same name again replaces the previous factory.
func (r *Registry) RegisterSTT(name string, f Factory[stt.Transcriber]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = f
}

// RegisterTTS registers a synthesizer factory under name.
func (r *Registry) RegisterTTS(name string, f Factory[tts.Synthesizer]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = f
}

// RegisterLLM registers an LLM factory under name.
func (r *Registry) RegisterLLM(name string, f Factory[llm.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = f
}

// RegisterTranslator registers a translator factory under name.
func (r *Registry) RegisterTranslator(name string, f TranslatorFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.translator[name] = f
}

// CreateSTT builds the transcriber registered under entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Transcriber, error) {
	r.mu.RLock()
	f, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return f(entry)
}

// CreateTTS builds the synthesizer registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Synthesizer, error) {
	r.mu.RLock()
	f, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, entry.Name)
	}
	return f(entry)
}

// CreateLLM builds the LLM registered under entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	f, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return f(entry)
}

// CreateTranslator builds the translator registered under entry.Name.
func (r *Registry) CreateTranslator(entry ProviderEntry, model llm.Provider) (translate.Translator, error) {
	r.mu.RLock()
	f, ok := r.translator[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: translate/%q", ErrProviderNotRegistered, entry.Name)
	}
	return f(entry, model)
}

// Names returns the registered names per kind, sorted, for startup logging.
func (r *Registry) Names() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string][]string{
		"stt":       sortedKeys(r.stt),
		"tts":       sortedKeys(r.tts),
		"llm":       sortedKeys(r.llm),
		"translate": sortedKeys(r.translator),
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// OptString extracts a string option. It returns "" when the map is nil,
// the key is absent or the value is not a string.
func OptString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}
