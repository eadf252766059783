package provider

import (
	"fmt"
	"sort"
)

// ModelDescriptor maps a public model key onto the backend that serves it
// and the id that backend expects.
type ModelDescriptor struct {
	Key             string
	Provider        Kind
	ProviderModelID string
}

// builtinModels is the table every deployment starts with. Config can add
// entries on top of it at startup.
var builtinModels = []ModelDescriptor{
	{Key: "gpt-oss-20b", Provider: KindOpenRouter, ProviderModelID: "openai/gpt-oss-20b:free"},
	{Key: "kat-coder-pro", Provider: KindOpenRouter, ProviderModelID: "kwaipilot/kat-coder-pro:free"},
	{Key: "kimi-k2", Provider: KindOpenRouter, ProviderModelID: "moonshotai/kimi-k2:free"},
	{Key: "deepseek-v3.1", Provider: KindOpenRouter, ProviderModelID: "deepseek/deepseek-chat-v3.1:free"},
	{Key: "gemini-2.5-flash", Provider: KindGoogle, ProviderModelID: "gemini-2.5-flash"},
	{Key: "gemini-2.5-pro", Provider: KindGoogle, ProviderModelID: "gemini-2.5-pro"},
}

// Catalog is the process-wide, read-only model table. It is built once in
// main and shared by every request; nothing mutates it afterwards, so no
// locking is needed.
type Catalog struct {
	models map[string]ModelDescriptor
}

// NewCatalog returns the built-in table merged with extra. An extra entry
// with the same key as a built-in one replaces it.
func NewCatalog(extra ...ModelDescriptor) (*Catalog, error) {
	c := &Catalog{models: make(map[string]ModelDescriptor, len(builtinModels)+len(extra))}
	for _, m := range builtinModels {
		c.models[m.Key] = m
	}
	for _, m := range extra {
		if m.Key == "" || m.ProviderModelID == "" {
			return nil, fmt.Errorf("model entry %q: key and provider model id are required", m.Key)
		}
		if !m.Provider.Valid() {
			return nil, fmt.Errorf("model entry %q: unknown provider %s", m.Key, m.Provider)
		}
		c.models[m.Key] = m
	}
	return c, nil
}

// BuiltinCatalog returns the table without any config additions.
func BuiltinCatalog() *Catalog {
	c, _ := NewCatalog()
	return c
}

// Resolve looks up a public model key.
func (c *Catalog) Resolve(key string) (ModelDescriptor, bool) {
	m, ok := c.models[key]
	return m, ok
}

// Models returns every descriptor sorted by key.
func (c *Catalog) Models() []ModelDescriptor {
	out := make([]ModelDescriptor, 0, len(c.models))
	for _, m := range c.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
