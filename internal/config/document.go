package config

import (
	"encoding/json"
	"fmt"
	"time"
)

const registryVersion = "1.0"

// Registry is the on-disk repository registry (config.json).
type Registry struct {
	Version      string                      `json:"version,omitempty"`
	Repositories map[string]*RepositoryEntry `json:"repositories"`
}

// NewRegistry returns an empty registry skeleton.
func NewRegistry() *Registry {
	return &Registry{
		Version:      registryVersion,
		Repositories: map[string]*RepositoryEntry{},
	}
}

// RepositoryEntry is one registered plugin source. Well-known fields are
// typed; everything else a caller supplies rides along in Extra so a
// round-trip never drops keys.
type RepositoryEntry struct {
	LastUpdated time.Time
	CommitSHA   string
	URL         string
	Plugins     []string
	Extra       map[string]json.RawMessage
}

func (e *RepositoryEntry) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(e.Extra)+4)
	for k, v := range e.Extra {
		out[k] = v
	}

	ts, err := json.Marshal(e.LastUpdated)
	if err != nil {
		return nil, err
	}
	out["lastUpdated"] = ts

	plugins := e.Plugins
	if plugins == nil {
		plugins = []string{}
	}
	pl, err := json.Marshal(plugins)
	if err != nil {
		return nil, err
	}
	out["plugins"] = pl

	if e.CommitSHA != "" {
		sha, err := json.Marshal(e.CommitSHA)
		if err != nil {
			return nil, err
		}
		out["commitSha"] = sha
	}
	if e.URL != "" {
		u, err := json.Marshal(e.URL)
		if err != nil {
			return nil, err
		}
		out["url"] = u
	}
	return json.Marshal(out)
}

func (e *RepositoryEntry) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if v, ok := raw["lastUpdated"]; ok {
		if err := json.Unmarshal(v, &e.LastUpdated); err != nil {
			return fmt.Errorf("invalid lastUpdated: %w", err)
		}
		delete(raw, "lastUpdated")
	}
	if v, ok := raw["commitSha"]; ok {
		if err := json.Unmarshal(v, &e.CommitSHA); err != nil {
			return fmt.Errorf("invalid commitSha: %w", err)
		}
		delete(raw, "commitSha")
	}
	if v, ok := raw["url"]; ok {
		if err := json.Unmarshal(v, &e.URL); err != nil {
			return fmt.Errorf("invalid url: %w", err)
		}
		delete(raw, "url")
	}
	if v, ok := raw["plugins"]; ok {
		if err := json.Unmarshal(v, &e.Plugins); err != nil {
			return fmt.Errorf("invalid plugins: %w", err)
		}
		delete(raw, "plugins")
	}
	if len(raw) > 0 {
		e.Extra = raw
	}
	return nil
}

// clone returns a deep copy safe to hand to callers.
func (e *RepositoryEntry) clone() *RepositoryEntry {
	if e == nil {
		return nil
	}
	out := &RepositoryEntry{
		LastUpdated: e.LastUpdated,
		CommitSHA:   e.CommitSHA,
		URL:         e.URL,
	}
	if e.Plugins != nil {
		out.Plugins = append([]string(nil), e.Plugins...)
	}
	if e.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(e.Extra))
		for k, v := range e.Extra {
			out.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return out
}

// settingsDoc is the parsed settings.json. Only enabledPlugins is owned by
// the manager; every other top-level key is held verbatim in raw and written
// back untouched.
type settingsDoc struct {
	raw     map[string]json.RawMessage
	enabled map[string][]string
}

const enabledPluginsKey = "enabledPlugins"

func newSettingsDoc() *settingsDoc {
	return &settingsDoc{
		raw:     map[string]json.RawMessage{},
		enabled: map[string][]string{},
	}
}

func parseSettingsDoc(data []byte) (*settingsDoc, error) {
	doc := newSettingsDoc()
	if err := json.Unmarshal(data, &doc.raw); err != nil {
		return nil, err
	}
	if v, ok := doc.raw[enabledPluginsKey]; ok {
		if err := json.Unmarshal(v, &doc.enabled); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", enabledPluginsKey, err)
		}
	}
	return doc, nil
}

// encode re-serializes the document, replacing only the enabledPlugins key.
func (d *settingsDoc) encode() (map[string]json.RawMessage, error) {
	enabled, err := json.Marshal(d.enabled)
	if err != nil {
		return nil, err
	}
	out := make(map[string]json.RawMessage, len(d.raw)+1)
	for k, v := range d.raw {
		out[k] = v
	}
	out[enabledPluginsKey] = enabled
	return out, nil
}
