// Package msgcat holds the user-facing notice texts. Every entry is a
// text/template parsed once at load time; lookups never parse.
package msgcat

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/template"

	yaml "gopkg.in/yaml.v3"
)

const DefaultLocale = "en"

//go:embed messages.*.yaml
var embedded embed.FS

// Notice keys.
const (
	KeyRoomNotFound     = "error.room_not_found"
	KeyNotMember        = "error.not_a_member"
	KeyInvalidPassword  = "error.invalid_password"
	KeyRosterFull       = "error.roster_full"
	KeyGeneric          = "error.generic"
	KeyUnauthenticated  = "connection.unauthenticated"
	KeyHandshakeTimeout = "connection.handshake_timeout"
	KeyConnectionFailed = "connection.failed"
	KeyReconnected      = "connection.reconnected"
	KeyRemoved          = "room.removed"
	KeyLeft             = "room.left"
	KeyDesync           = "room.desync"
	KeyIntentRejected   = "intent.rejected"
)

type Catalog struct {
	mu     sync.RWMutex
	locale string
	tpl    map[string]*template.Template
}

type Option func(*options)

type options struct {
	locale string
	dir    string
}

// WithLocale selects messages.<locale>.yaml. Keys it lacks come from the default locale.
func WithLocale(locale string) Option {
	return func(o *options) { o.locale = strings.ToLower(strings.TrimSpace(locale)) }
}

// WithOverrideDir applies every *.yaml / *.yml file in dir on top of the embedded texts.
func WithOverrideDir(dir string) Option {
	return func(o *options) { o.dir = strings.TrimSpace(dir) }
}

func New(opts ...Option) (*Catalog, error) {
	o := options{locale: DefaultLocale}
	for _, opt := range opts {
		opt(&o)
	}
	if o.locale == "" {
		o.locale = DefaultLocale
	}

	c := &Catalog{locale: o.locale, tpl: make(map[string]*template.Template)}
	if err := c.loadEmbedded(DefaultLocale); err != nil {
		return nil, err
	}
	if o.locale != DefaultLocale {
		if err := c.loadEmbedded(o.locale); err != nil {
			return nil, err
		}
	}
	if o.dir != "" {
		if err := c.loadDir(o.dir); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Catalog) Locale() string { return c.locale }

func (c *Catalog) loadEmbedded(locale string) error {
	name := "messages." + locale + ".yaml"
	raw, err := embedded.ReadFile(name)
	if err != nil {
		return fmt.Errorf("unknown message locale %q", locale)
	}
	entries, err := flatten(raw)
	if err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return c.apply(name, entries)
}

// loadDir applies override files in name order; a key defined by two files is an error.
func (c *Catalog) loadDir(dir string) error {
	des, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read message dir: %w", err)
	}
	var names []string
	for _, de := range des {
		switch strings.ToLower(filepath.Ext(de.Name())) {
		case ".yaml", ".yml":
			if !de.IsDir() {
				names = append(names, de.Name())
			}
		}
	}
	sort.Strings(names)

	owner := make(map[string]string)
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		entries, err := flatten(raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		for k := range entries {
			if prev, dup := owner[k]; dup {
				return fmt.Errorf("duplicate override key %q in %s and %s", k, prev, name)
			}
			owner[k] = name
		}
		if err := c.apply(name, entries); err != nil {
			return err
		}
	}
	return nil
}

func (c *Catalog) apply(source string, entries map[string]string) error {
	parsed := make(map[string]*template.Template, len(entries))
	for k, text := range entries {
		t, err := template.New(k).Option("missingkey=error").Parse(text)
		if err != nil {
			return fmt.Errorf("%s: key %s: %w", source, k, err)
		}
		parsed[k] = t
	}
	c.mu.Lock()
	for k, t := range parsed {
		c.tpl[k] = t
	}
	c.mu.Unlock()
	return nil
}

// flatten walks a YAML mapping into dot-joined keys. Only string leaves are allowed.
func flatten(raw []byte) (map[string]string, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	out := make(map[string]string)
	if len(doc.Content) == 0 {
		return out, nil
	}
	return out, walk(doc.Content[0], "", out)
}

func walk(n *yaml.Node, prefix string, out map[string]string) error {
	switch n.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			key := n.Content[i].Value
			if prefix != "" {
				key = prefix + "." + key
			}
			if err := walk(n.Content[i+1], key, out); err != nil {
				return err
			}
		}
		return nil
	case yaml.ScalarNode:
		if prefix == "" {
			return errors.New("value without a key")
		}
		if n.Tag == "!!null" {
			return nil
		}
		if n.Tag != "!!str" {
			return fmt.Errorf("line %d: %s must be a string", n.Line, prefix)
		}
		out[prefix] = n.Value
		return nil
	case yaml.AliasNode:
		return walk(n.Alias, prefix, out)
	}
	return fmt.Errorf("line %d: %s must be a string or mapping", n.Line, prefix)
}

// Render executes the template for key. Unknown keys and missing fields are errors.
func (c *Catalog) Render(key string, data any) (string, error) {
	c.mu.RLock()
	t, ok := c.tpl[strings.TrimSpace(key)]
	c.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("message not found: %s", key)
	}
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Text renders key and falls back to the generic error template, then to the key itself.
func (c *Catalog) Text(key string, data any) string {
	if c == nil {
		return key
	}
	if s, err := c.Render(key, data); err == nil {
		return s
	}
	if s, err := c.Render(KeyGeneric, map[string]any{"Message": key}); err == nil {
		return s
	}
	return key
}

func (c *Catalog) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.tpl[key]
	return ok
}
