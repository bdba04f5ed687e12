package retailer

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// ErrUnknownRetailer is returned when no definition matches a URL's host.
var ErrUnknownRetailer = errors.New("unknown retailer")

// Registry maps hosts to retailer definitions.
type Registry struct {
	defs map[string]*Definition
}

// NewRegistry builds a registry from configs keyed by name. A config without
// a domain takes its key as the domain.
func NewRegistry(configs map[string]Config) (*Registry, error) {
	r := &Registry{defs: make(map[string]*Definition, len(configs))}
	for key, cfg := range configs {
		if cfg.Domain == "" {
			cfg.Domain = key
		}
		cfg.Domain = normalizeHost(cfg.Domain)
		def, err := NewDefinition(cfg)
		if err != nil {
			return nil, err
		}
		if _, dup := r.defs[cfg.Domain]; dup {
			return nil, fmt.Errorf("duplicate retailer domain %q", cfg.Domain)
		}
		r.defs[cfg.Domain] = def
	}
	return r, nil
}

// Lookup finds the definition for rawURL. Subdomains fall back to their
// parent domain, so "de.shop.test" matches "shop.test".
func (r *Registry) Lookup(rawURL string) (*Definition, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse product url: %w", err)
	}
	host := normalizeHost(parsed.Hostname())
	if host == "" {
		return nil, fmt.Errorf("product url %q has no host: %w", rawURL, ErrUnknownRetailer)
	}
	for h := host; strings.Contains(h, "."); h = h[strings.Index(h, ".")+1:] {
		if def, ok := r.defs[h]; ok {
			return def, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", host, ErrUnknownRetailer)
}

// Domains lists registered domains in sorted order.
func (r *Registry) Domains() []string {
	out := make([]string, 0, len(r.defs))
	for d := range r.defs {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	return strings.TrimPrefix(host, "www.")
}
