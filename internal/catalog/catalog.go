// Package catalog implements EndpointCatalog (spec.md §4.2): discovery
// of available endpoint configurations from a directory of files
// matching <provider>_<country>_all.conf (spec.md §6).
package catalog

import (
	"fmt"
	"path/filepath"
	"regexp"
)

// Endpoint is an identified tunnel configuration (spec.md §3).
// Endpoints are immutable once discovered; equality is by Name.
type Endpoint struct {
	Name            string
	Country         string
	ConfigReference string
}

var filenamePattern = regexp.MustCompile(`^([^_]+)_([^_]+)_all\.conf$`)

// Catalog holds the endpoints discovered from a directory at
// construction time. Ordering is unspecified but stable across calls
// within a run, since it is derived once from a single Glob result.
type Catalog struct {
	endpoints []Endpoint
}

// ErrCatalogEmpty is returned by Load when no files match the naming pattern.
var ErrCatalogEmpty = fmt.Errorf("CatalogEmpty: no endpoint configuration files found")

// Load scans dir once for files matching <provider>_<country>_all.conf
// and builds the catalog. It fails with ErrCatalogEmpty if no files match.
func Load(dir string) (*Catalog, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*_*_all.conf"))
	if err != nil {
		return nil, fmt.Errorf("catalog: glob %s: %w", dir, err)
	}

	endpoints := make([]Endpoint, 0, len(matches))
	for _, m := range matches {
		base := filepath.Base(m)
		sub := filenamePattern.FindStringSubmatch(base)
		if sub == nil {
			continue
		}

		stem := base[:len(base)-len(".conf")]
		endpoints = append(endpoints, Endpoint{
			Name:            stem,
			Country:         sub[2],
			ConfigReference: m,
		})
	}

	if len(endpoints) == 0 {
		return nil, ErrCatalogEmpty
	}

	return &Catalog{endpoints: endpoints}, nil
}

// List returns every endpoint discovered at construction time.
func (c *Catalog) List() []Endpoint {
	out := make([]Endpoint, len(c.endpoints))
	copy(out, c.endpoints)
	return out
}
