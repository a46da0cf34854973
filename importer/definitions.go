// Package importer implements the two-phase import pipeline:
// acquisition copies encrypted drops from the external store into the
// internal store; ingestion decrypts, parses and applies them to the
// document store, emitting per-record lineage.
package importer

import (
	"path"
	"strings"

	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/crypto"
	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/types"
)

// Registry resolves file names to dataset definitions. Loaded once per
// process from configuration.
type Registry struct {
	defs []types.DataSetDefinition
}

// NewRegistry creates a registry. Definitions are assumed validated.
func NewRegistry(defs []types.DataSetDefinition) *Registry {
	return &Registry{defs: defs}
}

// ByName returns the definition for a dataset name.
func (r *Registry) ByName(name string) (*types.DataSetDefinition, bool) {
	for i := range r.defs {
		if r.defs[i].Name == name {
			return &r.defs[i], true
		}
	}
	return nil, false
}

// All returns every definition.
func (r *Registry) All() []types.DataSetDefinition { return r.defs }

// Match resolves an object key to its dataset by plain prefix
// comparison of the key's basename against each definition's file
// prefix format, and extracts the logical date token. Unmatched keys
// are skipped by acquisition, not failed.
func (r *Registry) Match(key string) (*types.DataSetDefinition, string, bool) {
	base := path.Base(key)
	for i := range r.defs {
		if strings.HasPrefix(base, r.defs[i].FilePrefixFormat) {
			return &r.defs[i], crypto.DateTokenFromFilename(base), true
		}
	}
	return nil, "", false
}
