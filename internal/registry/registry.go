// Package registry implements DADB's Model Registry (§4.5): the in-memory,
// per-handle caches of registered model and enum descriptors, rebuilt on
// every Load/Reload, plus the reverse lookup from physical table names back
// to logical model/enum names. Physical column names have no reverse
// lookup.
package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/mxkrt/dadb/internal/catalog"
	"github.com/mxkrt/dadb/internal/datatype"
)

// Registry is per-handle state: no process-wide mutable caches are used,
// so two handles on the same repository never share a Registry.
type Registry struct {
	cat *catalog.Catalog

	mu          sync.RWMutex
	models      map[string]*catalog.ModelDescriptor
	enums       map[string]*catalog.EnumDescriptor
	tableToName map[string]string // physical table -> logical model/enum name
}

// New creates an empty Registry bound to cat. Call Reload to populate it.
func New(cat *catalog.Catalog) *Registry {
	return &Registry{cat: cat}
}

// Reload rebuilds every cache from the catalog's current state. Called on
// Database.Load and Database.Reload.
func (r *Registry) Reload(ctx context.Context) error {
	modelNames, err := r.cat.Models(ctx)
	if err != nil {
		return err
	}
	enumNames, err := r.cat.Enums(ctx)
	if err != nil {
		return err
	}

	models := make(map[string]*catalog.ModelDescriptor, len(modelNames))
	enums := make(map[string]*catalog.EnumDescriptor, len(enumNames))
	tableToName := make(map[string]string, len(modelNames)+len(enumNames))

	for _, name := range modelNames {
		m, err := r.cat.GetModel(ctx, name)
		if err != nil {
			return err
		}
		models[name] = m
		tableToName[m.TableName] = name
	}
	for _, name := range enumNames {
		e, err := r.cat.GetEnum(ctx, name)
		if err != nil {
			return err
		}
		enums[name] = e
		tableToName[e.TableName] = name
	}

	r.mu.Lock()
	r.models, r.enums, r.tableToName = models, enums, tableToName
	r.mu.Unlock()
	return nil
}

// Model returns the cached descriptor for a registered model.
func (r *Registry) Model(name string) (*catalog.ModelDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[name]
	return m, ok
}

// Enum returns the cached descriptor for a registered enum.
func (r *Registry) Enum(name string) (*catalog.EnumDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.enums[name]
	return e, ok
}

// ModelNameForTable resolves a physical table name back to its logical
// model name.
func (r *Registry) ModelNameForTable(table string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.tableToName[table]
	if !ok {
		return "", false
	}
	if _, isModel := r.models[name]; !isModel {
		return "", false
	}
	return name, true
}

// Models lists every registered model name, in registration order.
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.models))
	for n := range r.models {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return r.models[names[i]].ID < r.models[names[j]].ID })
	return names
}

// Enums lists every registered enum name.
func (r *Registry) Enums() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.enums))
	for n := range r.enums {
		names = append(names, n)
	}
	return names
}

// Datatypes publishes the closed set of known scalar datatypes.
func (r *Registry) Datatypes() []datatype.Type {
	return datatype.All
}

// RegisterModel registers def via the catalog and refreshes this
// registry's caches for the new model.
func (r *Registry) RegisterModel(ctx context.Context, def catalog.ModelDefinition) (*catalog.ModelDescriptor, error) {
	m, err := r.cat.RegisterModel(ctx, def)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	if r.models == nil {
		r.models = map[string]*catalog.ModelDescriptor{}
	}
	if r.tableToName == nil {
		r.tableToName = map[string]string{}
	}
	r.models[m.Name] = m
	r.tableToName[m.TableName] = m.Name
	r.mu.Unlock()
	return m, nil
}

// RegisterEnum registers def via the catalog and refreshes this registry's
// caches for the new enum.
func (r *Registry) RegisterEnum(ctx context.Context, def catalog.EnumDefinition) (*catalog.EnumDescriptor, error) {
	e, err := r.cat.RegisterEnum(ctx, def)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	if r.enums == nil {
		r.enums = map[string]*catalog.EnumDescriptor{}
	}
	if r.tableToName == nil {
		r.tableToName = map[string]string{}
	}
	r.enums[e.Name] = e
	r.tableToName[e.TableName] = e.Name
	r.mu.Unlock()
	return e, nil
}

// Catalog exposes the underlying catalog for components that need direct
// access (the Modelitem and Timeline engines).
func (r *Registry) Catalog() *catalog.Catalog { return r.cat }
