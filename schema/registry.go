package schema

import (
	"context"
	"errors"
	"sync"

	"github.com/cellgraph/cellgraph/cellgraph"
	"github.com/cellgraph/cellgraph/storage"
)

// indexCellName derives the well-known id of the registry's index cell.
const indexCellName = "cellgraph-schema-index"

// Index cell fields.
const (
	fieldNextID = "_next_id"
	fieldGroups = "_groups"
)

// Registry resolves edge-group schemas by name and numeric id.  All schema
// documents live in a single index cell so that duplicate detection and id
// allocation happen inside one atomic apply.  Lookups are served from
// in-memory maps, rebuilt from the store on open and updated on definition.
type Registry struct {
	store storage.CellStore
	index cellgraph.Id

	mu     sync.RWMutex
	byName map[string]*GroupSchema
	byID   map[SchemaID]*GroupSchema
}

// OpenRegistry loads (or initializes) the registry index from the store.
func OpenRegistry(ctx context.Context, store storage.CellStore) (*Registry, error) {
	r := &Registry{
		store:  store,
		index:  cellgraph.HashId(indexCellName),
		byName: make(map[string]*GroupSchema),
		byID:   make(map[SchemaID]*GroupSchema),
	}
	_, err := store.ReadCell(ctx, r.index)
	if err != nil {
		if !errors.Is(err, storage.ErrCellNotFound) {
			return nil, err
		}
		initial := cellgraph.DataMap{
			fieldNextID: SchemaID(1),
			fieldGroups: map[string]GroupSchema{},
		}
		if err := store.CreateCell(ctx, r.index, initial); err != nil {
			// Another process may have won the race to initialize.
			if !errors.Is(err, storage.ErrCellExists) {
				return nil, err
			}
		}
	}
	if err := r.reload(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// reload rebuilds the lookup maps from the index cell.
func (r *Registry) reload(ctx context.Context) error {
	value, err := r.store.ReadCell(ctx, r.index)
	if err != nil {
		return err
	}
	groups, _ := value[fieldGroups].(map[string]GroupSchema)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName = make(map[string]*GroupSchema, len(groups))
	r.byID = make(map[SchemaID]*GroupSchema, len(groups))
	for name, doc := range groups {
		doc := doc
		r.byName[name] = &doc
		r.byID[doc.ID] = &doc
	}
	cellgraph.Debugf("Schema registry loaded %d edge groups\n", len(groups))
	return nil
}

// DefineGroup validates and registers a new edge group, returning its
// allocated numeric id.  Registration is atomic at the index cell: the
// duplicate check and id allocation cannot race with concurrent definitions.
func (r *Registry) DefineGroup(ctx context.Context, name string, spec GroupSpec) (SchemaID, error) {
	attrs := EdgeAttributes{
		Kind:    spec.Kind,
		HasBody: len(spec.Fields) > 0,
		BodyTag: spec.BodyTag,
	}
	fields, err := CellFields(attrs, spec.Fields)
	if err != nil {
		return 0, err
	}

	// Fast path duplicate check before touching the store.
	r.mu.RLock()
	_, dup := r.byName[name]
	r.mu.RUnlock()
	if dup {
		return 0, &DuplicateGroupError{Name: name}
	}

	var registered GroupSchema
	err = r.store.AtomicApply(ctx, r.index, func(cur cellgraph.DataMap) (cellgraph.DataMap, error) {
		groups, _ := cur[fieldGroups].(map[string]GroupSchema)
		if groups == nil {
			groups = map[string]GroupSchema{}
		}
		if _, exists := groups[name]; exists {
			return nil, &DuplicateGroupError{Name: name}
		}
		next, _ := cur[fieldNextID].(SchemaID)
		if next == 0 {
			next = 1
		}
		registered = GroupSchema{
			ID:      next,
			Name:    name,
			Attrs:   attrs,
			Fields:  fields,
			Dynamic: spec.Dynamic,
		}
		groups[name] = registered
		cur[fieldGroups] = groups
		cur[fieldNextID] = next + 1
		return cur, nil
	})
	if err != nil {
		return 0, err
	}

	doc := registered
	r.mu.Lock()
	r.byName[name] = &doc
	r.byID[doc.ID] = &doc
	r.mu.Unlock()
	cellgraph.Infof("Registered edge group %q as id %d (%s)\n", name, doc.ID, doc.Attrs.Kind)
	return doc.ID, nil
}

// GroupSchema returns the schema document for a group name.
func (r *Registry) GroupSchema(name string) (*GroupSchema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, found := r.byName[name]
	if !found {
		return nil, &UnknownGroupError{Name: name}
	}
	return doc, nil
}

// GroupID returns the numeric id for a group name.
func (r *Registry) GroupID(name string) (SchemaID, error) {
	doc, err := r.GroupSchema(name)
	if err != nil {
		return 0, err
	}
	return doc.ID, nil
}

// SchemaByID returns the schema document for a numeric id.
func (r *Registry) SchemaByID(id SchemaID) (*GroupSchema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, found := r.byID[id]
	if !found {
		return nil, &UnknownGroupError{ID: id}
	}
	return doc, nil
}

// Groups returns the registered group names.
func (r *Registry) Groups() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	return names
}
