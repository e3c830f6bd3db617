package modelitem

import (
	"context"
	"fmt"
	"sync"

	"github.com/mxkrt/dadb/internal/backend"
	"github.com/mxkrt/dadb/internal/catalog"
	"github.com/mxkrt/dadb/internal/dadberr"
	"github.com/mxkrt/dadb/internal/datatype"
	"github.com/mxkrt/dadb/internal/registry"
)

// Engine is the Modelitem Engine (§4.6): it turns registered models into
// insertable, fetchable, deduplicated records over the relational backend.
type Engine struct {
	be  backend.Backend
	reg *registry.Registry

	mu            sync.Mutex
	dedupDisabled map[string]int // modelname -> nesting depth of disable calls
}

// New binds an Engine to be and reg. The Engine holds no state of its own
// beyond the duplicate-checking toggle; all durable state lives in be.
func New(be backend.Backend, reg *registry.Registry) *Engine {
	return &Engine{be: be, reg: reg}
}

// DisableDuplicateChecking suspends dedup lookups for modelname until a
// matching EnableDuplicateChecking call. Calls nest.
func (e *Engine) DisableDuplicateChecking(modelname string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dedupDisabled == nil {
		e.dedupDisabled = map[string]int{}
	}
	e.dedupDisabled[modelname]++
}

// EnableDuplicateChecking reverses one DisableDuplicateChecking call.
// Unbalanced calls are a programming error and return dadberr.ErrValue.
func (e *Engine) EnableDuplicateChecking(modelname string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dedupDisabled[modelname] <= 0 {
		return dadberr.ValueErrorf(modelname, "enable_duplicate_checking without a matching disable")
	}
	e.dedupDisabled[modelname]--
	return nil
}

func (e *Engine) dedupEnabled(modelname string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dedupDisabled[modelname] <= 0
}

// InsertModelItem inserts it (and cascades any not-yet-inserted nested
// submodel items) as an explicit top-level insert: explicit_dedup governs
// whether an identical existing row is reused.
func (e *Engine) InsertModelItem(ctx context.Context, it *Item) (int64, error) {
	return e.insert(ctx, it, true)
}

func (e *Engine) insertCascaded(ctx context.Context, it *Item) (int64, error) {
	return e.insert(ctx, it, false)
}

func (e *Engine) insert(ctx context.Context, it *Item, explicit bool) (int64, error) {
	if it.ID != 0 {
		return it.ID, nil
	}
	if it.engine == nil {
		it.engine = e
	}

	started, err := beginIfNeeded(ctx, e.be)
	if err != nil {
		return 0, err
	}
	committed := false
	defer func() {
		if started && !committed {
			_, _ = e.be.Rollback()
		}
	}()

	if err := e.resolvePendingRefs(ctx, it); err != nil {
		return 0, err
	}

	dedupApplies := (explicit && it.model.ExplicitDedup) || (!explicit && it.model.ImplicitDedup)
	if dedupApplies && e.dedupEnabled(it.model.Name) {
		existingID, found, err := findIdentical(ctx, e.be, it.model, it)
		if err != nil {
			return 0, err
		}
		if found {
			if it.model.FailOnDup {
				return 0, fmt.Errorf("modelitem %s: %w", it.model.Name, dadberr.ErrDuplicateItem)
			}
			it.ID = existingID
			if started {
				if err := e.be.Commit(); err != nil {
					return 0, err
				}
				committed = true
			}
			return existingID, nil
		}
	}

	id, err := e.insertRow(ctx, it)
	if err != nil {
		return 0, err
	}
	it.ID = id

	if err := e.insertMulti(ctx, it); err != nil {
		return 0, err
	}

	if started {
		if err := e.be.Commit(); err != nil {
			return 0, err
		}
		committed = true
	}
	return id, nil
}

func (e *Engine) resolvePendingRefs(ctx context.Context, it *Item) error {
	for _, fv := range it.values {
		if fv.singleRef != nil && fv.singleRef.item != nil && fv.singleRef.id == 0 {
			id, err := e.insertCascaded(ctx, fv.singleRef.item)
			if err != nil {
				return err
			}
			fv.singleRef.id = id
		}
		for _, r := range fv.multiRefs {
			if r.item != nil && r.id == 0 {
				id, err := e.insertCascaded(ctx, r.item)
				if err != nil {
					return err
				}
				r.id = id
			}
		}
	}
	return nil
}

func (e *Engine) insertRow(ctx context.Context, it *Item) (int64, error) {
	var cols []string
	var args []interface{}
	for _, fd := range it.model.Fields {
		if fd.Multiple {
			continue
		}
		fv := it.values[fd.Name]
		cols = append(cols, fd.ColName)
		switch {
		case fd.IsSubmodel() || fd.IsEnum():
			if fv.singleRef == nil {
				args = append(args, nil)
			} else {
				args = append(args, fv.singleRef.id)
			}
		default:
			if !fv.scalarSet {
				args = append(args, nil)
				continue
			}
			enc, err := datatype.Encode(fd.Datatype, fv.scalar)
			if err != nil {
				return 0, err
			}
			args = append(args, enc)
		}
	}
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = "?"
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", it.model.TableName, joinCols(cols), joinCols(placeholders))
	res, err := e.be.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, dadberr.Wrapf(err, nil, "insert %s row", it.model.Name)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, dadberr.Wrapf(err, nil, "insert %s row", it.model.Name)
	}
	return id, nil
}

func (e *Engine) insertMulti(ctx context.Context, it *Item) error {
	for _, fd := range it.model.Fields {
		if !fd.Multiple {
			continue
		}
		fv := it.values[fd.Name]
		switch {
		case fd.IsSubmodel() || fd.IsEnum():
			for _, r := range fv.multiRefs {
				if _, err := e.be.Exec(ctx, fmt.Sprintf(
					"INSERT INTO %s (parent_id, target_id) VALUES (?, ?)", fd.MapTable),
					it.ID, r.id); err != nil {
					return dadberr.Wrapf(err, nil, "insert %s maptable row", fd.Name)
				}
			}
		default:
			for _, v := range fv.scalars {
				enc, err := datatype.Encode(fd.Datatype, v)
				if err != nil {
					return err
				}
				if _, err := e.be.Exec(ctx, fmt.Sprintf(
					"INSERT INTO %s (parent_id, value) VALUES (?, ?)", fd.PropTable),
					it.ID, enc); err != nil {
					return dadberr.Wrapf(err, nil, "insert %s proptable row", fd.Name)
				}
			}
		}
	}
	return nil
}

// Modelitem fetches a single item by id, building an Item with submodel and
// enum fields left unresolved until Value is called.
func (e *Engine) Modelitem(ctx context.Context, modelname string, id int64) (*Item, error) {
	m, ok := e.reg.Model(modelname)
	if !ok {
		return nil, fmt.Errorf("model %q: %w", modelname, dadberr.ErrNoSuchModel)
	}
	rows, err := e.be.Select(ctx, m.TableName, backend.SelectOptions{
		Where: map[string]interface{}{e.reg.Catalog().PKey: id},
		Limit: 1,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("modelitem %s#%d: %w", modelname, id, dadberr.ErrNoSuchModelItem)
	}
	return e.rowToItem(ctx, m, rows[0])
}

func (e *Engine) rowToItem(ctx context.Context, m *catalog.ModelDescriptor, row backend.Row) (*Item, error) {
	it := &Item{engine: e, model: m, values: make(map[string]*fieldValue, len(m.Fields))}
	id, err := toInt64(row[e.reg.Catalog().PKey])
	if err != nil {
		return nil, dadberr.Wrapf(err, nil, "modelitem %s id column", m.Name)
	}
	it.ID = id

	for _, fd := range m.Fields {
		fv := &fieldValue{fd: fd}
		switch {
		case fd.Multiple && (fd.IsSubmodel() || fd.IsEnum()):
			mrows, err := e.be.Query(ctx, fmt.Sprintf(
				"SELECT target_id FROM %s WHERE parent_id = ? ORDER BY rowid ASC", fd.MapTable), id)
			if err != nil {
				return nil, err
			}
			for mrows.Next() {
				var target int64
				if err := mrows.Scan(&target); err != nil {
					_ = mrows.Close()
					return nil, dadberr.Wrapf(err, nil, "scan %s maptable row", fd.Name)
				}
				fv.multiRefs = append(fv.multiRefs, &ref{id: target})
			}
			if err := mrows.Err(); err != nil {
				_ = mrows.Close()
				return nil, dadberr.Wrapf(err, nil, "iterate %s maptable", fd.Name)
			}
			_ = mrows.Close()

		case fd.Multiple:
			prows, err := e.be.Query(ctx, fmt.Sprintf(
				"SELECT value FROM %s WHERE parent_id = ? ORDER BY rowid ASC", fd.PropTable), id)
			if err != nil {
				return nil, err
			}
			for prows.Next() {
				var raw interface{}
				if err := prows.Scan(&raw); err != nil {
					_ = prows.Close()
					return nil, dadberr.Wrapf(err, nil, "scan %s proptable row", fd.Name)
				}
				dec, err := datatype.Decode(fd.Datatype, raw)
				if err != nil {
					_ = prows.Close()
					return nil, err
				}
				fv.scalars = append(fv.scalars, dec)
			}
			if err := prows.Err(); err != nil {
				_ = prows.Close()
				return nil, dadberr.Wrapf(err, nil, "iterate %s proptable", fd.Name)
			}
			_ = prows.Close()

		case fd.IsSubmodel() || fd.IsEnum():
			raw := row[fd.ColName]
			if raw != nil {
				refID, err := toInt64(raw)
				if err != nil {
					return nil, dadberr.Wrapf(err, nil, "%s column", fd.Name)
				}
				fv.singleRef = &ref{id: refID}
			}

		default:
			raw := row[fd.ColName]
			if raw != nil {
				dec, err := datatype.Decode(fd.Datatype, raw)
				if err != nil {
					return nil, err
				}
				fv.scalar, fv.scalarSet = dec, true
			}
		}
		it.values[fd.Name] = fv
	}
	return it, nil
}

func (e *Engine) submodelName(ctx context.Context, fd catalog.FieldDescriptor) (string, error) {
	m, err := e.reg.Catalog().GetModelByID(ctx, fd.Submodel)
	if err != nil {
		return "", err
	}
	return m.Name, nil
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("expected integer row id, got %T", v)
	}
}

func joinCols(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}

func beginIfNeeded(ctx context.Context, be backend.Backend) (bool, error) {
	if be.InTransaction() {
		return false, nil
	}
	if err := be.BeginTx(ctx); err != nil {
		return false, err
	}
	return true, nil
}
