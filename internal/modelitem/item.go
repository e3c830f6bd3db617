// Package modelitem implements DADB's Modelitem Engine (§4.6): building,
// inserting, deduplicating, and retrieving typed records bound to a
// registered model, including submodel, enum, multiplicity, and property
// fields.
package modelitem

import (
	"context"
	"fmt"

	"github.com/mxkrt/dadb/internal/catalog"
	"github.com/mxkrt/dadb/internal/dadberr"
)

// Item is a typed record bound to a registered model. Submodel and enum
// references resolve lazily via the owning Engine's registry — an Item
// never owns the records it points to.
type Item struct {
	engine *Engine
	model  *catalog.ModelDescriptor
	// ID is zero until the item has been inserted.
	ID int64

	values map[string]*fieldValue
}

// ref is a submodel or enum target: either already resolved to a row id, or
// a nested Item still awaiting insertion (cascaded on InsertModelItem).
type ref struct {
	id   int64
	item *Item
}

// fieldValue is the internal representation of one field's content, set
// either while building an Item (pending insertion) or while reconstructing
// one read back from storage.
type fieldValue struct {
	fd catalog.FieldDescriptor

	// scalar single-valued content, already coerced to its native Go type.
	scalar    interface{}
	scalarSet bool

	// singleRef holds a submodel/enum target for a single-valued field.
	// nil means null.
	singleRef *ref

	// multi-valued content, in insertion order.
	scalars   []interface{}
	multiRefs []*ref

	// resolution cache, populated on first Value() access.
	resolved      interface{}
	resolvedValid bool
}

// ModelName returns the logical name of the model this item is bound to.
func (it *Item) ModelName() string { return it.model.Name }

// Value returns field's resolved content:
//   - a scalar native Go value, for scalar fields;
//   - *Item, for a single-valued submodel field (lazily fetched);
//   - catalog.EnumValue, for a single-valued enum field;
//   - []interface{} of the above, for a multi-valued field.
//
// Returns dadberr.ErrValue if field is not a field of this model.
func (it *Item) Value(ctx context.Context, field string) (interface{}, error) {
	fv, ok := it.values[field]
	if !ok {
		return nil, dadberr.ValueErrorf(field, "no such field on model %q", it.model.Name)
	}
	if fv.resolvedValid {
		return fv.resolved, nil
	}
	v, err := it.resolve(ctx, fv)
	if err != nil {
		return nil, err
	}
	fv.resolved, fv.resolvedValid = v, true
	return v, nil
}

func (it *Item) resolve(ctx context.Context, fv *fieldValue) (interface{}, error) {
	fd := fv.fd
	switch {
	case fd.Multiple && fd.IsSubmodel():
		name, err := it.engine.submodelName(ctx, fd)
		if err != nil {
			return nil, err
		}
		out := make([]interface{}, 0, len(fv.multiRefs))
		for _, r := range fv.multiRefs {
			nested, err := it.engine.Modelitem(ctx, name, r.id)
			if err != nil {
				return nil, err
			}
			out = append(out, nested)
		}
		return out, nil
	case fd.Multiple && fd.IsEnum():
		en, err := it.engine.reg.Catalog().GetEnumByID(ctx, fd.Enum)
		if err != nil {
			return nil, err
		}
		out := make([]interface{}, 0, len(fv.multiRefs))
		for _, r := range fv.multiRefs {
			out = append(out, enumValueFor(en, r.id))
		}
		return out, nil
	case fd.Multiple:
		return fv.scalars, nil
	case fd.IsSubmodel():
		if fv.singleRef == nil {
			return nil, nil
		}
		name, err := it.engine.submodelName(ctx, fd)
		if err != nil {
			return nil, err
		}
		return it.engine.Modelitem(ctx, name, fv.singleRef.id)
	case fd.IsEnum():
		if fv.singleRef == nil {
			return nil, nil
		}
		en, err := it.engine.reg.Catalog().GetEnumByID(ctx, fd.Enum)
		if err != nil {
			return nil, err
		}
		return enumValueFor(en, fv.singleRef.id), nil
	default:
		return fv.scalar, nil
	}
}

func enumValueFor(en *catalog.EnumDescriptor, value int64) catalog.EnumValue {
	for _, v := range en.Values {
		if v.Value == value {
			return v
		}
	}
	return catalog.EnumValue{Value: value}
}

// Fields lists the logical field names set on this item.
func (it *Item) Fields() []string {
	names := make([]string, 0, len(it.values))
	for _, f := range it.model.Fields {
		if _, ok := it.values[f.Name]; ok {
			names = append(names, f.Name)
		}
	}
	return names
}

// String renders a compact debugging representation.
func (it *Item) String() string {
	return fmt.Sprintf("%s#%d", it.model.Name, it.ID)
}
