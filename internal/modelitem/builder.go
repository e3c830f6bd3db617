package modelitem

import (
	"context"
	"fmt"

	"github.com/mxkrt/dadb/internal/catalog"
	"github.com/mxkrt/dadb/internal/dadberr"
	"github.com/mxkrt/dadb/internal/datatype"
)

// MakeModelItem builds an Item bound to modelname from a flat map of field
// name to content, validating presence, nullability, and datatype shape
// without touching storage. Submodel fields accept either an unresolved
// *Item (cascaded on InsertModelItem) or an existing row id; enum fields
// accept a catalog.EnumValue, a bare value, or an enum member name.
func (e *Engine) MakeModelItem(ctx context.Context, modelname string, fields map[string]interface{}) (*Item, error) {
	m, ok := e.reg.Model(modelname)
	if !ok {
		return nil, fmt.Errorf("model %q: %w", modelname, dadberr.ErrNoSuchModel)
	}

	it := &Item{engine: e, model: m, values: make(map[string]*fieldValue, len(m.Fields))}
	for _, fd := range m.Fields {
		raw, present := fields[fd.Name]
		fv := &fieldValue{fd: fd}

		switch {
		case fd.Multiple && present && raw != nil:
			elems, ok := raw.([]interface{})
			if !ok {
				return nil, dadberr.ValueErrorf(fd.Name, "expected a slice for multi-valued field, got %T", raw)
			}
			switch {
			case fd.IsSubmodel():
				for _, elem := range elems {
					r, err := e.toSubmodelRef(ctx, fd, elem)
					if err != nil {
						return nil, err
					}
					fv.multiRefs = append(fv.multiRefs, r)
				}
			case fd.IsEnum():
				for _, elem := range elems {
					r, err := e.toEnumRef(ctx, fd, elem)
					if err != nil {
						return nil, err
					}
					fv.multiRefs = append(fv.multiRefs, r)
				}
			default:
				for _, elem := range elems {
					v, err := coerceScalar(fd.Name, fd.Datatype, elem)
					if err != nil {
						return nil, err
					}
					fv.scalars = append(fv.scalars, v)
				}
			}

		case fd.Multiple:
			// absent multi-valued field: empty collection, always legal.

		case fd.IsSubmodel():
			if !present || raw == nil {
				if !fd.Nullable {
					return nil, dadberr.ValueErrorf(fd.Name, "required submodel field missing")
				}
				break
			}
			r, err := e.toSubmodelRef(ctx, fd, raw)
			if err != nil {
				return nil, err
			}
			fv.singleRef = r

		case fd.IsEnum():
			if !present || raw == nil {
				if !fd.Nullable {
					return nil, dadberr.ValueErrorf(fd.Name, "required enum field missing")
				}
				break
			}
			r, err := e.toEnumRef(ctx, fd, raw)
			if err != nil {
				return nil, err
			}
			fv.singleRef = r

		default:
			if !present || raw == nil {
				if !fd.Nullable {
					return nil, dadberr.ValueErrorf(fd.Name, "required field missing")
				}
				break
			}
			v, err := coerceScalar(fd.Name, fd.Datatype, raw)
			if err != nil {
				return nil, err
			}
			fv.scalar, fv.scalarSet = v, true
		}

		it.values[fd.Name] = fv
	}
	return it, nil
}

func (e *Engine) toSubmodelRef(ctx context.Context, fd catalog.FieldDescriptor, raw interface{}) (*ref, error) {
	switch v := raw.(type) {
	case *Item:
		name, err := e.submodelName(ctx, fd)
		if err != nil {
			return nil, err
		}
		if v.ModelName() != name {
			return nil, dadberr.ValueErrorf(fd.Name, "expected an item of model %q, got %q", name, v.ModelName())
		}
		if v.ID != 0 {
			return &ref{id: v.ID}, nil
		}
		return &ref{item: v}, nil
	case int64:
		return &ref{id: v}, nil
	case int:
		return &ref{id: int64(v)}, nil
	default:
		return nil, dadberr.ValueErrorf(fd.Name, "expected *modelitem.Item or row id, got %T", raw)
	}
}

func (e *Engine) toEnumRef(ctx context.Context, fd catalog.FieldDescriptor, raw interface{}) (*ref, error) {
	en, err := e.reg.Catalog().GetEnumByID(ctx, fd.Enum)
	if err != nil {
		return nil, err
	}
	switch v := raw.(type) {
	case catalog.EnumValue:
		if !memberOf(en, v.Value) {
			return nil, dadberr.ValueErrorf(fd.Name, "value %d is not a member of enum %q", v.Value, en.Name)
		}
		return &ref{id: v.Value}, nil
	case int64:
		if !memberOf(en, v) {
			return nil, dadberr.ValueErrorf(fd.Name, "value %d is not a member of enum %q", v, en.Name)
		}
		return &ref{id: v}, nil
	case int:
		return e.toEnumRef(ctx, fd, int64(v))
	case string:
		for _, m := range en.Values {
			if m.Name == v {
				return &ref{id: m.Value}, nil
			}
		}
		return nil, dadberr.ValueErrorf(fd.Name, "%q is not a member name of enum %q", v, en.Name)
	default:
		return nil, dadberr.ValueErrorf(fd.Name, "expected enum value, name, or catalog.EnumValue, got %T", raw)
	}
}

func memberOf(en *catalog.EnumDescriptor, value int64) bool {
	for _, v := range en.Values {
		if v.Value == value {
			return true
		}
	}
	return false
}

// coerceScalar validates v against the native Go type expected for
// datatype dt, without producing a storage primitive yet.
func coerceScalar(field string, dt datatype.Type, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	if _, err := datatype.Encode(dt, v); err != nil {
		return nil, err
	}
	return v, nil
}
