// Package timeline implements DADB's Timeline Engine (§4.7): the derived
// xTimeline_ view that unions every Datetime/Date field of every
// non-blacklisted registered model into one chronological stream.
package timeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/mxkrt/dadb/internal/backend"
	"github.com/mxkrt/dadb/internal/catalog"
	"github.com/mxkrt/dadb/internal/dadberr"
	"github.com/mxkrt/dadb/internal/datatype"
	"github.com/mxkrt/dadb/internal/registry"
)

// ViewName is the physical name of the derived timeline view.
const ViewName = "xTimeline_"

// Field describes one temporal column contributing rows to the timeline,
// exposed read-only for introspection by callers that want to know which
// fields feed the view without re-deriving it themselves.
type Field struct {
	ModelName string
	FieldName string
	TableName string
	ColName   string
}

// Engine owns regeneration of the timeline view.
type Engine struct {
	be  backend.Backend
	reg *registry.Registry
}

// New binds an Engine to be and reg.
func New(be backend.Backend, reg *registry.Registry) *Engine {
	return &Engine{be: be, reg: reg}
}

// Fields lists every temporal field that would contribute a sub-select to
// the timeline view under the current blacklist, in model-registration
// order.
func (e *Engine) Fields(ctx context.Context) ([]Field, error) {
	blacklist, err := e.reg.Catalog().TimelineBlacklist(ctx)
	if err != nil {
		return nil, err
	}
	blocked := make(map[string]bool, len(blacklist))
	for _, n := range blacklist {
		blocked[n] = true
	}

	var fields []Field
	for _, name := range e.reg.Models() {
		if blocked[name] {
			continue
		}
		m, ok := e.reg.Model(name)
		if !ok {
			continue
		}
		for _, fd := range m.Fields {
			if fd.Multiple || fd.IsSubmodel() || fd.IsEnum() {
				continue
			}
			if fd.Datatype != datatype.Datetime && fd.Datatype != datatype.Date {
				continue
			}
			fields = append(fields, Field{ModelName: name, FieldName: fd.Name, TableName: m.TableName, ColName: fd.ColName})
		}
	}
	return fields, nil
}

// Regenerate drops and recreates xTimeline_ within a transaction. Called
// after every model registration and every blacklist change. If no model
// contributes a temporal field, the view is left absent.
func (e *Engine) Regenerate(ctx context.Context) error {
	started, err := beginIfNeeded(ctx, e.be)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if started && !committed {
			_, _ = e.be.Rollback()
		}
	}()

	if err := e.be.DDL(ctx, "DROP VIEW IF EXISTS "+ViewName); err != nil {
		return err
	}

	blacklist, err := e.reg.Catalog().TimelineBlacklist(ctx)
	if err != nil {
		return err
	}
	if err := validateBlacklist(e.reg, blacklist); err != nil {
		return err
	}
	blocked := make(map[string]bool, len(blacklist))
	for _, n := range blacklist {
		blocked[n] = true
	}

	prefix := e.reg.Catalog().Prefix
	pkey := e.reg.Catalog().PKey

	var selects []string
	for _, name := range e.reg.Models() {
		if blocked[name] {
			continue
		}
		m, ok := e.reg.Model(name)
		if !ok {
			continue
		}
		preview := previewExpr(m)
		for _, fd := range m.Fields {
			if fd.Multiple || fd.IsSubmodel() || fd.IsEnum() {
				continue
			}
			if fd.Datatype != datatype.Datetime && fd.Datatype != datatype.Date {
				continue
			}
			selects = append(selects, fmt.Sprintf(
				`SELECT %s AS timestamp_, '%s' AS timestampfield_, '%s' AS table_, %s AS %s%s, %s AS preview_
				 FROM %s WHERE %s IS NOT NULL`,
				fd.ColName, fd.Name, m.TableName, pkey, prefix, pkey, preview, m.TableName, fd.ColName))
		}
	}

	if len(selects) == 0 {
		if started {
			if err := e.be.Commit(); err != nil {
				return err
			}
			committed = true
		}
		return nil
	}

	stmt := fmt.Sprintf("CREATE VIEW %s AS\n%s\nORDER BY timestamp_ ASC", ViewName, strings.Join(selects, "\nUNION ALL\n"))
	if err := e.be.DDL(ctx, stmt); err != nil {
		return err
	}

	if started {
		if err := e.be.Commit(); err != nil {
			return err
		}
		committed = true
	}
	return nil
}

// previewExpr builds the |-joined preview expression for m: for every
// non-Bytes column flagged preview, "<fieldname>:" concatenated with the
// column cast to TEXT, with a NULL column coalesced to empty string. The
// label is concatenated outside the COALESCE so a NULL value still
// contributes "<fieldname>:" rather than disappearing entirely.
func previewExpr(m *catalog.ModelDescriptor) string {
	var parts []string
	for _, fd := range m.Fields {
		if fd.Multiple || fd.IsSubmodel() || fd.IsEnum() || !fd.Preview {
			continue
		}
		if fd.Datatype == datatype.Bytes {
			continue
		}
		parts = append(parts, fmt.Sprintf(`'%s:' || COALESCE(CAST(%s AS TEXT), '')`, fd.Name, fd.ColName))
	}
	if len(parts) == 0 {
		return "''"
	}
	return strings.Join(parts, " || '|' || ")
}

func validateBlacklist(reg *registry.Registry, names []string) error {
	for _, n := range names {
		if _, ok := reg.Model(n); !ok {
			return dadberr.ValueErrorf(n, "timeline exclusion list contains invalid modelname")
		}
	}
	return nil
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
