package modelitem

import (
	"context"
	"fmt"
	"sort"

	"github.com/mxkrt/dadb/internal/backend"
	"github.com/mxkrt/dadb/internal/catalog"
	"github.com/mxkrt/dadb/internal/dadberr"
	"github.com/mxkrt/dadb/internal/datatype"
)

// findIdentical looks for an existing row of model whose single-valued
// columns exactly match it's pending content and whose multi-valued fields
// match it as multisets. Two items that differ only in the order of a
// multi-valued field are considered identical.
func findIdentical(ctx context.Context, be backend.Backend, model *catalog.ModelDescriptor, it *Item) (int64, bool, error) {
	var whereCols []string
	var args []interface{}
	for _, fd := range model.Fields {
		if fd.Multiple {
			continue
		}
		fv := it.values[fd.Name]
		whereCols = append(whereCols, fd.ColName)
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
				return 0, false, err
			}
			args = append(args, enc)
		}
	}

	stmt := fmt.Sprintf("SELECT id FROM %s", model.TableName)
	if len(whereCols) > 0 {
		clauses := make([]string, len(whereCols))
		for i, c := range whereCols {
			clauses[i] = c + " IS ?"
		}
		stmt += " WHERE " + joinAnd(clauses)
	}

	rows, err := be.Query(ctx, stmt, args...)
	if err != nil {
		return 0, false, err
	}
	defer func() { _ = rows.Close() }()

	var candidates []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return 0, false, dadberr.Wrapf(err, nil, "scan %s candidate id", model.Name)
		}
		candidates = append(candidates, id)
	}
	if err := rows.Err(); err != nil {
		return 0, false, dadberr.Wrapf(err, nil, "iterate %s candidates", model.Name)
	}

	for _, id := range candidates {
		ok, err := matchesMulti(ctx, be, model, it, id)
		if err != nil {
			return 0, false, err
		}
		if ok {
			return id, true, nil
		}
	}
	return 0, false, nil
}

func matchesMulti(ctx context.Context, be backend.Backend, model *catalog.ModelDescriptor, it *Item, candidateID int64) (bool, error) {
	for _, fd := range model.Fields {
		if !fd.Multiple {
			continue
		}
		fv := it.values[fd.Name]
		switch {
		case fd.IsSubmodel() || fd.IsEnum():
			existing, err := fetchRefMultiset(ctx, be, fd.MapTable, candidateID)
			if err != nil {
				return false, err
			}
			want := make([]int64, 0, len(fv.multiRefs))
			for _, r := range fv.multiRefs {
				want = append(want, r.id)
			}
			if !equalInt64Multiset(existing, want) {
				return false, nil
			}
		default:
			existing, err := fetchScalarMultiset(ctx, be, fd.PropTable, fd.Datatype, candidateID)
			if err != nil {
				return false, err
			}
			if !equalScalarMultiset(existing, fv.scalars) {
				return false, nil
			}
		}
	}
	return true, nil
}

func fetchRefMultiset(ctx context.Context, be backend.Backend, table string, parentID int64) ([]int64, error) {
	rows, err := be.Query(ctx, fmt.Sprintf("SELECT target_id FROM %s WHERE parent_id = ?", table), parentID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, dadberr.Wrapf(err, nil, "scan maptable row")
		}
		out = append(out, id)
	}
	return out, dadberr.Wrapf(rows.Err(), nil, "iterate maptable")
}

func fetchScalarMultiset(ctx context.Context, be backend.Backend, table string, dt datatype.Type, parentID int64) ([]interface{}, error) {
	rows, err := be.Query(ctx, fmt.Sprintf("SELECT value FROM %s WHERE parent_id = ?", table), parentID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []interface{}
	for rows.Next() {
		var raw interface{}
		if err := rows.Scan(&raw); err != nil {
			return nil, dadberr.Wrapf(err, nil, "scan proptable row")
		}
		dec, err := datatype.Decode(dt, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, dec)
	}
	return out, dadberr.Wrapf(rows.Err(), nil, "iterate proptable")
}

func equalInt64Multiset(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	sa, sb := append([]int64(nil), a...), append([]int64(nil), b...)
	sort.Slice(sa, func(i, j int) bool { return sa[i] < sa[j] })
	sort.Slice(sb, func(i, j int) bool { return sb[i] < sb[j] })
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}

func equalScalarMultiset(a, b []interface{}) bool {
	if len(a) != len(b) {
		return false
	}
	sa := make([]string, len(a))
	sb := make([]string, len(b))
	for i, v := range a {
		sa[i] = fmt.Sprintf("%v", v)
	}
	for i, v := range b {
		sb[i] = fmt.Sprintf("%v", v)
	}
	sort.Strings(sa)
	sort.Strings(sb)
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}

func joinAnd(clauses []string) string {
	out := ""
	for i, c := range clauses {
		if i > 0 {
			out += " AND "
		}
		out += c
	}
	return out
}
