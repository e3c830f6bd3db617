package modelitem

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mxkrt/dadb/internal/catalog"
	"github.com/mxkrt/dadb/internal/dadberr"
)

// ItemCursor streams a model's rows in primary-key order, resolving each
// row to an Item independently. Callers must Close it.
type ItemCursor struct {
	ctx    context.Context
	engine *Engine
	model  *catalog.ModelDescriptor
	rows   *sql.Rows
	cols   []string
	cur    *Item
	err    error
}

// ModelItems opens a cursor over every row of modelname, ordered by primary
// key ascending.
func (e *Engine) ModelItems(ctx context.Context, modelname string) (*ItemCursor, error) {
	m, ok := e.reg.Model(modelname)
	if !ok {
		return nil, fmt.Errorf("model %q: %w", modelname, dadberr.ErrNoSuchModel)
	}
	rows, err := e.be.Query(ctx, fmt.Sprintf("SELECT * FROM %s ORDER BY %s ASC", m.TableName, e.reg.Catalog().PKey))
	if err != nil {
		return nil, err
	}
	cols, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		return nil, dadberr.Wrapf(err, nil, "read %s columns", modelname)
	}
	return &ItemCursor{ctx: ctx, engine: e, model: m, rows: rows, cols: cols}, nil
}

// Next advances the cursor. It returns false at end of stream or on error;
// callers must check Err afterward.
func (c *ItemCursor) Next() bool {
	if c.err != nil || !c.rows.Next() {
		return false
	}
	dest := make([]interface{}, len(c.cols))
	ptrs := make([]interface{}, len(c.cols))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	if err := c.rows.Scan(ptrs...); err != nil {
		c.err = dadberr.Wrapf(err, nil, "scan %s row", c.model.Name)
		return false
	}
	row := make(map[string]interface{}, len(c.cols))
	for i, col := range c.cols {
		row[col] = dest[i]
	}
	it, err := c.engine.rowToItem(c.ctx, c.model, row)
	if err != nil {
		c.err = err
		return false
	}
	c.cur = it
	return true
}

// Item returns the item produced by the most recent Next call.
func (c *ItemCursor) Item() *Item { return c.cur }

// Err returns the first error encountered, if any.
func (c *ItemCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return dadberr.Wrapf(c.rows.Err(), nil, "iterate %s", c.model.Name)
}

// Close releases the underlying result set.
func (c *ItemCursor) Close() error {
	return c.rows.Close()
}
