package dadb

import "context"

// BeginTransaction starts a transaction if none is active on this handle,
// returning true. If one is already active it returns false: nested callers
// join the outer transaction and must not commit it themselves.
func (d *Database) BeginTransaction(ctx context.Context) (bool, error) {
	if d.be.InTransaction() {
		return false, nil
	}
	if err := d.be.BeginTx(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// EndTransaction commits iff started is true, i.e. iff this caller is the
// one that started the transaction via BeginTransaction. Call pattern:
//
//	started, err := db.BeginTransaction(ctx)
//	if err != nil { return err }
//	defer func() {
//	    if err != nil { _, _ = db.RollbackTransaction() ; return }
//	    err = db.EndTransaction(started)
//	}()
func (d *Database) EndTransaction(started bool) error {
	if !started {
		return nil
	}
	return d.be.Commit()
}

// RollbackTransaction unconditionally rolls back the outermost transaction,
// reporting whether one was active.
func (d *Database) RollbackTransaction() (bool, error) {
	return d.be.Rollback()
}
