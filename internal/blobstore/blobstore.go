// Package blobstore implements DADB's Data Store (§4.3): a content-addressed
// blob store that splits incoming streams into fixed-size blocks,
// deduplicates blocks by sha1, and records per-object md5/sha1/sha256 and
// size. The input stream is read one BlockSize slice at a time, but
// InsertData keeps every slice in memory until the whole stream is hashed
// and the duplicate check is done, so inserting a stream holds all of its
// bytes in memory at once.
package blobstore

import (
	"context"
	"crypto/md5"  //nolint:gosec // content identity hash, not used for security
	"crypto/sha1" //nolint:gosec // block dedup hash, not used for security
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/mxkrt/dadb/internal/backend"
	"github.com/mxkrt/dadb/internal/dadberr"
)

// BlockSize is the per-block target size used when chunking an inserted
// stream. Fixed per §4.3.
const BlockSize = 50 * 1024 * 1024

// Store is the content-addressed blob store built on a backend.Backend.
// It owns the xdata/xblock/xblockmap tables but not their DDL: the catalog
// creates them as part of the fixed content-store layout (§3.2).
type Store struct {
	be backend.Backend
}

// New wraps be as a blob Store. The caller is responsible for having
// created the xdata/xblock/xblockmap tables (see catalog.CreateContentTables).
func New(be backend.Backend) *Store {
	return &Store{be: be}
}

// Handle describes a stored (or metadata-only) data object.
type Handle struct {
	ID     int64
	MD5    string
	SHA1   string
	SHA256 string
	Size   int64
	Stored bool
}

// InsertData reads r to completion, chunking it into BlockSize-aligned
// blocks, deduplicating each block by its sha1+size against existing block
// rows, and recording the whole-stream md5/sha1/sha256/size as a data row.
// If a data row with a matching sha256 and stored=1 already exists, its id
// is returned without re-reading blocks into storage (the stream is still
// drained for hashing, since identity can only be confirmed after seeing
// all bytes).
func (s *Store) InsertData(ctx context.Context, r io.Reader) (int64, error) {
	md5h := md5.New()     //nolint:gosec
	sha1h := sha1.New()   //nolint:gosec
	sha256h := sha256.New()
	tee := io.MultiWriter(md5h, sha1h, sha256h)

	type pendingBlock struct {
		sha1   string
		size   int64
		data   []byte
		offset int64
	}
	var blocks []pendingBlock
	var total int64
	buf := make([]byte, BlockSize)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if _, werr := tee.Write(chunk); werr != nil {
				return 0, dadberr.Wrap("hash block", werr, nil)
			}
			blockHash := blockSHA1(chunk)
			blocks = append(blocks, pendingBlock{sha1: blockHash, size: int64(n), data: chunk, offset: total})
			total += int64(n)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return 0, dadberr.Wrap("read stream", err, nil)
		}
	}

	md5sum := hex.EncodeToString(md5h.Sum(nil))
	sha1sum := hex.EncodeToString(sha1h.Sum(nil))
	sha256sum := hex.EncodeToString(sha256h.Sum(nil))

	if existing, ok, err := s.findStoredBySHA256(ctx, sha256sum); err != nil {
		return 0, err
	} else if ok {
		return existing, nil
	}

	started, err := beginIfNeeded(ctx, s.be)
	if err != nil {
		return 0, err
	}
	defer func() {
		if started {
			_, _ = s.be.Rollback()
		}
	}()

	dataID, err := s.insertDataRow(ctx, md5sum, sha1sum, sha256sum, total, true)
	if err != nil {
		return 0, err
	}

	for _, b := range blocks {
		blkID, err := s.findOrCreateBlock(ctx, b.sha1, b.size, b.data)
		if err != nil {
			return 0, err
		}
		if _, err := s.be.Exec(ctx, `INSERT INTO xblockmap (dataid, blkid, offset) VALUES (?, ?, ?)`,
			dataID, blkID, b.offset); err != nil {
			return 0, dadberr.Wrap("insert blockmap row", err, nil)
		}
	}

	if started {
		if err := s.be.Commit(); err != nil {
			return 0, err
		}
		started = false
	}
	return dataID, nil
}

func blockSHA1(b []byte) string {
	h := sha1.New() //nolint:gosec
	_, _ = h.Write(b)
	return hex.EncodeToString(h.Sum(nil))
}

// RegisterHash registers a data object by its hash triple and size without
// storing its blocks (stored=0), per §4.3's metadata-only insert. Reads
// against the returned id fail with ErrNoSuchDataObject until AttachBlocks
// supplies the blocks.
func (s *Store) RegisterHash(ctx context.Context, md5sum, sha1sum, sha256sum string, size int64) (int64, error) {
	return s.insertDataRow(ctx, md5sum, sha1sum, sha256sum, size, false)
}

// AttachBlocks supplies the blocks for a previously metadata-only data
// object, chunking r the same way InsertData does, and marks it stored.
// The caller must ensure r's content hashes to the registered triple; this
// is not re-verified here.
func (s *Store) AttachBlocks(ctx context.Context, dataID int64, r io.Reader) error {
	started, err := beginIfNeeded(ctx, s.be)
	if err != nil {
		return err
	}
	defer func() {
		if started {
			_, _ = s.be.Rollback()
		}
	}()

	buf := make([]byte, BlockSize)
	var offset int64
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			blkID, err := s.findOrCreateBlock(ctx, blockSHA1(chunk), int64(n), chunk)
			if err != nil {
				return err
			}
			if _, err := s.be.Exec(ctx, `INSERT INTO xblockmap (dataid, blkid, offset) VALUES (?, ?, ?)`,
				dataID, blkID, offset); err != nil {
				return dadberr.Wrap("insert blockmap row", err, nil)
			}
			offset += int64(n)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return dadberr.Wrap("read stream", err, nil)
		}
	}

	if _, err := s.be.Exec(ctx, `UPDATE xdata SET stored = 1 WHERE id = ?`, dataID); err != nil {
		return dadberr.Wrap("mark data stored", err, nil)
	}
	if started {
		return s.be.Commit()
	}
	return nil
}

func (s *Store) insertDataRow(ctx context.Context, md5sum, sha1sum, sha256sum string, size int64, stored bool) (int64, error) {
	storedInt := 0
	if stored {
		storedInt = 1
	}
	res, err := s.be.Exec(ctx, `INSERT INTO xdata (md5, sha1, sha256, size, stored) VALUES (?, ?, ?, ?, ?)`,
		md5sum, sha1sum, sha256sum, size, storedInt)
	if err != nil {
		return 0, dadberr.Wrap("insert data row", err, nil)
	}
	return res.LastInsertId()
}

func (s *Store) findStoredBySHA256(ctx context.Context, sha256sum string) (int64, bool, error) {
	row := s.be.QueryRow(ctx, `SELECT id FROM xdata WHERE sha256 = ? AND stored = 1`, sha256sum)
	var id int64
	switch err := row.Scan(&id); err {
	case nil:
		return id, true, nil
	case sql.ErrNoRows:
		return 0, false, nil
	default:
		return 0, false, dadberr.Wrap("lookup data by sha256", err, nil)
	}
}

func (s *Store) findOrCreateBlock(ctx context.Context, sha1sum string, size int64, data []byte) (int64, error) {
	row := s.be.QueryRow(ctx, `SELECT id FROM xblock WHERE sha1 = ? AND size = ?`, sha1sum, size)
	var id int64
	switch err := row.Scan(&id); err {
	case nil:
		return id, nil
	case sql.ErrNoRows:
		res, err := s.be.Exec(ctx, `INSERT INTO xblock (sha1, size, data) VALUES (?, ?, ?)`, sha1sum, size, data)
		if err != nil {
			return 0, dadberr.Wrap("insert block", err, nil)
		}
		return res.LastInsertId()
	default:
		return 0, dadberr.Wrap("lookup block", err, nil)
	}
}

// GetData returns a handle describing the data object and a seekable
// reader over its bytes, reconstructed by concatenating its blocks in
// offset order.
func (s *Store) GetData(ctx context.Context, id int64) (*Handle, io.ReadSeeker, error) {
	row := s.be.QueryRow(ctx, `SELECT md5, sha1, sha256, size, stored FROM xdata WHERE id = ?`, id)
	var h Handle
	var storedInt int
	h.ID = id
	if err := row.Scan(&h.MD5, &h.SHA1, &h.SHA256, &h.Size, &storedInt); err != nil {
		return nil, nil, dadberr.Wrap("get data", err, dadberr.ErrNoSuchDataObject)
	}
	h.Stored = storedInt != 0
	if !h.Stored {
		return nil, nil, fmt.Errorf("data object %d has no stored blocks: %w", id, dadberr.ErrNoSuchDataObject)
	}
	return &h, newDataReader(ctx, s.be, id, h.Size), nil
}

// dataReader lazily fetches blocks in offset order as the caller reads
// past the currently buffered block.
type dataReader struct {
	ctx    context.Context
	be     backend.Backend
	dataID int64
	size   int64
	pos    int64

	curOffset int64
	curData   []byte
}

func newDataReader(ctx context.Context, be backend.Backend, dataID int64, size int64) *dataReader {
	return &dataReader{ctx: ctx, be: be, dataID: dataID, size: size}
}

func (d *dataReader) Read(p []byte) (int, error) {
	if d.pos >= d.size {
		return 0, io.EOF
	}
	if d.curData == nil || d.pos < d.curOffset || d.pos >= d.curOffset+int64(len(d.curData)) {
		if err := d.loadBlockFor(d.pos); err != nil {
			return 0, err
		}
	}
	n := copy(p, d.curData[d.pos-d.curOffset:])
	d.pos += int64(n)
	return n, nil
}

func (d *dataReader) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = d.pos + offset
	case io.SeekEnd:
		newPos = d.size + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if newPos < 0 {
		return 0, fmt.Errorf("negative seek position")
	}
	d.pos = newPos
	return d.pos, nil
}

func (d *dataReader) loadBlockFor(pos int64) error {
	row := d.be.QueryRow(d.ctx, `
		SELECT bm.offset, b.data
		FROM xblockmap bm JOIN xblock b ON b.id = bm.blkid
		WHERE bm.dataid = ? AND bm.offset <= ? AND bm.offset + b.size > ?
		ORDER BY bm.offset ASC LIMIT 1`, d.dataID, pos, pos)
	var offset int64
	var data []byte
	if err := row.Scan(&offset, &data); err != nil {
		return dadberr.Wrap("load block", err, dadberr.ErrNoSuchDataObject)
	}
	d.curOffset = offset
	d.curData = data
	return nil
}

// beginIfNeeded starts a transaction if one is not already active, for
// call sites that must guarantee atomic insertion of a data row plus its
// blockmap rows even when called outside an explicit caller transaction.
func beginIfNeeded(ctx context.Context, be backend.Backend) (bool, error) {
	if be.InTransaction() {
		return false, nil
	}
	if err := be.BeginTx(ctx); err != nil {
		return false, err
	}
	return true, nil
}
