package kv

import (
	"io"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"go.etcd.io/bbolt"
)

var (
	rowcacheBucket = []byte("rowcache")
)

type bboltKV struct {
	db *bbolt.DB
}

type bboltIterator struct {
	tx   *bbolt.Tx
	cr   *bbolt.Cursor
	key  []byte
	next bool
}

type bboltUpdater struct {
	tx  *bbolt.Tx
	bkt *bbolt.Bucket
}

func MakeBBoltKV(dataDir string) (KV, error) {
	os.MkdirAll(dataDir, 0755)

	// Readers left open by a cursor must not block a writer remapping the file.
	db, err := bbolt.Open(filepath.Join(dataDir, "rowcache.bbolt"), 0644,
		&bbolt.Options{InitialMmapSize: 1 << 30})
	if err != nil {
		return nil, errors.Wrap(err, "bbolt: open")
	}
	db.NoFreelistSync = true
	db.NoSync = true

	err = db.Update(
		func(tx *bbolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(rowcacheBucket)
			return err
		})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "bbolt: create bucket")
	}

	return bboltKV{
		db: db,
	}, nil
}

func (bkv bboltKV) begin(writable bool) (*bbolt.Tx, *bbolt.Bucket, error) {
	tx, err := bkv.db.Begin(writable)
	if err != nil {
		return nil, nil, errors.Wrap(err, "bbolt: begin")
	}
	bkt := tx.Bucket(rowcacheBucket)
	if bkt == nil {
		tx.Rollback()
		return nil, nil, errors.New("bbolt: missing rowcache bucket")
	}
	return tx, bkt, nil
}

func (bkv bboltKV) Iterate(key []byte) (Iterator, error) {
	tx, bkt, err := bkv.begin(false)
	if err != nil {
		return nil, err
	}

	return &bboltIterator{
		tx:  tx,
		cr:  bkt.Cursor(),
		key: append(make([]byte, 0, len(key)), key...),
	}, nil
}

func (bit *bboltIterator) Item(fn func(key, val []byte) error) error {
	var key, val []byte
	if bit.next {
		key, val = bit.cr.Next()
	} else {
		key, val = bit.cr.Seek(bit.key)
		bit.next = true
		bit.key = nil
	}

	if key == nil {
		return io.EOF
	}
	return fn(key, val)
}

func (bit *bboltIterator) Close() {
	if bit.tx != nil {
		bit.tx.Rollback()
		bit.tx = nil
	}
}

func (bkv bboltKV) Get(key []byte, fn func(val []byte) error) error {
	tx, bkt, err := bkv.begin(false)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	val := bkt.Get(key)
	if val == nil {
		return io.EOF
	}
	return fn(val)
}

func (bkv bboltKV) Update() (Updater, error) {
	tx, bkt, err := bkv.begin(true)
	if err != nil {
		return nil, err
	}
	return bboltUpdater{
		tx:  tx,
		bkt: bkt,
	}, nil
}

func (bkv bboltKV) Close() error {
	return bkv.db.Close()
}

func (bu bboltUpdater) Iterate(key []byte) (Iterator, error) {
	return &bboltIterator{
		cr:  bu.bkt.Cursor(),
		key: append(make([]byte, 0, len(key)), key...),
	}, nil
}

func (bu bboltUpdater) Get(key []byte, fn func(val []byte) error) error {
	val := bu.bkt.Get(key)
	if val == nil {
		return io.EOF
	}
	return fn(val)
}

func (bu bboltUpdater) Set(key, val []byte) error {
	return bu.bkt.Put(key, val)
}

func (bu bboltUpdater) Delete(key []byte) error {
	return bu.bkt.Delete(key)
}

func (bu bboltUpdater) Commit() error {
	return bu.tx.Commit()
}

func (bu bboltUpdater) Rollback() {
	bu.tx.Rollback()
}
