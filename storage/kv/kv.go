// Package kv provides ordered key value stores for table data.
package kv

import (
	"fmt"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// Iterator returns items in key order. Item calls fn with the next item or
// returns io.EOF when there are none; key and val are only valid during fn.
type Iterator interface {
	Item(fn func(key, val []byte) error) error
	Close()
}

// Updater is a single writer transaction; it sees its own changes.
type Updater interface {
	Iterate(key []byte) (Iterator, error)
	Get(key []byte, fn func(val []byte) error) error
	Set(key, val []byte) error
	Delete(key []byte) error
	Commit() error
	Rollback()
}

// KV is an ordered store. Get returns io.EOF if key is not found. Only one
// Updater may be open at a time; Update blocks until the current one is
// committed or rolled back.
type KV interface {
	Iterate(key []byte) (Iterator, error)
	Get(key []byte, fn func(val []byte) error) error
	Update() (Updater, error)
	Close() error
}

var Stores = []string{"memory", "bbolt", "badger", "pebble"}

// Open returns the store named store keeping its data in dataDir.
func Open(store, dataDir string, logger *log.Logger) (KV, error) {
	switch store {
	case "memory":
		return MakeBTreeKV(), nil
	case "bbolt":
		return MakeBBoltKV(dataDir)
	case "badger":
		return MakeBadgerKV(filepath.Join(dataDir, "badger"), logger)
	case "pebble":
		return MakePebbleKV(filepath.Join(dataDir, "pebble"), logger)
	}
	return nil, fmt.Errorf("kv: store must be one of %v; got %s", Stores, store)
}
