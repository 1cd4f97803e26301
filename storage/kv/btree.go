package kv

import (
	"bytes"
	"io"
	"sync"

	"github.com/google/btree"
)

const btreeChunk = 64

type btreeKV struct {
	treeMutex   sync.Mutex
	updateMutex sync.Mutex
	tree        *btree.BTree
}

// btreeIterator walks a clone of the tree a chunk of items at a time.
type btreeIterator struct {
	tree  *btree.BTree
	key   []byte
	after bool
	idx   int
	items []btreeItem
}

type btreeUpdater struct {
	bkv  *btreeKV
	tree *btree.BTree
}

type btreeItem struct {
	key []byte
	val []byte
}

func (bi btreeItem) Less(item btree.Item) bool {
	bi2 := item.(btreeItem)
	return bytes.Compare(bi.key, bi2.key) < 0
}

func MakeBTreeKV() KV {
	return &btreeKV{
		tree: btree.New(16),
	}
}

func (bkv *btreeKV) snapshot() *btree.BTree {
	bkv.treeMutex.Lock()
	defer bkv.treeMutex.Unlock()

	return bkv.tree.Clone()
}

func (bkv *btreeKV) Iterate(key []byte) (Iterator, error) {
	return iterateBTree(bkv.snapshot(), key), nil
}

func iterateBTree(tree *btree.BTree, key []byte) *btreeIterator {
	return &btreeIterator{
		tree: tree,
		key:  append(make([]byte, 0, len(key)), key...),
	}
}

func (bit *btreeIterator) fill() {
	bit.idx = 0
	bit.items = bit.items[:0]
	bit.tree.AscendGreaterOrEqual(btreeItem{key: bit.key},
		func(item btree.Item) bool {
			bi := item.(btreeItem)
			if bit.after && bytes.Equal(bi.key, bit.key) {
				return true
			}
			bit.items = append(bit.items, bi)
			return len(bit.items) < btreeChunk
		})
	if len(bit.items) > 0 {
		bit.key = bit.items[len(bit.items)-1].key
		bit.after = true
	}
}

func (bit *btreeIterator) Item(fn func(key, val []byte) error) error {
	if bit.idx == len(bit.items) {
		if bit.tree == nil {
			return io.EOF
		}
		bit.fill()
		if len(bit.items) == 0 {
			bit.tree = nil
			return io.EOF
		}
	}

	item := bit.items[bit.idx]
	bit.idx += 1
	return fn(item.key, item.val)
}

func (bit *btreeIterator) Close() {
	bit.tree = nil
	bit.items = nil
}

func getBTree(tree *btree.BTree, key []byte, fn func(val []byte) error) error {
	item := tree.Get(btreeItem{key: key})
	if item == nil {
		return io.EOF
	}
	return fn(item.(btreeItem).val)
}

func (bkv *btreeKV) Get(key []byte, fn func(val []byte) error) error {
	return getBTree(bkv.snapshot(), key, fn)
}

func (bkv *btreeKV) Update() (Updater, error) {
	bkv.updateMutex.Lock()

	return btreeUpdater{
		bkv:  bkv,
		tree: bkv.snapshot(),
	}, nil
}

func (bkv *btreeKV) Close() error {
	return nil
}

func (bu btreeUpdater) Iterate(key []byte) (Iterator, error) {
	return iterateBTree(bu.tree.Clone(), key), nil
}

func (bu btreeUpdater) Get(key []byte, fn func(val []byte) error) error {
	return getBTree(bu.tree, key, fn)
}

func (bu btreeUpdater) Set(key, val []byte) error {
	bu.tree.ReplaceOrInsert(btreeItem{
		key: append(make([]byte, 0, len(key)), key...),
		val: append(make([]byte, 0, len(val)), val...),
	})
	return nil
}

func (bu btreeUpdater) Delete(key []byte) error {
	bu.tree.Delete(btreeItem{key: key})
	return nil
}

func (bu btreeUpdater) Commit() error {
	bu.bkv.treeMutex.Lock()
	bu.bkv.tree = bu.tree
	bu.bkv.treeMutex.Unlock()

	bu.bkv.updateMutex.Unlock()
	return nil
}

func (bu btreeUpdater) Rollback() {
	bu.bkv.updateMutex.Unlock()
}
