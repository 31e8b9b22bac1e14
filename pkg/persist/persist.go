// Package persist snapshots engine state to disk using BadgerDB.
//
// The engine is memory-first: Badger is a durability layer, not the hot
// path. Save writes a full snapshot; Load restores whatever a previous
// process left behind. A missing or empty database loads as empty state.
//
// Key layout:
//
//	node:<id>    one JSON value per graph node
//	edge:<id>    one JSON value per graph edge
//	hebb:state   all Hebbian connections, one JSON blob
//	inhib:state  all inhibitory patterns, one JSON blob
//	bitemp:state full bi-temporal model dump, one JSON blob
//	meta:saved_at RFC3339 timestamp of the last save
package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/orneryd/muninn/pkg/bitemporal"
	"github.com/orneryd/muninn/pkg/graph"
	"github.com/orneryd/muninn/pkg/hebbian"
	"github.com/orneryd/muninn/pkg/inhibit"
)

var (
	prefixNode  = []byte("node:")
	prefixEdge  = []byte("edge:")
	keyHebbian  = []byte("hebb:state")
	keyInhibit  = []byte("inhib:state")
	keyTemporal = []byte("bitemp:state")
	keySavedAt  = []byte("meta:saved_at")
)

// State is everything a snapshot carries.
type State struct {
	Nodes      []*graph.Node
	Edges      []*graph.Edge
	Hebbian    []hebbian.Connection
	Inhibition []inhibit.Pattern
	Temporal   bitemporal.State
	SavedAt    time.Time
}

// Store wraps a Badger database holding engine snapshots.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the snapshot database at dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("persist: open %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save writes a full snapshot, replacing any previous one.
func (s *Store) Save(state State) error {
	// Node and edge records from a prior save may no longer exist;
	// collect the old keys so removed entities do not resurrect on load.
	stale, err := s.collectKeys(prefixNode, prefixEdge)
	if err != nil {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, key := range stale {
		if err := wb.Delete(key); err != nil {
			return fmt.Errorf("persist: delete stale key: %w", err)
		}
	}

	for _, node := range state.Nodes {
		if err := setJSON(wb, append(append([]byte{}, prefixNode...), node.ID...), node); err != nil {
			return err
		}
	}
	for _, edge := range state.Edges {
		if err := setJSON(wb, append(append([]byte{}, prefixEdge...), edge.ID...), edge); err != nil {
			return err
		}
	}
	if err := setJSON(wb, keyHebbian, state.Hebbian); err != nil {
		return err
	}
	if err := setJSON(wb, keyInhibit, state.Inhibition); err != nil {
		return err
	}
	if err := setJSON(wb, keyTemporal, state.Temporal); err != nil {
		return err
	}
	if err := setJSON(wb, keySavedAt, time.Now()); err != nil {
		return err
	}

	if err := wb.Flush(); err != nil {
		return fmt.Errorf("persist: flush snapshot: %w", err)
	}
	return nil
}

// Load reads the last snapshot. A fresh database yields empty state.
func (s *Store) Load() (State, error) {
	var state State

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixNode
		it := txn.NewIterator(opts)
		for it.Rewind(); it.Valid(); it.Next() {
			var node graph.Node
			if err := itemJSON(it.Item(), &node); err != nil {
				it.Close()
				return err
			}
			state.Nodes = append(state.Nodes, &node)
		}
		it.Close()

		opts = badger.DefaultIteratorOptions
		opts.Prefix = prefixEdge
		it = txn.NewIterator(opts)
		for it.Rewind(); it.Valid(); it.Next() {
			var edge graph.Edge
			if err := itemJSON(it.Item(), &edge); err != nil {
				it.Close()
				return err
			}
			state.Edges = append(state.Edges, &edge)
		}
		it.Close()

		if err := getJSON(txn, keyHebbian, &state.Hebbian); err != nil {
			return err
		}
		if err := getJSON(txn, keyInhibit, &state.Inhibition); err != nil {
			return err
		}
		if err := getJSON(txn, keyTemporal, &state.Temporal); err != nil {
			return err
		}
		return getJSON(txn, keySavedAt, &state.SavedAt)
	})
	if err != nil {
		return State{}, fmt.Errorf("persist: load snapshot: %w", err)
	}
	return state, nil
}

func (s *Store) collectKeys(prefixes ...[]byte) ([][]byte, error) {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		for _, prefix := range prefixes {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix
			opts.PrefetchValues = false
			it := txn.NewIterator(opts)
			for it.Rewind(); it.Valid(); it.Next() {
				keys = append(keys, it.Item().KeyCopy(nil))
			}
			it.Close()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("persist: scan keys: %w", err)
	}
	return keys, nil
}

func setJSON(wb *badger.WriteBatch, key []byte, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("persist: marshal %s: %w", key, err)
	}
	if err := wb.Set(key, data); err != nil {
		return fmt.Errorf("persist: set %s: %w", key, err)
	}
	return nil
}

// getJSON decodes a key into out, leaving out untouched when absent.
func getJSON(txn *badger.Txn, key []byte, out any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

func itemJSON(item *badger.Item, out any) error {
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}
