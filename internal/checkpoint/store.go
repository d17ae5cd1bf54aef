package checkpoint

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"

	"github.com/ember-ml/ember/internal/nn"
)

// Store keeps named checkpoints.
type Store interface {
	Save(name string, net *nn.Network) error
	Load(name string, net *nn.Network) error
}

// FileStore keeps one raw checkpoint file per name in a directory.
type FileStore struct {
	Dir string
}

// NewFileStore returns a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint dir: %w", err)
	}
	return &FileStore{Dir: dir}, nil
}

// Path returns the file used for name.
func (s *FileStore) Path(name string) string {
	return filepath.Join(s.Dir, name)
}

// Save writes net to <dir>/<name>. The file is replaced atomically.
func (s *FileStore) Save(name string, net *nn.Network) error {
	tmp, err := os.CreateTemp(s.Dir, "."+name+".*")
	if err != nil {
		return fmt.Errorf("failed to create checkpoint: %w", err)
	}
	if err := Save(tmp, net); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close checkpoint: %w", err)
	}
	return os.Rename(tmp.Name(), s.Path(name))
}

// Load reads <dir>/<name> into net.
func (s *FileStore) Load(name string, net *nn.Network) error {
	return LoadFile(s.Path(name), net)
}

const keyPrefix = "checkpoint/"

// BadgerStore keeps checkpoints in a BadgerDB database. Each value is an
// 8-byte little-endian xxhash64 of the payload followed by the payload in
// the raw checkpoint format.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (or creates) a database in dir. An empty dir
// opens an in-memory database.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil // Disable logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint database: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Save stores the parameters of net under name.
func (s *BadgerStore) Save(name string, net *nn.Network) error {
	var buf bytes.Buffer
	buf.Grow(8 + Size(net))
	buf.Write(make([]byte, 8))
	if err := Save(&buf, net); err != nil {
		return err
	}

	value := buf.Bytes()
	binary.LittleEndian.PutUint64(value[:8], xxhash.Sum64(value[8:]))

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+name), value)
	})
}

// Load restores the checkpoint stored under name into net. The payload
// checksum is verified before any parameter is touched.
func (s *BadgerStore) Load(name string, net *nn.Network) error {
	var payload []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + name))
		if err != nil {
			return err
		}
		payload, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read checkpoint %s: %w", name, err)
	}

	if len(payload) < 8 || binary.LittleEndian.Uint64(payload[:8]) != xxhash.Sum64(payload[8:]) {
		return fmt.Errorf("%s: %w", name, ErrChecksumMismatch)
	}
	return Load(bytes.NewReader(payload[8:]), net)
}

// Names lists the stored checkpoints in name order.
func (s *BadgerStore) Names() ([]string, error) {
	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			names = append(names, strings.TrimPrefix(string(it.Item().Key()), keyPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes the checkpoint stored under name, if any.
func (s *BadgerStore) Delete(name string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + name))
	})
}
