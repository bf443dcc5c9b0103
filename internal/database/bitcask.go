package database

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"git.mills.io/prologic/bitcask"
	log "github.com/sirupsen/logrus"
)

// ErrNotFound is returned when a key is not found in the database.
var ErrNotFound = errors.New("key not found")

// gzipMagicBytes are the first two bytes of a gzip file.
var gzipMagicBytes = []byte{0x1f, 0x8b}

// values smaller than this are stored uncompressed
const compressThreshold = 256

// DB wraps the bitcask database instance and provides helper methods.
type DB struct {
	db *bitcask.Bitcask
	mu sync.RWMutex
}

// Open initializes and returns a DB instance.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	dbInstance, err := bitcask.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open bitcask database at %s: %w", path, err)
	}
	log.Debugf("Database opened at %s", path)
	return &DB{db: dbInstance}, nil
}

// Close safely closes the database connection.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db.Close()
}

// Has checks if a key exists in the database.
func (d *DB) Has(key []byte) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.db.Has(key)
}

// Get retrieves the value associated with a key and decompresses it if necessary.
func (d *DB) Get(key []byte) ([]byte, error) {
	d.mu.RLock()
	value, err := d.db.Get(key)
	d.mu.RUnlock()

	if err != nil {
		if errors.Is(err, bitcask.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error getting key %s: %w", string(key), err)
	}
	return decompressIfGzipped(value)
}

// Put stores a key-value pair, gzip-compressing large values.
func (d *DB) Put(key []byte, value []byte) error {
	stored := value
	if len(value) >= compressThreshold {
		compressed, err := compressGzip(value, gzip.BestCompression)
		if err != nil {
			return fmt.Errorf("error compressing value for key %s: %w", string(key), err)
		}
		stored = compressed
	}

	d.mu.Lock()
	err := d.db.Put(key, stored)
	d.mu.Unlock()
	if err != nil {
		return fmt.Errorf("error putting key %s: %w", string(key), err)
	}
	return nil
}

// Delete removes a key from the database.
func (d *DB) Delete(key []byte) error {
	d.mu.Lock()
	err := d.db.Delete(key)
	d.mu.Unlock()
	if err != nil {
		if errors.Is(err, bitcask.ErrKeyNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("error deleting key %s: %w", string(key), err)
	}
	return nil
}

// Fold iterates over all key-value pairs with decompressed values.
func (d *DB) Fold(fn func(key []byte, value []byte) error) error {
	// Keys are collected first so fn may call back into the DB.
	var keys [][]byte
	d.mu.RLock()
	err := d.db.Fold(func(key []byte) error {
		keys = append(keys, append([]byte(nil), key...))
		return nil
	})
	d.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("error scanning keys: %w", err)
	}

	for _, key := range keys {
		value, err := d.Get(key)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				log.WithError(err).Warnf("Fold: Error getting value for key %s", string(key))
			}
			continue
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return nil
}

// FoldPrefix is Fold restricted to keys starting with prefix.
func (d *DB) FoldPrefix(prefix string, fn func(key []byte, value []byte) error) error {
	return d.Fold(func(key []byte, value []byte) error {
		if !strings.HasPrefix(string(key), prefix) {
			return nil
		}
		return fn(key, value)
	})
}

// GetJSON unmarshals the value stored under key into out.
func (d *DB) GetJSON(key string, out interface{}) error {
	raw, err := d.Get([]byte(key))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("error unmarshalling key %s: %w", key, err)
	}
	return nil
}

// PutJSON marshals v and stores it under key.
func (d *DB) PutJSON(key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("error marshalling key %s: %w", key, err)
	}
	return d.Put([]byte(key), raw)
}

// --- Compression Helpers ---

func decompressIfGzipped(value []byte) ([]byte, error) {
	if !bytes.HasPrefix(value, gzipMagicBytes) {
		return value, nil
	}
	gReader, err := gzip.NewReader(bytes.NewReader(value))
	if err != nil {
		log.WithError(err).Warnf("Error creating gzip reader for value, returning raw data.")
		return value, nil
	}
	defer gReader.Close()

	decompressedValue, err := io.ReadAll(gReader)
	if err != nil {
		log.WithError(err).Warnf("Error decompressing value, returning raw data.")
		return value, nil
	}
	return decompressedValue, nil
}

func compressGzip(value []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	gWriter, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("error creating gzip writer for value: %w", err)
	}
	if _, err = gWriter.Write(value); err != nil {
		_ = gWriter.Close()
		return nil, fmt.Errorf("error writing compressed data for value: %w", err)
	}
	// Close flushes the gzip footer.
	if err = gWriter.Close(); err != nil {
		return nil, fmt.Errorf("error closing gzip writer for value: %w", err)
	}
	return buf.Bytes(), nil
}
