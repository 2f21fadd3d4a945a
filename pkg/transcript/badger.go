package transcript

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"
)

const keyPrefix = "transcript/"

// Badger is a Store implementation backed by BadgerDB v4. Records are
// msgpack-encoded under keys "transcript/<session>/<order>".
type Badger struct {
	db  *badger.DB
	seq atomic.Uint64
}

// BadgerOptions configures the BadgerDB store.
type BadgerOptions struct {
	// Dir is the directory for BadgerDB data files.
	// Required unless InMemory is set.
	Dir string

	// InMemory runs BadgerDB in memory-only mode (no disk persistence).
	InMemory bool

	// Logger sets the badger logger. If nil, badger messages at warning level
	// and above go to slog.
	Logger badger.Logger
}

// NewBadger opens a BadgerDB-backed Store.
func NewBadger(bopts BadgerOptions) (*Badger, error) {
	if !bopts.InMemory && bopts.Dir == "" {
		return nil, errors.New("transcript: BadgerOptions.Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(bopts.Dir)
	if bopts.InMemory {
		dbOpts = badger.DefaultOptions("").WithInMemory(true)
	}
	if bopts.Logger != nil {
		dbOpts = dbOpts.WithLogger(bopts.Logger)
	} else {
		dbOpts = dbOpts.WithLogger(slogLogger{})
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("transcript: open badger: %w", err)
	}
	return &Badger{db: db}, nil
}

func sessionPrefix(session string) []byte {
	return []byte(keyPrefix + session + "/")
}

// key orders records by append time, with a process-local counter breaking
// ties between records appended in the same nanosecond.
func (b *Badger) key(r Record) []byte {
	return fmt.Appendf(sessionPrefix(r.Session), "%016x%08x", r.Recorded.UnixNano(), uint32(b.seq.Add(1)))
}

func (b *Badger) Append(_ context.Context, r Record) error {
	if r.Session == "" {
		return ErrInvalidSession
	}
	val, err := msgpack.Marshal(&r)
	if err != nil {
		return fmt.Errorf("transcript: encode: %w", err)
	}
	k := b.key(r)
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(k, val)
	})
}

func (b *Badger) List(_ context.Context, session string) ([]Record, error) {
	prefix := sessionPrefix(session)
	var out []Record
	err := b.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			// Skip records of sessions whose id extends this one with a '/'.
			if bytes.IndexByte(it.Item().Key()[len(prefix):], '/') >= 0 {
				continue
			}
			var r Record
			err := it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &r)
			})
			if err != nil {
				return fmt.Errorf("transcript: decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, r)
		}
		return nil
	})
	return out, err
}

func (b *Badger) Sessions(_ context.Context) ([]string, error) {
	prefix := []byte(keyPrefix)
	var out []string
	err := b.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		iterOpts.PrefetchValues = false
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			rest := string(it.Item().Key()[len(prefix):])
			i := strings.LastIndexByte(rest, '/')
			if i <= 0 {
				continue
			}
			if s := rest[:i]; len(out) == 0 || out[len(out)-1] != s {
				out = append(out, s)
			}
		}
		return nil
	})
	slices.Sort(out)
	return out, err
}

func (b *Badger) Close() error {
	return b.db.Close()
}

var _ Store = (*Badger)(nil)

// slogLogger routes badger warnings and errors to slog, dropping info and
// debug chatter.
type slogLogger struct{}

func (slogLogger) Errorf(f string, v ...any) {
	slog.Error("transcript: badger: " + strings.TrimSpace(fmt.Sprintf(f, v...)))
}

func (slogLogger) Warningf(f string, v ...any) {
	slog.Warn("transcript: badger: " + strings.TrimSpace(fmt.Sprintf(f, v...)))
}

func (slogLogger) Infof(string, ...any)  {}
func (slogLogger) Debugf(string, ...any) {}
