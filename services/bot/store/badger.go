package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/chatforge/engine/services/bot"
)

// Config configures the embedded BadgerDB instance backing Store.
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory.
	Path string

	// InMemory enables in-memory mode (no disk persistence); used by tests.
	InMemory bool

	// Logger receives BadgerDB's internal log lines. If nil, internal
	// logging is disabled.
	Logger *slog.Logger
}

// DefaultConfig returns production defaults: persistent storage, no
// internal BadgerDB logging.
func DefaultConfig(path string) Config {
	return Config{Path: path}
}

// InMemoryConfig returns a configuration suitable for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

type badgerLogger struct{ logger *slog.Logger }

func (l *badgerLogger) Errorf(format string, args ...interface{})   { l.logger.Error(fmt.Sprintf(format, args...)) }
func (l *badgerLogger) Warningf(format string, args ...interface{}) { l.logger.Warn(fmt.Sprintf(format, args...)) }
func (l *badgerLogger) Infof(format string, args ...interface{})    { l.logger.Info(fmt.Sprintf(format, args...)) }
func (l *badgerLogger) Debugf(format string, args ...interface{})   { l.logger.Debug(fmt.Sprintf(format, args...)) }

// Open opens (creating if necessary) the BadgerDB instance described by cfg
// and wraps it as a Store.
func Open(cfg Config) (*BadgerStore, error) {
	var opts badgerdb.Options
	if cfg.InMemory {
		opts = badgerdb.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("store: path is required for persistent database")
		}
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("store: create database directory %s: %w", cfg.Path, err)
		}
		opts = badgerdb.DefaultOptions(cfg.Path)
	}

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: open badger database: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// BadgerStore implements Store on top of an embedded BadgerDB instance.
// Keys are namespaced strings ("bot/<id>", "botfile/<botID>/<name>",
// "botlog/<botID>/<seq>") and values are JSON-encoded records.
type BadgerStore struct {
	db *badgerdb.DB

	// seqMu protects per-bot log sequence counters used to keep log keys
	// ordered lexicographically by insertion order.
	seqMu sync.Mutex
	seq   map[string]uint64
}

func (s *BadgerStore) Close() error { return s.db.Close() }

func botKey(id string) []byte          { return []byte("bot/" + id) }
func botFileKey(botID, name string) []byte { return []byte("botfile/" + botID + "/" + name) }
func botFilePrefix(botID string) []byte    { return []byte("botfile/" + botID + "/") }
func botLogPrefix(botID string) []byte     { return []byte("botlog/" + botID + "/") }

func botLogKey(botID string, seq uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	return append([]byte("botlog/"+botID+"/"), buf[:]...)
}

func userIndexKey(ownerID, botID string) []byte { return []byte("userindex/" + ownerID + "/" + botID) }
func userIndexPrefix(ownerID string) []byte     { return []byte("userindex/" + ownerID + "/") }

// nextLogSeq returns the next monotonic sequence number for botID's log
// keys. The counter is cached in memory per bot, but seeded from the
// highest sequence already on disk the first time a bot is touched after
// process start, so a restart never reuses a sequence number and silently
// overwrites the newest surviving log record.
func (s *BadgerStore) nextLogSeq(botID string) uint64 {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	if s.seq == nil {
		s.seq = make(map[string]uint64)
	}
	if _, cached := s.seq[botID]; !cached {
		s.seq[botID] = s.maxLogSeqOnDisk(botID)
	}
	s.seq[botID]++
	return s.seq[botID]
}

func (s *BadgerStore) maxLogSeqOnDisk(botID string) uint64 {
	var max uint64
	prefix := botLogPrefix(botID)
	_ = s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			if len(key) < 8 {
				continue
			}
			seq := binary.BigEndian.Uint64(key[len(key)-8:])
			if seq > max {
				max = seq
			}
		}
		return nil
	})
	return max
}

func (s *BadgerStore) GetBot(_ context.Context, id string) (*bot.Bot, error) {
	var b bot.Bot
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(botKey(id))
		if err != nil {
			if errors.Is(err, badgerdb.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error { return json.Unmarshal(val, &b) })
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *BadgerStore) CreateBot(_ context.Context, b *bot.Bot) error {
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badgerdb.Txn) error {
		if err := txn.Set(botKey(b.ID), data); err != nil {
			return err
		}
		return txn.Set(userIndexKey(b.OwnerID, b.ID), []byte{})
	})
}

// CountBotsByOwner reports how many bots the given owner currently has,
// backing the MAX_BOTS_PER_USER cap the HTTP collaborator enforces at
// creation time.
func (s *BadgerStore) CountBotsByOwner(_ context.Context, ownerID string) (int, error) {
	var count int
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := userIndexPrefix(ownerID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

func (s *BadgerStore) UpdateBot(_ context.Context, id string, patch bot.Patch) (*bot.Bot, error) {
	var updated bot.Bot
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(botKey(id))
		if err != nil {
			if errors.Is(err, badgerdb.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		var b bot.Bot
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &b) }); err != nil {
			return err
		}
		applyPatch(&b, patch)
		updated = b
		data, err := json.Marshal(&b)
		if err != nil {
			return err
		}
		return txn.Set(botKey(id), data)
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func applyPatch(b *bot.Bot, p bot.Patch) {
	if p.Name != nil {
		b.Name = *p.Name
	}
	if p.MainFile != nil {
		b.MainFile = *p.MainFile
	}
	if p.Status != nil {
		b.Status = *p.Status
	}
	if p.PID != nil {
		b.PID = *p.PID
	}
	if p.Memory != nil {
		b.Memory = *p.Memory
	}
	if p.CPU != nil {
		b.CPU = *p.CPU
	}
	if p.Uptime != nil {
		b.Uptime = *p.Uptime
	}
	if p.LastStart != nil {
		b.LastStart = *p.LastStart
	}
}

func (s *BadgerStore) DeleteBot(_ context.Context, id string) error {
	return s.db.Update(func(txn *badgerdb.Txn) error {
		var ownerID string
		item, err := txn.Get(botKey(id))
		switch {
		case err == nil:
			var b bot.Bot
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &b) }); err != nil {
				return err
			}
			ownerID = b.OwnerID
		case errors.Is(err, badgerdb.ErrKeyNotFound):
			// Nothing to delete; fall through so file/log cleanup still runs.
		default:
			return err
		}

		if err := deletePrefix(txn, botFilePrefix(id)); err != nil {
			return err
		}
		if err := deletePrefix(txn, botLogPrefix(id)); err != nil {
			return err
		}
		if ownerID != "" {
			if err := txn.Delete(userIndexKey(ownerID, id)); err != nil && !errors.Is(err, badgerdb.ErrKeyNotFound) {
				return err
			}
		}
		if err := txn.Delete(botKey(id)); err != nil && !errors.Is(err, badgerdb.ErrKeyNotFound) {
			return err
		}
		return nil
	})
}

func deletePrefix(txn *badgerdb.Txn, prefix []byte) error {
	it := txn.NewIterator(badgerdb.DefaultIteratorOptions)
	defer it.Close()
	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, append([]byte{}, it.Item().Key()...))
	}
	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (s *BadgerStore) GetBotFiles(_ context.Context, botID string) ([]bot.BotFile, error) {
	var files []bot.BotFile
	err := s.db.View(func(txn *badgerdb.Txn) error {
		it := txn.NewIterator(badgerdb.DefaultIteratorOptions)
		defer it.Close()
		prefix := botFilePrefix(botID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var f bot.BotFile
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &f) }); err != nil {
				return err
			}
			files = append(files, f)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

func (s *BadgerStore) UpdateBotFile(_ context.Context, botID, filename, content string) error {
	f := bot.BotFile{ID: botID + "/" + filename, BotID: botID, Name: filename, Content: content, Size: len(content)}
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(botFileKey(botID, filename), data)
	})
}

func (s *BadgerStore) GetBotLogs(_ context.Context, botID string, limit int) ([]bot.BotLogRecord, error) {
	var records []bot.BotLogRecord
	err := s.db.View(func(txn *badgerdb.Txn) error {
		it := txn.NewIterator(badgerdb.DefaultIteratorOptions)
		defer it.Close()
		prefix := botLogPrefix(botID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var r bot.BotLogRecord
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &r) }); err != nil {
				return err
			}
			records = append(records, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Keys are ordered oldest-first (sequence-prefixed); reverse to
	// newest-first per the interface contract, then cap to limit.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (s *BadgerStore) CreateBotLog(_ context.Context, record bot.BotLogRecord) error {
	seq := s.nextLogSeq(record.BotID)
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(botLogKey(record.BotID, seq), data)
	})
}

var _ Store = (*BadgerStore)(nil)
