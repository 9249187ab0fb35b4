package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"snapengine/internal/domain"
)

const recordPrefix = "capture:"

// BadgerRepository implements Repository using BadgerDB.
type BadgerRepository struct {
	db  *badger.DB
	log logrus.FieldLogger
}

// NewBadgerRepository opens (or creates) the history database at dbPath.
func NewBadgerRepository(dbPath string, logger logrus.FieldLogger) (*BadgerRepository, error) {
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = &badgerLogger{logger.WithField("component", "badgerdb")}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db at %s: %w", dbPath, err)
	}

	return &BadgerRepository{
		db:  db,
		log: logger.WithField("component", "history"),
	}, nil
}

// Close closes the history database.
func (r *BadgerRepository) Close() error {
	if err := r.db.Close(); err != nil {
		r.log.WithError(err).Error("Error closing history database")
		return err
	}
	return nil
}

// recordKey orders records chronologically so a reverse scan yields newest
// first. Nanosecond precision keeps keys unique within one process.
func recordKey(ts time.Time) []byte {
	return []byte(recordPrefix + ts.UTC().Format(time.RFC3339Nano))
}

// SaveRecord appends one capture record.
func (r *BadgerRepository) SaveRecord(ctx context.Context, rec domain.CaptureRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal capture record: %w", err)
	}

	err = r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(rec.Timestamp), data)
	})
	if err != nil {
		return fmt.Errorf("failed to save capture record: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"url":     rec.URL,
		"success": rec.Success,
	}).Debug("Capture record saved")
	return nil
}

// Recent returns up to limit records, newest first.
func (r *BadgerRepository) Recent(ctx context.Context, limit int) ([]domain.CaptureRecord, error) {
	var records []domain.CaptureRecord

	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(recordPrefix)
		// Reverse iteration starts just past the last possible record key.
		seek := append(append([]byte{}, prefix...), 0xFF)

		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(records) >= limit {
				break
			}
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var rec domain.CaptureRecord
				if err := json.Unmarshal(val, &rec); err != nil {
					return fmt.Errorf("failed to unmarshal record at %s: %w", string(item.Key()), err)
				}
				records = append(records, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read capture history: %w", err)
	}

	return records, nil
}

// badgerLogger adapts logrus.FieldLogger to Badger's logger interface.
type badgerLogger struct {
	logger logrus.FieldLogger
}

func (l *badgerLogger) Errorf(f string, v ...interface{})   { l.logger.Errorf(f, v...) }
func (l *badgerLogger) Warningf(f string, v ...interface{}) { l.logger.Warningf(f, v...) }
func (l *badgerLogger) Infof(f string, v ...interface{})    { l.logger.Infof(f, v...) }
func (l *badgerLogger) Debugf(f string, v ...interface{})   { l.logger.Debugf(f, v...) }
