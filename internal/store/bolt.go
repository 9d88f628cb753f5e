package store

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.etcd.io/bbolt"

	apperrors "github.com/kimhsiao/driverq/internal/errors"
	"github.com/kimhsiao/driverq/internal/models"
)

// BoltFileName is the bbolt file created inside the data directory.
const BoltFileName = "driverq.bolt"

// boltSchemaVersion is bumped whenever the record encoding changes.
const boltSchemaVersion = 2

var (
	actionsBucket = []byte("offline_actions")
	metaBucket    = []byte("meta")
	versionKey    = []byte("schema_version")
)

// BoltStore persists actions as JSON values keyed by id in a bbolt file.
type BoltStore struct {
	db *bbolt.DB
}

var _ Store = (*BoltStore)(nil)

// OpenBolt opens the bbolt file inside dataDir, creating the buckets on
// first use. A file written by a newer schema version is refused.
func OpenBolt(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "create data directory", err)
	}
	return OpenBoltFile(filepath.Join(dataDir, BoltFileName))
}

// OpenBoltFile opens the bbolt file at path.
func OpenBoltFile(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "open bolt store", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(actionsBucket); err != nil {
			return err
		}
		meta, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return err
		}
		if raw := meta.Get(versionKey); raw != nil {
			version, err := strconv.Atoi(string(raw))
			if err != nil {
				return fmt.Errorf("corrupt schema version %q", raw)
			}
			if version > boltSchemaVersion {
				return fmt.Errorf("schema version %d is newer than supported %d", version, boltSchemaVersion)
			}
		}
		return meta.Put(versionKey, []byte(strconv.Itoa(boltSchemaVersion)))
	})
	if err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.ErrMigration, "initialize bolt store", err)
	}

	return &BoltStore{db: db}, nil
}

// Put writes the action under its id.
func (s *BoltStore) Put(ctx context.Context, action *models.OfflineAction) error {
	if err := validate(action); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return storageErr("put action", err)
	}

	data, err := json.Marshal(action)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "encode action", err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(actionsBucket).Put([]byte(action.ID), data)
	})
	return boltErr("put action", err)
}

// Delete removes the action by id.
func (s *BoltStore) Delete(ctx context.Context, id models.UUID) error {
	if err := ctx.Err(); err != nil {
		return storageErr("delete action", err)
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(actionsBucket).Delete([]byte(id))
	})
	return boltErr("delete action", err)
}

// GetAll returns every action ordered by timestamp.
func (s *BoltStore) GetAll(ctx context.Context) ([]*models.OfflineAction, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageErr("get actions", err)
	}

	var actions []*models.OfflineAction
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(actionsBucket).ForEach(func(k, v []byte) error {
			var a models.OfflineAction
			if err := json.Unmarshal(v, &a); err != nil {
				return fmt.Errorf("decode action %s: %w", k, err)
			}
			actions = append(actions, &a)
			return nil
		})
	})
	if err != nil {
		return nil, boltErr("get actions", err)
	}
	sortByTimestamp(actions)
	return actions, nil
}

// Clear drops and recreates the actions bucket.
func (s *BoltStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return storageErr("clear actions", err)
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(actionsBucket); err != nil && !stderrors.Is(err, bbolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucket(actionsBucket)
		return err
	})
	return boltErr("clear actions", err)
}

// Close closes the bbolt file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func boltErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, bbolt.ErrDatabaseNotOpen) {
		return apperrors.Wrap(apperrors.ErrStorageClosed, op, err)
	}
	return storageErr(op, err)
}
