// Package store provides the durable persistence layer for offline actions.
//
// Every implementation is keyed by action id, survives process restarts
// (except Memory) and reports failures as errors carrying a storage error
// code so callers can tell durable-layer failures apart from everything
// else.
package store

import (
	"context"
	"sort"

	apperrors "github.com/kimhsiao/driverq/internal/errors"
	"github.com/kimhsiao/driverq/internal/models"
)

// Store is a transactional key-value table of offline actions.
type Store interface {
	// Put inserts or overwrites the record with the action's id.
	Put(ctx context.Context, action *models.OfflineAction) error

	// Delete removes a record. Deleting an absent id is not an error.
	Delete(ctx context.Context, id models.UUID) error

	// GetAll returns every record ordered by timestamp.
	GetAll(ctx context.Context) ([]*models.OfflineAction, error)

	// Clear removes every record.
	Clear(ctx context.Context) error

	// Close releases the underlying resources.
	Close() error
}

// TypeQuerier is implemented by stores that can filter by action type using
// a secondary index.
type TypeQuerier interface {
	GetByType(ctx context.Context, actionType models.ActionType) ([]*models.OfflineAction, error)
}

// Driver names accepted by Open.
const (
	DriverSQLite = "sqlite"
	DriverBolt   = "bolt"
	DriverMemory = "memory"
)

// Open creates the store selected by driver rooted at dataDir.
func Open(driver, dataDir string) (Store, error) {
	switch driver {
	case DriverSQLite, "":
		return OpenSQLite(dataDir)
	case DriverBolt:
		return OpenBolt(dataDir)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, apperrors.Newf(apperrors.ErrConfig, "unknown store driver %q", driver)
	}
}

// sortByTimestamp orders actions by timestamp, falling back to id for a
// deterministic order between equal timestamps.
func sortByTimestamp(actions []*models.OfflineAction) {
	sort.SliceStable(actions, func(i, j int) bool {
		if actions[i].Timestamp != actions[j].Timestamp {
			return actions[i].Timestamp < actions[j].Timestamp
		}
		return actions[i].ID < actions[j].ID
	})
}

func validate(action *models.OfflineAction) error {
	if action == nil {
		return apperrors.New(apperrors.ErrInvalid, "nil action")
	}
	if action.ID == "" {
		return apperrors.New(apperrors.ErrInvalid, "action id is required")
	}
	return nil
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if apperrors.IsStorage(err) {
		return err
	}
	return apperrors.Wrap(apperrors.ErrStorage, op, err)
}
