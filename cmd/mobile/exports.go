// Package main provides the bridge exposing the offline manager to the
// mobile shell. ffi.go wraps these functions as C exports; every result is a
// JSON string.
package main

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/kimhsiao/driverq/internal/config"
	apperrors "github.com/kimhsiao/driverq/internal/errors"
	"github.com/kimhsiao/driverq/internal/logging"
	"github.com/kimhsiao/driverq/internal/models"
	"github.com/kimhsiao/driverq/internal/offline"
	"github.com/kimhsiao/driverq/internal/store"
	syncpkg "github.com/kimhsiao/driverq/internal/sync"
)

var (
	lastErr string
	lastMu  sync.RWMutex

	// stateMu serializes Init and Cleanup.
	stateMu sync.Mutex
)

// initOptions is the JSON accepted by Init. Zero values keep the defaults.
type initOptions struct {
	DataDir     string `json:"data_dir"`
	StoreDriver string `json:"store_driver"`
	BaseURL     string `json:"base_url"`
	TimeoutMS   int    `json:"timeout_ms"`
	Online      bool   `json:"online"`
	LogLevel    string `json:"log_level"`
	Backoff     bool   `json:"backoff"`
}

func setLastError(err error) {
	lastMu.Lock()
	defer lastMu.Unlock()
	if err == nil {
		lastErr = ""
		return
	}
	lastErr = err.Error()
}

func getLastError() string {
	lastMu.RLock()
	defer lastMu.RUnlock()
	return lastErr
}

func bridgeConfig(raw string) (*config.Config, bool, error) {
	var opts initOptions
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &opts); err != nil {
			return nil, false, apperrors.Wrap(apperrors.ErrConfig, "invalid init options", err)
		}
	}

	cfg := config.Default()
	if opts.DataDir != "" {
		cfg.Store.Path = opts.DataDir
	}
	if opts.StoreDriver != "" {
		cfg.Store.Driver = opts.StoreDriver
	}
	if opts.BaseURL != "" {
		cfg.API.BaseURL = opts.BaseURL
	}
	if opts.TimeoutMS > 0 {
		cfg.API.Timeout = time.Duration(opts.TimeoutMS) * time.Millisecond
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	cfg.Sync.Backoff.Enabled = opts.Backoff
	if err := cfg.Validate(); err != nil {
		return nil, false, err
	}
	return cfg, opts.Online, nil
}

func initBridge(raw string) error {
	stateMu.Lock()
	defer stateMu.Unlock()

	cfg, online, err := bridgeConfig(raw)
	if err != nil {
		return err
	}
	logging.Get().SetLevel(logging.ParseLevel(cfg.Log.Level))

	s, err := store.Open(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return err
	}
	opts := offline.Options{
		Store:          s,
		RequestTimeout: cfg.API.Timeout,
		BaseURL:        cfg.API.BaseURL,
		InitialOnline:  online,
	}
	if cfg.Sync.Backoff.Enabled {
		opts.Backoff = syncpkg.NewBackoffPolicy(cfg.Sync.Backoff.Initial, cfg.Sync.Backoff.Max)
	}
	if _, err := offline.Init(context.Background(), opts); err != nil {
		s.Close()
		return err
	}
	return nil
}

func cleanupBridge() error {
	stateMu.Lock()
	defer stateMu.Unlock()
	return offline.Shutdown()
}

func manager() (*offline.Manager, error) {
	m := offline.Default()
	if m == nil {
		return nil, apperrors.New(apperrors.ErrConfig, "offline manager not initialized")
	}
	return m, nil
}

func marshal(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrInternal, "serialize result", err)
	}
	return string(data), nil
}

func queueAction(descriptor string) (string, error) {
	m, err := manager()
	if err != nil {
		return "", err
	}
	var d models.Descriptor
	if err := json.Unmarshal([]byte(descriptor), &d); err != nil {
		return "", apperrors.Wrap(apperrors.ErrInvalid, "invalid action descriptor", err)
	}
	id, err := m.QueueAction(context.Background(), d)
	if err != nil {
		return "", err
	}
	return marshal(map[string]models.UUID{"id": id})
}

func getState() (string, error) {
	m, err := manager()
	if err != nil {
		return "", err
	}
	return marshal(m.GetState())
}

func syncPendingActions() (string, error) {
	m, err := manager()
	if err != nil {
		return "", err
	}
	return marshal(m.SyncPendingActions(context.Background()))
}

func clearAllActions() (string, error) {
	m, err := manager()
	if err != nil {
		return "", err
	}
	if err := m.ClearAllActions(context.Background()); err != nil {
		return "", err
	}
	return marshal(map[string]string{"status": "cleared"})
}

func setOnline(online bool) (string, error) {
	m, err := manager()
	if err != nil {
		return "", err
	}
	return marshal(map[string]bool{"changed": m.SetOnline(online)})
}

func main() {
	// required for c-shared build mode, not executed when loaded as a library
}
