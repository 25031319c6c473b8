package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/kjstillabower/weather-forecast/internal/models"
)

const boltBucketForecasts = "forecasts" // key: system:city -> boltEntry JSON

// BoltCache implements Cache on a local bbolt file. Entries survive restarts,
// which lets the CLI show the last known forecast while offline.
type BoltCache struct {
	db  *bbolt.DB
	now func() time.Time
}

type boltEntry struct {
	Forecast  models.Forecast `json:"forecast"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// NewBoltCache opens (or creates) the cache file at path.
func NewBoltCache(path string) (*BoltCache, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt cache: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(boltBucketForecasts))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltCache{db: db, now: time.Now}, nil
}

func (c *BoltCache) read(key string) (boltEntry, bool, error) {
	var (
		entry boltEntry
		found bool
	)
	err := c.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket([]byte(boltBucketForecasts)).Get([]byte(key))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &entry)
	})
	return entry, found, err
}

// Get implements Cache.Get.
func (c *BoltCache) Get(ctx context.Context, key string) (models.Forecast, bool, error) {
	entry, ok, err := c.read(key)
	if err != nil || !ok || c.now().After(entry.ExpiresAt) {
		return models.Forecast{}, false, err
	}
	return entry.Forecast, true, nil
}

// GetStale returns the stored forecast regardless of expiry.
func (c *BoltCache) GetStale(ctx context.Context, key string) (models.Forecast, bool, error) {
	entry, ok, err := c.read(key)
	if err != nil || !ok {
		return models.Forecast{}, false, err
	}
	return entry.Forecast, true, nil
}

// Set implements Cache.Set.
func (c *BoltCache) Set(ctx context.Context, key string, value models.Forecast, ttl time.Duration) error {
	raw, err := json.Marshal(boltEntry{Forecast: value, ExpiresAt: c.now().Add(ttl)})
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(boltBucketForecasts)).Put([]byte(key), raw)
	})
}

// Close closes the database file.
func (c *BoltCache) Close() error {
	return c.db.Close()
}
