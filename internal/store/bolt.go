package store

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketDevices = []byte("devices")

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates a BoltDB database.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketDevices)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) SaveDevice(dev *Device) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putDevice(tx, dev)
	})
}

func (s *BoltStore) GetDevice(id string) (*Device, error) {
	var dev *Device
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		dev, err = getDevice(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return dev, nil
}

func (s *BoltStore) UpdateDevice(id string, fn func(dev *Device) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		dev, err := getDevice(tx, id)
		if err != nil {
			return err
		}
		if err := fn(dev); err != nil {
			return err
		}
		dev.ID = id
		return putDevice(tx, dev)
	})
}

func (s *BoltStore) DeleteDevice(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketDevices)
		}
		return b.Delete([]byte(id))
	})
}

func (s *BoltStore) ListDevices() ([]*Device, error) {
	var devices []*Device
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		if b == nil {
			return nil // no bucket = no devices
		}
		devices = make([]*Device, 0, b.Stats().KeyN)
		return b.ForEach(func(k, v []byte) error {
			var dev Device
			if err := json.Unmarshal(v, &dev); err != nil {
				return fmt.Errorf("decode device %s: %w", k, err)
			}
			devices = append(devices, &dev)
			return nil
		})
	})
	return devices, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func getDevice(tx *bolt.Tx, id string) (*Device, error) {
	b := tx.Bucket(bucketDevices)
	if b == nil {
		return nil, fmt.Errorf("bucket %q not found", bucketDevices)
	}
	data := b.Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("device %s: %w", id, ErrNotFound)
	}
	var dev Device
	if err := json.Unmarshal(data, &dev); err != nil {
		return nil, err
	}
	return &dev, nil
}

func putDevice(tx *bolt.Tx, dev *Device) error {
	b := tx.Bucket(bucketDevices)
	if b == nil {
		return fmt.Errorf("bucket %q not found", bucketDevices)
	}
	data, err := json.Marshal(dev)
	if err != nil {
		return err
	}
	return b.Put([]byte(dev.ID), data)
}
