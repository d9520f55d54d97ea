package fingerprint

import (
	"context"
	"encoding/json"

	bolt "go.etcd.io/bbolt"
)

var (
	fingerprintBucket = []byte("fingerprint")
	fingerprintKey    = []byte("deployment")
)

// BoltStore persists the fingerprint in a bbolt database file. One record per
// deployment instance; the file typically lives on the instance's writable scratch
// volume.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens (creating if needed) the fingerprint database at path.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Load(ctx context.Context) (*Fingerprint, error) {
	var fp *Fingerprint
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(fingerprintBucket)
		if bucket == nil {
			return nil
		}
		data := bucket.Get(fingerprintKey)
		if data == nil {
			return nil
		}
		fp = &Fingerprint{}
		return json.Unmarshal(data, fp)
	})
	if err != nil {
		return nil, err
	}
	return fp, nil
}

func (s *BoltStore) Save(ctx context.Context, fp Fingerprint) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(fingerprintBucket)
		if err != nil {
			return err
		}
		data, err := json.Marshal(fp)
		if err != nil {
			return err
		}
		return bucket.Put(fingerprintKey, data)
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
