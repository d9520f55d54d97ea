package fingerprint

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/99designs/keyring"
)

const (
	keyringServiceName = "ch.draiv.gateway"
	keyringItemKey     = "deployment-fingerprint"
)

// KeyringStore persists the fingerprint in the OS keyring. Suitable for long-lived
// hosts; serverless deployments use BoltStore on a mounted volume instead.
type KeyringStore struct {
	ring keyring.Keyring
}

// OpenKeyring opens the platform keyring. An empty backend selects the best
// available backend for the platform.
func OpenKeyring(backend string) (*KeyringStore, error) {
	config := keyring.Config{ServiceName: keyringServiceName}
	if backend != "" {
		config.AllowedBackends = []keyring.BackendType{keyring.BackendType(backend)}
	}
	ring, err := keyring.Open(config)
	if err != nil {
		return nil, err
	}
	return &KeyringStore{ring: ring}, nil
}

func (s *KeyringStore) Load(ctx context.Context) (*Fingerprint, error) {
	item, err := s.ring.Get(keyringItemKey)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var fp Fingerprint
	if err := json.Unmarshal(item.Data, &fp); err != nil {
		return nil, err
	}
	return &fp, nil
}

func (s *KeyringStore) Save(ctx context.Context, fp Fingerprint) error {
	data, err := json.Marshal(fp)
	if err != nil {
		return err
	}
	return s.ring.Set(keyring.Item{
		Key:   keyringItemKey,
		Label: "draiv gateway deployment fingerprint",
		Data:  data,
	})
}
