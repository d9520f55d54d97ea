package fingerprint

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type memoryStore struct {
	fp      *Fingerprint
	saves   int
	loadErr error
	saveErr error
}

func (s *memoryStore) Load(ctx context.Context) (*Fingerprint, error) {
	return s.fp, s.loadErr
}

func (s *memoryStore) Save(ctx context.Context, fp Fingerprint) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.fp = &fp
	s.saves++
	return nil
}

func TestDeriveStable(t *testing.T) {
	a := Derive()
	b := Derive()
	if a.Value != b.Value {
		t.Errorf("derivation not stable: %q != %q", a.Value, b.Value)
	}
	if !strings.HasPrefix(a.Value, "draiv-gw/") {
		t.Errorf("unexpected fingerprint format: %q", a.Value)
	}
	if len(strings.TrimPrefix(a.Value, "draiv-gw/")) != 16 {
		t.Errorf("unexpected hash length in %q", a.Value)
	}
}

func TestRotatorIdempotent(t *testing.T) {
	store := &memoryStore{}
	r := New(store, nil)
	first := r.Fingerprint(context.Background())
	second := r.Fingerprint(context.Background())
	if first.Value != second.Value {
		t.Errorf("fingerprint changed within process lifetime")
	}
	if store.saves != 1 {
		t.Errorf("saves = %d, want 1", store.saves)
	}
}

func TestRotatorPrefersPersisted(t *testing.T) {
	persisted := Fingerprint{Value: "draiv-gw/persisted0000000", GeneratedAt: time.Now()}
	store := &memoryStore{fp: &persisted}
	r := New(store, nil)
	got := r.Fingerprint(context.Background())
	if got.Value != persisted.Value {
		t.Errorf("got %q, want persisted %q", got.Value, persisted.Value)
	}
	if store.saves != 0 {
		t.Error("rotator overwrote persisted fingerprint")
	}
}

func TestRotatorSurvivesStoreFailure(t *testing.T) {
	store := &memoryStore{loadErr: errors.New("storage offline"), saveErr: errors.New("storage offline")}
	r := New(store, nil)
	got := r.Fingerprint(context.Background())
	if got.Value == "" {
		t.Fatal("rotator failed the caller on storage outage")
	}
	if again := r.Fingerprint(context.Background()); again.Value != got.Value {
		t.Error("in-memory fallback fingerprint not stable")
	}
}

func TestRotatorCustomDerivation(t *testing.T) {
	custom := func() Fingerprint {
		return Fingerprint{Value: "custom/1", GeneratedAt: time.Now()}
	}
	r := New(nil, custom)
	if got := r.Fingerprint(context.Background()); got.Value != "custom/1" {
		t.Errorf("got %q, want custom derivation", got.Value)
	}
}

func TestBoltStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fingerprint.db")
	store, err := OpenBolt(path)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	if fp, err := store.Load(ctx); err != nil || fp != nil {
		t.Fatalf("empty store: fp=%v err=%v", fp, err)
	}

	want := Derive()
	if err := store.Save(ctx, want); err != nil {
		t.Fatal(err)
	}
	got, err := store.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Value != want.Value || got.DerivedFrom != want.DerivedFrom {
		t.Errorf("got %+v, want %+v", got, want)
	}
}
