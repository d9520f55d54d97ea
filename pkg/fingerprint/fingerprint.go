// Package fingerprint derives the stable per-deployment identity sent to the OEM
// backend. The OEM tracks request quota by client identity header; giving every
// deployment its own stable fingerprint keeps independent deployments out of each
// other's quota buckets, while stability across restarts keeps a single deployment in
// the same bucket.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/draiv/vehicle-gateway/internal/log"
)

// Fingerprint is the outbound identity presented to the backend.
type Fingerprint struct {
	Value       string    `json:"value"`
	DerivedFrom string    `json:"derived_from"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Store persists a fingerprint so restarts of the same deployment reuse it.
type Store interface {
	Load(ctx context.Context) (*Fingerprint, error)
	Save(ctx context.Context, fp Fingerprint) error
}

// DeriveFunc produces a fingerprint from scratch. The derivation strategy is
// pluggable because the backend's expectations for the identity header are an
// external, versioned contract.
type DeriveFunc func() Fingerprint

// Rotator hands out the process fingerprint. It is idempotent for the process
// lifetime: the first call resolves the fingerprint (from the Store when present,
// freshly derived otherwise) and every later call returns the same value.
type Rotator struct {
	store  Store
	derive DeriveFunc

	mu sync.Mutex
	fp *Fingerprint
}

// New creates a Rotator backed by store. A nil store yields an in-memory-only
// fingerprint. A nil derive uses the default instance-ID derivation.
func New(store Store, derive DeriveFunc) *Rotator {
	if derive == nil {
		derive = Derive
	}
	return &Rotator{store: store, derive: derive}
}

// Fingerprint returns the process fingerprint, loading or deriving and persisting it
// on first use. It never fails: when persistence is unavailable the fingerprint is
// held in memory only and a degraded-durability warning is logged.
func (r *Rotator) Fingerprint(ctx context.Context) Fingerprint {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fp != nil {
		return *r.fp
	}

	if r.store != nil {
		fp, err := r.store.Load(ctx)
		if err != nil {
			log.Warning("Could not load persisted fingerprint: %s", err)
		} else if fp != nil && fp.Value != "" {
			log.Info("Loaded persisted fingerprint %s", fp.Value)
			r.fp = fp
			return *fp
		}
	}

	fp := r.derive()
	if r.store == nil {
		log.Warning("No fingerprint store configured; identity will not survive restarts")
	} else if err := r.store.Save(ctx, fp); err != nil {
		log.Warning("Could not persist fingerprint, continuing in memory only: %s", err)
	}
	log.Info("Generated fingerprint %s", fp.Value)
	r.fp = &fp
	return fp
}

const derivationNamespace = "draiv.ch"

// Derive is the default derivation strategy: a deterministic UUID of stable system
// characteristics (never network addresses, which are ephemeral in serverless
// runtimes), hashed into a short identity tag.
func Derive() Fingerprint {
	instanceID := instanceID()
	sum := sha256.Sum256([]byte(instanceID))
	return Fingerprint{
		Value:       "draiv-gw/" + hex.EncodeToString(sum[:])[:16],
		DerivedFrom: instanceID,
		GeneratedAt: time.Now().UTC(),
	}
}

func instanceID() string {
	hostname, _ := os.Hostname()
	info := fmt.Sprintf("%s-%s-%s", hostname, runtime.GOARCH, runtime.GOOS)
	if cid := containerID(); cid != "" {
		info += "-" + cid
	}
	namespace := uuid.NewSHA1(uuid.NameSpaceDNS, []byte(derivationNamespace))
	return uuid.NewSHA1(namespace, []byte(info)).String()
}

// containerID distinguishes co-located containers that share a hostname.
func containerID() string {
	if service, ok := os.LookupEnv("K_SERVICE"); ok {
		revision := os.Getenv("K_REVISION")
		if revision == "" {
			revision = service
		}
		return "cloudrun-" + revision
	}
	data, err := os.ReadFile("/proc/self/cgroup")
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.Contains(line, "docker") {
			continue
		}
		parts := strings.Split(strings.TrimSpace(line), "/")
		id := parts[len(parts)-1]
		if len(id) >= 12 {
			return id[:12]
		}
	}
	return ""
}
