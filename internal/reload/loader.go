// Package reload refreshes the client's copy of the map objects after a
// compute job succeeds.
package reload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/mapcompute/internal/backend"
	"github.com/JakeFAU/mapcompute/internal/hash/sha256"
	"github.com/JakeFAU/mapcompute/internal/store"
)

// Fetcher returns the raw body behind a backend endpoint.
type Fetcher interface {
	GetRaw(ctx context.Context, endpoint string) ([]byte, error)
}

// Loader fetches every configured object endpoint and stores the JSON it returns.
// An object whose body matches the last one stored is not written again.
type Loader struct {
	fetcher Fetcher
	objects map[string]string
	store   store.ObjectStore
	logger  *zap.Logger
	hasher  *sha256.Hasher

	mu      sync.Mutex
	digests map[string]string
}

// NewLoader returns a Loader for objects, a map of object name to endpoint path.
func NewLoader(fetcher Fetcher, objects map[string]string, objectStore store.ObjectStore, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	copied := make(map[string]string, len(objects))
	for name, path := range objects {
		copied[name] = path
	}
	return &Loader{
		fetcher: fetcher,
		objects: copied,
		store:   objectStore,
		logger:  logger,
		hasher:  sha256.New(),
		digests: make(map[string]string),
	}
}

// Names returns the configured object names, sorted.
func (l *Loader) Names() []string {
	names := make([]string, 0, len(l.objects))
	for name := range l.objects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ReloadAllObjects refreshes every object. A failing object does not stop the
// others; all failures are returned joined.
func (l *Loader) ReloadAllObjects(ctx context.Context) error {
	names := l.Names()
	if len(names) == 0 {
		l.logger.Info("no reload objects configured")
		return nil
	}
	start := time.Now()
	var errs []error
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := l.reload(ctx, name, l.objects[name]); err != nil {
			l.logger.Warn("reload object failed", zap.String("object", name), zap.Error(err))
			errs = append(errs, err)
		}
	}
	l.logger.Info("objects reloaded",
		zap.Int("objects", len(names)),
		zap.Int("failed", len(errs)),
		zap.Duration("dur", time.Since(start)),
	)
	return errors.Join(errs...)
}

func (l *Loader) reload(ctx context.Context, name, endpoint string) error {
	body, err := l.fetcher.GetRaw(ctx, endpoint)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", name, err)
	}
	if !json.Valid(body) {
		return fmt.Errorf("fetch %s: %w: body is not JSON", name, backend.ErrMalformedResponse)
	}
	digest := l.hasher.Sum(body)
	if l.Digest(name) == digest {
		l.logger.Debug("object unchanged", zap.String("object", name), zap.String("sha256", digest))
		return nil
	}
	uri, err := l.store.PutObject(ctx, name, body)
	if err != nil {
		return fmt.Errorf("store %s: %w", name, err)
	}
	l.mu.Lock()
	l.digests[name] = digest
	l.mu.Unlock()
	l.logger.Debug("object stored",
		zap.String("object", name),
		zap.String("uri", uri),
		zap.String("sha256", digest),
		zap.Int("bytes", len(body)),
	)
	return nil
}

// Digest returns the SHA-256 of the last body stored for name, or "".
func (l *Loader) Digest(name string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.digests[name]
}
