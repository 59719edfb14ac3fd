// Package handles turns in-memory blobs into revocable, addressable resource
// handles and owns their lifecycle.
//
// The Manager keeps at most one live handle per Category. Creating a handle
// revokes the previous live handle of the same category first, which bounds the
// memory retained across repeated detections. Dereferencing a revoked handle is a
// programming error and panics.
package handles

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/markdetect/markdetect-go/internal/errors"
	"github.com/markdetect/markdetect-go/internal/logger"
	"github.com/markdetect/markdetect-go/internal/observability/metrics"
)

// Category is a handle slot. Each category holds at most one live handle.
type Category string

// Handle categories.
const (
	ImageDisplay     Category = "image-display"
	ImageAnnotations Category = "image-annotations"
	VideoDisplay     Category = "video-display"
	VideoDownload    Category = "video-download"
	VideoAnnotations Category = "video-annotations"
)

// Categories lists every valid category.
var Categories = []Category{ImageDisplay, ImageAnnotations, VideoDisplay, VideoDownload, VideoAnnotations}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Revocation reasons reported to metrics and logs.
const (
	reasonSuperseded = "superseded"
	reasonExplicit   = "explicit"
	reasonTeardown   = "teardown"
)

// Descriptor is the immutable metadata of a handle.
type Descriptor struct {
	ID        string    `json:"id"`
	Category  Category  `json:"category"`
	MediaType string    `json:"mediaType"`
	Filename  string    `json:"filename,omitempty"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

// Handle is an opaque reference to an in-memory blob.
type Handle struct {
	desc Descriptor

	mu      sync.RWMutex
	data    []byte
	revoked bool
}

// ID returns the handle's unique identifier.
func (h *Handle) ID() string { return h.desc.ID }

// Category returns the slot the handle occupies.
func (h *Handle) Category() Category { return h.desc.Category }

// MediaType returns the declared media type of the blob.
func (h *Handle) MediaType() string { return h.desc.MediaType }

// Filename returns the suggested download filename, if any.
func (h *Handle) Filename() string { return h.desc.Filename }

// Size returns the blob size in bytes.
func (h *Handle) Size() int { return h.desc.Size }

// Descriptor returns the handle metadata. It stays valid after revocation.
func (h *Handle) Descriptor() Descriptor { return h.desc }

// Revoked reports whether the handle has been revoked.
func (h *Handle) Revoked() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.revoked
}

// Data returns the blob. The returned slice must not be modified.
// It panics if the handle has been revoked.
func (h *Handle) Data() []byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.revoked {
		panic(fmt.Sprintf("handles: use of revoked handle %s (%s)", h.desc.ID, h.desc.Category))
	}
	return h.data
}

// Reader returns a reader over the blob. It panics if the handle has been revoked.
func (h *Handle) Reader() *bytes.Reader {
	return bytes.NewReader(h.Data())
}

// revoke releases the blob and reports whether this call did the revoking.
func (h *Handle) revoke() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.revoked {
		return false
	}
	h.revoked = true
	h.data = nil
	return true
}

// Spec describes a handle to create.
type Spec struct {
	Category  Category
	Data      []byte
	MediaType string
	Filename  string
}

// Manager creates, tracks and revokes handles. Safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	blobs   *cache.Cache // handle ID -> *Handle, live handles only
	live    map[Category]*Handle
	closed  bool
	metrics *metrics.HandleMetrics
	log     logger.Logger
	now     func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics reports handle lifecycle to m.
func WithMetrics(m *metrics.HandleMetrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithLogger overrides the package logger.
func WithLogger(l logger.Logger) Option {
	return func(mgr *Manager) { mgr.log = l }
}

// NewManager returns an empty Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		// No expiry and no janitor: handles live until revoked.
		blobs: cache.New(cache.NoExpiration, 0),
		live:  make(map[Category]*Handle, len(Categories)),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = GetLogger()
	}
	return m
}

// Create stores data under a new handle in category, revoking the category's
// previous live handle first.
func (m *Manager) Create(category Category, data []byte, mediaType, filename string) (*Handle, error) {
	hs, err := m.CreateAll(Spec{Category: category, Data: data, MediaType: mediaType, Filename: filename})
	if err != nil {
		return nil, err
	}
	return hs[0], nil
}

// CreateAll creates one handle per spec, in order. Specs are validated up front;
// if any spec is invalid nothing is created and no live handle is touched.
// Creation is atomic with respect to other Manager calls.
func (m *Manager) CreateAll(specs ...Spec) ([]*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errors.Newf("handle manager is closed").
			Component("handles").
			Category(errors.CategoryResource).
			Build()
	}

	seen := make(map[Category]bool, len(specs))
	for _, s := range specs {
		if err := validateSpec(s); err != nil {
			return nil, err
		}
		if seen[s.Category] {
			return nil, errors.Newf("duplicate handle category %q in one batch", s.Category).
				Component("handles").
				Category(errors.CategoryResource).
				Build()
		}
		seen[s.Category] = true
	}

	created := make([]*Handle, 0, len(specs))
	for _, s := range specs {
		if prev := m.live[s.Category]; prev != nil {
			m.revokeLocked(prev, reasonSuperseded)
		}

		h := &Handle{
			desc: Descriptor{
				ID:        uuid.NewString(),
				Category:  s.Category,
				MediaType: s.MediaType,
				Filename:  s.Filename,
				Size:      len(s.Data),
				CreatedAt: m.now(),
			},
			data: s.Data,
		}
		m.blobs.Set(h.desc.ID, h, cache.NoExpiration)
		m.live[s.Category] = h
		if m.metrics != nil {
			m.metrics.HandleCreated(string(s.Category), h.desc.Size)
		}
		m.log.Debug("handle created",
			logger.String("handle", h.desc.ID),
			logger.String("category", string(s.Category)),
			logger.String("media_type", s.MediaType),
			logger.Int("size", h.desc.Size))
		created = append(created, h)
	}
	return created, nil
}

func validateSpec(s Spec) error {
	if !s.Category.Valid() {
		return errors.Newf("unknown handle category %q", s.Category).
			Component("handles").
			Category(errors.CategoryResource).
			Build()
	}
	if len(s.Data) == 0 {
		return errors.Newf("empty blob for handle category %q", s.Category).
			Component("handles").
			Category(errors.CategoryResource).
			Context("category", string(s.Category)).
			Build()
	}
	if s.MediaType == "" {
		return errors.Newf("missing media type for handle category %q", s.Category).
			Component("handles").
			Category(errors.CategoryResource).
			Build()
	}
	return nil
}

// Revoke releases h. Revoking an already revoked handle is a no-op.
func (m *Manager) Revoke(h *Handle) {
	if h == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revokeLocked(h, reasonExplicit)
}

func (m *Manager) revokeLocked(h *Handle, reason string) {
	if !h.revoke() {
		return
	}
	m.blobs.Delete(h.desc.ID)
	if m.live[h.desc.Category] == h {
		delete(m.live, h.desc.Category)
	}
	if m.metrics != nil {
		m.metrics.HandleRevoked(string(h.desc.Category), reason, h.desc.Size)
	}
	m.log.Debug("handle revoked",
		logger.String("handle", h.desc.ID),
		logger.String("category", string(h.desc.Category)),
		logger.String("reason", reason))
}

// Resolve returns the live handle with the given ID. Unknown and revoked IDs fail
// with ErrHandleNotFound.
func (m *Manager) Resolve(id string) (*Handle, error) {
	v, ok := m.blobs.Get(id)
	if m.metrics != nil {
		m.metrics.RecordResolve(ok)
	}
	if !ok {
		return nil, errors.New(fmt.Errorf("%w: %s", errors.ErrHandleNotFound, id)).
			Component("handles").
			Category(errors.CategoryNotFound).
			Context("handle", id).
			Build()
	}
	return v.(*Handle), nil
}

// Open resolves id and captures its blob in one step, so the result stays
// readable even if the handle is revoked right after.
func (m *Manager) Open(id string) (Descriptor, *bytes.Reader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, err := m.Resolve(id)
	if err != nil {
		return Descriptor{}, nil, err
	}
	return h.desc, h.Reader(), nil
}

// Live returns the live handle of category, or nil.
func (m *Manager) Live(category Category) *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live[category]
}

// LiveCount returns the number of live handles.
func (m *Manager) LiveCount() int {
	return m.blobs.ItemCount()
}

// Close revokes every live handle. Further Create calls fail.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, h := range m.live {
		m.revokeLocked(h, reasonTeardown)
	}
	m.blobs.Flush()
	m.closed = true
}
