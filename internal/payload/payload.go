// Package payload resolves a detection service response into displayable media.
//
// A response is either the media itself or a zip archive that carries the media
// under a well-known entry name alongside annotation data. The shape is decided
// from the body, never from the declared content type: archives have a reliable
// signature, raw media does not, so an archive parse is always attempted first.
package payload

import (
	"fmt"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/markdetect/markdetect-go/internal/archive"
	"github.com/markdetect/markdetect-go/internal/errors"
)

// Shape names used in logs and metrics.
const (
	ShapeDirect  = "direct"
	ShapeArchive = "archive"
)

// sniffLen is how many bytes http.DetectContentType looks at.
const sniffLen = 512

// Media is the resolved displayable payload of a response.
type Media struct {
	Data      []byte
	MediaType string
}

// Shape is the classified form of a response body. It is either *DirectMedia
// or *ArchiveMedia.
type Shape interface {
	// Name returns ShapeDirect or ShapeArchive.
	Name() string
	// Media extracts the displayable media.
	Media() (Media, error)
}

// DirectMedia is a response whose whole body is the media.
type DirectMedia struct {
	Data      []byte
	MediaType string
}

// Name implements Shape.
func (d *DirectMedia) Name() string { return ShapeDirect }

// Media implements Shape. It never fails.
func (d *DirectMedia) Media() (Media, error) {
	return Media{Data: d.Data, MediaType: d.MediaType}, nil
}

// ArchiveMedia is a response that is a zip archive. Raw holds the archive bytes,
// which are also offered for download as the annotation bundle.
type ArchiveMedia struct {
	Archive   *archive.Reader
	Raw       []byte
	EntryName string
	MediaType string
}

// Name implements Shape.
func (a *ArchiveMedia) Name() string { return ShapeArchive }

// Media implements Shape. It fails with ErrMissingExpectedEntry when the archive
// has no entry named EntryName.
func (a *ArchiveMedia) Media() (Media, error) {
	entry, err := a.Archive.Find(a.EntryName)
	if err != nil {
		if errors.Is(err, errors.ErrEntryNotFound) {
			return Media{}, errors.New(fmt.Errorf("%w: %q", errors.ErrMissingExpectedEntry, a.EntryName)).
				Component("payload").
				Category(errors.CategoryPayload).
				Context("entry", a.EntryName).
				Context("entries", len(a.Archive.Names())).
				Build()
		}
		return Media{}, errors.New(err).
			Component("payload").
			Category(errors.CategoryArchive).
			Build()
	}

	data, err := entry.Materialize()
	if err != nil {
		return Media{}, errors.New(err).
			Component("payload").
			Category(errors.CategoryArchive).
			Context("entry", a.EntryName).
			Build()
	}
	return Media{Data: data, MediaType: a.MediaType}, nil
}

// Classifier classifies responses for one media kind.
type Classifier struct {
	entryName        string
	defaultMediaType string
	archiveOpts      []archive.Option
}

// NewClassifier returns a Classifier that looks for entryName inside archives and
// falls back to defaultMediaType when nothing better is known.
func NewClassifier(entryName, defaultMediaType string, opts ...archive.Option) *Classifier {
	return &Classifier{
		entryName:        entryName,
		defaultMediaType: defaultMediaType,
		archiveOpts:      opts,
	}
}

// EntryName returns the archive entry expected to hold the media.
func (c *Classifier) EntryName() string {
	return c.entryName
}

// Classify inspects body and returns its shape. The declared content type only
// influences the media type reported for direct media. An empty body fails with
// ErrTransport since there is nothing to display.
func (c *Classifier) Classify(body []byte, declaredContentType string) (Shape, error) {
	if len(body) == 0 {
		return nil, errors.New(fmt.Errorf("%w: empty response body", errors.ErrTransport)).
			Component("payload").
			Category(errors.CategoryNetwork).
			Build()
	}

	zr, err := archive.Open(body, c.archiveOpts...)
	switch {
	case err == nil:
		return &ArchiveMedia{
			Archive:   zr,
			Raw:       body,
			EntryName: c.entryName,
			MediaType: c.entryMediaType(),
		}, nil
	case errors.Is(err, errors.ErrCorruptArchive):
		return &DirectMedia{
			Data:      body,
			MediaType: c.directMediaType(body, declaredContentType),
		}, nil
	default:
		return nil, errors.New(err).
			Component("payload").
			Category(errors.CategoryArchive).
			Build()
	}
}

// entryMediaType derives the media type from the entry's extension.
func (c *Classifier) entryMediaType() string {
	if mt := mime.TypeByExtension(path.Ext(c.entryName)); mt != "" {
		return stripParams(mt)
	}
	return c.defaultMediaType
}

// directMediaType prefers a declared image or video type, then sniffing, then the
// classifier default.
func (c *Classifier) directMediaType(body []byte, declared string) string {
	if mt, _, err := mime.ParseMediaType(declared); err == nil && isDisplayable(mt) {
		return mt
	}
	sniffed := stripParams(http.DetectContentType(body[:min(len(body), sniffLen)]))
	if isDisplayable(sniffed) {
		return sniffed
	}
	return c.defaultMediaType
}

func isDisplayable(mediaType string) bool {
	return strings.HasPrefix(mediaType, "image/") || strings.HasPrefix(mediaType, "video/")
}

func stripParams(mediaType string) string {
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		return strings.TrimSpace(mediaType[:i])
	}
	return mediaType
}
