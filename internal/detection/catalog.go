// Package detection builds detection requests, sends them to the detection
// service and turns responses into resource handles, tracking a processing state
// per media kind.
package detection

import (
	"fmt"
	"mime"
	"path"
	"slices"
	"strings"

	"github.com/markdetect/markdetect-go/internal/errors"
	"github.com/markdetect/markdetect-go/internal/handles"
)

// MediaKind selects one of the two independent submission flows.
type MediaKind string

// Media kinds.
const (
	Image MediaKind = "image"
	Video MediaKind = "video"
)

// MediaKinds lists every media kind.
var MediaKinds = []MediaKind{Image, Video}

// ParseMediaKind parses "image" or "video", case-insensitively.
func ParseMediaKind(s string) (MediaKind, error) {
	switch MediaKind(strings.ToLower(strings.TrimSpace(s))) {
	case Image:
		return Image, nil
	case Video:
		return Video, nil
	}
	return "", errors.Newf("unknown media kind %q", s).
		Component("detection").
		Category(errors.CategoryValidation).
		Build()
}

// String implements fmt.Stringer.
func (k MediaKind) String() string { return string(k) }

// FileField is the multipart field carrying the uploaded file.
func (k MediaKind) FileField() string { return string(k) }

// EntryName is the archive entry holding the processed media.
func (k MediaKind) EntryName() string {
	if k == Video {
		return "output_video.mp4"
	}
	return "output_image.png"
}

// MediaFilename names processed media of mediaType. The entry name is kept when
// its extension already fits; otherwise the extension is taken from the media
// type, preferring the one spelled like the subtype (image/jpeg -> .jpeg).
func (k MediaKind) MediaFilename(mediaType string) string {
	name := k.EntryName()
	ext := path.Ext(name)
	exts, err := mime.ExtensionsByType(mediaType)
	if err != nil || len(exts) == 0 || slices.Contains(exts, ext) {
		return name
	}

	chosen := exts[0]
	if _, sub, ok := strings.Cut(mediaType, "/"); ok {
		if i := slices.Index(exts, "."+sub); i >= 0 {
			chosen = exts[i]
		}
	}
	return strings.TrimSuffix(name, ext) + chosen
}

// DefaultMediaType is used when the processed media type cannot be determined.
func (k MediaKind) DefaultMediaType() string {
	if k == Video {
		return "video/mp4"
	}
	return "image/png"
}

// displayCategory, downloadCategory and annotationsCategory map a kind to its
// handle slots. Images have no separate download slot; the display handle carries
// the download filename.
func (k MediaKind) displayCategory() handles.Category {
	if k == Video {
		return handles.VideoDisplay
	}
	return handles.ImageDisplay
}

func (k MediaKind) downloadCategory() (handles.Category, bool) {
	if k == Video {
		return handles.VideoDownload, true
	}
	return "", false
}

func (k MediaKind) annotationsCategory() handles.Category {
	if k == Video {
		return handles.VideoAnnotations
	}
	return handles.ImageAnnotations
}

// ModelVariant selects the detection model size.
type ModelVariant string

// Model variants.
const (
	ModelSmall ModelVariant = "small"
	ModelBase  ModelVariant = "base"
)

// ParseModelVariant parses "small" or "base", case-insensitively.
func ParseModelVariant(s string) (ModelVariant, error) {
	switch ModelVariant(strings.ToLower(strings.TrimSpace(s))) {
	case ModelSmall:
		return ModelSmall, nil
	case ModelBase:
		return ModelBase, nil
	}
	return "", errors.Newf("unknown model variant %q, expected %q or %q", s, ModelSmall, ModelBase).
		Component("detection").
		Category(errors.CategoryValidation).
		Build()
}

// Request defaults and bounds.
const (
	DefaultConfidence = 0.9
	DefaultFPS        = 15
	MinFPS            = 5
	MaxFPS            = 60
)

// DefaultModel is the model variant used when none is selected.
const DefaultModel = ModelSmall

// classCatalog is the fixed set of road marking classes, in display order.
var classCatalog = []string{
	"Turn Around",
	"Left",
	"Left Right",
	"Right",
	"Slight Left",
	"Slight Right",
	"Straight Left Right",
	"Straight",
	"Straight Left",
	"Straight Right",
}

// Classes returns a copy of the class catalog in display order.
func Classes() []string {
	return slices.Clone(classCatalog)
}

// IsClass reports whether name is in the catalog. Matching is exact.
func IsClass(name string) bool {
	return slices.Contains(classCatalog, name)
}

// NormalizeClasses trims names, drops duplicates keeping the first occurrence and
// rejects names outside the catalog.
func NormalizeClasses(names []string) ([]string, error) {
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if !IsClass(n) {
			return nil, errors.New(fmt.Errorf("unknown class %q", n)).
				Component("detection").
				Category(errors.CategoryValidation).
				Context("class", n).
				Build()
		}
		if !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	return out, nil
}
