package detection

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/markdetect/markdetect-go/internal/archive"
	"github.com/markdetect/markdetect-go/internal/errors"
	"github.com/markdetect/markdetect-go/internal/handles"
	"github.com/markdetect/markdetect-go/internal/logger"
	"github.com/markdetect/markdetect-go/internal/observability/metrics"
	"github.com/markdetect/markdetect-go/internal/payload"
)

// Default annotation bundle filenames.
const (
	DefaultImageBundleName = "output_files.zip"
	DefaultVideoBundleName = "annotations.zip"
)

const bundleMediaType = "application/zip"

// Transport sends the encoded request to the detection service.
// *httpclient.Client implements it.
type Transport interface {
	Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error)
	ReadBody(resp *http.Response) ([]byte, error)
}

// Config configures an Orchestrator.
type Config struct {
	ImageURL        string
	VideoURL        string
	ImageBundleName string
	VideoBundleName string
	MaxEntrySize    int64         // per archive entry, 0 means archive.DefaultMaxEntrySize
	Timeout         time.Duration // transport timeout, reported with transport errors
}

// Listener is called after every state transition with the new snapshot.
type Listener func(Snapshot)

// Orchestrator owns one Flow per media kind and turns submissions into handles.
type Orchestrator struct {
	flows     map[MediaKind]*Flow
	transport Transport
	handles   *handles.Manager
	timeout   time.Duration
	metrics   *metrics.DetectionMetrics
	listener  Listener
	log       logger.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics records submissions to m.
func WithMetrics(m *metrics.DetectionMetrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithListener registers fn for state changes. fn runs synchronously on the
// submitting goroutine and must not call Submit.
func WithListener(fn Listener) Option {
	return func(o *Orchestrator) { o.listener = fn }
}

// WithLogger overrides the package logger.
func WithLogger(l logger.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// New returns an Orchestrator with both flows Idle.
func New(cfg Config, transport Transport, mgr *handles.Manager, opts ...Option) (*Orchestrator, error) {
	if transport == nil {
		return nil, errors.Newf("detection transport is required").
			Component("detection").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if mgr == nil {
		return nil, errors.Newf("handle manager is required").
			Component("detection").
			Category(errors.CategoryConfiguration).
			Build()
	}
	for name, u := range map[string]string{"image": cfg.ImageURL, "video": cfg.VideoURL} {
		if err := validateEndpoint(u); err != nil {
			return nil, errors.New(fmt.Errorf("invalid %s endpoint: %w", name, err)).
				Component("detection").
				Category(errors.CategoryConfiguration).
				Context("endpoint", u).
				Build()
		}
	}
	if cfg.ImageBundleName == "" {
		cfg.ImageBundleName = DefaultImageBundleName
	}
	if cfg.VideoBundleName == "" {
		cfg.VideoBundleName = DefaultVideoBundleName
	}

	var archiveOpts []archive.Option
	if cfg.MaxEntrySize > 0 {
		archiveOpts = append(archiveOpts, archive.WithMaxEntrySize(cfg.MaxEntrySize))
	}

	o := &Orchestrator{
		flows: map[MediaKind]*Flow{
			Image: newFlow(Image, cfg.ImageURL, cfg.ImageBundleName,
				payload.NewClassifier(Image.EntryName(), Image.DefaultMediaType(), archiveOpts...)),
			Video: newFlow(Video, cfg.VideoURL, cfg.VideoBundleName,
				payload.NewClassifier(Video.EntryName(), Video.DefaultMediaType(), archiveOpts...)),
		},
		transport: transport,
		handles:   mgr,
		timeout:   cfg.Timeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log = GetLogger()
	}
	return o, nil
}

func validateEndpoint(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

// Flow returns the flow for kind, or nil for an unknown kind.
func (o *Orchestrator) Flow(kind MediaKind) *Flow {
	return o.flows[kind]
}

// Snapshot returns the current view of kind's flow.
func (o *Orchestrator) Snapshot(kind MediaKind) (Snapshot, error) {
	f, ok := o.flows[kind]
	if !ok {
		return Snapshot{}, errors.Newf("unknown media kind %q", kind).
			Component("detection").
			Category(errors.CategoryValidation).
			Build()
	}
	return f.Snapshot(), nil
}

// Submit validates req, sends it and resolves the response into handles.
//
// Invalid requests fail with MissingInput, InvalidRange or a validation error
// and leave the flow untouched; nothing is sent. A submit while the same kind is
// in flight fails with ErrBusy. Any later failure moves the flow to Failed: the
// handles of the previous successful submission stay live and no handle of the
// failed attempt survives.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		o.recordSubmission(req.Kind, metrics.StatusRejected, err)
		o.log.Info("submission rejected",
			logger.String("kind", string(req.Kind)),
			logger.String("reason", err.Error()))
		return nil, err
	}
	f := o.flows[req.Kind]

	requestID := uuid.NewString()
	if !f.tryStart(requestID) {
		err := errors.New(fmt.Errorf("%w: %s", errors.ErrBusy, req.Kind)).
			Component("detection").
			Category(errors.CategoryState).
			Context("kind", string(req.Kind)).
			Build()
		o.recordSubmission(req.Kind, metrics.StatusBusy, err)
		return nil, err
	}

	ctx = logger.WithTraceID(ctx, requestID)
	log := o.log.WithContext(ctx).With(logger.String("kind", string(req.Kind)))
	log.Info("submission started",
		logger.String("endpoint", f.endpoint),
		logger.Int("file_size", len(req.File.Data)),
		logger.Float64("confidence", req.Confidence),
		logger.String("model", string(req.Model)),
		logger.Int("classes", len(req.Classes)))
	o.setInFlight(req.Kind, true)
	o.notify(f)

	start := time.Now()
	res, err := o.process(ctx, f, req, requestID, log)
	elapsed := time.Since(start)
	o.setInFlight(req.Kind, false)
	if o.metrics != nil {
		o.metrics.ObserveDuration(string(req.Kind), elapsed.Seconds())
	}

	if err != nil {
		f.fail(err)
		o.recordSubmission(req.Kind, metrics.StatusFailed, err)
		log.Warn("submission failed", logger.Error(err), logger.Duration("elapsed", elapsed))
		o.notify(f)
		return nil, err
	}

	f.succeed(res)
	o.recordSubmission(req.Kind, metrics.StatusSuccess, nil)
	log.Info("submission succeeded",
		logger.String("shape", res.Shape),
		logger.Int("handles", len(res.Handles())),
		logger.Duration("elapsed", elapsed))
	o.notify(f)
	return res, nil
}

// process runs every fallible step before creating any handle, then commits all
// handles of the submission in one batch.
func (o *Orchestrator) process(ctx context.Context, f *Flow, req Request, requestID string, log logger.Logger) (*Result, error) {
	body, contentType, err := req.Encode()
	if err != nil {
		return nil, err
	}

	data, declaredType, err := o.send(ctx, f.endpoint, contentType, body)
	if err != nil {
		return nil, err
	}
	if o.metrics != nil {
		o.metrics.ObserveResponseSize(string(f.kind), len(data))
	}

	shape, err := f.classifier.Classify(data, declaredType)
	if err != nil {
		return nil, err
	}
	if o.metrics != nil {
		o.metrics.RecordPayloadShape(string(f.kind), shape.Name())
	}
	log.Debug("response classified",
		logger.String("shape", shape.Name()),
		logger.String("content_type", declaredType),
		logger.Int("size", len(data)))

	media, err := shape.Media()
	if err != nil {
		return nil, err
	}

	filename := f.kind.MediaFilename(media.MediaType)
	specs := []handles.Spec{{
		Category:  f.kind.displayCategory(),
		Data:      media.Data,
		MediaType: media.MediaType,
		Filename:  filename,
	}}
	if cat, ok := f.kind.downloadCategory(); ok {
		specs = append(specs, handles.Spec{
			Category:  cat,
			Data:      media.Data,
			MediaType: media.MediaType,
			Filename:  filename,
		})
	}
	am, isArchive := shape.(*payload.ArchiveMedia)
	if isArchive {
		specs = append(specs, handles.Spec{
			Category:  f.kind.annotationsCategory(),
			Data:      am.Raw,
			MediaType: bundleMediaType,
			Filename:  f.bundleName,
		})
	}

	hs, err := o.handles.CreateAll(specs...)
	if err != nil {
		return nil, err
	}
	if !isArchive {
		// A direct response has no bundle; drop the previous submission's one.
		o.handles.Revoke(o.handles.Live(f.kind.annotationsCategory()))
	}

	res := &Result{RequestID: requestID, Shape: shape.Name()}
	for _, h := range hs {
		switch h.Category() {
		case f.kind.displayCategory():
			res.Display = h
		case f.kind.annotationsCategory():
			res.Annotations = h
		default:
			res.Download = h
		}
	}
	return res, nil
}

// send posts the body and returns the response body and declared content type.
// Network failures, non-2xx statuses and unreadable bodies fail with ErrTransport.
func (o *Orchestrator) send(ctx context.Context, endpoint, contentType string, body []byte) ([]byte, string, error) {
	start := time.Now()
	resp, err := o.transport.Post(ctx, endpoint, contentType, bytes.NewReader(body))
	if err != nil {
		return nil, "", errors.New(fmt.Errorf("%w: %w", errors.ErrTransport, err)).
			Component("detection").
			Category(errors.CategoryNetwork).
			NetworkContext(endpoint, o.timeout).
			Timing("detect_request", time.Since(start)).
			Build()
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()
		return nil, "", errors.New(fmt.Errorf("%w: service responded %d %s",
			errors.ErrTransport, resp.StatusCode, http.StatusText(resp.StatusCode))).
			Component("detection").
			Category(errors.CategoryHTTP).
			NetworkContext(endpoint, o.timeout).
			Timing("detect_request", time.Since(start)).
			Context("status_code", resp.StatusCode).
			Build()
	}

	data, err := o.transport.ReadBody(resp)
	if err != nil {
		return nil, "", errors.New(fmt.Errorf("%w: %w", errors.ErrTransport, err)).
			Component("detection").
			Category(errors.CategoryNetwork).
			NetworkContext(endpoint, o.timeout).
			Timing("detect_request", time.Since(start)).
			Build()
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// Reset revokes kind's current handles and returns the flow to Idle. It fails
// with ErrBusy while a submission is in flight.
func (o *Orchestrator) Reset(kind MediaKind) error {
	f, ok := o.flows[kind]
	if !ok {
		return errors.Newf("unknown media kind %q", kind).
			Component("detection").
			Category(errors.CategoryValidation).
			Build()
	}
	if !f.sem.TryAcquire(1) {
		return errors.New(fmt.Errorf("%w: %s", errors.ErrBusy, kind)).
			Component("detection").
			Category(errors.CategoryState).
			Build()
	}
	res := f.reset()
	f.sem.Release(1)

	for _, h := range res.Handles() {
		o.handles.Revoke(h)
	}
	o.log.Info("flow reset", logger.String("kind", string(kind)))
	o.notify(f)
	return nil
}

func (o *Orchestrator) notify(f *Flow) {
	if o.listener != nil {
		o.listener(f.Snapshot())
	}
}

func (o *Orchestrator) setInFlight(kind MediaKind, inFlight bool) {
	if o.metrics != nil {
		o.metrics.SetInFlight(string(kind), inFlight)
	}
}

func (o *Orchestrator) recordSubmission(kind MediaKind, status string, err error) {
	if o.metrics == nil {
		return
	}
	label := string(kind)
	if _, ok := o.flows[kind]; !ok {
		label = "unknown"
	}
	reason := ""
	var ee *errors.EnhancedError
	if errors.As(err, &ee) {
		reason = string(ee.Category)
	}
	o.metrics.RecordSubmission(label, status, reason)
}
