package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"imagerelay/internal/metrics"
	"imagerelay/internal/model"
	"imagerelay/internal/storage"
)

// AnalysisPrompt is the instruction sent with every image.
const AnalysisPrompt = "Analyze this image and provide detailed information about its contents."

// DefaultMaxUploadBytes is used when Options.MaxUploadBytes is not set.
const DefaultMaxUploadBytes int64 = 5 * 1024 * 1024

// Analyzer is the external content-analysis service.
type Analyzer interface {
	// GenerateFromImage submits the instruction and the image in one blocking call.
	GenerateFromImage(ctx context.Context, prompt string, image []byte, mimeType string) (string, error)
	// SourceName returns a short provider label (e.g. "Gemini").
	SourceName() string
}

// ImageService defines the intake-and-relay use case.
type ImageService interface {
	// Process validates the upload, stages it, relays it to the analyzer and
	// removes the staged object before returning, whatever the outcome.
	Process(ctx context.Context, upload model.Upload) (*model.Analysis, error)
}

// Options tune an ImageService. Zero values pick defaults.
type Options struct {
	MaxUploadBytes int64
	Metrics        *metrics.Relay
	Logger         *zap.Logger
	Now            func() time.Time
}

type imageService struct {
	store    storage.Storage
	analyzer Analyzer
	maxBytes int64
	metrics  *metrics.Relay
	log      *zap.Logger
	now      func() time.Time
	tracer   trace.Tracer
}

// NewImageService constructs a new ImageService.
func NewImageService(store storage.Storage, analyzer Analyzer, opts Options) ImageService {
	s := &imageService{
		store:    store,
		analyzer: analyzer,
		maxBytes: opts.MaxUploadBytes,
		metrics:  opts.Metrics,
		log:      opts.Logger,
		now:      opts.Now,
		tracer:   otel.Tracer("imagerelay/internal/service"),
	}
	if s.maxBytes <= 0 {
		s.maxBytes = DefaultMaxUploadBytes
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *imageService) Process(ctx context.Context, up model.Upload) (res *model.Analysis, err error) {
	ctx, span := s.tracer.Start(ctx, "ImageService.Process", trace.WithAttributes(
		attribute.String("upload.filename", up.Filename),
		attribute.String("upload.content_type", up.ContentType),
		attribute.Int64("upload.size", up.Size),
	))
	received := s.now()
	defer func() {
		if err != nil {
			s.metrics.Outcome(string(KindOf(err)))
			span.RecordError(err)
			span.SetStatus(codes.Error, string(KindOf(err)))
		} else {
			s.metrics.Outcome("success")
		}
		span.End()
	}()

	mimeType, err := s.validate(up)
	if err != nil {
		return nil, err
	}

	// Read at most one byte past the ceiling so a wrong declared size cannot
	// push an oversized payload into staging.
	data, err := io.ReadAll(io.LimitReader(up.Body, s.maxBytes+1))
	if err != nil {
		return nil, internalError(fmt.Errorf("read upload: %w", err))
	}
	if int64(len(data)) > s.maxBytes {
		return nil, s.tooLarge()
	}

	key := stagingKey(received, up.Filename)
	span.SetAttributes(attribute.String("staging.key", key))

	if _, err := s.store.Put(ctx, key, bytes.NewReader(data), storage.PutObjectOptions{
		Size:        int64(len(data)),
		ContentType: mimeType,
		Metadata:    map[string]string{"original-filename": up.Filename},
	}); err != nil {
		// A key collision means the object belongs to someone else.
		if !errors.Is(err, storage.ErrObjectExists) {
			_ = s.cleanup(ctx, key)
		}
		return nil, internalError(fmt.Errorf("stage upload: %w", err))
	}
	s.metrics.Staged()
	s.log.Debug("upload staged", zap.String("key", key), zap.Int("size", len(data)))

	defer func() {
		cerr := s.cleanup(ctx, key)
		if cerr == nil {
			s.metrics.Cleaned()
			return
		}
		if err == nil {
			res, err = nil, internalError(fmt.Errorf("cleanup staged upload: %w", cerr))
		}
	}()

	staged, err := s.readStaged(ctx, key)
	if err != nil {
		return nil, internalError(fmt.Errorf("read staged upload: %w", err))
	}

	text, err := s.submit(ctx, staged, mimeType)
	if err != nil {
		return nil, newError(KindUpstreamFailure, "Failed to process image with "+s.analyzer.SourceName(), err)
	}

	return &model.Analysis{
		Text:       text,
		StagedKey:  key,
		ReceivedAt: received,
		Duration:   s.now().Sub(received),
	}, nil
}

// validate checks presence, media type and declared size, in that order,
// before anything is staged. It returns the bare media type.
func (s *imageService) validate(up model.Upload) (string, error) {
	if up.Body == nil {
		return "", newError(KindMissingInput, msgMissingInput, nil)
	}
	mimeType, ok := imageMediaType(up.ContentType)
	if !ok {
		return "", newError(KindUnsupportedMediaType, msgUnsupportedType, nil)
	}
	if up.Size > s.maxBytes {
		return "", s.tooLarge()
	}
	return mimeType, nil
}

func (s *imageService) tooLarge() *Error {
	return newError(KindPayloadTooLarge, fmt.Sprintf("File too large (max %d bytes)", s.maxBytes), nil)
}

func (s *imageService) readStaged(ctx context.Context, key string) ([]byte, error) {
	rc, _, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (s *imageService) submit(ctx context.Context, image []byte, mimeType string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "Analyzer.GenerateFromImage", trace.WithAttributes(
		attribute.String("analyzer.source", s.analyzer.SourceName()),
	))
	defer span.End()

	start := time.Now()
	text, err := s.analyzer.GenerateFromImage(ctx, AnalysisPrompt, image, mimeType)
	s.metrics.Upstream(time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "analyzer failed")
	}
	return text, err
}

// cleanup removes the staged object. It runs on a context detached from the
// caller so a disconnected client cannot leave the file behind.
func (s *imageService) cleanup(ctx context.Context, key string) error {
	if err := s.store.Delete(context.WithoutCancel(ctx), key); err != nil {
		s.log.Error("failed to remove staged upload", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

// imageMediaType reports whether contentType declares an image and returns
// it without parameters.
func imageMediaType(contentType string) (string, bool) {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt, strings.HasPrefix(mt, "image/")
}

// stagingKey derives the object key from the arrival time and the original
// name. The uuid keeps concurrent uploads of the same name apart.
func stagingKey(received time.Time, filename string) string {
	name := filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
	if name == "." || name == "/" || name == "" {
		name = "upload"
	}
	return fmt.Sprintf("%d-%s-%s", received.UnixMilli(), uuid.NewString(), name)
}
