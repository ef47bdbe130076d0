package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"imagerelay/internal/metrics"
	"imagerelay/internal/model"
	"imagerelay/internal/service"
	serviceMocks "imagerelay/internal/service/mocks"
	"imagerelay/internal/storage"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var pngBytes = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0} // 10 bytes

// multipartBody builds a form with one file part whose Content-Type is set
// explicitly; multipart.Writer.CreateFormFile always uses octet-stream.
func multipartBody(t *testing.T, field, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, field, filename))
	h.Set("Content-Type", contentType)
	part, err := writer.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	return body, writer.FormDataContentType()
}

func processRequest(body io.Reader, contentType string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/process-image", body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req
}

type relayFixture struct {
	app      *fiber.App
	dir      string
	analyzer *serviceMocks.MockAnalyzer
	registry *prometheus.Registry
}

func newRelayApp(t *testing.T, maxBytes int64) *relayFixture {
	t.Helper()
	store, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	relayMetrics, err := metrics.NewRelay(reg)
	require.NoError(t, err)

	analyzer := new(serviceMocks.MockAnalyzer)
	svc := service.NewImageService(store, analyzer, service.Options{
		MaxUploadBytes: maxBytes,
		Metrics:        relayMetrics,
	})

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(maxBytes)})
	RegisterRoutes(app, svc, Options{UploadDir: store.Dir(), Gatherer: reg})

	return &relayFixture{app: app, dir: store.Dir(), analyzer: analyzer, registry: reg}
}

func (f *relayFixture) assertStagingEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestBanner(t *testing.T) {
	f := newRelayApp(t, service.DefaultMaxUploadBytes)

	resp, err := f.app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Gemini Image Processor API is running", readBody(t, resp))
}

func TestLivenessProbe(t *testing.T) {
	app := fiber.New()
	app.Get("/healthz", LivenessProbe())

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestProcessImage(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		f := newRelayApp(t, service.DefaultMaxUploadBytes)
		f.analyzer.On("GenerateFromImage", mock.Anything, service.AnalysisPrompt, pngBytes, "image/png").
			Return("a red square", nil).Once()

		body, ct := multipartBody(t, "image", "a.png", "image/png", pngBytes)
		resp, err := f.app.Test(processRequest(body, ct))
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.JSONEq(t,
			`{"success":true,"analysis":"a red square","message":"Image processed successfully"}`,
			readBody(t, resp))
		f.analyzer.AssertExpectations(t)
		f.assertStagingEmpty(t)
	})

	t.Run("field omitted", func(t *testing.T) {
		f := newRelayApp(t, service.DefaultMaxUploadBytes)

		body, ct := multipartBody(t, "photo", "a.png", "image/png", pngBytes)
		resp, err := f.app.Test(processRequest(body, ct))
		require.NoError(t, err)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.JSONEq(t, `{"error":"No image file provided"}`, readBody(t, resp))
		f.analyzer.AssertNotCalled(t, "GenerateFromImage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		f.assertStagingEmpty(t)
	})

	t.Run("no body", func(t *testing.T) {
		f := newRelayApp(t, service.DefaultMaxUploadBytes)

		resp, err := f.app.Test(processRequest(nil, ""))
		require.NoError(t, err)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.JSONEq(t, `{"error":"No image file provided"}`, readBody(t, resp))
	})

	t.Run("non-image rejected before staging", func(t *testing.T) {
		f := newRelayApp(t, service.DefaultMaxUploadBytes)

		body, ct := multipartBody(t, "image", "notes.txt", "text/plain", []byte("hello"))
		resp, err := f.app.Test(processRequest(body, ct))
		require.NoError(t, err)

		assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
		assert.JSONEq(t, `{"success":false,"error":"Only image files are allowed!"}`, readBody(t, resp))
		f.analyzer.AssertNotCalled(t, "GenerateFromImage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		f.assertStagingEmpty(t)
	})

	t.Run("oversize rejected before external call", func(t *testing.T) {
		f := newRelayApp(t, 8)

		body, ct := multipartBody(t, "image", "big.png", "image/png", pngBytes)
		resp, err := f.app.Test(processRequest(body, ct))
		require.NoError(t, err)

		assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
		assert.JSONEq(t, `{"success":false,"error":"File too large (max 8 bytes)"}`, readBody(t, resp))
		f.analyzer.AssertNotCalled(t, "GenerateFromImage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		f.assertStagingEmpty(t)
	})

	t.Run("upstream failure removes staged file", func(t *testing.T) {
		f := newRelayApp(t, service.DefaultMaxUploadBytes)
		f.analyzer.On("GenerateFromImage", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return("", errors.New("quota exceeded")).Once()

		body, ct := multipartBody(t, "image", "a.png", "image/png", pngBytes)
		resp, err := f.app.Test(processRequest(body, ct))
		require.NoError(t, err)

		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		var res model.ErrorResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
		require.NotNil(t, res.Success)
		assert.False(t, *res.Success)
		assert.Equal(t, "Failed to process image with Gemini: quota exceeded", res.Error)
		f.assertStagingEmpty(t)
	})
}

func TestProcessImage_Concurrent(t *testing.T) {
	const n = 12
	f := newRelayApp(t, service.DefaultMaxUploadBytes)

	images := make([][]byte, n)
	for i := range images {
		images[i] = append(append([]byte{}, pngBytes...), byte(i))
		f.analyzer.On("GenerateFromImage", mock.Anything, mock.Anything, images[i], "image/png").
			Return(fmt.Sprintf("image %d", i), nil).Once()
	}

	var wg sync.WaitGroup
	results := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body, ct := multipartBody(t, "image", "same.png", "image/png", images[i])
			resp, err := f.app.Test(processRequest(body, ct), -1)
			if !assert.NoError(t, err) {
				return
			}
			var res model.SuccessResponse
			if assert.NoError(t, json.NewDecoder(resp.Body).Decode(&res)) {
				results[i] = res.Analysis
			}
		}(i)
	}
	wg.Wait()

	for i, got := range results {
		assert.Equal(t, fmt.Sprintf("image %d", i), got)
	}
	f.analyzer.AssertExpectations(t)
	f.assertStagingEmpty(t)
}

func TestProcessImage_ServiceErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "missing input",
			err:        &service.Error{Kind: service.KindMissingInput, Message: "No image file provided"},
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"No image file provided"}`,
		},
		{
			name:       "internal error hides detail",
			err:        &service.Error{Kind: service.KindInternal, Message: "Error processing image", Err: errors.New("disk full")},
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"success":false,"error":"Error processing image"}`,
		},
		{
			name:       "foreign error",
			err:        errors.New("unexpected"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"success":false,"error":"Error processing image"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockSvc := new(serviceMocks.MockImageService)
			app := fiber.New()
			app.Post("/api/process-image", ProcessImage(mockSvc, nil))

			mockSvc.On("Process", mock.Anything, mock.Anything).Return(nil, tt.err).Once()

			body, ct := multipartBody(t, "image", "a.png", "image/png", pngBytes)
			resp, err := app.Test(processRequest(body, ct))
			require.NoError(t, err)

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.JSONEq(t, tt.wantBody, readBody(t, resp))
			mockSvc.AssertExpectations(t)
		})
	}
}

func TestProcessImage_PassesUploadFields(t *testing.T) {
	mockSvc := new(serviceMocks.MockImageService)
	app := fiber.New()
	app.Post("/api/process-image", ProcessImage(mockSvc, nil))

	mockSvc.On("Process", mock.Anything, mock.MatchedBy(func(up model.Upload) bool {
		return up.Filename == "cat.jpg" && up.ContentType == "image/jpeg" &&
			up.Size == int64(len(pngBytes)) && up.Body != nil
	})).Return(&model.Analysis{Text: "a cat"}, nil).Once()

	body, ct := multipartBody(t, "image", "cat.jpg", "image/jpeg", pngBytes)
	resp, err := app.Test(processRequest(body, ct))
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	mockSvc.AssertExpectations(t)
}

func TestErrorHandler(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(5242880)})
	app.Get("/too-large", func(c *fiber.Ctx) error { return fiber.ErrRequestEntityTooLarge })
	app.Get("/boom", func(c *fiber.Ctx) error { return errors.New("boom") })
	app.Get("/only-get", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantError  string
	}{
		{"not found", http.MethodGet, "/nope", http.StatusNotFound, "resource not found"},
		{"method not allowed", http.MethodDelete, "/only-get", http.StatusMethodNotAllowed, "method not allowed"},
		{"body too large", http.MethodGet, "/too-large", http.StatusRequestEntityTooLarge, "File too large (max 5242880 bytes)"},
		{"plain error", http.MethodGet, "/boom", http.StatusInternalServerError, "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest(tt.method, tt.path, nil))
			require.NoError(t, err)

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			var res model.ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
			require.NotNil(t, res.Success)
			assert.False(t, *res.Success)
			assert.Equal(t, tt.wantError, res.Error)
		})
	}
}

func TestStaticUploads(t *testing.T) {
	f := newRelayApp(t, service.DefaultMaxUploadBytes)
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "kept.png"), pngBytes, 0o644))

	resp, err := f.app.Test(httptest.NewRequest(http.MethodGet, "/uploads/kept.png", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(pngBytes), readBody(t, resp))

	resp, err = f.app.Test(httptest.NewRequest(http.MethodGet, "/uploads/missing.png", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newRelayApp(t, service.DefaultMaxUploadBytes)

	body, ct := multipartBody(t, "image", "notes.txt", "text/plain", []byte("hello"))
	_, err := f.app.Test(processRequest(body, ct))
	require.NoError(t, err)

	resp, err := f.app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), `imagerelay_images_processed_total{outcome="UNSUPPORTED_MEDIA_TYPE"} 1`)
}
