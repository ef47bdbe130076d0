package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"imagerelay/internal/model"
	"imagerelay/internal/service"
)

const (
	// ImageField is the multipart field carrying the upload.
	ImageField = "image"

	bannerText     = "Gemini Image Processor API is running"
	successMessage = "Image processed successfully"
)

// Options carries what RegisterRoutes needs besides the service.
type Options struct {
	// UploadDir is served read-only under /uploads when set.
	UploadDir string
	// Gatherer backs /metrics when set.
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// RegisterRoutes attaches HTTP routes to the provided Fiber app.
func RegisterRoutes(app *fiber.App, imgSvc service.ImageService, opts Options) {
	app.Get("/", Banner())
	app.Get("/healthz", LivenessProbe())
	app.Post("/api/process-image", ProcessImage(imgSvc, opts.Logger))

	if opts.UploadDir != "" {
		app.Static("/uploads", opts.UploadDir)
	}
	if opts.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}
}

// Banner is the plain-text liveness banner on /.
func Banner() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.SendString(bannerText)
	}
}

// LivenessProbe answers 200 with no body.
func LivenessProbe() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	}
}

// ProcessImage godoc
// @Summary      Analyze an image
// @Description  Uploads one image, relays it to the analysis model and returns the generated text. The image is never retained.
// @Tags         images
// @Accept       multipart/form-data
// @Produce      json
// @Param        image  formData  file  true  "Image file (image/*, at most MAX_UPLOAD_BYTES)"
// @Success      200  {object}  model.SuccessResponse
// @Failure      400  {object}  model.ErrorResponse
// @Failure      413  {object}  model.ErrorResponse
// @Failure      415  {object}  model.ErrorResponse
// @Failure      500  {object}  model.ErrorResponse
// @Router       /api/process-image [post]
func ProcessImage(imgSvc service.ImageService, log *zap.Logger) fiber.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *fiber.Ctx) error {
		var up model.Upload

		// A missing field or a non-multipart body leaves up empty; the
		// service reports it as missing input.
		if fh, err := c.FormFile(ImageField); err == nil {
			f, err := fh.Open()
			if err != nil {
				return writeServiceError(c, log, err)
			}
			defer f.Close()

			up = model.Upload{
				Filename:    fh.Filename,
				ContentType: fh.Header.Get(fiber.HeaderContentType),
				Size:        fh.Size,
				Body:        f,
			}
		}

		res, err := imgSvc.Process(c.UserContext(), up)
		if err != nil {
			return writeServiceError(c, log, err)
		}

		return c.JSON(model.SuccessResponse{
			Success:  true,
			Analysis: res.Text,
			Message:  successMessage,
		})
	}
}
