package handler

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"imagerelay/internal/http/middleware"
	"imagerelay/internal/model"
	"imagerelay/internal/service"
)

// writeError writes the failure envelope {success:false, error}.
func writeError(c *fiber.Ctx, status int, message string) error {
	failed := false
	return c.Status(status).JSON(model.ErrorResponse{Success: &failed, Error: message})
}

// statusFor maps a service error kind to its HTTP status.
func statusFor(kind service.Kind) int {
	switch kind {
	case service.KindMissingInput:
		return fiber.StatusBadRequest
	case service.KindUnsupportedMediaType:
		return fiber.StatusUnsupportedMediaType
	case service.KindPayloadTooLarge:
		return fiber.StatusRequestEntityTooLarge
	default:
		return fiber.StatusInternalServerError
	}
}

// writeServiceError translates an ImageService error into a response without
// leaking internal details. Server-side failures are logged with their cause.
func writeServiceError(c *fiber.Ctx, log *zap.Logger, err error) error {
	var se *service.Error
	if !errors.As(err, &se) {
		se = &service.Error{Kind: service.KindInternal, Message: "Error processing image", Err: err}
	}

	status := statusFor(se.Kind)
	if status >= fiber.StatusInternalServerError {
		log.Error("image processing failed",
			zap.String("request_id", middleware.RequestIDFromCtx(c)),
			zap.String("kind", string(se.Kind)),
			zap.Error(err),
		)
	}

	// The missing-file response only carries the error string.
	if se.Kind == service.KindMissingInput {
		return c.Status(status).JSON(model.ErrorResponse{Error: se.PublicMessage()})
	}
	return writeError(c, status, se.PublicMessage())
}

// ErrorHandler returns a Fiber global error handler that renders framework
// errors (unknown routes, oversized bodies, panics) in the same envelope.
func ErrorHandler(maxUploadBytes int64) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		}

		switch status {
		case fiber.StatusBadRequest:
			return writeError(c, status, "bad request")
		case fiber.StatusNotFound:
			return writeError(c, status, "resource not found")
		case fiber.StatusMethodNotAllowed:
			return writeError(c, status, "method not allowed")
		case fiber.StatusRequestEntityTooLarge:
			return writeError(c, status, fmt.Sprintf("File too large (max %d bytes)", maxUploadBytes))
		default:
			return writeError(c, status, "internal server error")
		}
	}
}
