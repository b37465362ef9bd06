package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"taskmanager/internal/domain/errors"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator"
)

// respondError writes the JSON error body for err. fallback is the message
// used for unexpected failures; their details go to the log only.
func (api *TaskAPI) respondError(ctx *gin.Context, err error, fallback string) {
	var verr *errors.ValidationError
	switch {
	case errors.As(err, &verr):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Validation failed", "details": verr.Fields})
	case errors.Is(err, errors.ErrBadRequest):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request data"})
	case errors.Is(err, errors.ErrInvalidCredentials):
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
	case errors.Is(err, errors.ErrUnauthenticated):
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
	case errors.Is(err, errors.ErrNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
	case errors.Is(err, errors.ErrUserNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
	case errors.Is(err, errors.ErrConflict):
		ctx.JSON(http.StatusConflict, gin.H{"error": "User already exists"})
	case errors.Is(err, errors.ErrCollaborator):
		api.logger.WarnContext(ctx.Request.Context(), "collaborator failure",
			slog.String("request_id", ctx.GetString(ctxKeyRequestID)), slog.Any("error", err))
		ctx.JSON(http.StatusBadGateway, gin.H{"error": "Failed to generate tasks"})
	default:
		api.logger.ErrorContext(ctx.Request.Context(), fallback,
			slog.String("request_id", ctx.GetString(ctxKeyRequestID)),
			slog.String("path", ctx.Request.URL.Path),
			slog.Any("error", err))
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

// bindJSON decodes the body into req and runs its validate tags. Enum
// fields reject unknown values while decoding and surface as field errors.
func (api *TaskAPI) bindJSON(ctx *gin.Context, req any) error {
	if err := ctx.ShouldBindJSON(req); err != nil {
		var verr *errors.ValidationError
		if errors.As(err, &verr) {
			return verr
		}
		return fmt.Errorf("%w: %w", errors.ErrBadRequest, err)
	}
	if err := api.validate.Struct(req); err != nil {
		return validationErrorToErrorResponse(err)
	}
	return nil
}

func validationErrorToErrorResponse(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("%w: %w", errors.ErrBadRequest, err)
	}
	out := &errors.ValidationError{}
	for _, fe := range verrs {
		out.Add(fe.Field(), fieldMessage(fe))
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	default:
		return "is invalid"
	}
}
