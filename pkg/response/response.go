package response

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	apperrors "matchchat/pkg/errors"
)

type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *ErrorInfo  `json:"error,omitempty"`
	Timestamp string      `json:"timestamp"`
}

type ErrorInfo struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// CursorPage is returned by backward-paginated listings.
type CursorPage struct {
	Items      interface{} `json:"items"`
	Count      int         `json:"count"`
	NextBefore string      `json:"nextBefore,omitempty"`
}

func Success(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: now(),
	})
}

func Created(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusCreated, Response{
		Success:   true,
		Data:      data,
		Timestamp: now(),
	})
}

func Cursor(c echo.Context, items interface{}, count int, nextBefore *time.Time) error {
	page := CursorPage{Items: items, Count: count}
	if nextBefore != nil {
		page.NextBefore = nextBefore.UTC().Format(time.RFC3339Nano)
	}
	return Success(c, page)
}

func Error(c echo.Context, err error) error {
	var validationErr validator.ValidationErrors
	if errors.As(err, &validationErr) {
		return handleValidationError(c, validationErr)
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return c.JSON(appErr.Status, Response{
			Success:   false,
			Timestamp: now(),
			Error: &ErrorInfo{
				Code:    appErr.Code,
				Message: appErr.Message,
			},
		})
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return c.JSON(httpErr.Code, Response{
			Success:   false,
			Timestamp: now(),
			Error: &ErrorInfo{
				Code:    apperrors.CodeBadRequest,
				Message: http.StatusText(httpErr.Code),
			},
		})
	}

	return c.JSON(http.StatusInternalServerError, Response{
		Success:   false,
		Timestamp: now(),
		Error: &ErrorInfo{
			Code:    apperrors.CodeInternal,
			Message: "An unexpected error occurred",
		},
	})
}

func handleValidationError(c echo.Context, validationErr validator.ValidationErrors) error {
	details := make([]string, 0, len(validationErr))
	for _, err := range validationErr {
		field := strings.ToLower(err.Field())
		param := err.Param()

		var message string
		switch err.Tag() {
		case "required":
			message = field + " is required"
		case "min":
			message = field + " must be at least " + param
		case "max":
			message = field + " must be at most " + param
		case "oneof":
			message = field + " must be one of: " + param
		case "dive", "unique":
			message = field + " contains duplicate or invalid entries"
		default:
			message = field + " is invalid"
		}
		details = append(details, message)
	}

	message := "Invalid input data"
	if len(details) > 0 {
		message = details[0]
	}

	return c.JSON(http.StatusBadRequest, Response{
		Success:   false,
		Timestamp: now(),
		Error: &ErrorInfo{
			Code:    apperrors.CodeValidation,
			Message: message,
			Details: details,
		},
	})
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
