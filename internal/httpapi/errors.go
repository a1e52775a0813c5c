package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/retail-orders/internal/domain"
)

type errorResponse struct {
	Code       string   `json:"code"`
	Message    string   `json:"message"`
	ProductIDs []string `json:"product_ids,omitempty"`
}

// statusFor сопоставляет класс доменной ошибки с HTTP-статусом.
func statusFor(err error) int {
	switch {
	case domain.IsValidation(err),
		errors.Is(err, domain.ErrIdempotencyKeyRequired),
		errors.Is(err, domain.ErrIdempotencyRequestHashRequired):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case domain.IsBusinessRejection(err),
		domain.IsIdempotencyConflict(err),
		errors.Is(err, domain.ErrSequenceConflict),
		errors.Is(err, domain.ErrTxConflict),
		errors.Is(err, domain.ErrOrderVersionConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// errorBody строит тело ответа. Детали инфраструктурных сбоев наружу не отдаются.
func errorBody(err error) (int, errorResponse) {
	status := statusFor(err)
	body := errorResponse{Code: domain.ErrorCode(err), Message: err.Error()}
	if status == http.StatusInternalServerError {
		body.Code = domain.ErrorCode(domain.ErrInfrastructure)
		body.Message = "internal error"
	}

	var stockErr *domain.OutOfStockError
	if errors.As(err, &stockErr) {
		body.ProductIDs = stockErr.ProductIDs
	}
	return status, body
}

func writeError(c *gin.Context, err error) {
	status, body := errorBody(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, body)
}
