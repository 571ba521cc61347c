package ginserver

import (
	"errors"
	"log/slog"
	"net/http"

	gin "github.com/gin-gonic/gin"

	"kiraya/internal/app/apperr"
	"kiraya/internal/app/policies"
	domainbooking "kiraya/internal/domain/booking"
	domainlisting "kiraya/internal/domain/listing"
	domainpayment "kiraya/internal/domain/payment"
	domainpricing "kiraya/internal/domain/pricing"
	infragateway "kiraya/internal/infra/gateway"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// respondError maps domain and application errors to HTTP statuses. Unknown
// errors come back as a generic 500 so internals never leak to clients.
func respondError(c *gin.Context, log *slog.Logger, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError && log != nil {
		log.Error("request failed", "path", c.FullPath(), "err", err)
	}
	c.AbortWithStatusJSON(status, body)
}

func classify(err error) (int, errorBody) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return statusForKind(appErr.Kind), errorBody{Error: appErr.Message, Code: appErr.Code}
	}

	var gwErr *infragateway.Error
	if errors.As(err, &gwErr) {
		return http.StatusBadGateway, errorBody{Error: "payment gateway unavailable", Code: "gateway"}
	}
	if errors.Is(err, policies.ErrGatewayUnavailable) {
		return http.StatusServiceUnavailable, errorBody{Error: err.Error(), Code: "gateway_unavailable"}
	}

	var transition *domainbooking.TransitionError
	if errors.As(err, &transition) {
		return http.StatusConflict, errorBody{Error: transition.Error(), Code: "invalid_transition"}
	}

	switch {
	case errors.Is(err, domainbooking.ErrNotFound),
		errors.Is(err, domainpayment.ErrNotFound),
		errors.Is(err, domainlisting.ErrPropertyNotFound):
		return http.StatusNotFound, errorBody{Error: err.Error(), Code: "not_found"}
	case errors.Is(err, domainbooking.ErrForbidden):
		return http.StatusForbidden, errorBody{Error: err.Error(), Code: "forbidden"}
	case errors.Is(err, domainbooking.ErrDateOverlap):
		return http.StatusConflict, errorBody{Error: err.Error(), Code: "date_overlap"}
	case errors.Is(err, domainbooking.ErrConcurrentUpdate),
		errors.Is(err, domainpayment.ErrConcurrentUpdate):
		return http.StatusConflict, errorBody{Error: err.Error(), Code: "concurrent_update"}
	case errors.Is(err, domainpayment.ErrAlreadyPaid),
		errors.Is(err, domainpayment.ErrOpenPaymentExists),
		errors.Is(err, domainpayment.ErrBookingNotApproved),
		errors.Is(err, domainpayment.ErrNotSucceeded),
		errors.Is(err, domainbooking.ErrCompletionNotDue):
		return http.StatusConflict, errorBody{Error: err.Error(), Code: "conflict"}
	case errors.Is(err, domainpayment.ErrRefundExceedsAmount),
		errors.Is(err, domainpayment.ErrInvalidAmount),
		errors.Is(err, domainbooking.ErrInvalidDateRange),
		errors.Is(err, domainbooking.ErrInvalidOccupants),
		errors.Is(err, domainbooking.ErrSelfBooking),
		errors.Is(err, domainbooking.ErrPropertyUnavailable),
		errors.Is(err, domainpricing.ErrDurationTooShort),
		errors.Is(err, domainpricing.ErrInvalidRate):
		return http.StatusUnprocessableEntity, errorBody{Error: err.Error(), Code: "validation"}
	}
	return http.StatusInternalServerError, errorBody{Error: "internal error", Code: "internal"}
}

func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusUnprocessableEntity
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindGateway:
		return http.StatusBadGateway
	case apperr.KindSignature:
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}
