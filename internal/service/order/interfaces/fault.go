package interfaces

import (
	"context"
	"net/http"

	"github.com/pkg/errors"

	"orderflow/internal/service/order/domain"
)

// Fault 是返回给调用方的错误，Status 区分调用方错误(4xx)和服务端错误(5xx)
type Fault struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// FaultFrom 把生命周期错误映射为 Fault。服务端错误不透出内部细节。
func FaultFrom(err error) Fault {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		return Fault{Status: http.StatusNotFound, Message: err.Error()}
	case errors.Is(err, domain.ErrInvalidInput):
		return Fault{Status: http.StatusBadRequest, Message: err.Error()}
	case errors.Is(err, domain.ErrUnknownProduct):
		return Fault{Status: http.StatusBadRequest, Message: "Some products were not found"}
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrPaymentConflict),
		errors.Is(err, domain.ErrConcurrentUpdate):
		return Fault{Status: http.StatusConflict, Message: err.Error()}
	case errors.Is(err, domain.ErrProductRejected):
		return Fault{Status: http.StatusUnprocessableEntity, Message: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return Fault{Status: http.StatusGatewayTimeout, Message: "upstream request timed out"}
	case errors.Is(err, domain.ErrUpstreamValidation):
		return Fault{Status: http.StatusBadGateway, Message: "product validation unavailable"}
	case errors.Is(err, domain.ErrUpstreamPayment):
		return Fault{Status: http.StatusBadGateway, Message: "payment service unavailable"}
	case errors.Is(err, context.Canceled):
		// nginx 约定的 499 Client Closed Request
		return Fault{Status: 499, Message: "request cancelled"}
	default:
		return Fault{Status: http.StatusInternalServerError, Message: "internal error"}
	}
}
