package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/zeromicro/go-zero/core/logx"

	"equityfeed/internal/types"
	"equityfeed/pkg/acquire"
	"equityfeed/pkg/market"
)

// errorHandler maps domain errors to HTTP status codes.
func errorHandler(ctx context.Context, err error) (int, any) {
	body := &types.ErrorResponse{Error: err.Error()}
	var ae *acquire.AcquisitionError
	switch {
	case errors.As(err, &ae):
		body.Reasons = ae.Reasons
		return http.StatusServiceUnavailable, body
	case errors.Is(err, market.ErrInvalidRequest):
		return http.StatusBadRequest, body
	case errors.Is(err, acquire.ErrUnknownSymbol):
		return http.StatusNotFound, body
	case errors.Is(err, acquire.ErrNoGuardian):
		return http.StatusNotImplemented, body
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, body
	}
	logx.WithContext(ctx).Errorf("unhandled error: %v", err)
	return http.StatusInternalServerError, body
}

// badRequest marks request decoding failures as invalid requests.
func badRequest(err error) error {
	return fmt.Errorf("%w: %v", market.ErrInvalidRequest, err)
}
