package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/adshao/go-binance/v2/common"

	"spot-trade-worker/internal/model"
)

// Binance error codes the gateway maps onto engine errors.
// https://developers.binance.com/docs/binance-spot-api-docs/errors
const (
	codeUnknown          = -1000
	codeDisconnected     = -1001
	codeTooManyRequests  = -1003
	codeUnexpectedResp   = -1006
	codeTimeout          = -1007
	codeServerBusy       = -1008
	codeTooManyOrders    = -1015
	codeInvalidTimestamp = -1021
	codeFilterFailure    = -1013
	codeNewOrderRejected = -2010
	codeCancelRejected   = -2011
	codeNoSuchOrder      = -2013
)

// classify wraps err with the engine error it corresponds to. Context
// cancellation from the caller is returned unchanged so it is never retried.
func (g *BinanceGateway) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return err
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == codeInvalidTimestamp {
			g.log.Warn("⚠️ Timestamp outside recvWindow, resyncing", "msg", apiErr.Message)
			if offset, syncErr := g.client.NewSetServerTimeService().Do(ctx); syncErr == nil {
				g.log.Info("⏰ Time Synchronized", "offset_ms", offset)
			}
		}
		return classifyAPIError(apiErr)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return fmt.Errorf("malformed response: %w", err)
	}
	// Anything else failed below the API: dial, TLS, reset, client timeout.
	return fmt.Errorf("%w: %w", model.ErrTransient, err)
}

func classifyAPIError(e *common.APIError) error {
	switch {
	case e.Code == 0,
		e.Code == codeUnknown,
		e.Code == codeDisconnected,
		e.Code == codeTooManyRequests,
		e.Code == codeUnexpectedResp,
		e.Code == codeTimeout,
		e.Code == codeServerBusy,
		e.Code == codeTooManyOrders,
		e.Code == codeInvalidTimestamp:
		// Code 0 means the body carried no API error: an HTTP 5xx or a
		// gateway page in front of the API.
		return fmt.Errorf("%w: %w", model.ErrTransient, e)
	case e.Code == codeNoSuchOrder, e.Code == codeCancelRejected:
		return fmt.Errorf("%w: %w", model.ErrOrderNotFound, e)
	case e.Code == codeNewOrderRejected:
		if strings.Contains(strings.ToLower(e.Message), "insufficient balance") {
			return fmt.Errorf("%w: %w: %w", model.ErrInsufficientBalance, model.ErrOrderRejected, e)
		}
		return fmt.Errorf("%w: %w", model.ErrOrderRejected, e)
	case e.Code == codeFilterFailure, e.Code <= -1100 && e.Code > -1200:
		return fmt.Errorf("%w: %w", model.ErrOrderRejected, e)
	default:
		return e
	}
}
