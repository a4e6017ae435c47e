package xhttp

import "github.com/valyala/fasthttp"

const (
	StatusOK                  = fasthttp.StatusOK
	StatusCreated             = fasthttp.StatusCreated
	StatusNoContent           = fasthttp.StatusNoContent
	StatusAccepted            = fasthttp.StatusAccepted
	StatusBadRequest          = fasthttp.StatusBadRequest
	StatusForbidden           = fasthttp.StatusForbidden
	StatusNotFound            = fasthttp.StatusNotFound
	StatusMethodNotAllowed    = fasthttp.StatusMethodNotAllowed
	StatusRequestTimeout      = fasthttp.StatusRequestTimeout
	StatusConflict            = fasthttp.StatusConflict
	StatusTooManyRequests     = fasthttp.StatusTooManyRequests
	StatusInternalServerError = fasthttp.StatusInternalServerError
	StatusBadGateway          = fasthttp.StatusBadGateway
	StatusServiceUnavailable  = fasthttp.StatusServiceUnavailable
	StatusGatewayTimeout      = fasthttp.StatusGatewayTimeout
)

// StatusText returns the reason phrase for the status code.
func StatusText(code int) string {
	return fasthttp.StatusMessage(code)
}
