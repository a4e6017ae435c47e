package handlers

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/nimasrn/sponsorship-gateway/internal/model"
	"github.com/nimasrn/sponsorship-gateway/internal/services"
	xhttp "github.com/nimasrn/sponsorship-gateway/pkg/http"
	"github.com/nimasrn/sponsorship-gateway/pkg/logger"
)

const (
	HeaderActorID   = "X-Actor-Id"
	HeaderActorRole = "X-Actor-Role"
)

var errActorRequired = errors.New("actor identity required")

// actor reads the identity set by the upstream auth layer.
func actor(ctx *xhttp.RequestCtx) (model.Actor, error) {
	id := strings.TrimSpace(string(ctx.Request.Header.Peek(HeaderActorID)))
	if id == "" {
		return model.Actor{}, errActorRequired
	}
	role, err := model.ParseRole(string(ctx.Request.Header.Peek(HeaderActorRole)))
	if err != nil {
		return model.Actor{}, err
	}
	return model.Actor{ID: id, Role: role}, nil
}

// requireActor writes a 403 and returns false when no identity is present.
func requireActor(ctx *xhttp.RequestCtx) (model.Actor, bool) {
	a, err := actor(ctx)
	if err != nil {
		writeError(ctx, xhttp.StatusForbidden, err.Error())
		return model.Actor{}, false
	}
	return a, true
}

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	return json.Unmarshal(ctx.PostBody(), dst)
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	b, _ := json.Marshal(v)
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}

func writeError(ctx *xhttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, map[string]string{"error": msg})
}

// writeServiceError maps service error kinds to HTTP statuses.
func writeServiceError(ctx *xhttp.RequestCtx, err error) {
	switch {
	case errors.Is(err, services.ErrValidation):
		writeError(ctx, xhttp.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrForbidden):
		writeError(ctx, xhttp.StatusForbidden, err.Error())
	case errors.Is(err, services.ErrNotFound):
		writeError(ctx, xhttp.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrConflict):
		writeError(ctx, xhttp.StatusConflict, err.Error())
	case errors.Is(err, services.ErrProvider):
		logger.Warn("payment provider error", "path", string(ctx.Path()), "error", err)
		writeError(ctx, xhttp.StatusBadGateway, services.ErrProvider.Error())
	default:
		logger.Error("unhandled service error", "path", string(ctx.Path()), "error", err)
		writeError(ctx, xhttp.StatusInternalServerError, xhttp.StatusText(xhttp.StatusInternalServerError))
	}
}

func pathParam(ctx *xhttp.RequestCtx, name string) string {
	v, _ := ctx.UserValue(name).(string)
	return v
}

func query(ctx *xhttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}

func queryInt(ctx *xhttp.RequestCtx, key string) int {
	n, err := strconv.Atoi(query(ctx, key))
	if err != nil {
		return 0
	}
	return n
}

// amountField keeps the raw amount text, quoted or not, so validation
// happens in one place.
type amountField string

func (a *amountField) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*a = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		s = str
	}
	*a = amountField(s)
	return nil
}
