package handlers

import (
	"context"

	"github.com/fasthttp/router"
	"github.com/nimasrn/sponsorship-gateway/internal/model"
	xhttp "github.com/nimasrn/sponsorship-gateway/pkg/http"
)

type ApplicationService interface {
	Submit(ctx context.Context, actor model.Actor, payload model.ApplicationPayload) (*model.Application, error)
	Resubmit(ctx context.Context, actor model.Actor, id string, payload model.ApplicationPayload) (*model.Application, error)
	StartReview(ctx context.Context, actor model.Actor, id string) (*model.Application, error)
	Approve(ctx context.Context, actor model.Actor, id string) (*model.Application, error)
	Reject(ctx context.Context, actor model.Actor, id, reason string) (*model.Application, error)
	MarkIncomplete(ctx context.Context, actor model.Actor, id, reason string) (*model.Application, error)
	Forward(ctx context.Context, actor model.Actor, id string) (*model.Application, error)
	Delete(ctx context.Context, actor model.Actor, id string, confirmed bool) error
	Get(ctx context.Context, actor model.Actor, id string) (*model.Application, error)
	List(ctx context.Context, actor model.Actor, filter model.ApplicationFilter) ([]*model.Application, error)
	History(ctx context.Context, actor model.Actor, id string) ([]*model.StatusHistory, error)
}

type PublicationService interface {
	Publish(ctx context.Context, actor model.Actor, applicationID string) (*model.StudentProfile, error)
	Student(ctx context.Context, id string) (*model.StudentProfile, error)
}

type ApplicationHandler struct {
	apps        ApplicationService
	publication PublicationService
}

func RegisterApplicationRoutes(e *router.Group, h *ApplicationHandler) {
	e.POST("/applications", h.Submit)
	e.GET("/applications", h.List)
	e.GET("/applications/{id}", h.Get)
	e.GET("/applications/{id}/history", h.History)
	e.PUT("/applications/{id}/review", h.StartReview)
	e.PUT("/applications/{id}/approve", h.Approve)
	e.PUT("/applications/{id}/reject", h.Reject)
	e.PUT("/applications/{id}/mark-incomplete", h.MarkIncomplete)
	e.PUT("/applications/{id}/forward", h.Forward)
	e.PUT("/applications/{id}/resubmit", h.Resubmit)
	e.DELETE("/applications/{id}", h.Delete)
	e.POST("/applications/{id}/post-student", h.PostStudent)
	e.GET("/students/{id}", h.GetStudent)
}

func NewApplicationHandler(apps ApplicationService, publication PublicationService) *ApplicationHandler {
	return &ApplicationHandler{apps: apps, publication: publication}
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type listApplicationsResponse struct {
	Items []*model.Application `json:"items"`
	Total int                  `json:"total"`
}

func (h *ApplicationHandler) Submit(ctx *xhttp.RequestCtx) {
	a, ok := requireActor(ctx)
	if !ok {
		return
	}
	var payload model.ApplicationPayload
	if err := readJSON(ctx, &payload); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	app, err := h.apps.Submit(ctx, a, payload)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusCreated, app)
}

func (h *ApplicationHandler) Resubmit(ctx *xhttp.RequestCtx) {
	a, ok := requireActor(ctx)
	if !ok {
		return
	}
	var payload model.ApplicationPayload
	if err := readJSON(ctx, &payload); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	app, err := h.apps.Resubmit(ctx, a, pathParam(ctx, "id"), payload)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, app)
}

func (h *ApplicationHandler) List(ctx *xhttp.RequestCtx) {
	a, ok := requireActor(ctx)
	if !ok {
		return
	}
	statuses, err := model.ParseStatusList(query(ctx, "status"))
	if err != nil {
		writeError(ctx, xhttp.StatusBadRequest, err.Error())
		return
	}
	filter := model.ApplicationFilter{
		Statuses: statuses,
		Limit:    queryInt(ctx, "limit"),
		Offset:   queryInt(ctx, "offset"),
	}
	items, err := h.apps.List(ctx, a, filter)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	if items == nil {
		items = []*model.Application{}
	}
	writeJSON(ctx, xhttp.StatusOK, listApplicationsResponse{Items: items, Total: len(items)})
}

func (h *ApplicationHandler) Get(ctx *xhttp.RequestCtx) {
	a, ok := requireActor(ctx)
	if !ok {
		return
	}
	app, err := h.apps.Get(ctx, a, pathParam(ctx, "id"))
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, app)
}

func (h *ApplicationHandler) History(ctx *xhttp.RequestCtx) {
	a, ok := requireActor(ctx)
	if !ok {
		return
	}
	rows, err := h.apps.History(ctx, a, pathParam(ctx, "id"))
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, rows)
}

// transition runs one of the reason-less moves.
func (h *ApplicationHandler) transition(ctx *xhttp.RequestCtx, move func(context.Context, model.Actor, string) (*model.Application, error)) {
	a, ok := requireActor(ctx)
	if !ok {
		return
	}
	app, err := move(ctx, a, pathParam(ctx, "id"))
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, app)
}

func (h *ApplicationHandler) StartReview(ctx *xhttp.RequestCtx) { h.transition(ctx, h.apps.StartReview) }

func (h *ApplicationHandler) Approve(ctx *xhttp.RequestCtx) { h.transition(ctx, h.apps.Approve) }

func (h *ApplicationHandler) Forward(ctx *xhttp.RequestCtx) { h.transition(ctx, h.apps.Forward) }

func (h *ApplicationHandler) Reject(ctx *xhttp.RequestCtx) { h.closeWithReason(ctx, h.apps.Reject) }

func (h *ApplicationHandler) MarkIncomplete(ctx *xhttp.RequestCtx) {
	h.closeWithReason(ctx, h.apps.MarkIncomplete)
}

func (h *ApplicationHandler) closeWithReason(ctx *xhttp.RequestCtx, move func(context.Context, model.Actor, string, string) (*model.Application, error)) {
	a, ok := requireActor(ctx)
	if !ok {
		return
	}
	var req reasonRequest
	if len(ctx.PostBody()) > 0 {
		if err := readJSON(ctx, &req); err != nil {
			writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
	}
	app, err := move(ctx, a, pathParam(ctx, "id"), req.Reason)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, app)
}

func (h *ApplicationHandler) Delete(ctx *xhttp.RequestCtx) {
	a, ok := requireActor(ctx)
	if !ok {
		return
	}
	confirmed := query(ctx, "confirm") == "true"
	if err := h.apps.Delete(ctx, a, pathParam(ctx, "id"), confirmed); err != nil {
		writeServiceError(ctx, err)
		return
	}
	ctx.Response.SetStatusCode(xhttp.StatusNoContent)
}

func (h *ApplicationHandler) PostStudent(ctx *xhttp.RequestCtx) {
	a, ok := requireActor(ctx)
	if !ok {
		return
	}
	student, err := h.publication.Publish(ctx, a, pathParam(ctx, "id"))
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusCreated, student)
}

func (h *ApplicationHandler) GetStudent(ctx *xhttp.RequestCtx) {
	student, err := h.publication.Student(ctx, pathParam(ctx, "id"))
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, student)
}
