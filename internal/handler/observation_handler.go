package handler

import (
	"context"
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-observation-api/internal/dto"
	"github.com/noah-isme/sma-observation-api/internal/models"
	"github.com/noah-isme/sma-observation-api/internal/service"
	"github.com/noah-isme/sma-observation-api/pkg/bucket"
	appErrors "github.com/noah-isme/sma-observation-api/pkg/errors"
	"github.com/noah-isme/sma-observation-api/pkg/response"
)

// ObservationHandler serves the observation screens of a client session.
type ObservationHandler struct {
	defs        []service.Definition
	now         func() time.Time
	loadTimeout time.Duration
	heartbeat   time.Duration
}

// NewObservationHandler constructs the handler over the observation catalog.
func NewObservationHandler(defs []service.Definition) *ObservationHandler {
	return &ObservationHandler{
		defs:        defs,
		now:         time.Now,
		loadTimeout: 2 * time.Second,
		heartbeat:   25 * time.Second,
	}
}

// Catalog godoc
// @Summary Observation catalog
// @Description List the observation types the session may open
// @Tags Observations
// @Produce json
// @Param X-Client-Session header string true "Client session id"
// @Success 200 {object} response.Envelope
// @Router /observations [get]
func (h *ObservationHandler) Catalog(c *gin.Context) {
	session := sessionFromContext(c)
	if session == nil {
		return
	}
	now := h.now()
	views := make([]dto.DefinitionView, 0, len(h.defs))
	for _, def := range h.defs {
		if !session.Allows(def.Screen) {
			continue
		}
		view := dto.DefinitionView{
			Type:        def.Type,
			Title:       def.Title,
			Screen:      def.Screen,
			Granularity: string(def.Granularity),
			CurrentKey:  bucket.Current(def.Granularity, now),
			Writers:     def.Writers,
			Defaults:    def.InitialFields(),
		}
		if def.Approval != nil {
			view.Approval = &dto.ApprovalView{Requesters: def.Approval.Requesters, Approver: def.Approval.Approver}
		}
		if def.Entries != nil {
			view.EntryField = def.Entries.ListField
		}
		views = append(views, view)
	}
	response.OK(c, views)
}

// Records godoc
// @Summary Observation history
// @Description Return the live history and metrics of one observation type
// @Tags Observations
// @Produce json
// @Param X-Client-Session header string true "Client session id"
// @Param type path string true "Observation type"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /observations/{type}/records [get]
func (h *ObservationHandler) Records(c *gin.Context) {
	manager, _, ok := h.manager(c)
	if !ok {
		return
	}
	if !waitLoaded(c.Request.Context(), manager, h.loadTimeout) {
		if err := manager.LastError(); err != nil {
			response.Error(c, err)
			return
		}
	}
	response.OK(c, historyResponse(manager))
}

// Stream godoc
// @Summary Stream observation history
// @Description Server-sent events carrying the history after every change
// @Tags Observations
// @Produce text/event-stream
// @Param session query string true "Client session id"
// @Param type path string true "Observation type"
// @Router /observations/{type}/stream [get]
func (h *ObservationHandler) Stream(c *gin.Context) {
	manager, _, ok := h.manager(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	changed := make(chan struct{}, 1)
	release := manager.OnChange(func([]models.Record) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer release()
	waitLoaded(ctx, manager, h.loadTimeout)

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	first := true

	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(io.Writer) bool {
		if first {
			first = false
			c.SSEvent("history", historyResponse(manager))
			return true
		}
		select {
		case <-changed:
			c.SSEvent("history", historyResponse(manager))
			return true
		case <-ticker.C:
			c.SSEvent("ping", time.Now().UTC())
			return true
		case <-ctx.Done():
			return false
		}
	})
}

// Upsert godoc
// @Summary Upsert bucket record
// @Description Merge fields into the record of one bucket, creating it when absent
// @Tags Observations
// @Accept json
// @Produce json
// @Param X-Client-Session header string true "Client session id"
// @Param type path string true "Observation type"
// @Param bucket path string true "Bucket key (YYYY-MM-DD or YYYY-MM)"
// @Param payload body models.UpsertRecordRequest true "Fields"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /observations/{type}/records/{bucket} [put]
func (h *ObservationHandler) Upsert(c *gin.Context) {
	manager, session, ok := h.manager(c)
	if !ok {
		return
	}
	var req models.UpsertRecordRequest
	if !bindJSON(c, &req, "record") {
		return
	}
	record, err := manager.UpsertForBucket(c.Request.Context(), session.Actor(), c.Param("bucket"), req.Fields)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, record)
}

// AppendEntry godoc
// @Summary Append bucket entry
// @Description Add one entry to the bucket's list and refresh its count
// @Tags Observations
// @Accept json
// @Produce json
// @Param X-Client-Session header string true "Client session id"
// @Param type path string true "Observation type"
// @Param bucket path string true "Bucket key"
// @Param payload body dto.AppendEntryRequest true "Entry"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /observations/{type}/records/{bucket}/entries [post]
func (h *ObservationHandler) AppendEntry(c *gin.Context) {
	manager, session, ok := h.manager(c)
	if !ok {
		return
	}
	var req dto.AppendEntryRequest
	if !bindJSON(c, &req, "entry") {
		return
	}
	record, err := manager.AppendEntry(c.Request.Context(), session.Actor(), c.Param("bucket"), req.Entry)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, record)
}

// RequestApproval godoc
// @Summary Request approval
// @Description Open a pending approval request for a bucket
// @Tags Observations
// @Accept json
// @Produce json
// @Param X-Client-Session header string true "Client session id"
// @Param type path string true "Observation type"
// @Param payload body models.ApprovalRequest true "Request"
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /observations/{type}/requests [post]
func (h *ObservationHandler) RequestApproval(c *gin.Context) {
	manager, session, ok := h.manager(c)
	if !ok {
		return
	}
	var req models.ApprovalRequest
	if !bindJSON(c, &req, "approval request") {
		return
	}
	record, err := manager.RequestApproval(c.Request.Context(), session.Actor(), req.BucketKey, req.Fields)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, record)
}

// Decide godoc
// @Summary Decide approval request
// @Tags Observations
// @Accept json
// @Produce json
// @Param X-Client-Session header string true "Client session id"
// @Param type path string true "Observation type"
// @Param id path string true "Request id"
// @Param payload body models.DecisionRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /observations/{type}/requests/{id}/decision [post]
func (h *ObservationHandler) Decide(c *gin.Context) {
	manager, session, ok := h.manager(c)
	if !ok {
		return
	}
	var req models.DecisionRequest
	if !bindJSON(c, &req, "decision") {
		return
	}
	record, err := manager.Decide(c.Request.Context(), session.Actor(), c.Param("id"), req.Decision)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, record)
}

func (h *ObservationHandler) manager(c *gin.Context) (*service.ObservationManager, *service.ClientSession, bool) {
	session := sessionFromContext(c)
	if session == nil {
		return nil, nil, false
	}
	def, ok := service.LookupDefinition(h.defs, models.ObservationType(c.Param("type")))
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "unknown observation type"))
		return nil, nil, false
	}
	if !session.Allows(def.Screen) {
		response.Error(c, appErrors.Clone(appErrors.ErrPermissionDenied, "screen is not available for this role"))
		return nil, nil, false
	}
	manager, err := session.Manager(def.Type)
	if err != nil {
		response.Error(c, err)
		return nil, nil, false
	}
	return manager, session, true
}

func historyResponse(manager *service.ObservationManager) dto.HistoryResponse {
	return dto.HistoryResponse{
		Type:    manager.Definition().Type,
		Loaded:  manager.Loaded(),
		Records: manager.History(),
		Metrics: manager.Metrics(),
	}
}

// waitLoaded blocks until the manager has its first snapshot or timeout passes.
func waitLoaded(ctx context.Context, manager *service.ObservationManager, timeout time.Duration) bool {
	if manager.Loaded() {
		return true
	}
	ready := make(chan struct{}, 1)
	release := manager.OnChange(func([]models.Record) {
		select {
		case ready <- struct{}{}:
		default:
		}
	})
	defer release()
	if manager.Loaded() {
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	select {
	case <-ready:
		return true
	case <-ctx.Done():
		return manager.Loaded()
	}
}
