package apihandlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"discowatch/internal/app"
	"discowatch/internal/models"
	"discowatch/internal/poller"
	"discowatch/internal/services"
)

type APIHandler struct {
	App *app.App
}

func NewAPIHandler(app *app.App) *APIHandler {
	return &APIHandler{App: app}
}

// StartWatchRequest is the body of POST /api/v1/watches.
type StartWatchRequest struct {
	Kind                 string `json:"kind" binding:"required"`
	EnvironmentID        string `json:"environment_id"`
	CollectionID         string `json:"collection_id" binding:"required"`
	DocumentID           string `json:"document_id"`
	IntervalSeconds      int    `json:"interval_seconds"`
	MaxChecks            int    `json:"max_checks"`
	MaxConsecutiveErrors int    `json:"max_consecutive_errors"`
	TimeoutSeconds       int    `json:"timeout_seconds"`
	Async                bool   `json:"async"` // run the cycles on the worker
}

type StartWatchResponse struct {
	Watch   models.Watch `json:"watch"`
	Existed bool         `json:"existed"`
}

// CheckSourceMiddleware tags status checks made by API requests.
func CheckSourceMiddleware(c *gin.Context) {
	c.Request = c.Request.WithContext(services.WithCheckSource(c.Request.Context(), models.CheckSourceAPI))
	c.Next()
}

func (h *APIHandler) StartWatchHandler(c *gin.Context) {
	res, opts, async, err := h.parseStartWatchRequest(c)
	if err != nil {
		BadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	if async {
		w, err := h.App.WatchService.Enqueue(ctx, res, opts)
		if err != nil {
			respondWithServiceError(c, "StartWatchHandler", err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"data": StartWatchResponse{Watch: w}})
		return
	}

	w, existed, err := h.App.WatchService.Start(ctx, res, opts)
	if err != nil {
		respondWithServiceError(c, "StartWatchHandler", err)
		return
	}
	status := http.StatusAccepted
	if existed {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"data": StartWatchResponse{Watch: w, Existed: existed}})
}

// parseStartWatchRequest parses the JSON body into a resource and poll overrides.
func (h *APIHandler) parseStartWatchRequest(c *gin.Context) (models.Resource, services.WatchOptions, bool, error) {
	var req StartWatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return models.Resource{}, services.WatchOptions{}, false, err
	}
	if req.IntervalSeconds < 0 || req.MaxChecks < 0 || req.MaxConsecutiveErrors < 0 || req.TimeoutSeconds < 0 {
		return models.Resource{}, services.WatchOptions{}, false, fmt.Errorf("interval, max_checks, max_consecutive_errors and timeout must not be negative")
	}
	res, err := h.resource(req.Kind, req.EnvironmentID, req.CollectionID, req.DocumentID)
	if err != nil {
		return models.Resource{}, services.WatchOptions{}, false, err
	}
	opts := services.WatchOptions{
		Config: poller.Config{
			Interval:             time.Duration(req.IntervalSeconds) * time.Second,
			MaxChecks:            req.MaxChecks,
			MaxConsecutiveErrors: req.MaxConsecutiveErrors,
		},
		Timeout: time.Duration(req.TimeoutSeconds) * time.Second,
	}
	return res, opts, req.Async, nil
}

// resource builds and validates a resource, defaulting the environment from config.
func (h *APIHandler) resource(kind, environmentID, collectionID, documentID string) (models.Resource, error) {
	k, err := models.ParseKind(kind)
	if err != nil {
		return models.Resource{}, err
	}
	if environmentID == "" {
		environmentID = h.App.Config.Discovery.EnvironmentID
	}
	res := models.Resource{Kind: k, EnvironmentID: environmentID, CollectionID: collectionID, DocumentID: documentID}
	return res, res.Validate()
}

func (h *APIHandler) ListWatchesHandler(c *gin.Context) {
	watches, err := h.App.WatchService.List(c.Request.Context())
	if err != nil {
		Internal(c, fmt.Sprintf("ListWatchesHandler: failed to list watches: %v", err))
		return
	}
	if watches == nil {
		watches = []models.Watch{}
	}
	c.JSON(http.StatusOK, gin.H{"data": watches})
}

func (h *APIHandler) GetWatchHandler(c *gin.Context) {
	id, err := parseWatchIDFromRequest(c)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	w, err := h.App.WatchService.Get(c.Request.Context(), id)
	if err != nil {
		respondWithServiceError(c, "GetWatchHandler", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": w})
}

func (h *APIHandler) CancelWatchHandler(c *gin.Context) {
	id, err := parseWatchIDFromRequest(c)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()
	w, err := h.App.WatchService.Cancel(ctx, id)
	if err != nil {
		respondWithServiceError(c, "CancelWatchHandler", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": w})
}

func (h *APIHandler) WatchChecksHandler(c *gin.Context) {
	id, err := parseWatchIDFromRequest(c)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	limit, err := parseLimit(c)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	checks, err := h.App.WatchService.WatchHistory(c.Request.Context(), id, limit)
	if err != nil {
		respondWithServiceError(c, "WatchChecksHandler", err)
		return
	}
	h.respondWithChecks(c, checks)
}

// StatusHandler performs one status request. Query: kind, environment_id, collection_id, document_id.
func (h *APIHandler) StatusHandler(c *gin.Context) {
	res, err := h.resource(c.Query("kind"), c.Query("environment_id"), c.Query("collection_id"), c.Query("document_id"))
	if err != nil {
		BadRequest(c, "Invalid query parameters: "+err.Error())
		return
	}
	status, err := h.App.WatchService.CheckStatus(c.Request.Context(), res)
	if err != nil {
		respondWithServiceError(c, "StatusHandler", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"resource": res,
		"status":   status,
		"outcome":  services.EvaluatorFor(res.Kind)(status).String(),
	}})
}

// HistoryHandler lists recorded checks, optionally for one resource.
func (h *APIHandler) HistoryHandler(c *gin.Context) {
	limit, err := parseLimit(c)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	var resPtr *models.Resource
	if c.Query("kind") != "" {
		res, err := h.resource(c.Query("kind"), c.Query("environment_id"), c.Query("collection_id"), c.Query("document_id"))
		if err != nil {
			BadRequest(c, "Invalid query parameters: "+err.Error())
			return
		}
		resPtr = &res
	}
	checks, err := h.App.WatchService.History(c.Request.Context(), resPtr, limit)
	if err != nil {
		respondWithServiceError(c, "HistoryHandler", err)
		return
	}
	h.respondWithChecks(c, checks)
}

func (h *APIHandler) HealthHandler(c *gin.Context) {
	if err := h.App.History.Ping(c.Request.Context()); err != nil {
		Unavailable(c, "history store: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *APIHandler) respondWithChecks(c *gin.Context, checks []*models.StatusCheck) {
	if checks == nil {
		checks = []*models.StatusCheck{}
	}
	c.JSON(http.StatusOK, gin.H{"data": checks})
}

func parseWatchIDFromRequest(c *gin.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid watch id: %s", c.Param("id"))
	}
	return id, nil
}

func parseLimit(c *gin.Context) (int, error) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed <= 0 {
			return 0, fmt.Errorf("invalid limit: %s", l)
		}
		limit = parsed
	}
	return limit, nil
}
