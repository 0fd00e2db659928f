package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/liveplay/engine/apperrors"
	"github.com/liveplay/engine/internal/service"
	"github.com/liveplay/engine/logger"
)

type EngineHandler struct {
	service service.EngineService
	logger  *logger.Logger
}

func NewEngineHandler(svc service.EngineService, log *logger.Logger) *EngineHandler {
	return &EngineHandler{
		service: svc,
		logger:  log.With("component", "handler"),
	}
}

func (h *EngineHandler) CreateSession(c *gin.Context) {
	var req service.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.Wrap(err, apperrors.CodeInvalidInput, "invalid session payload"))
		return
	}

	cfg, appErr := h.service.CreateSession(c.Request.Context(), req)
	if appErr != nil {
		writeError(c, appErr)
		return
	}

	c.JSON(http.StatusCreated, cfg)
}

func (h *EngineHandler) Transition(c *gin.Context) {
	var req service.TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.Wrap(err, apperrors.CodeInvalidInput, "invalid transition payload"))
		return
	}
	req.SessionId = c.Param("sessionId")

	result, appErr := h.service.Transition(c.Request.Context(), req)
	if appErr != nil {
		writeError(c, appErr)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *EngineHandler) Register(c *gin.Context) {
	var req service.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.Wrap(err, apperrors.CodeInvalidInput, "invalid registration payload"))
		return
	}
	req.SessionId = c.Param("sessionId")

	if req.Identity == "" {
		writeError(c, apperrors.New(apperrors.CodeInvalidInput, "identity is required"))
		return
	}

	participant, appErr := h.service.Register(c.Request.Context(), req)
	if appErr != nil {
		writeError(c, appErr)
		return
	}

	c.JSON(http.StatusCreated, participant)
}

func (h *EngineHandler) Start(c *gin.Context) {
	participant, appErr := h.service.Start(c.Request.Context(), c.Param("sessionId"), c.Param("participantId"))
	if appErr != nil {
		writeError(c, appErr)
		return
	}

	c.JSON(http.StatusOK, participant)
}

func (h *EngineHandler) Status(c *gin.Context) {
	status, appErr := h.service.Status(c.Request.Context(), c.Param("sessionId"), c.Param("participantId"))
	if appErr != nil {
		writeError(c, appErr)
		return
	}

	c.JSON(http.StatusOK, status)
}

func (h *EngineHandler) Submit(c *gin.Context) {
	var req service.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeRejection(c, apperrors.Wrap(err, apperrors.CodeInvalidInput, "invalid submission payload"))
		return
	}
	req.SessionId = c.Param("sessionId")

	if req.ParticipantId == "" || req.TargetValue == "" {
		writeRejection(c, apperrors.New(apperrors.CodeInvalidInput, "participant_id and target_value are required"))
		return
	}

	result, appErr := h.service.Submit(c.Request.Context(), req)
	if appErr != nil {
		writeRejection(c, appErr)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *EngineHandler) Leaderboard(c *gin.Context) {
	q := service.LeaderboardQuery{
		SessionId:   c.Param("sessionId"),
		GroupFilter: c.Query("group"),
		RequesterId: c.Query("participant_id"),
	}
	if limit, ok := intQuery(c, "limit"); ok {
		q.Limit = limit
	}

	view, appErr := h.service.Leaderboard(c.Request.Context(), q)
	if appErr != nil {
		writeError(c, appErr)
		return
	}

	c.JSON(http.StatusOK, view)
}

func intQuery(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, false
	}
	n := 0
	for _, r := range raw {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}

// errorBody is the error shape every endpoint shares: a stable machine code
// plus whatever context the engine attached (expected index, retry delay,
// the original award on a duplicate).
type errorBody struct {
	Reason  string         `json:"reason"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

// rejectionBody is the submission contract's error shape; the accepted flag
// belongs to submit responses only.
type rejectionBody struct {
	Accepted bool `json:"accepted"`
	errorBody
}

func writeError(c *gin.Context, err error) {
	appErr := apperrors.FromError(err)
	c.JSON(apperrors.ToHTTPStatus(appErr.Code), errorBody{
		Reason:  appErr.Code,
		Message: appErr.Message,
		Context: appErr.Context,
	})
}

func writeRejection(c *gin.Context, err error) {
	appErr := apperrors.FromError(err)
	c.JSON(apperrors.ToHTTPStatus(appErr.Code), rejectionBody{
		errorBody: errorBody{
			Reason:  appErr.Code,
			Message: appErr.Message,
			Context: appErr.Context,
		},
	})
}
