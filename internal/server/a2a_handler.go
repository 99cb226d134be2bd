package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/dagbolade/trust-proxy/internal/a2a"
	"github.com/dagbolade/trust-proxy/internal/auth"
	"github.com/dagbolade/trust-proxy/internal/llm"
	"github.com/dagbolade/trust-proxy/internal/proxy"
)

type A2AHandler struct {
	executor *a2a.Executor
}

func NewA2AHandler(executor *a2a.Executor) *A2AHandler {
	return &A2AHandler{executor: executor}
}

// Execute runs a delegated turn. An authenticated caller's organization and
// user replace whatever the body claims.
func (h *A2AHandler) Execute(c echo.Context) error {
	var req a2a.Request
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, proxy.ErrTypeInvalidRequest, "invalid request body")
	}
	req.AgentID = c.Param("agentId")
	if req.Message == "" {
		return errorJSON(c, http.StatusBadRequest, proxy.ErrTypeInvalidRequest, "message is required")
	}

	if user := auth.GetUserFromContext(c); user != nil {
		req.OrganizationID = user.OrganizationID
		req.UserID = user.ID
	}

	res, err := h.executor.Execute(c.Request().Context(), req)
	if err != nil {
		return h.failure(c, req, err)
	}

	return c.JSON(http.StatusOK, res)
}

func (h *A2AHandler) failure(c echo.Context, req a2a.Request, err error) error {
	var (
		notDelegatable *a2a.NotDelegatableError
		upstream       *llm.UpstreamError
	)
	switch {
	case errors.Is(err, a2a.ErrAgentNotFound):
		return errorJSON(c, http.StatusNotFound, proxy.ErrTypeNotFound, err.Error())
	case errors.As(err, &notDelegatable), errors.Is(err, a2a.ErrDelegationDepthExceeded):
		return errorJSON(c, http.StatusBadRequest, proxy.ErrTypeInvalidRequest, err.Error())
	case errors.As(err, &upstream):
		log.Warn().Err(err).Str("agent_id", req.AgentID).Msg("delegated turn failed upstream")
		return errorJSON(c, upstream.Status, upstream.Type, upstream.Message)
	default:
		log.Error().Err(err).Str("agent_id", req.AgentID).Msg("delegated turn failed")
		return errorJSON(c, http.StatusInternalServerError, proxy.ErrTypeInternal, "internal error")
	}
}

func errorJSON(c echo.Context, status int, errType, message string) error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return c.JSON(status, proxy.ErrorBody{Error: proxy.ErrorDetail{Message: message, Type: errType}})
}
