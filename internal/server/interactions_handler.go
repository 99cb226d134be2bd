package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/dagbolade/trust-proxy/internal/store"
)

type InteractionsHandler struct {
	store store.Store
}

func NewInteractionsHandler(st store.Store) *InteractionsHandler {
	return &InteractionsHandler{store: st}
}

// GetInteractions returns the ordered history of a chat with taint and
// refusal flags.
func (h *InteractionsHandler) GetInteractions(c echo.Context) error {
	ctx := c.Request().Context()
	chatID := c.Param("chatId")

	entries, err := h.store.Interactions(ctx, chatID)
	if err != nil {
		log.Error().Err(err).Str("chat_id", chatID).Str("remote_addr", c.Request().RemoteAddr).Msg("failed to retrieve interactions")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to retrieve interactions",
		})
	}

	tainted := false
	for _, e := range entries {
		tainted = tainted || e.Tainted
	}

	return c.JSON(http.StatusOK, map[string]any{
		"chat_id":      chatID,
		"total":        len(entries),
		"tainted":      tainted,
		"interactions": entries,
	})
}
