package handler

import (
	"net/http"

	mw "github.com/lisperz/frazo/internal/api/middleware"
	"github.com/lisperz/frazo/internal/api/response"
	"github.com/lisperz/frazo/internal/store"
	"github.com/lisperz/frazo/pkg/models"
)

const ledgerLimit = 20

// NewCreditsHandler returns the handler for GET /api/v1/credits: the current
// balance plus the most recent ledger entries.
func NewCreditsHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		user, err := s.GetUser(r.Context(), userID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load account", nil)
			return
		}

		entries, err := s.ListLedgerEntries(r.Context(), userID, ledgerLimit)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load ledger", nil)
			return
		}
		if entries == nil {
			entries = []*models.LedgerEntry{}
		}

		response.JSON(w, map[string]any{
			"credits": user.Credits,
			"ledger":  entries,
		})
	}
}
