package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/reelhouse/internal/model"
	"github.com/sakif/reelhouse/internal/service"
)

type FollowHandler struct {
	follows *service.FollowService
	logger  *slog.Logger
}

func NewFollowHandler(follows *service.FollowService, logger *slog.Logger) *FollowHandler {
	return &FollowHandler{follows: follows, logger: logger}
}

// HandleFollow makes the caller follow {id}.
//
// HTTP: PUT /api/users/{id}/follow
func (h *FollowHandler) HandleFollow(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	if err := h.follows.Follow(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"following": true})
}

// HandleUnfollow.
//
// HTTP: DELETE /api/users/{id}/follow
func (h *FollowHandler) HandleUnfollow(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	if err := h.follows.Unfollow(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"following": false})
}

type followCountsResponse struct {
	model.FollowCounts
	// Whether the caller follows {id}; omitted on the caller's own profile.
	IsFollowing *bool `json:"isFollowing,omitempty"`
}

// HandleCounts returns follower and following counts for {id}.
//
// HTTP: GET /api/users/{id}/follows
func (h *FollowHandler) HandleCounts(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	targetID := chi.URLParam(r, "id")

	counts, err := h.follows.Counts(r.Context(), targetID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	resp := followCountsResponse{FollowCounts: counts}
	if targetID != userID {
		following, err := h.follows.IsFollowing(r.Context(), userID, targetID)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		resp.IsFollowing = &following
	}
	writeJSON(w, http.StatusOK, resp)
}
