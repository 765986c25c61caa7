package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/sakif/reelhouse/internal/model"
	"github.com/sakif/reelhouse/internal/service"
)

// ActivityHandler serves the watch log and its aggregations.
type ActivityHandler struct {
	activity *service.ActivityService
	logger   *slog.Logger
}

func NewActivityHandler(activity *service.ActivityService, logger *slog.Logger) *ActivityHandler {
	return &ActivityHandler{activity: activity, logger: logger}
}

type logActivityRequest struct {
	ActivityType string          `json:"activityType" validate:"required,oneof=movie_watched series_watched"`
	ActivityDate string          `json:"activityDate" validate:"required"`
	ContentID    *int64          `json:"contentId,omitempty" validate:"omitempty,gt=0"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
}

type logActivityResponse struct {
	Success  bool                `json:"success"`
	Activity *model.UserActivity `json:"activity"`
}

// HandleLog appends one activity for the caller.
//
// HTTP: POST /api/activity/log
// REQUEST BODY: {"activityType": "movie_watched", "activityDate": "2024-03-14", "contentId": 550, "metadata": {...}}
func (h *ActivityHandler) HandleLog(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	var req logActivityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	a, err := h.activity.LogActivity(r.Context(), service.LogActivityInput{
		UserID:       userID,
		ActivityType: req.ActivityType,
		ActivityDate: req.ActivityDate,
		ContentID:    req.ContentID,
		Metadata:     req.Metadata,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, logActivityResponse{Success: true, Activity: a})
}

// HandleStats returns the caller's activity counts.
//
// HTTP: GET /api/activity/stats
func (h *ActivityHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	stats, err := h.activity.GetUserActivityStats(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// HandleHeatmap returns the caller's heatmap. Without ?month it covers the
// previous and current month.
//
// HTTP: GET /api/activity/heatmap?month=YYYY-MM
func (h *ActivityHandler) HandleHeatmap(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var (
		heatmap *model.Heatmap
		err     error
	)
	if month := r.URL.Query().Get("month"); month != "" {
		heatmap, err = h.activity.GetHeatmapDataForMonth(r.Context(), userID, month)
	} else {
		heatmap, err = h.activity.GetHeatmapData(r.Context(), userID)
	}
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, heatmap)
}
