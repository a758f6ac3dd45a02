package server

import (
	"encoding/json"
	"net/http"

	"github.com/jacklau/issuesla/internal/stats"
)

// handleIssueStatistics serves GET /api/issue-statistics?from=&to=&repo=.
func (h *Handler) handleIssueStatistics(w http.ResponseWriter, r *http.Request) {
	q := stats.Query{Repo: r.URL.Query().Get("repo")}

	if s := r.URL.Query().Get("from"); s != "" {
		from, err := stats.ParseDate(s)
		if err != nil {
			h.writeError(w, "issueStatistics", stats.BadRequest(err.Error()))
			return
		}
		q.From = from
	}
	if s := r.URL.Query().Get("to"); s != "" {
		to, err := stats.ParseEndDate(s)
		if err != nil {
			h.writeError(w, "issueStatistics", stats.BadRequest(err.Error()))
			return
		}
		q.To = to
	}

	result, err := h.Stats.Compute(r.Context(), q)
	if err != nil {
		h.writeError(w, "issueStatistics", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(result)
}
