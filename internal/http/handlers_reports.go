package http

import (
	"net/http"

	"tally/internal/reports"
)

// handleReport serves ?type=daily|weekly|monthly spending summaries. Results
// are cached per user and bucket; any ledger mutation by the user drops their
// cached reports.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	bucket, err := reports.ParseBucket(r.URL.Query().Get("type"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	uid := userID(r.Context())
	key := reportCachePrefix(uid) + string(bucket)

	if report, ok := s.reportCache.Get(key); ok {
		writeJSON(w, http.StatusOK, report)
		return
	}

	report, err := s.reports.Spending(r.Context(), uid, bucket)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.reportCache.Set(key, report)
	writeJSON(w, http.StatusOK, report)
}
