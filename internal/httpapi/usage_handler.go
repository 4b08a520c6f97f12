package httpapi

import (
	"bytes"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"moxie_companion/internal/models"
	"moxie_companion/internal/usage"
	"moxie_companion/internal/utils"
)

// parseUsageFilter reads child, feature, from, to and limit query parameters.
// Dates are RFC 3339 or YYYY-MM-DD; a bare "to" date covers the whole day.
func parseUsageFilter(q url.Values) (usage.Filter, error) {
	filter := usage.Filter{ChildID: q.Get("child")}

	if f := q.Get("feature"); f != "" {
		feature := models.Feature(f)
		if !feature.Valid() {
			return filter, fmt.Errorf("unknown feature %q", f)
		}
		filter.Feature = feature
	}

	var err error
	if filter.From, err = parseTime(q.Get("from"), false); err != nil {
		return filter, fmt.Errorf("invalid from: %w", err)
	}
	if filter.To, err = parseTime(q.Get("to"), true); err != nil {
		return filter, fmt.Errorf("invalid to: %w", err)
	}

	if l := q.Get("limit"); l != "" {
		limit, err := strconv.Atoi(l)
		if err != nil || limit < 0 {
			return filter, fmt.Errorf("invalid limit %q", l)
		}
		filter.Limit = limit
	}
	return filter, nil
}

func parseTime(v string, endOfDay bool) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func (d *Dependencies) handleUsageStats(w http.ResponseWriter, r *http.Request) {
	filter, err := parseUsageFilter(r.URL.Query())
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	stats, err := d.Dashboard.Stats(r.Context(), filter, d.now())
	if err != nil {
		d.logger.Error("Failed to compute usage stats", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to load usage")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, stats)
}

func (d *Dependencies) handleUsageRecords(w http.ResponseWriter, r *http.Request) {
	filter, err := parseUsageFilter(r.URL.Query())
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := d.Dashboard.Records(r.Context(), filter)
	if err != nil {
		d.logger.Error("Failed to list usage records", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to load usage")
		return
	}
	if records == nil {
		records = []models.UsageRecord{}
	}
	utils.RespondWithJSON(w, http.StatusOK, records)
}

// handleUsageExport streams the matching records as CSV, or uploads them to
// the archive with ?archive=true.
func (d *Dependencies) handleUsageExport(w http.ResponseWriter, r *http.Request) {
	filter, err := parseUsageFilter(r.URL.Query())
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	archive, _ := strconv.ParseBool(r.URL.Query().Get("archive"))
	if archive && d.Archiver == nil {
		utils.RespondWithError(w, http.StatusServiceUnavailable, "Usage archive is not configured")
		return
	}

	records, err := d.Dashboard.Records(r.Context(), filter)
	if err != nil {
		d.logger.Error("Failed to list usage records", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to load usage")
		return
	}

	if archive {
		location, err := d.Archiver.Archive(r.Context(), records)
		if err != nil {
			d.logger.Error("Failed to archive usage export", "error", err)
			utils.RespondWithError(w, http.StatusBadGateway, "Failed to archive usage export")
			return
		}
		d.logger.Info("Usage export archived", "location", location, "records", len(records))
		utils.RespondWithJSON(w, http.StatusOK, map[string]any{"location": location, "records": len(records)})
		return
	}

	var buf bytes.Buffer
	if err := usage.ExportCSV(&buf, records); err != nil {
		d.logger.Error("Failed to export usage", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to export usage")
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+usage.ExportFilename(d.now())+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (d *Dependencies) handleUsageCleanup(w http.ResponseWriter, r *http.Request) {
	removed, err := d.Dashboard.ClearOld(r.Context(), d.now())
	if err != nil {
		d.logger.Error("Failed to clear old usage", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to clear old usage")
		return
	}
	d.logger.Info("Old usage records cleared", "removed", removed)
	utils.RespondWithJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}
