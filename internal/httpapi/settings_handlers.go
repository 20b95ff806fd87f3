package httpapi

import (
	"net/http"

	"github.com/lhbill/assppweb/internal/model"
)

type settingsResponse struct {
	AutoCleanupDays  int     `json:"autoCleanupDays"`
	AutoCleanupMaxMB int     `json:"autoCleanupMaxMB"`
	TotalSizeMB      float64 `json:"totalSizeMB,omitempty"`
	BuildCommit      string  `json:"buildCommit,omitempty"`
	BuildDate        string  `json:"buildDate,omitempty"`
}

// getSettings reports the persisted cleanup tunables plus storage
// totals and build metadata, per spec.md §6. It deliberately builds
// its response from only the config and blob store — nothing from the
// inbound request is reflected back, satisfying "must never echo
// request headers".
func (a *api) getSettings(w http.ResponseWriter, r *http.Request) {
	cfg, err := a.deps.Tasks.GetConfig(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	totalBytes, err := a.totalArtifactBytes(r)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, settingsResponse{
		AutoCleanupDays:  cfg.AutoCleanupDays,
		AutoCleanupMaxMB: cfg.AutoCleanupMaxMB,
		TotalSizeMB:      float64(totalBytes) / (1024 * 1024),
		BuildCommit:      a.deps.Config.Build.Commit,
		BuildDate:        a.deps.Config.Build.Date,
	})
}

// totalArtifactBytes pages through the packages/ prefix the same way
// the janitor's listing phase does (spec.md §4.G), so GET /settings
// reports the same total the sweep would act on.
func (a *api) totalArtifactBytes(r *http.Request) (int64, error) {
	const pageSize = 1000
	var total int64
	cursor := ""
	for {
		page, err := a.deps.Blobs.List(r.Context(), "packages/", cursor, pageSize)
		if err != nil {
			return 0, err
		}
		for _, info := range page.Keys {
			total += info.Size
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	return total, nil
}

type putSettingsRequest struct {
	AutoCleanupDays  int `json:"autoCleanupDays"`
	AutoCleanupMaxMB int `json:"autoCleanupMaxMB"`
}

func (a *api) putSettings(w http.ResponseWriter, r *http.Request) {
	var req putSettingsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	cfg := model.CleanupConfig{AutoCleanupDays: req.AutoCleanupDays, AutoCleanupMaxMB: req.AutoCleanupMaxMB}
	if err := a.deps.Tasks.SetConfig(r.Context(), cfg); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}
