package httpapi

import (
	"net/http"
	"strings"

	"github.com/lhbill/assppweb/internal/apperr"
	"github.com/lhbill/assppweb/internal/model"
	"github.com/lhbill/assppweb/internal/taskstore"
)

type createDownloadRequest struct {
	Software       model.Software `json:"software"`
	AccountHash    string         `json:"accountHash"`
	DownloadURL    string         `json:"downloadUrl"`
	SINFs          []model.SINF   `json:"sinfs"`
	ITunesMetadata string         `json:"iTunesMetadata"`
}

func (a *api) createDownload(w http.ResponseWriter, r *http.Request) {
	var req createDownloadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	task, err := a.deps.Tasks.CreateTask(r.Context(), taskstore.CreateTaskParams{
		AccountHash:    req.AccountHash,
		Software:       req.Software,
		DownloadURL:    req.DownloadURL,
		SINFs:          req.SINFs,
		ITunesMetadata: req.ITunesMetadata,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// accountHashes splits the comma-separated query parameter spec.md §6
// uses for the multi-tenant list endpoints.
func accountHashes(r *http.Request) []string {
	raw := r.URL.Query().Get("accountHashes")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (a *api) listDownloads(w http.ResponseWriter, r *http.Request) {
	tasks, err := a.deps.Tasks.ListTasks(r.Context(), accountHashes(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if tasks == nil {
		tasks = []model.SanitizedTask{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (a *api) getDownload(w http.ResponseWriter, r *http.Request) {
	task, err := a.deps.Tasks.GetTask(r.Context(), taskID(r), accountHash(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if task == nil {
		writeError(w, apperr.NotFound("task not found"))
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (a *api) pauseDownload(w http.ResponseWriter, r *http.Request) {
	ok, err := a.deps.Tasks.PauseTask(r.Context(), taskID(r), accountHash(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, apperr.BadRequest("task is not in a pausable state"))
		return
	}
	a.getDownload(w, r)
}

func (a *api) resumeDownload(w http.ResponseWriter, r *http.Request) {
	ok, err := a.deps.Tasks.ResumeTask(r.Context(), taskID(r), accountHash(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, apperr.BadRequest("task is not in a resumable state"))
		return
	}
	a.getDownload(w, r)
}

func (a *api) deleteDownload(w http.ResponseWriter, r *http.Request) {
	ok, err := a.deps.Tasks.DeleteTask(r.Context(), taskID(r), accountHash(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, apperr.NotFound("task not found"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
