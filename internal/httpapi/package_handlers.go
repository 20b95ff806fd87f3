package httpapi

import (
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"

	"github.com/lhbill/assppweb/internal/apperr"
	"github.com/lhbill/assppweb/internal/model"
)

// filenamePartPattern strips everything but alphanumerics, dash,
// underscore, and dot from a software name or version before it is
// used in a Content-Disposition header.
var filenamePartPattern = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func sanitizeFilenamePart(s string) string {
	cleaned := filenamePartPattern.ReplaceAllString(s, "_")
	if cleaned == "" {
		return "package"
	}
	return cleaned
}

func (a *api) listPackages(w http.ResponseWriter, r *http.Request) {
	tasks, err := a.deps.Tasks.ListTasks(r.Context(), accountHashes(r))
	if err != nil {
		writeError(w, err)
		return
	}
	completed := make([]model.SanitizedTask, 0, len(tasks))
	for _, t := range tasks {
		if t.Status == model.StatusCompleted {
			completed = append(completed, t)
		}
	}
	writeJSON(w, http.StatusOK, completed)
}

// packageFile serves the completed artifact: a redirect to the
// configured CDN domain when set, otherwise the body streamed straight
// from the blob store, per spec.md §6.
func (a *api) packageFile(w http.ResponseWriter, r *http.Request) {
	id := taskID(r)
	task, err := a.deps.Tasks.GetTask(r.Context(), id, accountHash(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if task == nil || task.Status != model.StatusCompleted {
		writeError(w, apperr.NotFound("package not found"))
		return
	}

	key, ok, err := a.deps.Tasks.GetR2KeyPublic(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, apperr.NotFound("package artifact not found"))
		return
	}

	if cdn := a.deps.Config.Storage.CDNDomain; cdn != "" {
		http.Redirect(w, r, fmt.Sprintf("https://%s/%s", cdn, key), http.StatusFound)
		return
	}

	info, err := a.deps.Blobs.Head(r.Context(), key)
	if err != nil {
		writeError(w, err)
		return
	}
	body, err := a.deps.Blobs.GetRange(r.Context(), key, 0, -1)
	if err != nil {
		writeError(w, err)
		return
	}
	defer body.Close()

	filename := sanitizeFilenamePart(task.Software.Name) + "_" + sanitizeFilenamePart(task.Software.Version) + ".ipa"
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	io.Copy(w, body)
}
