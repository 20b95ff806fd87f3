package httpapi

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"text/template"

	"github.com/lhbill/assppweb/internal/apperr"
)

var xmlEscaper = strings.NewReplacer(`&`, "&amp;", `<`, "&lt;", `>`, "&gt;", `"`, "&quot;")

// manifestTemplate renders the itms-services install manifest iOS reads
// to begin an over-the-air installation. No plist-building library
// exists anywhere in the retrieval pack, so this is hand-rolled XML
// text, justified in DESIGN.md.
var manifestTemplate = template.Must(template.New("manifest").Parse(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>items</key>
	<array>
		<dict>
			<key>assets</key>
			<array>
				<dict>
					<key>kind</key>
					<string>software-package</string>
					<key>url</key>
					<string>{{.PayloadURL}}</string>
				</dict>
			</array>
			<key>metadata</key>
			<dict>
				<key>bundle-identifier</key>
				<string>{{.BundleID}}</string>
				<key>bundle-version</key>
				<string>{{.Version}}</string>
				<key>kind</key>
				<string>software</string>
				<key>title</key>
				<string>{{.Title}}</string>
			</dict>
		</dict>
	</array>
</dict>
</plist>
`))

type manifestData struct {
	PayloadURL string
	BundleID   string
	Version    string
	Title      string
}

// installScheme reports "https" unless the request arrived over plain
// HTTP (local development), matching the scheme iOS will be told to
// fetch the payload over.
func installScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	return "http"
}

// installManifest serves GET /install/:id/manifest.plist: no auth, the
// task UUID itself is the secret (spec.md §4.F, §6).
func (a *api) installManifest(w http.ResponseWriter, r *http.Request) {
	id := taskID(r)
	task, err := a.deps.Tasks.GetTaskPublic(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if task == nil || !task.HasFile {
		writeError(w, apperr.NotFound("install manifest not found"))
		return
	}

	payloadURL := installScheme(r) + "://" + r.Host + "/api/install/" + id + "/payload.ipa"
	data := manifestData{
		PayloadURL: xmlEscaper.Replace(payloadURL),
		BundleID:   xmlEscaper.Replace(task.Software.BundleID),
		Version:    xmlEscaper.Replace(task.Software.Version),
		Title:      xmlEscaper.Replace(task.Software.Name),
	}

	w.Header().Set("Content-Type", "application/xml")
	manifestTemplate.Execute(w, data)
}

// installPayload serves GET /install/:id/payload.ipa: no auth, public
// by UUID (spec.md §6).
func (a *api) installPayload(w http.ResponseWriter, r *http.Request) {
	id := taskID(r)
	key, ok, err := a.deps.Tasks.GetR2KeyPublic(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, apperr.NotFound("install payload not found"))
		return
	}

	if cdn := a.deps.Config.Storage.CDNDomain; cdn != "" {
		http.Redirect(w, r, "https://"+cdn+"/"+key, http.StatusFound)
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

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	io.Copy(w, body)
}
