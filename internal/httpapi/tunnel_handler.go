package httpapi

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/lhbill/assppweb/internal/logging"
	"github.com/lhbill/assppweb/internal/tunnel"
)

// tunnelUpgrader is grounded on the teacher's wsUpgrader in
// cmd/noisefs-webui/main.go: CheckOrigin always allows, since the
// session cookie (already verified by requireAuth before this handler
// runs) is the actual admission control, not the browser's Origin
// header.
var tunnelUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// tunnel upgrades the request to a WebSocket and hands it to a fresh
// tunnel.Session, per spec.md §4.C. Authentication is enforced by the
// requireAuth wrapper in router.go before this handler is reached.
func (a *api) tunnel(w http.ResponseWriter, r *http.Request) {
	conn, err := tunnelUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Global().WithField("component", "httpapi").WithField("err", err.Error()).Warn("tunnel upgrade failed")
		return
	}
	session := tunnel.NewSession(conn)
	session.Run(nil)
}
