package wsservice

import (
	"net/http"
	"time"

	"cockpit-ws/internal/diagnostics"
	"cockpit-ws/internal/metrics"
	"cockpit-ws/internal/util"
)

// ServeDiagnostics implements GET /diagnostics: an HTML operator page
// rendered fresh on every request from the service's live counters.
func (svc *Service) ServeDiagnostics(w http.ResponseWriter, r *http.Request) {
	snap := diagnostics.Snapshot{
		SessionsActive: metrics.SessionsActive.Load(),
		SocketsActive:  metrics.SocketsActive.Load(),
		CallersActive:  svc.callers.Load(),
		CacheHits:      metrics.ResourceCacheHits.Load(),
		CacheMisses:    metrics.ResourceCacheMisses.Load(),
		Uptime:         time.Since(svc.startedAt),
	}
	page, err := diagnostics.Render(snap)
	if err != nil {
		util.RespondInternalError(w, "failed to render diagnostics page")
		return
	}
	util.SetHTMLHeaders(w, "0")
	util.WriteHTML(w, page)
}
