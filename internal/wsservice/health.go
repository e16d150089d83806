package wsservice

import (
	"net/http"

	"cockpit-ws/internal/util"
)

// ServeHealth implements GET /health: a bare liveness probe.
func (svc *Service) ServeHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// ServeHealthLive implements GET /health/live: identical to ServeHealth,
// kept as a distinct route for orchestrators that probe the two
// separately.
func (svc *Service) ServeHealthLive(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// ServeHealthReady implements GET /health/ready: unready once the service
// has started disposing, so a load balancer stops routing new sockets to
// an instance on its way down.
func (svc *Service) ServeHealthReady(w http.ResponseWriter, r *http.Request) {
	if svc.closing.Load() {
		util.RespondServiceUnavailable(w, "service disposing")
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
