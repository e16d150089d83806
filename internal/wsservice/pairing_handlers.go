package wsservice

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"cockpit-ws/internal/pairing"
	"cockpit-ws/internal/util"
)

// ServePairQR implements GET /pair/qr/<token>.png: a PNG the operator can
// hand to the enrolling user, encoding the same URL ServePairRedeem
// answers.
func (svc *Service) ServePairQR(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/pair/qr/"), ".png")
	if token == "" {
		http.NotFound(w, r)
		return
	}
	png, err := pairing.RenderQR("/pair/" + token)
	if err != nil {
		util.RespondInternalError(w, "failed to render pairing QR code")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

// ServePairRedeem implements GET /pair/<token>: a one-time enrollment link.
// Redeeming it does not itself open a session - that still requires a
// socket and a channel - so it redirects into the normal page load with the
// paired host/user attached as query parameters for the page's own open
// command to pick up.
func (svc *Service) ServePairRedeem(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.URL.Path, "/pair/")
	if token == "" {
		http.NotFound(w, r)
		return
	}
	host, user, err := svc.pairing.Redeem(token)
	if err != nil {
		http.Error(w, "pairing token invalid or expired", http.StatusGone)
		return
	}
	dest := fmt.Sprintf("/?pair-host=%s&pair-user=%s", url.QueryEscape(host), url.QueryEscape(user))
	http.Redirect(w, r, dest, http.StatusFound)
}
