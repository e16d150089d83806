package wsservice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"cockpit-ws/internal/metrics"
	"cockpit-ws/internal/rescache"
	"cockpit-ws/internal/sanitize"
	"cockpit-ws/internal/session"
	"cockpit-ws/internal/util"
)

const resourceFetchTimeout = 30 * time.Second

// ServeResource implements GET /res/<host>/<module>/<path>: it opens (or
// reuses) a non-private session for host, fetches the module resource over
// a freshly minted resource channel, and writes the buffered result back.
func (svc *Service) ServeResource(w http.ResponseWriter, r *http.Request) {
	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/res/"), "/", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		http.NotFound(w, r)
		return
	}
	host, module, path := parts[0], parts[1], parts[2]

	ctx, cancel := context.WithTimeout(r.Context(), resourceFetchTimeout)
	defer cancel()

	sess, err := svc.sessions.LookupOrOpen(ctx, session.NormalizeHost(host, svc.cfg.SSHPort), svc.creds, false, "", svc.dial)
	if err != nil {
		util.RespondNotFound(w, "no such host")
		return
	}

	data, contentType, err := svc.fetchResourceOnSession(ctx, sess, module, path)
	writeResourceResponse(w, data, contentType, err, false)
}

// ServeCache implements GET /cache/<checksum>/<path>: a cache hit serves
// straight from the resource cache; a miss resolves the checksum against
// every live session's last-ingested resources table, fetches once, and
// populates the cache before responding.
func (svc *Service) ServeCache(w http.ResponseWriter, r *http.Request) {
	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/cache/"), "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	checksum, path := parts[0], parts[1]

	ctx, cancel := context.WithTimeout(r.Context(), resourceFetchTimeout)
	defer cancel()

	if svc.cache != nil {
		if entry, ok, err := svc.cache.Get(ctx, checksum); err == nil && ok {
			metrics.ResourceCacheHits.Add(1)
			writeResourceResponse(w, entry.Data, entry.ContentType, nil, true)
			return
		}
	}
	metrics.ResourceCacheMisses.Add(1)

	sess, module, ok := svc.moduleForChecksum(checksum)
	if !ok {
		http.NotFound(w, r)
		return
	}

	data, contentType, err := svc.fetchResourceOnSession(ctx, sess, module, path)
	if err != nil {
		writeResourceResponse(w, nil, "", err, true)
		return
	}

	if svc.cache != nil {
		if err := svc.cache.Set(context.Background(), checksum, rescache.Entry{ContentType: contentType, Data: data}, rescache.TTL); err != nil {
			slog.Warn("resource cache set failed", "checksum", checksum, "err", err)
		}
	}
	writeResourceResponse(w, data, contentType, nil, true)
}

func (svc *Service) moduleForChecksum(checksum string) (*session.Session, string, bool) {
	for _, sess := range svc.sessions.All() {
		if module, ok := sess.ModuleForChecksum(checksum); ok {
			return sess, module, true
		}
	}
	return nil, "", false
}

// fetchResourceOnSession opens a fresh resource1 channel on sess, requests
// module/path, and collects the full reply body. Responses are buffered in
// full rather than streamed chunk-by-chunk so that HTML/CSS resources can
// be run through the sanitizer before anything reaches the client.
func (svc *Service) fetchResourceOnSession(ctx context.Context, sess *session.Session, module, path string) (data []byte, contentType string, err error) {
	channel := fmt.Sprintf("0:%d", svc.nextResourceID.Add(1))
	svc.sessions.AddChannel(sess, channel)
	defer svc.sessions.RemoveChannel(sess, channel)

	waitCh := svc.registerResourceChannel(channel)
	defer svc.unregisterResourceChannel(channel)

	if err := sess.Transport.SendControl(map[string]any{
		"command": "open",
		"channel": channel,
		"payload": "resource1",
		"module":  module,
		"path":    path,
	}); err != nil {
		return nil, "", fmt.Errorf("terminated: %w", err)
	}

	var body bytes.Buffer
	timeout := time.NewTimer(resourceFetchTimeout)
	defer timeout.Stop()

	for {
		select {
		case evt, ok := <-waitCh:
			if !ok {
				return nil, "", errors.New("terminated")
			}
			switch evt.kind {
			case "recv":
				body.Write(evt.payload)
			case "control":
				if evt.reason != "" {
					return nil, "", errors.New(evt.reason)
				}
				ct := mime.TypeByExtension(filepath.Ext(path))
				if ct == "" {
					ct = "application/octet-stream"
				}
				return body.Bytes(), ct, nil
			}
		case <-timeout.C:
			return nil, "", errors.New("terminated")
		case <-ctx.Done():
			return nil, "", ctx.Err()
		}
	}
}

// ListModules opens a bare resource1 channel (no module/path) and returns
// the module->metadata map the agent answers with, also feeding it into
// the session's checksum table via ProcessResources.
func (svc *Service) ListModules(ctx context.Context, host string) (map[string]any, error) {
	sess, err := svc.sessions.LookupOrOpen(ctx, session.NormalizeHost(host, svc.cfg.SSHPort), svc.creds, false, "", svc.dial)
	if err != nil {
		return nil, err
	}

	channel := fmt.Sprintf("0:%d", svc.nextResourceID.Add(1))
	svc.sessions.AddChannel(sess, channel)
	defer svc.sessions.RemoveChannel(sess, channel)

	waitCh := svc.registerResourceChannel(channel)
	defer svc.unregisterResourceChannel(channel)

	if err := sess.Transport.SendControl(map[string]any{
		"command": "open",
		"channel": channel,
		"payload": "resource1",
	}); err != nil {
		return nil, err
	}

	select {
	case evt, ok := <-waitCh:
		if !ok {
			return nil, errors.New("terminated")
		}
		if evt.kind != "control" {
			return nil, errors.New("unexpected resource event")
		}
		resources, _ := evt.options["resources"].(map[string]any)
		sess.ProcessResources(resources)
		return resources, nil
	case <-time.After(resourceFetchTimeout):
		return nil, errors.New("timeout")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func writeResourceResponse(w http.ResponseWriter, data []byte, contentType string, err error, cacheForever bool) {
	if err != nil {
		if err.Error() == "not-found" {
			util.RespondNotFound(w, "resource not found")
			return
		}
		util.RespondInternalError(w, "resource fetch failed: "+err.Error())
		return
	}

	if sanitize.NeedsSanitizing(contentType) {
		data = sanitize.Bytes(data)
	}

	w.Header().Set("Content-Type", contentType)
	if cacheForever {
		w.Header().Set("Cache-Control", rescache.CacheControlHeader)
	} else {
		w.Header().Set("Cache-Control", "no-cache")
	}
	w.Write(data)
}
