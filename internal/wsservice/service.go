// Package wsservice wires the frame codec, scope registry, session table,
// and socket table into the running multiplexer: it accepts browser
// websocket connections, opens SSH-reached agent sessions on demand, and
// routes messages between the two domains.
package wsservice

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"cockpit-ws/internal/config"
	"cockpit-ws/internal/creds"
	"cockpit-ws/internal/metrics"
	"cockpit-ws/internal/pairing"
	"cockpit-ws/internal/rescache"
	"cockpit-ws/internal/session"
	"cockpit-ws/internal/socket"
	"cockpit-ws/internal/sshtransport"
)

// Service is the top-level object: it owns the session and socket tables,
// the dispatch event stream, and the ambient trackers (callers, scope
// counter, resource-channel counter).
type Service struct {
	cfg   config.Config
	creds *creds.Creds

	sessions *session.Table
	sockets  *socket.Table

	cache   rescache.Cache
	pairing *pairing.Issuer

	dial session.Dialer

	events chan event

	closing atomic.Bool
	closed  chan struct{}

	callers        atomic.Int64
	nextScopeID    atomic.Uint64
	nextResourceID atomic.Uint64

	resourceMu    sync.Mutex
	resourceChans map[string]chan resourceEvent

	upgrader websocket.Upgrader

	startedAt time.Time

	primary *session.Session
}

// New constructs a Service and opens its primary localhost session as a
// local subprocess pipe, per the construction-time lifecycle: the primary
// session's loss tears the whole service down.
func New(cfg config.Config, svcCreds *creds.Creds, cache rescache.Cache, issuer *pairing.Issuer) (*Service, error) {
	svc := &Service{
		cfg:           cfg,
		creds:         svcCreds,
		sessions:      session.NewTable(cfg.AgentTimeout),
		sockets:       socket.NewTable(),
		cache:         cache,
		pairing:       issuer,
		events:        make(chan event, 1024),
		closed:        make(chan struct{}),
		resourceChans: make(map[string]chan resourceEvent),
		startedAt:     time.Now(),
		upgrader: websocket.Upgrader{
			Subprotocols: []string{"cockpit1"},
			// Origin checking is an authentication-layer concern this core
			// does not own; the external collaborator gating access to
			// /socket is expected to have already authenticated the caller.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	svc.nextScopeID.Store(1)

	svc.dial = func(ctx context.Context, host string, c *creds.Creds, hostKey string) (session.Transport, error) {
		t, err := sshtransport.DialConfig(ctx, sshtransport.Config{
			Host:           host,
			Port:           cfg.SSHPort,
			AgentCommand:   cfg.AgentCommand,
			KnownHostsPath: cfg.KnownHostsPath,
			HostKey:        hostKey,
		}, c)
		if err != nil {
			return nil, err
		}
		go svc.forwardSessionEvents(t)
		metrics.SessionsActive.Add(1)
		return t, nil
	}

	pipe, err := sshtransport.StartPipe(cfg.AgentCommand)
	if err != nil {
		return nil, err
	}
	svc.primary = svc.sessions.TrackPrimary("localhost", svcCreds, pipe)
	metrics.SessionsActive.Add(1)
	go svc.forwardSessionEvents(pipe)

	return svc, nil
}

// nextScope mints the next socket scope prefix ("N:").
func (svc *Service) nextScope() string {
	n := svc.nextScopeID.Add(1) - 1
	return strconvUint(n) + ":"
}

func strconvUint(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func (svc *Service) callerBegin() {
	svc.callers.Add(1)
}

func (svc *Service) callerEnd() {
	if svc.callers.Add(-1) == 0 {
		slog.Info("service idling")
	}
}

// Idling reports whether any browser socket is currently open.
func (svc *Service) Idling() bool {
	return svc.callers.Load() == 0
}

// Run drains the dispatch event stream on the calling goroutine until ctx
// is cancelled or the service disposes itself. All session/socket table
// mutation happens here, on a single goroutine, fed by the websocket read
// loops and SSH transport read loops which only ever post events.
func (svc *Service) Run(ctx context.Context) {
	go svc.pingLoop(ctx)
	for {
		select {
		case ev := <-svc.events:
			svc.handleEvent(ev)
		case <-ctx.Done():
			return
		case <-svc.closed:
			return
		}
	}
}

// Dispose tears the whole service down: every socket is closed with
// going-away, every session's transport receives EOF, idempotent via the
// closing flag's CAS.
func (svc *Service) Dispose(reason string) {
	if !svc.closing.CompareAndSwap(false, true) {
		return
	}
	slog.Info("service disposing", "reason", reason)

	for _, sock := range svc.sockets.All() {
		sock.WriteText(buildGoingAway())
		sock.Conn.Close()
		svc.sockets.Destroy(sock)
		metrics.SocketsActive.Add(-1)
	}
	for _, sess := range svc.sessions.All() {
		if !sess.SentEOF() {
			sess.Transport.SendEOF()
			sess.MarkSentEOF()
		}
	}
	close(svc.closed)
}

func (svc *Service) registerResourceChannel(channel string) chan resourceEvent {
	ch := make(chan resourceEvent, 16)
	svc.resourceMu.Lock()
	svc.resourceChans[channel] = ch
	svc.resourceMu.Unlock()
	return ch
}

func (svc *Service) unregisterResourceChannel(channel string) {
	svc.resourceMu.Lock()
	delete(svc.resourceChans, channel)
	svc.resourceMu.Unlock()
}

func (svc *Service) resourceWaiter(channel string) (chan resourceEvent, bool) {
	svc.resourceMu.Lock()
	defer svc.resourceMu.Unlock()
	ch, ok := svc.resourceChans[channel]
	return ch, ok
}
