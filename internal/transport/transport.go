// Package transport exposes the debug agent's WebSocket endpoint and the
// /json/* discovery routes a DevTools-compatible frontend polls before
// connecting, the same shape Chrome's own --remote-debugging-port serves
// (spec.md §6).
package transport

import (
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"apex-build/internal/broker"
	"apex-build/internal/exporter"
	"apex-build/internal/inspector"
	"apex-build/internal/logging"
	"apex-build/internal/metrics"
	"apex-build/internal/profiler"
	"apex-build/internal/session"
	"apex-build/internal/store"
	"apex-build/internal/tracer"
)

var sessionMetrics = metrics.NewSessionMetricsRecorder()

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// Target describes the one debuggable target this process exposes, the
// payload /json/list and /json/version answer with.
type Target struct {
	ID                   string `json:"id"`
	Title                string `json:"title"`
	Type                 string `json:"type"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// upgrader mirrors the teacher's origin-checking discipline: an explicit
// allowlist read from the environment; with no allowlist set, any origin
// is accepted outside production and none in production.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		allowedEnv := os.Getenv("DEBUGAGENT_ALLOWED_ORIGINS")
		if allowedEnv == "" {
			return os.Getenv("ENVIRONMENT") != "production"
		}
		for _, allowed := range strings.Split(allowedEnv, ",") {
			if strings.TrimSpace(allowed) == origin {
				return true
			}
		}
		return false
	},
}

// Server bootstraps gin routes for discovery plus the WebSocket upgrade
// that hands each connection off to a fresh session.Session.
type Server struct {
	deps       session.Deps
	title      string
	host       string
	middleware []gin.HandlerFunc
	mu         sync.Mutex
	sessions   map[string]*session.Session
}

// New constructs a Server over the shared inspector/tracer/profiler/broker
// stack, the same collaborators Session needs. st and exp are optional
// (pass nil for either or both) and, when present, let a Session persist
// finalized CPU profiles and export them to S3; middleware is applied, in
// order, ahead of every route New's caller registers (auth gate, request
// logging, metrics, and so on), mirroring how cmd/debugagent assembles its
// own gin.Engine for the rest of the process's HTTP surface.
func New(registry *inspector.Registry, tr *tracer.Tracer, pr *profiler.Profiler, br *broker.Broker, st *store.Store, exp *exporter.Exporter, title, host string, middleware ...gin.HandlerFunc) *Server {
	return &Server{
		deps: session.Deps{
			Registry: registry,
			Tracer:   tr,
			Profiler: pr,
			Broker:   br,
			Store:    st,
			Exporter: exp,
		},
		title:      title,
		host:       host,
		middleware: middleware,
		sessions:   make(map[string]*session.Session),
	}
}

// Router builds the gin engine: /json/version, /json/list, and /ws.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.middleware...)
	r.GET("/json/version", s.handleVersion)
	r.GET("/json/list", s.handleList)
	r.GET("/json", s.handleList)
	r.GET("/ws", s.handleWebSocket)
	return r
}

func (s *Server) handleVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"Browser":         s.title,
		"Protocol-Version": "1.3",
	})
}

func (s *Server) handleList(c *gin.Context) {
	scheme := "ws"
	if c.Request.TLS != nil {
		scheme = "wss"
	}
	c.JSON(http.StatusOK, []Target{{
		ID:                   "agent",
		Title:                s.title,
		Type:                 "node",
		WebSocketDebuggerURL: scheme + "://" + s.host + "/ws",
	}})
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.L().Warn("transport: websocket upgrade failed", zap.Error(err))
		return
	}
	id := uuid.NewString()
	conn.SetReadLimit(maxMessageSize)

	sendCh := make(chan []byte, 64)
	sess := session.New(id, s.deps, channelSender{ch: sendCh})

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()
	sessionMetrics.Attached()

	go writePump(conn, sendCh)
	readPump(conn, sess)

	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	sess.Close()
	close(sendCh)
	sessionMetrics.Detached()
}

// channelSender adapts session.Sender onto the per-connection outbound
// channel writePump drains, the same hub/client split the teacher's
// internal/websocket package uses.
type channelSender struct {
	ch chan []byte
}

func (c channelSender) Send(payload []byte) error {
	select {
	case c.ch <- payload:
		return nil
	default:
		return errDropped
	}
}

var errDropped = httpError("send buffer full, dropping frame")

type httpError string

func (e httpError) Error() string { return string(e) }

func readPump(conn *websocket.Conn, sess *session.Session) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.L().Debug("transport: websocket read error", zap.Error(err))
			}
			return
		}
		sess.HandleMessage(raw)
	}
}

func writePump(conn *websocket.Conn, send <-chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case payload, ok := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
