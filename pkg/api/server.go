package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/khryptorgraphics/bmqsched/internal/config"
	"github.com/khryptorgraphics/bmqsched/pkg/sched"
	"github.com/khryptorgraphics/bmqsched/pkg/trace"
)

// Server is the introspection HTTP/WS server (SPEC_FULL §12): read-only
// stats/state endpoints are open, mutating endpoints (policy/affinity/
// yield) require a bearer JWT.
type Server struct {
	cfg    config.APIConfig
	sched  *sched.Scheduler
	logger *logrus.Logger

	router   *gin.Engine
	server   *http.Server
	upgrader websocket.Upgrader

	hub *wsHub
}

// NewServer builds a Server wired to the given scheduler and trace hub.
func NewServer(cfg config.APIConfig, s *sched.Scheduler, logger *logrus.Logger, hub *wsHub) *Server {
	srv := &Server{
		cfg:    cfg,
		sched:  s,
		logger: logger,
		hub:    hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if !cfg.Cors.Enabled {
					return true
				}
				origin := r.Header.Get("Origin")
				for _, allowed := range cfg.Cors.AllowedOrigins {
					if origin == allowed {
						return true
					}
				}
				return false
			},
		},
	}
	srv.setupRoutes()
	return srv
}

func (s *Server) setupRoutes() {
	s.router = gin.New()
	s.router.Use(gin.Logger())
	s.router.Use(gin.Recovery())

	if s.cfg.Cors.Enabled {
		s.router.Use(cors.New(cors.Config{
			AllowOrigins:     s.cfg.Cors.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type", "Authorization"},
			AllowCredentials: true,
		}))
	}

	v1 := s.router.Group("/v1")
	{
		v1.GET("/stats", s.getStats)
		v1.GET("/cpus/:cpu", s.getCPU)
		v1.GET("/tasks/:id", s.getTask)
		v1.GET("/ws", s.handleWebSocket)

		mutating := v1.Group("")
		mutating.Use(s.authMiddleware())
		{
			mutating.POST("/tasks", s.createTask)
			mutating.POST("/tasks/:id/policy", s.setTaskPolicy)
			mutating.POST("/tasks/:id/affinity", s.setTaskAffinity)
			mutating.POST("/tasks/:id/yield", s.yieldTask)
		}
	}
}

// authMiddleware validates a Bearer JWT against the configured secret,
// mirroring the shape of a conventional HMAC gin auth middleware: missing
// header, malformed header, and invalid/expired token are each reported
// distinctly so the CLI client can explain failures precisely.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			c.Abort()
			return
		}

		if s.cfg.JWTSecret == "" {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
			c.Abort()
			return
		}

		token, err := jwt.Parse(parts[1], func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return []byte(s.cfg.JWTSecret), nil
		})
		if err != nil || !token.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// httpStatus is the only place a core sentinel error is translated to an
// HTTP status code (§SPEC_FULL 12).
func httpStatus(err error) int {
	switch err {
	case sched.ErrInvalid:
		return http.StatusBadRequest
	case sched.ErrNoSuchTask:
		return http.StatusNotFound
	case sched.ErrPerm:
		return http.StatusForbidden
	case sched.ErrNoMemory:
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) getStats(c *gin.Context) {
	n := s.sched.NCPU()
	cpus := make([]gin.H, n)
	for cpu := 0; cpu < n; cpu++ {
		cpus[cpu] = gin.H{
			"cpu":        cpu,
			"nr_running": s.sched.NrRunning(cpu),
			"idle":       s.sched.IdleCPU(cpu),
		}
	}
	c.JSON(http.StatusOK, gin.H{"ncpu": n, "cpus": cpus})
}

func (s *Server) getCPU(c *gin.Context) {
	cpu, err := parseCPU(c.Param("cpu"), s.sched.NCPU())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"cpu":        cpu,
		"nr_running": s.sched.NrRunning(cpu),
		"idle":       s.sched.IdleCPU(cpu),
	})
}

func (s *Server) getTask(c *gin.Context) {
	t, err := s.sched.Lookup(c.Param("id"))
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, taskJSON(t))
}

func taskJSON(t *sched.Task) gin.H {
	return gin.H{
		"id":           t.ID,
		"name":         t.Name,
		"policy":       t.Policy.String(),
		"prio":         t.Prio,
		"normal_prio":  t.NormalPrio,
		"boost_prio":   t.BoostPrio,
		"cpu":          t.CPU(),
		"state":        int(t.State),
		"time_slice_ns": t.TimeSliceNS,
	}
}

type createTaskRequest struct {
	Name       string `json:"name"`
	Policy     string `json:"policy"`
	Nice       int    `json:"nice"`
	RTPriority int    `json:"rt_priority"`
	CPUs       []int  `json:"cpus"`
}

// createTask forks and wakes a new task, generating its id rather than
// accepting one from the caller (SPEC_FULL §12): a client asking the
// simulator to materialize work has no stable identity to offer yet.
func (s *Server) createTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	policy, ok := parsePolicy(req.Policy)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown policy"})
		return
	}

	mask := sched.FullCPUMask(s.sched.NCPU())
	if len(req.CPUs) > 0 {
		mask = sched.NewCPUMask(s.sched.NCPU())
		for _, cpu := range req.CPUs {
			if cpu < 0 || cpu >= s.sched.NCPU() {
				c.JSON(http.StatusBadRequest, gin.H{"error": "cpu out of range"})
				return
			}
			mask.Set(cpu)
		}
	}

	id := uuid.New().String()
	t := sched.NewTask(id, policy, req.Nice, req.RTPriority, mask)
	t.Name = req.Name
	s.sched.SchedFork(t, nil)
	s.sched.WakeUpNewTask(t)

	c.JSON(http.StatusCreated, taskJSON(t))
}

type setPolicyRequest struct {
	Policy     string `json:"policy" binding:"required"`
	RTPriority int    `json:"rt_priority"`
	Nice       int    `json:"nice"`
}

func parsePolicy(s string) (sched.Policy, bool) {
	switch strings.ToUpper(s) {
	case "NORMAL":
		return sched.PolicyNormal, true
	case "BATCH":
		return sched.PolicyBatch, true
	case "IDLE":
		return sched.PolicyIdle, true
	case "RR":
		return sched.PolicyRR, true
	case "FIFO":
		return sched.PolicyFIFO, true
	default:
		return 0, false
	}
}

func (s *Server) setTaskPolicy(c *gin.Context) {
	t, err := s.sched.Lookup(c.Param("id"))
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	var req setPolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	policy, ok := parsePolicy(req.Policy)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown policy"})
		return
	}
	if err := s.sched.SetPolicy(t, policy, req.RTPriority, req.Nice); err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, taskJSON(t))
}

type setAffinityRequest struct {
	CPUs []int `json:"cpus" binding:"required"`
}

func (s *Server) setTaskAffinity(c *gin.Context) {
	t, err := s.sched.Lookup(c.Param("id"))
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	var req setAffinityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	mask := sched.NewCPUMask(s.sched.NCPU())
	for _, cpu := range req.CPUs {
		if cpu < 0 || cpu >= s.sched.NCPU() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cpu out of range"})
			return
		}
		mask.Set(cpu)
	}
	if err := s.sched.SetAffinity(t, mask); err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, taskJSON(t))
}

func (s *Server) yieldTask(c *gin.Context) {
	t, err := s.sched.Lookup(c.Param("id"))
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	s.sched.YieldCurrent(t.CPU())
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func parseCPU(s string, n int) (int, error) {
	var cpu int
	if _, err := fmt.Sscanf(s, "%d", &cpu); err != nil {
		return 0, fmt.Errorf("invalid cpu id")
	}
	if cpu < 0 || cpu >= n {
		return 0, fmt.Errorf("cpu out of range [0,%d)", n)
	}
	return cpu, nil
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.WithError(err).Warn("api: websocket upgrade failed")
		return
	}
	s.hub.register(conn)
}

// Start begins serving. It returns immediately; errors surface on the
// returned channel.
func (s *Server) Start() <-chan error {
	s.server = &http.Server{Addr: s.cfg.Listen, Handler: s.router}
	errc := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()
	return errc
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// wsHub fans trace events out to every connected websocket client
// (SPEC_FULL §12). Modeled on the teacher's WSHub but simplified to a
// single broadcast topic, since bmqsimd has one stream (scheduling trace)
// rather than the teacher's many independently-subscribed channels.
type wsHub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewWSHub constructs an empty hub.
func NewWSHub() *wsHub {
	return &wsHub{clients: make(map[*websocket.Conn]struct{})}
}

func (h *wsHub) register(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	go func() {
		defer h.unregister(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *wsHub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	conn.Close()
}

// Emit implements trace.Exporter, broadcasting every scheduling event to
// all connected websocket clients.
func (h *wsHub) Emit(ev trace.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if err := conn.WriteJSON(ev); err != nil {
			go h.unregister(conn)
		}
	}
}

func (h *wsHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
	}
}
