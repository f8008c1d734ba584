package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stefanhoelzl/codehydra-sub004/internal/metrics"
	"github.com/stefanhoelzl/codehydra-sub004/internal/workspace"
)

// Router provides embeddable HTTP handlers for the workspace supervisor.
// This is the narrow seam the desktop shell talks through.
// Endpoints:
//
//	POST {basePath}/workspaces/start         body: {"path": "..."}
//	POST {basePath}/workspaces/stop          body: {"path": "..."}
//	POST {basePath}/workspaces/stop-project  body: {"path": "..."}
//	GET  {basePath}/workspaces               list running servers
//	POST {basePath}/workspaces/cleanup       reconcile the ports file
//	GET  {basePath}/healthz
//	GET  {basePath}/metrics
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	mgr      *workspace.Manager
	basePath string
}

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(mgr *workspace.Manager, basePath string) *Router {
	return &Router{mgr: mgr, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.POST("/workspaces/start", r.handleStart)
	group.POST("/workspaces/stop", r.handleStop)
	group.POST("/workspaces/stop-project", r.handleStopProject)
	group.GET("/workspaces", r.handleList)
	group.POST("/workspaces/cleanup", r.handleCleanup)
	group.GET("/healthz", r.handleHealthz)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr, basePath string, mgr *workspace.Manager) (*http.Server, error) {
	r := NewRouter(mgr, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0, // start requests can outlive typical write windows
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type pathReq struct {
	Path string `json:"path"`
}

type startResp struct {
	Path string `json:"path"`
	Port int    `json:"port"`
}

func (r *Router) handleStart(c *gin.Context) {
	var req pathReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if !isSafeAbsPath(req.Path) || req.Path == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "path must be an absolute workspace path without traversal"})
		return
	}
	port, err := r.mgr.StartServer(c.Request.Context(), req.Path)
	if err != nil {
		writeJSON(c, http.StatusBadGateway, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, startResp{Path: req.Path, Port: port})
}

func (r *Router) handleStop(c *gin.Context) {
	var req pathReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if !isSafeAbsPath(req.Path) || req.Path == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "path must be an absolute workspace path without traversal"})
		return
	}
	if err := r.mgr.StopServer(c.Request.Context(), req.Path); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStopProject(c *gin.Context) {
	var req pathReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if !isSafeAbsPath(req.Path) || req.Path == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "path must be an absolute project path without traversal"})
		return
	}
	if err := r.mgr.StopAllForProject(c.Request.Context(), req.Path); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

type workspaceInfo struct {
	Path string `json:"path"`
	Port int    `json:"port"`
}

func (r *Router) handleList(c *gin.Context) {
	running := r.mgr.Workspaces()
	out := make([]workspaceInfo, 0, len(running))
	for path, port := range running {
		out = append(out, workspaceInfo{Path: path, Port: port})
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleCleanup(c *gin.Context) {
	if err := r.mgr.CleanupStaleEntries(c.Request.Context()); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleHealthz(c *gin.Context) {
	writeJSON(c, http.StatusOK, okResp{OK: true})
}
