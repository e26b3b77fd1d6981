// Package api exposes the job manager over HTTP+JSON (spec.md §4.9/§6),
// using gin-gonic/gin — the HTTP framework the teacher's entrypoint
// actually wires (cmd/tarsy/main.go), standardized on here over the echo
// import seen deeper in the teacher's own pkg/api package (see
// SPEC_FULL.md §7).
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arpanauts/biomapper-sub014/pkg/job"
	"github.com/arpanauts/biomapper-sub014/pkg/model"
)

// Server wires a gin.Engine to a job.Manager.
type Server struct {
	Manager *job.Manager
}

// NewRouter builds the gin.Engine exposing every endpoint in spec.md §4.9.
func NewRouter(mgr *job.Manager) *gin.Engine {
	s := &Server{Manager: mgr}
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.health)
	r.GET("/strategies", s.listStrategies)
	r.POST("/jobs", s.submitJob)
	r.GET("/jobs/:id", s.jobStatus)
	r.GET("/jobs/:id/result", s.jobResult)
	r.POST("/jobs/:id/cancel", s.cancelJob)
	r.GET("/jobs/:id/checkpoints", s.jobCheckpoints)

	return r
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, s.Manager.Health())
}

func (s *Server) listStrategies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"strategies": s.Manager.ListStrategies()})
}

// submitRequest is the JSON body of POST /jobs: {strategy_name, parameters}.
type submitRequest struct {
	StrategyName string         `json:"strategy_name" binding:"required"`
	Parameters   map[string]any `json:"parameters"`
}

func (s *Server) submitJob(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	j, err := s.Manager.Submit(c.Request.Context(), req.StrategyName, req.Parameters)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": j.JobID})
}

func (s *Server) jobStatus(c *gin.Context) {
	j, err := s.Manager.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, statusResponse(j))
}

func (s *Server) jobResult(c *gin.Context) {
	j, err := s.Manager.Result(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, j)
}

// jobCheckpoints lists the checkpoint files written so far for a job, per
// spec.md §6's on-disk checkpoint layout — useful for post-mortem
// inspection of a failed or cancelled job.
func (s *Server) jobCheckpoints(c *gin.Context) {
	steps, err := s.Manager.Checkpoint.ListSteps(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"checkpoints": steps})
}

func (s *Server) cancelJob(c *gin.Context) {
	ok, err := s.Manager.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"result": "not_cancellable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": "ok"})
}

// statusResponse renders the spec.md §4.9 status() shape, including the
// revision used for change detection and the partial-failure fields from
// §7's user-visible failure behavior.
func statusResponse(j *model.Job) gin.H {
	resp := gin.H{
		"status":           j.Status,
		"revision":         j.Revision,
		"current_step":     j.CurrentStep,
		"completed_steps":  j.CompletedSteps,
		"metrics_snapshot": j.MetricsSnapshot,
	}
	if j.Status == model.JobStatusFailed {
		resp["failed_step"] = j.FailedStep
		resp["error_kind"] = j.ErrorKind
		resp["message"] = j.ErrorMessage
	}
	return resp
}

func writeError(c *gin.Context, err error) {
	if err == job.ErrNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if merr, ok := err.(*model.Error); ok && merr.Kind == model.KindUnknownActionType {
		c.JSON(http.StatusNotFound, gin.H{"error": merr.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
