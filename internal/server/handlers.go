package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lamim/optiforge/internal/optimization"
	"github.com/lamim/optiforge/internal/store"
)

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getOptimization(c *gin.Context) {
	ctx := c.Request.Context()

	opt, err := s.store.FindOptimizationByUUID(ctx, c.Param("uuid"))
	if err != nil {
		s.fail(c, err)
		return
	}

	projection, err := Project(ctx, s.store, opt)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, projection)
}

func (s *Server) cancelOptimization(c *gin.Context) {
	ctx := c.Request.Context()

	opt, err := s.canceller.Cancel(ctx, c.Param("uuid"))
	if err != nil {
		s.fail(c, err)
		return
	}

	projection, err := Project(ctx, s.store, opt)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, projection)
}

func (s *Server) listJobs(c *gin.Context) {
	jobs := s.jobs.List()
	c.JSON(http.StatusOK, gin.H{
		"jobs":  jobs,
		"total": len(jobs),
	})
}

// fail maps domain errors to status codes
func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, optimization.ErrAlreadyEnded):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
