package http

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/phasecraft/phaseflow/internal/log"
	"github.com/phasecraft/phaseflow/pkg/engine"
	"github.com/phasecraft/phaseflow/pkg/models"
	"github.com/phasecraft/phaseflow/pkg/storage"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes the engine over HTTP: template registration, run control
// (start/pause/resume/proceed/skip/retry/force-accept/rollback) and the audit
// surfaces (checkpoints, escalations).
type Server struct {
	echo      *echo.Echo
	store     storage.Store
	registry  *engine.Registry
	scheduler *engine.Scheduler
}

func NewServer(store storage.Store, registry *engine.Registry, scheduler *engine.Scheduler) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	s := &Server{echo: e, store: store, registry: registry, scheduler: scheduler}

	e.GET("/health", s.health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.POST("/templates", s.createTemplate)
	e.GET("/templates", s.listTemplates)

	e.POST("/projects", s.createProject)
	e.GET("/projects", s.listProjects)

	e.POST("/projects/:id/runs", s.startRun)
	e.GET("/runs", s.listRuns)
	e.GET("/runs/:id", s.getRun)
	e.POST("/runs/:id/pause", s.pauseRun)
	e.POST("/runs/:id/resume", s.resumeRun)
	e.POST("/runs/:id/phases/:phase/proceed", s.proceedPhase)
	e.POST("/runs/:id/phases/:phase/skip", s.skipPhase)
	e.POST("/runs/:id/phases/:phase/retry", s.retryPhase)
	e.POST("/runs/:id/phases/:phase/force-accept", s.forceAcceptPhase)
	e.GET("/runs/:id/checkpoints", s.listCheckpoints)
	e.POST("/runs/:id/rollback", s.rollbackRun)
	e.POST("/runs/:id/abandon", s.abandonRun)
	e.GET("/runs/:id/escalations", s.listEscalations)
	e.GET("/runs/:id/executions", s.listExecutions)

	return s
}

// Start blocks serving HTTP on the given port.
func (s *Server) Start(port int) error {
	log.GetLogger().Infof("Starting phaseflow server on :%d", port)
	return s.echo.Start(fmt.Sprintf(":%d", port))
}

// Handler returns the underlying handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) health(c echo.Context) error {
	return c.String(http.StatusOK, "phaseflow server is running")
}

func (s *Server) createTemplate(c echo.Context) error {
	var t models.WorkflowTemplate
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if err := s.registry.Register(t); err != nil {
		log.GetLogger().Errorf("Failed to register template: %v", err)
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, t)
}

func (s *Server) listTemplates(c echo.Context) error {
	templates, err := s.store.ListTemplates()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, templates)
}

type createProjectRequest struct {
	Name string `json:"name"`
}

func (s *Server) createProject(c echo.Context) error {
	var req createProjectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing 'name'")
	}
	now := time.Now()
	p := models.Project{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Status:    models.IdleProjectStatus,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.SaveProject(p); err != nil {
		log.GetLogger().Errorf("Failed to create project: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, p)
}

func (s *Server) listProjects(c echo.Context) error {
	projects, err := s.store.ListProjects()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, projects)
}

type startRunRequest struct {
	TemplateID string `json:"template_id"`
}

func (s *Server) startRun(c echo.Context) error {
	var req startRunRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.TemplateID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing 'template_id'")
	}
	runID, err := s.scheduler.StartRun(c.Param("id"), req.TemplateID)
	if err != nil {
		log.GetLogger().Errorf("Failed to start run: %v", err)
		return schedulerError(err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"run_id": runID})
}

func (s *Server) listRuns(c echo.Context) error {
	runs, err := s.store.ListRuns(c.QueryParam("project_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, runs)
}

func (s *Server) getRun(c echo.Context) error {
	run, err := s.store.GetRun(c.Param("id"))
	if err != nil {
		return schedulerError(err)
	}
	return c.JSON(http.StatusOK, run)
}

func (s *Server) pauseRun(c echo.Context) error {
	return s.command(c, s.scheduler.Pause(c.Param("id")))
}

func (s *Server) resumeRun(c echo.Context) error {
	return s.command(c, s.scheduler.Resume(c.Param("id")))
}

func (s *Server) proceedPhase(c echo.Context) error {
	return s.command(c, s.scheduler.Proceed(c.Param("id"), c.Param("phase")))
}

func (s *Server) skipPhase(c echo.Context) error {
	return s.command(c, s.scheduler.Skip(c.Param("id"), c.Param("phase")))
}

type retryRequest struct {
	ModelTier models.ModelTier `json:"model_tier"`
}

func (s *Server) retryPhase(c echo.Context) error {
	var req retryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return s.command(c, s.scheduler.Retry(c.Param("id"), c.Param("phase"), req.ModelTier))
}

type forceAcceptRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) forceAcceptPhase(c echo.Context) error {
	var req forceAcceptRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Reason == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing 'reason'")
	}
	return s.command(c, s.scheduler.ForceAccept(c.Param("id"), c.Param("phase"), req.Reason))
}

func (s *Server) listCheckpoints(c echo.Context) error {
	checkpoints, err := s.store.ListCheckpoints(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, checkpoints)
}

type rollbackRequest struct {
	CheckpointID string `json:"checkpoint_id"`
}

func (s *Server) rollbackRun(c echo.Context) error {
	var req rollbackRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.CheckpointID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing 'checkpoint_id'")
	}
	return s.command(c, s.scheduler.Rollback(c.Param("id"), req.CheckpointID))
}

type abandonRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) abandonRun(c echo.Context) error {
	var req abandonRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return s.command(c, s.scheduler.Abandon(c.Param("id"), req.Reason))
}

func (s *Server) listEscalations(c echo.Context) error {
	escalations, err := s.store.ListEscalations(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, escalations)
}

func (s *Server) listExecutions(c echo.Context) error {
	execs, err := s.store.ListExecutions(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, execs)
}

func (s *Server) command(c echo.Context, err error) error {
	if err != nil {
		log.GetLogger().Errorf("Run command failed: %v", err)
		return schedulerError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func schedulerError(err error) error {
	var conflict *engine.RollbackConflictError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.As(err, &conflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
}
