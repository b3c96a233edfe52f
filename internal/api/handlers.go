package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"downloadcenter/internal/config"
	"downloadcenter/internal/model"
	"downloadcenter/internal/task"
)

// Service is the part of the task manager the HTTP layer drives.
type Service interface {
	AddTask(ctx context.Context, req model.Request) (int64, error)
	CancelTask(taskID int64) bool
	CheckSite(site string) model.SiteInfo
	SitesActive() []string
	SitesWithAuth() []string
	Counts() (waiting, running int)
	UpdateConfig(ctx context.Context, cfg config.Config)
}

// ConfigLoader re-reads the configuration file.
type ConfigLoader func() (config.Config, error)

type siteRequest struct {
	Site string `json:"site" binding:"required"`
}

type sitesResponse struct {
	Sites []string `json:"sites"`
}

type API struct {
	service Service
	reload  ConfigLoader
}

func NewAPI(service Service, reload ConfigLoader) *API {
	return &API{service: service, reload: reload}
}

// RegisterRoutes registers API routes on the provided gin engine
func (a *API) RegisterRoutes(router *gin.Engine) {
	download := router.Group("/download")
	{
		download.POST("/new", a.NewDownload)
		download.POST("/cancel", a.CancelDownload)
	}
	sites := router.Group("/sites")
	{
		sites.POST("/check", a.CheckSite)
		sites.POST("/auths", a.SitesWithAuth)
		sites.POST("/active", a.SitesActive)
	}
	router.POST("/update_config", a.UpdateConfig)
}

// NewDownload admits a download request. The body is a bare JSON string:
// the task id on success, the reason on failure.
func (a *API) NewDownload(c *gin.Context) {
	var req model.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn().Err(err).Msg("invalid download request")
		c.JSON(http.StatusBadRequest, "invalid request")
		return
	}
	taskID, err := a.service.AddTask(c.Request.Context(), req)
	if err != nil {
		message := err.Error()
		switch {
		case errors.Is(err, task.ErrStorageUnavailable):
			message = "storage unavailable"
		case errors.Is(err, task.ErrSiteNotSupported):
			message = "site not supported"
		}
		log.Warn().Err(err).Str("site", req.Site).Int64("user_id", req.UserID).Msg("download rejected")
		c.JSON(http.StatusInternalServerError, message)
		return
	}
	c.JSON(http.StatusOK, strconv.FormatInt(taskID, 10))
}

// CancelDownload flags a running download for cancellation
func (a *API) CancelDownload(c *gin.Context) {
	var req model.Cancel
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.Response{Status: false, Message: "invalid request"})
		return
	}
	cancelled := a.service.CancelTask(req.TaskID)
	c.JSON(http.StatusOK, model.Response{Status: cancelled, TaskID: req.TaskID})
}

// CheckSite reports whether a site is served and with which options
func (a *API) CheckSite(c *gin.Context) {
	var req siteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.Response{Status: false, Message: "invalid request"})
		return
	}
	c.JSON(http.StatusOK, a.service.CheckSite(req.Site))
}

func (a *API) SitesWithAuth(c *gin.Context) {
	c.JSON(http.StatusOK, sitesResponse{Sites: nonNil(a.service.SitesWithAuth())})
}

func (a *API) SitesActive(c *gin.Context) {
	c.JSON(http.StatusOK, sitesResponse{Sites: nonNil(a.service.SitesActive())})
}

// UpdateConfig reloads the configuration file and applies it
func (a *API) UpdateConfig(c *gin.Context) {
	cfg, err := a.reload()
	if err != nil {
		log.Error().Err(err).Msg("config reload failed")
		c.JSON(http.StatusInternalServerError, model.Response{Status: false, Message: err.Error()})
		return
	}
	a.service.UpdateConfig(c.Request.Context(), cfg)
	c.JSON(http.StatusOK, model.Response{Status: true})
}

func nonNil(sites []string) []string {
	if sites == nil {
		return []string{}
	}
	return sites
}
