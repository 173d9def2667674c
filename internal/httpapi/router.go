package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/corwinhq/taskforge/internal/engineerr"
	"github.com/corwinhq/taskforge/internal/httpapi/middleware"
	"github.com/corwinhq/taskforge/internal/notifier"
	"github.com/corwinhq/taskforge/internal/platform/logger"
)

type RouterConfig struct {
	Handlers     *Handlers
	Auth         *middleware.Auth
	Hub          *notifier.Hub
	Log          *logger.Logger
	AllowOrigins []string
}

// NewRouter wires the four engine routes plus the job-stream SSE endpoint
// (§10.2), grounded on the teacher's internal/http/router.go grouping
// convention: a public group for health, a protected group behind
// auth middleware for everything else.
func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(cfg.Log))
	r.Use(middleware.CORS(cfg.AllowOrigins))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	protected := r.Group("/")
	protected.Use(cfg.Auth.RequireAuth())
	{
		protected.POST("/jobs", cfg.Handlers.CreateJob)
		protected.GET("/jobs", cfg.Handlers.ListJobs)
		protected.GET("/jobs/:id", cfg.Handlers.GetJob)
		protected.POST("/jobs/:id", cfg.Handlers.RetryJob)

		if cfg.Hub != nil {
			protected.GET("/stream", func(c *gin.Context) {
				principalID, ok := middleware.PrincipalID(c)
				if !ok {
					respondErr(c, engineerr.ErrUnauthorized)
					return
				}
				client := cfg.Hub.NewClient(principalID.String())
				defer cfg.Hub.CloseClient(client)
				cfg.Hub.ServeHTTP(c.Writer, c.Request, client)
			})
		}
	}

	return r
}
