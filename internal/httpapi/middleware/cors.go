package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORS mirrors the teacher's internal/http/middleware/cors.go shape
// (gin-contrib/cors with an explicit allow-list) generalized to take the
// allow-list as a parameter since the engine has no fixed frontend origin
// set of its own.
func CORS(allowOrigins []string) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With", "Idempotency-Key"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}
