package http

import (
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/pollbox/pollbox/internal/polls"
	"github.com/pollbox/pollbox/internal/ws"
)

// SetupRoutes configures all application routes and middleware.
func SetupRoutes(router *gin.Engine, db *gorm.DB, hub *ws.Hub) {

	// --- Dependencies ---
	env := &Env{Polls: polls.NewService(db), Hub: hub}

	// --- Middleware ---
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(SecurityHeadersMiddleware())

	corsOrigin := os.Getenv("CORS_ORIGIN")
	if corsOrigin == "" {
		corsOrigin = "*" // Default to allow all for local dev
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{corsOrigin},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
	}))

	// --- Rate Limiter Setup ---
	limiter := NewIPRateLimiter(rate.Limit(rateLimitRPS), rateLimitBurst)
	go func() {
		for {
			time.Sleep(10 * time.Minute)
			limiter.mu.Lock()
			for ip, v := range limiter.visitors {
				// An idle limiter has refilled; drop it. Busy ones stay.
				if v.Allow() {
					delete(limiter.visitors, ip)
				}
			}
			limiter.mu.Unlock()
		}
	}()

	// --- Poll Routes ---
	router.GET("/", func(c *gin.Context) {
		c.Redirect(302, "/polls")
	})

	pollRoutes := router.Group("/polls")
	{
		pollRoutes.GET("", env.Index)
		pollRoutes.GET("/:id", env.Detail)
		pollRoutes.GET("/:id/results", env.Results)
		pollRoutes.GET("/:id/report", env.Report)
		pollRoutes.POST("/:id/vote", RateLimitMiddleware(limiter), env.Vote)
	}

	// --- WebSocket Route ---
	router.GET("/ws/polls/:id", env.ServeResultsFeed)

	// --- Health Check ---
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Anything else gets the same 404 page as a missing question.
	router.NoRoute(renderNotFound)
}
