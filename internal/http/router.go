package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/lilerp/backend/internal/config"
	"github.com/lilerp/backend/internal/db"
	"github.com/lilerp/backend/internal/geocode"
	"github.com/lilerp/backend/internal/http/handlers"
	"github.com/lilerp/backend/internal/http/middleware"
	"github.com/lilerp/backend/internal/ivr"
	"github.com/lilerp/backend/internal/telephony"

	_ "github.com/lilerp/backend/docs"
)

func Router(cfg config.Config, store *db.Store, machine *ivr.Machine, dialer telephony.Dialer, geocoder geocode.Geocoder, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Admin-Key", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.CORSAllowed == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = []string{cfg.CORSAllowed}
	}
	r.Use(cors.New(corsCfg))

	h := &handlers.Handler{
		Store:       store,
		Machine:     machine,
		Dialer:      dialer,
		Geocoder:    geocoder,
		Validator:   validator.New(),
		Logger:      logger,
		AdminKey:    cfg.AdminKey,
		CountryCode: cfg.CountryCode,
		Country:     "Liberia",
	}

	r.GET("/healthz", h.Healthz)

	api := r.Group("/api")
	{
		api.GET("/incidents", h.IncidentsList)
		api.GET("/incidents/:id", h.IncidentDetails)
		api.POST("/incidents", h.IncidentCreate)
		api.GET("/responders", h.RespondersList)
	}

	// Voice webhooks are authenticated by provider signature, not admin key.
	webhooks := api.Group("/ivr")
	webhooks.Use(middleware.TwilioSignature(cfg.TwilioAuthToken, cfg.BaseURL, cfg.ValidateSignature))
	{
		webhooks.POST("/incoming-call", h.IVRIncomingCall)
		webhooks.POST("/menu", h.IVRMenu)
		webhooks.POST("/recording", h.IVRRecording)
		webhooks.POST("/transcription", h.IVRTranscription)
		webhooks.POST("/call-status", h.IVRCallStatus)
	}

	admin := api.Group("")
	admin.Use(middleware.AdminKey(cfg.AdminKey))
	{
		admin.POST("/ivr/initiate-call", h.InitiateCall)
		admin.PATCH("/incidents/:id/status", h.IncidentStatus)
		admin.POST("/incidents/:id/assign", h.IncidentAssign)
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}
