package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/lilerp/backend/internal/db"
	"github.com/lilerp/backend/internal/geocode"
	"github.com/lilerp/backend/internal/ivr"
	"github.com/lilerp/backend/internal/telephony"
)

type Handler struct {
	Store       *db.Store
	Machine     *ivr.Machine
	Dialer      telephony.Dialer
	Geocoder    geocode.Geocoder
	Validator   *validator.Validate
	Logger      zerolog.Logger
	AdminKey    string
	CountryCode string
	Country     string
}

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}
