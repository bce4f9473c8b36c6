// Package handlers implements the engine's REST and WebSocket handlers,
// translating HTTP requests into Facade calls and Facade error types into
// status codes.
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/chatforge/engine/services/bot"
	"github.com/chatforge/engine/services/bot/facade"
	"github.com/chatforge/engine/services/engine/middleware"
)

// Health reports liveness. Not behind auth: used by load balancers and
// orchestration probes.
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// statusFor maps the Facade's error taxonomy to an HTTP status code via
// errors.As, so handlers never branch on error message text.
func statusFor(err error) int {
	var notFound *bot.NotFoundError
	var ownership *bot.OwnershipError
	var validation *bot.ValidationError
	var unknownFile *bot.UnknownFilenameError
	var quota *bot.BotQuotaExceededError
	var alreadyRunning *bot.AlreadyRunningError

	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &ownership):
		return http.StatusForbidden
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &unknownFile):
		return http.StatusBadRequest
	case errors.As(err, &quota):
		return http.StatusTooManyRequests
	case errors.As(err, &alreadyRunning):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

// writeResult writes a bot.Result returned by a lifecycle operation. A
// Result with OK false means the operation ran but did not reach the
// requested state (e.g. a RADAR veto or a spawn failure) — that is a
// client-visible failure, not a server error, so it is reported as 422
// rather than 200.
func writeResult(c *gin.Context, res bot.Result) {
	if !res.OK {
		c.JSON(http.StatusUnprocessableEntity, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

type createBotRequest struct {
	Name       string      `json:"name" binding:"required"`
	Runtime    bot.Runtime `json:"runtime" binding:"required"`
	Credential string      `json:"credential" binding:"required"`
}

// CreateBot implements POST /bots: creates a new bot owned by the
// authenticated caller, enforcing MAX_BOTS_PER_USER.
func CreateBot(fc *facade.Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createBotRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		b, err := fc.CreateBot(c.Request.Context(), middleware.GetUserID(c), req.Name, req.Runtime, req.Credential)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, b)
	}
}

// Start implements POST /bots/:id/start.
func Start(fc *facade.Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := fc.Start(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		writeResult(c, res)
	}
}

// Stop implements POST /bots/:id/stop.
func Stop(fc *facade.Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := fc.Stop(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		writeResult(c, res)
	}
}

// Restart implements POST /bots/:id/restart.
func Restart(fc *facade.Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := fc.Restart(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		writeResult(c, res)
	}
}

// ReadLogs implements GET /bots/:id/logs. The optional "limit" query
// parameter bounds the number of records returned, newest first.
func ReadLogs(fc *facade.Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 100
		if q := c.Query("limit"); q != "" {
			if n, err := strconv.Atoi(q); err == nil && n > 0 {
				limit = n
			}
		}
		logs, err := fc.ReadLogs(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), limit)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, logs)
	}
}

type updateFileRequest struct {
	Content string `json:"content"`
}

// UpdateFile implements PUT /bots/:id/files/:name.
func UpdateFile(fc *facade.Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req updateFileRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		err := fc.UpdateFile(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), c.Param("name"), req.Content)
		if err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// Delete implements DELETE /bots/:id.
func Delete(fc *facade.Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := fc.Delete(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
