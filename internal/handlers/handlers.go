// Package handlers exposes the services over HTTP with gin.
package handlers

import (
	"net/http"
	"strconv"

	z "github.com/Oudwins/zog"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adedejiosvaldo/safetour/backend/internal/apperr"
	"github.com/adedejiosvaldo/safetour/backend/internal/logger"
	"github.com/adedejiosvaldo/safetour/backend/internal/models"
)

const (
	ctxUserID = "user_id"
	ctxRole   = "role"
)

// respondError writes {"error": msg} with the status implied by err.
// Internal errors are logged and masked.
func respondError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		logger.Named("http").Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	c.JSON(status, gin.H{"error": apperr.PublicMessage(err)})
}

// bindJSON decodes the body into req and runs schema over the result.
func bindJSON(c *gin.Context, req any, schema *z.StructSchema) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid request",
			"details": err.Error(),
		})
		return false
	}
	if schema == nil {
		return true
	}
	if issues := schema.Validate(req); issues != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation failed",
			"details": issueMessages(issues),
		})
		return false
	}
	return true
}

func issueMessages(issues z.ZogIssueMap) map[string][]string {
	out := make(map[string][]string, len(issues))
	for field, list := range issues {
		for _, iss := range list {
			out[field] = append(out[field], iss.Message)
		}
	}
	return out
}

func userID(c *gin.Context) uuid.UUID {
	id, _ := c.Get(ctxUserID)
	uid, _ := id.(uuid.UUID)
	return uid
}

func role(c *gin.Context) models.Role {
	r, _ := c.Get(ctxRole)
	out, _ := r.(models.Role)
	return out
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid " + name,
			"details": err.Error(),
		})
		return uuid.Nil, false
	}
	return id, true
}

// limitQuery reads ?limit=; services clamp the value.
func limitQuery(c *gin.Context) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil {
		return 0
	}
	return n
}
