package handlers

import (
	"net/http"

	z "github.com/Oudwins/zog"
	"github.com/gin-gonic/gin"

	"github.com/adedejiosvaldo/safetour/backend/internal/models"
	"github.com/adedejiosvaldo/safetour/backend/internal/services"
)

type AuthHandler struct {
	auth *services.AuthService
}

func NewAuthHandler(auth *services.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

type RegisterRequest struct {
	Email      string `json:"email" binding:"required"`
	Password   string `json:"password" binding:"required"`
	Name       string `json:"name" binding:"required"`
	Phone      string `json:"phone"`
	Role       string `json:"role"`
	InviteCode string `json:"invite_code"`
}

var registerSchema = z.Struct(z.Shape{
	"Email":    z.String().Email(),
	"Password": z.String().Min(8),
	"Name":     z.String().Max(200),
	"Role":     z.String().OneOf([]string{"", string(models.RoleTourist), string(models.RolePolice), string(models.RoleAdmin)}),
})

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// POST /v1/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if !bindJSON(c, &req, registerSchema) {
		return
	}

	user, err := h.auth.Register(c.Request.Context(), services.RegisterInput{
		Email:      req.Email,
		Password:   req.Password,
		Name:       req.Name,
		Phone:      req.Phone,
		Role:       models.Role(req.Role),
		InviteCode: req.InviteCode,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"user": user})
}

// POST /v1/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if !bindJSON(c, &req, nil) {
		return
	}

	res, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
