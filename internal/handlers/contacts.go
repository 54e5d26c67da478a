package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/adedejiosvaldo/safetour/backend/internal/services"
)

type ContactsHandler struct {
	profiles *services.ProfileService
}

func NewContactsHandler(profiles *services.ProfileService) *ContactsHandler {
	return &ContactsHandler{profiles: profiles}
}

type AddContactRequest struct {
	Name         string `json:"name" binding:"required"`
	Phone        string `json:"phone" binding:"required"`
	Relationship string `json:"relationship"`
}

type UpdateContactRequest struct {
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	Relationship string `json:"relationship"`
}

// GET /v1/contacts
func (h *ContactsHandler) GetContacts(c *gin.Context) {
	contacts, err := h.profiles.Contacts(c.Request.Context(), userID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":  userID(c),
		"contacts": contacts,
	})
}

// POST /v1/contacts
func (h *ContactsHandler) AddContact(c *gin.Context) {
	var req AddContactRequest
	if !bindJSON(c, &req, nil) {
		return
	}

	contact, err := h.profiles.AddContact(c.Request.Context(), userID(c), services.ContactInput(req))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"status":  "success",
		"contact": contact,
		"message": "contact added successfully",
	})
}

// PUT /v1/contacts/:contactId
func (h *ContactsHandler) UpdateContact(c *gin.Context) {
	var req UpdateContactRequest
	if !bindJSON(c, &req, nil) {
		return
	}

	if err := h.profiles.UpdateContact(c.Request.Context(), userID(c), c.Param("contactId"), services.ContactInput(req)); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "contact updated successfully",
	})
}

// DELETE /v1/contacts/:contactId
func (h *ContactsHandler) DeleteContact(c *gin.Context) {
	if err := h.profiles.DeleteContact(c.Request.Context(), userID(c), c.Param("contactId")); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "contact deleted successfully",
	})
}
