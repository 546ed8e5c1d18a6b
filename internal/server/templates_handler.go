package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ifuryst/autopost/internal/service"
)

func (s *Server) handleListTemplates(c *gin.Context) {
	templates, err := s.Templates.List(c.Request.Context(), c.Query("category"), c.Query("is_active"))
	if err != nil {
		s.respondError(c, "Server error while fetching templates", err)
		return
	}
	list(c, templates)
}

func (s *Server) handleCreateTemplate(c *gin.Context) {
	var input service.CreateTemplateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}

	tpl, err := s.Templates.Create(c.Request.Context(), input)
	if err != nil {
		s.respondError(c, "Server error while creating template", err)
		return
	}
	ok(c, http.StatusCreated, "Template created successfully", tpl)
}

func (s *Server) handleGetTemplate(c *gin.Context) {
	tpl, err := s.Templates.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, "Server error while fetching template", err)
		return
	}
	ok(c, http.StatusOK, "", tpl)
}

// handleFillTemplate takes a flat JSON object of placeholder values. Non
// string values are formatted, null becomes empty.
func (s *Server) handleFillTemplate(c *gin.Context) {
	var body map[string]interface{}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, "Invalid request body: "+err.Error())
			return
		}
	}

	data := make(map[string]string, len(body))
	for k, v := range body {
		if v == nil {
			data[k] = ""
			continue
		}
		data[k] = fmt.Sprint(v)
	}

	filled, err := s.Templates.Fill(c.Request.Context(), c.Param("id"), data)
	if err != nil {
		s.respondError(c, "Server error while filling template", err)
		return
	}
	ok(c, http.StatusOK, "", filled)
}

func (s *Server) handleDeleteTemplate(c *gin.Context) {
	if err := s.Templates.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.respondError(c, "Server error while deleting template", err)
		return
	}
	ok(c, http.StatusOK, "Template deleted successfully", nil)
}
