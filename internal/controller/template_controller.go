package controller

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	appErrors "github.com/nguyenhoangdanh/oauth-mail-sub000/internal/errors"
	"github.com/nguyenhoangdanh/oauth-mail-sub000/internal/model"
	"github.com/nguyenhoangdanh/oauth-mail-sub000/internal/repository"
	"github.com/nguyenhoangdanh/oauth-mail-sub000/internal/template"
)

type TemplateController struct {
	Templates repository.TemplateRepositoryInterface
	Renderer  *template.Renderer
}

// SaveTemplate upserts a template. Syntax is validated here so broken
// templates are rejected synchronously instead of failing sends later.
func (c *TemplateController) SaveTemplate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name     string `json:"name"`
		Subject  string `json:"subject"`
		HTMLBody string `json:"html_body"`
		TextBody string `json:"text_body"`
		Active   *bool  `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if body.Name == "" {
		http.Error(w, "template name is required", http.StatusBadRequest)
		return
	}

	tpl := &model.Template{
		Name:     body.Name,
		Subject:  body.Subject,
		HTMLBody: body.HTMLBody,
		TextBody: body.TextBody,
		Active:   true,
	}
	if body.Active != nil {
		tpl.Active = *body.Active
	}

	if err := template.Validate(tpl); err != nil {
		writeError(w, err)
		return
	}
	if err := c.Templates.Save(tpl); err != nil {
		writeError(w, err)
		return
	}
	c.Renderer.Invalidate(tpl.Name)

	writeJSON(w, http.StatusOK, tpl)
}

func (c *TemplateController) GetTemplate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	tpl, err := c.Templates.GetActiveByName(name)
	if err != nil {
		writeError(w, err)
		return
	}
	if tpl == nil {
		writeError(w, appErrors.NewTemplateNotFound(name))
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

func (c *TemplateController) ListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := c.Templates.List()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": templates})
}
