package repository

import (
	"database/sql"
	"time"

	"github.com/nguyenhoangdanh/oauth-mail-sub000/internal/model"
)

type TemplateRepositoryInterface interface {
	GetActiveByName(name string) (*model.Template, error)
	Save(tpl *model.Template) error
	List() ([]*model.Template, error)
}

type TemplateRepository struct {
	DB *sql.DB
}

func (r *TemplateRepository) GetActiveByName(name string) (*model.Template, error) {
	query := `
        SELECT id, name, subject, html_body, text_body, active, created_at, updated_at
        FROM templates
        WHERE name=$1 AND active=TRUE
    `
	var tpl model.Template
	err := r.DB.QueryRow(query, name).Scan(
		&tpl.ID, &tpl.Name, &tpl.Subject, &tpl.HTMLBody, &tpl.TextBody,
		&tpl.Active, &tpl.CreatedAt, &tpl.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &tpl, nil
}

// Save upserts a template by name. The renderer invalidates its cached
// compilation whenever this succeeds.
func (r *TemplateRepository) Save(tpl *model.Template) error {
	now := time.Now()
	query := `
        INSERT INTO templates (name, subject, html_body, text_body, active, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (name) DO UPDATE
        SET subject=$2, html_body=$3, text_body=$4, active=$5, updated_at=$7
        RETURNING id
    `
	return r.DB.QueryRow(query, tpl.Name, tpl.Subject, tpl.HTMLBody, tpl.TextBody, tpl.Active, now, now).Scan(&tpl.ID)
}

func (r *TemplateRepository) List() ([]*model.Template, error) {
	query := `
        SELECT id, name, subject, html_body, text_body, active, created_at, updated_at
        FROM templates
        ORDER BY name ASC
    `
	rows, err := r.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	templates := []*model.Template{}
	for rows.Next() {
		tpl := &model.Template{}
		if err := rows.Scan(&tpl.ID, &tpl.Name, &tpl.Subject, &tpl.HTMLBody, &tpl.TextBody,
			&tpl.Active, &tpl.CreatedAt, &tpl.UpdatedAt); err != nil {
			return nil, err
		}
		templates = append(templates, tpl)
	}
	return templates, rows.Err()
}

var _ TemplateRepositoryInterface = (*TemplateRepository)(nil)
