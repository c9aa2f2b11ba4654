package model

import "time"

type Template struct {
	ID        int        `db:"id" json:"id"`
	Name      string     `db:"name" json:"name"`
	Subject   string     `db:"subject" json:"subject"`
	HTMLBody  string     `db:"html_body" json:"html_body"`
	TextBody  string     `db:"text_body" json:"text_body"`
	Active    bool       `db:"active" json:"active"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}
