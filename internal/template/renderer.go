package template

import (
	"bytes"
	htmltemplate "html/template"
	"sync"
	texttemplate "text/template"
	"time"

	appErrors "github.com/nguyenhoangdanh/oauth-mail-sub000/internal/errors"
	"github.com/nguyenhoangdanh/oauth-mail-sub000/internal/model"
	"github.com/nguyenhoangdanh/oauth-mail-sub000/internal/repository"
)

// defaultStaleAfter bounds how long a cached compilation is trusted
// without consulting the store. Processes that never see Invalidate
// (the workers) pick up saved templates within this window.
const defaultStaleAfter = 30 * time.Second

type compiled struct {
	subject   *texttemplate.Template
	html      *htmltemplate.Template
	text      *texttemplate.Template
	updatedAt time.Time
	checkedAt time.Time
}

// Renderer renders named templates through a read-through cache over the
// template store. The cache is not a source of truth: entries are
// replaced on save, reloaded from the store on miss, and re-checked
// against the store's updated_at once they pass the staleness bound.
type Renderer struct {
	store      repository.TemplateRepositoryInterface
	mu         sync.RWMutex
	cache      map[string]*compiled
	staleAfter time.Duration
	now        func() time.Time
}

func NewRenderer(store repository.TemplateRepositoryInterface) *Renderer {
	return &Renderer{
		store:      store,
		cache:      make(map[string]*compiled),
		staleAfter: defaultStaleAfter,
		now:        time.Now,
	}
}

// Rendered is the output of one render pass.
type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

// Render compiles (or reuses) the named template and executes it with the
// given context. Missing templates yield ErrTemplateNotFound, broken ones
// ErrTemplateSyntax.
func (r *Renderer) Render(name string, data map[string]any) (*Rendered, error) {
	tpl, err := r.lookup(name)
	if err != nil {
		return nil, err
	}

	out := &Rendered{}
	var buf bytes.Buffer
	if tpl.subject != nil {
		if err := tpl.subject.Execute(&buf, data); err != nil {
			return nil, appErrors.NewTemplateSyntax(name, err)
		}
		out.Subject = buf.String()
	}
	if tpl.html != nil {
		buf.Reset()
		if err := tpl.html.Execute(&buf, data); err != nil {
			return nil, appErrors.NewTemplateSyntax(name, err)
		}
		out.HTML = buf.String()
	}
	if tpl.text != nil {
		buf.Reset()
		if err := tpl.text.Execute(&buf, data); err != nil {
			return nil, appErrors.NewTemplateSyntax(name, err)
		}
		out.Text = buf.String()
	}
	return out, nil
}

// Invalidate drops the cached compilation for a name. Called whenever a
// template is saved.
func (r *Renderer) Invalidate(name string) {
	r.mu.Lock()
	delete(r.cache, name)
	r.mu.Unlock()
}

func (r *Renderer) lookup(name string) (*compiled, error) {
	now := r.now()

	r.mu.RLock()
	tpl, ok := r.cache[name]
	fresh := ok && now.Sub(tpl.checkedAt) <= r.staleAfter
	r.mu.RUnlock()
	if fresh {
		return tpl, nil
	}

	row, err := r.store.GetActiveByName(name)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, appErrors.NewTemplateNotFound(name)
	}

	rowUpdated := time.Time{}
	if row.UpdatedAt != nil {
		rowUpdated = *row.UpdatedAt
	}
	if ok && rowUpdated.Equal(tpl.updatedAt) {
		// The stored row has not changed; keep the compilation.
		r.mu.Lock()
		tpl.checkedAt = now
		r.mu.Unlock()
		return tpl, nil
	}

	tpl, err = Compile(row)
	if err != nil {
		return nil, err
	}
	tpl.updatedAt = rowUpdated
	tpl.checkedAt = now

	r.mu.Lock()
	r.cache[name] = tpl
	r.mu.Unlock()
	return tpl, nil
}

// Compile parses all parts of a template row. Used both at save time, so
// broken templates are rejected synchronously, and on cache miss.
func Compile(row *model.Template) (*compiled, error) {
	out := &compiled{}
	var err error
	if row.Subject != "" {
		out.subject, err = texttemplate.New(row.Name + ":subject").Parse(row.Subject)
		if err != nil {
			return nil, appErrors.NewTemplateSyntax(row.Name, err)
		}
	}
	if row.HTMLBody != "" {
		out.html, err = htmltemplate.New(row.Name + ":html").Parse(row.HTMLBody)
		if err != nil {
			return nil, appErrors.NewTemplateSyntax(row.Name, err)
		}
	}
	if row.TextBody != "" {
		out.text, err = texttemplate.New(row.Name + ":text").Parse(row.TextBody)
		if err != nil {
			return nil, appErrors.NewTemplateSyntax(row.Name, err)
		}
	}
	return out, nil
}

// Validate checks a template row for syntax errors without caching it.
func Validate(row *model.Template) error {
	_, err := Compile(row)
	return err
}
