package controller

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/nguyenhoangdanh/oauth-mail-sub000/internal/service"
)

// transparentGIF is a 1x1 transparent pixel, served for every open hit
// regardless of whether the message exists so mail clients see nothing
// unusual.
var transparentGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

type TrackingController struct {
	MailerService *service.MailerService
	AppURL        string
	Logger        *zap.SugaredLogger
}

// Open serves the tracking beacon and records the open.
func (c *TrackingController) Open(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := c.MailerService.RecordOpen(id); err != nil {
		c.Logger.Debugw("open tracking ignored", "message_id", id, "error", err)
	}

	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store, max-age=0")
	_, _ = w.Write(transparentGIF)
}

// Click records the click and redirects. Unsafe targets redirect to the
// application URL instead.
func (c *TrackingController) Click(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rawURL := r.URL.Query().Get("url")

	target, err := c.MailerService.RecordClick(id, rawURL)
	if err != nil {
		c.Logger.Debugw("click tracking ignored", "message_id", id, "error", err)
		target = c.AppURL
	}
	if target == "" {
		target = c.AppURL
	}

	http.Redirect(w, r, target, http.StatusFound)
}
