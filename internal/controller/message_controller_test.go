package controller

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/nguyenhoangdanh/oauth-mail-sub000/internal/model"
	"github.com/nguyenhoangdanh/oauth-mail-sub000/internal/service"
)

func newMessageRouter(repo *memMessageRepo) *chi.Mux {
	mailer := &service.MailerService{
		Messages:  repo,
		Events:    &memEventRepo{},
		Queue:     nopPublisher{},
		Logger:    zap.NewNop().Sugar(),
		SendQueue: "email.send",
		AppURL:    "http://app.local",
	}
	mc := &MessageController{MailerService: mailer, Messages: repo}

	r := chi.NewRouter()
	r.Post("/messages", mc.SendMessage)
	r.Get("/messages/{id}", mc.GetMessage)
	r.Post("/messages/{id}/events", mc.RecordEvent)
	return r
}

func TestSendMessageEndpoint(t *testing.T) {
	repo := &memMessageRepo{messages: map[string]*model.Message{}}
	router := newMessageRouter(repo)

	body := `{"to":"alice@example.com","template":"welcome","context":{"plan":"pro"}}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader(body)))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	id := resp["message_id"]
	if id == "" {
		t.Fatal("no message_id in response")
	}
	if repo.messages[id] == nil {
		t.Error("message not persisted")
	}
}

func TestSendMessageValidation(t *testing.T) {
	router := newMessageRouter(&memMessageRepo{messages: map[string]*model.Message{}})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader(`{"to":"not-an-address","template":"welcome"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid recipient: status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader(`{broken`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: status = %d", rec.Code)
	}
}

func TestGetMessageEndpoint(t *testing.T) {
	repo := &memMessageRepo{messages: map[string]*model.Message{
		"m1": {ID: "m1", ToAddress: "a@example.com", Status: model.StatusSent},
	}}
	router := newMessageRouter(repo)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/messages/m1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var msg model.Message
	if err := json.Unmarshal(rec.Body.Bytes(), &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.ID != "m1" || msg.Status != model.StatusSent {
		t.Errorf("message = %+v", msg)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/messages/ghost", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing message: status = %d", rec.Code)
	}
}

func TestRecordEventEndpoint(t *testing.T) {
	repo := &memMessageRepo{messages: map[string]*model.Message{
		"m1": {ID: "m1", ToAddress: "a@example.com", Status: model.StatusSent},
	}}
	router := newMessageRouter(repo)

	body := `{"event":"email.bounced","metadata":{"reason":"mailbox full"}}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/messages/m1/events", strings.NewReader(body)))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if repo.messages["m1"].Status != model.StatusBounced {
		t.Errorf("message status = %s, want bounced", repo.messages["m1"].Status)
	}
	if repo.messages["m1"].BounceReason != "mailbox full" {
		t.Errorf("bounce reason = %q", repo.messages["m1"].BounceReason)
	}

	// Bare kind works the same as the prefixed form.
	repo.messages["m2"] = &model.Message{ID: "m2", ToAddress: "b@example.com", Status: model.StatusSent}
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/messages/m2/events", strings.NewReader(`{"event":"delivered"}`)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("bare kind: status = %d", rec.Code)
	}
	if repo.messages["m2"].Status != model.StatusDelivered {
		t.Errorf("message status = %s, want delivered", repo.messages["m2"].Status)
	}
}

func TestRecordEventEndpointValidation(t *testing.T) {
	repo := &memMessageRepo{messages: map[string]*model.Message{
		"m1": {ID: "m1", ToAddress: "a@example.com", Status: model.StatusSent},
	}}
	router := newMessageRouter(repo)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/messages/m1/events", strings.NewReader(`{"event":"unsubscribed"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown kind: status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/messages/ghost/events", strings.NewReader(`{"event":"delivered"}`)))
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing message: status = %d", rec.Code)
	}
}
