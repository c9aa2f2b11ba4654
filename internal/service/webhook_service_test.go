package service

import (
	"errors"
	"net/http"
	"testing"

	"go.uber.org/zap"

	appErrors "github.com/nguyenhoangdanh/oauth-mail-sub000/internal/errors"
	"github.com/nguyenhoangdanh/oauth-mail-sub000/internal/model"
	"github.com/nguyenhoangdanh/oauth-mail-sub000/internal/queue"
)

func newTestWebhookService(repo *fakeWebhookRepo, pub *fakePublisher) *WebhookService {
	return &WebhookService{
		Repo:         repo,
		Queue:        pub,
		Logger:       zap.NewNop().Sugar(),
		WebhookQueue: "webhook.deliver",
	}
}

func TestCreateSubscriptionDefaults(t *testing.T) {
	repo := newFakeWebhookRepo()
	svc := newTestWebhookService(repo, &fakePublisher{})

	sub, err := svc.CreateSubscription(SubscriptionRequest{
		Name:  "crm sync",
		Event: "email.sent",
		URL:   "https://crm.local/hook",
	}, "user-1")
	if err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}

	if !sub.Active {
		t.Error("new subscription should be active")
	}
	if sub.Method != http.MethodPost || sub.MaxRetries != 3 || sub.TimeoutSeconds != 30 {
		t.Errorf("defaults = method %s retries %d timeout %d", sub.Method, sub.MaxRetries, sub.TimeoutSeconds)
	}
	if len(sub.Secret) != 64 {
		t.Errorf("generated secret length = %d, want 64 hex chars", len(sub.Secret))
	}
	if sub.UserID != "user-1" {
		t.Errorf("user id = %s", sub.UserID)
	}
}

func TestCreateSubscriptionValidation(t *testing.T) {
	svc := newTestWebhookService(newFakeWebhookRepo(), &fakePublisher{})

	_, err := svc.CreateSubscription(SubscriptionRequest{Event: "email.archived", URL: "https://x.local"}, "")
	var unsupported *appErrors.ErrUnsupportedEventType
	if !errors.As(err, &unsupported) {
		t.Errorf("unsupported event: err = %v", err)
	}

	if _, err := svc.CreateSubscription(SubscriptionRequest{Event: "email.sent"}, ""); err == nil {
		t.Error("missing url should be rejected")
	}

	// GET is not an allowed delivery method; fall back to POST.
	sub, err := svc.CreateSubscription(SubscriptionRequest{Event: "email.sent", URL: "https://x.local", Method: "get"}, "")
	if err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}
	if sub.Method != http.MethodPost {
		t.Errorf("method = %s, want POST fallback", sub.Method)
	}
}

func TestSubscriptionOwnerScoping(t *testing.T) {
	repo := newFakeWebhookRepo()
	svc := newTestWebhookService(repo, &fakePublisher{})

	sub, _ := svc.CreateSubscription(SubscriptionRequest{Event: "email.sent", URL: "https://x.local"}, "owner")

	if _, err := svc.GetSubscription(sub.ID, "owner"); err != nil {
		t.Errorf("owner access: %v", err)
	}
	// Admin view.
	if _, err := svc.GetSubscription(sub.ID, ""); err != nil {
		t.Errorf("admin access: %v", err)
	}

	_, err := svc.GetSubscription(sub.ID, "intruder")
	var notFound *appErrors.ErrSubscriptionNotFound
	if !errors.As(err, &notFound) {
		t.Errorf("foreign access: err = %v, want not-found", err)
	}
	if err := svc.DeleteSubscription(sub.ID, "intruder"); err == nil {
		t.Error("foreign delete should fail")
	}
}

func TestActivateResetsFailureCounter(t *testing.T) {
	repo := newFakeWebhookRepo()
	svc := newTestWebhookService(repo, &fakePublisher{})

	sub, _ := svc.CreateSubscription(SubscriptionRequest{Event: "email.sent", URL: "https://x.local"}, "")
	for i := 0; i < model.DisableThreshold; i++ {
		_, _, _ = repo.RecordFailure(sub.ID, "boom", model.DisableThreshold)
	}
	got, _ := repo.GetSubscription(sub.ID)
	if got.Active {
		t.Fatal("subscription should be disabled after sustained failure")
	}

	if err := svc.Activate(sub.ID, ""); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	got, _ = repo.GetSubscription(sub.ID)
	if !got.Active || got.FailedAttempts != 0 {
		t.Errorf("after activate: active=%v failed=%d", got.Active, got.FailedAttempts)
	}
}

func TestRetryDeliverySubmitsSingleJob(t *testing.T) {
	repo := newFakeWebhookRepo()
	pub := &fakePublisher{}
	svc := newTestWebhookService(repo, pub)

	sub, _ := svc.CreateSubscription(SubscriptionRequest{Event: "email.sent", URL: "https://x.local"}, "")
	_ = repo.CreateAttempt(&model.WebhookDeliveryAttempt{
		ID:             "a1",
		SubscriptionID: sub.ID,
		Payload:        []byte(`{"event":"sent"}`),
		Attempt:        3,
		Status:         model.AttemptFailed,
	})

	if err := svc.RetryDelivery("a1", ""); err != nil {
		t.Fatalf("RetryDelivery: %v", err)
	}

	jobs := pub.all()
	if len(jobs) != 1 {
		t.Fatalf("jobs = %d, want 1", len(jobs))
	}
	job, _ := jobs[0].Payload.(queue.WebhookJob)
	if !job.Single {
		t.Error("manual retry must be a single-try job")
	}
	if job.AttemptID != "a1" || job.SubscriptionID != sub.ID {
		t.Errorf("job = %+v", job)
	}

	attempt, _ := repo.GetAttempt("a1")
	if attempt.Status != model.AttemptQueued {
		t.Errorf("attempt status = %s, want queued", attempt.Status)
	}

	if err := svc.RetryDelivery("missing", ""); err == nil {
		t.Error("retry of unknown attempt should fail")
	}
}
