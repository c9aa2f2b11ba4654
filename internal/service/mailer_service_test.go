package service

import (
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	appErrors "github.com/nguyenhoangdanh/oauth-mail-sub000/internal/errors"
	"github.com/nguyenhoangdanh/oauth-mail-sub000/internal/model"
	"github.com/nguyenhoangdanh/oauth-mail-sub000/internal/queue"
)

type fakeMessageRepo struct {
	mu       sync.Mutex
	messages map[string]*model.Message
	resends  map[string]string
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{
		messages: make(map[string]*model.Message),
		resends:  make(map[string]string),
	}
}

func (r *fakeMessageRepo) Create(msg *model.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *msg
	r.messages[msg.ID] = &copied
	return nil
}

func (r *fakeMessageRepo) GetByID(id string) (*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.messages[id]
	if !ok {
		return nil, nil
	}
	copied := *msg
	return &copied, nil
}

func (r *fakeMessageRepo) BeginAttempt(id string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.messages[id]
	if !ok || (msg.Status != model.StatusPending && msg.Status != model.StatusProcessing) {
		return 0, sql.ErrNoRows
	}
	msg.Attempts++
	msg.Status = model.StatusProcessing
	return msg.Attempts, nil
}

func (r *fakeMessageRepo) MarkSent(id, providerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if msg, ok := r.messages[id]; ok {
		msg.Status = model.StatusSent
		msg.ProviderID = providerID
	}
	return nil
}

func (r *fakeMessageRepo) MarkFailed(id, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if msg, ok := r.messages[id]; ok {
		msg.Status = model.StatusFailed
		msg.LastError = lastError
	}
	return nil
}

func (r *fakeMessageRepo) SetStatus(id, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if msg, ok := r.messages[id]; ok {
		msg.Status = status
	}
	return nil
}

func (r *fakeMessageRepo) SetBounced(id, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if msg, ok := r.messages[id]; ok {
		msg.Status = model.StatusBounced
		msg.BounceReason = reason
	}
	return nil
}

func (r *fakeMessageRepo) SetResendID(id, resendID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resends[id] = resendID
	if msg, ok := r.messages[id]; ok {
		msg.ResendID = resendID
	}
	return nil
}

func (r *fakeMessageRepo) IncrementOpen(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.messages[id]
	if !ok {
		return sql.ErrNoRows
	}
	msg.OpenCount++
	if model.CanTransition(msg.Status, model.StatusOpened) {
		msg.Status = model.StatusOpened
	}
	return nil
}

func (r *fakeMessageRepo) IncrementClick(id, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.messages[id]
	if !ok {
		return sql.ErrNoRows
	}
	msg.ClickCount++
	msg.ClickedURL = url
	if model.CanTransition(msg.Status, model.StatusClicked) {
		msg.Status = model.StatusClicked
	}
	return nil
}

func (r *fakeMessageRepo) CampaignStats(campaignID string) (map[string]int, error) {
	return map[string]int{}, nil
}

type fakeEventRepo struct {
	mu     sync.Mutex
	events []*model.Event
}

func (r *fakeEventRepo) Create(evt *model.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *fakeEventRepo) ListByMessage(messageID string) ([]*model.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Event
	for _, evt := range r.events {
		if evt.MessageID == messageID {
			out = append(out, evt)
		}
	}
	return out, nil
}

func (r *fakeEventRepo) kinds(messageID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, evt := range r.events {
		if evt.MessageID == messageID {
			out = append(out, evt.Kind)
		}
	}
	return out
}

type published struct {
	Queue   string
	Payload any
	Opts    queue.Options
}

type fakePublisher struct {
	mu        sync.Mutex
	published []published
	err       error
}

func (p *fakePublisher) Publish(queueName string, payload any, opts queue.Options) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, published{Queue: queueName, Payload: payload, Opts: opts})
	return nil
}

func (p *fakePublisher) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]published, len(p.published))
	copy(out, p.published)
	return out
}

func newTestMailer(repo *fakeMessageRepo, events *fakeEventRepo, pub *fakePublisher) *MailerService {
	return &MailerService{
		Messages:   repo,
		Events:     events,
		Queue:      pub,
		Logger:     zap.NewNop().Sugar(),
		SendQueue:  "email.send",
		BatchQueue: "email.batch",
		BatchSize:  100,
		AppURL:     "http://app.local",
	}
}

func TestSendCreatesPendingMessageAndEnqueues(t *testing.T) {
	repo := newFakeMessageRepo()
	pub := &fakePublisher{}
	svc := newTestMailer(repo, &fakeEventRepo{}, pub)

	id, err := svc.Send(SendRequest{
		To:       "alice@example.com",
		Template: "welcome",
		Context:  map[string]any{"plan": "pro"},
		Priority: 7,
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	msg, _ := repo.GetByID(id)
	if msg == nil {
		t.Fatal("message not persisted")
	}
	if msg.Status != model.StatusPending {
		t.Errorf("status = %s, want pending", msg.Status)
	}

	jobs := pub.all()
	if len(jobs) != 1 {
		t.Fatalf("published %d jobs, want 1", len(jobs))
	}
	if jobs[0].Queue != "email.send" {
		t.Errorf("queue = %s", jobs[0].Queue)
	}
	job, ok := jobs[0].Payload.(queue.SendJob)
	if !ok {
		t.Fatalf("payload is %T", jobs[0].Payload)
	}
	if job.MessageID != id || job.To != "alice@example.com" {
		t.Errorf("unexpected job: %+v", job)
	}
	if jobs[0].Opts.Priority != 7 {
		t.Errorf("priority = %d, want 7", jobs[0].Opts.Priority)
	}
}

func TestSendRejectsInvalidRecipient(t *testing.T) {
	svc := newTestMailer(newFakeMessageRepo(), &fakeEventRepo{}, &fakePublisher{})

	for _, addr := range []string{"", "   ", "no-at-sign", "@example.com", "trailing@"} {
		_, err := svc.Send(SendRequest{To: addr, Template: "welcome"})
		var invalid *appErrors.ErrInvalidRecipient
		if !errors.As(err, &invalid) {
			t.Errorf("Send(%q) err = %v, want ErrInvalidRecipient", addr, err)
		}
	}
}

func TestSendBatchChunksRecipients(t *testing.T) {
	pub := &fakePublisher{}
	svc := newTestMailer(newFakeMessageRepo(), &fakeEventRepo{}, pub)

	recipients := make([]queue.Recipient, 250)
	for i := range recipients {
		recipients[i] = queue.Recipient{Address: "user@example.com"}
	}

	res, err := svc.SendBatch(BatchRequest{Recipients: recipients, Template: "welcome"})
	if err != nil {
		t.Fatalf("SendBatch: %v", err)
	}
	if res.Queued != 250 {
		t.Errorf("queued = %d, want 250", res.Queued)
	}

	jobs := pub.all()
	if len(jobs) != 3 {
		t.Fatalf("published %d chunks, want 3", len(jobs))
	}
	sizes := []int{100, 100, 50}
	for i, job := range jobs {
		batch, ok := job.Payload.(queue.BatchJob)
		if !ok {
			t.Fatalf("chunk %d payload is %T", i, job.Payload)
		}
		if batch.BatchID != res.BatchID {
			t.Errorf("chunk %d batch id mismatch", i)
		}
		if len(batch.Recipients) != sizes[i] {
			t.Errorf("chunk %d size = %d, want %d", i, len(batch.Recipients), sizes[i])
		}
	}
}

func TestSendBatchRejectsEmptyAndBadRecipients(t *testing.T) {
	svc := newTestMailer(newFakeMessageRepo(), &fakeEventRepo{}, &fakePublisher{})

	if _, err := svc.SendBatch(BatchRequest{Template: "welcome"}); err == nil {
		t.Error("empty batch should be rejected")
	}

	_, err := svc.SendBatch(BatchRequest{
		Template: "welcome",
		Recipients: []queue.Recipient{
			{Address: "ok@example.com"},
			{Address: "broken"},
		},
	})
	var invalid *appErrors.ErrInvalidRecipient
	if !errors.As(err, &invalid) {
		t.Errorf("err = %v, want ErrInvalidRecipient", err)
	}
}

func TestResendOnlyFromFailedOrBounced(t *testing.T) {
	repo := newFakeMessageRepo()
	pub := &fakePublisher{}
	svc := newTestMailer(repo, &fakeEventRepo{}, pub)

	failed := &model.Message{ID: "m1", ToAddress: "a@example.com", Template: "welcome", Status: model.StatusFailed}
	sent := &model.Message{ID: "m2", ToAddress: "b@example.com", Template: "welcome", Status: model.StatusSent}
	_ = repo.Create(failed)
	_ = repo.Create(sent)

	newID, err := svc.Resend("m1")
	if err != nil {
		t.Fatalf("Resend: %v", err)
	}
	if newID == "" || newID == "m1" {
		t.Fatalf("unexpected new id %q", newID)
	}
	if repo.resends["m1"] != newID {
		t.Error("original message not linked to the resend")
	}
	fresh, _ := repo.GetByID(newID)
	if fresh == nil || fresh.Status != model.StatusPending {
		t.Error("resend should create a fresh pending message")
	}

	if _, err := svc.Resend("m2"); err == nil || !strings.Contains(err.Error(), "cannot be resent") {
		t.Errorf("resend of sent message: err = %v", err)
	}

	_, err = svc.Resend("missing")
	var notFound *appErrors.ErrMessageNotFound
	if !errors.As(err, &notFound) {
		t.Errorf("resend of missing message: err = %v", err)
	}
}

func TestRecordOpenAndClick(t *testing.T) {
	repo := newFakeMessageRepo()
	events := &fakeEventRepo{}
	svc := newTestMailer(repo, events, &fakePublisher{})

	_ = repo.Create(&model.Message{ID: "m1", ToAddress: "a@example.com", Status: model.StatusSent})

	if err := svc.RecordOpen("m1"); err != nil {
		t.Fatalf("RecordOpen: %v", err)
	}
	msg, _ := repo.GetByID("m1")
	if msg.OpenCount != 1 || msg.Status != model.StatusOpened {
		t.Errorf("after open: count=%d status=%s", msg.OpenCount, msg.Status)
	}

	target, err := svc.RecordClick("m1", "https://example.com/offer")
	if err != nil {
		t.Fatalf("RecordClick: %v", err)
	}
	if target != "https://example.com/offer" {
		t.Errorf("target = %s", target)
	}
	msg, _ = repo.GetByID("m1")
	if msg.ClickCount != 1 || msg.Status != model.StatusClicked {
		t.Errorf("after click: count=%d status=%s", msg.ClickCount, msg.Status)
	}

	kinds := events.kinds("m1")
	if len(kinds) != 2 || kinds[0] != model.EventOpened || kinds[1] != model.EventClicked {
		t.Errorf("event kinds = %v", kinds)
	}
}

func TestRecordClickRejectsUnsafeTargets(t *testing.T) {
	repo := newFakeMessageRepo()
	svc := newTestMailer(repo, &fakeEventRepo{}, &fakePublisher{})
	_ = repo.Create(&model.Message{ID: "m1", ToAddress: "a@example.com", Status: model.StatusSent})

	for _, raw := range []string{"javascript:alert(1)", "ftp://files", "/relative", "not a url at all://"} {
		target, err := svc.RecordClick("m1", raw)
		if err != nil {
			t.Fatalf("RecordClick(%q): %v", raw, err)
		}
		if target != "http://app.local" {
			t.Errorf("RecordClick(%q) = %q, want app url fallback", raw, target)
		}
	}
}

func TestRecordProviderEventGatesTransitions(t *testing.T) {
	repo := newFakeMessageRepo()
	events := &fakeEventRepo{}
	svc := newTestMailer(repo, events, &fakePublisher{})
	_ = repo.Create(&model.Message{ID: "m1", ToAddress: "a@example.com", Status: model.StatusClicked})

	// A late delivered notification must not regress a clicked message,
	// but the event row is still recorded.
	if err := svc.RecordProviderEvent("m1", model.EventDelivered, nil); err != nil {
		t.Fatalf("RecordProviderEvent: %v", err)
	}
	msg, _ := repo.GetByID("m1")
	if msg.Status != model.StatusClicked {
		t.Errorf("status regressed to %s", msg.Status)
	}
	if kinds := events.kinds("m1"); len(kinds) != 1 || kinds[0] != model.EventDelivered {
		t.Errorf("event kinds = %v", kinds)
	}

	err := svc.RecordProviderEvent("m1", "email.unsubscribed", nil)
	var unsupported *appErrors.ErrUnsupportedEventType
	if !errors.As(err, &unsupported) {
		t.Errorf("unknown kind: err = %v", err)
	}
}

func TestRecordProviderEventBounce(t *testing.T) {
	repo := newFakeMessageRepo()
	svc := newTestMailer(repo, &fakeEventRepo{}, &fakePublisher{})
	_ = repo.Create(&model.Message{ID: "m1", ToAddress: "a@example.com", Status: model.StatusSent})

	if err := svc.RecordProviderEvent("m1", model.EventBounced, map[string]string{"reason": "mailbox full"}); err != nil {
		t.Fatalf("RecordProviderEvent: %v", err)
	}
	msg, _ := repo.GetByID("m1")
	if msg.Status != model.StatusBounced || msg.BounceReason != "mailbox full" {
		t.Errorf("after bounce: status=%s reason=%q", msg.Status, msg.BounceReason)
	}
}
