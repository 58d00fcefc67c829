package outbox

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/plancheckout/internal/model"
	"github.com/hitoshi/plancheckout/internal/repository"
)

// --- モック定義 ---

type failedCall struct {
	id        string
	lastError string
	next      time.Time
}

// mockOutboxRepo はOutboxRepositoryのテスト用モック。
type mockOutboxRepo struct {
	claimDueFunc func(ctx context.Context, limit int, lease time.Duration) ([]*model.OutboxMessage, error)
	markSentErr  error

	claimLimit int
	claimLease time.Duration
	sent       []string
	failed     []failedCall
}

func (m *mockOutboxRepo) ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]*model.OutboxMessage, error) {
	m.claimLimit = limit
	m.claimLease = lease
	if m.claimDueFunc != nil {
		return m.claimDueFunc(ctx, limit, lease)
	}
	return nil, nil
}

func (m *mockOutboxRepo) MarkSent(_ context.Context, ids []string) error {
	if m.markSentErr != nil {
		return m.markSentErr
	}
	m.sent = append(m.sent, ids...)
	return nil
}

func (m *mockOutboxRepo) MarkFailed(_ context.Context, id string, lastError string, next time.Time) error {
	m.failed = append(m.failed, failedCall{id: id, lastError: lastError, next: next})
	return nil
}

func (m *mockOutboxRepo) DeleteSentBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

var _ repository.OutboxRepository = (*mockOutboxRepo)(nil)

// mockPublisher はevents.Publisherのテスト用モック。
type mockPublisher struct {
	publishFunc func(ctx context.Context, msg *model.OutboxMessage) error
	published   []string
}

func (m *mockPublisher) Publish(ctx context.Context, msg *model.OutboxMessage) error {
	if m.publishFunc != nil {
		if err := m.publishFunc(ctx, msg); err != nil {
			return err
		}
	}
	m.published = append(m.published, msg.ID)
	return nil
}

func (m *mockPublisher) Close() error { return nil }

type countingObserver struct {
	counts map[string]int
}

func (o *countingObserver) RecordOutboxMessage(outcome string) {
	if o.counts == nil {
		o.counts = map[string]int{}
	}
	o.counts[outcome]++
}

func newTestRelay(repo *mockOutboxRepo, pub *mockPublisher, obs Observer) (*Relay, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	r := NewRelay(repo, pub, obs, logger, Config{BatchSize: 10, Lease: 2 * time.Minute})
	r.now = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	return r, &buf
}

func newMessage(id string, purchaseID int64, attempts int) *model.OutboxMessage {
	return &model.OutboxMessage{
		ID:          id,
		AggregateID: purchaseID,
		EventType:   model.PurchaseEventCompleted,
		Payload:     []byte(`{}`),
		Status:      model.OutboxStatusPending,
		Attempts:    attempts,
	}
}

// --- テスト ---

func TestNewRelay_Defaults(t *testing.T) {
	r := NewRelay(&mockOutboxRepo{}, &mockPublisher{}, nil, slog.Default(), Config{})
	if r.batchSize != 50 {
		t.Errorf("batchSize = %d, want 50", r.batchSize)
	}
	if r.lease != time.Minute {
		t.Errorf("lease = %v, want 1m", r.lease)
	}
}

func TestRelay_RunOnce_NoMessages(t *testing.T) {
	repo := &mockOutboxRepo{}
	pub := &mockPublisher{}
	r, _ := newTestRelay(repo, pub, nil)

	n, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce がエラーを返した: %v", err)
	}
	if n != 0 {
		t.Errorf("sent = %d, want 0", n)
	}
	if repo.claimLimit != 10 || repo.claimLease != 2*time.Minute {
		t.Errorf("ClaimDue(limit=%d, lease=%v) の引数が設定と異なる", repo.claimLimit, repo.claimLease)
	}
}

func TestRelay_RunOnce_PublishesAndMarksSent(t *testing.T) {
	repo := &mockOutboxRepo{
		claimDueFunc: func(context.Context, int, time.Duration) ([]*model.OutboxMessage, error) {
			return []*model.OutboxMessage{newMessage("a", 1, 1), newMessage("b", 2, 1)}, nil
		},
	}
	pub := &mockPublisher{}
	obs := &countingObserver{}
	r, _ := newTestRelay(repo, pub, obs)

	n, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce がエラーを返した: %v", err)
	}
	if n != 2 {
		t.Errorf("sent = %d, want 2", n)
	}
	if len(pub.published) != 2 || pub.published[0] != "a" || pub.published[1] != "b" {
		t.Errorf("published = %v, want [a b]", pub.published)
	}
	if len(repo.sent) != 2 {
		t.Errorf("MarkSent ids = %v", repo.sent)
	}
	if obs.counts[OutcomePublished] != 2 {
		t.Errorf("published count = %d, want 2", obs.counts[OutcomePublished])
	}
}

func TestRelay_RunOnce_FailureSchedulesBackoff(t *testing.T) {
	repo := &mockOutboxRepo{
		claimDueFunc: func(context.Context, int, time.Duration) ([]*model.OutboxMessage, error) {
			return []*model.OutboxMessage{newMessage("a", 1, 3)}, nil
		},
	}
	pub := &mockPublisher{
		publishFunc: func(context.Context, *model.OutboxMessage) error {
			return errors.New("broker unavailable")
		},
	}
	obs := &countingObserver{}
	r, _ := newTestRelay(repo, pub, obs)

	n, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("送信失敗はサイクルのエラーにしない: %v", err)
	}
	if n != 0 {
		t.Errorf("sent = %d, want 0", n)
	}
	if len(repo.failed) != 1 {
		t.Fatalf("MarkFailed calls = %d, want 1", len(repo.failed))
	}

	f := repo.failed[0]
	if f.lastError != "broker unavailable" {
		t.Errorf("lastError = %q", f.lastError)
	}
	wantNext := r.now().Add(2 * time.Minute)
	if !f.next.Equal(wantNext) {
		t.Errorf("next = %v, want %v", f.next, wantNext)
	}
	if obs.counts[OutcomeFailed] != 1 {
		t.Errorf("failed count = %d, want 1", obs.counts[OutcomeFailed])
	}
	if len(repo.sent) != 0 {
		t.Errorf("失敗したメッセージが送信済みにされた: %v", repo.sent)
	}
}

func TestRelay_RunOnce_BlocksLaterMessagesOfSamePurchase(t *testing.T) {
	repo := &mockOutboxRepo{
		claimDueFunc: func(context.Context, int, time.Duration) ([]*model.OutboxMessage, error) {
			return []*model.OutboxMessage{
				newMessage("completed-1", 1, 1),
				newMessage("completed-2", 2, 1),
				newMessage("cancelled-1", 1, 1),
			}, nil
		},
	}
	pub := &mockPublisher{
		publishFunc: func(_ context.Context, m *model.OutboxMessage) error {
			if m.ID == "completed-1" {
				return errors.New("timeout")
			}
			return nil
		},
	}
	r, _ := newTestRelay(repo, pub, nil)

	n, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce がエラーを返した: %v", err)
	}
	if n != 1 {
		t.Errorf("sent = %d, want 1", n)
	}
	if len(pub.published) != 1 || pub.published[0] != "completed-2" {
		t.Errorf("published = %v, want [completed-2]", pub.published)
	}
	if len(repo.failed) != 2 {
		t.Fatalf("MarkFailed calls = %d, want 2", len(repo.failed))
	}
	if repo.failed[1].id != "cancelled-1" {
		t.Errorf("後続メッセージが保留されていない: %+v", repo.failed)
	}
}

func TestRelay_RunOnce_ClaimError(t *testing.T) {
	sentinel := errors.New("db down")
	repo := &mockOutboxRepo{
		claimDueFunc: func(context.Context, int, time.Duration) ([]*model.OutboxMessage, error) {
			return nil, sentinel
		},
	}
	r, _ := newTestRelay(repo, &mockPublisher{}, nil)

	if _, err := r.RunOnce(context.Background()); !errors.Is(err, sentinel) {
		t.Errorf("errors.Is(err, sentinel) = false: %v", err)
	}
}

func TestRelay_RunOnce_MarkSentError(t *testing.T) {
	sentinel := errors.New("db down")
	repo := &mockOutboxRepo{
		claimDueFunc: func(context.Context, int, time.Duration) ([]*model.OutboxMessage, error) {
			return []*model.OutboxMessage{newMessage("a", 1, 1)}, nil
		},
		markSentErr: sentinel,
	}
	obs := &countingObserver{}
	r, _ := newTestRelay(repo, &mockPublisher{}, obs)

	if _, err := r.RunOnce(context.Background()); !errors.Is(err, sentinel) {
		t.Errorf("errors.Is(err, sentinel) = false: %v", err)
	}
	if obs.counts[OutcomePublished] != 0 {
		t.Error("送信済み記録に失敗した場合は published を記録しない")
	}
}

func TestRelay_Start_StopsOnCancel(t *testing.T) {
	claimed := make(chan struct{}, 1)
	repo := &mockOutboxRepo{
		claimDueFunc: func(context.Context, int, time.Duration) ([]*model.OutboxMessage, error) {
			select {
			case claimed <- struct{}{}:
			default:
			}
			return nil, nil
		},
	}
	r, _ := newTestRelay(repo, &mockPublisher{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Start(ctx, time.Hour)
		close(done)
	}()

	select {
	case <-claimed:
	case <-time.After(2 * time.Second):
		t.Fatal("起動直後のサイクルが実行されなかった")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("コンテキストキャンセル後もStartが終了しない")
	}
}
