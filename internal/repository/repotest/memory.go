// Package repotest はテスト用のインメモリリポジトリを提供する。
// 一意制約・外部キー・ステータスの比較交換をPostgreSQL実装と同じ意味で再現する。
package repotest

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/hitoshi/plancheckout/internal/model"
	"github.com/hitoshi/plancheckout/internal/repository"
)

// Store はユーザー・商品・購入・outboxを保持するインメモリストア。
type Store struct {
	mu sync.Mutex

	users     map[int64]*model.User
	products  map[int64]*model.Product
	purchases map[int64]*model.Purchase
	outbox    []*model.OutboxMessage

	nextUserID     int64
	nextPurchaseID int64
	clock          time.Time

	// Err が設定されている場合、購入リポジトリの全操作がこのエラーを返す。
	Err error
}

// NewStore は2件の商品がシードされたStoreを生成する。
func NewStore() *Store {
	return &Store{
		users:     make(map[int64]*model.User),
		purchases: make(map[int64]*model.Purchase),
		products: map[int64]*model.Product{
			1: {ID: 1, Name: "プレミアムプラン", Description: "月額プレミアムサブスクリプション", Price: 1000},
			2: {ID: 2, Name: "スタンダードプラン", Description: "月額スタンダードサブスクリプション", Price: 500},
		},
		clock: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// tick は単調増加する時刻を返す。作成順の並び替えを決定的にするため。
func (s *Store) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

// Users はUserRepositoryを返す。
func (s *Store) Users() repository.UserRepository { return (*userRepo)(s) }

// Products はProductRepositoryを返す。
func (s *Store) Products() repository.ProductRepository { return (*productRepo)(s) }

// Purchases はPurchaseRepositoryを返す。
func (s *Store) Purchases() repository.PurchaseRepository { return (*purchaseRepo)(s) }

// PurchaseCount は購入レコード数を返す。
func (s *Store) PurchaseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.purchases)
}

// OutboxMessages は記録されたoutboxメッセージのコピーを返す。
func (s *Store) OutboxMessages() []model.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.OutboxMessage, len(s.outbox))
	for i, m := range s.outbox {
		out[i] = *m
	}
	return out
}

// AddUser はパスワードハッシュ無しのユーザーを直接追加し、IDを返す。
func (s *Store) AddUser(email string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextUserID++
	s.users[s.nextUserID] = &model.User{ID: s.nextUserID, Email: email, CreatedAt: s.tick()}
	return s.nextUserID
}

// --- users ---

type userRepo Store

func (r *userRepo) Create(_ context.Context, email, passwordHash string) (*model.User, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return nil, fmt.Errorf("email %q: %w", email, repository.ErrDuplicate)
		}
	}
	s.nextUserID++
	u := &model.User{ID: s.nextUserID, Email: email, PasswordHash: passwordHash, CreatedAt: s.tick()}
	s.users[u.ID] = u
	cp := *u
	return &cp, nil
}

func (r *userRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *userRepo) FindByID(_ context.Context, id int64) (*model.User, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

// --- products ---

type productRepo Store

func (r *productRepo) ListAll(_ context.Context) ([]*model.Product, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Product
	for _, p := range s.products {
		cp := *p
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *model.Product) int { return int(a.ID - b.ID) })
	return out, nil
}

func (r *productRepo) FindByID(_ context.Context, id int64) (*model.Product, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.products[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

// --- purchases ---

type purchaseRepo Store

func (r *purchaseRepo) FindByID(_ context.Context, id int64) (*model.Purchase, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	if p, ok := s.purchases[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (r *purchaseRepo) FindBySessionID(_ context.Context, sessionID string) (*model.Purchase, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	if p := s.bySession(sessionID); p != nil {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (r *purchaseRepo) ListByUserWithProduct(_ context.Context, userID int64) ([]model.PurchaseWithProduct, error) {
	return (*Store)(r).list(func(p *model.Purchase) bool { return p.UserID == userID })
}

func (r *purchaseRepo) ListAllWithProduct(_ context.Context) ([]model.PurchaseWithProduct, error) {
	return (*Store)(r).list(func(*model.Purchase) bool { return true })
}

func (r *purchaseRepo) CreatePending(_ context.Context, userID, productID int64, sessionID string) (*model.Purchase, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	if s.bySession(sessionID) != nil {
		return nil, fmt.Errorf("session %q: %w", sessionID, repository.ErrDuplicate)
	}
	p, err := s.insert(userID, productID, sessionID)
	if err != nil {
		return nil, err
	}
	cp := *p
	return &cp, nil
}

func (r *purchaseRepo) RecordCompletion(_ context.Context, userID, productID int64, sessionID string) (*repository.TransitionResult, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	p := s.bySession(sessionID)
	if p == nil {
		var err error
		if p, err = s.insert(userID, productID, sessionID); err != nil {
			return nil, err
		}
	}
	if p.UserID != userID || p.ProductID != productID {
		return nil, fmt.Errorf("session %q: %w", sessionID, repository.ErrMetadataMismatch)
	}
	return s.transition(p, model.PurchaseStatusCompleted)
}

func (r *purchaseRepo) TransitionStatus(_ context.Context, id int64, to model.PurchaseStatus) (*repository.TransitionResult, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	return s.transition(s.purchases[id], to)
}

func (r *purchaseRepo) TransitionStatusBySession(_ context.Context, sessionID string, to model.PurchaseStatus) (*repository.TransitionResult, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	return s.transition(s.bySession(sessionID), to)
}

// 以下は s.mu を保持した状態で呼ぶ。

func (s *Store) bySession(sessionID string) *model.Purchase {
	for _, p := range s.purchases {
		if p.ExternalSessionID == sessionID {
			return p
		}
	}
	return nil
}

func (s *Store) insert(userID, productID int64, sessionID string) (*model.Purchase, error) {
	if _, ok := s.users[userID]; !ok {
		return nil, fmt.Errorf("user %d: %w", userID, repository.ErrReferenceNotFound)
	}
	if _, ok := s.products[productID]; !ok {
		return nil, fmt.Errorf("product %d: %w", productID, repository.ErrReferenceNotFound)
	}
	s.nextPurchaseID++
	now := s.tick()
	p := &model.Purchase{
		ID:                s.nextPurchaseID,
		UserID:            userID,
		ProductID:         productID,
		ExternalSessionID: sessionID,
		Status:            model.PurchaseStatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	s.purchases[p.ID] = p
	return p, nil
}

func (s *Store) transition(p *model.Purchase, to model.PurchaseStatus) (*repository.TransitionResult, error) {
	if len(model.AllowedSources(to)) == 0 {
		return nil, fmt.Errorf("status %q is not a transition target", to)
	}
	if p == nil {
		return &repository.TransitionResult{}, nil
	}
	result := &repository.TransitionResult{Previous: p.Status}
	if model.CanTransition(p.Status, to) {
		p.Status = to
		p.UpdatedAt = s.tick()
		eventType := model.PurchaseEventCompleted
		if to == model.PurchaseStatusCancelled {
			eventType = model.PurchaseEventCancelled
		}
		s.outbox = append(s.outbox, &model.OutboxMessage{
			ID:          fmt.Sprintf("msg-%d", len(s.outbox)+1),
			AggregateID: p.ID,
			EventType:   eventType,
			Status:      model.OutboxStatusPending,
			CreatedAt:   p.UpdatedAt,
		})
		result.Changed = true
	}
	cp := *p
	result.Purchase = &cp
	return result, nil
}

func (s *Store) list(match func(*model.Purchase) bool) ([]model.PurchaseWithProduct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	out := make([]model.PurchaseWithProduct, 0)
	for _, p := range s.purchases {
		if !match(p) {
			continue
		}
		prod := s.products[p.ProductID]
		out = append(out, model.PurchaseWithProduct{
			Purchase:           *p,
			ProductName:        prod.Name,
			ProductDescription: prod.Description,
			Price:              prod.Price,
		})
	}
	slices.SortFunc(out, func(a, b model.PurchaseWithProduct) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return int(b.ID - a.ID)
	})
	return out, nil
}

var (
	_ repository.UserRepository     = (*userRepo)(nil)
	_ repository.ProductRepository  = (*productRepo)(nil)
	_ repository.PurchaseRepository = (*purchaseRepo)(nil)
)
