// Package purchase は購入台帳に対するユースケースを提供する。
// ステータス遷移はすべてリポジトリの比較交換を経由し、所有者確認は authorizeOwner に集約する。
package purchase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/plancheckout/internal/model"
	"github.com/hitoshi/plancheckout/internal/repository"
)

// ProductLookup は商品の存在確認に使うカタログ。
type ProductLookup interface {
	Get(id int64) (model.Product, error)
}

// TransitionObserver はステータス遷移を観測するメトリクス収集器。
type TransitionObserver interface {
	RecordPurchaseTransition(to model.PurchaseStatus)
}

// Service は購入台帳のユースケースを提供する。
type Service struct {
	repo     repository.PurchaseRepository
	products ProductLookup
	observer TransitionObserver
}

// NewService はServiceを生成する。observerはnilでもよい。
func NewService(repo repository.PurchaseRepository, products ProductLookup, observer TransitionObserver) *Service {
	return &Service{repo: repo, products: products, observer: observer}
}

// ListForUser はユーザーの購入を商品情報付きで新しい順に返す。
func (s *Service) ListForUser(ctx context.Context, userID int64) ([]model.PurchaseWithProduct, error) {
	list, err := s.repo.ListByUserWithProduct(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list purchases: %w", err)
	}
	return list, nil
}

// ListAll は全ユーザーの購入を新しい順に返す。
func (s *Service) ListAll(ctx context.Context) ([]model.PurchaseWithProduct, error) {
	list, err := s.repo.ListAllWithProduct(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list all purchases: %w", err)
	}
	return list, nil
}

// Cancel は呼び出し元が所有する購入をcancelledにする。
// 既にcancelledの場合は何もせず現在の状態を返す。
func (s *Service) Cancel(ctx context.Context, purchaseID, callerID int64) (*model.Purchase, error) {
	p, err := s.repo.FindByID(ctx, purchaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to find purchase: %w", err)
	}
	if p == nil {
		return nil, model.NewPurchaseNotFoundError(purchaseID)
	}
	if err := authorizeOwner(p, callerID); err != nil {
		slog.Warn("purchase cancel forbidden",
			slog.Int64("purchase_id", purchaseID),
			slog.Int64("caller_id", callerID),
		)
		return nil, err
	}
	if p.Status == model.PurchaseStatusCancelled {
		return p, nil
	}

	result, err := s.repo.TransitionStatus(ctx, purchaseID, model.PurchaseStatusCancelled)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel purchase: %w", err)
	}
	if result.Purchase == nil {
		return nil, model.NewPurchaseNotFoundError(purchaseID)
	}
	s.observe(result, "cancel")
	return result.Purchase, nil
}

// RecordCompletion は決済完了通知を台帳に反映する。
// 購入が無ければ作成してcompletedにし、既に反映済みなら Changed=false を返す。
// ユーザーや商品が存在しない場合は repository.ErrReferenceNotFound をラップして返す。
func (s *Service) RecordCompletion(ctx context.Context, userID, productID int64, sessionID string) (*repository.TransitionResult, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, model.NewValidationError("セッションIDが空です")
	}

	result, err := s.repo.RecordCompletion(ctx, userID, productID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to record completion: %w", err)
	}
	s.observe(result, "webhook")
	return result, nil
}

// CreatePending は決済を経由せずpendingの購入を作成する。動作確認用。
func (s *Service) CreatePending(ctx context.Context, userID, productID int64, sessionID string) (*model.Purchase, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, model.NewValidationError("セッションIDを指定してください")
	}
	if _, err := s.products.Get(productID); err != nil {
		return nil, err
	}

	p, err := s.repo.CreatePending(ctx, userID, productID, sessionID)
	switch {
	case errors.Is(err, repository.ErrDuplicate):
		return nil, model.NewDuplicateSessionError(sessionID)
	case errors.Is(err, repository.ErrReferenceNotFound):
		return nil, model.NewValidationError("ユーザーまたは商品が存在しません")
	case err != nil:
		return nil, fmt.Errorf("failed to create pending purchase: %w", err)
	}

	slog.Info("pending purchase created",
		slog.Int64("purchase_id", p.ID),
		slog.Int64("user_id", userID),
		slog.Int64("product_id", productID),
	)
	return p, nil
}

// UpdateStatusBySession はセッションIDで指定した購入のステータスを変更する。動作確認用。
// 既に目的のステータスであれば何もしない。許可されない遷移はINVALID_TRANSITIONを返す。
func (s *Service) UpdateStatusBySession(ctx context.Context, sessionID string, to model.PurchaseStatus) (*model.Purchase, error) {
	if !to.Valid() || to == model.PurchaseStatusPending {
		return nil, model.NewValidationError(fmt.Sprintf("変更先のステータスが不正です: %q", to))
	}

	result, err := s.repo.TransitionStatusBySession(ctx, sessionID, to)
	if err != nil {
		return nil, fmt.Errorf("failed to update purchase status: %w", err)
	}
	if result.Purchase == nil {
		return nil, model.NewPurchaseSessionNotFoundError(sessionID)
	}
	if !result.Changed && result.Purchase.Status != to {
		return nil, model.NewInvalidTransitionError(result.Purchase.Status, to)
	}
	s.observe(result, "debug")
	return result.Purchase, nil
}

// authorizeOwner は呼び出し元が購入の所有者であることを確認する。
func authorizeOwner(p *model.Purchase, callerID int64) error {
	if !p.OwnedBy(callerID) {
		return model.NewForbiddenError()
	}
	return nil
}

func (s *Service) observe(result *repository.TransitionResult, source string) {
	if !result.Changed || result.Purchase == nil {
		return
	}
	slog.Info("purchase status changed",
		slog.Int64("purchase_id", result.Purchase.ID),
		slog.String("from", string(result.Previous)),
		slog.String("to", string(result.Purchase.Status)),
		slog.String("source", source),
	)
	if s.observer != nil {
		s.observer.RecordPurchaseTransition(result.Purchase.Status)
	}
}
