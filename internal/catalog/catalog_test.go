package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/hitoshi/plancheckout/internal/model"
)

type mockProductRepo struct {
	listAllFn func(ctx context.Context) ([]*model.Product, error)
}

func (m *mockProductRepo) ListAll(ctx context.Context) ([]*model.Product, error) {
	return m.listAllFn(ctx)
}

func (m *mockProductRepo) FindByID(_ context.Context, _ int64) (*model.Product, error) {
	return nil, nil
}

func seedProducts() []*model.Product {
	return []*model.Product{
		{ID: 1, Name: "プレミアムプラン", Description: "月額プレミアムサブスクリプション", Price: 1000},
		{ID: 2, Name: "スタンダードプラン", Description: "月額スタンダードサブスクリプション", Price: 500},
	}
}

func TestLoad_ListAndGet(t *testing.T) {
	repo := &mockProductRepo{listAllFn: func(_ context.Context) ([]*model.Product, error) {
		return seedProducts(), nil
	}}

	c, err := Load(context.Background(), repo)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	list := c.List()
	if len(list) != 2 {
		t.Fatalf("len(List()) = %d, want 2", len(list))
	}
	if list[0].ID != 1 || list[1].ID != 2 {
		t.Errorf("List() order = [%d, %d], want [1, 2]", list[0].ID, list[1].ID)
	}

	p, err := c.Get(2)
	if err != nil {
		t.Fatalf("Get(2) returned error: %v", err)
	}
	if p.Price != 500 {
		t.Errorf("Get(2).Price = %d, want 500", p.Price)
	}
}

func TestGet_UnknownProduct(t *testing.T) {
	c := New(seedProducts())

	_, err := c.Get(999)
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %T", err)
	}
	if apiErr.Code != model.ErrCodeProductNotFound {
		t.Errorf("Code = %q, want %q", apiErr.Code, model.ErrCodeProductNotFound)
	}
}

func TestNew_SkipsNonPositivePrice(t *testing.T) {
	c := New(append(seedProducts(), &model.Product{ID: 3, Name: "無料", Price: 0}, nil))

	if len(c.List()) != 2 {
		t.Errorf("len(List()) = %d, want 2", len(c.List()))
	}
	if _, err := c.Get(3); err == nil {
		t.Error("価格0の商品が取得できてしまいました")
	}
}

func TestList_ReturnsCopies(t *testing.T) {
	c := New(seedProducts())

	list := c.List()
	list[0].Price = 1

	p, _ := c.Get(1)
	if p.Price != 1000 {
		t.Errorf("List()の戻り値の変更がカタログに反映されました: Price = %d", p.Price)
	}
}

func TestLoad_RepositoryError(t *testing.T) {
	repo := &mockProductRepo{listAllFn: func(_ context.Context) ([]*model.Product, error) {
		return nil, errors.New("db down")
	}}

	if _, err := Load(context.Background(), repo); err == nil {
		t.Error("expected error, got nil")
	}
}
