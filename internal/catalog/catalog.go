// Package catalog は販売プランの読み取り専用カタログを提供する。
package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/plancheckout/internal/model"
	"github.com/hitoshi/plancheckout/internal/repository"
)

// Catalog は起動時に商品テーブルから読み込んだ商品一覧を保持する。
// 読み込み後は変更されないため、ロックなしで並行に参照できる。
type Catalog struct {
	products []*model.Product
	byID     map[int64]*model.Product
}

// Load は商品リポジトリから全商品を読み込みCatalogを生成する。
func Load(ctx context.Context, repo repository.ProductRepository) (*Catalog, error) {
	products, err := repo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	c := New(products)
	slog.Info("catalog loaded", slog.Int("products", len(c.products)))
	return c, nil
}

// New は与えられた商品からCatalogを生成する。価格が正でない商品は除外する。
func New(products []*model.Product) *Catalog {
	c := &Catalog{byID: make(map[int64]*model.Product, len(products))}
	for _, p := range products {
		if p == nil || p.Price <= 0 {
			continue
		}
		cp := *p
		c.products = append(c.products, &cp)
		c.byID[cp.ID] = &cp
	}
	return c
}

// List は全商品のコピーを読み込み順に返す。
func (c *Catalog) List() []model.Product {
	out := make([]model.Product, len(c.products))
	for i, p := range c.products {
		out[i] = *p
	}
	return out
}

// Get は指定IDの商品を返す。存在しない場合はPRODUCT_NOT_FOUNDのAPIErrorを返す。
func (c *Catalog) Get(id int64) (model.Product, error) {
	p, ok := c.byID[id]
	if !ok {
		return model.Product{}, model.NewProductNotFoundError(id)
	}
	return *p, nil
}
