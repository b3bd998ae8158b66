package application

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/propertyalert/internal/propertyalert/domain"
)

var hundred = decimal.NewFromInt(100)

// PriceCandidate 降价候选：房源及其已记录的价格基线（可为空）
type PriceCandidate struct {
	Listing  *domain.Listing
	Baseline *domain.PriceBaseline
}

// PriceDrop 达到阈值的降价
type PriceDrop struct {
	Listing     *domain.Listing
	OldPrice    decimal.Decimal
	NewPrice    decimal.Decimal
	DropPercent decimal.Decimal
}

// MatchingConfig 匹配参数
type MatchingConfig struct {
	// DropThreshold 降价百分比阈值，如 10
	DropThreshold decimal.Decimal
	// HeuristicMargin 无基线且无 max_price 时，以当前价 * (1 + margin) 作为参考价
	HeuristicMargin   decimal.Decimal
	HeuristicFallback bool
}

// DefaultMatchingConfig 默认 10% 阈值、15% 估算加价
func DefaultMatchingConfig() MatchingConfig {
	return MatchingConfig{
		DropThreshold:     decimal.NewFromInt(10),
		HeuristicMargin:   decimal.NewFromFloat(0.15),
		HeuristicFallback: true,
	}
}

// MatchingEngine 根据订阅条件检测新房源与降价，只读房源数据
type MatchingEngine struct {
	listings domain.ListingReader
	cfg      MatchingConfig
}

func NewMatchingEngine(listings domain.ListingReader, cfg MatchingConfig) *MatchingEngine {
	return &MatchingEngine{listings: listings, cfg: cfg}
}

// FindNewMatches 返回创建时间在 [since, until) 内且满足全部条件的在售房源，按创建时间倒序
func (e *MatchingEngine) FindNewMatches(ctx context.Context, filter domain.Filter, since, until time.Time, limit int) ([]*domain.Listing, error) {
	listings, err := e.listings.Find(ctx, domain.ListingQuery{
		Filter:        filter,
		CreatedFrom:   &since,
		CreatedBefore: &until,
		Limit:         limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find new matches: %w", err)
	}
	return listings, nil
}

// PriceDropCandidates 分页返回 since 之前创建、满足非价格条件的在售房源；after 为空时从第一页开始
func (e *MatchingEngine) PriceDropCandidates(ctx context.Context, filter domain.Filter, since time.Time, after *domain.ListingCursor, limit int) ([]*domain.Listing, error) {
	listings, err := e.listings.Find(ctx, domain.ListingQuery{
		Filter:        filter,
		IgnorePrice:   true,
		CreatedBefore: &since,
		After:         after,
		Limit:         limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find price drop candidates: %w", err)
	}
	return listings, nil
}

// FindPriceDrops 计算每个候选相对参考价的降幅，返回达到阈值的结果，按降幅倒序
func (e *MatchingEngine) FindPriceDrops(filter domain.Filter, candidates []PriceCandidate) []PriceDrop {
	drops := make([]PriceDrop, 0)
	for _, c := range candidates {
		if c.Listing == nil || !c.Listing.Price.IsPositive() {
			continue
		}
		ref, ok := e.referencePrice(filter, c)
		if !ok || !ref.IsPositive() {
			continue
		}

		current := c.Listing.Price
		pct := ref.Sub(current).Div(ref).Mul(hundred)
		if pct.LessThan(e.cfg.DropThreshold) {
			continue
		}
		drops = append(drops, PriceDrop{
			Listing:     c.Listing,
			OldPrice:    ref,
			NewPrice:    current,
			DropPercent: pct.Round(2),
		})
	}

	SortDrops(drops)
	return drops
}

// SortDrops 按降幅倒序，降幅相同保持原顺序
func SortDrops(drops []PriceDrop) {
	sort.SliceStable(drops, func(i, j int) bool {
		return drops[i].DropPercent.GreaterThan(drops[j].DropPercent)
	})
}

// referencePrice 基线 > 订阅 max_price > 估算
func (e *MatchingEngine) referencePrice(filter domain.Filter, c PriceCandidate) (decimal.Decimal, bool) {
	if c.Baseline != nil {
		return c.Baseline.Reference(), true
	}
	if filter.MaxPrice != nil {
		return *filter.MaxPrice, true
	}
	if e.cfg.HeuristicFallback {
		return c.Listing.Price.Mul(decimal.NewFromInt(1).Add(e.cfg.HeuristicMargin)), true
	}
	return decimal.Zero, false
}
