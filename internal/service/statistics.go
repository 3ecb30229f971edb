package service

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/emrgen/salesdb/internal/apperr"
	"github.com/emrgen/salesdb/internal/cache"
	"github.com/emrgen/salesdb/internal/model"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// statisticsKey derives the cache key of a filter set. Pairs are sorted by
// key and query-escaped so that no two filter sets share a key.
func statisticsKey(filters map[string]string) string {
	values := make(url.Values, len(filters))
	for k, v := range filters {
		values.Set(k, v)
	}

	return cache.StatisticsPrefix + values.Encode()
}

// matches reports whether every filter equals the appliance's field.
func matches(fields map[string]any, filters map[string]string) bool {
	for k, want := range filters {
		v, ok := fields[k]
		if !ok || fmt.Sprint(v) != want {
			return false
		}
	}

	return true
}

func bucket(v any) string {
	if s := model.AsString(v); s != "" {
		return s
	}
	if v != nil {
		return fmt.Sprint(v)
	}

	return "Unknown"
}

// ApplianceStatistics summarizes every appliance matching filters. Results
// are cached per filter set and dropped whenever an appliance changes.
// Statistics span every sale, so only admins may read them.
func (r *RelationshipManager) ApplianceStatistics(ctx context.Context, filters map[string]string) (stats *model.ApplianceStatistics, err error) {
	const op = "applianceStatistics"
	start := time.Now()
	ctx, span := tracer.Start(ctx, "RelationshipManager.ApplianceStatistics")
	defer func() {
		r.metrics.ObserveOperation(op, start, err)
		endSpan(span, err)
	}()

	p, err := r.principal(ctx, op)
	if err != nil {
		return nil, err
	}
	if !p.IsAdmin() {
		return nil, apperr.Wrap(apperr.AccessDenied, op, ErrAdminOnly, "")
	}

	key := statisticsKey(filters)
	cached := &model.ApplianceStatistics{}
	hit, err := r.cache.Get(ctx, key, cached)
	if err != nil {
		logrus.Warnf("relationship: cache read for %s failed: %v", key, err)
	}
	r.metrics.IncrementCacheLookup(hit)
	if hit {
		return cached, nil
	}

	v, _, err := r.store.Read(ctx, model.AppliancesCollection)
	if err != nil {
		return nil, err
	}

	stats = &model.ApplianceStatistics{
		TotalValue:  decimal.Zero,
		AverageCost: decimal.Zero,
		ByType:      map[string]int{},
		ByMake:      map[string]int{},
		ByAge:       map[string]int{},
	}

	for _, raw := range model.AsMap(v) {
		fields := model.AsMap(raw)
		if fields == nil || !matches(fields, filters) {
			continue
		}

		stats.TotalCount++
		if cost, ok := model.AsFloat(fields["monthlyCost"]); ok {
			stats.TotalValue = stats.TotalValue.Add(decimal.NewFromFloat(cost))
		}
		stats.ByType[bucket(fields["type"])]++
		stats.ByMake[bucket(fields["make"])]++
		stats.ByAge[bucket(fields["age"])]++
	}

	if stats.TotalCount > 0 {
		stats.AverageCost = stats.TotalValue.Div(decimal.NewFromInt(int64(stats.TotalCount))).Round(2)
	}

	if err := r.cache.Set(ctx, key, stats); err != nil {
		logrus.Warnf("relationship: cache write for %s failed: %v", key, err)
	}

	return stats, nil
}
