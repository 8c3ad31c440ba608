package health

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dipwatcher/internal/storage"
)

// MarketStatus is the per-market system status document exposed to the
// presentation layer.
type MarketStatus struct {
	Market         string    `json:"market"`
	Open           bool      `json:"open"`
	NextTransition time.Time `json:"nextTransition"`
	WatchlistTotal int64     `json:"watchlistTotal"`
	AlertsToday    int64     `json:"alertsToday"`
	CriticalToday  int64     `json:"criticalToday"`
	Degraded       bool      `json:"degraded"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Aggregates summarise market health over a reporting window.
type Aggregates struct {
	Market              string        `json:"market"`
	Window              time.Duration `json:"window"`
	TotalAlerts         int64         `json:"totalAlerts"`
	CriticalAlerts      int64         `json:"criticalAlerts"`
	AlertFrequency      float64       `json:"alertFrequency"` // alerts per day
	RecoveryRate        float64       `json:"recoveryRate"`
	MeanRecoverySeconds float64       `json:"meanRecoverySeconds"`
	Volatility          float64       `json:"volatility"` // mean stddev of tick-over-tick returns, in percent
	Sentiment           string        `json:"sentiment"`
}

// AttentionItem flags a symbol worth a closer look, with a severity tag.
type AttentionItem struct {
	Symbol   string  `json:"symbol"`
	Market   string  `json:"market"`
	Reason   string  `json:"reason"`
	Severity string  `json:"severity"` // "watch", "elevated", "critical"
	Detail   float64 `json:"detail"`   // drop pct or volatility, depending on reason
}

// Reporter derives health views from alert, recovery, and price history.
type Reporter struct {
	alerts     storage.AlertStore
	recoveries storage.RecoveryStore
	prices     storage.PricePointStore
	watchlist  storage.WatchlistStore
	logger     zerolog.Logger
}

// NewReporter constructs a Reporter.
func NewReporter(alerts storage.AlertStore, recoveries storage.RecoveryStore, prices storage.PricePointStore, watchlist storage.WatchlistStore, logger zerolog.Logger) *Reporter {
	return &Reporter{
		alerts:     alerts,
		recoveries: recoveries,
		prices:     prices,
		watchlist:  watchlist,
		logger:     logger.With().Str("component", "health").Logger(),
	}
}

// Aggregates computes the market-health summary for one market over a window.
func (r *Reporter) Aggregates(ctx context.Context, mkt string, window time.Duration, now time.Time) (Aggregates, error) {
	since := now.Add(-window)

	total, critical, err := r.alerts.CountAlerts(ctx, mkt, since)
	if err != nil {
		return Aggregates{}, fmt.Errorf("aggregate alerts: %w", err)
	}

	stats, err := r.recoveries.RecoveryStats(ctx, mkt, since)
	if err != nil {
		return Aggregates{}, fmt.Errorf("aggregate recoveries: %w", err)
	}

	volatility, err := r.marketVolatility(ctx, mkt, now)
	if err != nil {
		// Volatility is advisory; health reporting proceeds without it.
		r.logger.Warn().Err(err).Str("market", mkt).Msg("volatility unavailable")
		volatility = 0
	}

	days := window.Hours() / 24
	frequency := 0.0
	if days > 0 {
		frequency = float64(total) / days
	}

	recoveryRate := 0.0
	if resolved := stats.Recovered + stats.Expired; resolved > 0 {
		recoveryRate = float64(stats.Recovered) / float64(resolved)
	}

	agg := Aggregates{
		Market:              mkt,
		Window:              window,
		TotalAlerts:         total,
		CriticalAlerts:      critical,
		AlertFrequency:      frequency,
		RecoveryRate:        recoveryRate,
		MeanRecoverySeconds: stats.MeanRecoverySeconds,
		Volatility:          volatility,
	}
	agg.Sentiment = classifySentiment(agg)
	return agg, nil
}

// Attention lists symbols nearing a threshold, recently alerted, or
// unusually volatile over the last trading day.
func (r *Reporter) Attention(ctx context.Context, mkt string, now time.Time) ([]AttentionItem, error) {
	since := now.Add(-24 * time.Hour)
	items := make([]AttentionItem, 0)

	points, err := r.prices.ListRecentPricePoints(ctx, mkt, since)
	if err != nil {
		return nil, fmt.Errorf("attention prices: %w", err)
	}

	bySymbol := groupBySymbol(points)
	for symbol, series := range bySymbol {
		if len(series) < 2 {
			continue
		}
		first := series[0].Price
		last := series[len(series)-1].Price
		if first.Sign() <= 0 {
			continue
		}
		dayDrop, _ := first.Sub(last).Div(first).Mul(decimal.NewFromInt(100)).Float64()
		if dayDrop >= 4 {
			severity := "watch"
			if dayDrop >= 10 {
				severity = "elevated"
			}
			items = append(items, AttentionItem{
				Symbol: symbol, Market: mkt,
				Reason: "nearing drop threshold", Severity: severity, Detail: dayDrop,
			})
		}

		if vol := seriesVolatility(series); vol >= 2 {
			items = append(items, AttentionItem{
				Symbol: symbol, Market: mkt,
				Reason: "high intraday volatility", Severity: "watch", Detail: vol,
			})
		}
	}

	alerts, err := r.alerts.ListRecentAlerts(ctx, mkt, 100)
	if err != nil {
		return nil, fmt.Errorf("attention alerts: %w", err)
	}
	seen := make(map[string]bool)
	for _, alert := range alerts {
		if alert.Timestamp.Before(since) || seen[alert.Symbol] {
			continue
		}
		seen[alert.Symbol] = true
		severity := "elevated"
		if alert.Critical {
			severity = "critical"
		}
		drop, _ := alert.DropPct.Float64()
		items = append(items, AttentionItem{
			Symbol: alert.Symbol, Market: mkt,
			Reason: "recently alerted", Severity: severity, Detail: drop,
		})
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Severity != items[j].Severity {
			return severityRank(items[i].Severity) > severityRank(items[j].Severity)
		}
		return items[i].Detail > items[j].Detail
	})
	return items, nil
}

func (r *Reporter) marketVolatility(ctx context.Context, mkt string, now time.Time) (float64, error) {
	points, err := r.prices.ListRecentPricePoints(ctx, mkt, now.Add(-24*time.Hour))
	if err != nil {
		return 0, err
	}

	total := 0.0
	counted := 0
	for _, series := range groupBySymbol(points) {
		if vol := seriesVolatility(series); vol > 0 {
			total += vol
			counted++
		}
	}
	if counted == 0 {
		return 0, nil
	}
	return total / float64(counted), nil
}

func groupBySymbol(points []storage.PricePoint) map[string][]storage.PricePoint {
	grouped := make(map[string][]storage.PricePoint)
	for _, point := range points {
		grouped[point.Symbol] = append(grouped[point.Symbol], point)
	}
	return grouped
}

// seriesVolatility is the standard deviation of tick-over-tick returns,
// expressed in percent. Series are assumed time-ordered.
func seriesVolatility(series []storage.PricePoint) float64 {
	if len(series) < 3 {
		return 0
	}

	returns := make([]float64, 0, len(series)-1)
	for i := 1; i < len(series); i++ {
		prev, _ := series[i-1].Price.Float64()
		cur, _ := series[i].Price.Float64()
		if prev <= 0 {
			continue
		}
		returns = append(returns, (cur-prev)/prev*100)
	}
	if len(returns) < 2 {
		return 0
	}

	mean := 0.0
	for _, ret := range returns {
		mean += ret
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, ret := range returns {
		variance += (ret - mean) * (ret - mean)
	}
	variance /= float64(len(returns) - 1)
	return math.Sqrt(variance)
}

func classifySentiment(agg Aggregates) string {
	switch {
	case agg.CriticalAlerts > 0:
		return "fearful"
	case agg.AlertFrequency >= 5:
		return "bearish"
	case agg.TotalAlerts > 0 && agg.RecoveryRate >= 0.6:
		return "recovering"
	case agg.TotalAlerts > 0:
		return "cautious"
	default:
		return "steady"
	}
}

func severityRank(severity string) int {
	switch severity {
	case "critical":
		return 3
	case "elevated":
		return 2
	case "watch":
		return 1
	}
	return 0
}
