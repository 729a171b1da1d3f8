package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics.go - Prometheus-метрики конвейера сигналов
//
// Экспонируются на /metrics через promhttp. Все метрики регистрируются
// через promauto при загрузке пакета.

var (
	signalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signalbot",
		Subsystem: "pipeline",
		Name:      "signals_total",
		Help:      "Принятые сигналы по результату обработки",
	}, []string{"state", "result"})

	riskDenialsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signalbot",
		Subsystem: "pipeline",
		Name:      "risk_denials_total",
		Help:      "Отказы риск-контроля по причинам",
	}, []string{"reason"})

	ordersPlacedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signalbot",
		Subsystem: "exchange",
		Name:      "orders_placed_total",
		Help:      "Выставленные ордера",
	}, []string{"side", "mode"})

	orderLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "signalbot",
		Subsystem: "exchange",
		Name:      "order_latency_seconds",
		Help:      "Задержка выставления ордера",
		Buckets:   prometheus.DefBuckets,
	})

	tradesClosedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signalbot",
		Subsystem: "pipeline",
		Name:      "trades_closed_total",
		Help:      "Закрытые сделки по исходу",
	}, []string{"outcome"})

	realizedPnlTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "signalbot",
		Subsystem: "pipeline",
		Name:      "realized_pnl_usdt",
		Help:      "Накопленный реализованный PnL в USDT",
	})

	reconciliationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signalbot",
		Subsystem: "reconcile",
		Name:      "runs_total",
		Help:      "Прогоны сверки по результату",
	}, []string{"outcome"})
)

func recordSignal(state, result string) {
	signalsTotal.WithLabelValues(state, result).Inc()
}

func recordRiskDenial(reason string) {
	riskDenialsTotal.WithLabelValues(reason).Inc()
}

func recordOrderPlaced(side string, simulated bool, elapsed time.Duration) {
	mode := "live"
	if simulated {
		mode = "simulated"
	}
	ordersPlacedTotal.WithLabelValues(side, mode).Inc()
	orderLatency.Observe(elapsed.Seconds())
}

func recordTradeClosed(outcome string, pnl float64) {
	tradesClosedTotal.WithLabelValues(outcome).Inc()
	realizedPnlTotal.Add(pnl)
}

func recordReconciliation(outcome string) {
	reconciliationsTotal.WithLabelValues(string(outcome)).Inc()
}
