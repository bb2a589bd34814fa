package mmdf

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricParsed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mmdf_parsed_messages_total",
			Help: "Number of message records read from mailbox files.",
		},
	)
	metricRewrite = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mmdf_rewrite_total",
			Help: "Number of mailbox rewrites, by kind (checkpoint, expunge) and result (ok, error).",
		},
		[]string{"kind", "result"},
	)
	metricRewriteBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mmdf_rewrite_bytes_total",
			Help: "Bytes physically written by mailbox rewrites.",
		},
	)
	metricExpunged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mmdf_expunged_messages_total",
			Help: "Number of messages removed by expunge.",
		},
	)
	metricLockContention = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mmdf_lock_contention_total",
			Help: "Write access contention on open, by outcome (acquired, readonly, failed).",
		},
		[]string{"outcome"},
	)
	metricAppend = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mmdf_append_total",
			Help: "Number of append and copy operations, by operation and result.",
		},
		[]string{"op", "result"},
	)
)

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
