package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	messagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanrelay_messages_received_total",
			Help: "Inbound messages that reached dispatch",
		},
		[]string{"group"},
	)

	messagesFiltered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanrelay_messages_filtered_total",
			Help: "Inbound messages dropped by the noise filter",
		},
		[]string{"group"},
	)

	deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanrelay_deliveries_total",
			Help: "Per-endpoint dispatch outcomes",
		},
		[]string{"group", "kind", "status"},
	)

	snapshotWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanrelay_snapshot_writes_total",
			Help: "Configuration snapshot writes",
		},
		[]string{"result"},
	)

	imageUploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanrelay_image_uploads_total",
			Help: "Image upload requests by result (uploaded, cached, failed)",
		},
		[]string{"result"},
	)
)

func RecordReceived(group string) {
	messagesReceived.WithLabelValues(group).Inc()
}

func RecordFiltered(group string) {
	messagesFiltered.WithLabelValues(group).Inc()
}

func RecordDelivery(group, kind, status string) {
	deliveries.WithLabelValues(group, kind, status).Inc()
}

func RecordSnapshotWrite(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	snapshotWrites.WithLabelValues(result).Inc()
}

func RecordImageUpload(result string) {
	imageUploads.WithLabelValues(result).Inc()
}

func Handler() http.Handler {
	return promhttp.Handler()
}
