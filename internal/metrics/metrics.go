package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SequencesSampled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hop_sequences_sampled_total",
		Help: "Sequences drawn from each corpus file",
	}, []string{"file"})

	SequencesFiltered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hop_sequences_filtered_total",
		Help: "Corpus lines dropped for exceeding the maximum sequence length",
	})

	CheckpointLoads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hop_checkpoint_loads_total",
		Help: "Checkpoint model loads",
	})

	CheckpointLoadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hop_checkpoint_load_duration_seconds",
		Help:    "Time to load one checkpoint",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	CheckpointsCompleted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hop_checkpoints_completed",
		Help: "Checkpoints fully evaluated in the current run",
	})

	ModelsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hop_models_open",
		Help: "Checkpoint models currently held in memory",
	})

	SurprisalBits = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hop_surprisal_bits",
		Help:    "Circular surprisal of the target token, in bits",
		Buckets: []float64{0.5, 1, 2, 4, 6, 8, 10, 12, 16, 20, 30},
	}, []string{"variant"})

	PredictionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hop_prediction_duration_seconds",
		Help:    "Time to score one batch of sequences",
		Buckets: prometheus.DefBuckets,
	})

	ContextLengthHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hop_context_length_tokens",
		Help:    "Distribution of sequence lengths scored",
		Buckets: []float64{8, 16, 32, 64, 128, 256, 512, 1024},
	})

	ValidationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hop_validation_errors_total",
		Help: "Total number of validation errors",
	}, []string{"operation", "error_type"})
)

func RecordSampled(file string, n int) {
	SequencesSampled.WithLabelValues(file).Add(float64(n))
}

func RecordFiltered(n int) {
	SequencesFiltered.Add(float64(n))
}

func RecordCheckpointLoad(duration time.Duration) {
	CheckpointLoads.Inc()
	CheckpointLoadDuration.Observe(duration.Seconds())
	ModelsOpen.Inc()
}

func RecordCheckpointClosed() {
	ModelsOpen.Dec()
}

func RecordCheckpointCompleted(done int) {
	CheckpointsCompleted.Set(float64(done))
}

func RecordSurprisals(variant string, bits []float64) {
	h := SurprisalBits.WithLabelValues(variant)
	for _, b := range bits {
		h.Observe(b)
	}
}

func RecordPrediction(duration time.Duration) {
	PredictionDuration.Observe(duration.Seconds())
}

func RecordContextLength(tokens int) {
	ContextLengthHistogram.Observe(float64(tokens))
}

func RecordValidationError(operation, errorType string) {
	ValidationErrors.WithLabelValues(operation, errorType).Inc()
}
