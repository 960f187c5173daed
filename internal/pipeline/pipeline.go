// Package pipeline runs one hop surprisal experiment end to end.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/google/uuid"

	"github.com/23skdu/hopsurprisal/internal/checkpoint"
	"github.com/23skdu/hopsurprisal/internal/config"
	"github.com/23skdu/hopsurprisal/internal/logger"
	"github.com/23skdu/hopsurprisal/internal/marker"
	"github.com/23skdu/hopsurprisal/internal/metrics"
	"github.com/23skdu/hopsurprisal/internal/model"
	"github.com/23skdu/hopsurprisal/internal/monitoring"
	"github.com/23skdu/hopsurprisal/internal/results"
	"github.com/23skdu/hopsurprisal/internal/sampler"
	"github.com/23skdu/hopsurprisal/internal/sweep"
	"github.com/23skdu/hopsurprisal/internal/token"
	"github.com/23skdu/hopsurprisal/internal/tokenizer"
)

// Publisher ships the finished table somewhere besides the CSV file.
type Publisher interface {
	DoPut(ctx context.Context, path []string, rec arrow.Record) (int, error)
}

// Observer follows run progress; *monitoring.Monitor implements it.
type Observer interface {
	Phase(phase string)
	Plan(examples, checkpoints int)
	CheckpointDone(ckpt int)
	Fail(err error)
}

type nopObserver struct{}

func (nopObserver) Phase(string)       {}
func (nopObserver) Plan(int, int)      {}
func (nopObserver) CheckpointDone(int) {}
func (nopObserver) Fail(error)         {}

// observedSink reports each checkpoint once its columns are accepted.
type observedSink struct {
	sweep.Sink
	obs Observer
}

func (s observedSink) AddCheckpoint(ckpt int, marker, noMarker []float64) error {
	if err := s.Sink.AddCheckpoint(ckpt, marker, noMarker); err != nil {
		return err
	}
	s.obs.CheckpointDone(ckpt)
	return nil
}

// Summary describes a completed run.
type Summary struct {
	RunID       string
	Files       int
	Rows        int
	Checkpoints []int
	ResultPath  string
	Elapsed     time.Duration

	// Mean surprisals at the last checkpoint.
	FinalMarkerBits   float64
	FinalNoMarkerBits float64
}

// Runner executes one configured experiment.
type Runner struct {
	cfg       config.Config
	provider  model.Provider
	decoder   tokenizer.Decoder
	publisher Publisher
	observer  Observer
	log       *logger.Logger
}

// Option customises a Runner.
type Option func(*Runner)

func WithObserver(o Observer) Option {
	return func(r *Runner) { r.observer = o }
}

// WithProvider replaces the checkpoint loader derived from the config.
func WithProvider(p model.Provider) Option {
	return func(r *Runner) { r.provider = p }
}

func WithDecoder(d tokenizer.Decoder) Option {
	return func(r *Runner) { r.decoder = d }
}

func WithPublisher(p Publisher) Option {
	return func(r *Runner) { r.publisher = p }
}

// New validates cfg and prepares a runner. Without WithDecoder the decoder
// comes from cfg.TokenizerVocab, falling back to raw ids.
func New(cfg config.Config, opts ...Option) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Runner{cfg: cfg, observer: nopObserver{}}
	for _, o := range opts {
		o(r)
	}
	r.log = logger.Log.With("model", cfg.ModelName())

	if r.decoder == nil {
		d, err := decoderFor(cfg)
		if err != nil {
			return nil, err
		}
		r.decoder = d
	}
	return r, nil
}

func decoderFor(cfg config.Config) (tokenizer.Decoder, error) {
	if cfg.TokenizerVocab == "" {
		return tokenizer.IDs{}, nil
	}
	tk, err := tokenizer.Load(cfg.TokenizerVocab)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}
	tk.AddSpecial(cfg.EOSToken, "<|endoftext|>")
	tk.AddSpecial(cfg.MarkerSingular, "🅂")
	tk.AddSpecial(cfg.MarkerPlural, "🄿")
	return tk, nil
}

// Run samples the corpus, localizes markers, sweeps every checkpoint and
// writes the result table. Nothing is written unless every stage succeeds.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	sum, err := r.run(ctx)
	if err != nil {
		r.observer.Fail(err)
		return nil, err
	}
	r.observer.Phase(monitoring.PhaseDone)
	return sum, nil
}

func (r *Runner) run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	runID := uuid.NewString()
	log := r.log.With("run_id", runID)

	files, err := token.Discover(r.cfg.CorpusGlob())
	if err != nil {
		return nil, err
	}
	r.observer.Phase(monitoring.PhaseSampling)
	log.Info("Sampling affected test files", "files", len(files), "per_file", r.cfg.FileSampleSize)

	smp := sampler.NewSeeded(sampler.Config{
		SampleSize: r.cfg.FileSampleSize,
		MaxSeqLen:  r.cfg.MaxSeqLen,
		EOSToken:   r.cfg.EOSToken,
	}, int64(r.cfg.Seed))
	samples, err := smp.SampleFiles(files, func(st sampler.FileStats) {
		metrics.RecordSampled(filepath.Base(st.Path), st.Sampled)
		metrics.RecordFiltered(st.Lines - st.Eligible)
		log.Info("Sampled file", "file", st.Path, "lines", st.Lines, "eligible", st.Eligible, "sampled", st.Sampled)
	})
	if err != nil {
		metrics.RecordValidationError("sample", "insufficient_data")
		return nil, err
	}

	records, err := r.localize(samples)
	if err != nil {
		return nil, err
	}

	checkpoints := r.cfg.Schedule.Checkpoints()
	provider := r.provider
	if provider == nil {
		loader := r.loader()
		if !loader.Weightless {
			if err := loader.Layout.Check(checkpoints); err != nil {
				return nil, err
			}
		}
		provider = loader
	}

	table := results.NewTable(r.rows(records))
	table.SetMeta("run_id", runID)
	table.SetMeta("model", r.cfg.ModelName())
	table.SetMeta("perturbation", r.cfg.Perturbation)
	table.SetMeta("seed", strconv.Itoa(r.cfg.Seed))

	r.observer.Plan(len(records), len(checkpoints))
	r.observer.Phase(monitoring.PhaseEvaluating)
	log.Info("Computing surprisals", "examples", len(records), "checkpoints", len(checkpoints))
	sink := observedSink{Sink: table, obs: r.observer}
	if err := sweep.New(provider, r.cfg.BatchSize).Run(ctx, records, checkpoints, sink); err != nil {
		return nil, err
	}

	r.observer.Phase(monitoring.PhaseWriting)

	// The file is written last so a failed publish leaves nothing on disk.
	if r.publisher != nil {
		rec := table.Record()
		_, err := r.publisher.DoPut(ctx, []string{"hop_surprisal", r.cfg.ModelName()}, rec)
		rec.Release()
		if err != nil {
			return nil, fmt.Errorf("publish results: %w", err)
		}
	}

	path := r.cfg.ResultPath()
	if err := table.WriteFile(path); err != nil {
		return nil, err
	}
	log.Info("Wrote results", "path", path, "rows", table.Len())

	sum := &Summary{
		RunID:       runID,
		Files:       len(files),
		Rows:        table.Len(),
		Checkpoints: checkpoints,
		ResultPath:  path,
		Elapsed:     time.Since(start),
	}
	if len(checkpoints) > 0 {
		m, nm, _ := table.Column(checkpoints[len(checkpoints)-1])
		sum.FinalMarkerBits, sum.FinalNoMarkerBits = mean(m), mean(nm)
	}
	return sum, nil
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

// localize builds every record before any model is touched.
func (r *Runner) localize(samples []sampler.Sample) ([]marker.Record, error) {
	set := marker.Set{Singular: r.cfg.MarkerSingular, Plural: r.cfg.MarkerPlural}
	records := make([]marker.Record, len(samples))
	extra := 0
	for i, s := range samples {
		rec, err := set.Build(s.Source, s.Line, s.Tokens)
		if err != nil {
			metrics.RecordValidationError("localize", "marker")
			return nil, err
		}
		if rec.Extra > 0 {
			extra++
		}
		records[i] = rec
	}
	if extra > 0 {
		r.log.Debug("Sequences with more than one marker", "count", extra)
	}
	return records, nil
}

func (r *Runner) rows(records []marker.Record) []results.Row {
	rows := make([]results.Row, len(records))
	for i, rec := range records {
		rows[i] = results.Row{
			Source:        filepath.Base(rec.Source),
			Target:        rec.Target,
			WithMarker:    r.decoder.Decode(rec.Marker.Ints()),
			WithoutMarker: r.decoder.Decode(rec.Counterfactual.Ints()),
		}
	}
	return rows
}

func (r *Runner) loader() *checkpoint.Loader {
	return &checkpoint.Loader{
		Layout:  r.cfg.Layout(),
		Backend: r.cfg.Backend,
		Options: model.Options{
			VocabSize:             r.cfg.VocabSize,
			NoPositionalEncodings: r.cfg.NoPositionalEncodings,
			Workers:               r.cfg.Workers,
		},
		Weightless: r.cfg.Backend == "uniform",
	}
}
