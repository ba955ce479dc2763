package job

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/video-stream/transcriber/internal/job"

// Progress lines emitted by the pipeline.
const (
	MsgExtracting    = "Extracting audio..."
	MsgExtracted     = "Audio extracted"
	MsgTranscribing  = "Transcribing audio..."
	MsgTranscribed   = "Transcription completed"
	errorLinePrefix  = "ERROR: "
	stageExtract     = "extract"
	stageTranscribe  = "transcribe"
	outcomeSucceeded = "ok"
	outcomeFailed    = "error"
)

// ErrorLine formats a failure as it appears on the progress channel.
func ErrorLine(msg string) string {
	return errorLinePrefix + msg
}

// Pipeline drives one job through extraction and transcription.
type Pipeline struct {
	store       *Store
	extractor   Extractor
	transcriber Transcriber
	log         zerolog.Logger
	tracer      trace.Tracer

	stageDuration metric.Float64Histogram
	finished      metric.Int64Counter
}

// NewPipeline creates a pipeline over the given store and adapters.
// Spans and metrics go to the global OpenTelemetry providers.
func NewPipeline(store *Store, extractor Extractor, transcriber Transcriber, log zerolog.Logger) *Pipeline {
	p := &Pipeline{
		store:       store,
		extractor:   extractor,
		transcriber: transcriber,
		log:         log.With().Str("component", "pipeline").Logger(),
		tracer:      otel.Tracer(instrumentationName),
	}

	meter := otel.Meter(instrumentationName)
	var err error
	p.stageDuration, err = meter.Float64Histogram("transcriber.stage.duration",
		metric.WithDescription("Duration of pipeline stages"),
		metric.WithUnit("s"),
	)
	if err != nil {
		p.log.Warn().Err(err).Msg("stage duration histogram unavailable")
		p.stageDuration = noop.Float64Histogram{}
	}
	p.finished, err = meter.Int64Counter("transcriber.jobs.finished",
		metric.WithDescription("Jobs that reached a terminal status"),
	)
	if err != nil {
		p.log.Warn().Err(err).Msg("finished jobs counter unavailable")
		p.finished = noop.Int64Counter{}
	}
	return p
}

// Run executes the job to a terminal status. It never panics and always
// closes the job's progress channel exactly once before returning.
func (p *Pipeline) Run(ctx context.Context, id string) {
	progress, err := p.store.Progress(id)
	if err != nil {
		p.log.Error().Err(err).Str("job_id", id).Msg("cannot run job")
		return
	}

	ctx, span := p.tracer.Start(ctx, "job.pipeline", trace.WithAttributes(attribute.String("job.id", id)))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Str("job_id", id).Interface("panic", r).Bytes("stack", debug.Stack()).Msg("pipeline panicked")
			p.fail(ctx, id, progress, fmt.Errorf("internal error: %v", r))
		}
		progress.Close()
	}()

	p.run(ctx, id, progress)
}

func (p *Pipeline) run(ctx context.Context, id string, progress *Progress) {
	j, err := p.store.Transition(id, StatusExtracting, nil)
	if err != nil {
		p.log.Error().Err(err).Str("job_id", id).Msg("cannot start job")
		return
	}
	p.log.Info().Str("job_id", id).Str("video", j.VideoPath).Msg("extracting audio")
	p.emit(progress, id, MsgExtracting)

	err = p.stage(ctx, stageExtract, func(ctx context.Context) error {
		return p.extractor.ExtractAudio(ctx, j.VideoPath, j.AudioPath)
	})
	if err != nil {
		p.fail(ctx, id, progress, err)
		return
	}
	p.emit(progress, id, MsgExtracted)

	if _, err := p.store.Transition(id, StatusTranscribing, nil); err != nil {
		p.fail(ctx, id, progress, err)
		return
	}
	p.log.Info().Str("job_id", id).Str("audio", j.AudioPath).Msg("transcribing audio")
	p.emit(progress, id, MsgTranscribing)

	var text string
	err = p.stage(ctx, stageTranscribe, func(ctx context.Context) error {
		var err error
		text, err = p.transcriber.Transcribe(ctx, j.AudioPath, j.TranscriptPath, func(line string) {
			p.emit(progress, id, line)
		})
		if err == nil && strings.TrimSpace(text) == "" {
			err = ErrEmptyTranscript
		}
		return err
	})
	if err != nil {
		p.fail(ctx, id, progress, err)
		return
	}

	if _, err := p.store.Transition(id, StatusCompleted, func(j *Job) { j.Result = text }); err != nil {
		p.log.Error().Err(err).Str("job_id", id).Msg("cannot complete job")
		return
	}
	p.finished.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(StatusCompleted))))
	p.log.Info().Str("job_id", id).Int("chars", len(text)).Msg("job completed")
	p.emit(progress, id, MsgTranscribed)
	p.emit(progress, id, text)
}

// stage runs fn inside its own span and records its duration.
func (p *Pipeline) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := p.tracer.Start(ctx, "job."+name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)

	outcome := outcomeSucceeded
	if err != nil {
		outcome = outcomeFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	p.stageDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
		attribute.String("stage", name),
		attribute.String("outcome", outcome),
	))
	return err
}

func (p *Pipeline) fail(ctx context.Context, id string, progress *Progress, cause error) {
	msg := cause.Error()
	if _, err := p.store.Transition(id, StatusFailed, func(j *Job) { j.Error = msg }); err != nil {
		p.log.Error().Err(err).Str("job_id", id).Str("cause", msg).Msg("cannot mark job failed")
		return
	}
	trace.SpanFromContext(ctx).SetStatus(codes.Error, msg)
	p.finished.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(StatusFailed))))
	p.log.Warn().Str("job_id", id).Str("error", msg).Msg("job failed")
	p.emit(progress, id, ErrorLine(msg))
}

func (p *Pipeline) emit(progress *Progress, id, text string) {
	if err := progress.Push(text); err != nil {
		p.log.Warn().Err(err).Str("job_id", id).Msg("dropped progress message")
	}
}
