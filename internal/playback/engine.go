package playback

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ent0n29/vtutor/internal/audio"
	"github.com/ent0n29/vtutor/internal/journal"
	"github.com/ent0n29/vtutor/internal/observability"
	"github.com/ent0n29/vtutor/internal/policy"
	"github.com/ent0n29/vtutor/internal/speech"
	"github.com/ent0n29/vtutor/internal/vtube"
)

var ErrEngineClosed = errors.New("playback engine closed")

// avatarTimeout bounds each avatar call made from the sampling loop.
const avatarTimeout = 5 * time.Second

// Avatar is the parameter sink the engine drives while audio plays.
type Avatar interface {
	SetParameter(name string, value float64) error
	SendParameterValues(ctx context.Context) error
	Resume(ctx context.Context) error
}

type Options struct {
	Synthesizer    speech.Synthesizer
	Player         audio.Player
	Avatar         Avatar
	Journal        journal.Store
	Metrics        *observability.Metrics
	Logger         zerolog.Logger
	MouthParameter string
	ReferenceRMS   float64
	SampleInterval time.Duration
	Workers        int
}

// Status is a point-in-time view of the queue.
type Status struct {
	Playing   bool `json:"playing"`
	Queued    int  `json:"queued"`
	Consuming bool `json:"consuming"`
}

// Ticket identifies an enqueued utterance and reports when it finished.
type Ticket struct {
	ID   string
	done chan struct{}
	err  error
}

// Wait blocks until the utterance played or failed. Returning early on ctx
// does not remove the utterance from the queue.
func (t *Ticket) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return t.err
	}
}

type entry struct {
	ticket   *Ticket
	text     string
	asset    speech.Asset
	queuedAt time.Time
	record   journal.Record
}

// Engine synthesizes utterances one at a time, queues them in submission
// order and plays them back on a bounded worker pool while streaming mouth
// movement to the avatar.
type Engine struct {
	synth    speech.Synthesizer
	player   audio.Player
	avatar   Avatar
	journal  journal.Store
	metrics  *observability.Metrics
	log      zerolog.Logger
	mouth    string
	refRMS   float64
	interval time.Duration

	lifetime context.Context
	cancel   context.CancelFunc
	jobs     chan func()
	workers  sync.WaitGroup
	consumer sync.WaitGroup

	// genMu serializes synthesize-then-append so queue order matches
	// the order synthesis completed in.
	genMu sync.Mutex

	mu        sync.Mutex
	queue     []*entry
	consuming bool
	closed    bool
	idle      chan struct{}

	playing atomic.Bool
	level   atomic.Uint64
}

func NewEngine(opts Options) (*Engine, error) {
	if opts.Synthesizer == nil || opts.Player == nil || opts.Avatar == nil {
		return nil, errors.New("playback engine needs a synthesizer, player and avatar")
	}
	if opts.MouthParameter == "" {
		opts.MouthParameter = vtube.SoundTrackerParameter
	}
	if opts.ReferenceRMS <= 0 {
		opts.ReferenceRMS = 32768
	}
	if opts.SampleInterval <= 0 {
		opts.SampleInterval = 20 * time.Millisecond
	}
	if opts.Workers < 1 || opts.Workers > 2 {
		return nil, fmt.Errorf("playback workers must be 1 or 2, got %d", opts.Workers)
	}

	lifetime, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)
	e := &Engine{
		synth:    opts.Synthesizer,
		player:   opts.Player,
		avatar:   opts.Avatar,
		journal:  opts.Journal,
		metrics:  opts.Metrics,
		log:      opts.Logger,
		mouth:    opts.MouthParameter,
		refRMS:   opts.ReferenceRMS,
		interval: opts.SampleInterval,
		lifetime: lifetime,
		cancel:   cancel,
		jobs:     make(chan func()),
		idle:     idle,
	}
	for i := 0; i < opts.Workers; i++ {
		e.workers.Add(1)
		go func() {
			defer e.workers.Done()
			for job := range e.jobs {
				job()
			}
		}()
	}
	return e, nil
}

// Enqueue cleans and synthesizes text and appends it to the queue, starting
// the consumer if none is running. Synthesis failures are returned and leave
// the queue untouched. The journal keeps a redacted copy of the text.
func (e *Engine) Enqueue(ctx context.Context, text string) (*Ticket, error) {
	e.genMu.Lock()
	defer e.genMu.Unlock()

	if e.isClosed() {
		return nil, ErrEngineClosed
	}
	text = speech.CleanText(text)
	if text == "" {
		return nil, speech.ErrEmptyText
	}

	ticket := &Ticket{ID: uuid.NewString(), done: make(chan struct{})}
	stored, hits := policy.Redact(text)
	if len(hits) > 0 {
		e.metrics.ObserveIndicator("journal_redacted")
	}
	rec := journal.Record{ID: ticket.ID, Text: stored, Provider: e.synth.Name(), Status: journal.StatusQueued, CreatedAt: time.Now().UTC()}

	start := time.Now()
	asset, err := e.synth.Synthesize(ctx, text)
	e.metrics.ObserveSynthesis(e.synth.Name(), time.Since(start))
	if err != nil {
		e.log.Error().Err(err).Str("provider", e.synth.Name()).Msg("speech synthesis failed")
		code := "synthesis"
		var pErr *speech.ProviderError
		if errors.As(err, &pErr) {
			code = pErr.Code
		}
		e.metrics.ObserveProviderError(e.synth.Name(), code)
		e.metrics.ObserveUtterance(string(journal.StatusFailed))
		rec.Status = journal.StatusFailed
		rec.Error = err.Error()
		e.record(rec)
		return nil, fmt.Errorf("synthesize: %w", err)
	}
	rec.SynthesisMS = time.Since(start).Milliseconds()
	e.record(rec)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		_ = os.Remove(asset.Path)
		return nil, ErrEngineClosed
	}
	e.queue = append(e.queue, &entry{ticket: ticket, text: text, asset: asset, queuedAt: time.Now(), record: rec})
	e.metrics.SetQueueDepth(len(e.queue))
	if !e.consuming {
		e.consuming = true
		e.idle = make(chan struct{})
		e.consumer.Add(1)
		go e.consume()
	}
	e.mu.Unlock()
	return ticket, nil
}

// Speak enqueues text and blocks until it has been spoken.
func (e *Engine) Speak(ctx context.Context, text string) error {
	t, err := e.Enqueue(ctx, text)
	if err != nil {
		return err
	}
	return t.Wait(ctx)
}

// WaitIdle blocks until the queue is empty and nothing is playing.
func (e *Engine) WaitIdle(ctx context.Context) error {
	e.mu.Lock()
	idle := e.idle
	e.mu.Unlock()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-idle:
		return nil
	}
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{Playing: e.playing.Load(), Queued: len(e.queue), Consuming: e.consuming}
}

func (e *Engine) IsPlaying() bool { return e.playing.Load() }

// Close stops playback, fails anything still queued and stops the workers.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	e.consumer.Wait()

	e.mu.Lock()
	pending := e.queue
	e.queue = nil
	e.mu.Unlock()
	for _, ent := range pending {
		_ = os.Remove(ent.asset.Path)
		e.finish(ent, ErrEngineClosed, 0)
	}

	close(e.jobs)
	e.workers.Wait()
	return nil
}

func (e *Engine) consume() {
	defer e.consumer.Done()
	for {
		e.mu.Lock()
		if len(e.queue) == 0 || e.lifetime.Err() != nil {
			e.consuming = false
			close(e.idle)
			e.mu.Unlock()
			return
		}
		ent := e.queue[0]
		e.queue = e.queue[1:]
		e.metrics.SetQueueDepth(len(e.queue))
		e.mu.Unlock()

		wait := time.Since(ent.queuedAt)
		e.metrics.ObserveStage(observability.StageQueueWait, wait)
		ent.record.QueueWaitMS = wait.Milliseconds()

		start := time.Now()
		err := e.play(ent)
		e.finish(ent, err, time.Since(start))
	}
}

func (e *Engine) play(ent *entry) error {
	defer func() {
		if err := os.Remove(ent.asset.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			e.log.Warn().Err(err).Str("path", ent.asset.Path).Msg("remove played asset")
		}
	}()

	clip, err := audio.ReadWAVFile(ent.asset.Path)
	if err != nil {
		return fmt.Errorf("load asset: %w", err)
	}

	e.level.Store(0)
	result := make(chan error, 1)
	job := func() {
		result <- e.player.Play(e.lifetime, clip, func(rms float64) {
			e.level.Store(math.Float64bits(rms))
		})
	}
	select {
	case e.jobs <- job:
	case <-e.lifetime.Done():
		return ErrEngineClosed
	}

	e.playing.Store(true)
	e.metrics.SetPlaying(true)
	defer func() {
		e.playing.Store(false)
		e.metrics.SetPlaying(false)
		_ = e.avatar.SetParameter(e.mouth, 0)
	}()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case err := <-result:
			return err
		case <-ticker.C:
			e.pushMouth(ent.asset.Gain)
		}
	}
}

// pushMouth forwards the latest amplitude sample. A closed connection is
// repaired in place and the next tick resumes streaming.
func (e *Engine) pushMouth(gain float64) {
	raw := math.Float64frombits(e.level.Load())
	value := MouthValue(raw, e.refRMS, gain)
	if err := e.avatar.SetParameter(e.mouth, value); err != nil {
		e.metrics.ObserveIndicator("mouth_rejected")
		e.log.Warn().Err(err).Float64("value", value).Msg("mouth value rejected")
		return
	}
	ctx, cancel := context.WithTimeout(e.lifetime, avatarTimeout)
	defer cancel()
	err := e.avatar.SendParameterValues(ctx)
	if err == nil || e.lifetime.Err() != nil {
		return
	}
	if !errors.Is(err, vtube.ErrConnectionClosed) {
		e.log.Warn().Err(err).Msg("parameter update failed")
		return
	}
	e.log.Warn().Err(err).Msg("avatar connection lost during playback, reconnecting")
	rctx, rcancel := context.WithTimeout(e.lifetime, avatarTimeout)
	defer rcancel()
	if err := e.avatar.Resume(rctx); err != nil {
		e.log.Error().Err(err).Msg("avatar reconnect failed")
		return
	}
	e.metrics.ObserveIndicator("resumed_after_reconnect")
}

func (e *Engine) finish(ent *entry, err error, played time.Duration) {
	rec := ent.record
	rec.PlaybackMS = played.Milliseconds()
	if err != nil {
		rec.Status = journal.StatusFailed
		rec.Error = err.Error()
		e.log.Error().Err(err).Str("utterance", ent.ticket.ID).Msg("playback failed")
	} else {
		rec.Status = journal.StatusPlayed
		e.metrics.ObserveStage(observability.StagePlayback, played)
	}
	e.metrics.ObserveUtterance(string(rec.Status))
	e.record(rec)

	ent.ticket.err = err
	close(ent.ticket.done)
}

func (e *Engine) record(rec journal.Record) {
	if e.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.journal.Save(ctx, rec); err != nil {
		e.log.Warn().Err(err).Str("utterance", rec.ID).Msg("journal save failed")
	}
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
