package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"salescoach-server/pkg/ai"
	"salescoach-server/pkg/analytics"
	"salescoach-server/pkg/config"
	"salescoach-server/pkg/errors"
	"salescoach-server/pkg/metrics"
	"salescoach-server/pkg/model"
	"salescoach-server/pkg/stt"
)

// Sink receives events destined for the connected client. Calls come from
// the session's event loop goroutine; implementations must not call back
// into the session synchronously.
type Sink interface {
	SendTranscript(seg model.TranscriptSegment)
	SendSentiment(sample model.SentimentSample)
	SendSuggestion(s model.Suggestion)
	SendConsent(state model.ConsentState, message string)
	SendCallEnded(result model.CallResult)
}

// Store is the persistence boundary for a live session. Every write except
// FinalizeCall is fire-and-forget: failures are logged and the call goes on.
type Store interface {
	SaveTranscriptSegment(ctx context.Context, callID string, seg model.TranscriptSegment) error
	SaveSuggestion(ctx context.Context, callID string, s model.Suggestion) error
	SaveSuggestionFeedback(ctx context.Context, suggestionID string, wasHelpful, wasUsed bool) error
	UpdateConsent(ctx context.Context, callID string, state model.ConsentState, method string) error
	FinalizeCall(ctx context.Context, callID string, fullTranscript string, segments []model.TranscriptSegment, result model.CallResult) error
}

// StartContext seeds a new call with prospect information.
type StartContext struct {
	ProspectName    string
	ProspectCompany string
	Context         string
	Objective       string
	ProductFocus    []string
	Language        string
}

// Options wires a session's collaborators.
type Options struct {
	CallID    string
	UserID    string
	Config    config.SessionConfig
	Logger    *logrus.Logger
	Engine    *ai.Engine
	Sentiment *ai.SentimentTracker
	Provider  stt.Provider
	Store     Store
	Sink      Sink
}

// Session orchestrates one live call: consent gating, audio and transcript
// multiplexing, suggestion dispatch, and end-of-call summarization.
//
// All session state is owned by a single event loop goroutine. External
// callers and background tasks never touch state directly; they post
// closures onto the event queue, which the loop executes one at a time.
type Session struct {
	logger *logrus.Entry
	cfg    config.SessionConfig

	callID string
	userID string

	engine    *ai.Engine
	sentiment *ai.SentimentTracker
	provider  stt.Provider
	store     Store
	sink      Sink

	ctx    context.Context
	cancel context.CancelFunc
	events chan func()
	done   chan struct{}
	tasks  sync.WaitGroup

	// Event-loop owned state. Never read or written outside the loop.
	state       model.CallState
	consent     model.ConsentState
	conv        *model.ConversationContext
	stream      stt.Stream
	segments    []model.TranscriptSegment
	suggestions []model.Suggestion
	startedAt   time.Time

	resultMu sync.Mutex
	result   *model.CallResult
}

// New creates a session in the created state and starts its event loop.
func New(opts Options) *Session {
	ctx, cancel := context.WithCancel(context.Background())

	queueSize := opts.Config.EventQueueSize
	if queueSize <= 0 {
		queueSize = 256
	}

	s := &Session{
		logger:    opts.Logger.WithField("call_id", opts.CallID),
		cfg:       opts.Config,
		callID:    opts.CallID,
		userID:    opts.UserID,
		engine:    opts.Engine,
		sentiment: opts.Sentiment,
		provider:  opts.Provider,
		store:     opts.Store,
		sink:      opts.Sink,
		ctx:       ctx,
		cancel:    cancel,
		events:    make(chan func(), queueSize),
		done:      make(chan struct{}),
		state:     model.CallCreated,
		consent:   model.ConsentPending,
	}

	go s.run()
	return s
}

// CallID returns the call identifier this session serves.
func (s *Session) CallID() string {
	return s.callID
}

// UserID returns the owning user.
func (s *Session) UserID() string {
	return s.userID
}

// State returns the current lifecycle state.
func (s *Session) State() model.CallState {
	reply := make(chan model.CallState, 1)
	if s.post(func() { reply <- s.state }) {
		select {
		case state := <-reply:
			return state
		case <-s.done:
		}
	}
	return model.CallEnded
}

// Consent returns the current consent state.
func (s *Session) Consent() model.ConsentState {
	reply := make(chan model.ConsentState, 1)
	if s.post(func() { reply <- s.consent }) {
		select {
		case consent := <-reply:
			return consent
		case <-s.done:
		}
	}
	return model.ConsentRevoked
}

// Context returns a copy of the conversation context.
func (s *Session) Context() model.ConversationContext {
	reply := make(chan model.ConversationContext, 1)
	if s.post(func() { reply <- s.snapshotContext() }) {
		select {
		case conv := <-reply:
			return conv
		case <-s.done:
		}
	}
	return *model.NewConversationContext("", "", "")
}

func (s *Session) run() {
	for {
		select {
		case fn := <-s.events:
			fn()
		case <-s.done:
			s.drainEvents()
			return
		}
	}
}

// drainEvents executes closures that were queued before the session ended,
// so their callers are unblocked. handleEnd is idempotent and every other
// handler is a no-op once the state is ended.
func (s *Session) drainEvents() {
	for {
		select {
		case fn := <-s.events:
			fn()
		default:
			return
		}
	}
}

// post enqueues a closure for the event loop. Returns false once the
// session has ended and the loop is gone; late results are discarded.
func (s *Session) post(fn func()) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- fn:
		return true
	case <-s.done:
		return false
	}
}

// spawn runs a supervised background task. end() waits for spawned tasks
// before computing the final record.
func (s *Session) spawn(fn func()) {
	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		fn()
	}()
}

// Start transitions the session to active: seeds the conversation context,
// opens the transcription stream, and requests the opening suggestion.
func (s *Session) Start(sc StartContext) error {
	reply := make(chan error, 1)
	if !s.post(func() { reply <- s.handleStart(sc) }) {
		return errors.ErrSessionEnded
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return errors.ErrSessionEnded
	}
}

func (s *Session) handleStart(sc StartContext) error {
	if s.state != model.CallCreated {
		return errors.ErrSessionEnded
	}

	s.state = model.CallActive
	s.startedAt = time.Now()
	s.conv = model.NewConversationContext(sc.ProspectName, sc.ProspectCompany, sc.Objective)

	stream, err := s.provider.StartStream(s.ctx, stt.StreamConfig{
		CallID:   s.callID,
		Language: sc.Language,
	})
	if err != nil {
		// Transcription is degraded but the session stays usable for
		// explicit suggestion requests.
		s.logger.WithError(err).Error("Failed to start transcription stream")
	} else {
		s.stream = stream
		go s.pumpStream(stream)
	}

	conv := s.snapshotContext()
	s.spawn(func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.SuggestionTimeout)
		defer cancel()
		suggestion := s.engine.OpeningSuggestion(ctx, &conv, sc.Context, sc.ProductFocus)
		s.post(func() { s.emitSuggestion(suggestion) })
	})

	metrics.RecordSessionStarted()
	s.logger.WithFields(logrus.Fields{
		"prospect": sc.ProspectName,
		"company":  sc.ProspectCompany,
	}).Info("Call session started")
	return nil
}

// pumpStream feeds transcription events into the event loop. Runs until
// the stream closes or the session ends.
func (s *Session) pumpStream(stream stt.Stream) {
	for ev := range stream.Events() {
		ev := ev
		var ok bool
		switch {
		case ev.Segment != nil:
			ok = s.post(func() { s.handleSegment(*ev.Segment) })
		case ev.SuggestionNeeded != nil:
			ok = s.post(func() { s.handleSuggestionNeeded(ev.SuggestionNeeded.Segment) })
		case ev.Err != nil:
			ok = s.post(func() {
				s.logger.WithError(ev.Err).Warn("Transcription stream error")
			})
		default:
			ok = true
		}
		if !ok {
			return
		}
	}
}

// GrantConsent marks recording consent as granted.
func (s *Session) GrantConsent() {
	s.post(func() { s.handleConsent(model.ConsentGranted, "") })
}

// DenyConsent suppresses audio processing. The channel stays open and
// control messages keep working.
func (s *Session) DenyConsent() {
	s.post(func() {
		s.handleConsent(model.ConsentDenied, "Recording disabled. AI assistance will be limited.")
	})
}

// RevokeConsent withdraws previously granted consent.
func (s *Session) RevokeConsent() {
	s.post(func() {
		s.handleConsent(model.ConsentRevoked, "Recording disabled. AI assistance will be limited.")
	})
}

func (s *Session) handleConsent(state model.ConsentState, message string) {
	if s.state == model.CallEnded {
		return
	}

	s.consent = state
	s.sink.SendConsent(state, message)
	s.logger.WithField("consent", string(state)).Info("Consent state updated")

	if s.store != nil {
		s.spawn(func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SentimentTimeout)
			defer cancel()
			if err := s.store.UpdateConsent(ctx, s.callID, state, "verbal"); err != nil {
				s.logger.WithError(err).Warn("Failed to persist consent state")
				metrics.RecordDatabaseError("update_consent")
			}
		})
	}
}

// ProcessAudio queues an audio frame. Frames are silently dropped unless
// the session is active with consent granted; audio arrives continuously
// and must never error or back up the connection.
func (s *Session) ProcessAudio(frame []byte) {
	buf := make([]byte, len(frame))
	copy(buf, frame)

	metrics.RecordAudioFrame(s.callID)

	select {
	case <-s.done:
		metrics.RecordAudioFrameDropped(s.callID, "ended")
		return
	default:
	}
	select {
	case s.events <- func() { s.handleAudio(buf) }:
	default:
		// Queue full. Dropping is preferable to stalling the connection.
		metrics.RecordAudioFrameDropped(s.callID, "queue_full")
	}
}

func (s *Session) handleAudio(frame []byte) {
	if s.state != model.CallActive || s.consent != model.ConsentGranted || s.stream == nil {
		metrics.RecordAudioFrameDropped(s.callID, "not_accepting")
		return
	}
	if err := s.stream.SendAudio(frame); err != nil {
		s.logger.WithError(err).Debug("Failed to forward audio frame")
	}
}

func (s *Session) handleSegment(seg model.TranscriptSegment) {
	if s.state == model.CallEnded {
		return
	}

	s.sink.SendTranscript(seg)
	metrics.RecordTranscriptSegment(string(seg.Speaker), seg.IsFinal)

	if !seg.IsFinal {
		return
	}
	s.segments = append(s.segments, seg)

	if s.store != nil {
		s.spawn(func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SentimentTimeout)
			defer cancel()
			if err := s.store.SaveTranscriptSegment(ctx, s.callID, seg); err != nil {
				s.logger.WithError(err).Warn("Failed to persist transcript segment")
				metrics.RecordDatabaseError("save_transcript_segment")
			}
		})
	}

	if seg.Speaker == model.SpeakerCounterparty {
		s.spawn(func() {
			ctx, cancel := context.WithTimeout(s.ctx, s.cfg.SentimentTimeout)
			defer cancel()
			sample := s.sentiment.Analyze(ctx, seg.Text, seg.StartTime)
			s.post(func() {
				if s.state == model.CallEnded {
					return
				}
				s.sink.SendSentiment(sample)
				metrics.RecordSentimentSample()
			})
		})
	}
}

// handleSuggestionNeeded runs the automatic dispatch policy for a finalized
// counterparty utterance. The transcription stream guarantees the segment
// was delivered first, so an empty history means the signal is stale.
func (s *Session) handleSuggestionNeeded(trigger model.TranscriptSegment) {
	if s.state != model.CallActive {
		return
	}
	if len(s.segments) == 0 {
		return
	}

	latest := s.segments[len(s.segments)-1]
	transcript := s.fullTranscript()

	s.spawn(func() {
		start := time.Now()
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.SuggestionTimeout)
		defer cancel()

		analysis, err := s.engine.AnalyzeUtterance(ctx, latest.Text)
		metrics.RecordReasoningCall("analyze_utterance", time.Since(start).Seconds(), err)
		if err != nil {
			s.logger.WithError(err).Warn("Utterance analysis degraded to fallback")
		}

		s.post(func() { s.applyAnalysis(latest, analysis, transcript) })
	})
}

// applyAnalysis updates the conversation context on the event loop, then
// generates the routed suggestion in a second supervised task using a
// snapshot of the updated context.
func (s *Session) applyAnalysis(latest model.TranscriptSegment, analysis model.UtteranceAnalysis, transcript string) {
	if s.state != model.CallActive {
		return
	}

	ai.UpdateContext(s.conv, analysis)
	conv := s.snapshotContext()

	s.spawn(func() {
		start := time.Now()
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.SuggestionTimeout)
		defer cancel()

		suggestion := s.engine.Suggest(ctx, &conv, latest.Text, analysis, transcript)
		metrics.RecordReasoningCall("generate_suggestion", time.Since(start).Seconds(), nil)

		s.post(func() { s.emitSuggestion(suggestion) })
	})
}

// RequestProductSuggestion generates a product pitch for stated needs.
// Bypasses the automatic dispatch policy.
func (s *Session) RequestProductSuggestion(needs string, painPoints []string) {
	s.post(func() {
		if s.state != model.CallActive {
			return
		}
		s.spawn(func() {
			ctx, cancel := context.WithTimeout(s.ctx, s.cfg.SuggestionTimeout)
			defer cancel()
			suggestion := s.engine.ProductRecommendation(ctx, needs, painPoints)
			s.post(func() { s.emitSuggestion(suggestion) })
		})
	})
}

// RequestObjectionHelp generates an objection-handler suggestion.
func (s *Session) RequestObjectionHelp(objection string) {
	s.post(func() {
		if s.state != model.CallActive {
			return
		}
		s.spawn(func() {
			ctx, cancel := context.WithTimeout(s.ctx, s.cfg.SuggestionTimeout)
			defer cancel()
			suggestion := s.engine.HandleObjection(ctx, objection, "")
			s.post(func() { s.emitSuggestion(suggestion) })
		})
	})
}

// RequestClosingHelp generates a closing suggestion from the call so far.
func (s *Session) RequestClosingHelp() {
	s.post(func() {
		if s.state != model.CallActive {
			return
		}
		conv := s.snapshotContext()
		transcript := s.fullTranscript()
		s.spawn(func() {
			ctx, cancel := context.WithTimeout(s.ctx, s.cfg.SuggestionTimeout)
			defer cancel()
			suggestion := s.engine.ClosingSuggestion(ctx, &conv, transcript)
			s.post(func() { s.emitSuggestion(suggestion) })
		})
	})
}

// RequestDiscoveryQuestions generates discovery questions and emits each
// as its own suggestion.
func (s *Session) RequestDiscoveryQuestions() {
	s.post(func() {
		if s.state != model.CallActive {
			return
		}
		transcript := s.fullTranscript()
		s.spawn(func() {
			ctx, cancel := context.WithTimeout(s.ctx, s.cfg.SuggestionTimeout)
			defer cancel()
			questions := s.engine.DiscoveryQuestions(ctx, transcript)
			s.post(func() {
				for _, q := range questions {
					s.emitSuggestion(q)
				}
			})
		})
	})
}

// RecordSuggestionFeedback persists client feedback on a suggestion.
func (s *Session) RecordSuggestionFeedback(suggestionID string, wasHelpful, wasUsed bool) {
	if s.store == nil || suggestionID == "" {
		return
	}
	s.post(func() {
		s.spawn(func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SentimentTimeout)
			defer cancel()
			if err := s.store.SaveSuggestionFeedback(ctx, suggestionID, wasHelpful, wasUsed); err != nil {
				s.logger.WithError(err).Warn("Failed to persist suggestion feedback")
				metrics.RecordDatabaseError("save_suggestion_feedback")
			}
		})
	})
}

// emitSuggestion appends, delivers, and best-effort persists one suggestion.
// Late suggestions arriving after the call ended are discarded.
func (s *Session) emitSuggestion(suggestion model.Suggestion) {
	if s.state == model.CallEnded {
		s.logger.WithField("kind", string(suggestion.Kind)).Debug("Discarding late suggestion")
		return
	}

	if !s.startedAt.IsZero() {
		suggestion.OffsetSeconds = time.Since(s.startedAt).Seconds()
	}

	s.suggestions = append(s.suggestions, suggestion)
	s.sink.SendSuggestion(suggestion)
	metrics.RecordSuggestion(string(suggestion.Kind))

	if s.store != nil {
		persisted := suggestion
		s.spawn(func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SentimentTimeout)
			defer cancel()
			if err := s.store.SaveSuggestion(ctx, s.callID, persisted); err != nil {
				s.logger.WithError(err).Warn("Failed to persist suggestion")
				metrics.RecordDatabaseError("save_suggestion")
			}
		})
	}
}

// End finalizes the call and returns the composed result. Idempotent: a
// second call returns the already-computed result without re-running
// summarization or persistence.
func (s *Session) End(reason string) model.CallResult {
	reply := make(chan model.CallResult, 1)
	if s.post(func() { reply <- s.handleEnd(reason) }) {
		select {
		case result := <-reply:
			return result
		case <-s.done:
			// The loop ended before running this closure. The winner's
			// result is already recorded; fall through to it.
		}
	}

	s.resultMu.Lock()
	defer s.resultMu.Unlock()
	if s.result != nil {
		return *s.result
	}
	return model.CallResult{CallID: s.callID, Summary: model.DefaultSummary(), EndedAt: time.Now().UTC()}
}

func (s *Session) handleEnd(reason string) model.CallResult {
	if s.state == model.CallEnded && s.result != nil {
		return *s.result
	}

	wasActive := s.state == model.CallActive
	s.state = model.CallEnded

	// Cancel in-flight reasoning tasks, then stop the stream so no new
	// events arrive while the record is computed.
	s.cancel()
	if s.stream != nil {
		if err := s.stream.Stop(); err != nil {
			s.logger.WithError(err).Debug("Failed to stop transcription stream")
		}
	}
	s.drainTasks()

	duration := 0
	if wasActive && !s.startedAt.IsZero() {
		duration = int(time.Since(s.startedAt).Seconds())
	}

	transcript := s.fullTranscript()

	summaryCtx, cancelSummary := context.WithTimeout(context.Background(), s.cfg.SummaryTimeout)
	summary := s.engine.SummarizeCall(summaryCtx, transcript, duration)
	cancelSummary()

	result := model.CallResult{
		CallID:          s.callID,
		DurationSeconds: duration,
		Summary:         summary,
		Analytics:       s.computeAnalytics(),
		EndedAt:         time.Now().UTC(),
	}

	if s.store != nil {
		persistCtx, cancelPersist := context.WithTimeout(context.Background(), s.cfg.SummaryTimeout)
		if err := s.store.FinalizeCall(persistCtx, s.callID, transcript, s.segments, result); err != nil {
			s.logger.WithError(err).Error("Failed to persist final call record")
			metrics.RecordDatabaseError("finalize_call")
			result.StorageWarning = "call record could not be saved: " + err.Error()
		}
		cancelPersist()
	}

	s.sink.SendCallEnded(result)
	metrics.RecordSessionEnded(reason, float64(duration))
	s.logger.WithFields(logrus.Fields{
		"reason":           reason,
		"duration_seconds": duration,
		"segments":         len(s.segments),
		"suggestions":      len(s.suggestions),
	}).Info("Call session ended")

	s.resultMu.Lock()
	s.result = &result
	s.resultMu.Unlock()
	close(s.done)

	return result
}

// drainTasks waits for supervised tasks, bounded by the drain timeout so a
// stuck provider cannot hold the final record hostage.
func (s *Session) drainTasks() {
	finished := make(chan struct{})
	go func() {
		s.tasks.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(s.cfg.EndDrainTimeout):
		s.logger.Warn("Timed out waiting for background tasks to finish")
	}
}

func (s *Session) computeAnalytics() model.CallAnalytics {
	allText := analytics.ConcatText(s.segments)

	return model.CallAnalytics{
		TalkRatio:         analytics.TalkRatio(s.segments),
		AgentWPM:          analytics.WordsPerMinute(s.segments, model.SpeakerAgent),
		CounterpartyWPM:   analytics.WordsPerMinute(s.segments, model.SpeakerCounterparty),
		FillerWordCounts:  analytics.FillerWordCounts(allText),
		QuestionCount:     analytics.QuestionCount(allText),
		SentimentTimeline: s.sentiment.Timeline(),
		AverageSentiment:  s.sentiment.AverageScore(),
		SuggestionCount:   len(s.suggestions),
	}
}

// fullTranscript prefers the stream's transcript and falls back to the
// retained segment history when transcription never started.
func (s *Session) fullTranscript() string {
	if s.stream != nil {
		if t := s.stream.FullTranscript(); t != "" {
			return t
		}
	}

	var b strings.Builder
	for i, seg := range s.segments {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(seg.Speaker))
		b.WriteString(": ")
		b.WriteString(seg.Text)
	}
	return b.String()
}

// snapshotContext copies the conversation context so background tasks can
// read it without touching loop-owned state.
func (s *Session) snapshotContext() model.ConversationContext {
	if s.conv == nil {
		return *model.NewConversationContext("", "", "")
	}
	snapshot := *s.conv
	snapshot.PainPoints = append([]string(nil), s.conv.PainPoints...)
	snapshot.ProductsDiscussed = append([]string(nil), s.conv.ProductsDiscussed...)
	snapshot.ObjectionsRaised = append([]string(nil), s.conv.ObjectionsRaised...)
	return snapshot
}
