package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/liveplay/engine/apperrors"
	commonevents "github.com/liveplay/engine/events"
	"github.com/liveplay/engine/internal/ledger"
	"github.com/liveplay/engine/internal/projector"
	"github.com/liveplay/engine/internal/ratelimit"
	"github.com/liveplay/engine/internal/reconcile"
	"github.com/liveplay/engine/internal/repository"
	"github.com/liveplay/engine/internal/scoring"
	"github.com/liveplay/engine/internal/validate"
	"github.com/liveplay/engine/logger"
	"github.com/liveplay/engine/models"
)

var participantNamespace = uuid.MustParse("b1f86a2c-69d4-47c6-8cfb-9e3e6f0e4b27")

// SessionAuthority is the slice of the session authority the engine needs.
type SessionAuthority interface {
	GetConfig(ctx context.Context, sessionId string) (*models.SessionConfig, *apperrors.AppError)
	Transition(ctx context.Context, sessionId string, to models.Phase) (*models.SessionConfig, *apperrors.AppError)
	Invalidate(sessionId string)
}

// Board is the slice of the projector the engine needs.
type Board interface {
	Register(ctx context.Context, sessionId string, entry models.LeaderboardEntry) error
	Snapshot(ctx context.Context, q projector.Query) (*models.LeaderboardView, error)
}

// Rebuilder triggers a full reconciliation from the ledger.
type Rebuilder interface {
	Rebuild(ctx context.Context, sessionId string) ([]models.LeaderboardEntry, error)
}

// Publisher hands committed outcomes to the projector worker.
type Publisher interface {
	PublishCommitted(ctx context.Context, ev commonevents.CommitEvent) error
	PublishReset(ctx context.Context, sessionId string) error
}

// FailureGate is the per-identity tier of the rate gate.
type FailureGate interface {
	CheckFailures(ctx context.Context, sessionId, participantId string) ratelimit.Decision
	RecordFailure(ctx context.Context, sessionId, participantId string)
}

type CreateSessionRequest struct {
	Name    string                `json:"name"`
	Kind    models.SubmissionKind `json:"kind"`
	Targets []models.Target       `json:"targets"`
	Rules   models.SessionRules   `json:"rules"`
	Scoring models.ScoringParams  `json:"scoring"`
}

type RegisterRequest struct {
	SessionId   string `json:"-"`
	Identity    string `json:"identity"`
	DisplayName string `json:"display_name"`
	Avatar      string `json:"avatar"`
	GroupId     string `json:"group_id"`
	Category    string `json:"category"`
}

type SubmitRequest struct {
	SessionId     string                `json:"-"`
	ParticipantId string                `json:"participant_id"`
	TargetValue   string                `json:"target_value"`
	Kind          models.SubmissionKind `json:"kind"`
}

type SubmitResult struct {
	Accepted       bool   `json:"accepted"`
	PointsAwarded  int    `json:"points_awarded"`
	AggregateScore int    `json:"aggregate_score"`
	SequenceNumber int    `json:"sequence_number"`
	IsComplete     bool   `json:"is_complete"`
	OutOfOrder     bool   `json:"out_of_order,omitempty"`
	NextHint       string `json:"next_hint,omitempty"`
}

type TransitionRequest struct {
	SessionId string       `json:"-"`
	NewPhase  models.Phase `json:"new_phase"`
	ResetData bool         `json:"reset_data"`
}

type TransitionResult struct {
	Phase          models.Phase `json:"phase"`
	TransitionedAt time.Time    `json:"transitioned_at"`
}

type LeaderboardQuery struct {
	SessionId   string
	GroupFilter string
	Limit       int
	RequesterId string
}

type ParticipantStatus struct {
	Participant *models.Participant `json:"participant"`
	Rank        int                 `json:"rank,omitempty"`
	Complete    bool                `json:"complete"`
	Expired     bool                `json:"expired"`
}

type EngineService interface {
	CreateSession(ctx context.Context, req CreateSessionRequest) (*models.SessionConfig, *apperrors.AppError)
	Transition(ctx context.Context, req TransitionRequest) (*TransitionResult, *apperrors.AppError)
	Register(ctx context.Context, req RegisterRequest) (*models.Participant, *apperrors.AppError)
	Start(ctx context.Context, sessionId, participantId string) (*models.Participant, *apperrors.AppError)
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, *apperrors.AppError)
	Leaderboard(ctx context.Context, q LeaderboardQuery) (*models.LeaderboardView, *apperrors.AppError)
	Status(ctx context.Context, sessionId, participantId string) (*ParticipantStatus, *apperrors.AppError)
}

type engineService struct {
	authority      SessionAuthority
	sessions       repository.SessionRepository
	participants   repository.ParticipantRepository
	events         repository.EventRepository
	ledger         ledger.Ledger
	board          Board
	rebuilder      Rebuilder
	publisher      Publisher
	gate           FailureGate
	defaultScoring models.ScoringParams
	logger         *logger.Logger
}

func NewEngineService(
	authority SessionAuthority,
	sessions repository.SessionRepository,
	participants repository.ParticipantRepository,
	events repository.EventRepository,
	ldg ledger.Ledger,
	board Board,
	rebuilder Rebuilder,
	publisher Publisher,
	gate FailureGate,
	defaultScoring models.ScoringParams,
	log *logger.Logger,
) EngineService {
	return &engineService{
		authority:      authority,
		sessions:       sessions,
		participants:   participants,
		events:         events,
		ledger:         ldg,
		board:          board,
		rebuilder:      rebuilder,
		publisher:      publisher,
		gate:           gate,
		defaultScoring: defaultScoring,
		logger:         log,
	}
}

func (s *engineService) CreateSession(ctx context.Context, req CreateSessionRequest) (*models.SessionConfig, *apperrors.AppError) {
	if len(req.Targets) == 0 {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "session needs at least one target")
	}

	// Scoring params the request leaves unset fall back to the deployment
	// defaults; a session created with no scoring block at all must still
	// award points.
	scoringParams := req.Scoring
	if scoringParams.BasePoints == 0 {
		scoringParams.BasePoints = s.defaultScoring.BasePoints
	}
	if scoringParams.TimeBonusMax == 0 {
		scoringParams.TimeBonusMax = s.defaultScoring.TimeBonusMax
	}
	if len(scoringParams.StreakMultipliers) == 0 {
		scoringParams.StreakMultipliers = s.defaultScoring.StreakMultipliers
	}

	cfg := &models.SessionConfig{
		SessionId: uuid.New().String(),
		Name:      req.Name,
		Phase:     models.PhaseRegistration,
		Kind:      req.Kind,
		Targets:   req.Targets,
		Rules:     req.Rules,
		Scoring:   scoringParams,
	}
	if cfg.Kind == "" {
		cfg.Kind = models.KindScan
	}

	if err := s.sessions.Create(ctx, cfg); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to create session")
	}

	s.logger.Info("Session created",
		"session_id", cfg.SessionId,
		"kind", string(cfg.Kind),
		"targets", len(cfg.Targets),
	)

	return cfg, nil
}

func (s *engineService) Register(ctx context.Context, req RegisterRequest) (*models.Participant, *apperrors.AppError) {
	cfg, appErr := s.authority.GetConfig(ctx, req.SessionId)
	if appErr != nil {
		return nil, appErr
	}

	if cfg.Phase != models.PhaseRegistration && cfg.Phase != models.PhaseCountdown {
		return nil, apperrors.New(apperrors.CodeGameNotActive, "session is not open for registration").
			WithContext("phase", string(cfg.Phase))
	}

	participant := &models.Participant{
		SessionId:     req.SessionId,
		ParticipantId: uuid.NewSHA1(participantNamespace, []byte(req.SessionId+"/"+req.Identity)).String(),
		DisplayName:   req.DisplayName,
		Avatar:        req.Avatar,
		GroupId:       req.GroupId,
		Category:      req.Category,
	}

	// Voters have no start button; their clock is their registration.
	if cfg.Kind == models.KindVote {
		now := time.Now().UTC()
		participant.StartedAt = &now
	}

	if err := s.participants.Create(ctx, participant); err != nil {
		if errors.Is(err, repository.ErrAlreadyRegistered) {
			existing, getErr := s.participants.Get(ctx, req.SessionId, participant.ParticipantId)
			if getErr != nil {
				return nil, apperrors.Wrap(getErr, apperrors.CodeDatabaseError, "failed to load participant")
			}
			return existing, nil
		}
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to register participant")
	}

	// Seed the board so the participant is visible before their first score.
	if err := s.board.Register(ctx, req.SessionId, models.LeaderboardEntry{
		ParticipantId: participant.ParticipantId,
		DisplayName:   participant.DisplayName,
		GroupId:       participant.GroupId,
		TieBreakMs:    reconcile.TieBreak(cfg, participant, time.Time{}, false),
	}); err != nil {
		s.logger.Warn("Failed to seed leaderboard entry", "error", err)
	}

	s.logger.Info("Participant registered",
		"session_id", req.SessionId,
		"participant_id", participant.ParticipantId,
	)

	return participant, nil
}

func (s *engineService) Start(ctx context.Context, sessionId, participantId string) (*models.Participant, *apperrors.AppError) {
	cfg, appErr := s.authority.GetConfig(ctx, sessionId)
	if appErr != nil {
		return nil, appErr
	}
	if !cfg.Admits() {
		return nil, apperrors.New(apperrors.CodeGameNotActive, "session is not accepting play").
			WithContext("phase", string(cfg.Phase))
	}

	started, err := s.participants.Start(ctx, sessionId, participantId, time.Now().UTC())
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to start participant")
	}
	if started == nil {
		// Missing or already started; starting twice is a no-op.
		existing, getErr := s.participants.Get(ctx, sessionId, participantId)
		if getErr != nil {
			return nil, apperrors.Wrap(getErr, apperrors.CodeDatabaseError, "failed to load participant")
		}
		if existing == nil {
			return nil, apperrors.New(apperrors.CodeNotRegistered, "participant is not registered in this session")
		}
		return existing, nil
	}

	return started, nil
}

func (s *engineService) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, *apperrors.AppError) {
	if d := s.gate.CheckFailures(ctx, req.SessionId, req.ParticipantId); !d.Allowed {
		return nil, apperrors.New(apperrors.CodeRateLimited, "too many failed attempts").
			WithContext("retry_after_ms", d.RetryAfter.Milliseconds())
	}

	cfg, appErr := s.authority.GetConfig(ctx, req.SessionId)
	if appErr != nil {
		return nil, appErr
	}

	result, appErr := s.ledger.Commit(ctx, req.SessionId, req.ParticipantId, targetIdFor(cfg, req.TargetValue),
		func(p *models.Participant) (*models.SubmissionEvent, *models.Participant, *apperrors.AppError) {
			return s.mutation(ctx, cfg, p, req)
		})
	if appErr != nil {
		s.handleRejection(ctx, req, appErr)
		return nil, appErr
	}

	s.propagate(ctx, cfg, result)

	return s.submitResult(cfg, result), nil
}

// mutation runs once per commit attempt against a freshly read participant:
// the duplicate lookup, admission checks and score all recompute from the
// state the transaction is fenced on.
func (s *engineService) mutation(
	ctx context.Context,
	cfg *models.SessionConfig,
	p *models.Participant,
	req SubmitRequest,
) (*models.SubmissionEvent, *models.Participant, *apperrors.AppError) {
	now := time.Now().UTC()

	if req.Kind != "" && req.Kind != cfg.Kind {
		return nil, nil, apperrors.New(apperrors.CodeWrongType, "submission kind does not match this session").
			WithContext("expected_kind", string(cfg.Kind))
	}

	targetId := targetIdFor(cfg, req.TargetValue)
	var prior *models.SubmissionEvent
	if targetId != "" {
		var err error
		prior, err = s.events.Get(ctx, req.SessionId, p.ParticipantId, targetId)
		if err != nil {
			return nil, nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to check prior submission")
		}
	}

	out, vErr := validate.Check(validate.State{
		Config:        cfg,
		Participant:   p,
		AlreadyScored: prior != nil && prior.IsValid,
		Now:           now,
	}, req.TargetValue)
	if vErr != nil {
		// A duplicate carries the original outcome so a replayed request is
		// reconcilable client-side, same as losing the append race.
		if vErr.Code == apperrors.CodeAlreadySubmitted && prior != nil {
			vErr = vErr.WithContext("points_awarded", prior.PointsAwarded).
				WithContext("aggregate_score", p.AggregateScore)
		}
		return nil, nil, vErr
	}

	params := cfg.Scoring
	if out.Target.Points > 0 {
		params.BasePoints = out.Target.Points
	}

	score := scoring.Calculate(scoring.Input{
		Valid:       true,
		LatencyMs:   out.LatencyMs,
		TimeLimitMs: cfg.Rules.TimeLimitMs,
		Streak:      p.Streak,
		Mode:        scoring.Mode(cfg.Rules.ScoringMode),
	}, params)

	event := &models.SubmissionEvent{
		SessionId:     req.SessionId,
		ParticipantId: p.ParticipantId,
		TargetId:      out.Target.TargetId,
		Kind:          cfg.Kind,
		IsValid:       true,
		PointsAwarded: score.TotalPoints,
		OutOfOrder:    out.OutOfOrder,
		LatencyMs:     out.LatencyMs,
		CreatedAt:     now,
	}

	updated := *p
	updated.AggregateScore += score.TotalPoints
	updated.CompletedCount++
	updated.Streak = score.NewStreak
	if out.OutOfOrder {
		updated.OutOfOrderCount++
	} else if out.Target.OrderIndex == p.NextOrderIndex {
		updated.NextOrderIndex = p.NextOrderIndex + 1
	}

	if required := cfg.RequiredTargetCount(); required > 0 && updated.CompletedCount >= required {
		updated.FinishedAt = &now
	}

	return event, &updated, nil
}

// handleRejection applies the two rejection side effects: the forced finish
// on expiry and the failed-attempt rate charge. Rejections are expected
// outcomes, not incidents.
func (s *engineService) handleRejection(ctx context.Context, req SubmitRequest, appErr *apperrors.AppError) {
	switch appErr.Code {
	case apperrors.CodeTimeExpired:
		if _, err := s.participants.ForceFinish(ctx, req.SessionId, req.ParticipantId, time.Now().UTC()); err != nil {
			s.logger.Error("Failed to force-finish expired participant",
				"error", err,
				"session_id", req.SessionId,
				"participant_id", req.ParticipantId,
			)
		}
		s.gate.RecordFailure(ctx, req.SessionId, req.ParticipantId)
	case apperrors.CodeTargetNotFound, apperrors.CodeWrongType, apperrors.CodeAlreadySubmitted, apperrors.CodeOutOfOrder:
		s.gate.RecordFailure(ctx, req.SessionId, req.ParticipantId)
	}
}

// propagate hands the commit to the projector worker. The response does not
// wait on leaderboard propagation; a lost event is repaired by a rebuild.
func (s *engineService) propagate(ctx context.Context, cfg *models.SessionConfig, result *ledger.Result) {
	p := result.Participant
	required := cfg.RequiredTargetCount()
	complete := required > 0 && p.CompletedCount >= required

	ev := commonevents.CommitEvent{
		SessionId:      p.SessionId,
		ParticipantId:  p.ParticipantId,
		DisplayName:    p.DisplayName,
		GroupId:        p.GroupId,
		TargetId:       result.Event.TargetId,
		PointsAwarded:  result.Event.PointsAwarded,
		AggregateScore: p.AggregateScore,
		CompletedCount: p.CompletedCount,
		SequenceNumber: result.Event.SequenceNumber,
		Complete:       complete,
		TieBreakMs:     reconcile.TieBreak(cfg, p, result.Event.CreatedAt, complete),
		At:             result.Event.CreatedAt,
	}

	if err := s.publisher.PublishCommitted(ctx, ev); err != nil {
		s.logger.Warn("Commit propagation failed, board will lag until rebuild",
			"session_id", p.SessionId,
			"participant_id", p.ParticipantId,
		)
	}
}

func (s *engineService) submitResult(cfg *models.SessionConfig, result *ledger.Result) *SubmitResult {
	res := &SubmitResult{
		Accepted:       true,
		PointsAwarded:  result.Event.PointsAwarded,
		AggregateScore: result.Participant.AggregateScore,
		SequenceNumber: result.Event.SequenceNumber,
		IsComplete:     result.Participant.FinishedAt != nil,
		OutOfOrder:     result.Event.OutOfOrder,
	}

	if cfg.Rules.OrderPolicy == models.OrderStrict && !res.IsComplete {
		for i := range cfg.Targets {
			if cfg.Targets[i].OrderIndex == result.Participant.NextOrderIndex && cfg.Targets[i].Active {
				res.NextHint = cfg.Targets[i].Label
				break
			}
		}
	}

	return res
}

func (s *engineService) Transition(ctx context.Context, req TransitionRequest) (*TransitionResult, *apperrors.AppError) {
	cfg, appErr := s.authority.Transition(ctx, req.SessionId, req.NewPhase)
	if appErr != nil {
		return nil, appErr
	}

	if req.ResetData {
		purgedPlayers, purgedEvents, err := s.sessions.DeleteSessionData(ctx, req.SessionId)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to reset session data")
		}
		s.logger.Info("Session data reset",
			"session_id", req.SessionId,
			"deleted_participants", purgedPlayers,
			"deleted_events", purgedEvents,
		)

		if err := s.publisher.PublishReset(ctx, req.SessionId); err != nil {
			s.logger.Warn("Failed to publish reset event", "session_id", req.SessionId)
		}
	}

	// Phase boundaries are the reconciliation points: rebuild the board from
	// the ledger so observers never carry drift into the next phase.
	if _, err := s.rebuilder.Rebuild(ctx, req.SessionId); err != nil {
		s.logger.Error("Leaderboard rebuild failed after transition",
			"error", err,
			"session_id", req.SessionId,
		)
	}

	return &TransitionResult{Phase: cfg.Phase, TransitionedAt: cfg.UpdatedAt}, nil
}

func (s *engineService) Leaderboard(ctx context.Context, q LeaderboardQuery) (*models.LeaderboardView, *apperrors.AppError) {
	if _, appErr := s.authority.GetConfig(ctx, q.SessionId); appErr != nil {
		return nil, appErr
	}

	if q.Limit <= 0 {
		q.Limit = 50
	}

	view, err := s.board.Snapshot(ctx, projector.Query{
		SessionId:   q.SessionId,
		GroupFilter: q.GroupFilter,
		Limit:       q.Limit,
		RequesterId: q.RequesterId,
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeRedisOperationError, "failed to read leaderboard")
	}

	if view == nil {
		// Nothing projected: repair read-through from the ledger.
		if _, err := s.rebuilder.Rebuild(ctx, q.SessionId); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to rebuild leaderboard")
		}
		view, err = s.board.Snapshot(ctx, projector.Query{
			SessionId:   q.SessionId,
			GroupFilter: q.GroupFilter,
			Limit:       q.Limit,
			RequesterId: q.RequesterId,
		})
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeRedisOperationError, "failed to read leaderboard")
		}
		if view == nil {
			view = &models.LeaderboardView{
				SessionId:   q.SessionId,
				Entries:     []models.LeaderboardEntry{},
				LastUpdated: time.Now().UTC(),
			}
		}
	}

	return view, nil
}

func (s *engineService) Status(ctx context.Context, sessionId, participantId string) (*ParticipantStatus, *apperrors.AppError) {
	cfg, appErr := s.authority.GetConfig(ctx, sessionId)
	if appErr != nil {
		return nil, appErr
	}

	participant, err := s.participants.Get(ctx, sessionId, participantId)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to load participant")
	}
	if participant == nil {
		return nil, apperrors.New(apperrors.CodeNotRegistered, "participant is not registered in this session")
	}

	status := &ParticipantStatus{Participant: participant}

	// Expiry is detected lazily; there is no background timer.
	if participant.FinishedAt == nil && participant.Expired(cfg.Rules.TimeLimitMs, time.Now().UTC()) {
		finished, err := s.participants.ForceFinish(ctx, sessionId, participantId, time.Now().UTC())
		if err != nil {
			s.logger.Error("Failed to force-finish expired participant", "error", err)
		} else if finished != nil {
			status.Participant = finished
		}
		status.Expired = true
	}

	if required := cfg.RequiredTargetCount(); required > 0 {
		status.Complete = status.Participant.CompletedCount >= required
	}

	if view, err := s.board.Snapshot(ctx, projector.Query{SessionId: sessionId, RequesterId: participantId}); err == nil {
		if view != nil && view.Requester != nil {
			status.Rank = view.Requester.Rank
		}
	}

	return status, nil
}

// targetIdFor resolves the submitted value to its target id for the
// idempotency key; unknown values keep the raw value so the validator can
// produce the precise rejection.
func targetIdFor(cfg *models.SessionConfig, targetValue string) string {
	if t := cfg.TargetByValue(targetValue); t != nil {
		return t.TargetId
	}
	return targetValue
}
