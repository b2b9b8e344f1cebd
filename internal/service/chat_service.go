package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"peersupport-chat/internal/domain"
	"peersupport-chat/internal/observability"
)

// MaxTextLength is the longest accepted message text, in characters
const MaxTextLength = 2000

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 100
)

// Stage is a step of the ingest pipeline
type Stage string

const (
	StageReceived       Stage = "RECEIVED"
	StageValidating     Stage = "VALIDATING"
	StageAuthenticating Stage = "AUTHENTICATING"
	StagePersisting     Stage = "PERSISTING"
	StageBroadcasting   Stage = "BROADCASTING"
	StageComplete       Stage = "COMPLETE"
	StageRejected       Stage = "REJECTED"
)

// SendRequest is one sendMessage request as received from a connection
type SendRequest struct {
	Token       string
	Text        string
	CommunityID string
}

// TokenVerifier resolves a bearer token to the user id it was issued for
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Broadcaster fans a persisted message out to the members of its community
type Broadcaster interface {
	BroadcastMessage(ctx context.Context, msg *domain.Message) error
}

type ChatService struct {
	messageRepo domain.MessageRepository
	users       domain.UserDirectory
	tokens      TokenVerifier
	broadcaster Broadcaster
}

func NewChatService(messageRepo domain.MessageRepository, users domain.UserDirectory,
	tokens TokenVerifier, broadcaster Broadcaster) *ChatService {
	return &ChatService{
		messageRepo: messageRepo,
		users:       users,
		tokens:      tokens,
		broadcaster: broadcaster,
	}
}

// SendMessage validates, authenticates, persists and broadcasts one message.
// Any returned error is safe to convert with domain.ClientError; nothing was
// created or broadcast when an error is returned.
func (s *ChatService) SendMessage(ctx context.Context, req SendRequest) (*domain.Message, error) {
	run := &ingest{ctx: ctx, logger: observability.FromContext(ctx), stage: StageReceived, started: time.Now()}
	run.logger.Debug("send received", slog.String("stage", string(StageReceived)))

	run.enter(StageValidating)
	text, err := validate(req)
	if err != nil {
		return nil, run.reject(err)
	}

	run.enter(StageAuthenticating)
	sender, err := s.authenticate(ctx, req.Token)
	if err != nil {
		return nil, run.reject(err)
	}
	run.logger = run.logger.With(slog.String("user_id", sender.ID))

	run.enter(StagePersisting)
	msg := &domain.Message{
		SenderID:    sender.ID,
		SenderName:  sender.Name,
		Text:        text,
		CommunityID: req.CommunityID,
		IsAnonymous: false,
	}
	if err := s.messageRepo.Create(ctx, msg); err != nil {
		return nil, run.reject(&domain.PersistenceError{Op: "create message", Err: err})
	}

	// Re-read the stored record. The insert already committed, so a failed
	// read falls back to the values returned by the insert.
	stored, err := s.messageRepo.GetByID(ctx, msg.ID)
	if err != nil {
		run.logger.Warn("failed to re-read message, using insert result",
			slog.String("error", err.Error()),
			slog.String("message_id", msg.ID))
		stored = msg
	}

	run.enter(StageBroadcasting)
	if s.broadcaster != nil {
		if err := s.broadcaster.BroadcastMessage(ctx, stored); err != nil {
			run.logger.Error("failed to broadcast message",
				slog.String("error", err.Error()),
				slog.String("message_id", stored.ID),
				slog.String("community_id", stored.CommunityID))
		}
	}

	run.complete(stored)
	return stored, nil
}

func validate(req SendRequest) (string, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return "", &domain.ValidationError{Field: "text", Message: domain.MsgTextRequired}
	}
	if utf8.RuneCountInString(text) > MaxTextLength {
		return "", &domain.ValidationError{Field: "text", Message: domain.MsgTextTooLong}
	}
	if strings.TrimSpace(req.CommunityID) == "" {
		return "", &domain.ValidationError{Field: "communityId", Message: domain.MsgCommunityRequired}
	}
	if strings.TrimSpace(req.Token) == "" {
		return "", &domain.ValidationError{Field: "token", Message: domain.MsgTokenRequired}
	}
	return text, nil
}

func (s *ChatService) authenticate(ctx context.Context, token string) (*domain.UserProfile, error) {
	userID, err := s.tokens.Verify(token)
	if err != nil {
		if errors.Is(err, domain.ErrTokenExpired) {
			return nil, &domain.AuthError{Message: domain.MsgTokenExpired, Err: err}
		}
		return nil, &domain.AuthError{Message: domain.MsgTokenInvalid, Err: err}
	}

	profile, err := s.users.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, &domain.AuthError{Message: domain.MsgUserNotFound, Err: err}
		}
		return nil, err
	}
	return profile, nil
}

// GetMessages returns the most recent messages of a community, oldest first
func (s *ChatService) GetMessages(ctx context.Context, communityID string, limit int) ([]*domain.HistoryMessage, error) {
	return s.messageRepo.GetByCommunity(ctx, communityID, clampLimit(limit))
}

// GetMessagesBefore returns the page of messages older than the given message
func (s *ChatService) GetMessagesBefore(ctx context.Context, communityID, before string, limit int) ([]*domain.HistoryMessage, error) {
	return s.messageRepo.GetByCommunityBefore(ctx, communityID, before, clampLimit(limit))
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}

// ingest tracks the stage of one send request for logs and metrics
type ingest struct {
	ctx        context.Context
	logger     *slog.Logger
	stage      Stage
	started    time.Time
	stageStart time.Time
}

func (r *ingest) enter(stage Stage) {
	r.observe()
	r.stage = stage
	r.stageStart = time.Now()
}

func (r *ingest) observe() {
	if r.stageStart.IsZero() {
		return
	}
	observability.IngestStageDuration.WithLabelValues(string(r.stage)).Observe(time.Since(r.stageStart).Seconds())
}

func (r *ingest) reject(err error) error {
	r.observe()
	failed := r.stage
	r.stage = StageRejected
	observability.IngestTotal.WithLabelValues("rejected").Inc()

	level := slog.LevelInfo
	var pErr *domain.PersistenceError
	if errors.As(err, &pErr) {
		level = slog.LevelError
	}
	r.logger.Log(r.ctx, level, "send rejected",
		slog.String("stage", string(StageRejected)),
		slog.String("failed_stage", string(failed)),
		slog.String("error", err.Error()))
	return err
}

func (r *ingest) complete(msg *domain.Message) {
	r.observe()
	r.stage = StageComplete
	observability.IngestTotal.WithLabelValues("complete").Inc()
	r.logger.Info("message sent",
		slog.String("stage", string(StageComplete)),
		slog.String("message_id", msg.ID),
		slog.String("community_id", msg.CommunityID),
		slog.Duration("elapsed", time.Since(r.started)))
}
