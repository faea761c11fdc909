package notify

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/artifactor-hq/collab-core/internal/v1/logging"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const cacheCap = 100

// BrokerChannel is an optional outbound channel (email/push) a Service may
// dispatch to in addition to the in-process websocket subscriber registry.
// spec.md §4.5 sketches these as "future work... MAY no-op"; AMQPChannel is
// one implementation, and New registers whichever brokers the caller passes.
type BrokerChannel interface {
	Name() Channel
	Deliver(ctx context.Context, n Notification) error
}

// Service is the notification create/store/deliver/query coordinator.
type Service struct {
	store   Store
	users   UserLookup
	brokers map[Channel]BrokerChannel

	mu        sync.Mutex
	cache     map[string][]Notification // userID -> most-recent-first, capped
	subs      map[string]map[*Callback]Callback

	queue chan Notification
	done  chan struct{}
	wg    sync.WaitGroup
}

// New constructs a Service. users may be nil (display names fall back to
// "Someone"); brokers is an optional set of additional delivery channels
// keyed by Channel name.
func New(store Store, users UserLookup, brokers ...BrokerChannel) *Service {
	s := &Service{
		store:   store,
		users:   users,
		brokers: make(map[Channel]BrokerChannel),
		cache:   make(map[string][]Notification),
		subs:    make(map[string]map[*Callback]Callback),
		queue:   make(chan Notification, 1024),
		done:    make(chan struct{}),
	}
	for _, b := range brokers {
		s.brokers[b.Name()] = b
	}
	return s
}

// Start launches the single background delivery consumer, per spec.md
// §4.5's "a single background consumer task pulls from a FIFO queue".
func (s *Service) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case n := <-s.queue:
				s.deliver(ctx, n)
			case <-s.done:
				for {
					select {
					case n := <-s.queue:
						s.deliver(ctx, n)
					default:
						return
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop makes the delivery consumer deliver what is already queued, then
// terminates it and waits for it to exit.
func (s *Service) Stop() {
	close(s.done)
	s.wg.Wait()
}

// CreateParams bundles Create's optional fields; zero values are sane
// defaults (priority normal, delivery channels [websocket], scheduled now).
type CreateParams struct {
	ArtifactID        string
	RelatedUserID     string
	RelatedCommentID  string
	RelatedActivityID string
	Priority          Priority
	DeliveryChannels  []Channel
	Data              []byte
	ScheduledFor      time.Time
}

// Create persists a new notification, caches it per-user (capped at 100),
// and enqueues it for delivery.
func (s *Service) Create(ctx context.Context, userID string, typ Type, title, message string, params CreateParams) (Notification, error) {
	now := time.Now().UTC()
	priority := params.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	channels := params.DeliveryChannels
	if len(channels) == 0 {
		channels = []Channel{ChannelWebSocket}
	}
	scheduledFor := params.ScheduledFor
	if scheduledFor.IsZero() {
		scheduledFor = now
	}

	n := Notification{
		ID:                uuid.NewString(),
		UserID:            userID,
		ArtifactID:        params.ArtifactID,
		Type:              typ,
		Title:             title,
		Message:           message,
		RelatedUserID:     params.RelatedUserID,
		RelatedCommentID:  params.RelatedCommentID,
		RelatedActivityID: params.RelatedActivityID,
		Priority:          priority,
		DeliveryChannels:  channels,
		DeliveredChannels: nil,
		Read:              false,
		CreatedAt:         now,
		ScheduledFor:      scheduledFor,
		Data:              params.Data,
	}

	if s.store != nil {
		if err := s.store.Insert(n); err != nil {
			logging.Error(ctx, "notify: failed to persist notification", zap.Error(err))
			return n, err
		}
	}

	s.mu.Lock()
	list := append([]Notification{n}, s.cache[userID]...)
	if len(list) > cacheCap {
		list = list[:cacheCap]
	}
	s.cache[userID] = list
	s.mu.Unlock()

	select {
	case s.queue <- n:
	default:
		logging.Warn(ctx, "notify: delivery queue full, dropping delivery attempt", zap.String("notification_id", n.ID))
	}

	logging.Info(ctx, "notify: created notification", zap.String("notification_id", n.ID), zap.String("user_id", userID))
	return n, nil
}

func (s *Service) displayName(userID string) string {
	if s.users == nil {
		return "Someone"
	}
	if name, ok := s.users.DisplayName(userID); ok && name != "" {
		return name
	}
	return "Someone"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// MentionNotification wraps Create for the "you were mentioned" case.
func (s *Service) MentionNotification(ctx context.Context, mentionedUserID, mentioningUserID, artifactID, commentID, mentionContext string) (Notification, error) {
	who := s.displayName(mentioningUserID)
	title := who + " mentioned you"
	message := who + " mentioned you in a comment: " + truncate(mentionContext, 100)

	return s.Create(ctx, mentionedUserID, TypeMention, title, message, CreateParams{
		ArtifactID:       artifactID,
		RelatedUserID:    mentioningUserID,
		RelatedCommentID: commentID,
		Priority:         PriorityHigh,
		DeliveryChannels: []Channel{ChannelWebSocket, ChannelEmail},
	})
}

// CommentReplyNotification wraps Create for a reply to a parent comment.
// Replies to one's own comment are suppressed.
func (s *Service) CommentReplyNotification(ctx context.Context, parentAuthorID, replyingUserID, artifactID, commentID, replyContent string) (*Notification, error) {
	if parentAuthorID == replyingUserID {
		return nil, nil
	}
	who := s.displayName(replyingUserID)
	title := who + " replied to your comment"
	message := who + ": " + truncate(replyContent, 100)

	n, err := s.Create(ctx, parentAuthorID, TypeCommentReply, title, message, CreateParams{
		ArtifactID:       artifactID,
		RelatedUserID:    replyingUserID,
		RelatedCommentID: commentID,
		Priority:         PriorityNormal,
		DeliveryChannels: []Channel{ChannelWebSocket},
	})
	return &n, err
}

// ArtifactUpdateNotification notifies every recipient in recipientUserIDs
// except the updating user. Building and deduplicating the recipient list
// is the caller's responsibility.
func (s *Service) ArtifactUpdateNotification(ctx context.Context, recipientUserIDs []string, updatingUserID, artifactID, updateSummary string) ([]Notification, error) {
	who := s.displayName(updatingUserID)
	title := who + " updated the artifact"
	message := who + " made changes: " + truncate(updateSummary, 100)

	var created []Notification
	for _, userID := range recipientUserIDs {
		if userID == updatingUserID {
			continue
		}
		n, err := s.Create(ctx, userID, TypeArtifactUpdate, title, message, CreateParams{
			ArtifactID:    artifactID,
			RelatedUserID: updatingUserID,
			Priority:      PriorityNormal,
		})
		if err != nil {
			logging.Error(ctx, "notify: artifact update notification failed", zap.String("user_id", userID), zap.Error(err))
			continue
		}
		created = append(created, n)
	}
	return created, nil
}

// MarkRead flips the read flag for one notification owned by userID.
func (s *Service) MarkRead(ctx context.Context, id, userID string) (bool, error) {
	now := time.Now().UTC()
	ok, err := s.store.MarkRead(id, userID, now)
	if err != nil || !ok {
		return ok, err
	}

	s.mu.Lock()
	for i, n := range s.cache[userID] {
		if n.ID == id {
			s.cache[userID][i].Read = true
			s.cache[userID][i].ReadAt = &now
			break
		}
	}
	s.mu.Unlock()
	return true, nil
}

// MarkAllRead flips the read flag for all of userID's unread notifications,
// optionally scoped to one artifact.
func (s *Service) MarkAllRead(ctx context.Context, userID, artifactID string) (int, error) {
	now := time.Now().UTC()
	n, err := s.store.MarkAllRead(userID, artifactID, now)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	for i := range s.cache[userID] {
		rec := &s.cache[userID][i]
		if rec.Read {
			continue
		}
		if artifactID != "" && rec.ArtifactID != artifactID {
			continue
		}
		rec.Read = true
		rec.ReadAt = &now
	}
	s.mu.Unlock()
	return n, nil
}

// List returns userID's notifications from the durable store, most recent
// first, optionally filtered to unread-only and/or one artifact.
func (s *Service) List(ctx context.Context, userID string, limit int, unreadOnly bool, artifactID string) ([]Notification, error) {
	return s.store.List(userID, limit, unreadOnly, artifactID)
}

// Counts returns {total, unread, urgent} for userID.
func (s *Service) Counts(ctx context.Context, userID string) (Counts, error) {
	return s.store.Counts(userID)
}

// Delete removes a notification owned by userID, from both the durable
// store and the in-memory cache.
func (s *Service) Delete(ctx context.Context, id, userID string) (bool, error) {
	ok, err := s.store.Delete(id, userID)
	if err != nil || !ok {
		return ok, err
	}
	s.mu.Lock()
	list := s.cache[userID]
	for i, n := range list {
		if n.ID == id {
			s.cache[userID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	return true, nil
}

// Subscribe registers a live delivery callback for userID's "websocket"
// channel notifications. The returned token is passed to Unsubscribe.
func (s *Service) Subscribe(userID string, cb Callback) *Callback {
	token := &cb
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs[userID] == nil {
		s.subs[userID] = make(map[*Callback]Callback)
	}
	s.subs[userID][token] = cb
	return token
}

// Unsubscribe removes a previously registered callback.
func (s *Service) Unsubscribe(userID string, token *Callback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs[userID], token)
	if len(s.subs[userID]) == 0 {
		delete(s.subs, userID)
	}
}

// deliver is the delivery consumer's entry point for one queued
// notification. A notification whose ScheduledFor is still in the future is
// skipped and re-queued for its scheduled time instead of being delivered
// now, per spec.md §3's scheduled-delivery supplement.
func (s *Service) deliver(ctx context.Context, n Notification) {
	if n.ScheduledFor.After(time.Now()) {
		s.requeueScheduled(n)
		return
	}
	s.dispatch(ctx, n)
}

// requeueScheduled re-submits n to the delivery queue once its ScheduledFor
// time arrives. The timer callback never blocks past Stop: if the consumer
// has already shut down by then, the send on s.done wins instead of hanging
// on a full, unread queue.
func (s *Service) requeueScheduled(n Notification) {
	delay := time.Until(n.ScheduledFor)
	time.AfterFunc(delay, func() {
		select {
		case s.queue <- n:
		case <-s.done:
		}
	})
}

func (s *Service) dispatch(ctx context.Context, n Notification) {
	var delivered []Channel

	requestsChannel := func(want Channel) bool {
		for _, c := range n.DeliveryChannels {
			if c == want {
				return true
			}
		}
		return false
	}

	if requestsChannel(ChannelWebSocket) {
		s.mu.Lock()
		callbacks := make([]Callback, 0, len(s.subs[n.UserID]))
		for _, cb := range s.subs[n.UserID] {
			callbacks = append(callbacks, cb)
		}
		s.mu.Unlock()

		if len(callbacks) > 0 {
			for _, cb := range callbacks {
				cb(n)
			}
			delivered = append(delivered, ChannelWebSocket)
		}
	}

	for _, ch := range n.DeliveryChannels {
		if ch == ChannelWebSocket {
			continue
		}
		broker, ok := s.brokers[ch]
		if !ok {
			continue
		}
		if err := broker.Deliver(ctx, n); err != nil {
			logging.Warn(ctx, "notify: broker delivery failed", zap.String("channel", string(ch)), zap.Error(err))
			continue
		}
		delivered = append(delivered, ch)
	}

	if len(delivered) > 0 && s.store != nil {
		if err := s.store.SetDeliveredChannels(n.ID, delivered); err != nil {
			logging.Warn(ctx, "notify: failed to record delivered channels", zap.Error(err))
		}
	}
}

// channelList renders a requested-channels slice for log lines.
func channelList(channels []Channel) string {
	parts := make([]string, len(channels))
	for i, c := range channels {
		parts[i] = string(c)
	}
	return strings.Join(parts, ",")
}
