package services

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"

	"autopilot/internal/models"

	"github.com/redis/go-redis/v9"
)

// Draft event types
const (
	EventDraftCreated  = "draft_created"
	EventDraftApproved = "draft_approved"
	EventDraftRejected = "draft_rejected"
	EventDraftExecuted = "draft_executed"
)

// DraftEvent is pushed to a user's review stream
type DraftEvent struct {
	Type       string        `json:"type"`
	UserID     string        `json:"userId"`
	InstanceID string        `json:"instanceId,omitempty"`
	Draft      *models.Draft `json:"draft"`
}

// PubSubService fans draft events out to websocket subscribers. With Redis
// it also forwards events between instances.
type PubSubService struct {
	redis      *RedisService
	pubsub     *redis.PubSub
	instanceID string

	mu     sync.RWMutex
	subs   map[string]map[int]chan DraftEvent // userID -> subscriber id -> channel
	nextID int

	ctx    context.Context
	cancel context.CancelFunc
}

// NewPubSubService creates the event hub. redisService may be nil.
func NewPubSubService(redisService *RedisService, instanceID string) *PubSubService {
	ctx, cancel := context.WithCancel(context.Background())
	return &PubSubService{
		redis:      redisService,
		instanceID: instanceID,
		subs:       make(map[string]map[int]chan DraftEvent),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Subscribe registers a listener for one user's events. The returned cancel
// func must be called to release it.
func (s *PubSubService) Subscribe(userID string) (<-chan DraftEvent, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan DraftEvent, 16)
	id := s.nextID
	s.nextID++
	if s.subs[userID] == nil {
		s.subs[userID] = make(map[int]chan DraftEvent)
	}
	s.subs[userID][id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs[userID], id)
			if len(s.subs[userID]) == 0 {
				delete(s.subs, userID)
			}
			close(ch)
		})
	}
}

// Start begins listening for events published by other instances
func (s *PubSubService) Start() error {
	if s.redis == nil {
		log.Println("⚠️ [PUBSUB] No Redis configured, draft events stay on this instance")
		return nil
	}

	s.pubsub = s.redis.Client().PSubscribe(s.ctx, "user:*:drafts")
	if _, err := s.pubsub.Receive(s.ctx); err != nil {
		return err
	}

	go s.processMessages()

	log.Printf("✅ [PUBSUB] Started listening for draft events (instance: %s)", s.instanceID)
	return nil
}

func (s *PubSubService) processMessages() {
	ch := s.pubsub.Channel()
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			s.handleMessage(msg)
		}
	}
}

func (s *PubSubService) handleMessage(msg *redis.Message) {
	var event DraftEvent
	if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
		log.Printf("⚠️ [PUBSUB] Failed to unmarshal message: %v", err)
		return
	}

	// Skip messages from this instance (already delivered locally)
	if event.InstanceID == s.instanceID {
		return
	}
	if userFromChannel(msg.Channel) != event.UserID {
		return
	}
	s.deliver(event)
}

// deliver hands the event to local subscribers. Slow subscribers miss events
// rather than block the publisher.
func (s *PubSubService) deliver(event DraftEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ch := range s.subs[event.UserID] {
		select {
		case ch <- event:
		default:
			log.Printf("⚠️ [PUBSUB] Dropping %s for user %s: subscriber is full", event.Type, event.UserID)
		}
	}
}

// PublishDraft notifies the draft owner's subscribers on every instance
func (s *PubSubService) PublishDraft(ctx context.Context, eventType string, draft *models.Draft) {
	if draft == nil {
		return
	}

	event := DraftEvent{
		Type:       eventType,
		UserID:     draft.UserID,
		InstanceID: s.instanceID,
		Draft:      draft,
	}
	s.deliver(event)

	if s.redis == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("⚠️ [PUBSUB] Failed to marshal %s: %v", eventType, err)
		return
	}
	if err := s.redis.Publish(ctx, "user:"+draft.UserID+":drafts", data); err != nil {
		log.Printf("⚠️ [PUBSUB] Failed to publish %s for user %s: %v", eventType, draft.UserID, err)
	}
}

// Stop stops the pub/sub service
func (s *PubSubService) Stop() error {
	s.cancel()
	if s.pubsub != nil {
		return s.pubsub.Close()
	}
	return nil
}

// userFromChannel extracts the user id from "user:<id>:drafts"
func userFromChannel(channel string) string {
	parts := strings.Split(channel, ":")
	if len(parts) != 3 || parts[0] != "user" || parts[2] != "drafts" {
		return ""
	}
	return parts[1]
}
