package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"pickofgods/internal/kv"
	"pickofgods/internal/logger"
	"pickofgods/internal/models"
	"pickofgods/internal/service/ai"
)

const (
	DefaultRoom         = "lobby"
	roomKeyPrefix       = "room:"
	roomChannelPrefix   = "room-events:"
	roomTranscriptLimit = 100
	roomContextWindow   = 20
	RoomHostPrompt      = "You are the cheerful host of a chat room for kids. Reply to the latest message in one or two friendly sentences."
)

// Publisher broadcasts room events to other instances.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload interface{}) error
}

// RoomEvent is what subscribers of a room receive.
type RoomEvent struct {
	Room    string             `json:"room"`
	Message models.ChatMessage `json:"message"`
}

// RoomService keeps a durable multi-party transcript per room in the KV store.
type RoomService struct {
	store kv.Store
	llm   Generator
	pub   Publisher
	l     logger.Logger
	now   func() time.Time
	mu    sync.Mutex
}

var _ RoomCaller = (*RoomService)(nil)

// NewRoomService creates the room caller; pub may be nil.
func NewRoomService(store kv.Store, llm Generator, pub Publisher, l logger.Logger) *RoomService {
	return &RoomService{store: store, llm: llm, pub: pub, l: l, now: time.Now}
}

// RoomChannel is the pub/sub channel carrying events for room.
func RoomChannel(room string) string {
	return roomChannelPrefix + room
}

// Post appends the caller's last message to the default room, lets the host
// answer, and broadcasts both posts.
func (s *RoomService) Post(ctx context.Context, msgs []models.ChatMessage) (models.CapabilityResult, error) {
	if len(msgs) == 0 {
		return models.CapabilityResult{}, errors.New("room post: no message")
	}
	last := msgs[len(msgs)-1]
	post := s.stamp(models.ChatMessage{Role: models.RoleUser, Content: last.Content, Metadata: last.Metadata})

	s.mu.Lock()
	defer s.mu.Unlock()

	transcript, err := s.Transcript(ctx, DefaultRoom)
	if err != nil {
		return models.CapabilityResult{}, err
	}
	transcript = append(transcript, post)

	window := transcript
	if len(window) > roomContextWindow {
		window = window[len(window)-roomContextWindow:]
	}
	reply, err := s.llm.Generate(ctx, withSystemPrompt(RoomHostPrompt, window), ai.Options{})
	if err != nil {
		return models.CapabilityResult{}, err
	}
	answer := s.stamp(models.ChatMessage{Role: models.RoleAssistant, Content: reply})
	transcript = append(transcript, answer)
	if len(transcript) > roomTranscriptLimit {
		transcript = transcript[len(transcript)-roomTranscriptLimit:]
	}

	data, err := json.Marshal(transcript)
	if err != nil {
		return models.CapabilityResult{}, fmt.Errorf("encode transcript: %w", err)
	}
	if err := s.store.Put(ctx, roomKeyPrefix+DefaultRoom, data, 0); err != nil {
		return models.CapabilityResult{}, fmt.Errorf("save transcript: %w", err)
	}

	s.broadcast(ctx, DefaultRoom, post)
	s.broadcast(ctx, DefaultRoom, answer)

	return models.CapabilityResult{
		Success: true,
		Message: reply,
		Result: map[string]any{
			"room":     DefaultRoom,
			"messages": len(transcript),
		},
	}, nil
}

// Transcript returns the stored messages of room, oldest first.
func (s *RoomService) Transcript(ctx context.Context, room string) ([]models.ChatMessage, error) {
	raw, err := s.store.Get(ctx, roomKeyPrefix+room)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return []models.ChatMessage{}, nil
		}
		return nil, fmt.Errorf("load transcript: %w", err)
	}
	var transcript []models.ChatMessage
	if err := json.Unmarshal(raw, &transcript); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	return transcript, nil
}

func (s *RoomService) stamp(msg models.ChatMessage) models.ChatMessage {
	ts := s.now().UTC()
	msg.Timestamp = &ts
	msg.ID = uuid.NewString()
	return msg
}

func (s *RoomService) broadcast(ctx context.Context, room string, msg models.ChatMessage) {
	if s.pub == nil {
		return
	}
	payload, err := json.Marshal(RoomEvent{Room: room, Message: msg})
	if err != nil {
		s.l.Warnf(ctx, "room broadcast marshal failed: %v", err)
		return
	}
	if err := s.pub.Publish(ctx, RoomChannel(room), payload); err != nil {
		s.l.Warnf(ctx, "room broadcast failed: %v", err)
	}
}
