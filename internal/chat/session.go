// Package chat keeps a child's conversation and drives the gateway with its
// full history.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"moxie_companion/internal/gateway"
	"moxie_companion/internal/jsonstore"
	"moxie_companion/internal/models"
	"moxie_companion/internal/providers"
	"moxie_companion/internal/usage"
	"moxie_companion/internal/utils"
)

const (
	titleLength   = 40
	recordTimeout = 5 * time.Second
)

var (
	ErrEmptyMessage        = errors.New("message is empty")
	ErrOverBudget          = errors.New("monthly budget reached")
	ErrNothingToRegenerate = errors.New("no user message to regenerate from")
	ErrNoStore             = errors.New("conversation store not configured")
)

// Config configures a Session
type Config struct {
	Gateway *gateway.Gateway

	// Recorder logs usage and enforces the spend budget; optional
	Recorder *usage.Recorder

	// Store persists conversations; optional
	Store *jsonstore.Store

	ChildID      string
	SystemPrompt string
	Model        string
	Temperature  *float64
}

// request is a send the session is still waiting on. The usage of a reply
// is billed to the conversation it was sent from, even after Clear or Load.
type request struct {
	childID   string
	sessionID string
	sentAt    time.Time
	discarded bool
}

// Session is one conversation bound to a gateway. All sends go out as the
// multi-turn form with the complete history.
type Session struct {
	mu        sync.Mutex
	conv      models.Conversation
	lastError string
	model     string
	temp      *float64

	// pending waits for its reply; replied waits for its token count
	pending *request
	replied *request

	gw           *gateway.Gateway
	recorder     *usage.Recorder
	store        *jsonstore.Store
	systemPrompt string
	unsubscribe  func()
	logger       *utils.Logger
	now          func() time.Time
}

// NewSession starts an empty conversation and subscribes to cfg.Gateway
func NewSession(cfg Config) *Session {
	s := &Session{
		gw:           cfg.Gateway,
		recorder:     cfg.Recorder,
		store:        cfg.Store,
		systemPrompt: cfg.SystemPrompt,
		model:        cfg.Model,
		temp:         cfg.Temperature,
		logger:       utils.NewLogger("chat"),
		now:          time.Now,
	}
	s.conv = s.newConversation(cfg.ChildID)
	s.unsubscribe = cfg.Gateway.Subscribe(s.handleEvent)
	return s
}

func (s *Session) newConversation(childID string) models.Conversation {
	now := s.now().UTC()
	return models.Conversation{
		ID:             uuid.NewString(),
		ChildProfileID: childID,
		Messages:       []models.ConversationMessage{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// SetModel selects the model for subsequent sends; empty means the
// provider default.
func (s *Session) SetModel(model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model = model
}

// SetTemperature sets the sampling temperature; nil means the default
func (s *Session) SetTemperature(t *float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.temp = t
}

// SendMessage appends a user message and sends the whole conversation. The
// message is dropped again if the gateway rejects the send.
func (s *Session) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending != nil {
		return providers.ErrBusy
	}
	if err := s.checkBudget(ctx); err != nil {
		return err
	}

	before := len(s.conv.Messages)
	s.conv.Messages = append(s.conv.Messages, models.ConversationMessage{
		Role:      string(providers.RoleUser),
		Content:   text,
		Timestamp: s.now().UTC(),
	})
	if s.conv.Title == "" {
		s.conv.Title = title(text)
	}

	if err := s.send(); err != nil {
		s.conv.Messages = s.conv.Messages[:before]
		return err
	}
	return nil
}

// Regenerate drops every message after the last user message and sends the
// conversation again.
func (s *Session) Regenerate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending != nil {
		return providers.ErrBusy
	}
	last := -1
	for i := len(s.conv.Messages) - 1; i >= 0; i-- {
		if s.conv.Messages[i].Role == string(providers.RoleUser) {
			last = i
			break
		}
	}
	if last < 0 {
		return ErrNothingToRegenerate
	}
	if err := s.checkBudget(ctx); err != nil {
		return err
	}

	dropped := s.conv.Messages[last+1:]
	s.conv.Messages = s.conv.Messages[:last+1]
	if err := s.send(); err != nil {
		s.conv.Messages = append(s.conv.Messages, dropped...)
		return err
	}
	return nil
}

func (s *Session) checkBudget(ctx context.Context) error {
	if s.recorder != nil && !s.recorder.WithinBudget(ctx, s.conv.ChildProfileID) {
		return ErrOverBudget
	}
	return nil
}

// send must be called with s.mu held
func (s *Session) send() error {
	err := s.gw.Send(gateway.ChatRequest{
		Messages:    s.history(),
		Model:       s.model,
		Temperature: s.temp,
	})
	if err != nil {
		s.lastError = err.Error()
		return err
	}
	s.lastError = ""
	s.pending = &request{
		childID:   s.conv.ChildProfileID,
		sessionID: s.conv.ID,
		sentAt:    s.now(),
	}
	s.conv.UpdatedAt = s.now().UTC()
	return nil
}

// IsProcessing reports whether a sent message is still waiting for its
// reply. It stays true until the reply has been appended, which can be
// after the gateway itself went idle.
func (s *Session) IsProcessing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

func (s *Session) history() []providers.Message {
	msgs := make([]providers.Message, 0, len(s.conv.Messages)+1)
	if s.systemPrompt != "" {
		msgs = append(msgs, providers.Message{Role: providers.RoleSystem, Content: s.systemPrompt})
	}
	for _, m := range s.conv.Messages {
		msgs = append(msgs, providers.Message{Role: providers.Role(m.Role), Content: m.Content})
	}
	return msgs
}

func (s *Session) handleEvent(e gateway.Event) {
	switch e.Kind {
	case gateway.ResponseReceived:
		s.mu.Lock()
		req := s.pending
		if req == nil {
			s.mu.Unlock()
			return
		}
		s.pending = nil
		s.replied = req
		if req.discarded {
			s.mu.Unlock()
			return
		}
		s.conv.Messages = append(s.conv.Messages, models.ConversationMessage{
			Role:      string(providers.RoleAssistant),
			Content:   e.Text,
			Timestamp: s.now().UTC(),
		})
		s.conv.Provider = string(e.Provider)
		s.conv.Model = e.Model
		s.conv.UpdatedAt = s.now().UTC()
		conv := s.snapshot()
		s.mu.Unlock()

		s.autosave(conv)

	case gateway.TokensUsed:
		s.mu.Lock()
		req := s.replied
		s.replied = nil
		if req == nil {
			s.mu.Unlock()
			return
		}
		call := s.call(req, e)
		s.mu.Unlock()
		s.record(call)

	case gateway.ErrorOccurred:
		s.mu.Lock()
		// Rejections carry no provider and never reached the network
		if e.Provider == "" {
			s.lastError = e.Text
			s.mu.Unlock()
			return
		}
		req := s.pending
		if req == nil {
			s.mu.Unlock()
			return
		}
		s.pending = nil
		if !req.discarded {
			s.lastError = e.Text
		}
		call := s.call(req, e)
		call.Err = e.Err
		s.mu.Unlock()
		s.record(call)
	}
}

func (s *Session) call(req *request, e gateway.Event) usage.Call {
	return usage.Call{
		ChildID:      req.childID,
		SessionID:    req.sessionID,
		Feature:      models.FeatureChat,
		Provider:     string(e.Provider),
		Model:        e.Model,
		InputTokens:  e.InputTokens,
		OutputTokens: e.OutputTokens,
		Duration:     s.now().Sub(req.sentAt),
	}
}

// discardPending keeps the in-flight request billable but drops its reply.
// Must be called with s.mu held.
func (s *Session) discardPending() {
	if s.pending != nil {
		s.pending.discarded = true
	}
}

func (s *Session) record(call usage.Call) {
	if s.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if _, err := s.recorder.Record(ctx, call); err != nil {
		s.logger.Warn("Failed to record usage", "session", call.SessionID, "error", err)
	}
}

func (s *Session) autosave(conv models.Conversation) {
	if s.store == nil {
		return
	}
	if err := s.store.Save(conversationName(conv.ID), conv); err != nil {
		s.logger.Warn("Failed to save conversation", "id", conv.ID, "error", err)
	}
}

// Clear starts a new, empty conversation for the same child
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conv = s.newConversation(s.conv.ChildProfileID)
	s.lastError = ""
	s.discardPending()
}

// Conversation returns a copy of the current conversation
func (s *Session) Conversation() models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

func (s *Session) snapshot() models.Conversation {
	conv := s.conv
	conv.Messages = append([]models.ConversationMessage{}, s.conv.Messages...)
	return conv
}

// LastError returns the text of the most recent failure, if any
func (s *Session) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// Export returns the conversation as indented JSON
func (s *Session) Export() ([]byte, error) {
	conv := s.Conversation()
	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to export conversation: %w", err)
	}
	return data, nil
}

// Save writes the conversation to the store
func (s *Session) Save() error {
	if s.store == nil {
		return ErrNoStore
	}
	conv := s.Conversation()
	return s.store.Save(conversationName(conv.ID), conv)
}

// Load replaces the current conversation with the stored one
func (s *Session) Load(id string) error {
	if s.store == nil {
		return ErrNoStore
	}
	var conv models.Conversation
	if err := s.store.Load(conversationName(id), &conv); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.conv = conv
	s.lastError = ""
	s.discardPending()
	return nil
}

// Saved lists the IDs of stored conversations
func (s *Session) Saved() ([]string, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}
	names, err := s.store.List(jsonstore.DirConversations)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(names))
	for _, name := range names {
		ids = append(ids, strings.TrimSuffix(path.Base(name), ".json"))
	}
	return ids, nil
}

// Close detaches the session from the gateway
func (s *Session) Close() {
	s.unsubscribe()
}

func conversationName(id string) string {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return ""
	}
	return path.Join(jsonstore.DirConversations, id+".json")
}

func title(text string) string {
	runes := []rune(text)
	if len(runes) <= titleLength {
		return text
	}
	return strings.TrimSpace(string(runes[:titleLength])) + "..."
}
