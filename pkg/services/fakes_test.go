package services

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/omnifin/backoffice/pkg/apperrors"
	"github.com/omnifin/backoffice/pkg/models"
	"github.com/omnifin/backoffice/pkg/repositories"
	"github.com/omnifin/backoffice/pkg/storage"
)

var (
	groupA = ptr(int64(10))
	groupB = ptr(int64(20))

	simpleUser = models.Principal{UserID: 1, Role: models.RoleSimple, GroupID: groupA}
	otherUser  = models.Principal{UserID: 2, Role: models.RoleSimple, GroupID: groupA}
	adminUser  = models.Principal{UserID: 3, Role: models.RoleAdmin, GroupID: groupA}
	foreignAdm = models.Principal{UserID: 4, Role: models.RoleAdmin, GroupID: groupB}
	rootUser   = models.Principal{UserID: 5, Role: models.RoleSuperadmin}
)

// inScope mirrors access.Scope for rows owned by ownerID in groupID.
func inScope(p models.Principal, ownerID int64, groupID *int64) bool {
	switch {
	case p.Role == models.RoleSuperadmin:
		return true
	case p.Role == models.RoleAdmin && p.GroupID != nil:
		return groupID != nil && *groupID == *p.GroupID
	default:
		return ownerID == p.UserID
	}
}

// memConversations is an in-memory ConversationRepository.
type memConversations struct {
	mu     sync.Mutex
	nextID int64
	convs  map[int64]*models.Conversation
	msgs   []*models.Message
	recs   []*models.VoiceRecording

	addErr    error
	recentErr error
}

func newMemConversations() *memConversations {
	return &memConversations{convs: map[int64]*models.Conversation{}}
}

var _ repositories.ConversationRepository = (*memConversations)(nil)

func (m *memConversations) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memConversations) Create(_ context.Context, conv *models.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv.ID = m.id()
	conv.StartedAt = time.Now()
	cp := *conv
	m.convs[conv.ID] = &cp
	return nil
}

func (m *memConversations) Get(_ context.Context, p models.Principal, id int64) (*models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	if !ok || !inScope(p, c.UserID, c.GroupID) {
		return nil, apperrors.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memConversations) GetOwned(_ context.Context, userID, id int64) (*models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	if !ok || c.UserID != userID {
		return nil, apperrors.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memConversations) GetLatestForUser(_ context.Context, userID int64) (*models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.Conversation
	for _, c := range m.convs {
		if c.UserID == userID && (latest == nil || c.ID > latest.ID) {
			latest = c
		}
	}
	if latest == nil {
		return nil, apperrors.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *memConversations) List(_ context.Context, p models.Principal, filter repositories.ConversationFilter) ([]*models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*models.Conversation{}
	for _, c := range m.convs {
		if inScope(p, c.UserID, c.GroupID) && (filter.Status == "" || c.Status == filter.Status) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memConversations) End(_ context.Context, id int64, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	if !ok {
		return false, apperrors.ErrNotFound
	}
	if c.EndedAt != nil {
		return false, nil
	}
	c.EndedAt = &at
	c.Status = models.ConversationEnded
	c.Duration = ptr(int64(at.Sub(c.StartedAt).Seconds()))
	return true, nil
}

func (m *memConversations) SetStatus(_ context.Context, id int64, from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	if c.Status != from {
		return apperrors.ErrInvalidTransition
	}
	c.Status = to
	return nil
}

func (m *memConversations) AddMessage(_ context.Context, msg *models.Message) error {
	if m.addErr != nil {
		return m.addErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ID = m.id()
	msg.CreatedAt = time.Now()
	if msg.Metadata == nil {
		msg.Metadata = map[string]any{}
	}
	cp := *msg
	m.msgs = append(m.msgs, &cp)
	if c, ok := m.convs[msg.ConversationID]; ok {
		c.MessageCount++
	}
	return nil
}

func (m *memConversations) messagesOf(conversationID int64) []*models.Message {
	out := []*models.Message{}
	for _, msg := range m.msgs {
		if msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	return out
}

func (m *memConversations) ListMessages(_ context.Context, conversationID int64, _ repositories.Page) ([]*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.messagesOf(conversationID), nil
}

func (m *memConversations) RecentMessages(_ context.Context, conversationID int64, n int) ([]*models.Message, error) {
	if m.recentErr != nil {
		return nil, m.recentErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var turns []*models.Message
	for _, msg := range m.messagesOf(conversationID) {
		if msg.SenderType == models.SenderUser || msg.SenderType == models.SenderAI {
			turns = append(turns, msg)
		}
	}
	if len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	return turns, nil
}

func (m *memConversations) GetMessage(ctx context.Context, p models.Principal, id int64) (*models.Message, error) {
	m.mu.Lock()
	var found *models.Message
	for _, msg := range m.msgs {
		if msg.ID == id {
			found = msg
		}
	}
	m.mu.Unlock()
	if found == nil {
		return nil, apperrors.ErrNotFound
	}
	if _, err := m.Get(ctx, p, found.ConversationID); err != nil {
		return nil, err
	}
	return found, nil
}

func (m *memConversations) CreateRecording(_ context.Context, rec *models.VoiceRecording) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = m.id()
	rec.CreatedAt = time.Now()
	cp := *rec
	m.recs = append(m.recs, &cp)
	return nil
}

func (m *memConversations) GetRecording(ctx context.Context, p models.Principal, id int64) (*models.VoiceRecording, error) {
	m.mu.Lock()
	var found *models.VoiceRecording
	for _, r := range m.recs {
		if r.ID == id {
			found = r
		}
	}
	m.mu.Unlock()
	if found == nil {
		return nil, apperrors.ErrNotFound
	}
	if _, err := m.GetMessage(ctx, p, found.MessageID); err != nil {
		return nil, err
	}
	return found, nil
}

// recordingActivity captures activity events.
type recordingActivity struct {
	ActivityService
	mu     sync.Mutex
	events []ActivityEvent
}

func (r *recordingActivity) Record(_ context.Context, _ models.Principal, e ActivityEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingActivity) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Action
	}
	return out
}

// recordingNotifications captures Notify calls.
type recordingNotifications struct {
	NotificationService
	sent []*models.Notification
}

func (r *recordingNotifications) Notify(_ context.Context, n *models.Notification) {
	r.sent = append(r.sent, n)
}

// memStore is an in-memory storage.Store.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	putErr  error
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}, types: map[string]string{}}
}

var _ storage.Store = (*memStore)(nil)

func (s *memStore) Put(_ context.Context, key string, body io.Reader, _ int64, contentType string) error {
	if s.putErr != nil {
		return s.putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	s.types[key] = contentType
	return nil
}

func (s *memStore) Get(_ context.Context, key string) (io.ReadCloser, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, "", storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), s.types[key], nil
}

func (s *memStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *memStore) Health(context.Context) error { return nil }
func (s *memStore) Backend() string              { return "memory" }

func (s *memStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

// stubKnowledge serves ActiveForGroup from a fixed slice.
type stubKnowledge struct {
	repositories.KnowledgeRepository
	entries []*models.KnowledgeEntry
	err     error
}

func (s *stubKnowledge) ActiveForGroup(context.Context, *int64) ([]*models.KnowledgeEntry, error) {
	return s.entries, s.err
}

// stubPrompts resolves the welcome prompt and counts writes.
type stubPrompts struct {
	repositories.PromptRepository
	active    *models.Prompt
	activeErr error
	created   []*models.Prompt
}

func (s *stubPrompts) GetActiveByName(context.Context, string, string, *int64) (*models.Prompt, error) {
	if s.activeErr != nil {
		return nil, s.activeErr
	}
	if s.active == nil {
		return nil, apperrors.ErrNotFound
	}
	return s.active, nil
}

func (s *stubPrompts) Create(_ context.Context, prompt *models.Prompt) error {
	prompt.ID = int64(len(s.created) + 1)
	s.created = append(s.created, prompt)
	return nil
}

// countingCache is a PromptCache that remembers entries and counts invalidations.
type countingCache struct {
	entries     map[string]*models.Prompt
	invalidated int
}

func (c *countingCache) Get(_ context.Context, name, category string, _ *int64) (*models.Prompt, bool) {
	p, ok := c.entries[name+"/"+category]
	return p, ok
}

func (c *countingCache) Set(_ context.Context, name, category string, _ *int64, prompt *models.Prompt) {
	if c.entries == nil {
		c.entries = map[string]*models.Prompt{}
	}
	c.entries[name+"/"+category] = prompt
}

func (c *countingCache) Invalidate(context.Context) {
	c.entries = nil
	c.invalidated++
}

// wavHeader is enough of a RIFF/WAVE header for content sniffing.
func wavHeader() []byte {
	b := []byte("RIFF\x24\x00\x00\x00WAVEfmt \x10\x00\x00\x00\x01\x00\x01\x00\x44\xac\x00\x00\x88\x58\x01\x00\x02\x00\x10\x00data\x00\x00\x00\x00")
	return append(b, make([]byte, 64)...)
}

func audioUpload() Upload {
	data := wavHeader()
	return Upload{Filename: "note.wav", Size: int64(len(data)), Body: bytes.NewReader(data)}
}
