package services

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"chat-backend/internal/models"
	"chat-backend/internal/repositories"
	"chat-backend/internal/storage"
)

// memData is the state of memStore. It is copied on WithinTx so a failed
// transaction can be rolled back.
type memData struct {
	users         map[int]models.User
	tokens        map[string]memToken
	groups        map[int]models.Group
	members       map[int]map[int]*time.Time
	conversations map[int]models.Conversation
	messages      map[int]models.Message
	attachments   map[int]models.Attachment
	seq           int
}

type memToken struct {
	userID    int
	expiresAt time.Time
}

func (d *memData) clone() *memData {
	out := &memData{
		users:         make(map[int]models.User, len(d.users)),
		tokens:        make(map[string]memToken, len(d.tokens)),
		groups:        make(map[int]models.Group, len(d.groups)),
		members:       make(map[int]map[int]*time.Time, len(d.members)),
		conversations: make(map[int]models.Conversation, len(d.conversations)),
		messages:      make(map[int]models.Message, len(d.messages)),
		attachments:   make(map[int]models.Attachment, len(d.attachments)),
		seq:           d.seq,
	}
	for k, v := range d.users {
		out.users[k] = v
	}
	for k, v := range d.tokens {
		out.tokens[k] = v
	}
	for k, v := range d.groups {
		out.groups[k] = v
	}
	for k, v := range d.members {
		m := make(map[int]*time.Time, len(v))
		for u, at := range v {
			m[u] = at
		}
		out.members[k] = m
	}
	for k, v := range d.conversations {
		out.conversations[k] = v
	}
	for k, v := range d.messages {
		out.messages[k] = v
	}
	for k, v := range d.attachments {
		out.attachments[k] = v
	}
	return out
}

// memStore is an in-memory repositories.Store for service tests. Calls made
// outside WithinTx are serialized with transactions like row locks would.
type memStore struct {
	mu    *sync.Mutex
	inTx  bool
	data  *memData
	clock time.Time
	// frozen keeps the clock still so messages share a timestamp.
	frozen bool
	// failOn makes the named operation return errBoom.
	failOn map[string]bool
}

var errBoom = errors.New("boom")

func newMemStore() *memStore {
	return &memStore{
		mu:   &sync.Mutex{},
		data: &memData{
			users:         map[int]models.User{},
			tokens:        map[string]memToken{},
			groups:        map[int]models.Group{},
			members:       map[int]map[int]*time.Time{},
			conversations: map[int]models.Conversation{},
			messages:      map[int]models.Message{},
			attachments:   map[int]models.Attachment{},
		},
		clock:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		failOn: map[string]bool{},
	}
}

func (s *memStore) nextID() int {
	s.data.seq++
	return s.data.seq
}

func (s *memStore) tick() time.Time {
	if !s.frozen {
		s.clock = s.clock.Add(time.Second)
	}
	return s.clock
}

func (s *memStore) fail(op string) error {
	if s.failOn[op] {
		return errBoom
	}
	return nil
}

func (s *memStore) Users() repositories.UserRepository                 { return memUsers{s} }
func (s *memStore) Tokens() repositories.TokenRepository               { return memTokens{s} }
func (s *memStore) Groups() repositories.GroupRepository               { return memGroups{s} }
func (s *memStore) Conversations() repositories.ConversationRepository { return memConversations{s} }
func (s *memStore) Messages() repositories.MessageRepository           { return memMessages{s} }
func (s *memStore) Attachments() repositories.AttachmentRepository     { return memAttachments{s} }

func (s *memStore) WithinTx(ctx context.Context, fn func(repositories.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := *s
	tx.inTx = true
	snapshot := s.data.clone()
	err := fn(&tx)
	s.clock = tx.clock
	if err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

// guard locks the store for a single call made outside a transaction.
func (s *memStore) guard() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// seeding helpers

func (s *memStore) addUser(name string) models.User {
	id := s.nextID()
	u := models.User{ID: id, Name: name, Email: strings.ToLower(name) + "@example.com", CreatedAt: s.clock, UpdatedAt: s.clock}
	s.data.users[id] = u
	return u
}

func (s *memStore) addGroup(ownerID int, name string, memberIDs ...int) models.Group {
	g, _ := memGroups{s}.CreateGroup(context.Background(), ownerID, name, nil, memberIDs)
	return g
}

func (s *memStore) conversation(a, b int) (models.Conversation, bool) {
	c, err := memConversations{s}.GetByPair(context.Background(), a, b)
	return c, err == nil
}

// users

type memUsers struct{ s *memStore }

func (r memUsers) Create(ctx context.Context, name, email, passwordHash string) (models.User, error) {
	defer r.s.guard()()
	for _, u := range r.s.data.users {
		if u.Email == email {
			return models.User{}, repositories.ErrEmailTaken
		}
	}
	now := r.s.tick()
	u := models.User{ID: r.s.nextID(), Name: name, Email: email, PasswordHash: passwordHash, CreatedAt: now, UpdatedAt: now}
	r.s.data.users[u.ID] = u
	return u, nil
}

func (r memUsers) GetByID(ctx context.Context, userID int) (models.User, error) {
	defer r.s.guard()()
	return r.byID(ctx, userID)
}

func (r memUsers) byID(ctx context.Context, userID int) (models.User, error) {
	u, ok := r.s.data.users[userID]
	if !ok {
		return models.User{}, repositories.ErrUserNotFound
	}
	return u, nil
}

func (r memUsers) GetByEmail(ctx context.Context, email string) (models.User, error) {
	defer r.s.guard()()
	for _, u := range r.s.data.users {
		if u.Email == email {
			return u, nil
		}
	}
	return models.User{}, repositories.ErrUserNotFound
}

func (r memUsers) GetByIDs(ctx context.Context, ids []int) ([]models.User, error) {
	defer r.s.guard()()
	out := []models.User{}
	for _, id := range ids {
		if u, ok := r.s.data.users[id]; ok {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memUsers) ListExcept(ctx context.Context, userID int) ([]models.User, error) {
	defer r.s.guard()()
	out := []models.User{}
	for _, u := range r.s.data.users {
		if u.ID != userID {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r memUsers) ListCounterparts(ctx context.Context, userID int) ([]models.User, error) {
	defer r.s.guard()()
	if err := r.s.fail("ListCounterparts"); err != nil {
		return nil, err
	}
	seen := map[int]bool{}
	for _, m := range r.s.data.messages {
		if m.ReceiverID == nil {
			continue
		}
		switch {
		case m.SenderID == userID && *m.ReceiverID != userID:
			seen[*m.ReceiverID] = true
		case *m.ReceiverID == userID && m.SenderID != userID:
			seen[m.SenderID] = true
		}
	}
	out := []models.User{}
	for id := range seen {
		out = append(out, r.s.data.users[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memUsers) UpdateProfile(ctx context.Context, userID int, name, email string) (models.User, error) {
	defer r.s.guard()()
	u, err := r.byID(ctx, userID)
	if err != nil {
		return models.User{}, err
	}
	for _, other := range r.s.data.users {
		if other.ID != userID && other.Email == email {
			return models.User{}, repositories.ErrEmailTaken
		}
	}
	u.Name, u.Email, u.UpdatedAt = name, email, r.s.tick()
	r.s.data.users[userID] = u
	return u, nil
}

func (r memUsers) UpdateAvatar(ctx context.Context, userID int, path string) error {
	defer r.s.guard()()
	u, err := r.byID(ctx, userID)
	if err != nil {
		return err
	}
	u.Avatar = &path
	r.s.data.users[userID] = u
	return nil
}

func (r memUsers) UpdatePushToken(ctx context.Context, userID int, token string) error {
	defer r.s.guard()()
	u, err := r.byID(ctx, userID)
	if err != nil {
		return err
	}
	u.PushToken = &token
	r.s.data.users[userID] = u
	return nil
}

// tokens

type memTokens struct{ s *memStore }

func (r memTokens) Create(ctx context.Context, tokenID string, userID int, expiresAt time.Time) error {
	defer r.s.guard()()
	r.s.data.tokens[tokenID] = memToken{userID: userID, expiresAt: expiresAt}
	return nil
}

func (r memTokens) IsActive(ctx context.Context, tokenID string, userID int) (bool, error) {
	defer r.s.guard()()
	t, ok := r.s.data.tokens[tokenID]
	return ok && t.userID == userID && t.expiresAt.After(time.Now()), nil
}

func (r memTokens) Revoke(ctx context.Context, tokenID string) error {
	defer r.s.guard()()
	delete(r.s.data.tokens, tokenID)
	return nil
}

// groups

type memGroups struct{ s *memStore }

func (r memGroups) CreateGroup(ctx context.Context, ownerID int, name string, description *string, memberIDs []int) (models.Group, error) {
	defer r.s.guard()()
	now := r.s.tick()
	g := models.Group{ID: r.s.nextID(), Name: name, Description: description, OwnerID: ownerID, CreatedAt: now, UpdatedAt: now}
	r.s.data.groups[g.ID] = g
	members := map[int]*time.Time{ownerID: nil}
	for _, id := range memberIDs {
		members[id] = nil
	}
	r.s.data.members[g.ID] = members
	return g, nil
}

func (r memGroups) GetGroup(ctx context.Context, groupID int) (models.Group, error) {
	defer r.s.guard()()
	return r.group(ctx, groupID)
}

func (r memGroups) group(ctx context.Context, groupID int) (models.Group, error) {
	g, ok := r.s.data.groups[groupID]
	if !ok {
		return models.Group{}, repositories.ErrGroupNotFound
	}
	return g, nil
}

func (r memGroups) LockGroup(ctx context.Context, groupID int) (models.Group, error) {
	defer r.s.guard()()
	return r.group(ctx, groupID)
}

func (r memGroups) UpdateGroup(ctx context.Context, groupID int, name string, description *string) (models.Group, error) {
	defer r.s.guard()()
	g, err := r.group(ctx, groupID)
	if err != nil {
		return models.Group{}, err
	}
	g.Name, g.Description, g.UpdatedAt = name, description, r.s.tick()
	r.s.data.groups[groupID] = g
	return g, nil
}

func (r memGroups) DeleteGroup(ctx context.Context, groupID int) error {
	defer r.s.guard()()
	if err := r.s.fail("DeleteGroup"); err != nil {
		return err
	}
	if _, ok := r.s.data.groups[groupID]; !ok {
		return repositories.ErrGroupNotFound
	}
	delete(r.s.data.groups, groupID)
	return nil
}

func (r memGroups) IsMember(ctx context.Context, groupID int, userID int) (bool, error) {
	defer r.s.guard()()
	_, ok := r.s.data.members[groupID][userID]
	return ok, nil
}

func (r memGroups) ListMembers(ctx context.Context, groupID int) ([]models.User, error) {
	defer r.s.guard()()
	out := []models.User{}
	for id := range r.s.data.members[groupID] {
		out = append(out, r.s.data.users[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memGroups) RemoveMembers(ctx context.Context, groupID int) error {
	defer r.s.guard()()
	delete(r.s.data.members, groupID)
	return nil
}

func (r memGroups) ListGroupsForUser(ctx context.Context, userID int) ([]models.GroupSummary, error) {
	defer r.s.guard()()
	out := []models.GroupSummary{}
	for gid, members := range r.s.data.members {
		if _, ok := members[userID]; !ok {
			continue
		}
		g := r.s.data.groups[gid]
		summary := models.GroupSummary{Group: g, MemberCount: len(members)}
		if g.LastMessageID != nil {
			if m, ok := r.s.data.messages[*g.LastMessageID]; ok {
				date := m.CreatedAt
				summary.LastMessage = m.Body
				summary.LastMessageDate = &date
			}
		}
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memGroups) SetLastMessage(ctx context.Context, groupID int, messageID *int) error {
	defer r.s.guard()()
	if err := r.s.fail("Groups.SetLastMessage"); err != nil {
		return err
	}
	g, err := r.group(ctx, groupID)
	if err != nil {
		return err
	}
	g.LastMessageID = copyInt(messageID)
	r.s.data.groups[groupID] = g
	return nil
}

func (r memGroups) MarkRead(ctx context.Context, groupID int, userID int, at time.Time) error {
	defer r.s.guard()()
	if members, ok := r.s.data.members[groupID]; ok {
		if _, ok := members[userID]; ok {
			members[userID] = &at
		}
	}
	return nil
}

// conversations

type memConversations struct{ s *memStore }

func (r memConversations) GetByPair(ctx context.Context, userA, userB int) (models.Conversation, error) {
	defer r.s.guard()()
	return r.byPair(ctx, userA, userB)
}

func (r memConversations) byPair(ctx context.Context, userA, userB int) (models.Conversation, error) {
	pair := models.DirectThread(userA, userB)
	for _, c := range r.s.data.conversations {
		if c.UserID1 == pair.UserLow && c.UserID2 == pair.UserHi {
			return c, nil
		}
	}
	return models.Conversation{}, repositories.ErrConversationNotFound
}

func (r memConversations) LockByPair(ctx context.Context, userA, userB int) (models.Conversation, error) {
	defer r.s.guard()()
	return r.byPair(ctx, userA, userB)
}

func (r memConversations) UpsertLastMessage(ctx context.Context, userA, userB int, messageID int) (models.Conversation, error) {
	defer r.s.guard()()
	if err := r.s.fail("UpsertLastMessage"); err != nil {
		return models.Conversation{}, err
	}
	now := r.s.clock
	c, err := r.byPair(ctx, userA, userB)
	if err != nil {
		pair := models.DirectThread(userA, userB)
		c = models.Conversation{ID: r.s.nextID(), UserID1: pair.UserLow, UserID2: pair.UserHi, CreatedAt: now}
	}
	id := messageID
	c.LastMessageID = &id
	c.UpdatedAt = now
	r.s.data.conversations[c.ID] = c
	return c, nil
}

func (r memConversations) SetLastMessage(ctx context.Context, conversationID int, messageID *int) error {
	defer r.s.guard()()
	c, ok := r.s.data.conversations[conversationID]
	if !ok {
		return repositories.ErrConversationNotFound
	}
	c.LastMessageID = copyInt(messageID)
	r.s.data.conversations[conversationID] = c
	return nil
}

// messages

type memMessages struct{ s *memStore }

func (r memMessages) CreateMessage(ctx context.Context, senderID int, target models.ThreadTarget, body *string, replyToID *int) (models.Message, error) {
	defer r.s.guard()()
	now := r.s.tick()
	m := models.Message{ID: r.s.nextID(), Body: body, SenderID: senderID, ReplyToID: copyInt(replyToID), CreatedAt: now, UpdatedAt: now}
	if target.IsGroup() {
		id := target.GroupID()
		m.GroupID = &id
	} else {
		id := target.UserID()
		m.ReceiverID = &id
	}
	r.s.data.messages[m.ID] = m
	return m, nil
}

func (r memMessages) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	defer r.s.guard()()
	m, ok := r.s.data.messages[messageID]
	if !ok {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	return m, nil
}

func (r memMessages) GetMessages(ctx context.Context, ids []int) ([]models.Message, error) {
	defer r.s.guard()()
	out := []models.Message{}
	for _, id := range ids {
		if m, ok := r.s.data.messages[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r memMessages) thread(thread models.Thread) []models.Message {
	out := []models.Message{}
	for _, m := range r.s.data.messages {
		if m.Thread() == thread {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return newerThan(out[i], out[j]) })
	return out
}

func newerThan(a, b models.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func (r memMessages) ListThread(ctx context.Context, thread models.Thread, limit int) ([]models.Message, error) {
	defer r.s.guard()()
	msgs := r.thread(thread)
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (r memMessages) ListBefore(ctx context.Context, thread models.Thread, ref models.Message, limit int) ([]models.Message, error) {
	defer r.s.guard()()
	out := []models.Message{}
	for _, m := range r.thread(thread) {
		if newerThan(ref, m) {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memMessages) Latest(ctx context.Context, thread models.Thread, excludeID int) (*models.Message, error) {
	defer r.s.guard()()
	for _, m := range r.thread(thread) {
		if m.ID != excludeID {
			m := m
			return &m, nil
		}
	}
	return nil, nil
}

func (r memMessages) DeleteMessage(ctx context.Context, messageID int) error {
	defer r.s.guard()()
	if err := r.s.fail("DeleteMessage"); err != nil {
		return err
	}
	if _, ok := r.s.data.messages[messageID]; !ok {
		return repositories.ErrMessageNotFound
	}
	delete(r.s.data.messages, messageID)
	return nil
}

func (r memMessages) DetachReplies(ctx context.Context, messageIDs []int) error {
	defer r.s.guard()()
	ids := map[int]bool{}
	for _, id := range messageIDs {
		ids[id] = true
	}
	for id, m := range r.s.data.messages {
		if m.ReplyToID != nil && ids[*m.ReplyToID] {
			m.ReplyToID = nil
			r.s.data.messages[id] = m
		}
	}
	return nil
}

func (r memMessages) ListGroupMessageIDs(ctx context.Context, groupID int) ([]int, error) {
	defer r.s.guard()()
	out := []int{}
	for _, m := range r.thread(models.GroupThread(groupID)) {
		out = append(out, m.ID)
	}
	return out, nil
}

func (r memMessages) DeleteGroupMessages(ctx context.Context, groupID int) error {
	defer r.s.guard()()
	for id, m := range r.s.data.messages {
		if m.GroupID != nil && *m.GroupID == groupID {
			delete(r.s.data.messages, id)
		}
	}
	return nil
}

func (r memMessages) CountUnread(ctx context.Context, userID int, excludeID int) (int, error) {
	defer r.s.guard()()
	count := 0
	for _, m := range r.s.data.messages {
		if m.ID != excludeID && m.ReceiverID != nil && *m.ReceiverID == userID && m.ReadAt == nil {
			count++
		}
	}
	return count, nil
}

func (r memMessages) MarkDirectRead(ctx context.Context, readerID int, senderID int, at time.Time) error {
	defer r.s.guard()()
	for id, m := range r.s.data.messages {
		if m.SenderID == senderID && m.ReceiverID != nil && *m.ReceiverID == readerID && m.ReadAt == nil {
			m.ReadAt = &at
			r.s.data.messages[id] = m
		}
	}
	return nil
}

// attachments

type memAttachments struct{ s *memStore }

func (r memAttachments) CreateAttachment(ctx context.Context, a models.Attachment) (models.Attachment, error) {
	defer r.s.guard()()
	a.ID = r.s.nextID()
	a.CreatedAt = r.s.clock
	r.s.data.attachments[a.ID] = a
	return a, nil
}

func (r memAttachments) ListByMessages(ctx context.Context, messageIDs []int) ([]models.Attachment, error) {
	defer r.s.guard()()
	return r.byMessages(ctx, messageIDs)
}

func (r memAttachments) byMessages(ctx context.Context, messageIDs []int) ([]models.Attachment, error) {
	ids := map[int]bool{}
	for _, id := range messageIDs {
		ids[id] = true
	}
	out := []models.Attachment{}
	for _, a := range r.s.data.attachments {
		if ids[a.MessageID] {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memAttachments) DeleteByMessages(ctx context.Context, messageIDs []int) ([]models.Attachment, error) {
	defer r.s.guard()()
	out, _ := r.byMessages(ctx, messageIDs)
	for _, a := range out {
		delete(r.s.data.attachments, a.ID)
	}
	return out, nil
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// memFiles is an in-memory storage.FileStore.
type memFiles struct {
	files   map[string][]byte
	deleted []string
	seq     int
}

func newMemFiles() *memFiles {
	return &memFiles{files: map[string][]byte{}}
}

func (f *memFiles) Store(ctx context.Context, dir, name, mime string, r io.Reader) (storage.Stored, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return storage.Stored{}, err
	}
	f.seq++
	path := dir + "/" + strings.Repeat("x", f.seq) + "/" + name
	f.files[path] = data
	if mime == "" {
		mime = "image/png"
	}
	return storage.Stored{Path: path, Name: name, Mime: mime, Size: int64(len(data))}, nil
}

func (f *memFiles) Delete(ctx context.Context, path string) error {
	delete(f.files, path)
	f.deleted = append(f.deleted, path)
	return nil
}

func (f *memFiles) URL(path string) string {
	return "http://files.test/storage/" + path
}

// recordingHub captures broadcasts.
type recordingHub struct {
	mu          sync.Mutex
	userEvents  []models.MessageEvent
	userTargets [][]int
	groupEvents map[int][]models.MessageEvent
}

func newRecordingHub() *recordingHub {
	return &recordingHub{groupEvents: map[int][]models.MessageEvent{}}
}

func (h *recordingHub) PublishToUsers(event models.MessageEvent, userIDs ...int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.userEvents = append(h.userEvents, event)
	h.userTargets = append(h.userTargets, userIDs)
}

func (h *recordingHub) PublishToGroup(groupID int, event models.MessageEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.groupEvents[groupID] = append(h.groupEvents[groupID], event)
}

// recordingNotifier captures fan-out requests.
type recordingNotifier struct {
	messages []models.MessageView
}

func (n *recordingNotifier) Notify(ctx context.Context, msg models.MessageView) {
	n.messages = append(n.messages, msg)
}
