package services

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"chat-backend/internal/models"
	"chat-backend/internal/repositories"
)

type messageFixture struct {
	store    *memStore
	files    *memFiles
	hub      *recordingHub
	notifier *recordingNotifier
	svc      *MessageService
}

func newMessageFixture() *messageFixture {
	store := newMemStore()
	files := newMemFiles()
	hub := newRecordingHub()
	notifier := &recordingNotifier{}
	return &messageFixture{
		store:    store,
		files:    files,
		hub:      hub,
		notifier: notifier,
		svc:      NewMessageService(store, files, hub, notifier),
	}
}

func text(s string) *string { return &s }

func (f *messageFixture) send(t *testing.T, senderID int, target models.ThreadTarget, body string) models.MessageView {
	t.Helper()
	view, err := f.svc.Create(context.Background(), NewMessage{SenderID: senderID, Target: target, Body: text(body)})
	require.NoError(t, err)
	return view
}

func upload(name, content string) Upload {
	return Upload{
		Name: name,
		Size: int64(len(content)),
		Open: func() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader(content)), nil },
	}
}

func TestCreateMovesDirectPointerToNewestMessage(t *testing.T) {
	f := newMessageFixture()
	alice := f.store.addUser("Alice")
	bob := f.store.addUser("Bob")

	for i := 0; i < 5; i++ {
		sender, receiver := alice.ID, bob.ID
		if i%2 == 1 {
			sender, receiver = bob.ID, alice.ID
		}
		view := f.send(t, sender, models.DirectTarget(receiver), "msg")

		conv, ok := f.store.conversation(alice.ID, bob.ID)
		require.True(t, ok)
		require.NotNil(t, conv.LastMessageID)
		assert.Equal(t, view.ID, *conv.LastMessageID)
		assert.Equal(t, alice.ID, conv.UserID1)
	}
	assert.Len(t, f.store.data.conversations, 1)
}

func TestCreateMovesGroupPointer(t *testing.T) {
	f := newMessageFixture()
	owner := f.store.addUser("Owner")
	member := f.store.addUser("Member")
	group := f.store.addGroup(owner.ID, "Team", member.ID)

	var last models.MessageView
	for i := 0; i < 3; i++ {
		last = f.send(t, member.ID, models.GroupTarget(group.ID), "hello")
	}

	require.NotNil(t, f.store.data.groups[group.ID].LastMessageID)
	assert.Equal(t, last.ID, *f.store.data.groups[group.ID].LastMessageID)
	assert.Len(t, f.hub.groupEvents[group.ID], 3)
	assert.Equal(t, EventMessageCreated, f.hub.groupEvents[group.ID][0].Type)
	assert.Len(t, f.notifier.messages, 3)
}

func TestCreateRejectsMissingTarget(t *testing.T) {
	f := newMessageFixture()
	alice := f.store.addUser("Alice")

	_, err := f.svc.Create(context.Background(), NewMessage{SenderID: alice.ID, Body: text("hi")})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Empty(t, f.store.data.messages)
	assert.Empty(t, f.store.data.conversations)
}

func TestCreateRejectsNonMember(t *testing.T) {
	f := newMessageFixture()
	owner := f.store.addUser("Owner")
	outsider := f.store.addUser("Outsider")
	group := f.store.addGroup(owner.ID, "Team")

	_, err := f.svc.Create(context.Background(), NewMessage{SenderID: outsider.ID, Target: models.GroupTarget(group.ID), Body: text("hi")})

	assert.ErrorIs(t, err, ErrNotMember)
	assert.Empty(t, f.store.data.messages)
	assert.Nil(t, f.store.data.groups[group.ID].LastMessageID)
}

func TestCreateValidation(t *testing.T) {
	f := newMessageFixture()
	alice := f.store.addUser("Alice")
	bob := f.store.addUser("Bob")

	tests := []struct {
		name  string
		in    NewMessage
		field string
	}{
		{"empty body", NewMessage{SenderID: alice.ID, Target: models.DirectTarget(bob.ID), Body: text("   ")}, "message"},
		{"self message", NewMessage{SenderID: alice.ID, Target: models.DirectTarget(alice.ID), Body: text("hi")}, "receiver_id"},
		{"unknown receiver", NewMessage{SenderID: alice.ID, Target: models.DirectTarget(999), Body: text("hi")}, "receiver_id"},
		{"unknown group", NewMessage{SenderID: alice.ID, Target: models.GroupTarget(999), Body: text("hi")}, "group_id"},
		{"unknown reply", NewMessage{SenderID: alice.ID, Target: models.DirectTarget(bob.ID), Body: text("hi"), ReplyToID: intPtr(999)}, "reply_to_id"},
		{"too many files", NewMessage{SenderID: alice.ID, Target: models.DirectTarget(bob.ID), Files: make([]Upload, MaxAttachments+1)}, "attachments"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(context.Background(), tt.in)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
	assert.Empty(t, f.store.data.messages)
}

func TestCreateRollsBackWhenPointerUpdateFails(t *testing.T) {
	f := newMessageFixture()
	alice := f.store.addUser("Alice")
	bob := f.store.addUser("Bob")
	f.store.failOn["UpsertLastMessage"] = true

	_, err := f.svc.Create(context.Background(), NewMessage{
		SenderID: alice.ID,
		Target:   models.DirectTarget(bob.ID),
		Body:     text("hi"),
		Files:    []Upload{upload("a.png", "png")},
	})

	require.ErrorIs(t, err, errBoom)
	assert.Empty(t, f.store.data.messages)
	assert.Empty(t, f.store.data.attachments)
	assert.Empty(t, f.files.files)
	assert.Len(t, f.files.deleted, 1)
	assert.Empty(t, f.notifier.messages)
}

func TestCreateWithAttachmentsAndReply(t *testing.T) {
	f := newMessageFixture()
	alice := f.store.addUser("Alice")
	bob := f.store.addUser("Bob")
	first := f.send(t, bob.ID, models.DirectTarget(alice.ID), "question?")

	view, err := f.svc.Create(context.Background(), NewMessage{
		SenderID:  alice.ID,
		Target:    models.DirectTarget(bob.ID),
		ReplyToID: &first.ID,
		Files:     []Upload{upload("photo.png", "png-bytes"), upload("doc.pdf", "pdf")},
	})
	require.NoError(t, err)

	assert.Nil(t, view.Body)
	require.Len(t, view.Attachments, 2)
	assert.Equal(t, "http://files.test/storage/"+view.Attachments[0].Path, view.Attachments[0].URL)
	require.NotNil(t, view.ReplyTo)
	assert.Equal(t, first.ID, view.ReplyTo.ID)
	assert.Equal(t, "Bob", view.ReplyTo.Sender.Name)
	require.NotNil(t, view.Sender)
	assert.Equal(t, "Alice", view.Sender.Name)

	require.Len(t, f.hub.userTargets, 2)
	assert.ElementsMatch(t, []int{alice.ID, bob.ID}, f.hub.userTargets[1])
}

func TestCreateRejectsReplyFromAnotherThread(t *testing.T) {
	f := newMessageFixture()
	alice := f.store.addUser("Alice")
	bob := f.store.addUser("Bob")
	mallory := f.store.addUser("Mallory")
	group := f.store.addGroup(alice.ID, "Team", mallory.ID)
	private := f.send(t, alice.ID, models.DirectTarget(bob.ID), "private to bob")
	inGroup := f.send(t, alice.ID, models.GroupTarget(group.ID), "team only")
	before := len(f.store.data.messages)

	tests := []struct {
		name    string
		target  models.ThreadTarget
		replyTo int
	}{
		{"direct message of another pair", models.DirectTarget(bob.ID), private.ID},
		{"group message into a direct thread", models.DirectTarget(alice.ID), inGroup.ID},
		{"direct message into a group", models.GroupTarget(group.ID), private.ID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			view, err := f.svc.Create(context.Background(), NewMessage{
				SenderID:  mallory.ID,
				Target:    tt.target,
				Body:      text("look what I found"),
				ReplyToID: &tt.replyTo,
			})

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, "reply_to_id", verr.Field)
			assert.Nil(t, view.ReplyTo)
		})
	}

	assert.Len(t, f.store.data.messages, before)
	_, ok := f.store.conversation(mallory.ID, bob.ID)
	assert.False(t, ok)
	require.NotNil(t, f.store.data.groups[group.ID].LastMessageID)
	assert.Equal(t, inGroup.ID, *f.store.data.groups[group.ID].LastMessageID)
}

func TestCreateAcceptsReplyFromSameGroup(t *testing.T) {
	f := newMessageFixture()
	owner := f.store.addUser("Owner")
	member := f.store.addUser("Member")
	group := f.store.addGroup(owner.ID, "Team", member.ID)
	first := f.send(t, owner.ID, models.GroupTarget(group.ID), "agenda?")

	view, err := f.svc.Create(context.Background(), NewMessage{
		SenderID:  member.ID,
		Target:    models.GroupTarget(group.ID),
		Body:      text("see thread"),
		ReplyToID: &first.ID,
	})

	require.NoError(t, err)
	require.NotNil(t, view.ReplyTo)
	assert.Equal(t, first.ID, view.ReplyTo.ID)
}

func TestDeleteReassignsPointer(t *testing.T) {
	f := newMessageFixture()
	alice := f.store.addUser("Alice")
	bob := f.store.addUser("Bob")
	target := models.DirectTarget(bob.ID)
	m1 := f.send(t, alice.ID, target, "one")
	m2 := f.send(t, alice.ID, target, "two")
	m3 := f.send(t, alice.ID, target, "three")

	pointer := func() *int {
		conv, ok := f.store.conversation(alice.ID, bob.ID)
		require.True(t, ok)
		return conv.LastMessageID
	}

	// deleting the newest moves the pointer back
	last, err := f.svc.Delete(context.Background(), alice.ID, m3.ID)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, m2.ID, last.ID)
	assert.Equal(t, m2.ID, *pointer())

	m4 := f.send(t, alice.ID, target, "four")

	// deleting an older message leaves the pointer alone
	last, err = f.svc.Delete(context.Background(), alice.ID, m2.ID)
	require.NoError(t, err)
	assert.Equal(t, m4.ID, last.ID)
	assert.Equal(t, m4.ID, *pointer())

	_, err = f.svc.Delete(context.Background(), alice.ID, m4.ID)
	require.NoError(t, err)
	assert.Equal(t, m1.ID, *pointer())

	// the sole remaining message clears it
	last, err = f.svc.Delete(context.Background(), alice.ID, m1.ID)
	require.NoError(t, err)
	assert.Nil(t, last)
	assert.Nil(t, pointer())
}

func TestConcurrentDeletesSettleOnOldestSurvivor(t *testing.T) {
	f := newMessageFixture()
	alice := f.store.addUser("Alice")
	bob := f.store.addUser("Bob")
	target := models.DirectTarget(bob.ID)
	m1 := f.send(t, alice.ID, target, "one")
	m2 := f.send(t, alice.ID, target, "two")
	m3 := f.send(t, alice.ID, target, "three")

	var g errgroup.Group
	for _, id := range []int{m3.ID, m2.ID} {
		g.Go(func() error {
			_, err := f.svc.Delete(context.Background(), alice.ID, id)
			return err
		})
	}
	require.NoError(t, g.Wait())

	conv, ok := f.store.conversation(alice.ID, bob.ID)
	require.True(t, ok)
	require.NotNil(t, conv.LastMessageID)
	assert.Equal(t, m1.ID, *conv.LastMessageID)
	assert.Len(t, f.store.data.messages, 1)
}

func TestDeleteScenarioAliceAndBob(t *testing.T) {
	f := newMessageFixture()
	alice := f.store.addUser("Alice")
	bob := f.store.addUser("Bob")
	m1 := f.send(t, alice.ID, models.DirectTarget(bob.ID), "hi")
	m2 := f.send(t, alice.ID, models.DirectTarget(bob.ID), "hello")

	last, err := f.svc.Delete(context.Background(), alice.ID, m2.ID)
	require.NoError(t, err)

	require.NotNil(t, last)
	assert.Equal(t, m1.ID, last.ID)
	assert.Equal(t, "hi", last.Text())
	conv, _ := f.store.conversation(alice.ID, bob.ID)
	assert.Equal(t, m1.ID, *conv.LastMessageID)

	events := f.hub.userEvents
	deleted := events[len(events)-1]
	assert.Equal(t, EventMessageDeleted, deleted.Type)
	assert.Equal(t, m2.ID, deleted.MessageID)
	assert.Equal(t, m1.ID, deleted.LastMessage.ID)
}

func TestDeleteUsesIDToBreakTimestampTies(t *testing.T) {
	f := newMessageFixture()
	owner := f.store.addUser("Owner")
	group := f.store.addGroup(owner.ID, "Team")
	f.store.frozen = true

	m1 := f.send(t, owner.ID, models.GroupTarget(group.ID), "a")
	m2 := f.send(t, owner.ID, models.GroupTarget(group.ID), "b")
	m3 := f.send(t, owner.ID, models.GroupTarget(group.ID), "c")
	require.True(t, m1.CreatedAt.Equal(m3.CreatedAt))
	assert.Equal(t, m3.ID, *f.store.data.groups[group.ID].LastMessageID)

	last, err := f.svc.Delete(context.Background(), owner.ID, m3.ID)
	require.NoError(t, err)
	assert.Equal(t, m2.ID, last.ID)
	assert.Equal(t, m2.ID, *f.store.data.groups[group.ID].LastMessageID)
}

func TestDeleteByNonSenderChangesNothing(t *testing.T) {
	f := newMessageFixture()
	alice := f.store.addUser("Alice")
	bob := f.store.addUser("Bob")
	m1 := f.send(t, alice.ID, models.DirectTarget(bob.ID), "hi")
	before, _ := f.store.conversation(alice.ID, bob.ID)

	_, err := f.svc.Delete(context.Background(), bob.ID, m1.ID)

	assert.ErrorIs(t, err, ErrForbidden)
	assert.Len(t, f.store.data.messages, 1)
	after, _ := f.store.conversation(alice.ID, bob.ID)
	assert.Equal(t, before.LastMessageID, after.LastMessageID)
}

func TestDeleteDetachesRepliesAndRemovesFiles(t *testing.T) {
	f := newMessageFixture()
	alice := f.store.addUser("Alice")
	bob := f.store.addUser("Bob")
	original, err := f.svc.Create(context.Background(), NewMessage{
		SenderID: alice.ID,
		Target:   models.DirectTarget(bob.ID),
		Files:    []Upload{upload("voice.m4a", "audio")},
	})
	require.NoError(t, err)
	reply, err := f.svc.Create(context.Background(), NewMessage{
		SenderID:  bob.ID,
		Target:    models.DirectTarget(alice.ID),
		Body:      text("nice"),
		ReplyToID: &original.ID,
	})
	require.NoError(t, err)

	_, err = f.svc.Delete(context.Background(), alice.ID, original.ID)
	require.NoError(t, err)

	assert.Nil(t, f.store.data.messages[reply.ID].ReplyToID)
	assert.Empty(t, f.store.data.attachments)
	assert.Equal(t, []string{original.Attachments[0].Path}, f.files.deleted)
}

func TestDeleteRollsBackOnFailure(t *testing.T) {
	f := newMessageFixture()
	alice := f.store.addUser("Alice")
	bob := f.store.addUser("Bob")
	m1 := f.send(t, alice.ID, models.DirectTarget(bob.ID), "one")
	m2 := f.send(t, alice.ID, models.DirectTarget(bob.ID), "two")
	f.store.failOn["DeleteMessage"] = true

	_, err := f.svc.Delete(context.Background(), alice.ID, m2.ID)

	require.ErrorIs(t, err, errBoom)
	conv, _ := f.store.conversation(alice.ID, bob.ID)
	assert.Equal(t, m2.ID, *conv.LastMessageID)
	assert.Contains(t, f.store.data.messages, m1.ID)
	assert.Contains(t, f.store.data.messages, m2.ID)
}

func TestDeleteMissingMessage(t *testing.T) {
	f := newMessageFixture()
	alice := f.store.addUser("Alice")

	_, err := f.svc.Delete(context.Background(), alice.ID, 404)

	assert.ErrorIs(t, err, repositories.ErrMessageNotFound)
}

func TestListPagination(t *testing.T) {
	f := newMessageFixture()
	alice := f.store.addUser("Alice")
	bob := f.store.addUser("Bob")
	carol := f.store.addUser("Carol")
	var ids []int
	for i := 0; i < 13; i++ {
		ids = append(ids, f.send(t, alice.ID, models.DirectTarget(bob.ID), "m").ID)
	}
	f.send(t, alice.ID, models.DirectTarget(carol.ID), "other thread")

	page, err := f.svc.ListDirect(context.Background(), bob.ID, alice.ID)
	require.NoError(t, err)
	require.Len(t, page, PageSize)
	assert.Equal(t, ids[12], page[0].ID)
	assert.Equal(t, ids[3], page[9].ID)

	older, err := f.svc.ListOlder(context.Background(), bob.ID, page[9].ID)
	require.NoError(t, err)
	require.Len(t, older, 3)
	assert.Equal(t, ids[2], older[0].ID)
	assert.Equal(t, ids[0], older[2].ID)

	_, err = f.svc.ListOlder(context.Background(), carol.ID, page[9].ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestListGroupRequiresMembership(t *testing.T) {
	f := newMessageFixture()
	owner := f.store.addUser("Owner")
	outsider := f.store.addUser("Outsider")
	group := f.store.addGroup(owner.ID, "Team")
	f.send(t, owner.ID, models.GroupTarget(group.ID), "hi")

	msgs, err := f.svc.ListGroup(context.Background(), owner.ID, group.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	_, err = f.svc.ListGroup(context.Background(), outsider.ID, group.ID)
	assert.ErrorIs(t, err, ErrNotMember)

	_, err = f.svc.ListGroup(context.Background(), owner.ID, 999)
	assert.ErrorIs(t, err, repositories.ErrGroupNotFound)
}

func TestMarkDirectRead(t *testing.T) {
	f := newMessageFixture()
	alice := f.store.addUser("Alice")
	bob := f.store.addUser("Bob")
	f.send(t, alice.ID, models.DirectTarget(bob.ID), "one")
	f.send(t, alice.ID, models.DirectTarget(bob.ID), "two")

	unread, _ := f.store.Messages().CountUnread(context.Background(), bob.ID, 0)
	require.Equal(t, 2, unread)

	require.NoError(t, f.svc.MarkDirectRead(context.Background(), bob.ID, alice.ID))

	unread, _ = f.store.Messages().CountUnread(context.Background(), bob.ID, 0)
	assert.Equal(t, 0, unread)
}

func intPtr(v int) *int { return &v }
