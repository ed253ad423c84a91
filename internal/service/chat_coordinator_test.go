package service

import (
	"strings"
	"sync"
	"testing"
	"time"

	"sportbook-be/internal/constant"
	"sportbook-be/internal/dto"
	"sportbook-be/internal/entity"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticate_RejectsUnknownCredential(t *testing.T) {
	h := newChatHarness(t, harnessConfig{})

	_, err := h.coord.Authenticate(h.ctx, "")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = h.coord.Authenticate(h.ctx, "forged")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestAuthenticate_TracksConnectionOnlyWhileSocketIsLive(t *testing.T) {
	h := newChatHarness(t, harnessConfig{})
	h.verifier.identities["alice"] = Identity{ParticipantID: uuid.New(), DisplayName: "alice"}

	conn, err := h.coord.Authenticate(h.ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, h.coord.conns, "a handshake that never upgrades leaves nothing behind")

	h.coord.Connected(conn)
	assert.Len(t, h.coord.conns, 1)

	h.coord.Disconnect(conn)
	assert.Empty(t, h.coord.conns)
}

func TestJoin_LateJoinerSeesEarlierMessageInHistory(t *testing.T) {
	for _, distributed := range []bool{false, true} {
		h := newChatHarness(t, harnessConfig{distributed: distributed})
		room := uuid.New()

		a := h.connect("alice")
		b := h.connect("bob")
		h.oracle.allow(room, a.ParticipantID, b.ParticipantID)

		h.join(a, room)
		_, err := h.pipeline.Send(h.ctx, a, dto.SendMessageRequest{Body: "hello"})
		require.NoError(t, err)

		res := h.join(b, room)
		require.Len(t, res.History, 1)
		assert.Equal(t, "hello", res.History[0].Body)
		assert.Equal(t, a.ParticipantID, res.History[0].SenderId)

		events := h.delivery.events(b, constant.ChatEventRecentHistory)
		require.Len(t, events, 1)
		payload := events[0].Data.(dto.RecentHistoryPayload)
		require.Len(t, payload.Messages, 1)
		assert.Equal(t, "hello", payload.Messages[0].Body)

		assert.Empty(t, h.delivery.events(b, constant.ChatEventNewMessage), "message predates the join")
	}
}

func TestJoin_SendsJoinedHistoryAndPresenceInOrder(t *testing.T) {
	h := newChatHarness(t, harnessConfig{})
	room := uuid.New()
	a := h.connect("alice")
	h.oracle.allow(room, a.ParticipantID)

	res := h.join(a, room)
	assert.NotEmpty(t, res.SessionToken)
	assert.Equal(t, 1, res.OnlineCount)
	assert.Equal(t, room, a.Room())
	assert.Equal(t, res.SessionToken, a.SessionToken())

	assert.Equal(t, []string{
		constant.ChatEventJoined,
		constant.ChatEventRecentHistory,
		constant.ChatEventPresenceList,
	}, eventTypes(h.delivery.events(a)))
}

func TestJoin_ConcurrentFirstJoinersShareSessionToken(t *testing.T) {
	for _, distributed := range []bool{false, true} {
		h := newChatHarness(t, harnessConfig{distributed: distributed})
		room := uuid.New()

		const n = 16
		conns := make([]*Connection, n)
		for i := range conns {
			conns[i] = h.connect("player" + string(rune('a'+i)))
			h.oracle.allow(room, conns[i].ParticipantID)
		}

		tokens := make([]string, n)
		var wg sync.WaitGroup
		for i := range conns {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				res, err := h.coord.Join(h.ctx, conns[i], room)
				if assert.NoError(t, err) {
					tokens[i] = res.SessionToken
				}
			}(i)
		}
		wg.Wait()

		for _, tok := range tokens {
			assert.Equal(t, tokens[0], tok)
		}
	}
}

func TestJoin_RejectsNonMember(t *testing.T) {
	h := newChatHarness(t, harnessConfig{})
	room := uuid.New()
	a := h.connect("alice")

	_, err := h.coord.Join(h.ctx, a, room)
	assert.ErrorIs(t, err, ErrNotAuthorized)
	assert.Equal(t, uuid.Nil, a.Room())
}

func TestJoin_RejectsRoomBelowThreshold(t *testing.T) {
	h := newChatHarness(t, harnessConfig{})
	room := uuid.New()
	a := h.connect("alice")
	h.oracle.allow(room, a.ParticipantID)
	h.oracle.notReady[room] = true

	_, err := h.coord.Join(h.ctx, a, room)
	assert.ErrorIs(t, err, ErrChatNotReady)

	delete(h.oracle.notReady, room)
	h.join(a, room)
}

func TestJoin_MembershipCheckedOnEveryJoin(t *testing.T) {
	h := newChatHarness(t, harnessConfig{})
	room := uuid.New()
	a := h.connect("alice")
	h.oracle.allow(room, a.ParticipantID)

	h.join(a, room)
	require.NoError(t, h.coord.Leave(h.ctx, a))

	h.oracle.revoke(room, a.ParticipantID)
	_, err := h.coord.Join(h.ctx, a, room)
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestJoin_NotifiesOthersWithOnlineCount(t *testing.T) {
	h := newChatHarness(t, harnessConfig{})
	room := uuid.New()
	a, b := h.connect("alice"), h.connect("bob")
	h.oracle.allow(room, a.ParticipantID, b.ParticipantID)

	h.join(a, room)
	h.join(b, room)

	joined := h.delivery.events(a, constant.ChatEventParticipantJoined)
	require.Len(t, joined, 1)
	payload := joined[0].Data.(dto.ParticipantJoinedPayload)
	assert.Equal(t, b.ParticipantID, payload.ParticipantID)
	assert.Equal(t, 2, payload.OnlineCount)

	assert.Empty(t, h.delivery.events(b, constant.ChatEventParticipantJoined))
}

func TestJoin_SecondDeviceDoesNotAnnounceOrLeave(t *testing.T) {
	h := newChatHarness(t, harnessConfig{})
	room := uuid.New()
	a := h.connect("alice")
	phone := h.connect("alice")
	b := h.connect("bob")
	h.oracle.allow(room, a.ParticipantID, b.ParticipantID)

	h.join(b, room)
	h.join(a, room)
	h.join(phone, room)
	assert.Len(t, h.delivery.events(b, constant.ChatEventParticipantJoined), 1)

	h.coord.Disconnect(phone)
	assert.Empty(t, h.delivery.events(b, constant.ChatEventParticipantLeft))

	h.coord.Disconnect(a)
	assert.Len(t, h.delivery.events(b, constant.ChatEventParticipantLeft), 1)
}

func TestLeave_AnnouncedWhenOtherDeviceStoppedHeartbeating(t *testing.T) {
	clock := newManualClock()
	h := newChatHarness(t, harnessConfig{distributed: true, presenceClock: clock})
	room := uuid.New()
	laptop := h.connect("alice")
	phone := h.connect("alice")
	b := h.connect("bob")
	h.oracle.allow(room, laptop.ParticipantID, b.ParticipantID)

	h.join(b, room)
	h.join(laptop, room)
	h.join(phone, room)

	// phone's instance died without a Leave; laptop keeps heartbeating.
	clock.Advance(60 * time.Second)
	h.coord.Heartbeat(h.ctx, laptop)
	clock.Advance(45 * time.Second)

	require.NoError(t, h.coord.Leave(h.ctx, laptop))
	left := h.delivery.events(b, constant.ChatEventParticipantLeft)
	require.Len(t, left, 1)
	assert.Equal(t, laptop.ParticipantID, left[0].Data.(dto.ParticipantLeftPayload).ParticipantID)
}

func TestLeave_IsIdempotent(t *testing.T) {
	h := newChatHarness(t, harnessConfig{})
	room := uuid.New()
	a, b := h.connect("alice"), h.connect("bob")
	h.oracle.allow(room, a.ParticipantID, b.ParticipantID)
	h.join(a, room)
	h.join(b, room)

	require.NoError(t, h.coord.Leave(h.ctx, a))
	require.NoError(t, h.coord.Leave(h.ctx, a))
	h.coord.Disconnect(a)
	h.coord.Disconnect(a)

	left := h.delivery.events(b, constant.ChatEventParticipantLeft)
	require.Len(t, left, 1)
	payload := left[0].Data.(dto.ParticipantLeftPayload)
	assert.Equal(t, a.ParticipantID, payload.ParticipantID)
	assert.Equal(t, 1, payload.OnlineCount)
	assert.False(t, payload.LastSeen.IsZero())

	never := h.connect("carol")
	require.NoError(t, h.coord.Leave(h.ctx, never))
}

func TestLeave_PresenceShowsOfflineEntry(t *testing.T) {
	h := newChatHarness(t, harnessConfig{})
	room := uuid.New()
	a, b := h.connect("alice"), h.connect("bob")
	h.oracle.allow(room, a.ParticipantID, b.ParticipantID)
	h.join(a, room)
	h.join(b, room)

	h.coord.Disconnect(a)

	list, err := h.coord.Presence(h.ctx, room, b.ParticipantID)
	require.NoError(t, err)
	assert.Equal(t, 1, list.OnlineCount)
	require.Len(t, list.Entries, 2)
	for _, e := range list.Entries {
		if e.ParticipantID == a.ParticipantID.String() {
			assert.Equal(t, "offline", e.Status)
		}
	}
}

func TestSetStatusThenDisconnect_ObservedInOrder(t *testing.T) {
	h := newChatHarness(t, harnessConfig{distributed: true})
	room := uuid.New()
	a, b := h.connect("alice"), h.connect("bob")
	h.oracle.allow(room, a.ParticipantID, b.ParticipantID)
	h.join(b, room)
	h.join(a, room)

	require.NoError(t, h.coord.HandleFrame(h.ctx, a, []byte(`{"type":"setStatus","status":"away"}`)))
	h.coord.Disconnect(a)

	seen := h.delivery.events(b, constant.ChatEventUserStatusChanged, constant.ChatEventParticipantLeft)
	assert.Equal(t, []string{constant.ChatEventUserStatusChanged, constant.ChatEventParticipantLeft}, eventTypes(seen))
	assert.Equal(t, "away", seen[0].Data.(dto.StatusChangedPayload).Status)
}

func TestSetStatus_NoopWhenNotJoined(t *testing.T) {
	h := newChatHarness(t, harnessConfig{})
	a := h.connect("alice")

	assert.NoError(t, h.coord.SetStatus(h.ctx, a, "away"))
	assert.ErrorIs(t, h.coord.SetStatus(h.ctx, a, "offline"), ErrInvalidRequest)
}

func TestSetTyping_BroadcastsStartAndStop(t *testing.T) {
	h := newChatHarness(t, harnessConfig{})
	room := uuid.New()
	a, b := h.connect("alice"), h.connect("bob")
	h.oracle.allow(room, a.ParticipantID, b.ParticipantID)

	assert.ErrorIs(t, h.coord.SetTyping(h.ctx, a, true), ErrNotJoined)

	h.join(a, room)
	h.join(b, room)

	require.NoError(t, h.coord.SetTyping(h.ctx, a, true))
	typingNow, err := h.typing.IsTyping(h.ctx, room.String(), a.ParticipantID.String())
	require.NoError(t, err)
	assert.True(t, typingNow)

	require.NoError(t, h.coord.SetTyping(h.ctx, a, false))
	typingNow, err = h.typing.IsTyping(h.ctx, room.String(), a.ParticipantID.String())
	require.NoError(t, err)
	assert.False(t, typingNow)

	assert.Equal(t,
		[]string{constant.ChatEventUserTyping, constant.ChatEventUserStoppedTyping},
		eventTypes(h.delivery.events(b, constant.ChatEventUserTyping, constant.ChatEventUserStoppedTyping)))
	assert.Empty(t, h.delivery.events(a, constant.ChatEventUserTyping))
}

func TestSetTyping_ExpiresWithoutExplicitClear(t *testing.T) {
	h := newChatHarness(t, harnessConfig{typingTTL: 50 * time.Millisecond})
	room := uuid.New()
	a, b := h.connect("alice"), h.connect("bob")
	h.oracle.allow(room, a.ParticipantID, b.ParticipantID)
	h.join(a, room)
	h.join(b, room)

	require.NoError(t, h.coord.SetTyping(h.ctx, a, true))

	assert.Eventually(t, func() bool {
		return len(h.delivery.events(b, constant.ChatEventUserStoppedTyping)) == 1
	}, time.Second, 10*time.Millisecond)

	typingNow, err := h.typing.IsTyping(h.ctx, room.String(), a.ParticipantID.String())
	require.NoError(t, err)
	assert.False(t, typingNow)
}

func TestSetTyping_RefreshPostponesExpiry(t *testing.T) {
	h := newChatHarness(t, harnessConfig{typingTTL: 80 * time.Millisecond})
	room := uuid.New()
	a, b := h.connect("alice"), h.connect("bob")
	h.oracle.allow(room, a.ParticipantID, b.ParticipantID)
	h.join(a, room)
	h.join(b, room)

	require.NoError(t, h.coord.SetTyping(h.ctx, a, true))
	time.Sleep(40 * time.Millisecond)
	require.NoError(t, h.coord.SetTyping(h.ctx, a, true))
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, h.delivery.events(b, constant.ChatEventUserStoppedTyping))

	assert.Eventually(t, func() bool {
		return len(h.delivery.events(b, constant.ChatEventUserStoppedTyping)) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestLeave_ClearsTypingFlag(t *testing.T) {
	h := newChatHarness(t, harnessConfig{})
	room := uuid.New()
	a, b := h.connect("alice"), h.connect("bob")
	h.oracle.allow(room, a.ParticipantID, b.ParticipantID)
	h.join(a, room)
	h.join(b, room)

	require.NoError(t, h.coord.SetTyping(h.ctx, a, true))
	h.coord.Disconnect(a)

	typingNow, err := h.typing.IsTyping(h.ctx, room.String(), a.ParticipantID.String())
	require.NoError(t, err)
	assert.False(t, typingNow)
	assert.Len(t, h.delivery.events(b, constant.ChatEventUserStoppedTyping), 1)
}

func TestHandleFrame_ReportsErrors(t *testing.T) {
	h := newChatHarness(t, harnessConfig{})
	a := h.connect("alice")

	tests := []struct {
		name   string
		frame  string
		reason string
	}{
		{"malformed json", `{"type":`, "invalid_request"},
		{"unknown type", `{"type":"dance"}`, "invalid_request"},
		{"bad room id", `{"type":"join","roomId":"R42"}`, "invalid_request"},
		{"send before join", `{"type":"send","body":"hi"}`, "not_joined"},
		{"typing before join", `{"type":"setTyping","isTyping":true}`, "not_joined"},
		{"bad status", `{"type":"setStatus","status":"busy"}`, "invalid_request"},
		{"non member", `{"type":"join","roomId":"` + uuid.NewString() + `","requestId":"r1"}`, "not_authorized"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(h.delivery.events(a, constant.ChatEventError))
			err := h.coord.HandleFrame(h.ctx, a, []byte(tt.frame))
			require.Error(t, err)

			errs := h.delivery.events(a, constant.ChatEventError)
			require.Len(t, errs, before+1)
			payload := errs[len(errs)-1].Data.(dto.ErrorPayload)
			assert.Equal(t, tt.reason, payload.Reason)
		})
	}

	errs := h.delivery.events(a, constant.ChatEventError)
	assert.Equal(t, "r1", errs[len(errs)-1].Data.(dto.ErrorPayload).RequestID)
}

func TestHandleFrame_FullSession(t *testing.T) {
	h := newChatHarness(t, harnessConfig{})
	room := uuid.New()
	a, b := h.connect("alice"), h.connect("bob")
	h.oracle.allow(room, a.ParticipantID, b.ParticipantID)

	join := []byte(`{"type":"join","roomId":"` + room.String() + `"}`)
	require.NoError(t, h.coord.HandleFrame(h.ctx, a, join))
	require.NoError(t, h.coord.HandleFrame(h.ctx, b, join))
	require.NoError(t, h.coord.HandleFrame(h.ctx, a, []byte(`{"type":"send","body":"kick off at 7?"}`)))

	got := h.delivery.events(b, constant.ChatEventNewMessage)
	require.Len(t, got, 1)
	msg := got[0].Data.(*entity.ChatMessage)

	read := []byte(`{"type":"markRead","messageId":"` + msg.Id + `"}`)
	require.NoError(t, h.coord.HandleFrame(h.ctx, b, read))
	require.NoError(t, h.coord.HandleFrame(h.ctx, b, []byte(`{"type":"leave"}`)))

	assert.Len(t, h.delivery.events(a, constant.ChatEventMessageReadBy), 1)
	assert.Len(t, h.delivery.events(a, constant.ChatEventParticipantLeft), 1)
	assert.Equal(t, uuid.Nil, b.Room())
}

func TestJoin_SwitchingRoomsLeavesPrevious(t *testing.T) {
	h := newChatHarness(t, harnessConfig{})
	r1, r2 := uuid.New(), uuid.New()
	a, b := h.connect("alice"), h.connect("bob")
	h.oracle.allow(r1, a.ParticipantID, b.ParticipantID)
	h.oracle.allow(r2, a.ParticipantID)

	h.join(b, r1)
	h.join(a, r1)
	h.join(a, r2)

	assert.Equal(t, r2, a.Room())
	assert.Len(t, h.delivery.events(b, constant.ChatEventParticipantLeft), 1)
}

func TestRevokeMembership_DetachesConnections(t *testing.T) {
	h := newChatHarness(t, harnessConfig{})
	room := uuid.New()
	a, b := h.connect("alice"), h.connect("bob")
	h.oracle.allow(room, a.ParticipantID, b.ParticipantID)
	h.join(a, room)
	h.join(b, room)

	h.oracle.revoke(room, b.ParticipantID)
	n := h.coord.RevokeMembership(h.ctx, room, b.ParticipantID)
	assert.Equal(t, 1, n)
	assert.Equal(t, uuid.Nil, b.Room())

	errs := h.delivery.events(b, constant.ChatEventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "not_authorized", errs[0].Data.(dto.ErrorPayload).Reason)
	assert.Len(t, h.delivery.events(a, constant.ChatEventParticipantLeft), 1)

	_, err := h.pipeline.Send(h.ctx, b, dto.SendMessageRequest{Body: "still here?"})
	assert.ErrorIs(t, err, ErrNotJoined)
	assert.Zero(t, h.coord.RevokeMembership(h.ctx, room, b.ParticipantID))
}

func TestHistoryAndPresence_RequireMembership(t *testing.T) {
	h := newChatHarness(t, harnessConfig{})
	room := uuid.New()
	a := h.connect("alice")
	h.oracle.allow(room, a.ParticipantID)
	h.join(a, room)
	for _, body := range []string{"one", "two", "three"} {
		_, err := h.pipeline.Send(h.ctx, a, dto.SendMessageRequest{Body: body})
		require.NoError(t, err)
	}

	msgs, err := h.coord.History(h.ctx, room, a.ParticipantID, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "two", msgs[0].Body)
	assert.Equal(t, "three", msgs[1].Body)

	_, err = h.coord.History(h.ctx, room, uuid.New(), 10)
	assert.ErrorIs(t, err, ErrNotAuthorized)
	_, err = h.coord.Presence(h.ctx, room, uuid.New())
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestJoin_OracleOutageIsUnavailable(t *testing.T) {
	h := newChatHarness(t, harnessConfig{})
	a := h.connect("alice")
	h.oracle.err = errStoreDown

	_, err := h.coord.Join(h.ctx, a, uuid.New())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, strings.Contains(err.Error(), "membership"))
}
