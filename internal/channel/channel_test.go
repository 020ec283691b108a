package channel

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"chatrelay/internal/protocol"
	"chatrelay/internal/session"
	"chatrelay/internal/workerpool"
)

// testHarness wires a real session.Registry and workerpool.Pool so channel
// broadcasts exercise the same resolve-by-id and drain-on-pool path used in
// production.
type testHarness struct {
	t        *testing.T
	clients  *session.Registry
	pool     *workerpool.Pool
	cancel   context.CancelFunc
	conns    []net.Conn // the peer ends, for reading what was sent
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	pool := workerpool.New(4, 64, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	t.Cleanup(func() {
		cancel()
		pool.Stop()
	})
	return &testHarness{
		t:       t,
		clients: session.NewRegistry(100, zerolog.Nop()),
		pool:    pool,
		cancel:  cancel,
	}
}

// addClient registers a new client backed by a net.Pipe and returns it plus
// the peer end for reading what the server side wrote to it.
func (h *testHarness) addClient() (*session.Client, net.Conn) {
	h.t.Helper()
	serverSide, peerSide := net.Pipe()
	c, err := h.clients.Add(serverSide)
	if err != nil {
		h.t.Fatalf("Add: %v", err)
	}
	h.conns = append(h.conns, peerSide)
	h.t.Cleanup(func() { peerSide.Close() })
	return c, peerSide
}

func readFrame(t *testing.T, conn net.Conn) protocol.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	frame, err := protocol.ReadFrame(conn)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	return frame
}

func TestEnterRejectsSecretWithoutInvitation(t *testing.T) {
	h := newHarness(t)
	emperor, _ := h.addClient()
	stranger, _ := h.addClient()

	reg := NewRegistry(10, h.clients, h.pool)
	ch, err := reg.Create(emperor)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := ch.ChangePrivacy(emperor.ID); err != nil {
		t.Fatalf("ChangePrivacy: %v", err)
	}

	err = ch.Enter(stranger.ID)
	if err != ErrNotInvited {
		t.Fatalf("want ErrNotInvited, got %v", err)
	}
}

func TestInviteThenEnterSucceedsOnce(t *testing.T) {
	h := newHarness(t)
	emperor, _ := h.addClient()
	target, _ := h.addClient()

	reg := NewRegistry(10, h.clients, h.pool)
	ch, _ := reg.Create(emperor)
	if err := ch.ChangePrivacy(emperor.ID); err != nil {
		t.Fatalf("ChangePrivacy: %v", err)
	}
	if err := ch.Invite(emperor.ID, target.ID); err != nil {
		t.Fatalf("Invite: %v", err)
	}
	if err := ch.Enter(target.ID); err != nil {
		t.Fatalf("first Enter should succeed: %v", err)
	}

	// Second entry attempt: target is still a member, so it leaves first;
	// re-entering without a fresh invitation must then fail, because the
	// first Enter consumed the invitation.
	if _, _, err := ch.Leave(target.ID); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if err := ch.Enter(target.ID); err != ErrNotInvited {
		t.Fatalf("second Enter without a fresh invitation should fail, got %v", err)
	}
}

func TestEmperorLeaveSuccession(t *testing.T) {
	h := newHarness(t)
	emperor, _ := h.addClient()
	m1, _ := h.addClient()
	m2, _ := h.addClient()

	reg := NewRegistry(10, h.clients, h.pool)
	ch, _ := reg.Create(emperor)
	if err := ch.Enter(m1.ID); err != nil {
		t.Fatal(err)
	}
	if err := ch.Enter(m2.ID); err != nil {
		t.Fatal(err)
	}
	if err := ch.PromoteMember(emperor.ID, m1.ID); err != nil {
		t.Fatalf("PromoteMember m1: %v", err)
	}
	if err := ch.PromoteMember(emperor.ID, m2.ID); err != nil {
		t.Fatalf("PromoteMember m2: %v", err)
	}

	result, members, err := ch.Leave(emperor.ID)
	if err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if result != Survived {
		t.Fatalf("want Survived, got %v", result)
	}
	if members != nil {
		t.Fatalf("Survived leave should not return a members snapshot")
	}
	if !ch.IsAuthority(m1.ID) {
		t.Fatalf("m1 should have succeeded as emperor")
	}

	info := ch.Info()
	_ = info
}

func TestEmperorLeaveDestructionWithNoModerators(t *testing.T) {
	h := newHarness(t)
	emperor, peerE := h.addClient()
	m1, peer1 := h.addClient()
	m2, peer2 := h.addClient()
	m3, peer3 := h.addClient()

	reg := NewRegistry(10, h.clients, h.pool)
	ch, _ := reg.Create(emperor)
	for _, m := range []*session.Client{m1, m2, m3} {
		if err := ch.Enter(m.ID); err != nil {
			t.Fatalf("Enter: %v", err)
		}
	}

	// The destruction broadcast fans out to all 4 former members
	// (including the departing emperor) in roster order and sequentially,
	// so every peer must be read concurrently or the fan-out deadlocks
	// against this test's own reads (net.Pipe is unbuffered).
	type result struct {
		frame protocol.Frame
		err   error
	}
	results := make(chan result, 4)
	for _, peer := range []net.Conn{peerE, peer1, peer2, peer3} {
		go func(peer net.Conn) {
			peer.SetReadDeadline(time.Now().Add(2 * time.Second))
			frame, err := protocol.ReadFrame(peer)
			results <- result{frame: frame, err: err}
		}(peer)
	}

	leaveResult, members, err := ch.Leave(emperor.ID)
	if err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if leaveResult != Destroyed {
		t.Fatalf("want Destroyed, got %v", leaveResult)
	}
	if len(members) != 4 {
		t.Fatalf("want 4 members in destruction snapshot (emperor+3), got %d", len(members))
	}

	for i := 0; i < 4; i++ {
		r := <-results
		if r.err != nil {
			t.Fatalf("reading broadcast: %v", r.err)
		}
		if r.frame.Type != protocol.ChDestroy {
			t.Fatalf("want CH_DESTROY, got %v", r.frame.Type)
		}
		destroy, err := protocol.DecodeChDestroyBroadcast(r.frame.Payload)
		if err != nil {
			t.Fatalf("DecodeChDestroyBroadcast: %v", err)
		}
		if destroy.ChannelID != ch.ID {
			t.Fatalf("got channel id %d, want %d", destroy.ChannelID, ch.ID)
		}
	}
}

func TestBroadcastFanoutReachesAllMembersInOrder(t *testing.T) {
	h := newHarness(t)
	emperor, peerE := h.addClient()
	m1, peer1 := h.addClient()
	m2, peer2 := h.addClient()

	reg := NewRegistry(10, h.clients, h.pool)
	ch, _ := reg.Create(emperor)
	if err := ch.Enter(m1.ID); err != nil {
		t.Fatal(err)
	}
	if err := ch.Enter(m2.ID); err != nil {
		t.Fatal(err)
	}

	// net.Pipe is unbuffered, and the drain fans one frame out to every
	// member before moving to the next, so peers must be read concurrently
	// or the fan-out deadlocks against this test's own reads.
	type result struct {
		texts []string
		err   error
	}
	results := make(chan result, 3)
	for _, peer := range []net.Conn{peerE, peer1, peer2} {
		go func(peer net.Conn) {
			var texts []string
			for i := 0; i < 2; i++ {
				peer.SetReadDeadline(time.Now().Add(2 * time.Second))
				frame, err := protocol.ReadFrame(peer)
				if err != nil {
					results <- result{err: err}
					return
				}
				msg, err := protocol.DecodeChMessageBroadcast(frame.Payload)
				if err != nil {
					results <- result{err: err}
					return
				}
				texts = append(texts, msg.Text)
			}
			results <- result{texts: texts}
		}(peer)
	}

	ch.SendMessage(emperor.ID, "hello")
	ch.SendMessage(emperor.ID, "world")

	for i := 0; i < 3; i++ {
		r := <-results
		if r.err != nil {
			t.Fatalf("reading broadcast: %v", r.err)
		}
		if len(r.texts) != 2 || r.texts[0] != "hello" || r.texts[1] != "world" {
			t.Fatalf("messages arrived out of order: %v", r.texts)
		}
	}
}

func TestKickRequiresAuthority(t *testing.T) {
	h := newHarness(t)
	emperor, _ := h.addClient()
	m1, _ := h.addClient()
	m2, _ := h.addClient()

	reg := NewRegistry(10, h.clients, h.pool)
	ch, _ := reg.Create(emperor)
	if err := ch.Enter(m1.ID); err != nil {
		t.Fatal(err)
	}
	if err := ch.Enter(m2.ID); err != nil {
		t.Fatal(err)
	}

	if _, _, err := ch.Kick(m1.ID, m2.ID); err != ErrNotAuthority {
		t.Fatalf("plain member should not be able to kick, got %v", err)
	}

	if result, _, err := ch.Kick(emperor.ID, m2.ID); err != nil || result != Survived {
		t.Fatalf("emperor kick should succeed, got result=%v err=%v", result, err)
	}
	if ch.IsMember(m2.ID) {
		t.Fatalf("m2 should have been removed")
	}
}

func TestRenameLengthBounds(t *testing.T) {
	h := newHarness(t)
	emperor, _ := h.addClient()
	reg := NewRegistry(10, h.clients, h.pool)
	ch, _ := reg.Create(emperor)

	if err := ch.Rename(emperor.ID, "short"); err != ErrInvalidName {
		t.Fatalf("too-short name should fail, got %v", err)
	}
	if err := ch.Rename(emperor.ID, "this name is definitely far too long"); err != ErrInvalidName {
		t.Fatalf("too-long name should fail, got %v", err)
	}
	if err := ch.Rename(emperor.ID, "validname"); err != nil {
		t.Fatalf("valid-length name should succeed: %v", err)
	}
}

func TestModeratorCapEnforced(t *testing.T) {
	h := newHarness(t)
	emperor, _ := h.addClient()
	reg := NewRegistry(10, h.clients, h.pool)
	ch, _ := reg.Create(emperor)

	members := make([]*session.Client, 0, 6)
	for i := 0; i < 6; i++ {
		m, _ := h.addClient()
		if err := ch.Enter(m.ID); err != nil {
			t.Fatalf("Enter: %v", err)
		}
		members = append(members, m)
	}
	for i := 0; i < 5; i++ {
		if err := ch.PromoteMember(emperor.ID, members[i].ID); err != nil {
			t.Fatalf("PromoteMember %d: %v", i, err)
		}
	}
	if err := ch.PromoteMember(emperor.ID, members[5].ID); err != ErrModeratorsFull {
		t.Fatalf("6th promotion should fail with ErrModeratorsFull, got %v", err)
	}
}
