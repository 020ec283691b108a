// Package channel implements chat rooms: the emperor/moderator/member role
// model, invitations, pinned messages, and a per-channel broadcast FIFO
// with single-flight drain.
package channel

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"chatrelay/internal/protocol"
	"chatrelay/internal/session"
	"chatrelay/internal/workerpool"
)

// Role is a client's standing within a channel's roster.
type Role int

const (
	RoleEmperor Role = iota
	RoleModerator
	RoleMember
)

const (
	// MaxModerators and MaxMembers are compile-time constants, not
	// configurable at runtime.
	MaxModerators = 5
	MaxMembers    = 50
)

// rosterEntry is one roster slot: a single ordered list of (role, clientID)
// makes "emperor also listed as a moderator/member" structurally
// impossible, since each client id appears at most once.
type rosterEntry struct {
	clientID uint32
	role     Role
}

// ClientResolver resolves a client id to a live *session.Client. Channels
// hold no strong reference to any client; every send goes through this
// resolver at the moment of broadcast.
type ClientResolver interface {
	Find(id uint32) (*session.Client, bool)
}

// Sentinel domain errors, each wrapping one of protocol's error kinds so the
// dispatcher can map them to the right wire response id with errors.Is.
var (
	ErrNotInvited         = fmt.Errorf("%w: not invited", protocol.ErrForbidden)
	ErrFull               = fmt.Errorf("%w: channel full", protocol.ErrCapacity)
	ErrModeratorsFull     = fmt.Errorf("%w: moderator slots full", protocol.ErrCapacity)
	ErrNotAuthority       = fmt.Errorf("%w: actor is not an authority", protocol.ErrForbidden)
	ErrNotEmperor         = fmt.Errorf("%w: actor is not the emperor", protocol.ErrForbidden)
	ErrNotModerator       = fmt.Errorf("%w: target is not a moderator", protocol.ErrForbidden)
	ErrNotMember          = fmt.Errorf("%w: target is not a member", protocol.ErrNotFound)
	ErrUnknownTarget      = fmt.Errorf("%w: target client unknown", protocol.ErrNotFound)
	ErrTargetNotInChannel = fmt.Errorf("%w: target not in channel", protocol.ErrNotFound)
	ErrInvalidName        = fmt.Errorf("%w: invalid channel name", protocol.ErrProtocol)
)

// LeaveResult reports whether a leave/kick destroyed the channel or the
// channel survived (possibly with a new emperor).
type LeaveResult int

const (
	Survived LeaveResult = iota
	Destroyed
)

// Channel is one chat room. The channel registry holds the sole strong
// reference; everything else refers to a channel only by id.
type Channel struct {
	ID uint32

	mu      sync.Mutex // guards everything below except the broadcast queue
	name    string
	secret  bool
	roster  []rosterEntry
	invited map[uint32]struct{}
	pinned  string

	queueMu  sync.Mutex
	queue    []queuedFrame
	draining atomic.Bool

	resolver ClientResolver
	pool     *workerpool.Pool
}

// New creates a channel owned by creator, who becomes its emperor and sole
// initial member.
func New(id uint32, name string, creator uint32, resolver ClientResolver, pool *workerpool.Pool) *Channel {
	return &Channel{
		ID:       id,
		name:     name,
		roster:   []rosterEntry{{clientID: creator, role: RoleEmperor}},
		invited:  make(map[uint32]struct{}),
		resolver: resolver,
		pool:     pool,
	}
}

// Info returns the channel's current info snapshot, for the CH_CONNECT
// response payload.
func (c *Channel) Info() protocol.ChannelInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return protocol.ChannelInfo{ID: c.ID, Secret: c.secret, Name: c.name}
}

func (c *Channel) indexOf(clientID uint32) int {
	for i, e := range c.roster {
		if e.clientID == clientID {
			return i
		}
	}
	return -1
}

func (c *Channel) emperor() (uint32, bool) {
	for _, e := range c.roster {
		if e.role == RoleEmperor {
			return e.clientID, true
		}
	}
	return 0, false
}

// moderatorIndices returns roster indices with RoleModerator, in roster
// (insertion) order, which is seniority order: oldest moderator first.
func (c *Channel) moderatorIndices() []int {
	var idx []int
	for i, e := range c.roster {
		if e.role == RoleModerator {
			idx = append(idx, i)
		}
	}
	return idx
}

func (c *Channel) moderatorCount() int {
	n := 0
	for _, e := range c.roster {
		if e.role == RoleModerator {
			n++
		}
	}
	return n
}

// IsAuthority reports whether clientID is the emperor or a moderator.
func (c *Channel) IsAuthority(clientID uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexOf(clientID)
	return i >= 0 && c.roster[i].role != RoleMember
}

// IsMember reports whether clientID is present in the roster at all
// (emperor, moderator, or plain member).
func (c *Channel) IsMember(clientID uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.indexOf(clientID) >= 0
}

// Members returns a snapshot of every roster client id (emperor,
// moderators, and plain members). Broadcasts take the same snapshot under
// the lock via membersLocked, so they reach every current member, including
// the sender.
func (c *Channel) Members() []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.membersLocked()
}

func (c *Channel) membersLocked() []uint32 {
	ids := make([]uint32, len(c.roster))
	for i, e := range c.roster {
		ids[i] = e.clientID
	}
	return ids
}

// Enter admits actor to the channel: no-ops if actor is already a member,
// checks invitation when secret, checks capacity, appends as a plain
// member, and consumes a matching invitation.
func (c *Channel) Enter(actor uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.indexOf(actor) >= 0 {
		return nil
	}

	if c.secret {
		if _, invited := c.invited[actor]; !invited {
			return ErrNotInvited
		}
	}
	if len(c.roster) >= MaxMembers {
		return ErrFull
	}

	c.roster = append(c.roster, rosterEntry{clientID: actor, role: RoleMember})
	delete(c.invited, actor)
	return nil
}

// Leave removes actor from the roster. If actor is the emperor, it either
// promotes the oldest moderator (Survived) or destroys the channel
// (Destroyed). Moderators and plain members are simply removed.
//
// When the channel is destroyed, Leave returns the snapshot of every member
// that was present at the moment of destruction, so the caller can purge
// the channel id from each of their joined-channel sets and then drop the
// channel from the registry. Leave itself never calls the registry: no
// channel lock is held across that call (see DESIGN.md's Open Question
// decision on this split).
func (c *Channel) Leave(actor uint32) (LeaveResult, []uint32, error) {
	c.mu.Lock()

	i := c.indexOf(actor)
	if i < 0 {
		c.mu.Unlock()
		return Survived, nil, ErrTargetNotInChannel
	}

	role := c.roster[i].role
	if role != RoleEmperor {
		c.roster = append(c.roster[:i], c.roster[i+1:]...)
		c.mu.Unlock()
		return Survived, nil, nil
	}

	modIdx := c.moderatorIndices()
	if len(modIdx) == 0 {
		members := c.membersLocked()
		c.roster = nil
		c.mu.Unlock()

		c.enqueueBroadcast(protocol.ChDestroy, protocol.EncodeChDestroyBroadcast(protocol.ChDestroyBroadcast{
			ChannelID: c.ID,
			Reason:    "emperor left, no successor",
		}), members)
		return Destroyed, members, nil
	}

	// Oldest moderator (first in insertion order) succeeds.
	newEmperorIdx := modIdx[0]
	newEmperor := c.roster[newEmperorIdx].clientID
	c.roster[newEmperorIdx].role = RoleEmperor
	c.roster = append(c.roster[:i], c.roster[i+1:]...)
	recipients := c.membersLocked()
	c.mu.Unlock()

	c.broadcastCommand(protocol.CmdPromoteEmperor, u32Bytes(newEmperor), recipients)
	return Survived, nil, nil
}

// Kick removes target from the channel on behalf of actor, who must be an
// authority. An emperor may kick anyone; a moderator may not kick another
// authority.
func (c *Channel) Kick(actor, target uint32) (LeaveResult, []uint32, error) {
	c.mu.Lock()
	actorIdx := c.indexOf(actor)
	if actorIdx < 0 || c.roster[actorIdx].role == RoleMember {
		c.mu.Unlock()
		return Survived, nil, ErrNotAuthority
	}
	targetIdx := c.indexOf(target)
	if targetIdx < 0 {
		c.mu.Unlock()
		return Survived, nil, ErrTargetNotInChannel
	}
	actorIsEmperor := c.roster[actorIdx].role == RoleEmperor
	targetIsAuthority := c.roster[targetIdx].role != RoleMember
	c.mu.Unlock()

	if targetIsAuthority && !actorIsEmperor {
		return Survived, nil, ErrNotAuthority
	}
	return c.Leave(target)
}

// Invite appends target to the pending-invitation set. If the channel is
// secret, actor must be an authority. target must exist in the client
// registry, checked via the resolver since Channel itself only tracks ids.
func (c *Channel) Invite(actor, target uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.secret {
		i := c.indexOf(actor)
		if i < 0 || c.roster[i].role == RoleMember {
			return ErrNotAuthority
		}
	}
	if _, ok := c.resolver.Find(target); !ok {
		return ErrUnknownTarget
	}
	c.invited[target] = struct{}{}
	return nil
}

// PromoteMember moves target from plain member to moderator. Requires actor
// to be the emperor and the moderator list to have room.
func (c *Channel) PromoteMember(actor, target uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	emperor, ok := c.emperor()
	if !ok || emperor != actor {
		return ErrNotEmperor
	}
	if c.moderatorCount() >= MaxModerators {
		return ErrModeratorsFull
	}
	i := c.indexOf(target)
	if i < 0 || c.roster[i].role != RoleMember {
		return ErrNotMember
	}
	c.roster[i].role = RoleModerator
	return nil
}

// PromoteModerator swaps target (a moderator) into the emperor seat; the
// previous emperor becomes a moderator, appended at the end of the
// moderator list (most junior), per the pinned Open Question (iv) decision
// in DESIGN.md.
func (c *Channel) PromoteModerator(actor, target uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	emperor, ok := c.emperor()
	if !ok || emperor != actor {
		return ErrNotEmperor
	}
	i := c.indexOf(target)
	if i < 0 || c.roster[i].role != RoleModerator {
		return ErrNotModerator
	}
	j := c.indexOf(actor)
	c.roster[i].role = RoleEmperor
	c.roster[j].role = RoleModerator

	// Move the demoted emperor to the end of the moderator list to fix
	// insertion-order seniority.
	demoted := c.roster[j]
	c.roster = append(c.roster[:j], c.roster[j+1:]...)
	c.roster = append(c.roster, demoted)
	return nil
}

// ChangePrivacy toggles the secret flag. Requires actor to be the emperor.
func (c *Channel) ChangePrivacy(actor uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	emperor, ok := c.emperor()
	if !ok || emperor != actor {
		return ErrNotEmperor
	}
	c.secret = !c.secret
	return nil
}

// PinMessage replaces the pinned message and broadcasts it. Requires actor
// to be an authority.
func (c *Channel) PinMessage(actor uint32, text string) error {
	c.mu.Lock()
	i := c.indexOf(actor)
	if i < 0 || c.roster[i].role == RoleMember {
		c.mu.Unlock()
		return ErrNotAuthority
	}
	c.pinned = text
	recipients := c.membersLocked()
	c.mu.Unlock()

	c.broadcastCommand(protocol.CmdPin, []byte(text), recipients)
	return nil
}

// Rename changes the channel's display name. Requires actor to be the
// emperor and 6 <= len(newName) <= 24.
func (c *Channel) Rename(actor uint32, newName string) error {
	c.mu.Lock()
	emperor, ok := c.emperor()
	if !ok || emperor != actor {
		c.mu.Unlock()
		return ErrNotEmperor
	}
	if len(newName) < 6 || len(newName) > 24 {
		c.mu.Unlock()
		return ErrInvalidName
	}
	c.name = newName
	recipients := c.membersLocked()
	c.mu.Unlock()

	c.broadcastCommand(protocol.CmdRename, []byte(newName), recipients)
	return nil
}

// SendMessage enqueues a CH_MESSAGE broadcast. Membership is enforced by
// the dispatcher before this is called.
func (c *Channel) SendMessage(sender uint32, text string) {
	c.mu.Lock()
	recipients := c.membersLocked()
	c.mu.Unlock()

	payload := protocol.EncodeChMessageBroadcast(protocol.ChMessageBroadcast{
		ChannelID: c.ID,
		SenderID:  sender,
		Text:      text,
	})
	c.enqueueBroadcast(protocol.ChMessage, payload, recipients)
}

// broadcastCommand builds a CH_COMMAND frame and enqueues it to the given
// recipient snapshot, captured by the caller under the channel lock.
func (c *Channel) broadcastCommand(cmd protocol.Command, arg []byte, recipients []uint32) {
	payload := protocol.EncodeChCommandRequest(protocol.ChCommandRequest{
		Cmd:       cmd,
		ChannelID: c.ID,
		Arg:       arg,
	})
	c.enqueueBroadcast(protocol.ChCommand, payload, recipients)
}

func u32Bytes(v uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	return buf
}
