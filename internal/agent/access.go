package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/syne-agent/syne/internal/bus"
	"github.com/syne-agent/syne/internal/store"
)

// resolveSender finds or creates the user record for an inbound message and
// decides the effective access level for this turn. The first person ever to
// message on a platform becomes the founding owner; later strangers start as
// pending.
func (c *Conversation) resolveSender(ctx context.Context, msg *bus.InboundMessage) (*store.User, store.AccessLevel, error) {
	user, err := c.db.Users.Get(ctx, msg.Platform, msg.SenderID)
	if errors.Is(err, store.ErrNotFound) {
		user, err = c.registerSender(ctx, msg)
	}
	if err != nil {
		return nil, store.AccessBlocked, err
	}

	access := user.AccessLevel

	// Group provenance caps what anyone can do from inside a group chat,
	// including the owner.
	if msg.IsGroup {
		access = access.Min(store.AccessFamily)
	}
	return user, access, nil
}

func (c *Conversation) registerSender(ctx context.Context, msg *bus.InboundMessage) (*store.User, error) {
	hasOwner, err := c.db.Users.HasOwner(ctx, msg.Platform)
	if err != nil {
		return nil, err
	}

	name := msg.DisplayName
	if name == "" {
		name = msg.SenderName
	}
	if name == "" {
		name = msg.SenderID
	}

	user := &store.User{
		Platform:    msg.Platform,
		PlatformID:  msg.SenderID,
		DisplayName: name,
	}
	if !hasOwner && !msg.IsGroup {
		user.AccessLevel = store.AccessOwner
		user.Founder = true
		slog.Info("founding owner registered", "platform", msg.Platform, "user", name)
	} else {
		user.AccessLevel = store.AccessPending
	}
	if err := c.db.Users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("register sender: %w", err)
	}
	return user, nil
}

// gateAccess decides whether a turn proceeds. Blocked senders are ignored
// silently; pending senders in private chats get one canned notice per
// session and the owner is pinged once.
func (c *Conversation) gateAccess(ctx context.Context, msg *bus.InboundMessage, user *store.User, access store.AccessLevel) (proceed bool) {
	switch user.AccessLevel {
	case store.AccessBlocked:
		return false
	case store.AccessPending:
		if msg.IsGroup {
			// Pending users in groups are simply not answered.
			return false
		}
		c.notifyPending(ctx, msg, user)
		return false
	}
	_ = access
	return true
}

func (c *Conversation) notifyPending(ctx context.Context, msg *bus.InboundMessage, user *store.User) {
	key := msg.Platform + ":" + msg.SenderID
	if _, already := c.pendingNotified.LoadOrStore(key, true); already {
		return
	}

	if err := c.bus.PublishOutbound(bus.OutboundMessage{
		Platform: msg.Platform,
		ChatID:   msg.ChatID,
		Content:  "Hi! I don't know you yet, so I've asked my owner whether we should talk. Hang tight.",
	}); err != nil {
		slog.Warn("pending notice not sent", "error", err)
	}

	// Ping the founding owner on the same platform.
	users, err := c.db.Users.List(ctx, msg.Platform)
	if err != nil {
		slog.Warn("owner lookup failed", "error", err)
		return
	}
	for _, u := range users {
		if u.AccessLevel == store.AccessOwner {
			notice := fmt.Sprintf("New contact request: %s (%s) messaged me on %s. Use manage_user to grant access or block.",
				user.DisplayName, user.PlatformID, msg.Platform)
			if err := c.bus.PublishOutbound(bus.OutboundMessage{
				Platform: msg.Platform,
				ChatID:   u.PlatformID,
				Content:  notice,
			}); err != nil {
				slog.Warn("owner notice not sent", "error", err)
			}
			return
		}
	}
}

// gateGroup decides whether a group message gets a response at all. The
// platform-level group_policy and require_mention keys set the baseline; a
// group record relaxes or tightens it for one chat.
func (c *Conversation) gateGroup(ctx context.Context, msg *bus.InboundMessage, user *store.User) (proceed bool) {
	group, err := c.db.Groups.GetOrCreate(ctx, msg.Platform, msg.ChatID, msg.GroupName)
	if err != nil {
		slog.Error("group lookup failed", "error", err)
		return false
	}
	policy := c.db.Configs.GetString(ctx, msg.Platform+".group_policy", "allowlist")
	mention := c.db.Configs.GetBool(ctx, msg.Platform+".require_mention", true)
	return groupGateDecision(group, user, policy, mention, msg.Mentioned)
}

// groupGateDecision applies the group response rules: under the allowlist
// policy only explicitly enabled groups answer, the mention gate holds when
// both the platform key and the group record require it, and allow_from
// "registered" mutes pending senders.
func groupGateDecision(group *store.Group, user *store.User, policy string, platformMention, mentioned bool) bool {
	if !group.Enabled && policy != "open" {
		return false
	}
	if group.RequireMention && platformMention && !mentioned {
		return false
	}
	if group.AllowFrom == "registered" && user.AccessLevel == store.AccessPending {
		return false
	}
	return true
}
