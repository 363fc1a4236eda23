package core

import (
	"context"
	"errors"
	"sort"
	"strings"
)

// Conversations manages the session's conversation list. It owns the
// conversation slice of the Store.
type Conversations struct {
	s *session
}

// Load fetches the user's conversations, most recently active first. It
// never fails to the caller: errors end up in the store.
func (c *Conversations) Load(ctx context.Context) {
	uid := c.s.userID()
	if uid == "" {
		c.s.store.SetError(errNotAuthenticated)
		return
	}
	c.s.store.SetLoading(true)
	defer c.s.store.SetLoading(false)

	convs, err := c.s.DB.ListConversations(ctx, uid)
	if err != nil {
		c.s.fail("Failed to load conversations", err)
		return
	}
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].activityAt().After(convs[j].activityAt())
	})
	c.s.store.SetConversations(convs)
	c.s.store.SetError("")
}

// CanMessage reports whether the current user may message otherUserID. A
// block edge in either direction forbids it.
func (c *Conversations) CanMessage(ctx context.Context, otherUserID string) bool {
	uid := c.s.userID()
	if uid == "" || otherUserID == "" || otherUserID == uid {
		return false
	}
	blocked, err := c.blocked(ctx, uid, otherUserID)
	if err != nil {
		c.s.log.Error("Could not check block state", "other_user_id", otherUserID, "error", err.Error())
		return false
	}
	return !blocked
}

func (c *Conversations) blocked(ctx context.Context, a, b string) (bool, error) {
	ab, err := c.s.DB.EdgeExists(ctx, EdgeBlock, a, b)
	if err != nil || ab {
		return ab, err
	}
	return c.s.DB.EdgeExists(ctx, EdgeBlock, b, a)
}

// GetOrCreateDirect returns the id of the direct conversation between the
// current user and otherUserID, creating it if needed. The remote procedure
// is atomic, so concurrent calls from both users agree on one id.
func (c *Conversations) GetOrCreateDirect(ctx context.Context, otherUserID string) (string, bool) {
	uid := c.s.userID()
	if uid == "" {
		c.s.store.SetError(errNotAuthenticated)
		return "", false
	}
	otherUserID = strings.TrimSpace(otherUserID)
	if otherUserID == "" || otherUserID == uid {
		c.s.store.SetError("Invalid user")
		return "", false
	}
	blocked, err := c.blocked(ctx, uid, otherUserID)
	if err != nil {
		c.s.fail("Failed to start conversation", err, "other_user_id", otherUserID)
		return "", false
	}
	if blocked {
		c.s.store.SetError("You cannot message this user")
		return "", false
	}

	res, err := c.s.DB.GetOrCreateDirectConversation(ctx, uid, otherUserID)
	if err != nil {
		c.s.fail("Failed to start conversation", err, "other_user_id", otherUserID)
		return "", false
	}
	if !res.Success || res.ConversationID == "" {
		c.s.fail("Failed to start conversation", errors.New(res.Error), "other_user_id", otherUserID)
		return "", false
	}
	if res.Created {
		c.s.log.Info("Direct conversation created", "conversation_id", res.ConversationID)
	}
	return res.ConversationID, true
}

type createGroupInput struct {
	Name    string   `validate:"notblank,max=100"`
	Members []string `validate:"min=1,dive,required"`
}

// CreateGroup creates a group conversation owned by the current user with
// the given members and returns its id.
func (c *Conversations) CreateGroup(ctx context.Context, name string, memberIDs []string) (string, bool) {
	uid := c.s.userID()
	if uid == "" {
		c.s.store.SetError(errNotAuthenticated)
		return "", false
	}
	members := make([]string, 0, len(memberIDs))
	seen := map[string]bool{uid: true}
	for _, id := range memberIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		members = append(members, id)
	}
	in := createGroupInput{Name: strings.TrimSpace(name), Members: members}
	if err := c.s.Validator.Check(in); err != nil {
		c.s.store.SetError("Invalid group: " + err.Error())
		return "", false
	}

	conv, err := c.s.DB.CreateGroupConversation(ctx, uid, in.Name, in.Members)
	if err != nil {
		c.s.fail("Failed to create group", err)
		return "", false
	}
	c.Load(ctx)
	return conv.ID, true
}

// Update changes the attributes of a conversation the user participates in.
func (c *Conversations) Update(ctx context.Context, conversationID string, upd ConversationUpdate) bool {
	uid := c.s.userID()
	if uid == "" {
		c.s.store.SetError(errNotAuthenticated)
		return false
	}
	if conversationID == "" {
		c.s.store.SetError("Invalid conversation")
		return false
	}
	if err := c.s.Validator.Check(upd); err != nil {
		c.s.store.SetError("Invalid update: " + err.Error())
		return false
	}
	if err := c.s.DB.UpdateConversation(ctx, conversationID, uid, upd); err != nil {
		c.s.fail("Failed to update conversation", err, "conversation_id", conversationID)
		return false
	}
	c.Load(ctx)
	return true
}

// Archive hides the conversation from the user's list and reloads it.
func (c *Conversations) Archive(ctx context.Context, conversationID string) bool {
	uid := c.s.userID()
	if uid == "" {
		c.s.store.SetError(errNotAuthenticated)
		return false
	}
	if err := c.s.DB.ArchiveConversation(ctx, conversationID, uid); err != nil {
		c.s.fail("Failed to archive conversation", err, "conversation_id", conversationID)
		return false
	}
	c.Load(ctx)
	return true
}

// Leave deactivates the user's membership and reloads the list.
func (c *Conversations) Leave(ctx context.Context, conversationID string) bool {
	uid := c.s.userID()
	if uid == "" {
		c.s.store.SetError(errNotAuthenticated)
		return false
	}
	if err := c.s.DB.LeaveConversation(ctx, conversationID, uid); err != nil {
		c.s.fail("Failed to leave conversation", err, "conversation_id", conversationID)
		return false
	}
	c.Load(ctx)
	return true
}

const errNotAuthenticated = "Not authenticated"
