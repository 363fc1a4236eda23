package api

import "github.com/bitethatthing2/no-creyeron-sub000/core"

// userHeader carries the authenticated user id. It is set by the gateway in
// front of the service.
const userHeader = "X-User-ID"

type directRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

type groupRequest struct {
	Name      string   `json:"name" validate:"notblank,max=100"`
	MemberIDs []string `json:"member_ids" validate:"required,min=1,max=50,dive,required"`
}

type conversationResponse struct {
	ConversationID string `json:"conversation_id"`
}

type sendRequest struct {
	Content   string `json:"content" validate:"max=4000"`
	Type      string `json:"type" validate:"omitempty,oneof=text image system"`
	MediaURL  string `json:"media_url" validate:"omitempty,uri"`
	MediaType string `json:"media_type"`
	ReplyToID string `json:"reply_to_id"`
}

type reactionRequest struct {
	Reaction string `json:"reaction" validate:"required"`
}

type editRequest struct {
	Content string `json:"content" validate:"required"`
}

type notificationRequest struct {
	RecipientID string                    `json:"recipient_id" validate:"required"`
	Type        core.NotificationType     `json:"type" validate:"required,oneof=like comment follow message mention system"`
	Title       string                    `json:"title" validate:"required,max=200"`
	Body        string                    `json:"body" validate:"max=1000"`
	EntityType  string                    `json:"entity_type"`
	EntityID    string                    `json:"entity_id"`
	ActionURL   string                    `json:"action_url"`
	Priority    core.NotificationPriority `json:"priority" validate:"omitempty,oneof=low normal high"`
}

type pushTokenRequest struct {
	Token    string `json:"token" validate:"required"`
	Platform string `json:"platform" validate:"required,oneof=web ios android"`
}

type edgeResponse struct {
	Active bool `json:"active"`
	Count  int  `json:"count"`
}

type messagesResponse struct {
	Messages []core.Message `json:"messages"`
}

type notificationsResponse struct {
	Notifications []core.Notification `json:"notifications"`
	Unread        int                 `json:"unread"`
}

type successResponse struct {
	Success bool `json:"success"`
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
