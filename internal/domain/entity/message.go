package entity

import (
	"strings"
	"time"
)

type MessageStatus string

const (
	MessageStatusSending   MessageStatus = "sending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusError     MessageStatus = "error"
)

// Rank orders the forward transitions. Error sits beside sending.
func (s MessageStatus) Rank() int {
	switch s {
	case MessageStatusSending, MessageStatusError:
		return 0
	case MessageStatusSent:
		return 1
	case MessageStatusDelivered:
		return 2
	case MessageStatusRead:
		return 3
	}
	return -1
}

// CanTransition reports whether moving from s to next keeps status monotonic.
// Error is only reachable while sending; a failed message may go back to sending on resend.
func (s MessageStatus) CanTransition(next MessageStatus) bool {
	switch {
	case next == MessageStatusError:
		return s == MessageStatusSending
	case s == MessageStatusError:
		return next == MessageStatusSending
	}
	return next.Rank() > s.Rank()
}

type AttachmentType string

const (
	AttachmentImage    AttachmentType = "image"
	AttachmentVideo    AttachmentType = "video"
	AttachmentAudio    AttachmentType = "audio"
	AttachmentLocation AttachmentType = "location"
)

type Attachment struct {
	Type      AttachmentType `json:"type" validate:"required,oneof=image video audio location"`
	URL       string         `json:"url,omitempty"`
	MimeType  string         `json:"mimeType,omitempty"`
	Width     int            `json:"width,omitempty"`
	Height    int            `json:"height,omitempty"`
	Duration  float64        `json:"duration,omitempty"`
	Latitude  float64        `json:"latitude,omitempty"`
	Longitude float64        `json:"longitude,omitempty"`
	Address   string         `json:"address,omitempty"`
}

type Sender struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar,omitempty"`
}

type ReplyRef struct {
	MessageID  string `json:"messageId"`
	Text       string `json:"text"`
	SenderName string `json:"senderName,omitempty"`
}

type Message struct {
	ID          string        `json:"id"`
	RoomID      string        `json:"roomId"`
	Text        string        `json:"text"`
	Sender      Sender        `json:"sender"`
	CreatedAt   time.Time     `json:"createdAt"`
	System      bool          `json:"system"`
	Status      MessageStatus `json:"status"`
	ReplyTo     *ReplyRef     `json:"replyTo,omitempty"`
	Attachments []Attachment  `json:"attachments,omitempty"`
}

// Message document field names.
const (
	FieldText        = "text"
	FieldSender      = "sender"
	FieldSystem      = "system"
	FieldReplyTo     = "replyTo"
	FieldAttachments = "attachments"

	// SystemSenderID marks auto-generated room events.
	SystemSenderID = "system"
)

// Preview is the text stored as the room's lastMessage.
func (m *Message) Preview() string {
	if strings.TrimSpace(m.Text) != "" {
		return m.Text
	}
	if len(m.Attachments) == 0 {
		return ""
	}
	switch m.Attachments[0].Type {
	case AttachmentImage:
		return "📷 Photo"
	case AttachmentVideo:
		return "🎥 Video"
	case AttachmentAudio:
		return "🎤 Voice message"
	case AttachmentLocation:
		return "📍 Location"
	}
	return "Attachment"
}

func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.ReplyTo != nil {
		r := *m.ReplyTo
		c.ReplyTo = &r
	}
	c.Attachments = append([]Attachment(nil), m.Attachments...)
	return &c
}

func MessageFromData(roomID, id string, data map[string]interface{}) *Message {
	msg := &Message{
		ID:        id,
		RoomID:    roomID,
		Text:      getString(data, FieldText),
		CreatedAt: getTime(data, FieldCreatedAt),
		System:    getBool(data, FieldSystem),
		Status:    MessageStatus(getString(data, FieldStatus)),
	}
	if msg.Status.Rank() < 0 {
		msg.Status = MessageStatusSent
	}

	if sender := getMap(data, FieldSender); sender != nil {
		msg.Sender = Sender{
			ID:        getString(sender, "id"),
			Name:      getString(sender, "name"),
			AvatarURL: getString(sender, "avatar"),
		}
	}

	if reply := getMap(data, FieldReplyTo); reply != nil {
		msg.ReplyTo = &ReplyRef{
			MessageID:  getString(reply, "messageId"),
			Text:       getString(reply, "text"),
			SenderName: getString(reply, "senderName"),
		}
	}

	if raw, ok := data[FieldAttachments].([]interface{}); ok {
		for _, item := range raw {
			a, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			msg.Attachments = append(msg.Attachments, Attachment{
				Type:      AttachmentType(getString(a, "type")),
				URL:       getString(a, "url"),
				MimeType:  getString(a, "mimeType"),
				Width:     asInt(a["width"]),
				Height:    asInt(a["height"]),
				Duration:  asFloat(a["duration"]),
				Latitude:  asFloat(a["latitude"]),
				Longitude: asFloat(a["longitude"]),
				Address:   getString(a, "address"),
			})
		}
	}
	return msg
}

// ToData encodes the message body. createdAt is stamped by the store.
func (m *Message) ToData() map[string]interface{} {
	data := map[string]interface{}{
		FieldText: m.Text,
		FieldSender: map[string]interface{}{
			"id":     m.Sender.ID,
			"name":   m.Sender.Name,
			"avatar": m.Sender.AvatarURL,
		},
		FieldSystem: m.System,
		FieldStatus: string(m.Status),
	}
	if m.ReplyTo != nil {
		data[FieldReplyTo] = map[string]interface{}{
			"messageId":  m.ReplyTo.MessageID,
			"text":       m.ReplyTo.Text,
			"senderName": m.ReplyTo.SenderName,
		}
	}
	if len(m.Attachments) > 0 {
		list := make([]interface{}, 0, len(m.Attachments))
		for _, a := range m.Attachments {
			item := map[string]interface{}{"type": string(a.Type)}
			if a.URL != "" {
				item["url"] = a.URL
			}
			if a.MimeType != "" {
				item["mimeType"] = a.MimeType
			}
			if a.Width > 0 {
				item["width"] = int64(a.Width)
			}
			if a.Height > 0 {
				item["height"] = int64(a.Height)
			}
			if a.Duration > 0 {
				item["duration"] = a.Duration
			}
			if a.Type == AttachmentLocation {
				item["latitude"] = a.Latitude
				item["longitude"] = a.Longitude
				if a.Address != "" {
					item["address"] = a.Address
				}
			}
			list = append(list, item)
		}
		data[FieldAttachments] = list
	}
	return data
}

// NewerFirst orders messages newest-first, breaking timestamp ties by id.
func NewerFirst(a, b *Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}
