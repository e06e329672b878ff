package entity

import "time"

// Presence fields are merged into the user's document.
const (
	FieldActiveChatRoom = "activeChatRoom"
	FieldLastActive     = "lastActive"
	FieldIsOnline       = "isOnline"
)

type Presence struct {
	UserID         string    `json:"userId"`
	ActiveChatRoom *string   `json:"activeChatRoom"`
	LastActive     time.Time `json:"lastActive"`
	IsOnline       bool      `json:"isOnline"`
}

func PresenceFromData(userID string, data map[string]interface{}) *Presence {
	p := &Presence{
		UserID:     userID,
		LastActive: getTime(data, FieldLastActive),
		IsOnline:   getBool(data, FieldIsOnline),
	}
	if room, ok := data[FieldActiveChatRoom].(string); ok && room != "" {
		p.ActiveChatRoom = &room
	}
	return p
}

func (p *Presence) RoomID() string {
	if p.ActiveChatRoom == nil {
		return ""
	}
	return *p.ActiveChatRoom
}
