package entity

import "time"

type RoomStatus string

const (
	RoomStatusActive   RoomStatus = "active"
	RoomStatusArchived RoomStatus = "archived"
	RoomStatusDeleted  RoomStatus = "deleted"
)

func (s RoomStatus) Valid() bool {
	switch s {
	case RoomStatusActive, RoomStatusArchived, RoomStatusDeleted:
		return true
	}
	return false
}

// Room document field names.
const (
	FieldMatchID         = "matchId"
	FieldMatchTitle      = "matchTitle"
	FieldSportType       = "sportType"
	FieldMatchDate       = "matchDate"
	FieldParticipants    = "participants"
	FieldLastMessage     = "lastMessage"
	FieldLastMessageTime = "lastMessageTime"
	FieldLastMessageID   = "lastMessageId"
	FieldUnreadCount     = "unreadCount"
	FieldTyping          = "typing"
	FieldLastSeen        = "lastSeen"
	FieldMutedUsers      = "mutedUsers"
	FieldStatus          = "status"
	FieldCreatedAt       = "createdAt"
	FieldUpdatedAt       = "updatedAt"
)

type Room struct {
	ID              string                `json:"id"`
	MatchID         string                `json:"matchId"`
	MatchTitle      string                `json:"matchTitle"`
	SportType       string                `json:"sportType,omitempty"`
	MatchDate       *time.Time            `json:"matchDate,omitempty"`
	Participants    []string              `json:"participants"`
	LastMessage     string                `json:"lastMessage"`
	LastMessageTime *time.Time            `json:"lastMessageTime,omitempty"`
	LastMessageID   string                `json:"lastMessageId,omitempty"`
	UnreadCount     map[string]int        `json:"unreadCount"`
	Typing          map[string]bool       `json:"typing"`
	LastSeen        map[string]*time.Time `json:"lastSeen"`
	MutedUsers      []string              `json:"mutedUsers"`
	Status          RoomStatus            `json:"status"`
	CreatedAt       time.Time             `json:"createdAt"`
	UpdatedAt       time.Time             `json:"updatedAt"`
}

func (r *Room) HasParticipant(userID string) bool {
	for _, p := range r.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

func (r *Room) IsMutedFor(userID string) bool {
	for _, u := range r.MutedUsers {
		if u == userID {
			return true
		}
	}
	return false
}

// Unread treats a missing entry as zero.
func (r *Room) Unread(userID string) int {
	if r.UnreadCount == nil {
		return 0
	}
	return r.UnreadCount[userID]
}

func (r *Room) IsActive() bool {
	return r.Status == RoomStatusActive
}

// TypingUsers lists participants currently flagged as typing, excluding one user.
func (r *Room) TypingUsers(exclude string) []string {
	var out []string
	for _, p := range r.Participants {
		if p != exclude && r.Typing[p] {
			out = append(out, p)
		}
	}
	return out
}

func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	c := *r
	c.Participants = append([]string(nil), r.Participants...)
	c.MutedUsers = append([]string(nil), r.MutedUsers...)
	c.UnreadCount = make(map[string]int, len(r.UnreadCount))
	for k, v := range r.UnreadCount {
		c.UnreadCount[k] = v
	}
	c.Typing = make(map[string]bool, len(r.Typing))
	for k, v := range r.Typing {
		c.Typing[k] = v
	}
	c.LastSeen = make(map[string]*time.Time, len(r.LastSeen))
	for k, v := range r.LastSeen {
		if v != nil {
			t := *v
			c.LastSeen[k] = &t
		} else {
			c.LastSeen[k] = nil
		}
	}
	if r.MatchDate != nil {
		t := *r.MatchDate
		c.MatchDate = &t
	}
	if r.LastMessageTime != nil {
		t := *r.LastMessageTime
		c.LastMessageTime = &t
	}
	return &c
}

func RoomFromData(id string, data map[string]interface{}) *Room {
	status := RoomStatus(getString(data, FieldStatus))
	if !status.Valid() {
		status = RoomStatusActive
	}
	return &Room{
		ID:              id,
		MatchID:         getString(data, FieldMatchID),
		MatchTitle:      getString(data, FieldMatchTitle),
		SportType:       getString(data, FieldSportType),
		MatchDate:       getTimePtr(data, FieldMatchDate),
		Participants:    getStringSlice(data, FieldParticipants),
		LastMessage:     getString(data, FieldLastMessage),
		LastMessageTime: getTimePtr(data, FieldLastMessageTime),
		LastMessageID:   getString(data, FieldLastMessageID),
		UnreadCount:     getIntMap(data, FieldUnreadCount),
		Typing:          getBoolMap(data, FieldTyping),
		LastSeen:        getTimeMap(data, FieldLastSeen),
		MutedUsers:      getStringSlice(data, FieldMutedUsers),
		Status:          status,
		CreatedAt:       getTime(data, FieldCreatedAt),
		UpdatedAt:       getTime(data, FieldUpdatedAt),
	}
}

// ToData encodes the persisted fields. Timestamps that the store should
// stamp itself (createdAt, updatedAt, lastMessageTime) are left to the caller.
func (r *Room) ToData() map[string]interface{} {
	unread := make(map[string]interface{}, len(r.UnreadCount))
	for k, v := range r.UnreadCount {
		unread[k] = int64(v)
	}
	typing := make(map[string]interface{}, len(r.Typing))
	for k, v := range r.Typing {
		typing[k] = v
	}
	lastSeen := make(map[string]interface{}, len(r.LastSeen))
	for k, v := range r.LastSeen {
		if v != nil {
			lastSeen[k] = *v
		} else {
			lastSeen[k] = nil
		}
	}

	data := map[string]interface{}{
		FieldMatchID:       r.MatchID,
		FieldMatchTitle:    r.MatchTitle,
		FieldSportType:     r.SportType,
		FieldParticipants:  stringsToAny(r.Participants),
		FieldLastMessage:   r.LastMessage,
		FieldLastMessageID: r.LastMessageID,
		FieldUnreadCount:   unread,
		FieldTyping:        typing,
		FieldLastSeen:      lastSeen,
		FieldMutedUsers:    stringsToAny(r.MutedUsers),
		FieldStatus:        string(r.Status),
	}
	if r.MatchDate != nil {
		data[FieldMatchDate] = *r.MatchDate
	}
	return data
}
