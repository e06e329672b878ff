package entity

import "time"

// RoomPatch enumerates the room fields that may be partially updated.
// Nil pointers and nil maps leave the field untouched; map patches only
// touch the listed keys.
type RoomPatch struct {
	MatchTitle      *string
	Status          *RoomStatus
	LastMessage     *string
	LastMessageTime *time.Time
	LastMessageID   *string
	UpdatedAt       *time.Time

	UnreadCount map[string]int
	// UnreadDelta is added to the current count for each listed user.
	UnreadDelta map[string]int
	Typing      map[string]bool
	LastSeen    map[string]time.Time

	AddParticipants []string
	AddMuted        []string
	RemoveMuted     []string
}

func (p RoomPatch) IsEmpty() bool {
	return p.MatchTitle == nil && p.Status == nil && p.LastMessage == nil &&
		p.LastMessageTime == nil && p.LastMessageID == nil && p.UpdatedAt == nil &&
		len(p.UnreadCount) == 0 && len(p.UnreadDelta) == 0 && len(p.Typing) == 0 &&
		len(p.LastSeen) == 0 && len(p.AddParticipants) == 0 &&
		len(p.AddMuted) == 0 && len(p.RemoveMuted) == 0
}

// Apply returns a patched copy; the receiver room is not modified.
func (p RoomPatch) Apply(r *Room) *Room {
	out := r.Clone()
	if out == nil {
		return nil
	}
	if p.MatchTitle != nil {
		out.MatchTitle = *p.MatchTitle
	}
	if p.Status != nil {
		out.Status = *p.Status
	}
	if p.LastMessage != nil {
		out.LastMessage = *p.LastMessage
	}
	if p.LastMessageTime != nil {
		t := *p.LastMessageTime
		out.LastMessageTime = &t
	}
	if p.LastMessageID != nil {
		out.LastMessageID = *p.LastMessageID
	}
	if p.UpdatedAt != nil {
		out.UpdatedAt = *p.UpdatedAt
	}
	for k, v := range p.UnreadCount {
		out.UnreadCount[k] = v
	}
	for k, v := range p.UnreadDelta {
		out.UnreadCount[k] += v
	}
	for k, v := range p.Typing {
		out.Typing[k] = v
	}
	for k, v := range p.LastSeen {
		t := v
		out.LastSeen[k] = &t
	}
	if len(p.AddParticipants) > 0 {
		out.Participants = UniqueStrings(append(out.Participants, p.AddParticipants...))
	}
	if len(p.AddMuted) > 0 {
		out.MutedUsers = UniqueStrings(append(out.MutedUsers, p.AddMuted...))
	}
	if len(p.RemoveMuted) > 0 {
		remove := make(map[string]struct{}, len(p.RemoveMuted))
		for _, u := range p.RemoveMuted {
			remove[u] = struct{}{}
		}
		kept := out.MutedUsers[:0]
		for _, u := range out.MutedUsers {
			if _, drop := remove[u]; !drop {
				kept = append(kept, u)
			}
		}
		out.MutedUsers = kept
	}
	return out
}
