package entity

// UserProfile is the subset of the user document the chat layer reads to
// label senders and participants.
type UserProfile struct {
	ID        string `json:"id" firestore:"id"`
	Username  string `json:"username" firestore:"username"`
	FullName  string `json:"full_name,omitempty" firestore:"fullName,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty" firestore:"avatarURL,omitempty"`
	PhotoURL  string `json:"photo_url,omitempty" firestore:"photoURL,omitempty"`
}

// DisplayName prefers the full name, then the username, then the id.
func (u *UserProfile) DisplayName() string {
	switch {
	case u == nil:
		return ""
	case u.FullName != "":
		return u.FullName
	case u.Username != "":
		return u.Username
	}
	return u.ID
}

func (u *UserProfile) Avatar() string {
	if u == nil {
		return ""
	}
	if u.AvatarURL != "" {
		return u.AvatarURL
	}
	return u.PhotoURL
}
