package models

type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	PushToken   string `json:"-"`
}

// Session is the authenticated caller, passed explicitly into services.
type Session struct {
	UserID string
	Email  string
}

func (s Session) Authenticated() bool { return s.UserID != "" }
