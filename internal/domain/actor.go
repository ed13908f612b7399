package domain

import "fmt"

// Actor identifies a contributor: an authenticated user (UserID > 0), an
// externally authenticated contributor carrying an opaque ExternalUID, or
// an anonymous requester tracked by an opaque IP-derived identity. Exactly
// one of the three fields is set.
type Actor struct {
	UserID      int64
	IP          string
	ExternalUID string
}

// Anonymous reports whether the actor has no account at all. External-UID
// contributors are vouched for by the surrounding application and are not
// anonymous.
func (a Actor) Anonymous() bool { return a.UserID == 0 && a.ExternalUID == "" }

// Key returns the namespaced identity used in lock and stamp keys.
func (a Actor) Key() string {
	switch {
	case a.UserID > 0:
		return fmt.Sprintf("user:%d", a.UserID)
	case a.ExternalUID != "":
		return "external:" + a.ExternalUID
	}
	return "ip:" + a.IP
}
