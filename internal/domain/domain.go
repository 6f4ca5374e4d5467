// Package domain holds the recipient and template model shared by the
// store, the selector, the delivery session and the scheduler.
package domain

import (
	"fmt"
	"strings"
)

type Kind string

const (
	KindIndividual Kind = "individual"
	KindGroup      Kind = "group"
)

// ParseKind accepts the user-facing words for a recipient kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "friend", "individual", "contact":
		return KindIndividual, nil
	case "group", "grp":
		return KindGroup, nil
	default:
		return "", fmt.Errorf("unknown recipient kind %q (want friend or group)", s)
	}
}

// Recipient is a contact or group as stored. Address is the phone number
// for individuals and an optional chat handle for groups.
type Recipient struct {
	ID      int64
	Name    string
	Kind    Kind
	Address string
}

func (r Recipient) String() string {
	return fmt.Sprintf("%s %q", r.Kind, r.Name)
}

// Template is one stored message body. IsImage marks Text as a media URL.
type Template struct {
	ID       int64
	Category string
	Text     string
	IsImage  bool
}
