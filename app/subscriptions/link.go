package subscriptions

import (
	"fmt"
	"regexp"
	"strings"

	e "nuclight.org/relay-tg-bot/pkg/entities"
)

// Link is a parsed channel reference. Exactly one of Username and InviteHash
// is set.
type Link struct {
	Username   string
	InviteHash string
}

// String returns the canonical form used as the stored channel link.
func (l Link) String() string {
	if l.InviteHash != "" {
		return "https://t.me/+" + l.InviteHash
	}
	return "@" + l.Username
}

var (
	linkPattern     = regexp.MustCompile(`(?i)@[a-z0-9_]+|(?:https?://)?(?:t|telegram)\.me/(?:joinchat/|\+)?[a-z0-9_-]+`)
	usernamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{3,31}$`)
	invitePattern   = regexp.MustCompile(`^[A-Za-z0-9_-]{8,}$`)
)

// ExtractLinks finds every channel reference in text. Fragments looking like
// links but not valid as such are returned in invalid.
func ExtractLinks(text string) (links []Link, invalid []string) {
	seen := make(map[string]bool)

	for _, raw := range linkPattern.FindAllString(text, -1) {
		link, err := ParseLink(raw)
		if err != nil {
			invalid = append(invalid, raw)
			continue
		}

		key := link.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		links = append(links, link)
	}

	return links, invalid
}

// ParseLink accepts @name, t.me/name, t.me/joinchat/hash and t.me/+hash, with
// or without a scheme.
func ParseLink(raw string) (Link, error) {
	s := strings.TrimSpace(raw)

	if name, ok := strings.CutPrefix(s, "@"); ok {
		return usernameLink(raw, name)
	}

	lower := strings.ToLower(s)
	for _, scheme := range []string{"https://", "http://"} {
		if strings.HasPrefix(lower, scheme) {
			s, lower = s[len(scheme):], lower[len(scheme):]
		}
	}

	var path string
	for _, host := range []string{"t.me/", "telegram.me/"} {
		if strings.HasPrefix(lower, host) {
			path = s[len(host):]
			break
		}
	}
	if path == "" {
		return Link{}, fmt.Errorf("%w: %q", e.ErrInvalidLink, raw)
	}

	path = strings.TrimSuffix(path, "/")

	if hash, ok := strings.CutPrefix(path, "+"); ok {
		return inviteLink(raw, hash)
	}
	if len(path) > len("joinchat/") && strings.EqualFold(path[:len("joinchat/")], "joinchat/") {
		return inviteLink(raw, path[len("joinchat/"):])
	}

	return usernameLink(raw, path)
}

func usernameLink(raw, name string) (Link, error) {
	if !usernamePattern.MatchString(name) {
		return Link{}, fmt.Errorf("%w: %q", e.ErrInvalidLink, raw)
	}
	return Link{Username: strings.ToLower(name)}, nil
}

func inviteLink(raw, hash string) (Link, error) {
	if !invitePattern.MatchString(hash) {
		return Link{}, fmt.Errorf("%w: %q", e.ErrInvalidLink, raw)
	}
	return Link{InviteHash: hash}, nil
}
