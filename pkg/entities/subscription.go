package entities

import "time"

type User struct {
	ChatID      int64
	DisplayName string
	FirstSeen   time.Time
	LastActive  time.Time
}

type Channel struct {
	ID         int64
	AccessHash int64
	Name       string
	Link       string
	AddedBy    int64
	AddedAt    time.Time
}

// Subscription links a user to a channel. LastPostID is the watermark: the
// highest post id already delivered to the user from the channel.
type Subscription struct {
	UserID     int64
	ChannelID  int64
	LastPostID int64
	AddedAt    time.Time
}

// UserSubscription is a subscription joined with its channel metadata.
type UserSubscription struct {
	Subscription
	ChannelName string
	ChannelLink string
}

// SubscriptionRequest is a record of a subscribe attempt made by a user.
type SubscriptionRequest struct {
	ChatID      int64
	ChannelLink string
	Success     bool
	Error       string
}
