package entities

// Post is a normalized channel message ready for fan-out. Posts are values and
// are never modified after the source builds them.
type Post struct {
	// ID is the message id inside the channel, ids grow with arrival order
	ID int64

	// ChannelID is the MTProto id of the source channel
	ChannelID int64

	// Text is the message text, possibly empty
	Text string

	// Media holds the attachments in their original order, possibly empty
	Media []MediaItem
}

// MediaItem is a classified attachment with a handle the fetch backend understands.
type MediaItem struct {
	Kind MediaKind

	// Ref is opaque outside the package that produced it
	Ref any

	// FileName is the original document name, empty for photos
	FileName string
}

// MediaFile is a fetched attachment ready to be uploaded to a recipient.
type MediaFile struct {
	Kind     MediaKind
	FileName string
	Content  []byte
}
