package source

import (
	"github.com/gotd/td/tg"
	"nuclight.org/relay-tg-bot/app/media"
	e "nuclight.org/relay-tg-bot/pkg/entities"
)

// message is a channel message reduced to what the relay needs.
type message struct {
	post      e.Post
	groupedID int64
}

// normalize turns a raw channel message into a post. Service messages,
// messages outside channels, messages without an id and our own outgoing
// messages are skipped.
// Attachments that cannot be relayed are left out, the text is kept.
func normalize(raw tg.MessageClass) (message, bool) {
	msg, ok := raw.(*tg.Message)
	if !ok || msg.Out || msg.ID <= 0 {
		return message{}, false
	}

	peer, ok := msg.PeerID.(*tg.PeerChannel)
	if !ok || peer.ChannelID == 0 {
		return message{}, false
	}

	post := e.Post{
		ID:        int64(msg.ID),
		ChannelID: peer.ChannelID,
		Text:      msg.Message,
	}

	if d, ok := describeMedia(msg.Media); ok {
		if item, ok := media.Item(d); ok {
			post.Media = []e.MediaItem{item}
		}
	}

	groupedID, _ := msg.GetGroupedID()

	return message{post: post, groupedID: groupedID}, true
}

func describeMedia(m tg.MessageMediaClass) (e.MediaDescriptor, bool) {
	switch m := m.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := m.Photo.(*tg.Photo)
		if !ok {
			return nil, false
		}

		thumb, ok := largestPhotoSize(photo.Sizes)
		if !ok {
			return nil, false
		}

		return e.PhotoDescriptor{
			Ref: &tg.InputPhotoFileLocation{
				ID:            photo.ID,
				AccessHash:    photo.AccessHash,
				FileReference: photo.FileReference,
				ThumbSize:     thumb,
			},
		}, true

	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return nil, false
		}

		d := e.DocumentDescriptor{
			Ref: &tg.InputDocumentFileLocation{
				ID:            doc.ID,
				AccessHash:    doc.AccessHash,
				FileReference: doc.FileReference,
			},
			MimeType: doc.MimeType,
		}

		for _, attr := range doc.Attributes {
			switch a := attr.(type) {
			case *tg.DocumentAttributeVideo:
				d.Attributes = append(d.Attributes, e.DocumentAttributeVideo)
			case *tg.DocumentAttributeAnimated:
				d.Attributes = append(d.Attributes, e.DocumentAttributeAnimated)
			case *tg.DocumentAttributeAudio:
				d.Attributes = append(d.Attributes, e.DocumentAttributeAudio)
			case *tg.DocumentAttributeSticker:
				d.Attributes = append(d.Attributes, e.DocumentAttributeSticker)
			case *tg.DocumentAttributeFilename:
				d.Attributes = append(d.Attributes, e.DocumentAttributeFilename)
				d.FileName = a.FileName
			}
		}

		return d, true
	}

	return nil, false
}

// largestPhotoSize picks the size type with the most pixels.
func largestPhotoSize(sizes []tg.PhotoSizeClass) (string, bool) {
	var (
		best  string
		area  int
		found bool
	)

	for _, size := range sizes {
		var typ string
		var w, h int

		switch s := size.(type) {
		case *tg.PhotoSize:
			typ, w, h = s.Type, s.W, s.H
		case *tg.PhotoSizeProgressive:
			typ, w, h = s.Type, s.W, s.H
		case *tg.PhotoCachedSize:
			typ, w, h = s.Type, s.W, s.H
		default:
			continue
		}

		if !found || w*h > area {
			best, area, found = typ, w*h, true
		}
	}

	return best, found
}
