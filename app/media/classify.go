package media

import (
	"strings"

	e "nuclight.org/relay-tg-bot/pkg/entities"
)

// Classify maps a media descriptor to the kind of message used to relay it.
// Photos are photos. Documents are videos when they carry a video attribute or
// a video/* mime type, animations when they are animated or image/gif, and
// plain documents otherwise. Anything else, nil included, has no kind.
func Classify(d e.MediaDescriptor) (e.MediaKind, bool) {
	switch d := d.(type) {
	case e.PhotoDescriptor:
		return e.MediaKindPhoto, true
	case *e.PhotoDescriptor:
		if d == nil {
			return "", false
		}
		return e.MediaKindPhoto, true
	case e.DocumentDescriptor:
		return classifyDocument(d), true
	case *e.DocumentDescriptor:
		if d == nil {
			return "", false
		}
		return classifyDocument(*d), true
	default:
		return "", false
	}
}

func classifyDocument(d e.DocumentDescriptor) e.MediaKind {
	mime := strings.ToLower(strings.TrimSpace(d.MimeType))

	if d.Has(e.DocumentAttributeVideo) || strings.HasPrefix(mime, "video/") {
		return e.MediaKindVideo
	}

	if d.Has(e.DocumentAttributeAnimated) || mime == "image/gif" {
		return e.MediaKindAnimation
	}

	return e.MediaKindDocument
}

// Item classifies d and builds the media item for it.
func Item(d e.MediaDescriptor) (e.MediaItem, bool) {
	kind, ok := Classify(d)
	if !ok {
		return e.MediaItem{}, false
	}

	switch d := d.(type) {
	case e.PhotoDescriptor:
		return e.MediaItem{Kind: kind, Ref: d.Ref}, true
	case *e.PhotoDescriptor:
		return e.MediaItem{Kind: kind, Ref: d.Ref}, true
	case e.DocumentDescriptor:
		return e.MediaItem{Kind: kind, Ref: d.Ref, FileName: d.FileName}, true
	case *e.DocumentDescriptor:
		return e.MediaItem{Kind: kind, Ref: d.Ref, FileName: d.FileName}, true
	}

	return e.MediaItem{}, false
}
