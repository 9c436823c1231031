package entities

type MediaKind string

const (
	// MediaKindPhoto is a compressed photo
	MediaKindPhoto MediaKind = "photo"

	// MediaKindVideo is a document carrying a video attribute or a video/* mime type
	MediaKindVideo MediaKind = "video"

	// MediaKindAnimation is a gif or an animated document
	MediaKindAnimation MediaKind = "animation"

	// MediaKindDocument is any other file
	MediaKindDocument MediaKind = "document"
)

// MediaDescriptor is what the source knows about an attachment before it is
// classified. It is either a PhotoDescriptor or a DocumentDescriptor.
type MediaDescriptor interface {
	mediaDescriptor()
}

type PhotoDescriptor struct {
	Ref any
}

type DocumentDescriptor struct {
	Ref        any
	MimeType   string
	FileName   string
	Attributes []DocumentAttribute
}

func (PhotoDescriptor) mediaDescriptor()    {}
func (DocumentDescriptor) mediaDescriptor() {}

type DocumentAttribute string

const (
	DocumentAttributeVideo    DocumentAttribute = "video"
	DocumentAttributeAnimated DocumentAttribute = "animated"
	DocumentAttributeAudio    DocumentAttribute = "audio"
	DocumentAttributeSticker  DocumentAttribute = "sticker"
	DocumentAttributeFilename DocumentAttribute = "filename"
)

func (d DocumentDescriptor) Has(attr DocumentAttribute) bool {
	for _, a := range d.Attributes {
		if a == attr {
			return true
		}
	}
	return false
}
