package entities

import "context"

// PostHandler receives posts from the inbound source.
type PostHandler interface {
	HandlePost(ctx context.Context, post Post)
}

type PostHandlerFunc func(ctx context.Context, post Post)

func (f PostHandlerFunc) HandlePost(ctx context.Context, post Post) {
	f(ctx, post)
}
