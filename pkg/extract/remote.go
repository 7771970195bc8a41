package extract

import (
	"context"
	"iter"

	"github.com/harrisonrobin/chronos/pkg/model"
	"github.com/harrisonrobin/chronos/pkg/remote"
)

// RemoteAdapter posts raw input to a model service and reads its JSON answer
// the way JSONAdapter does.
type RemoteAdapter struct {
	client      *remote.Client
	contentType string
	decode      *JSONAdapter
}

func NewRemoteAdapter(c Clock, client *remote.Client, contentType string, source model.Source) *RemoteAdapter {
	return &RemoteAdapter{
		client:      client,
		contentType: contentType,
		decode:      NewJSONAdapter(c, source),
	}
}

func (a *RemoteAdapter) Extract(ctx context.Context, raw []byte) iter.Seq2[model.Draft, error] {
	body, err := a.client.Post(ctx, a.contentType, raw)
	if err != nil {
		return failed(err)
	}
	return a.decode.Extract(ctx, body)
}
