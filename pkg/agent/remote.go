package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/harrisonrobin/chronos/pkg/model"
	"github.com/harrisonrobin/chronos/pkg/remote"
)

type classifyRequest struct {
	Text string `json:"text"`
}

// RemoteClassifier asks a model service to classify the command. The service
// answers with a Classification object, optionally inside a markdown fence.
type RemoteClassifier struct {
	client *remote.Client
}

func NewRemoteClassifier(client *remote.Client) *RemoteClassifier {
	return &RemoteClassifier{client: client}
}

func (r *RemoteClassifier) Classify(ctx context.Context, text string) (Classification, error) {
	body, err := json.Marshal(classifyRequest{Text: text})
	if err != nil {
		return Classification{}, fmt.Errorf("failed to encode command: %w", err)
	}
	resp, err := r.client.Post(ctx, "application/json", body)
	if err != nil {
		return Classification{}, err
	}

	var c Classification
	decoder := json.NewDecoder(bytes.NewReader(unfence(resp)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&c); err != nil {
		return Classification{}, fmt.Errorf("%w: decode classification: %v", model.ErrInvalidInput, err)
	}
	switch c.Kind {
	case model.IntentCreate, model.IntentUpdate, model.IntentDelete, model.IntentQuery:
	default:
		return Classification{}, fmt.Errorf("%w: unknown intent kind %q", model.ErrInvalidInput, c.Kind)
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return Classification{}, fmt.Errorf("%w: confidence %v out of range", model.ErrInvalidInput, c.Confidence)
	}
	return c, nil
}

func unfence(b []byte) []byte {
	s := strings.TrimSpace(string(b))
	if !strings.HasPrefix(s, "```") {
		return []byte(s)
	}
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return []byte(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
