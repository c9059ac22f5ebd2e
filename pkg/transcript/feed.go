package transcript

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// FeedTopic is the topic every appended entry is published on.
const FeedTopic = "transcript"

// Feed publishes appended entries to in-process subscribers. Delivery order
// across messages is not guaranteed; subscribers use the seq metadata (or
// treat a message as a signal and read Store.Since) and must Ack every message.
type Feed struct {
	pubsub *gochannel.GoChannel
}

func NewFeed(logger watermill.LoggerAdapter, buffer int64) *Feed {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	if buffer <= 0 {
		buffer = 64
	}
	return &Feed{
		pubsub: gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: buffer}, logger),
	}
}

// Publish sends e as a JSON message on FeedTopic.
func (f *Feed) Publish(e Entry) error {
	if f == nil || f.pubsub == nil {
		return errors.New("transcript feed: nil feed")
	}
	b, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "transcript feed: marshal entry")
	}
	msg := message.NewMessage(uuid.NewString(), b)
	msg.Metadata.Set("seq", strconv.FormatUint(e.Seq, 10))
	msg.Metadata.Set("origin", string(e.Origin))
	if e.Kind != "" {
		msg.Metadata.Set("kind", string(e.Kind))
	}
	return f.pubsub.Publish(FeedTopic, msg)
}

// Observe is a Store observer that publishes and only logs failures.
func (f *Feed) Observe(e Entry) {
	if err := f.Publish(e); err != nil {
		log.Debug().Err(err).Str("component", "transcript").Uint64("seq", e.Seq).Msg("feed publish failed")
	}
}

func (f *Feed) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	if f == nil || f.pubsub == nil {
		return nil, errors.New("transcript feed: nil feed")
	}
	return f.pubsub.Subscribe(ctx, FeedTopic)
}

func (f *Feed) Close() error {
	if f == nil || f.pubsub == nil {
		return nil
	}
	return f.pubsub.Close()
}

// DecodeMessage turns a feed message back into an Entry.
func DecodeMessage(msg *message.Message) (Entry, error) {
	var e Entry
	if msg == nil {
		return e, errors.New("transcript feed: nil message")
	}
	if err := json.Unmarshal(msg.Payload, &e); err != nil {
		return e, errors.Wrap(err, "transcript feed: decode entry")
	}
	return e, nil
}
