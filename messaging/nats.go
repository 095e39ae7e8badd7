package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/cppla/bookswap/models"
	"github.com/cppla/bookswap/services"
)

const (
	// TagSearchSubject answers tag prefix lookups.
	TagSearchSubject = "tags.search"

	requestGetTags = "GET_TAGS"
	replyGotTags   = "GOT_WEBSOCKET_TAGS"
	tagSearchLimit = 50
	searchTimeout  = 3 * time.Second
)

// TagSearcher looks tags up by case-insensitive prefix.
type TagSearcher interface {
	SearchTags(ctx context.Context, prefix string, limit int) ([]models.Tag, error)
}

// Bus publishes listing events and serves tag search over NATS.
type Bus struct {
	conn   *nats.Conn
	logger *zap.Logger
}

// Connect dials url. The connection keeps reconnecting in the background.
func Connect(url string, logger *zap.Logger) (*Bus, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := nats.Connect(url,
		nats.Name("bookswap"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	logger.Info("NATS connected successfully", zap.String("url", conn.ConnectedUrl()))
	return &Bus{conn: conn, logger: logger}, nil
}

// PublishListingEvent sends event on its kind's subject, e.g. listing.created.
func (b *Bus) PublishListingEvent(_ context.Context, event services.ListingEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.conn.Publish(string(event.Kind), payload)
}

// ServeTagSearch answers requests on TagSearchSubject until the subscription is drained.
func (b *Bus) ServeTagSearch(searcher TagSearcher) (*nats.Subscription, error) {
	return b.conn.Subscribe(TagSearchSubject, func(msg *nats.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), searchTimeout)
		defer cancel()
		reply := HandleTagSearch(ctx, searcher, msg.Data)
		if err := msg.Respond(reply); err != nil {
			b.logger.Warn("tag search reply failed", zap.Error(err))
		}
	})
}

// Close drains subscriptions and closes the connection.
func (b *Bus) Close() {
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
}

// TagSearchRequest is the message a client sends to TagSearchSubject.
type TagSearchRequest struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// TagSearchReply is the answer, with Data on success and Error otherwise.
// Type echoes the request type unless the request was a tag search.
type TagSearchReply struct {
	Type   string       `json:"type"`
	Status string       `json:"status"`
	Data   []models.Tag `json:"data"`
	Error  string       `json:"error,omitempty"`
}

// HandleTagSearch decodes one request and encodes its reply. It never fails: errors are part of the reply.
func HandleTagSearch(ctx context.Context, searcher TagSearcher, data []byte) []byte {
	var req TagSearchRequest
	reply := TagSearchReply{Status: "error"}
	switch err := json.Unmarshal(data, &req); {
	case err != nil:
		reply.Error = "malformed request"
	case req.Type != requestGetTags:
		reply.Type = req.Type
		reply.Error = "unrecognized request type"
	default:
		reply.Type = replyGotTags
		tags, err := searcher.SearchTags(ctx, req.Text, tagSearchLimit)
		if err != nil {
			reply.Error = "database error"
			break
		}
		if tags == nil {
			tags = []models.Tag{}
		}
		reply.Status = "success"
		reply.Data = tags
	}
	out, _ := json.Marshal(reply)
	return out
}
