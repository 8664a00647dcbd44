package natspub

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"github.com/spooky-finn/go-marketstream-sync/helpers"
	"github.com/spooky-finn/go-marketstream-sync/stream"
)

var logger = logrus.WithField("component", "nats")

const (
	Header_Sequence = "Marketstream-Seq"
	Header_Kind     = "Marketstream-Kind"
)

type Options struct {
	URL           string
	SubjectPrefix string
	ClientName    string
	Timeout       time.Duration
	ReconnectWait time.Duration
	MaxReconnects int
}

// Publisher forwards session events to NATS core subjects.
type Publisher struct {
	conn   *nats.Conn
	prefix string
	seq    atomic.Int64
}

func NewPublisher(opts Options) (*Publisher, error) {
	if opts.ClientName == "" {
		opts.ClientName = "marketstream-sync"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.ReconnectWait == 0 {
		opts.ReconnectWait = 2 * time.Second
	}
	if opts.MaxReconnects == 0 {
		opts.MaxReconnects = -1
	}

	conn, err := nats.Connect(opts.URL,
		nats.Name(opts.ClientName),
		nats.Timeout(opts.Timeout),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.RetryOnFailedConnect(true),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("connection closed")
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warnf("disconnected, attempting reconnect: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infof("reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connection failed: %w", err)
	}

	logger.Infof("publishing events to %s under %q", opts.URL, opts.SubjectPrefix)
	return &Publisher{conn: conn, prefix: opts.SubjectPrefix}, nil
}

// SubjectFor maps an event onto "<prefix>.<kind>[.<orderbook_id>]". Dots and
// wildcards inside the orderbook id are replaced so the id stays one token.
func SubjectFor(prefix string, event stream.Event) string {
	parts := make([]string, 0, 3)
	if prefix != "" {
		parts = append(parts, prefix)
	}
	parts = append(parts, string(event.Kind))
	if event.OrderbookID != "" {
		parts = append(parts, subjectToken(event.OrderbookID))
	}
	return strings.Join(parts, ".")
}

func subjectToken(s string) string {
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(s)
}

// BuildMessage encodes the event as a JSON payload with kind and sequence headers.
func BuildMessage(prefix string, seq int64, event stream.Event) (*nats.Msg, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event %s: %w", event.Kind, err)
	}

	msg := nats.NewMsg(SubjectFor(prefix, event))
	msg.Data = data
	msg.Header.Set(Header_Kind, string(event.Kind))
	msg.Header.Set(Header_Sequence, helpers.IntToString(seq))
	return msg, nil
}

func (p *Publisher) Publish(event stream.Event) error {
	msg, err := BuildMessage(p.prefix, p.seq.Add(1), event)
	if err != nil {
		return err
	}

	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", msg.Subject, err)
	}
	return nil
}

func (p *Publisher) IsConnected() bool {
	return p.conn != nil && p.conn.IsConnected()
}

// Close flushes pending messages and closes the connection.
func (p *Publisher) Close() {
	if p.conn == nil || p.conn.IsClosed() {
		return
	}
	if err := p.conn.FlushTimeout(2 * time.Second); err != nil {
		logger.Warnf("flush before close failed: %v", err)
	}
	p.conn.Close()
}
