package feed

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/oddsworks/linesignal/pkg/odds"
)

// Config holds feed connection parameters.
type Config struct {
	URL string

	ReconnectMinDelay time.Duration
	ReconnectMaxDelay time.Duration
	// MaxReconnectAttempts bounds consecutive failures; 0 means unlimited.
	MaxReconnectAttempts int

	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// OnReconnect is invoked before each reconnect attempt.
	OnReconnect func()
}

// DefaultFeedConfig returns sensible connection defaults for url.
func DefaultFeedConfig(url string) Config {
	return Config{
		URL:               url,
		ReconnectMinDelay: time.Second,
		ReconnectMaxDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// QuoteHandler receives each normalized quote.
type QuoteHandler func(q odds.Quote)

// Subscriber maintains the feed connection, resubscribing its market keys
// after every reconnect.
type Subscriber struct {
	cfg        Config
	normalizer *Normalizer
	handler    QuoteHandler
	log        zerolog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	markets []string
}

// NewSubscriber creates a subscriber delivering parsed quotes to handler.
func NewSubscriber(cfg Config, normalizer *Normalizer, handler QuoteHandler, log zerolog.Logger) *Subscriber {
	if normalizer == nil {
		normalizer = &Normalizer{}
	}
	return &Subscriber{
		cfg:        cfg,
		normalizer: normalizer,
		handler:    handler,
		log:        log,
	}
}

// Subscribe registers market keys to request on connect and on every
// reconnect.
func (s *Subscriber) Subscribe(marketKeys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markets = append(s.markets, marketKeys...)
}

type subscribeMsg struct {
	Type    string   `json:"type"`
	Markets []string `json:"markets"`
}

// Run connects and reads until ctx is canceled, reconnecting with
// exponential backoff on failure.
func (s *Subscriber) Run(ctx context.Context) error {
	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		attempts++
		if s.cfg.MaxReconnectAttempts > 0 && attempts > s.cfg.MaxReconnectAttempts {
			s.log.Error().Err(err).Int("attempts", attempts-1).Msg("feed reconnect attempts exhausted")
			return err
		}
		if s.cfg.OnReconnect != nil {
			s.cfg.OnReconnect()
		}

		delay := s.cfg.ReconnectMinDelay * time.Duration(1<<uint(attempts-1))
		if delay > s.cfg.ReconnectMaxDelay || delay <= 0 {
			delay = s.cfg.ReconnectMaxDelay
		}
		s.log.Warn().Err(err).Dur("retry_in", delay).Msg("feed disconnected")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (s *Subscriber) runOnce(ctx context.Context) error {
	dialer := websocket.Dialer{}
	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	s.mu.Lock()
	s.conn = conn
	markets := make([]string, len(s.markets))
	copy(markets, s.markets)
	s.mu.Unlock()

	if len(markets) > 0 {
		if err := s.writeJSON(conn, subscribeMsg{Type: "subscribe", Markets: markets}); err != nil {
			return err
		}
	}
	s.log.Info().Str("url", s.cfg.URL).Int("markets", len(markets)).Msg("feed connected")

	stopPing := make(chan struct{})
	defer close(stopPing)
	if s.cfg.PingInterval > 0 {
		go s.pingLoop(conn, stopPing)
	}

	// Close the connection when ctx ends so the blocking read returns.
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stopPing:
		}
	}()

	for {
		if s.cfg.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		quote, err := s.normalizer.Parse(data, time.Now())
		if err != nil {
			s.log.Debug().Err(err).Msg("unparseable feed message")
			continue
		}
		s.handler(quote)
	}
}

func (s *Subscriber) writeJSON(conn *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if s.cfg.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Subscriber) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}
