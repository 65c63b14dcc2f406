package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	URL      string // redis:// or rediss:// URL, credentials and db included
	Password string // overrides the URL password when set
	DB       int    // overrides the URL db when non-zero
	Key      string // key holding the current access token
	Channel  string // pub/sub channel refreshed tokens are published on
}

// RedisSource reads the broker token stored by the login flow and keeps a
// cached copy current from pub/sub.
type RedisSource struct {
	client  *redis.Client
	key     string
	channel string
	logger  *slog.Logger

	mu     sync.RWMutex
	cached string

	sub       *redis.PubSub
	done      chan struct{}
	closeOnce sync.Once
}

// ClientOptions builds go-redis options from cfg.URL. A rediss:// URL keeps
// its TLS config.
func ClientOptions(cfg RedisConfig) (*redis.Options, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	return opts, nil
}

// NewRedisClient connects and verifies the connection with a ping.
func NewRedisClient(cfg RedisConfig) (*redis.Client, error) {
	opts, err := ClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return rdb, nil
}

// constructor for RedisSource
func NewRedisSource(client *redis.Client, cfg RedisConfig, logger *slog.Logger) *RedisSource {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Key == "" {
		cfg.Key = "oauth_access_token"
	}
	if cfg.Channel == "" {
		cfg.Channel = cfg.Key
	}
	return &RedisSource{
		client:  client,
		key:     cfg.Key,
		channel: cfg.Channel,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Token returns the cached token, falling back to the key when nothing is
// cached or the cached JWT has expired.
func (s *RedisSource) Token(ctx context.Context) (string, error) {
	s.mu.RLock()
	tok := s.cached
	s.mu.RUnlock()

	if tok != "" && checkExpiry(tok, time.Now()) == nil {
		return tok, nil
	}

	tok, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) || (err == nil && tok == "") {
		return "", ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("read token key %s: %w", s.key, err)
	}

	if err := checkExpiry(tok, time.Now()); err != nil {
		s.logger.Warn("token_expired", "key", s.key, "error", err.Error())
	}
	s.store(tok)
	return tok, nil
}

func (s *RedisSource) store(tok string) {
	s.mu.Lock()
	s.cached = tok
	s.mu.Unlock()
}

// Start subscribes to the refresh channel. Published tokens replace the cached
// one until ctx is cancelled or Close is called.
func (s *RedisSource) Start(ctx context.Context) error {
	s.sub = s.client.Subscribe(ctx, s.channel)
	if _, err := s.sub.Receive(ctx); err != nil {
		_ = s.sub.Close()
		return fmt.Errorf("subscribe %s: %w", s.channel, err)
	}

	go s.listen(ctx, s.sub.Channel())
	s.logger.Info("token_subscription_started", "channel", s.channel)
	return nil
}

func (s *RedisSource) listen(ctx context.Context, ch <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if msg.Payload == "" {
				continue
			}
			s.store(msg.Payload)
			s.logger.Info("token_refreshed", "channel", s.channel)
		}
	}
}

// Close stops the listener and the subscription. Safe to call more than once.
func (s *RedisSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.sub != nil {
			err = s.sub.Close()
		}
	})
	return err
}
