package credstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
)

const DefaultNamespace = "procureauth"

type Options struct {
	Namespace string
	Codec     Codec
	Logger    logr.Logger
	Now       func() time.Time
}

type store struct {
	backend Backend
	key     string
	codec   Codec
	logger  logr.Logger
	now     func() time.Time
}

var _ Store = (*store)(nil)

// New binds a Backend to a single namespaced session record.
func New(backend Backend, options Options) (Store, error) {
	if backend == nil {
		return nil, errors.New("credstore: backend is required")
	}

	namespace := strings.TrimSpace(options.Namespace)
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if options.Codec == nil {
		options.Codec = JSONCodec{}
	}
	if options.Now == nil {
		options.Now = time.Now
	}
	logger := options.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}

	return &store{
		backend: backend,
		key:     namespace + ":session",
		codec:   options.Codec,
		logger:  logger.WithName("credstore"),
		now:     options.Now,
	}, nil
}

func (s *store) Save(ctx context.Context, record Record) error {
	record.Version = RecordVersion
	if err := validateRecord(record); err != nil {
		return err
	}

	data, err := s.codec.Encode(record)
	if err != nil {
		return fmt.Errorf("credstore: encode session: %w", err)
	}

	var ttl time.Duration
	if record.ExpiresAt != nil {
		if remaining := record.ExpiresAt.Sub(s.now()); remaining > 0 {
			ttl = remaining
		}
	}

	if err := s.backend.Put(ctx, s.key, data, ttl); err != nil {
		return fmt.Errorf("credstore: save session: %w", err)
	}
	return nil
}

func (s *store) Load(ctx context.Context) (*Record, error) {
	data, ok, err := s.backend.Get(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("credstore: load session: %w", err)
	}
	if !ok || len(data) == 0 {
		return nil, nil
	}

	record, err := s.codec.Decode(data)
	if err != nil {
		s.logger.Info("discarding unreadable session record", "key", s.key, "error", err.Error())
		return nil, nil
	}
	return &record, nil
}

func (s *store) Clear(ctx context.Context) error {
	if err := s.backend.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("credstore: clear session: %w", err)
	}
	return nil
}

func (s *store) Close() error {
	return s.backend.Close()
}
