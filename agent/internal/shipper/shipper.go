package shipper

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/trailwatch/trailwatch/agent/internal/config"
	"github.com/trailwatch/trailwatch/agent/internal/scraper"
	"github.com/trailwatch/trailwatch/pkg/wire"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
)

// Shipper buffers samples and ships them to trailwatch-server via gRPC.
// Ship() is non-blocking; when the buffer is full the oldest sample is evicted.
// Run() must be called in a goroutine to drain the buffer and handle reconnection.
type Shipper struct {
	cfg    config.AgentConfig
	buf    chan scraper.Sample
	dialFn dialFunc // injectable for tests

	// pending is a sample whose send failed with a transient error. It is
	// retried before anything else in buf so readings keep their order.
	// Only touched by the Run goroutine.
	pending *scraper.Sample
}

// dialFunc is the function signature used to open a gRPC connection.
type dialFunc func(ctx context.Context, endpoint string, cfg config.AgentConfig) (*grpc.ClientConn, error)

// New creates a Shipper using the given agent config.
func New(cfg config.AgentConfig) *Shipper {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = config.DefaultSendTimeout
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = config.DefaultBufferSize
	}
	return &Shipper{
		cfg:    cfg,
		buf:    make(chan scraper.Sample, cfg.BufferSize),
		dialFn: defaultDial,
	}
}

// Ship enqueues smp. If the buffer is full the oldest entry is evicted to make room.
func (s *Shipper) Ship(smp scraper.Sample) {
	for {
		select {
		case s.buf <- smp:
			return
		default:
		}
		select {
		case old := <-s.buf:
			slog.Warn("shipper: buffer full, evicted oldest sample",
				"source", old.SourceID, "trail", old.TrailID, "buffer_cap", cap(s.buf))
		default:
		}
	}
}

// Len returns the number of buffered samples.
func (s *Shipper) Len() int {
	return len(s.buf)
}

// Run drains the buffer, sending samples to the server.
// It reconnects with exponential backoff when the connection is lost.
// Run blocks until ctx is cancelled.
func (s *Shipper) Run(ctx context.Context) {
	bo := newBackoff()

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := s.dialFn(ctx, s.cfg.ServerEndpoint, s.cfg)
		if err != nil {
			wait := bo.next()
			slog.Error("shipper: dial failed, will retry",
				"endpoint", s.cfg.ServerEndpoint,
				"err", err,
				"retry_in", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
				continue
			}
		}

		slog.Info("shipper: connected", "endpoint", s.cfg.ServerEndpoint)

		err = s.drain(ctx, conn, bo)
		conn.Close()

		if ctx.Err() != nil {
			return
		}

		wait := bo.next()
		slog.Warn("shipper: connection lost, will reconnect",
			"endpoint", s.cfg.ServerEndpoint,
			"err", err,
			"retry_in", wait)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// drain sends buffered samples until a transient send error occurs or ctx
// is cancelled. The backoff is reset after every successful delivery.
func (s *Shipper) drain(ctx context.Context, conn *grpc.ClientConn, bo *backoff) error {
	client := wire.NewClient(conn)

	for {
		var smp scraper.Sample
		if s.pending != nil {
			smp = *s.pending
			s.pending = nil
		} else {
			select {
			case <-ctx.Done():
				return nil
			case smp = <-s.buf:
			}
		}

		resp, err := s.send(ctx, client, smp)
		if err != nil {
			if isPermanentError(err) {
				slog.Error("shipper: permanent send error, discarding sample",
					"source", smp.SourceID, "trail", smp.TrailID, "err", err)
				continue
			}
			s.pending = &smp
			return fmt.Errorf("send: %w", err)
		}

		bo.reset()
		if !resp.Ok {
			slog.Warn("shipper: server rejected sample",
				"source", smp.SourceID, "trail", smp.TrailID, "message", resp.Message)
			continue
		}
		slog.Debug("shipper: sample delivered",
			"source", smp.SourceID, "trail", smp.TrailID, "moisture", resp.Moisture)
	}
}

func (s *Shipper) send(ctx context.Context, client *wire.Client, smp scraper.Sample) (*wire.ReadingResponse, error) {
	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()

	if s.cfg.ServerAuth.Mode == "apikey" {
		if key := s.cfg.ServerAuth.Key(); key != "" {
			sendCtx = metadata.AppendToOutgoingContext(sendCtx,
				s.cfg.ServerAuth.EffectiveHeader(), key)
		}
	}
	return client.SendReading(sendCtx, toRequest(smp))
}

// isPermanentError returns true for gRPC errors that indicate the sample
// itself (or the agent's credentials) will never be accepted.
// ResourceExhausted (rate limited) is retried after a reconnect.
func isPermanentError(err error) bool {
	switch status.Code(err) {
	case codes.InvalidArgument, codes.Unauthenticated, codes.PermissionDenied:
		return true
	}
	return false
}

// defaultDial opens a gRPC connection to endpoint with auth configured from cfg.
func defaultDial(ctx context.Context, endpoint string, cfg config.AgentConfig) (*grpc.ClientConn, error) {
	opts, err := dialOptions(cfg)
	if err != nil {
		return nil, err
	}
	return grpc.DialContext(ctx, endpoint, opts...) //nolint:staticcheck // deprecated in 1.63 but DialContext is used for compat
}

// dialOptions builds grpc.DialOption slice based on the server auth config.
func dialOptions(cfg config.AgentConfig) ([]grpc.DialOption, error) {
	switch cfg.ServerAuth.Mode {
	case "mtls":
		creds, err := buildMTLSCreds(cfg.ServerAuth)
		if err != nil {
			return nil, fmt.Errorf("shipper: build mtls creds: %w", err)
		}
		return []grpc.DialOption{grpc.WithTransportCredentials(creds)}, nil

	default: // "apikey", "none" or empty; the key travels in per-call metadata
		return []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, nil
	}
}

// buildMTLSCreds loads client certificate and optional CA from the auth config.
func buildMTLSCreds(auth config.AuthConfig) (credentials.TransportCredentials, error) {
	cert, err := tls.LoadX509KeyPair(auth.CertFile, auth.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load client cert: %w", err)
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
	}

	if auth.CAFile != "" {
		caPEM, err := os.ReadFile(auth.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no valid certs in ca file %q", auth.CAFile)
		}
		tlsCfg.RootCAs = pool
	}

	return credentials.NewTLS(tlsCfg), nil
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	current time.Duration
}

func newBackoff() *backoff {
	return &backoff{current: backoffInitial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// ±25 % jitter
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}

func (b *backoff) reset() {
	b.current = backoffInitial
}
