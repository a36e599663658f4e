package leaselock

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/OFFIS-RIT/medgraph/backend/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

var (
	ErrBusy = errors.New("lease lock busy")
	ErrLost = errors.New("lease lock lost")
)

const (
	DefaultTTL          = 5 * time.Minute
	DefaultWaitInterval = 250 * time.Millisecond

	renewAttempts = 3
	renewTimeout  = 15 * time.Second
)

type dbConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Client hands out expiring leases stored in the app_locks table so that
// one worker replica at a time runs a given job.
type Client struct {
	db dbConn
}

// Options configures a lease. Zero values select the defaults.
type Options struct {
	TTL time.Duration
	// RenewEvery is the renewal period of a held lease. A negative value
	// disables renewal and the lease simply expires after TTL.
	RenewEvery time.Duration

	Wait         bool
	WaitInterval time.Duration
	WaitJitter   time.Duration

	// Owner prefixes the lease token, typically the worker host name.
	Owner string
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.TTL < time.Millisecond {
		o.TTL = time.Millisecond
	}
	if o.RenewEvery == 0 || o.RenewEvery >= o.TTL {
		o.RenewEvery = o.TTL / 2
	}
	if o.WaitInterval <= 0 {
		o.WaitInterval = DefaultWaitInterval
	}
	if o.WaitJitter < 0 {
		o.WaitJitter = 0
	}
	return o
}

// Lease is a held lock. Its Context is cancelled with the cause when the
// lease is released or lost.
type Lease struct {
	Key   string
	Token string

	Context context.Context

	client *Client
	cancel context.CancelCauseFunc
	ttlMs  int64

	stopOnce sync.Once
	stopCh   chan struct{}
}

func New(db dbConn) *Client {
	return &Client{db: db}
}

// WithLease runs fn while holding the lease on key and releases it
// afterwards.
func (c *Client) WithLease(ctx context.Context, key string, opts Options, fn func(ctx context.Context) error) error {
	lease, err := c.Acquire(ctx, key, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := lease.Release(context.Background()); err != nil {
			logger.Warn("[LeaseLock][WithLease] Failed to release lease", "key", key, "err", err)
		}
	}()
	return fn(lease.Context)
}

// Acquire takes the lease on key. Without opts.Wait a lease held by someone
// else fails with ErrBusy; with it Acquire polls until ctx is done.
func (c *Client) Acquire(ctx context.Context, key string, opts Options) (*Lease, error) {
	if key == "" {
		return nil, errors.New("lease lock key is empty")
	}
	opts = opts.withDefaults()
	ttlMs := opts.TTL.Milliseconds()

	tok, err := gonanoid.New()
	if err != nil {
		return nil, err
	}
	token := tok
	if opts.Owner != "" {
		token = opts.Owner + "-" + tok
	}

	for {
		ok, err := c.tryAcquire(ctx, key, token, ttlMs)
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		if !opts.Wait {
			return nil, ErrBusy
		}
		if err := sleepWithJitter(ctx, opts.WaitInterval, opts.WaitJitter); err != nil {
			return nil, err
		}
	}

	leaseCtx, cancel := context.WithCancelCause(ctx)
	l := &Lease{
		Key:     key,
		Token:   token,
		Context: leaseCtx,
		client:  c,
		cancel:  cancel,
		ttlMs:   ttlMs,
		stopCh:  make(chan struct{}),
	}
	if opts.RenewEvery > 0 {
		go l.renewLoop(opts.RenewEvery)
	}

	logger.Debug("[LeaseLock][Acquire] Lease acquired", "key", key, "token", token, "ttl", opts.TTL)
	return l, nil
}

func (c *Client) tryAcquire(ctx context.Context, key, token string, ttlMs int64) (bool, error) {
	var returnedKey string
	err := c.db.QueryRow(ctx, tryAcquireSQL, key, token, ttlMs).Scan(&returnedKey)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return returnedKey != "", nil
}

func (l *Lease) stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
		l.cancel(context.Canceled)
	})
}

// Release stops renewal and deletes the lease so others can take it at once.
func (l *Lease) Release(ctx context.Context) error {
	l.stop()
	_, err := l.client.db.Exec(ctx, releaseSQL, l.Key, l.Token)
	return err
}

// Detach stops renewal but keeps the lease row, so the key stays taken
// until the TTL runs out.
func (l *Lease) Detach() {
	l.stop()
}

func (l *Lease) renewLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-l.Context.Done():
			return
		case <-t.C:
			if err := l.renewOnce(); err != nil {
				logger.Warn("[LeaseLock][Renew] Lease lost", "key", l.Key, "err", err)
				l.cancel(err)
				return
			}
		}
	}
}

func (l *Lease) renewOnce() error {
	var err error
	for attempt := range renewAttempts {
		renewCtx, cancel := context.WithTimeout(l.Context, renewTimeout)
		var returnedKey string
		err = l.client.db.QueryRow(renewCtx, renewSQL, l.Key, l.Token, l.ttlMs).Scan(&returnedKey)
		cancel()
		if err == nil {
			return nil
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrLost
		}
		if attempt < renewAttempts-1 {
			if err := sleepWithJitter(l.Context, 200*time.Millisecond, 0); err != nil {
				return err
			}
		}
	}
	return err
}

// RunPeriodic calls fn once per interval on whichever caller wins the lease
// on key. The winner keeps the lease for most of the interval so other
// replicas skip that round. It returns when ctx is done.
func (c *Client) RunPeriodic(ctx context.Context, key string, interval time.Duration, owner string, fn func(ctx context.Context) error) error {
	if interval <= 0 {
		return errors.New("lease lock interval must be positive")
	}
	opts := Options{
		TTL:        interval - interval/10,
		RenewEvery: -1,
		Owner:      owner,
	}

	run := func() {
		lease, err := c.Acquire(ctx, key, opts)
		if errors.Is(err, ErrBusy) {
			logger.Debug("[LeaseLock][RunPeriodic] Round taken by another replica", "key", key)
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				logger.Error("[LeaseLock][RunPeriodic] Failed to acquire lease", "key", key, "err", err)
			}
			return
		}
		defer lease.Detach()

		if err := fn(lease.Context); err != nil && ctx.Err() == nil {
			logger.Error("[LeaseLock][RunPeriodic] Job failed", "key", key, "err", err)
		}
	}

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		run()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func sleepWithJitter(ctx context.Context, base, jitter time.Duration) error {
	d := base
	if jitter > 0 {
		d += time.Duration(rand.Int64N(int64(jitter) + 1))
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

const tryAcquireSQL = `
INSERT INTO app_locks (lock_key, locked_by, expires_at)
VALUES ($1, $2, now() + ($3::bigint * interval '1 millisecond'))
ON CONFLICT (lock_key) DO UPDATE
SET locked_by  = EXCLUDED.locked_by,
    expires_at = EXCLUDED.expires_at
WHERE app_locks.expires_at < now()
   OR app_locks.locked_by = EXCLUDED.locked_by
RETURNING lock_key;
`

const renewSQL = `
UPDATE app_locks
SET expires_at = now() + ($3::bigint * interval '1 millisecond')
WHERE lock_key = $1 AND locked_by = $2
RETURNING lock_key;
`

const releaseSQL = `
DELETE FROM app_locks
WHERE lock_key = $1 AND locked_by = $2;
`
