package health

import (
	"context"
	"runtime"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ContextPinger is satisfied by *sql.DB.
type ContextPinger interface {
	PingContext(ctx context.Context) error
}

// PingCheck probes a pgx pool.
func PingCheck(p Pinger) CheckFunc {
	return p.Ping
}

// SQLCheck probes a database/sql handle.
func SQLCheck(db ContextPinger) CheckFunc {
	return db.PingContext
}

// RedisCheck sends PING.
func RedisCheck(rdb redis.Cmdable) CheckFunc {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}

// KafkaCheck dials the brokers and succeeds as soon as one answers.
func KafkaCheck(brokers []string) CheckFunc {
	return func(ctx context.Context) error {
		var last error
		for _, addr := range brokers {
			conn, err := kafka.DialContext(ctx, "tcp", addr)
			if err != nil {
				last = err
				continue
			}
			_, err = conn.Brokers()
			_ = conn.Close()
			if err == nil {
				return nil
			}
			last = err
		}
		if last == nil {
			return errors.New("no kafka brokers configured")
		}
		return errors.Wrap(last, "kafka unreachable")
	}
}

// GoroutineCountCheck fails when the process runs more than threshold
// goroutines.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds %d", n, threshold)
		}
		return nil
	}
}
