package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Config описывает подключение к Redis/Valkey. Пустой Addr отключает кэш.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// NewClient открывает соединение и проверяет его PING-ом
func NewClient(cfg Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		DialTimeout:  5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return rdb, nil
}

// unlockScript deletes the key only while it still holds our token
const unlockScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// Locker - распределенная блокировка на SET NX PX для фоновых задач,
// запущенных в нескольких репликах.
type Locker struct {
	client   redis.Cmdable
	prefix   string
	newToken func() string
}

func NewLocker(client redis.Cmdable, prefix string) *Locker {
	return &Locker{
		client:   client,
		prefix:   prefix,
		newToken: func() string { return uuid.New().String() },
	}
}

// TryLock пытается захватить блокировку на ttl. Если блокировка занята,
// возвращает ok=false без ошибки. release снимает только свою блокировку.
func (l *Locker) TryLock(ctx context.Context, name string, ttl time.Duration) (release func(context.Context) error, ok bool, err error) {
	key := l.prefix + name
	token := l.newToken()

	ok, err = l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	release = func(ctx context.Context) error {
		if err := l.client.Eval(ctx, unlockScript, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("failed to release lock %s: %w", key, err)
		}
		return nil
	}
	return release, true, nil
}
