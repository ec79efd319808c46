//go:build !solution

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/errgroup"

	"github.com/devopsleague/gevent/rlock"
	"github.com/devopsleague/gevent/rsem"
	"github.com/devopsleague/gevent/semaphore"
)

func main() {
	workers := flag.Int("workers", 8, "количество конкурирующих задач")
	slots := flag.Int("slots", 2, "ёмкость семафора")
	duration := flag.Duration("duration", 3*time.Second, "длительность прогона")
	redisAddr := flag.String("redis", "", "адрес redis для распределённого семафора (опционально)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if *workers < 1 || *slots < 1 {
		log.Fatal("необходимо указать положительные -workers и -slots")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()

	var distributed *rsem.Semaphore
	if *redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
		defer rdb.Close()
		distributed = rsem.New(rdb, nil)
	}

	sem := semaphore.NewBounded(*slots)
	lock := rlock.New()

	var acquired, balked, held int64

	logger.Info("starting stress run",
		"workers", *workers,
		"slots", *slots,
		"duration", *duration,
	)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < *workers; i++ {
		g.Go(func() error {
			for ctx.Err() == nil {
				ok, err := sem.Acquire(ctx, 50*time.Millisecond)
				if err != nil {
					return nil // отмена контекста — штатное завершение
				}
				if !ok {
					atomic.AddInt64(&balked, 1)
					continue
				}

				if n := atomic.AddInt64(&held, 1); n > int64(*slots) {
					sem.Release()
					return fmt.Errorf("semaphore overcommitted: %d holders for %d slots", n, *slots)
				}

				var releaseRemote func() error
				if distributed != nil {
					releaseRemote, err = distributed.Acquire(ctx, "semstress", *slots)
					if err != nil {
						atomic.AddInt64(&held, -1)
						sem.Release()
						return nil
					}
				}

				// Вложенный захват проверяет реентерабельность под нагрузкой.
				err = lock.Do(ctx, func() {
					if !lock.TryAcquire() {
						panic("reentrant acquire failed while holding the lock")
					}
					lock.Release()
				})

				if releaseRemote != nil {
					_ = releaseRemote()
				}
				atomic.AddInt64(&held, -1)
				sem.Release()
				if err != nil {
					return nil
				}
				atomic.AddInt64(&acquired, 1)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("stress run failed", "error", err)
		log.Fatal(err)
	}

	logger.Info("stress run finished",
		"acquired", atomic.LoadInt64(&acquired),
		"balked", atomic.LoadInt64(&balked),
	)
}
