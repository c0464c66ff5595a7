package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"securequery/bloom"
	"securequery/dataset"
	"securequery/gateway"
	"securequery/token"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	var (
		port          int
		redisAddr     string
		redisPassword string
		redisTLS      bool
		bloomPath     string
		datasetPath   string
	)

	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Token issuing and data administration service",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := connectStore(log, token.RedisConfig{
				Addr:     redisAddr,
				Password: redisPassword,
				UseTLS:   redisTLS,
			})
			tokens := token.NewManager(store, log)

			filter, err := bloom.LoadOrInit(bloomPath, log)
			if err != nil {
				return err
			}

			table, err := dataset.Load(datasetPath)
			if err != nil {
				log.WithFields(logrus.Fields{
					"path":  datasetPath,
					"error": err,
				}).Warn("dataset not loaded, starting with an empty table")
				table = dataset.NewEmpty()
			} else {
				log.WithField("rows", table.Len()).Info("dataset loaded")
			}

			cfg := gateway.Config{BloomPath: bloomPath, DatasetPath: datasetPath}
			return gateway.NewServer(cfg, tokens, filter, table, log).Run(fmt.Sprintf(":%d", port))
		},
	}

	cmd.Flags().IntVar(&port, "port", envInt("GATEWAY_PORT", 5000), "listening port")
	cmd.Flags().StringVar(&redisAddr, "redis-addr", envStr("REDIS_ADDR", "localhost:6379"), "token store address")
	cmd.Flags().StringVar(&redisPassword, "redis-password", os.Getenv("REDIS_PASSWORD"), "token store password")
	cmd.Flags().BoolVar(&redisTLS, "redis-tls", os.Getenv("REDIS_TLS") == "1", "use TLS for the token store")
	cmd.Flags().StringVar(&bloomPath, "bloom-path", envStr("BLOOM_FILTER_PATH", "bloom_filter.json"), "bloom filter snapshot path")
	cmd.Flags().StringVar(&datasetPath, "dataset-path", envStr("DATASET_PATH", "dataset/healthcare.csv"), "dataset CSV path")

	if err := cmd.Execute(); err != nil {
		log.WithField("error", err).Fatal("gateway exited")
	}
}

// connectStore prefers Redis and degrades to the in-process store when
// the instance is unreachable, so a developer setup still boots.
func connectStore(log *logrus.Logger, cfg token.RedisConfig) token.Store {
	store := token.NewRedisStore(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		log.WithFields(logrus.Fields{
			"addr":  cfg.Addr,
			"error": err,
		}).Warn("redis unreachable, falling back to in-memory token store")
		return token.NewMemoryStore()
	}
	log.WithField("addr", cfg.Addr).Info("token store connected")
	return store
}

func envStr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envInt(name string, fallback int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
