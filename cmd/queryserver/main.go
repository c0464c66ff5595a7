package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"securequery/dataset"
	"securequery/oracle"
	"securequery/queryserver"
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
		datasetPath   string
		oracleURL     string
	)

	cmd := &cobra.Command{
		Use:   "queryserver",
		Short: "Authorized query service over the encrypted healthcare dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			// The dataset is mandatory here; a query server without
			// rows has nothing to serve.
			table, err := dataset.Load(datasetPath)
			if err != nil {
				return err
			}
			log.WithField("rows", table.Len()).Info("dataset loaded")

			oracleClient := oracle.NewClient(oracleURL, oracle.DefaultTimeout)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			pub, err := oracleClient.PublicKey(ctx)
			if err != nil {
				return fmt.Errorf("fetching public key from oracle: %w", err)
			}
			log.WithField("oracle", oracleURL).Info("public key fetched")

			if err := table.EncryptBilling(pub); err != nil {
				return fmt.Errorf("encrypting billing column: %w", err)
			}
			log.Info("billing column encrypted")

			store := token.NewRedisStore(token.RedisConfig{
				Addr:     redisAddr,
				Password: redisPassword,
				UseTLS:   redisTLS,
			})
			tokens := token.NewManager(store, log)

			qs := queryserver.NewServer(tokens, table, pub, oracleClient, log)
			return qs.Run(fmt.Sprintf(":%d", port))
		},
	}

	cmd.Flags().IntVar(&port, "port", envInt("QUERY_SERVER_PORT", 5001), "listening port")
	cmd.Flags().StringVar(&redisAddr, "redis-addr", envStr("REDIS_ADDR", "localhost:6379"), "token store address")
	cmd.Flags().StringVar(&redisPassword, "redis-password", os.Getenv("REDIS_PASSWORD"), "token store password")
	cmd.Flags().BoolVar(&redisTLS, "redis-tls", os.Getenv("REDIS_TLS") == "1", "use TLS for the token store")
	cmd.Flags().StringVar(&datasetPath, "dataset-path", envStr("DATASET_PATH", "dataset/healthcare.csv"), "dataset CSV path")
	cmd.Flags().StringVar(&oracleURL, "oracle-url", envStr("ORACLE_URL", "http://localhost:5002"), "decryption oracle base URL")

	if err := cmd.Execute(); err != nil {
		log.WithField("error", err).Fatal("query server exited")
	}
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
