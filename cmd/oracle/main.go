package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"securequery/oracle"
	"securequery/paillier"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	var (
		port    int
		keyBits int
	)

	cmd := &cobra.Command{
		Use:   "oracle",
		Short: "Decryption oracle holding the Paillier private key",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, priv, err := paillier.GenerateKeyPair(keyBits)
			if err != nil {
				// Key generation failure leaves nothing to serve.
				log.WithField("error", err).Fatal("key generation failed")
			}
			log.WithField("bits", keyBits).Info("paillier keypair generated")

			return oracle.NewServer(priv, log).Run(fmt.Sprintf(":%d", port))
		},
	}

	cmd.Flags().IntVar(&port, "port", envInt("ORACLE_PORT", 5002), "listening port")
	cmd.Flags().IntVar(&keyBits, "key-bits", paillier.DefaultKeyBits, "paillier modulus length")

	if err := cmd.Execute(); err != nil {
		log.WithField("error", err).Fatal("oracle exited")
	}
}

func envInt(name string, fallback int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
