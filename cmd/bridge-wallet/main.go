package main

import (
	"fmt"
	"os"

	"github.com/aegis-sign/bridgewallet/internal/config"
	"github.com/aegis-sign/bridgewallet/internal/keystore"
	"github.com/spf13/cobra"
)

var (
	configPath string
	envFile    string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "bridge-wallet",
		Short:         "NEAR wallet adapter backed by a remote bridge wallet",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("BRIDGE_CONFIG"), "YAML config file")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading config")
	root.AddCommand(serveCmd(), keysCmd())
	return root
}

func loadConfig() (config.Config, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return config.Config{}, err
	}
	return config.Load(configPath)
}

func openKeystore(cfg config.Config) (keystore.KeyStore, error) {
	switch cfg.Keystore.Type {
	case config.KeystoreFile:
		return keystore.NewFile(keystore.FileConfig{
			Path:       cfg.Keystore.Path,
			Passphrase: cfg.Keystore.Passphrase,
			WalletID:   cfg.Wallet.ID,
		})
	case config.KeystoreMemory:
		return keystore.NewMemory(cfg.Wallet.ID), nil
	default:
		return nil, fmt.Errorf("unsupported keystore type %q", cfg.Keystore.Type)
	}
}
