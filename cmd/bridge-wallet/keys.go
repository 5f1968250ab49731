package main

import (
	"fmt"

	"github.com/aegis-sign/bridgewallet/internal/config"
	"github.com/spf13/cobra"
)

func keysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Inspect delegated function-call keys in the keystore",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List accounts holding a delegated key on the configured network",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Keystore.Type != config.KeystoreFile {
				return fmt.Errorf("keys list needs a file keystore, configured %q", cfg.Keystore.Type)
			}
			store, err := openKeystore(cfg)
			if err != nil {
				return err
			}
			accounts, err := store.Accounts(cmd.Context(), cfg.Wallet.Network)
			if err != nil {
				return err
			}
			for _, account := range accounts {
				key, err := store.GetKey(cmd.Context(), cfg.Wallet.Network, account)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", account, key.PublicKey())
				key.Zero()
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove every delegated key stored for this wallet id",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openKeystore(cfg)
			if err != nil {
				return err
			}
			if err := store.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared keystore for wallet %s\n", cfg.Wallet.ID)
			return nil
		},
	})
	return cmd
}
