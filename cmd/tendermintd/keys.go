package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/echenim/Bedrock/tendermint/internal/config"
	"github.com/echenim/Bedrock/tendermint/internal/crypto"
)

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Key management commands",
	}

	cmd.AddCommand(keysGenerateCmd())
	cmd.AddCommand(keysShowCmd())

	return cmd
}

func keysGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a new secp256k1 validator key",
		RunE: func(cmd *cobra.Command, args []string) error {
			output, _ := cmd.Flags().GetString("output")

			key, err := crypto.GenerateKey()
			if err != nil {
				return fmt.Errorf("generate key: %w", err)
			}

			out := cmd.OutOrStdout()
			if output != "" {
				if err := crypto.SaveKey(output, key); err != nil {
					return err
				}
				fmt.Fprintf(out, "Key saved to %s\n", output)
			}

			fmt.Fprintf(out, "Address:     %s\n", crypto.AddressOf(key).Hex())
			return nil
		},
	}

	cmd.Flags().String("output", "", "file path to save the hex-encoded key")

	return cmd
}

func keysShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show validator key information",
		RunE: func(cmd *cobra.Command, args []string) error {
			homeDir, _ := cmd.Flags().GetString("home")
			keyFile, _ := cmd.Flags().GetString("key-file")
			if keyFile == "" {
				keyFile = config.DefaultConfig().Validator.KeyFile
			}

			key, err := crypto.LoadKey(resolve(homeDir, keyFile))
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Address:     %s\n", crypto.AddressOf(key).Hex())
			return nil
		},
	}

	cmd.Flags().String("home", defaultHome(), "node home directory")
	cmd.Flags().String("key-file", "", "key file, relative to home (default: validator.key_file)")

	return cmd
}
