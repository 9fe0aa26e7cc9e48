/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/userhub/apiserver/internal/token"
)

const keygenBits = 4096

// keygenCmd generates an RSA key pair for the RS512 codec configuration.
var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an RSA key pair for RS512 token signing",
	Long: `Generates an RSA key pair and prints it base64-encoded: the
private key as PKCS#8 DER (set it as JWT_PRIVATE_KEY) and the public
key as PKIX DER (hand it to external token verifiers).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := rsa.GenerateKey(rand.Reader, keygenBits)
		if err != nil {
			return fmt.Errorf("generate key: %w", err)
		}

		private, err := token.EncodeRSAPrivateKey(key)
		if err != nil {
			return err
		}
		public, err := token.EncodeRSAPublicKey(&key.PublicKey)
		if err != nil {
			return err
		}

		fmt.Printf("JWT_PRIVATE_KEY=%s\n", private)
		fmt.Printf("public key: %s\n", public)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}
