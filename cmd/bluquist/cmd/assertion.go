package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/bluquist/bluquist/jwt"
	"github.com/spf13/cobra"
)

var (
	assertionTTL        time.Duration
	assertionPrivateKey string
)

var assertionCmd = &cobra.Command{
	Use:   "assertion <service>",
	Short: "Mint a service assertion for /user/login/service",
	Args:  cobra.ExactArgs(1),
	RunE:  runAssertion,
}

func init() {
	assertionCmd.Flags().DurationVar(&assertionTTL, "ttl", time.Minute, "assertion lifetime")
	assertionCmd.Flags().StringVar(&assertionPrivateKey, "private-key", "", "ed25519 private key file (PEM or raw)")
	rootCmd.AddCommand(assertionCmd)
}

func runAssertion(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	sa := cfg.Auth.ServiceAuth
	if !sa.Enabled {
		return errors.New("service_auth is disabled in the configuration")
	}

	jc := jwt.Config{
		SigningMethod: jwt.SigningMethod(sa.Method),
		Secret:        []byte(sa.Secret),
		PublicKey:     []byte(sa.PublicKey),
		Issuer:        sa.Issuer,
		Audience:      sa.Audience,
		AssertionTTL:  assertionTTL,
		MaxAge:        sa.MaxAge,
	}
	if assertionPrivateKey != "" {
		key, err := os.ReadFile(assertionPrivateKey)
		if err != nil {
			return fmt.Errorf("read private key: %w", err)
		}
		jc.PrivateKey = key
	}

	m, err := jwt.NewManager(jc)
	if err != nil {
		return err
	}
	token, err := m.CreateAssertion(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
