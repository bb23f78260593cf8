package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/bluquist/bluquist"
	"github.com/bluquist/bluquist/password"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var seedPassword string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create the test accounts",
	Long: `Create test@user.com (role user) and admin@user.com (role admin) in
the configured database. Existing accounts are left untouched.`,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().StringVar(&seedPassword, "password", "test123", "password for the seeded accounts")
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	store, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer store.Close()

	hasher, err := password.NewArgon2(cfg.Auth.Password)
	if err != nil {
		return err
	}
	hash, err := hasher.Hash(seedPassword)
	if err != nil {
		return err
	}

	accounts := []struct {
		mail string
		role string
	}{
		{"test@user.com", bluquist.RoleUser},
		{"admin@user.com", bluquist.RoleAdmin},
	}

	for _, a := range accounts {
		err := store.CreateUser(ctx, &bluquist.User{
			ID:           uuid.NewString(),
			Mail:         a.mail,
			Role:         a.role,
			PasswordHash: hash,
			CreatedAt:    time.Now().UTC(),
		})
		switch {
		case errors.Is(err, bluquist.ErrDuplicateRecord):
			fmt.Fprintf(cmd.OutOrStdout(), "exists   %s\n", a.mail)
		case err != nil:
			return fmt.Errorf("seed %s: %w", a.mail, err)
		default:
			fmt.Fprintf(cmd.OutOrStdout(), "created  %s (%s)\n", a.mail, a.role)
		}
	}
	return nil
}
