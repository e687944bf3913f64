package cmd

import (
	"fmt"
	"time"

	"github.com/nguyentranbao-ct/request-chat/internal/config"
	"github.com/nguyentranbao-ct/request-chat/internal/models"
	"github.com/nguyentranbao-ct/request-chat/internal/server/middleware"
	"github.com/spf13/cobra"
)

var tokenFlags struct {
	userID string
	name   string
	email  string
	staff  bool
	ttl    time.Duration
}

// tokenCmd signs a bearer token with AUTH_JWT_SECRET for local testing.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Sign a bearer token for a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := config.Load()
		if err != nil {
			return err
		}
		tok, err := middleware.IssueToken(middleware.IdentityConfig{
			Secret: conf.Auth.JWTSecret,
			Issuer: conf.Auth.Issuer,
		}, models.Identity{
			UserID:  tokenFlags.userID,
			Name:    tokenFlags.name,
			Email:   tokenFlags.email,
			IsAdmin: tokenFlags.staff,
		}, tokenFlags.ttl)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
		return err
	},
}

func init() {
	flags := tokenCmd.Flags()
	flags.StringVar(&tokenFlags.userID, "user", "", "user id")
	flags.StringVar(&tokenFlags.name, "name", "", "display name")
	flags.StringVar(&tokenFlags.email, "email", "", "email")
	flags.BoolVar(&tokenFlags.staff, "staff", false, "issue a staff token")
	flags.DurationVar(&tokenFlags.ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(tokenCmd)
}
