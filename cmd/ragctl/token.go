package main

import (
	"errors"

	"github.com/spf13/cobra"

	"rag-sync-go/pkg/token"
)

var tokenSubject string

var tokenCmd = &cobra.Command{
	Use:         "token",
	Short:       "Mint an admin token for the management API",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{skipAppAnnotation: "true"},
	RunE: func(cmd *cobra.Command, _ []string) error {
		if cfg.JWT.Secret == "" {
			return errors.New("jwt.secret is not configured, the management API is open")
		}
		m := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.TokenExpireHours)
		t, err := m.GenerateToken(tokenSubject, token.RoleAdmin)
		if err != nil {
			return err
		}
		cmd.Println(t)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "ragctl", "subject claim of the token")
	rootCmd.AddCommand(tokenCmd)
}
