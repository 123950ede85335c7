package cli

import (
	"github.com/spf13/cobra"

	"github.com/mcoot/spinroom/internal/api/request"
	"github.com/mcoot/spinroom/internal/api/response"
)

func newRegisterCmd() *cobra.Command {
	var req request.RegisterRequest

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register an account and save its token",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.AuthResponse
			if err := client.Post(cmd.Context(), "/api/v1/auth/register", req, &result); err != nil {
				return err
			}
			return saveSession(cmd, result)
		},
	}

	cmd.Flags().StringVar(&req.Email, "email", "", "Account email")
	cmd.Flags().StringVar(&req.Name, "name", "", "Display name")
	cmd.Flags().StringVar(&req.Password, "password", "", "Password (8 to 72 characters)")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}

func newLoginCmd() *cobra.Command {
	var req request.LoginRequest

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and save the session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.AuthResponse
			if err := client.Post(cmd.Context(), "/api/v1/auth/login", req, &result); err != nil {
				return err
			}
			return saveSession(cmd, result)
		},
	}

	cmd.Flags().StringVar(&req.Email, "email", "", "Account email")
	cmd.Flags().StringVar(&req.Password, "password", "", "Password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}

func saveSession(cmd *cobra.Command, result response.AuthResponse) error {
	if err := cfg.SaveToken(result.Token); err != nil {
		return err
	}
	client.SetToken(result.Token)

	out := outputFor(cmd)
	out.Print(result)
	if cfg.Verbose {
		out.PrintMessage("Token saved to " + cfg.TokenFile)
	}
	return nil
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.Post(cmd.Context(), "/api/v1/auth/logout", nil, nil); err != nil {
				return err
			}
			if err := cfg.ClearToken(); err != nil {
				return err
			}
			outputFor(cmd).PrintMessage("Logged out")
			return nil
		},
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current user",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.User
			if err := client.Get(cmd.Context(), "/api/v1/users/me", &result); err != nil {
				return err
			}
			outputFor(cmd).Print(result)
			return nil
		},
	}
}
