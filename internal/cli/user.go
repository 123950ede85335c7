package cli

import (
	"errors"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/mcoot/spinroom/internal/api/response"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Look up users",
	}

	cmd.AddCommand(newUserSearchCmd())

	return cmd
}

func newUserSearchCmd() *cobra.Command {
	var userID, email string

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Find a user by id or email",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			switch {
			case userID != "" && email != "":
				return errors.New("specify only one of --id or --email")
			case userID != "":
				q.Set("user_id", userID)
			case email != "":
				q.Set("email", email)
			default:
				return errors.New("--id or --email is required")
			}

			var result response.PublicUser
			if err := client.Get(cmd.Context(), "/api/v1/users/search?"+q.Encode(), &result); err != nil {
				return err
			}
			outputFor(cmd).Print(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "id", "", "User id")
	cmd.Flags().StringVar(&email, "email", "", "User email")

	return cmd
}
