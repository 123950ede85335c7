package cli

import (
	"net/url"

	"github.com/spf13/cobra"

	"github.com/mcoot/spinroom/internal/api/request"
	"github.com/mcoot/spinroom/internal/api/response"
)

func newRoomCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "room",
		Short: "Manage rooms and rounds",
	}

	cmd.AddCommand(newRoomListCmd())
	cmd.AddCommand(newRoomCreateCmd())
	cmd.AddCommand(newRoomGetCmd())
	cmd.AddCommand(newRoomInviteCmd())
	cmd.AddCommand(newRoomInviteEmailCmd())
	cmd.AddCommand(roomActionCmd("accept", "Accept an email invite", "/accept"))
	cmd.AddCommand(newRoomReadyCmd())
	cmd.AddCommand(roomActionCmd("reset", "Start a fresh round", "/reset"))
	cmd.AddCommand(roomActionCmd("leave", "Leave a room, or decline its invite", "/leave"))
	cmd.AddCommand(newRoomSettleCmd())

	return cmd
}

func roomPath(id string) string {
	return "/api/v1/rooms/" + url.PathEscape(id)
}

func newRoomListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List open rooms",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result []response.Room
			if err := client.Get(cmd.Context(), "/api/v1/rooms", &result); err != nil {
				return err
			}
			outputFor(cmd).Print(result)
			return nil
		},
	}
}

func newRoomCreateCmd() *cobra.Command {
	var req request.CreateRoomRequest

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a room",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.Room
			if err := client.Post(cmd.Context(), "/api/v1/rooms", req, &result); err != nil {
				return err
			}
			outputFor(cmd).Print(result)
			return nil
		},
	}

	cmd.Flags().Int64Var(&req.EntryFee, "fee", 0, "Entry fee (0 uses the server default)")

	return cmd
}

func newRoomGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <room-id>",
		Short: "Show a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.Room
			if err := client.Get(cmd.Context(), roomPath(args[0]), &result); err != nil {
				return err
			}
			outputFor(cmd).Print(result)
			return nil
		},
	}
}

func newRoomInviteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invite <room-id> <user-id>",
		Short: "Attach a user as the opponent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := request.InviteUserRequest{UserID: args[1]}
			var result response.Room
			if err := client.Put(cmd.Context(), roomPath(args[0])+"/opponent", req, &result); err != nil {
				return err
			}
			outputFor(cmd).Print(result)
			return nil
		},
	}
}

func newRoomInviteEmailCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invite-email <room-id> <email>",
		Short: "Invite a registered user by email",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := request.InviteEmailRequest{Email: args[1]}
			var result response.Room
			if err := client.Post(cmd.Context(), roomPath(args[0])+"/invite", req, &result); err != nil {
				return err
			}
			outputFor(cmd).Print(result)
			return nil
		},
	}
}

// roomActionCmd builds a bodyless POST that returns the updated room
func roomActionCmd(use, short, suffix string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <room-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.Room
			if err := client.Post(cmd.Context(), roomPath(args[0])+suffix, nil, &result); err != nil {
				return err
			}
			outputFor(cmd).Print(result)
			return nil
		},
	}
}

func newRoomReadyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ready <room-id>",
		Short: "Mark yourself ready to spin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.ReadyResponse
			if err := client.Post(cmd.Context(), roomPath(args[0])+"/ready", nil, &result); err != nil {
				return err
			}
			outputFor(cmd).Print(result)
			return nil
		},
	}
}

func newRoomSettleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "settle <room-id>",
		Short: "Pay the prize pool to the round's winner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.SettleResponse
			if err := client.Post(cmd.Context(), roomPath(args[0])+"/settle", nil, &result); err != nil {
				return err
			}
			outputFor(cmd).Print(result)
			return nil
		},
	}
}
