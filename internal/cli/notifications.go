package cli

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mcoot/spinroom/internal/api/response"
)

func newNotificationsCmd() *cobra.Command {
	var since int64

	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "Fetch mailbox notifications once",
		Long: `Fetch notifications newer than --since. Entries at or before --since
are acknowledged and removed from the mailbox; pass the printed cursor as
--since on the next call.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.NotificationsResponse
			path := "/api/v1/notifications?since=" + strconv.FormatInt(since, 10)
			if err := client.Get(cmd.Context(), path, &result); err != nil {
				return err
			}
			outputFor(cmd).Print(result)
			return nil
		},
	}

	cmd.Flags().Int64Var(&since, "since", 0, "Cursor from the previous poll")

	return cmd
}
