package cli

import (
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Sample gas prices, send breach alerts and daily reports, and answer bot commands",
	Long: `Samples the mainnet gas price every scheduler.interval into history.path,
alerts on a new 7-day low or high, posts a daily min/max report, and answers
/mainnet, /arbitrum, /optimism, /start and /help in Telegram.

Requires telegram.bot_token, telegram.chat_id and networks.mainnet.rpc_url
(BOT_TOKEN, CHAT_ID and ALCHEMY_RPC are also read).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context())
	},
}
