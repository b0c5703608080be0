package cmd

import (
	"github.com/spf13/cobra"
	"vod-validator/config"
	server2 "vod-validator/server"
)

func server(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "start the validation and delivery server",
		Run: func(cmd *cobra.Command, args []string) {
			server2.RunHttp(config)
		},
	}
}
