package cmd

import (
	"github.com/nguyentranbao-ct/request-chat/internal/app"
	"github.com/nguyentranbao-ct/request-chat/internal/kafka"
	"github.com/nguyentranbao-ct/request-chat/internal/server"
	"github.com/nguyentranbao-ct/request-chat/pkg/logger/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "request-chat",
	Short:         "Chat and unread tracking for reservation, purchase and support requests",
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		app.Invoke(
			server.StartServer,
			kafka.StartConsumeChatEvents,
		).Run()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
