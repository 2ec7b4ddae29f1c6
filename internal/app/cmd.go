package app

import (
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はチェックアウトAPIと静的ページを単一サービスとして起動することを示す。
	CommandServe Command = "serve"
	// CommandProxy は別デプロイのAPIへ転送するプロキシとして起動することを示す。
	CommandProxy Command = "proxy"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// defaultPort はPORTが未設定の場合の待ち受けポート。
const defaultPort = "3000"

// NewRootCommand はtrackergateのコマンドツリーを生成する。
// サブコマンドを省略した場合はserveとして動作する。
// ログはwに出力する。
func NewRootCommand(w io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "trackergate",
		Short:         "Stripe checkout and Progress Tracker account fulfillment server",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd, w, CommandServe)
		},
	}

	root.AddCommand(
		&cobra.Command{
			Use:   string(CommandServe),
			Short: "Serve the checkout API and the static site",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runCommand(cmd, w, CommandServe)
			},
		},
		&cobra.Command{
			Use:   string(CommandProxy),
			Short: "Serve the static site and relay API calls to API_BASE_URL",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runCommand(cmd, w, CommandProxy)
			},
		},
		newHealthcheckCommand(),
	)

	return root
}

// newHealthcheckCommand はhealthcheckサブコマンドを生成する。
// 軽量サブコマンドのため、設定の読み込みは行わない。
func newHealthcheckCommand() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   string(CommandHealthcheck),
		Short: "Check /health on the local server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealthcheck(port)
		},
	}

	cmd.Flags().StringVar(&port, "port", portFromEnv(), "port of the local server")
	return cmd
}

// portFromEnv はPORT環境変数の値を返す。未設定の場合はdefaultPortを返す。
func portFromEnv() string {
	if p := os.Getenv("PORT"); p != "" {
		return p
	}
	return defaultPort
}
