package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oneconcern/tablemon/pkg/config"
	"github.com/oneconcern/tablemon/pkg/remote/api"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the local metadata store over HTTP",
	Long: `Serve the local metadata store over HTTP, as a remote for push, pull and clone.

When TBL_API_SECRET is set, requests must carry a bearer token signed with this secret.
Tokens are issued with "tablemon serve token".

The server shuts down gracefully on SIGINT or SIGTERM.
`,
	Example: `% TBL_API_SECRET=... tablemon serve --addr :8642`,
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		var err error
		defer func(t0 time.Time) {
			cliUsage(t0, "serve", err)
		}(time.Now())

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		inputs, err := newCliInputs(cfg, &tablemonFlags)
		if err != nil {
			wrapFatalln("create command inputs", err)
			return
		}
		meta, err := inputs.openMetaStore(cfg.Get(config.KeyEnginePath))
		if err != nil {
			wrapFatalln("open metadata store", err)
			return
		}

		addr := tablemonFlags.serve.addr
		if addr == "" {
			addr = cfg.Get(config.KeyAPIAddr)
		}
		opts := []api.ServerOption{api.WithLogger(inputs.getLogger())}
		if secret := cfg.Get(config.KeyAPISecret); secret != "" {
			opts = append(opts, api.WithSecret(secret))
		} else {
			infoLogger.Printf("warning: %s is not set, the endpoint is not authenticated", config.KeyAPISecret)
		}

		err = multierr.Append(api.NewServer(meta, opts...).ListenAndServe(ctx, addr), meta.Close())
		if err != nil {
			wrapFatalln("serve", err)
			return
		}
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for the metadata endpoint",
	Long: `Issue a bearer token for the metadata endpoint, signed with TBL_API_SECRET.

The token goes to the "token" of a remote in the config of clients.
`,
	Example: `% tablemon serve token --subject ci --ttl 720h`,
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		var err error
		defer func(t0 time.Time) {
			cliUsage(t0, "serve token", err)
		}(time.Now())

		subject := tablemonFlags.serve.subject
		if subject == "" {
			if subject, err = os.Hostname(); err != nil {
				wrapFatalln("default subject", err)
				return
			}
		}
		secret := cfg.Get(config.KeyAPISecret)
		if secret == "" {
			wrapFatalln(fmt.Sprintf("%s is not set", config.KeyAPISecret), nil)
			return
		}
		token, err := api.NewToken(secret, subject, tablemonFlags.serve.ttl)
		if err != nil {
			wrapFatalln("issue token", err)
			return
		}
		logStdOut("%s\n", token)
	},
}

func init() {
	addServeAddrFlag(serveCmd)
	addSubjectFlag(tokenCmd)
	addTTLFlag(tokenCmd)
	serveCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(serveCmd)
}
