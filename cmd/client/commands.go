package main

import (
	"cmp"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/atinyakov/stripekeeper/internal/backend"
	"github.com/atinyakov/stripekeeper/internal/client"
	"github.com/atinyakov/stripekeeper/internal/config"
	"github.com/atinyakov/stripekeeper/internal/entry"
	"github.com/atinyakov/stripekeeper/internal/logger"
	"github.com/atinyakov/stripekeeper/internal/service"
)

var (
	okColor    = color.New(color.FgGreen, color.Bold)
	warnColor  = color.New(color.FgYellow, color.Bold)
	errorColor = color.New(color.FgRed, color.Bold)
)

// credentials is served by service.CredentialService locally and by
// client.APIClient remotely.
type credentials interface {
	SetPassword(ctx context.Context, service, user, password string) error
	SetSecret(ctx context.Context, service, user string, secret []byte) error
	GetPassword(ctx context.Context, service, user string) (string, error)
	GetSecret(ctx context.Context, service, user string) ([]byte, error)
	Delete(ctx context.Context, service, user string) error
	Inspect(ctx context.Context, service, user string) (service.SnapshotView, error)
}

type app struct {
	in     *os.File
	out    io.Writer
	errOut io.Writer

	opts    *config.Options
	url     string
	caFile  string
	log     *logger.Logger
	creds   credentials
	closeFn func() error
}

func newRootCmd(in *os.File, out, errOut io.Writer) *cobra.Command {
	a := &app{in: in, out: out, errOut: errOut, opts: config.Default(), log: logger.New()}
	a.opts.LogLevel = "warn"

	root := &cobra.Command{
		Use:           "stripekeeper",
		Short:         "Store secrets larger than one credential store entry",
		Version:       fmt.Sprintf("%s (built %s)", cmp.Or(version, "N/A"), cmp.Or(buildDate, "N/A")),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd.Context())
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.close()
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	gofs := flag.NewFlagSet("stripekeeper", flag.ContinueOnError)
	a.opts.RegisterFlags(gofs)
	root.PersistentFlags().AddGoFlagSet(gofs)
	root.PersistentFlags().StringVar(&a.url, "url", "", "server base URL; when empty the backend is used directly")
	root.PersistentFlags().StringVar(&a.caFile, "ca", "", "PEM CA bundle trusted for the server certificate")

	root.AddCommand(a.setCmd(), a.getCmd(), a.deleteCmd(), a.inspectCmd())
	return root
}

func (a *app) open(ctx context.Context) error {
	if err := a.opts.Resolve(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := a.log.Init(a.opts.LogLevel); err != nil {
		return err
	}

	if a.url != "" {
		httpClient, err := client.NewHTTPClient(a.caFile)
		if err != nil {
			return err
		}
		a.creds = &client.APIClient{HTTP: httpClient, BaseURL: a.url}
		a.log.Log.Debug("using remote server", zap.String("url", a.url))
		a.closeFn = func() error { return nil }
		return nil
	}

	// the CLI exits right away, so no background purge
	a.opts.PurgeInterval = 0
	b, err := backend.Open(ctx, a.opts, a.log.Log)
	if err != nil {
		return err
	}
	a.creds = service.NewCredentialService(b.Store, a.opts.Limits(), a.log.Log)
	a.log.Log.Debug("using local backend", zap.String("backend", a.opts.Backend), zap.Int("max_entry_bytes", a.opts.MaxEntryBytes))
	a.closeFn = b.Close
	return nil
}

func (a *app) close() error {
	defer func() { _ = a.log.Log.Sync() }()
	if a.closeFn == nil {
		return nil
	}
	return a.closeFn()
}

func (a *app) setCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "set SERVICE USER",
		Short: "Store a secret read from the terminal, stdin or --file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("read %s: %w", file, err)
				}
				if err := a.creds.SetSecret(cmd.Context(), args[0], args[1], data); err != nil {
					return a.storeErr(err)
				}
				okColor.Fprintf(a.out, "stored %d bytes for %s/%s\n", len(data), args[0], args[1])
				return nil
			}

			secret, err := client.ReadSecret(a.in, a.errOut, "Secret: ")
			if err != nil {
				return err
			}
			if err := a.creds.SetPassword(cmd.Context(), args[0], args[1], string(secret)); err != nil {
				return a.storeErr(err)
			}
			okColor.Fprintf(a.out, "stored secret for %s/%s\n", args[0], args[1])
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "store the raw contents of this file")
	return cmd
}

// storeErr reports a secret that was written despite orphan cleanup
// failing as a warning.
func (a *app) storeErr(err error) error {
	if errors.Is(err, entry.ErrOrphanCleanup) {
		warnColor.Fprintf(a.errOut, "warning: %v\n", err)
		return nil
	}
	return err
}

func (a *app) getCmd() *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "get SERVICE USER",
		Short: "Print a stored secret",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if raw {
				data, err := a.creds.GetSecret(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				_, err = a.out.Write(data)
				return err
			}
			secret, err := a.creds.GetPassword(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(a.out, secret)
			return err
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "write the stored bytes unchanged")
	return cmd
}

func (a *app) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete SERVICE USER",
		Aliases: []string{"rm"},
		Short:   "Remove every chunk of a secret",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.creds.Delete(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			okColor.Fprintf(a.out, "deleted %s/%s\n", args[0], args[1])
			return nil
		},
	}
}

func (a *app) inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect SERVICE USER",
		Short: "Show which chunk entries exist for a secret",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := a.creds.Inspect(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			a.printView(view)
			return nil
		},
	}
}

func (a *app) printView(view service.SnapshotView) {
	stateColor := okColor
	switch view.State {
	case entry.StatePartial:
		stateColor = warnColor
	case entry.StateCorrupt:
		stateColor = errorColor
	}
	fmt.Fprintf(a.out, "%s/%s: %s\n", view.Identity.Service, view.Identity.User, stateColor.Sprint(view.State))

	for _, c := range view.Chunks {
		key := view.Identity.ChunkKey(c.Index)
		switch {
		case c.Corrupt:
			fmt.Fprintf(a.out, "  %-24s %s (%d bytes)\n", key, errorColor.Sprint("corrupt header"), c.Size)
		default:
			fmt.Fprintf(a.out, "  %-24s part %d/%d (%d bytes)\n", key, c.Part, c.Total, c.Size)
		}
	}
	if len(view.Orphans) > 0 {
		ids := make([]string, len(view.Orphans))
		for i, o := range view.Orphans {
			ids[i] = fmt.Sprint(o)
		}
		warnColor.Fprintf(a.out, "  orphans: %s\n", strings.Join(ids, ", "))
	}
}

var (
	_ credentials = (*service.CredentialService)(nil)
	_ credentials = (*client.APIClient)(nil)
)
