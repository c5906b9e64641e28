package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/arre-reader/arre/internal/bus"
	"github.com/arre-reader/arre/internal/worker"
)

var workerFirstID int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Serve synthesis workers on a NATS bus",
	Long: paragraph(fmt.Sprintf("\n%s synthesis workers for a reader started with --bus. Serve ids 0 to --workers: the last one handles model downloads.", keyword("Serve"))),
	Example: paragraph("arre worker --bus nats://10.0.0.5:4222 --workers 4\narre worker --bus nats://10.0.0.5:4222 --workers 2 --first-id 2"),
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := loadSettings()
		if err != nil {
			return err
		}
		if s.BusURL == "" || s.BusURL == busEmbedded {
			return errors.New("worker needs a nats:// URL in --bus")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		client, err := bus.Connect(bus.Config{Servers: []string{s.BusURL}, Name: appName + "-worker", Token: s.BusToken})
		if err != nil {
			return err
		}
		defer client.Close()

		newWorker, err := worker.Local(s.serviceConfig().Models, s.Engine)
		if err != nil {
			return err
		}

		g, ctx := errgroup.WithContext(ctx)
		last := workerFirstID + s.Workers
		for id := workerFirstID; id <= last; id++ {
			w := newWorker()
			g.Go(func() error {
				defer w.Close() //nolint:errcheck
				log.Info("Serving worker", "id", id, "subject", worker.Subject(s.BusSubject, id))
				return worker.ServeNATS(ctx, client.Conn(), s.BusSubject, id, w)
			})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Serving workers %d-%d on %s\n", workerFirstID, last, s.BusURL)

		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	workerCmd.Flags().IntVar(&workerFirstID, "first-id", 0, "id of the first served worker")
}
