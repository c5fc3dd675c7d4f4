package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sys/unix"

	"github.com/JeffersonLab/RFWScopeDAQ/internal/adapters/notify"
	"github.com/JeffersonLab/RFWScopeDAQ/internal/adapters/observability"
	"github.com/JeffersonLab/RFWScopeDAQ/internal/domain"
	"github.com/JeffersonLab/RFWScopeDAQ/pkg/rfwscopedaq"
)

var version = "dev"

func main() {
	cmd := &cli.Command{
		Name:    "rfwscopedaq",
		Usage:   "Collect RF cavity scope waveforms for a zone or a single cavity",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "cavity",
				Usage: "EPICS cavity name to collect from, e.g. R1M1",
			},
			&cli.StringFlag{
				Name:  "zone",
				Usage: "EPICS zone name to collect from (all cavities), e.g. R1M",
			},
			&cli.FloatFlag{
				Name:  "duration",
				Usage: "Collection duration in minutes (overrides config)",
			},
			&cli.StringFlag{
				Name:  "dir",
				Usage: "Base output directory for file output (overrides config)",
			},
			&cli.StringFlag{
				Name:  "output",
				Usage: "Persistence backend: file or db (overrides config)",
			},
			&cli.StringSliceFlag{
				Name:  "email",
				Usage: "Failure report recipients (overrides config)",
			},
			&cli.BoolFlag{
				Name:  "no-email",
				Usage: "Disable the end-of-run failure report email",
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to the YAML configuration file",
				Value: "/cs/certified/apps/rfwscopedaq/config.yaml",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Suppress informational logging",
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatalf("rfwscopedaq: %v", err)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	cavity := cmd.String("cavity")
	zone := cmd.String("zone")
	if (cavity == "") == (zone == "") {
		return fmt.Errorf("exactly one of --cavity or --zone is required")
	}

	cfg, err := rfwscopedaq.LoadConfig(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if d := cmd.Float("duration"); d > 0 {
		cfg.DurationMinutes = d
	}
	if dir := cmd.String("dir"); dir != "" {
		cfg.BaseDir = dir
	}
	if out := cmd.String("output"); out != "" {
		cfg.Output = out
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if to := cmd.StringSlice("email"); len(to) > 0 {
		cfg.Email.ToAddrs = to
	}

	var cavities []string
	var unit string
	if zone != "" {
		cavities, err = domain.ZoneCavities(zone)
		if err != nil {
			return err
		}
		unit = zone
	} else {
		if err := domain.ValidateCavity(cavity); err != nil {
			return err
		}
		cavities = []string{cavity}
		unit = cavity
	}

	if err := checkFreeSpace(ctx, cfg); err != nil {
		return err
	}

	outDir := filepath.Join(cfg.BaseDir, time.Now().Format("2006_01_02"), unit)

	opts := []rfwscopedaq.Option{
		rfwscopedaq.WithObservability(observability.NewPromObs(!cmd.Bool("quiet"))),
	}
	if cmd.Bool("no-email") {
		opts = append(opts, rfwscopedaq.WithNotifier(nil))
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := rfwscopedaq.NewRuntime(runCtx, cfg, cavities, outDir, opts...)
	if err != nil {
		return err
	}
	return rt.Run(runCtx)
}

// checkFreeSpace refuses to start a run that could fill the data partition.
// Operators get an email when one is configured; the error goes to the
// terminal either way.
func checkFreeSpace(ctx context.Context, cfg *rfwscopedaq.Config) error {
	partition := cfg.DB.DataPartition
	if cfg.Output == "file" || partition == "" {
		partition = cfg.BaseDir
	}
	if partition == "" {
		return nil
	}

	var st unix.Statfs_t
	if err := unix.Statfs(partition, &st); err != nil {
		// An unstatable partition usually means a config typo, not a full
		// disk. Let the run proceed and fail loudly later if it must.
		log.Printf("statfs %s: %v", partition, err)
		return nil
	}

	freeGB := float64(st.Bavail) * float64(st.Bsize) / 1e9
	if freeGB >= cfg.MinFreeGB {
		return nil
	}

	msg := fmt.Sprintf("only %.1f GB free on %s (minimum %.1f GB); not starting collection",
		freeGB, partition, cfg.MinFreeGB)
	if cfg.Email.FromAddr != "" && len(cfg.Email.ToAddrs) > 0 {
		sender := notify.NewEmailSender(cfg.Email.SMTPServer, cfg.Email.FromAddr, cfg.Email.ToAddrs)
		if err := sender.Notify(ctx, "RFWScopeDAQ Disk Space Alert", msg+"\n"); err != nil {
			log.Printf("disk space alert not sent: %v", err)
		}
	}
	return fmt.Errorf("%s", msg)
}
