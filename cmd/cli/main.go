package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"jogarm"

	"github.com/dustin/go-humanize"
	"github.com/golang/geo/r3"
	"github.com/spf13/cobra"
	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/generic"
)

type options struct {
	configPath string
	duration   time.Duration
	rate       float64
	linear     []float64
	angular    []float64
	startDegs  []float64
}

func main() {
	opts := &options{}
	root := &cobra.Command{
		Use:   "jogarm-cli",
		Short: "Stream a constant twist into a simulated arm through the jog pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return realMain(cmd.Context(), opts)
		},
		SilenceUsage: true,
	}
	root.Flags().StringVarP(&opts.configPath, "config", "c", "jogarm.yaml", "YAML config file")
	root.Flags().DurationVarP(&opts.duration, "duration", "d", 2*time.Second, "how long to jog")
	root.Flags().Float64Var(&opts.rate, "rate", 100, "command rate in Hz")
	root.Flags().Float64SliceVar(&opts.linear, "linear", []float64{0.1, 0, 0}, "linear twist x,y,z")
	root.Flags().Float64SliceVar(&opts.angular, "angular", []float64{0, 0, 0}, "angular twist x,y,z")
	root.Flags().Float64SliceVar(&opts.startDegs, "start-degs", nil, "initial joint positions in degrees")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func realMain(ctx context.Context, opts *options) error {
	logger := logging.NewLogger("jogarm-cli")

	cfg, err := jogarm.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if len(opts.linear) != 3 || len(opts.angular) != 3 {
		return fmt.Errorf("--linear and --angular take exactly three values")
	}
	if opts.rate <= 0 {
		return fmt.Errorf("--rate must be positive")
	}
	if cfg.Arm == "" {
		cfg.Arm = "sim-arm"
	}

	start := make([]float64, len(opts.startDegs))
	for i, d := range opts.startDegs {
		start[i] = d * math.Pi / 180
	}
	simArm, err := jogarm.NewSimulatedArm(resource.NewName(arm.API, cfg.Arm), start, logger)
	if err != nil {
		return err
	}
	defer simArm.Close(ctx)

	startPose, err := simArm.EndPosition(ctx, nil)
	if err != nil {
		return err
	}

	svc, err := jogarm.NewJogService(ctx, generic.Named("jog"), cfg, simArm, logger)
	if err != nil {
		return err
	}
	defer svc.Close(context.Background())

	jog := map[string]interface{}{
		"command": "jog",
		"linear":  []interface{}{opts.linear[0], opts.linear[1], opts.linear[2]},
		"angular": []interface{}{opts.angular[0], opts.angular[1], opts.angular[2]},
	}
	logger.Infof("jogging for %v at %.0f Hz", opts.duration, opts.rate)

	ticker := time.NewTicker(time.Duration(float64(time.Second) / opts.rate))
	defer ticker.Stop()
	deadline := time.After(opts.duration)
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-deadline:
			break loop
		case <-ticker.C:
			if _, err := svc.DoCommand(ctx, jog); err != nil {
				return err
			}
		}
	}
	if _, err := svc.DoCommand(context.Background(), map[string]interface{}{"command": "stop"}); err != nil {
		return err
	}

	status, err := svc.DoCommand(context.Background(), map[string]interface{}{"command": "status"})
	if err != nil {
		return err
	}
	endPose, err := simArm.EndPosition(context.Background(), nil)
	if err != nil {
		return err
	}
	moved := endPose.Point().Sub(startPose.Point())

	fmt.Printf("cycles:        %s (%s aborted)\n",
		humanize.Comma(toInt64(status["cycles"])), humanize.Comma(toInt64(status["aborted_cycles"])))
	fmt.Printf("published:     %s trajectories\n", humanize.Comma(toInt64(status["published"])))
	fmt.Printf("safety state:  %v (condition %s)\n", status["state"], humanize.FormatFloat("#,###.##", toFloat(status["condition_number"])))
	fmt.Printf("end effector:  moved %s mm %s\n", humanize.FormatFloat("#,###.#", moved.Norm()), formatVector(moved))
	if cfg.RecordPath != "" {
		if info, err := os.Stat(cfg.RecordPath); err == nil {
			fmt.Printf("session log:   %s (%s)\n", cfg.RecordPath, humanize.Bytes(uint64(info.Size())))
		}
	}
	return nil
}

func formatVector(v r3.Vector) string {
	return fmt.Sprintf("[%.1f %.1f %.1f]", v.X, v.Y, v.Z)
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case uint64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func toFloat(v interface{}) float64 {
	f, _ := v.(float64)
	return f
}
