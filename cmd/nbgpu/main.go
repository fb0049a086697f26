package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/san-kum/nbgpu/internal/bench"
	"github.com/san-kum/nbgpu/internal/config"
	"github.com/san-kum/nbgpu/internal/device"
	"github.com/san-kum/nbgpu/internal/storage"
	"github.com/san-kum/nbgpu/internal/tui"
)

var (
	dataDir    string
	configFile string
	preset     string
	atoms      int
	steps      int
	seed       int64
	twoStreams bool
	live       bool
	frameRate  int
	parallel   int
	save       bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "nbgpu",
		Short: "GPU nonbonded force benchmark harness",
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".nbgpu", "data directory")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run the nonbonded step loop once",
		RunE:  runBench,
	}
	runCmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	runCmd.Flags().StringVar(&preset, "preset", "ewald-medium", "preset configuration")
	runCmd.Flags().IntVar(&atoms, "atoms", 0, "override atom count")
	runCmd.Flags().IntVar(&steps, "steps", 0, "override step count")
	runCmd.Flags().Int64Var(&seed, "seed", 0, "random seed")
	runCmd.Flags().BoolVar(&twoStreams, "two-streams", false, "enable the nonlocal domain stream")
	runCmd.Flags().BoolVar(&live, "live", false, "live per-step view")
	runCmd.Flags().IntVar(&frameRate, "fps", 15, "live view frame rate")
	runCmd.Flags().BoolVar(&save, "save", false, "persist the run under the data directory")

	benchCmd := &cobra.Command{
		Use:   "bench [preset...]",
		Short: "benchmark several presets concurrently",
		RunE:  runEnsemble,
	}
	benchCmd.Flags().IntVar(&parallel, "parallel", 2, "concurrent runs")
	benchCmd.Flags().BoolVar(&save, "save", false, "persist each run under the data directory")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list saved runs",
		RunE:  listRuns,
	}

	exportCmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "export run metadata as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportRun,
	}

	devicesCmd := &cobra.Command{
		Use:   "devices",
		Short: "show the selected compute device",
		RunE:  showDevices,
	}

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list built-in preset configurations",
		RunE: func(cmd *cobra.Command, args []string) error {
			names := config.ListPresets()
			sort.Strings(names)
			for _, name := range names {
				cfg := config.GetPreset(name)
				fmt.Printf("  %-16s %s elec, %d atoms, %d steps\n",
					name, cfg.Electrostatics, cfg.System.Atoms, cfg.Steps)
			}
			return nil
		},
	}

	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "write a default config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return config.Save(args[0], config.DefaultConfig())
		},
	}

	rootCmd.AddCommand(runCmd, benchCmd, listCmd, exportCmd, devicesCmd, presetsCmd, initCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.GetPreset(preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset %q", preset)
		}
	}
	cfg.Overrides = cfg.Overrides.Merge(config.OverridesFromEnv())

	if atoms > 0 {
		cfg.System.Atoms = atoms
	}
	if steps > 0 {
		cfg.Steps = steps
	}
	if seed != 0 {
		cfg.Seed = seed
	}
	if twoStreams {
		cfg.TwoStreams = true
		if cfg.System.LocalFrac >= 1.0 {
			cfg.System.LocalFrac = 0.7
		}
	}
	return cfg, nil
}

func runBench(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	runner, err := bench.NewRunner()
	if err != nil {
		return err
	}
	defer runner.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	name := preset
	if configFile != "" {
		name = "custom"
	}

	var onStep bench.StepFunc
	if live {
		view := tui.NewLiveView(os.Stdout, name, cfg.Steps, frameRate)
		view.Start()
		defer view.Stop()
		onStep = view.OnStep
	}

	res, err := runner.Run(ctx, name, cfg, onStep)
	if err != nil {
		return err
	}

	fmt.Println(tui.Report(res))

	if save {
		st := storage.New(dataDir)
		if err := st.Init(); err != nil {
			return err
		}
		runID, err := st.Save(res)
		if err != nil {
			return err
		}
		fmt.Printf("saved as %s\n", runID)
	}
	return nil
}

func runEnsemble(cmd *cobra.Command, args []string) error {
	names := args
	if len(names) == 0 {
		names = config.ListPresets()
		sort.Strings(names)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	results, err := bench.RunPresets(ctx, names, parallel)
	if err != nil {
		return err
	}

	fmt.Println(tui.Summary(results))

	if save {
		st := storage.New(dataDir)
		if err := st.Init(); err != nil {
			return err
		}
		for _, res := range results {
			if _, err := st.Save(res); err != nil {
				return err
			}
		}
	}
	return nil
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPRESET\tDEVICE\tATOMS\tSTEPS\tWALL\tTIMED")

	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%.2fs\t%v\n",
			run.ID,
			run.Preset,
			run.Device,
			run.Atoms,
			run.Steps,
			run.WallSeconds,
			run.TimingsOK,
		)
	}

	return w.Flush()
}

func exportRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}

func showDevices(cmd *cobra.Command, args []string) error {
	ctx, err := device.AutoSelect()
	if err != nil {
		return err
	}
	defer ctx.Close()

	info := ctx.Info()
	fmt.Printf("device:        %s\n", info.Name)
	fmt.Printf("compute units: %d\n", info.ComputeUnits)
	if info.TotalMem > 0 {
		fmt.Printf("memory:        %d MiB\n", info.TotalMem>>20)
	}
	return nil
}
