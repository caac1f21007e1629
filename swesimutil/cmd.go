/*
Copyright © 2024 the SWESim authors.
This file is part of SWESim.

SWESim is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

SWESim is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with SWESim.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package swesimutil holds the configuration and commands of the swesim
// command-line tool.
package swesimutil

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/oceanmodel/swesim"
	"github.com/oceanmodel/swesim/device"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	Cfg = viper.New()

	// Options are the configuration options available to SWESim.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "loglevel",
			usage: `
              loglevel sets the logging verbosity (debug, info, warning, error).`,
			defaultVal: "info",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "nx",
			usage: `
              nx specifies the number of grid cells in the x direction.`,
			defaultVal: 100,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "ny",
			usage: `
              ny specifies the number of grid cells in the y direction.`,
			defaultVal: 100,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "ghost_x",
			usage: `
              ghost_x specifies the number of ghost cells on the east and
              west edges. It must match the ghost width the compute kernel
              was written for.`,
			defaultVal: 2,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "ghost_y",
			usage: `
              ghost_y specifies the number of ghost cells on the north and
              south edges.`,
			defaultVal: 2,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "dx",
			usage: `
              dx specifies the cell size in the x direction [m].`,
			defaultVal: 200.0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "dy",
			usage: `
              dy specifies the cell size in the y direction [m].`,
			defaultVal: 200.0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "dt",
			usage: `
              dt specifies the sub-step size [s].`,
			defaultVal: 1.0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), resumeCmd.Flags()},
		},
		{
			name: "depth",
			usage: `
              depth specifies the equilibrium water depth [m] used to build
              the flat bathymetry for new runs.`,
			defaultVal: 60.0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "g",
			usage: `
              g specifies the gravitational acceleration [m/s2].`,
			defaultVal: 9.81,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "coriolis_f",
			usage: `
              coriolis_f specifies the constant part of the Coriolis
              parameter [1/s].`,
			defaultVal: 0.0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "coriolis_beta",
			usage: `
              coriolis_beta specifies the linear variation of the Coriolis
              parameter with the y coordinate [1/(m s)].`,
			defaultVal: 0.0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "bottom_friction",
			usage: `
              bottom_friction specifies the linear bottom friction
              coefficient [m/s].`,
			defaultVal: 0.0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "theta",
			usage: `
              theta specifies the minmod slope limiter parameter.`,
			defaultVal: 1.3,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "y_zero_reference_cell",
			usage: `
              y_zero_reference_cell specifies the grid row where the beta
              plane crosses zero.`,
			defaultVal: 0.0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "integrator",
			usage: `
              integrator selects the time integration scheme: euler or rk2.`,
			defaultVal: "rk2",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "bc",
			usage: `
              bc specifies the boundary treatment of the north, east, south
              and west edges in that order. Each entry is one of wall,
              periodic, sponge or open.`,
			defaultVal: []string{"wall", "wall", "wall", "wall"},
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "sponge",
			usage: `
              sponge specifies the flow relaxation zone widths in cells for
              the north, east, south and west edges. Entries for edges whose
              bc is not sponge must be 0.`,
			defaultVal: []int{0, 0, 0, 0},
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "end_time",
			usage: `
              end_time specifies the simulation time to advance to [s].`,
			defaultVal: 3600.0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), resumeCmd.Flags()},
		},
		{
			name: "output_interval",
			usage: `
              output_interval specifies the simulated time covered by one
              Advance call [s]; a checkpoint record is written after each.`,
			defaultVal: 60.0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), resumeCmd.Flags()},
		},
		{
			name: "output",
			usage: `
              output specifies the NetCDF file the simulation state is
              written to.`,
			shorthand:  "o",
			defaultVal: "swesim_out.nc",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), resumeCmd.Flags()},
		},
		{
			name: "forcing",
			usage: `
              forcing specifies a NetCDF file holding pre-sampled wind
              stress and atmospheric pressure series.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), resumeCmd.Flags()},
		},
		{
			name: "kernel_source",
			usage: `
              kernel_source specifies an OpenCL C file holding the
              finite-volume step kernel and the boundary kernel. If empty,
              the simulation dry-runs on the host backend with a
              pass-through kernel.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), resumeCmd.Flags()},
		},
		{
			name: "kernel_name",
			usage: `
              kernel_name specifies the step kernel entry point in
              kernel_source.`,
			defaultVal: "swe_step",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), resumeCmd.Flags()},
		},
		{
			name: "boundary_kernel_name",
			usage: `
              boundary_kernel_name specifies the boundary kernel entry point
              in kernel_source.`,
			defaultVal: "swe_boundary",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), resumeCmd.Flags()},
		},
		{
			name: "from",
			usage: `
              from specifies the checkpoint file to resume from.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{resumeCmd.Flags(), describeCmd.Flags()},
		},
	}

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch option.defaultVal.(type) {
			case string:
				if option.shorthand == "" {
					set.String(option.name, option.defaultVal.(string), option.usage)
				} else {
					set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
				}
			case []string:
				set.StringSlice(option.name, option.defaultVal.([]string), option.usage)
			case bool:
				set.Bool(option.name, option.defaultVal.(bool), option.usage)
			case int:
				set.Int(option.name, option.defaultVal.(int), option.usage)
			case []int:
				set.IntSlice(option.name, option.defaultVal.([]int), option.usage)
			case float64:
				set.Float64(option.name, option.defaultVal.(float64), option.usage)
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(runCmd)
	Root.AddCommand(resumeCmd)
	Root.AddCommand(describeCmd)
}

// setConfig finds and reads in the configuration file, if there is one.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(cfgpath)
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("swesim: problem reading configuration file: %v", err)
		}
	}
	level, err := logrus.ParseLevel(Cfg.GetString("loglevel"))
	if err != nil {
		return fmt.Errorf("swesim: %v", err)
	}
	logrus.SetLevel(level)
	return nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "swesim",
	Short: "A shallow-water simulation engine.",
	Long: `SWESim steps 2D shallow-water simulations forward in time on an
execution backend such as OpenCL, around a user-supplied finite-volume
compute kernel.

Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag) or by using command-line arguments.`,
	DisableAutoGenTag: true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("SWESim v%s\n", swesim.Version)
	},
	DisableAutoGenTag: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a simulation from an initial state.",
	Long: `run builds a simulator from the configured grid, physics and
boundary options, starts it from a lake-at-rest state over flat bathymetry
and advances it to end_time, writing one output record per output_interval.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := simulatorConfig(Cfg)
		if err != nil {
			return err
		}
		backend, kernel, newBoundary, cleanup, err := executionStack(Cfg)
		if err != nil {
			return err
		}
		defer cleanup()
		sim, err := swesim.New(cfg, backend, kernel, newBoundary, flatInitialState(cfg))
		if err != nil {
			return err
		}
		defer sim.Close()
		return advanceTo(sim, Cfg.GetFloat64("end_time"), Cfg.GetFloat64("output_interval"))
	},
	DisableAutoGenTag: true,
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a simulation from a checkpoint file.",
	Long: `resume rebuilds a simulator from the last record of the checkpoint
given by --from and advances it to end_time. Grid and physics options come
from the checkpoint header, not from flags.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		from := Cfg.GetString("from")
		if from == "" {
			return fmt.Errorf("swesim: resume requires --from")
		}
		backend, kernel, newBoundary, cleanup, err := executionStack(Cfg)
		if err != nil {
			return err
		}
		defer cleanup()
		opts := swesim.ResumeOptions{
			CheckpointPath: Cfg.GetString("output"),
			Logger:         logrus.StandardLogger(),
		}
		if ffile := Cfg.GetString("forcing"); ffile != "" {
			opts.Wind, opts.Pressure, err = swesim.LoadForcing(ffile)
			if err != nil {
				return err
			}
		}
		sim, err := swesim.FromCheckpoint(from, backend, kernel, newBoundary, opts)
		if err != nil {
			return err
		}
		defer sim.Close()
		target := Cfg.GetFloat64("end_time") - sim.Time()
		if target <= 0 {
			return fmt.Errorf("swesim: checkpoint time %g is already past end_time %g", sim.Time(), Cfg.GetFloat64("end_time"))
		}
		return advanceTo(sim, Cfg.GetFloat64("end_time"), Cfg.GetFloat64("output_interval"))
	},
	DisableAutoGenTag: true,
}

var describeCmd = &cobra.Command{
	Use:   "describe",
	Short: "Print the parameters stored in a checkpoint file.",
	RunE: func(cmd *cobra.Command, args []string) error {
		from := Cfg.GetString("from")
		if from == "" {
			return fmt.Errorf("swesim: describe requires --from")
		}
		return describeCheckpoint(cmd, from)
	},
	DisableAutoGenTag: true,
}

// simulatorConfig converts the viper configuration into a simulator Config.
func simulatorConfig(cfg *viper.Viper) (swesim.Config, error) {
	out := swesim.Config{
		NX:                 cfg.GetInt("nx"),
		NY:                 cfg.GetInt("ny"),
		GhostX:             cfg.GetInt("ghost_x"),
		GhostY:             cfg.GetInt("ghost_y"),
		DX:                 cfg.GetFloat64("dx"),
		DY:                 cfg.GetFloat64("dy"),
		DT:                 cfg.GetFloat64("dt"),
		G:                  cfg.GetFloat64("g"),
		F:                  cfg.GetFloat64("coriolis_f"),
		CoriolisBeta:       cfg.GetFloat64("coriolis_beta"),
		R:                  cfg.GetFloat64("bottom_friction"),
		Theta:              cfg.GetFloat64("theta"),
		YZeroReferenceCell: cfg.GetFloat64("y_zero_reference_cell"),
		CheckpointPath:     cfg.GetString("output"),
		Logger:             logrus.StandardLogger(),
	}
	switch cfg.GetString("integrator") {
	case "euler":
		out.TimeIntegrator = swesim.IntegratorEuler
	case "rk2":
		out.TimeIntegrator = swesim.IntegratorRK2
	default:
		return out, fmt.Errorf("swesim: unknown integrator %q", cfg.GetString("integrator"))
	}

	kinds, err := cast.ToStringSliceE(cfg.Get("bc"))
	if err != nil || len(kinds) != 4 {
		return out, fmt.Errorf("swesim: bc must list four edge kinds (north east south west)")
	}
	edges := []*device.BCKind{
		&out.Boundaries.North, &out.Boundaries.East,
		&out.Boundaries.South, &out.Boundaries.West,
	}
	for i, name := range kinds {
		k, err := bcKind(name)
		if err != nil {
			return out, err
		}
		*edges[i] = k
	}
	widths, err := cast.ToIntSliceE(cfg.Get("sponge"))
	if err != nil || len(widths) != 4 {
		return out, fmt.Errorf("swesim: sponge must list four widths (north east south west)")
	}
	out.Boundaries.SpongeNorth = widths[0]
	out.Boundaries.SpongeEast = widths[1]
	out.Boundaries.SpongeSouth = widths[2]
	out.Boundaries.SpongeWest = widths[3]

	if ffile := cfg.GetString("forcing"); ffile != "" {
		out.Wind, out.Pressure, err = swesim.LoadForcing(ffile)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

func bcKind(name string) (device.BCKind, error) {
	switch name {
	case "wall":
		return device.BCWall, nil
	case "periodic":
		return device.BCPeriodic, nil
	case "sponge":
		return device.BCSponge, nil
	case "open":
		return device.BCOpen, nil
	}
	return 0, fmt.Errorf("swesim: unknown boundary kind %q", name)
}

// executionStack builds the backend, step kernel and boundary factory from
// the configuration: the OpenCL stack when a kernel source file is given,
// otherwise a host dry run.
func executionStack(cfg *viper.Viper) (device.Backend, device.StepKernel, device.BoundaryFactory, func(), error) {
	source := cfg.GetString("kernel_source")
	if source == "" {
		logrus.Info("no kernel source given; dry-running on the host backend")
		return device.NewHostBackend(), device.CopyStepKernel{}, device.NewHostBoundary, func() {}, nil
	}
	text, err := os.ReadFile(source)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("swesim: reading kernel source: %v", err)
	}
	backend, err := device.NewCLBackend(string(text))
	if err != nil {
		return nil, nil, nil, nil, err
	}
	kernel, err := device.NewCLStepKernel(backend, cfg.GetString("kernel_name"))
	if err != nil {
		backend.Close()
		return nil, nil, nil, nil, err
	}
	cleanup := func() {
		kernel.Release()
		backend.Close()
	}
	return backend, kernel, device.NewCLBoundaryFactory(backend, cfg.GetString("boundary_kernel_name")), cleanup, nil
}

// flatInitialState builds a lake-at-rest state over flat bathymetry of the
// configured depth.
func flatInitialState(cfg swesim.Config) swesim.InitialState {
	grid := swesim.Grid{
		NX: cfg.NX, NY: cfg.NY,
		GhostX: cfg.GhostX, GhostY: cfg.GhostY,
		DX: cfg.DX, DY: cfg.DY,
	}
	grid = cfg.Boundaries.Fold(grid)
	h := swesim.ConstantBathymetry(grid, Cfg.GetFloat64("depth"))
	return swesim.InitialState{H: h}
}

func describeCheckpoint(cmd *cobra.Command, path string) error {
	info, err := swesim.ReadCheckpointInfo(path)
	if err != nil {
		return err
	}
	c := info.Config
	cmd.Printf("checkpoint %s\n", path)
	cmd.Printf("  grid:        %d×%d interior, %d×%d ghost, dx=%g dy=%g\n",
		c.NX, c.NY, c.GhostX, c.GhostY, c.DX, c.DY)
	cmd.Printf("  physics:     g=%g f=%g beta=%g r=%g theta=%g y0ref=%g\n",
		c.G, c.F, c.CoriolisBeta, c.R, c.Theta, c.YZeroReferenceCell)
	cmd.Printf("  stepping:    dt=%g integrator=%v\n", c.DT, c.TimeIntegrator)
	b := c.Boundaries
	cmd.Printf("  boundaries:  N=%v E=%v S=%v W=%v sponge=[%d %d %d %d]\n",
		b.North, b.East, b.South, b.West,
		b.SpongeNorth, b.SpongeEast, b.SpongeSouth, b.SpongeWest)
	cmd.Printf("  records:     %d (last at t=%g s)\n", info.Records, info.LastTime)
	return nil
}

// advanceTo drives the simulation clock to endTime in interval-sized calls.
func advanceTo(sim *swesim.Simulator, endTime, interval float64) error {
	if interval <= 0 {
		interval = endTime - sim.Time()
	}
	for sim.Time() < endTime {
		target := interval
		if remaining := endTime - sim.Time(); remaining < target {
			target = remaining
		}
		if _, err := sim.Advance(target); err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"t":          sim.Time(),
			"iterations": sim.Iterations(),
		}).Info("advanced")
	}
	return nil
}
