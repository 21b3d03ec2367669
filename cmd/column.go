/*
Copyright © 2020 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"io/ioutil"
	"math"
	"os"
	"time"

	"github.com/pkg/profile"
	"github.com/spf13/cobra"

	"github.com/tundrasim/tundrasim/InputParameters"
	"github.com/tundrasim/tundrasim/driver"
	"github.com/tundrasim/tundrasim/mesh"
	"github.com/tundrasim/tundrasim/mpc"
	"github.com/tundrasim/tundrasim/pks"
	"github.com/tundrasim/tundrasim/pks/energy"
	"github.com/tundrasim/tundrasim/pks/flow"
	"github.com/tundrasim/tundrasim/pks/veg"
	"github.com/tundrasim/tundrasim/relations"
	"github.com/tundrasim/tundrasim/state"
	"github.com/tundrasim/tundrasim/utils"
)

type ModelColumn struct {
	InputFile string
	Graph     bool
	Delay     time.Duration
	Profile   bool
	Verbose   int
}

// ColumnCmd represents the column command
var ColumnCmd = &cobra.Command{
	Use:   "column",
	Short: "Coupled freeze/thaw column simulation",
	Long: `Runs the coupled energy/flow column with the configured coupling
strategy, optionally with the vegetation kernel on top`,
	Run: func(cmd *cobra.Command, args []string) {
		var (
			err error
		)
		fmt.Println("column called")
		mc := &ModelColumn{}
		if mc.InputFile, err = cmd.Flags().GetString("inputFile"); err != nil {
			panic(err)
		}
		mc.Graph, _ = cmd.Flags().GetBool("graph")
		dr, _ := cmd.Flags().GetInt("delay")
		mc.Delay = time.Duration(dr) * time.Millisecond
		mc.Profile, _ = cmd.Flags().GetBool("profile")
		mc.Verbose, _ = cmd.Flags().GetInt("verbose")
		sp := processColumnInput(mc)
		if err = RunColumn(mc, sp); err != nil {
			fmt.Printf("error: %s\n", err.Error())
			os.Exit(1)
		}
	},
}

func processColumnInput(mc *ModelColumn) (sp *InputParameters.SimulationParameters) {
	sp = InputParameters.DefaultSimulationParameters()
	if len(mc.InputFile) == 0 {
		exampleFile := `
########################################
Title: "Freezing Column"
Coupling: ewc # Can be "none", "block diagonal", "picard"
FinalTime: 864000
Cells: 50
Dz: 0.1
SurfaceTemp: 268.15
InitialTemp: 274.15
Vegetation: false
########################################
`
		fmt.Printf("no input file given, using defaults; example file:%s\n", exampleFile)
		return
	}
	data, err := ioutil.ReadFile(mc.InputFile)
	if err != nil {
		panic(err)
	}
	if err = sp.Parse(data); err != nil {
		panic(err)
	}
	return
}

func init() {
	rootCmd.AddCommand(ColumnCmd)
	ColumnCmd.Flags().StringP("inputFile", "I", "", "YAML file for simulation parameters like:\n\t- Coupling\n\t- FinalTime\n\t- Cells")
	ColumnCmd.Flags().BoolP("graph", "g", false, "display a graph while computing solution")
	ColumnCmd.Flags().IntP("delay", "d", 0, "milliseconds of delay for plotting")
	ColumnCmd.Flags().BoolP("profile", "p", false, "write a CPU profile of the run")
	ColumnCmd.Flags().IntP("verbose", "v", 0, "verbosity: 1 = steps, 2 = solver iterations")
}

// RunColumn wires the kernel tree from the parameters and runs it:
// flow+energy strongly coupled under the configured strategy, vegetation
// (when enabled) weakly coupled on top.
func RunColumn(mc *ModelColumn, sp *InputParameters.SimulationParameters) error {
	if mc.Profile {
		defer profile.Start().Stop()
	}
	sp.Print()

	precon, err := mpc.ParsePreconType(sp.Coupling)
	if err != nil {
		return err
	}

	var (
		msh   = mesh.NewColumn(sp.Cells, 0, sp.Dz)
		pm    = utils.NewPartitionMap(sp.ParallelDegree, sp.Cells)
		s     = state.NewState()
		model = relations.DefaultPermafrostModel()
	)
	s.Verbosity = mc.Verbose

	solverParams := pks.DefaultSolverParams()
	if sp.MaxIterations > 0 {
		solverParams.MaxIterations = sp.MaxIterations
	}

	flowParams := flow.DefaultParams()
	flowParams.SurfacePressure = func(t float64) float64 { return sp.SurfacePressure }
	flowParams.InitialPressure = func(z float64) float64 { return sp.InitialPressure }
	flowParams.ATol, flowParams.RTol = sp.FlowATol, sp.FlowRTol
	flowParams.MaxDt = sp.MaxDt
	flowParams.WithTranspiration = sp.Vegetation
	flowParams.Verbosity = mc.Verbose
	flowPK := flow.New(s, msh, pm, model, flowParams, solverParams)

	energyParams := energy.DefaultParams()
	energyParams.SurfaceTemp = func(t float64) float64 {
		return sp.SurfaceTemp + sp.SurfaceTempAmp*math.Sin(2*math.Pi*t/86400)
	}
	energyParams.BasalFlux = sp.BasalHeatFlux
	energyParams.InitialTemp = func(z float64) float64 { return sp.InitialTemp }
	energyParams.ATol, energyParams.RTol = sp.EnergyATol, sp.EnergyRTol
	energyParams.MaxDt = sp.MaxDt
	energyParams.Verbosity = mc.Verbose
	energyPK := energy.New(s, msh, pm, model, energyParams, solverParams)

	var ewc *mpc.EWCDelegate
	if precon == mpc.PreconEWC {
		ewc = mpc.NewEWCDelegate(model, flow.KeyPressure, energy.KeyTemperature)
	}
	subsurface := mpc.NewStrongMPC("subsurface", s,
		[]mpc.CoupledChild{flowPK, energyPK}, precon, ewc, solverParams)

	var root pks.PK = subsurface
	if sp.Vegetation {
		vegPK := veg.New(s, msh, pm, &veg.BasicVegetation{
			MaxDemand: 1e-3,
			OnsetTemp: 278.15,
			RampWidth: 5,
			Rooting:   0.5,
		}, veg.DefaultParams())
		root = mpc.NewWeakMPC("surface column", vegPK, subsurface)
	}

	var monitor driver.Monitor = &driver.PrintMonitor{
		Keys: []state.Key{energy.KeyTemperature, flow.KeyPressure},
	}
	if mc.Graph {
		cm := driver.NewChartMonitor(msh, 250, 290, energy.KeyTemperature)
		cm.GraphDelay = mc.Delay
		monitor = cm
	}

	co := driver.NewCoordinator(root, s, driver.Params{
		TEnd:        sp.FinalTime,
		InitialDt:   sp.InitialDt,
		MinDt:       sp.MinDt,
		MaxDt:       sp.MaxDt,
		GrowthCap:   2,
		MaxFailures: 12,
		Verbosity:   mc.Verbose,
	}, monitor)
	if err = co.Setup(); err != nil {
		return err
	}
	return co.Run()
}
