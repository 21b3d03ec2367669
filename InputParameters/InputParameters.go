package InputParameters

import (
	"fmt"

	"github.com/ghodss/yaml"
)

// Parameters obtained from the YAML input file
type SimulationParameters struct {
	Title          string  `yaml:"Title"`
	Coupling       string  `yaml:"Coupling"` // none, block diagonal, picard, ewc
	FinalTime      float64 `yaml:"FinalTime"`
	InitialDt      float64 `yaml:"InitialDt"`
	MinDt          float64 `yaml:"MinDt"`
	MaxDt          float64 `yaml:"MaxDt"`
	Cells          int     `yaml:"Cells"`
	Dz             float64 `yaml:"Dz"`
	ParallelDegree int     `yaml:"ParallelDegree"`
	MaxIterations  int     `yaml:"MaxIterations"`

	SurfaceTemp     float64 `yaml:"SurfaceTemp"`
	SurfaceTempAmp  float64 `yaml:"SurfaceTempAmp"` // diurnal amplitude
	BasalHeatFlux   float64 `yaml:"BasalHeatFlux"`
	InitialTemp     float64 `yaml:"InitialTemp"`
	SurfacePressure float64 `yaml:"SurfacePressure"`
	InitialPressure float64 `yaml:"InitialPressure"`
	Vegetation      bool    `yaml:"Vegetation"`

	EnergyATol float64 `yaml:"EnergyATol"`
	EnergyRTol float64 `yaml:"EnergyRTol"`
	FlowATol   float64 `yaml:"FlowATol"`
	FlowRTol   float64 `yaml:"FlowRTol"`
}

func DefaultSimulationParameters() *SimulationParameters {
	return &SimulationParameters{
		Title:           "Freezing Column",
		Coupling:        "ewc",
		FinalTime:       86400 * 10,
		InitialDt:       600,
		MinDt:           1e-3,
		MaxDt:           86400,
		Cells:           50,
		Dz:              0.1,
		ParallelDegree:  1,
		MaxIterations:   20,
		SurfaceTemp:     268.15,
		SurfaceTempAmp:  5,
		BasalHeatFlux:   0.06,
		InitialTemp:     274.15,
		SurfacePressure: 101325,
		InitialPressure: 101325,
		EnergyATol:      1,
		EnergyRTol:      1e-5,
		FlowATol:        0.1,
		FlowRTol:        1e-5,
	}
}

func (sp *SimulationParameters) Parse(data []byte) error {
	return yaml.Unmarshal(data, sp)
}

func (sp *SimulationParameters) Print() {
	fmt.Printf("\"%s\"\t\t= Title\n", sp.Title)
	fmt.Printf("[%s]\t\t\t= Coupling\n", sp.Coupling)
	fmt.Printf("%8.5g\t\t= FinalTime\n", sp.FinalTime)
	fmt.Printf("%8.5g\t\t= InitialDt\n", sp.InitialDt)
	fmt.Printf("[%d x %8.5g]\t= Cells x Dz\n", sp.Cells, sp.Dz)
	fmt.Printf("%8.5f\t\t= SurfaceTemp\n", sp.SurfaceTemp)
	fmt.Printf("%8.5f\t\t= SurfaceTempAmp\n", sp.SurfaceTempAmp)
	fmt.Printf("%8.5f\t\t= InitialTemp\n", sp.InitialTemp)
	fmt.Printf("%8.5f\t\t= BasalHeatFlux\n", sp.BasalHeatFlux)
	fmt.Printf("[%t]\t\t\t= Vegetation\n", sp.Vegetation)
}
