// Package relations holds the constitutive closures shared by the kernels
// and the coupling strategies: the permafrost model mapping the primary
// pair (pressure, temperature) to the conserved pair (water content,
// energy), with analytic Jacobian and a Newton inverse. The closures are
// smooth everywhere so the inverse is well defined through the freezing
// transition.
package relations

import (
	"fmt"
	"math"
)

// FreezePoint is the freezing temperature of water [K].
const FreezePoint = 273.15

// PermafrostModel is the two-variable closure used for conserved-space
// corrections: forward maps, analytic Jacobian, and the inverse map.
// Quantities are per unit cell volume; callers scale by volume.
type PermafrostModel interface {
	// WaterContent returns total molar water content [mol/m^3].
	WaterContent(p, T float64) float64
	// Energy returns volumetric energy [J/m^3].
	Energy(p, T float64) float64
	// Jacobian returns the four partials of (wc, e) wrt (p, T).
	Jacobian(p, T float64) (dwcdp, dwcdT, dedp, dedT float64)
	// InverseSolve finds (p, T) with WaterContent(p,T)=wc and
	// Energy(p,T)=e, starting from (p0, T0).
	InverseSolve(wc, e, p0, T0 float64) (p, T float64, err error)
}

// InverseDivergedError reports a failed model inversion; callers fall back
// to the uncorrected update for that cell.
type InverseDivergedError struct {
	WC, E, P0, T0 float64
}

func (e *InverseDivergedError) Error() string {
	return fmt.Sprintf("model inversion diverged for (wc=%g, e=%g) from (p=%g, T=%g)",
		e.WC, e.E, e.P0, e.T0)
}

// SimplePermafrostModel composes a sigmoid saturation in pressure with a
// sigmoid unfrozen fraction in temperature. The latent-heat term makes
// energy stiff in T near the freezing point, which is exactly the regime
// the conserved-space correction targets.
type SimplePermafrostModel struct {
	Porosity   float64 // [-]
	MolarDens  float64 // liquid molar density [mol/m^3]
	AtmPress   float64 // reference pressure for saturation [Pa]
	PressScale float64 // saturation transition width [Pa]
	TempScale  float64 // freezing transition width [K]
	HeatCapLiq float64 // molar heat capacity of water [J/mol-K]
	Latent     float64 // molar latent heat of fusion [J/mol]
	RockDens   float64 // rock density [kg/m^3]
	HeatCapRok float64 // rock specific heat [J/kg-K]
	IceDeficit float64 // relative molar density change on freezing [-]
	RefTemp    float64 // energy reference temperature [K]
}

func DefaultPermafrostModel() *SimplePermafrostModel {
	return &SimplePermafrostModel{
		Porosity:   0.5,
		MolarDens:  55000,
		AtmPress:   101325,
		PressScale: 10000,
		TempScale:  0.5,
		HeatCapLiq: 75.4,
		Latent:     6010,
		RockDens:   2170,
		HeatCapRok: 835,
		IceDeficit: 0.083,
		RefTemp:    FreezePoint,
	}
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// Saturation is the liquid+ice pore filling fraction as a function of
// pressure, smooth in (0, 1).
func (m *SimplePermafrostModel) Saturation(p float64) float64 {
	return sigmoid((p - m.AtmPress) / m.PressScale)
}

func (m *SimplePermafrostModel) dSaturation(p float64) float64 {
	s := m.Saturation(p)
	return s * (1 - s) / m.PressScale
}

// UnfrozenFraction is the liquid fraction of the pore water, smooth
// through the freezing point.
func (m *SimplePermafrostModel) UnfrozenFraction(T float64) float64 {
	return sigmoid((T - FreezePoint) / m.TempScale)
}

func (m *SimplePermafrostModel) dUnfrozenFraction(T float64) float64 {
	uf := m.UnfrozenFraction(T)
	return uf * (1 - uf) / m.TempScale
}

func (m *SimplePermafrostModel) WaterContent(p, T float64) float64 {
	s := m.Saturation(p)
	uf := m.UnfrozenFraction(T)
	return m.Porosity * m.MolarDens * s * (1 - m.IceDeficit*(1-uf))
}

func (m *SimplePermafrostModel) Energy(p, T float64) float64 {
	s := m.Saturation(p)
	uf := m.UnfrozenFraction(T)
	water := m.Porosity * m.MolarDens * s *
		(m.HeatCapLiq*(T-m.RefTemp) - m.Latent*(1-uf))
	rock := (1 - m.Porosity) * m.RockDens * m.HeatCapRok * (T - m.RefTemp)
	return water + rock
}

func (m *SimplePermafrostModel) Jacobian(p, T float64) (dwcdp, dwcdT, dedp, dedT float64) {
	var (
		s   = m.Saturation(p)
		ds  = m.dSaturation(p)
		uf  = m.UnfrozenFraction(T)
		duf = m.dUnfrozenFraction(T)
		pn  = m.Porosity * m.MolarDens
	)
	dwcdp = pn * ds * (1 - m.IceDeficit*(1-uf))
	dwcdT = pn * s * m.IceDeficit * duf
	dedp = pn * ds * (m.HeatCapLiq*(T-m.RefTemp) - m.Latent*(1-uf))
	dedT = pn*s*(m.HeatCapLiq+m.Latent*duf) +
		(1-m.Porosity)*m.RockDens*m.HeatCapRok
	return
}

const (
	inverseMaxItr = 100
	inverseTol    = 1e-12
)

// InverseSolve runs a damped 2x2 Newton on the forward maps. Tolerances
// are relative to the target magnitudes so pressure and temperature scales
// do not fight each other.
func (m *SimplePermafrostModel) InverseSolve(wc, e, p0, T0 float64) (p, T float64, err error) {
	var (
		wcScale = math.Abs(wc) + m.Porosity*m.MolarDens
		eScale  = math.Abs(e) + m.RockDens*m.HeatCapRok
	)
	p, T = p0, T0
	for itr := 0; itr < inverseMaxItr; itr++ {
		fw := m.WaterContent(p, T) - wc
		fe := m.Energy(p, T) - e
		if math.Abs(fw)/wcScale < inverseTol && math.Abs(fe)/eScale < inverseTol {
			return p, T, nil
		}
		a, b, c, d := m.Jacobian(p, T)
		det := a*d - b*c
		if det == 0 {
			break
		}
		dp := (d*fw - b*fe) / det
		dT := (a*fe - c*fw) / det
		// damp large temperature swings across the transition
		if lim := 10 * m.TempScale; math.Abs(dT) > lim {
			scale := lim / math.Abs(dT)
			dT *= scale
			dp *= scale
		}
		p -= dp
		T -= dT
	}
	return p0, T0, &InverseDivergedError{WC: wc, E: e, P0: p0, T0: T0}
}

// ThermalConductivity interpolates between frozen and thawed soil
// conductivity through the unfrozen fraction [W/m-K].
func (m *SimplePermafrostModel) ThermalConductivity(p, T float64) float64 {
	const (
		kThawed = 1.0
		kFrozen = 2.0
	)
	uf := m.UnfrozenFraction(T)
	s := m.Saturation(p)
	dry := 0.25
	wet := uf*kThawed + (1-uf)*kFrozen
	return dry + s*(wet-dry)
}

// HydraulicConductivity is the relative-permeability-scaled conductivity
// for the pressure equation; liquid mobility vanishes smoothly as the pore
// water freezes.
func (m *SimplePermafrostModel) HydraulicConductivity(p, T float64) float64 {
	const kSat = 1e-7
	s := m.Saturation(p)
	uf := m.UnfrozenFraction(T)
	mob := s * uf
	return kSat * mob * mob
}
