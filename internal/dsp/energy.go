package dsp

import (
	"fmt"
	"math/cmplx"

	"gonum.org/v1/gonum/cmplxs"
)

// EnergyEpsilon is the smallest energy used as a divisor. Smaller energies are replaced
// by 1, so a silent window reports its raw correlation power instead of dividing by zero.
// The value is the single-precision machine epsilon.
const EnergyEpsilon = 1.1920928955078125e-07

// SignalEnergy writes the local received energy for each of the len(signal)+codeLen
// correlation outputs into dst and returns it. The leading codeLen outputs use the first
// codeLen samples, outputs [codeLen, len(signal)) use the window [j-codeLen, j), and the
// trailing codeLen outputs use the last codeLen samples.
func SignalEnergy(dst []float64, signal []complex128, codeLen int) []float64 {
	dst = SignalNorm(dst, signal, codeLen)
	for j, v := range dst {
		dst[j] = v * v
	}
	return dst
}

// SignalNorm is SignalEnergy without the square: it writes the L2 norm of each window.
// Norms are accumulated with scaling, so windows whose energy would overflow float64 stay
// finite.
func SignalNorm(dst []float64, signal []complex128, codeLen int) []float64 {
	n := len(signal)
	if codeLen <= 0 || codeLen > n {
		panic(fmt.Sprintf("dsp: energy window %d does not fit %d samples", codeLen, n))
	}
	if cap(dst) < n+codeLen {
		dst = make([]float64, n+codeLen)
	}
	dst = dst[:n+codeLen]

	lead := cmplxs.Norm(signal[:codeLen], 2)
	for j := 0; j < codeLen; j++ {
		dst[j] = lead
	}
	for j := codeLen; j < n; j++ {
		dst[j] = cmplxs.Norm(signal[j-codeLen:j], 2)
	}
	trail := cmplxs.Norm(signal[n-codeLen:], 2)
	for j := n; j < n+codeLen; j++ {
		dst[j] = trail
	}
	return dst
}

// ReplicaEnergy returns Σ|replica[j]|².
func ReplicaEnergy(replica []complex128) float64 {
	norm := ReplicaNorm(replica)
	return norm * norm
}

// ReplicaNorm returns the L2 norm of replica.
func ReplicaNorm(replica []complex128) float64 {
	return cmplxs.Norm(replica, 2)
}

// GuardEnergy returns e, or 1 when |e| is below EnergyEpsilon.
func GuardEnergy(e float64) float64 {
	if e < EnergyEpsilon && e > -EnergyEpsilon {
		return 1
	}
	return e
}

// GuardNorm applies GuardEnergy to the square of a norm: it returns 1 when norm² is below
// EnergyEpsilon and norm otherwise.
func GuardNorm(norm float64) float64 {
	if norm*norm < EnergyEpsilon {
		return 1
	}
	return norm
}

// NormalizePower writes (|decoded[j]| / (signalNorm[j]·replicaNorm))² into dst, guarding
// both norms with GuardNorm. This equals |decoded[j]|² / (E_sig[j]·E_rep) but divides
// before squaring, so large finite inputs do not overflow.
func NormalizePower(dst []float64, decoded []complex128, signalNorm []float64, replicaNorm float64) []float64 {
	if len(signalNorm) != len(decoded) {
		panic(fmt.Sprintf("dsp: %d window norms for %d correlation values", len(signalNorm), len(decoded)))
	}
	if cap(dst) < len(decoded) {
		dst = make([]float64, len(decoded))
	}
	dst = dst[:len(decoded)]

	rep := GuardNorm(replicaNorm)
	for j, d := range decoded {
		ratio := cmplx.Abs(d) / GuardNorm(signalNorm[j]) / rep
		dst[j] = ratio * ratio
	}
	return dst
}
