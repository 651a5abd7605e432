// Package device selects the numeric backend used for
// training.
//
// Accelerator backends register themselves with Register,
// typically from an init function in a package compiled
// in with a build tag.
// Select prefers the first registered backend that is
// usable on this machine and falls back to the CPU.
package device

import (
	"sort"
	"strings"
	"sync"

	"github.com/klauspost/cpuid/v2"
	"github.com/rs/zerolog"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec32"
)

// A Backend provides an anyvec.Creator for some device.
type Backend interface {
	Name() string

	// Available reports whether the backend can be used
	// on this machine.
	Available() bool

	Creator() anyvec.Creator
}

var registry struct {
	lock     sync.Mutex
	backends []Backend
}

// Register adds an accelerator backend.
// Backends are tried in the order they were registered.
func Register(b Backend) {
	registry.lock.Lock()
	defer registry.lock.Unlock()
	registry.backends = append(registry.backends, b)
}

// Registered returns the registered accelerator backends.
func Registered() []Backend {
	registry.lock.Lock()
	defer registry.lock.Unlock()
	return append([]Backend{}, registry.backends...)
}

// Select picks a backend from the registered accelerators.
// It never fails, since the CPU is always available.
func Select(log zerolog.Logger) Backend {
	return SelectFrom(Registered(), log)
}

// SelectFrom picks the first available backend in
// accelerators, or the CPU backend if there is none.
func SelectFrom(accelerators []Backend, log zerolog.Logger) Backend {
	for _, b := range accelerators {
		if b.Available() {
			log.Info().Str("backend", b.Name()).Msg("using accelerator")
			return b
		}
		log.Debug().Str("backend", b.Name()).Msg("accelerator unavailable")
	}
	cpu := CPU{}
	info := cpu.Info()
	log.Info().
		Str("backend", cpu.Name()).
		Str("brand", info.Brand).
		Int("cores", info.PhysicalCores).
		Int("threads", info.LogicalCores).
		Strs("simd", info.SIMD).
		Msg("using CPU")
	return cpu
}

// CPU is the single-precision CPU backend.
type CPU struct{}

// Name returns "cpu".
func (CPU) Name() string {
	return "cpu"
}

// Available always returns true.
func (CPU) Available() bool {
	return true
}

// Creator returns the anyvec32 creator.
func (CPU) Creator() anyvec.Creator {
	return anyvec32.CurrentCreator()
}

// CPUInfo describes the host processor.
type CPUInfo struct {
	Brand         string
	PhysicalCores int
	LogicalCores  int

	// SIMD lists the vector extensions the processor
	// supports, sorted by name.
	SIMD []string
}

var simdFeatures = map[string]cpuid.FeatureID{
	"sse4.2":   cpuid.SSE42,
	"avx":      cpuid.AVX,
	"avx2":     cpuid.AVX2,
	"fma3":     cpuid.FMA3,
	"avx512f":  cpuid.AVX512F,
	"asimd":    cpuid.ASIMD,
	"asimddp":  cpuid.ASIMDDP,
	"avx512dq": cpuid.AVX512DQ,
}

// Info describes the host processor.
func (CPU) Info() CPUInfo {
	res := CPUInfo{
		Brand:         strings.TrimSpace(cpuid.CPU.BrandName),
		PhysicalCores: cpuid.CPU.PhysicalCores,
		LogicalCores:  cpuid.CPU.LogicalCores,
	}
	for name, id := range simdFeatures {
		if cpuid.CPU.Supports(id) {
			res.SIMD = append(res.SIMD, name)
		}
	}
	sort.Strings(res.SIMD)
	if res.Brand == "" {
		res.Brand = "unknown"
	}
	return res
}
