// Package onload is the tethering module's load-time entry point.
//
// On load the module asks the host for an environment at Version1_6 and
// installs its capability tables in a fixed order. The first table the host
// rejects aborts the load; tables installed before it stay installed.
package onload

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tcassar-diss/tetheroffload/bpf/bpfmap"
	"github.com/tcassar-diss/tetheroffload/bpf/tc"
	"github.com/tcassar-diss/tetheroffload/host"
	"github.com/tcassar-diss/tetheroffload/tethering/coordinator"
	"github.com/tcassar-diss/tetheroffload/tethering/tetherutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	ErrEnvironmentUnavailable = errors.New("host environment unavailable")
	ErrRegistrationFailed     = errors.New("native registration failed")
)

// Tag names the logger load diagnostics are written to.
const Tag = "TetheringJni"

// Class names for the tables registered under a caller supplied name.
const (
	BpfMapClass  = "com/android/networkstack/tethering/util/BpfMap"
	TcUtilsClass = "com/android/networkstack/tethering/util/TcUtils"
)

// Registration installs one capability table. A negative result means the
// host rejected it.
type Registration struct {
	Name     string
	Register func(env host.Env) int
}

// Named adapts a registration routine that takes the class name to register
// under.
func Named(name string, fn func(host.Env, string) int, className string) Registration {
	return Registration{
		Name: name,
		Register: func(env host.Env) int {
			return fn(env, className)
		},
	}
}

// DefaultRegistrations returns the module's load sequence.
func DefaultRegistrations() []Registration {
	return []Registration{
		{Name: "TetheringUtils", Register: tetherutil.Register},
		Named("BpfMap", bpfmap.Register, BpfMapClass),
		Named("TcUtils", tc.Register, TcUtilsClass),
		{Name: "BpfCoordinator", Register: coordinator.Register},
	}
}

// continueOnFatal keeps the process alive after a fatal entry is written.
// A module must report a failed load to its host rather than exit it.
type continueOnFatal struct{}

func (continueOnFatal) OnWrite(*zapcore.CheckedEntry, []zapcore.Field) {}

// Loader runs a registration sequence against a host.
type Loader struct {
	logger *zap.SugaredLogger
	regs   []Registration
}

// NewLoader returns a Loader that runs regs in order. Fatal entries written
// through logger do not terminate the process.
func NewLoader(logger *zap.SugaredLogger, regs ...Registration) *Loader {
	l := logger.Desugar().WithOptions(zap.WithFatalHook(continueOnFatal{}))

	return &Loader{
		logger: l.Named(Tag).Sugar(),
		regs:   regs,
	}
}

// Load obtains an environment from vm and runs the registration sequence.
func (l *Loader) Load(vm host.VM) error {
	env, err := vm.GetEnv(host.Version1_6)
	if err != nil {
		l.logger.Fatalw("ERROR: GetEnv failed", "err", err)
		return fmt.Errorf("%w: %w", ErrEnvironmentUnavailable, err)
	}

	for _, r := range l.regs {
		if status := r.Register(env); status < 0 {
			return fmt.Errorf("%w: %s returned %d", ErrRegistrationFailed, r.Name, status)
		}
	}

	return nil
}

// OnLoad is the token form of Load. It returns host.Version1_6 on success
// and host.Err otherwise.
func (l *Loader) OnLoad(vm host.VM, _ any) int32 {
	if err := l.Load(vm); err != nil {
		return host.Err
	}

	return host.Version1_6
}

var (
	defaultLoggerOnce sync.Once
	defaultLogger     *zap.SugaredLogger
)

func loggerForLoad() *zap.SugaredLogger {
	defaultLoggerOnce.Do(func() {
		l, err := zap.NewProduction()
		if err != nil {
			l = zap.NewNop()
		}

		defaultLogger = l.Sugar()
	})

	return defaultLogger
}

// OnLoad is the module entry point. It logs through a production logger and
// runs DefaultRegistrations.
func OnLoad(vm host.VM, reserved any) int32 {
	return NewLoader(loggerForLoad(), DefaultRegistrations()...).OnLoad(vm, reserved)
}

var _ host.OnLoadFunc = OnLoad
