package onload_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tcassar-diss/tetheroffload/host"
	"github.com/tcassar-diss/tetheroffload/onload"
	"github.com/tcassar-diss/tetheroffload/tethering/coordinator"
	"github.com/tcassar-diss/tetheroffload/tethering/tetherutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeEnv struct {
	id int
}

func (*fakeEnv) RegisterNatives(string, []host.NativeMethod) int { return 0 }

type fakeVM struct {
	env      host.Env
	err      error
	versions []int32
}

func (v *fakeVM) GetEnv(version int32) (host.Env, error) {
	v.versions = append(v.versions, version)

	if v.err != nil {
		return nil, v.err
	}

	return v.env, nil
}

type call struct {
	name string
	env  host.Env
}

// recorder builds registrations returning the given statuses and records
// every invocation.
type recorder struct {
	calls []call
}

func (r *recorder) registrations(statuses ...int) []onload.Registration {
	regs := make([]onload.Registration, 0, len(statuses))

	for i, status := range statuses {
		name := fmt.Sprintf("table%d", i)
		status := status

		regs = append(regs, onload.Registration{
			Name: name,
			Register: func(env host.Env) int {
				r.calls = append(r.calls, call{name: name, env: env})
				return status
			},
		})
	}

	return regs
}

func (r *recorder) names() []string {
	names := make([]string, 0, len(r.calls))
	for _, c := range r.calls {
		names = append(names, c.name)
	}

	return names
}

func newObserved() (*zap.SugaredLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)

	return zap.New(core).Sugar(), logs
}

func TestOnLoad_GetEnvFails(t *testing.T) {
	logger, logs := newObserved()
	rec := &recorder{}
	vm := &fakeVM{err: errors.New("version unsupported")}

	l := onload.NewLoader(logger, rec.registrations(0, 0, 0, 0)...)

	require.Equal(t, host.Err, l.OnLoad(vm, nil))
	require.Equal(t, []int32{host.Version1_6}, vm.versions)
	require.Empty(t, rec.calls)

	fatal := logs.FilterLevelExact(zapcore.FatalLevel)
	require.Equal(t, 1, fatal.Len())
	require.Equal(t, 1, logs.Len())

	entry := fatal.All()[0]
	require.Equal(t, onload.Tag, entry.LoggerName)
	require.Equal(t, "ERROR: GetEnv failed", entry.Message)

	err := l.Load(vm)
	require.ErrorIs(t, err, onload.ErrEnvironmentUnavailable)
	require.ErrorIs(t, err, vm.err)
}

func TestOnLoad_Sequences(t *testing.T) {
	cases := []struct {
		name     string
		statuses []int
		expected int32
		invoked  []string
	}{
		{
			name:     "all succeed",
			statuses: []int{0, 0, 0, 0},
			expected: host.Version1_6,
			invoked:  []string{"table0", "table1", "table2", "table3"},
		},
		{
			name:     "positive statuses succeed",
			statuses: []int{1, 0, 7, 0},
			expected: host.Version1_6,
			invoked:  []string{"table0", "table1", "table2", "table3"},
		},
		{
			name:     "first fails",
			statuses: []int{-1, 0, 0, 0},
			expected: host.Err,
			invoked:  []string{"table0"},
		},
		{
			name:     "second fails",
			statuses: []int{0, -1, 0, 0},
			expected: host.Err,
			invoked:  []string{"table0", "table1"},
		},
		{
			name:     "third fails",
			statuses: []int{0, 0, -5, 0},
			expected: host.Err,
			invoked:  []string{"table0", "table1", "table2"},
		},
		{
			name:     "last fails",
			statuses: []int{0, 0, 0, -1},
			expected: host.Err,
			invoked:  []string{"table0", "table1", "table2", "table3"},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			logger, logs := newObserved()
			env := &fakeEnv{id: 1}
			vm := &fakeVM{env: env}
			rec := &recorder{}

			l := onload.NewLoader(logger, rec.registrations(c.statuses...)...)

			require.Equal(t, c.expected, l.OnLoad(vm, nil))
			require.Equal(t, c.invoked, rec.names())

			for _, call := range rec.calls {
				require.Same(t, env, call.env)
			}

			// registration failures are not logged by the loader
			require.Zero(t, logs.Len())

			// a second load with the same results behaves the same
			rec.calls = nil
			require.Equal(t, c.expected, l.OnLoad(vm, nil))
			require.Equal(t, c.invoked, rec.names())
		})
	}
}

func TestLoad_RegistrationError(t *testing.T) {
	logger, _ := newObserved()
	rec := &recorder{}

	l := onload.NewLoader(logger, rec.registrations(0, -1, 0)...)

	err := l.Load(&fakeVM{env: &fakeEnv{}})
	require.ErrorIs(t, err, onload.ErrRegistrationFailed)
	require.Contains(t, err.Error(), "table1")
	require.Contains(t, err.Error(), "-1")
}

func TestNamed(t *testing.T) {
	var got string

	r := onload.Named("Thing", func(_ host.Env, className string) int {
		got = className
		return 3
	}, "com/example/Thing")

	require.Equal(t, "Thing", r.Name)
	require.Equal(t, 3, r.Register(&fakeEnv{}))
	require.Equal(t, "com/example/Thing", got)
}

func TestDefaultRegistrations(t *testing.T) {
	regs := onload.DefaultRegistrations()

	names := make([]string, 0, len(regs))
	for _, r := range regs {
		names = append(names, r.Name)
	}

	require.Equal(t, []string{"TetheringUtils", "BpfMap", "TcUtils", "BpfCoordinator"}, names)
}

func TestOnLoad_Runtime(t *testing.T) {
	rt := host.NewRuntime(zap.NewNop().Sugar())

	token, err := rt.Load(onload.OnLoad)
	require.NoError(t, err)
	require.Equal(t, host.Version1_6, token)

	// BpfUtils is not part of the load sequence
	require.Equal(t, []string{
		coordinator.ClassName,
		onload.BpfMapClass,
		onload.TcUtilsClass,
		tetherutil.ClassName,
	}, rt.Classes())
}

func TestOnLoad_RuntimeRejectsTable(t *testing.T) {
	logger, logs := newObserved()

	// declaring TcUtils without its methods makes the host reject the table
	rt := host.NewRuntime(zap.NewNop().Sugar(), host.WithClass(onload.TcUtilsClass))

	l := onload.NewLoader(logger, onload.DefaultRegistrations()...)

	token, err := rt.Load(l.OnLoad)
	require.ErrorIs(t, err, host.ErrLoadFailed)
	require.Equal(t, host.Err, token)

	// tables registered before the failure stay registered
	require.Equal(t, []string{onload.BpfMapClass, tetherutil.ClassName}, rt.Classes())
	require.Zero(t, logs.Len())
}

func TestOnLoad_RuntimeTooOld(t *testing.T) {
	logger, logs := newObserved()
	rt := host.NewRuntime(zap.NewNop().Sugar(), host.WithVersion(host.Version1_4))

	l := onload.NewLoader(logger, onload.DefaultRegistrations()...)

	token, err := rt.Load(l.OnLoad)
	require.ErrorIs(t, err, host.ErrLoadFailed)
	require.Equal(t, host.Err, token)
	require.Empty(t, rt.Classes())
	require.Equal(t, 1, logs.FilterLevelExact(zapcore.FatalLevel).Len())
}
