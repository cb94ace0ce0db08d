package host_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tcassar-diss/tetheroffload/host"
	"go.uber.org/zap"
)

func greet(name string) string { return "hello " + name }

func count() int { return 0 }

func TestRuntime_GetEnv(t *testing.T) {
	cases := []struct {
		name    string
		served  int32
		request int32
		err     error
	}{
		{name: "same version", served: host.Version1_6, request: host.Version1_6},
		{name: "older version", served: host.Version1_6, request: host.Version1_2},
		{name: "newer version", served: host.Version1_4, request: host.Version1_6, err: host.ErrVersionUnsupported},
		{name: "unknown version", served: host.Version1_8, request: 0x7, err: host.ErrVersionUnsupported},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rt := host.NewRuntime(zap.NewNop().Sugar(), host.WithVersion(c.served))

			env, err := rt.GetEnv(c.request)
			if c.err != nil {
				require.ErrorIs(t, err, c.err)
				require.Nil(t, env)

				return
			}

			require.NoError(t, err)
			require.NotNil(t, env)
		})
	}
}

func TestRuntime_RegisterNatives(t *testing.T) {
	const class = "test/Greeter"

	cases := []struct {
		name    string
		opts    []host.Option
		class   string
		methods []host.NativeMethod
		status  int
	}{
		{
			name:    "undeclared class accepted",
			class:   class,
			methods: []host.NativeMethod{{Name: "greet", Fn: greet}},
			status:  int(host.OK),
		},
		{
			name:    "declared method matches",
			opts:    []host.Option{host.WithClass(class, host.Declare("greet", greet))},
			class:   class,
			methods: []host.NativeMethod{{Name: "greet", Fn: greet}},
			status:  int(host.OK),
		},
		{
			name:    "signature mismatch",
			opts:    []host.Option{host.WithClass(class, host.Declare("greet", greet))},
			class:   class,
			methods: []host.NativeMethod{{Name: "greet", Fn: count}},
			status:  int(host.Err),
		},
		{
			name:    "undeclared method",
			opts:    []host.Option{host.WithClass(class, host.Declare("greet", greet))},
			class:   class,
			methods: []host.NativeMethod{{Name: "count", Fn: count}},
			status:  int(host.Err),
		},
		{
			name:    "empty class name",
			class:   "",
			methods: []host.NativeMethod{{Name: "greet", Fn: greet}},
			status:  int(host.Err),
		},
		{
			name:    "nil implementation",
			class:   class,
			methods: []host.NativeMethod{{Name: "greet"}},
			status:  int(host.Err),
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rt := host.NewRuntime(zap.NewNop().Sugar(), c.opts...)

			env, err := rt.GetEnv(host.Version1_6)
			require.NoError(t, err)

			require.Equal(t, c.status, env.RegisterNatives(c.class, c.methods))

			_, ok := rt.Method(c.class, c.methods[0].Name)
			require.Equal(t, c.status == int(host.OK), ok)
		})
	}
}

func TestRuntime_RegisterNativesAllOrNothing(t *testing.T) {
	rt := host.NewRuntime(zap.NewNop().Sugar())

	env, err := rt.GetEnv(host.Version1_6)
	require.NoError(t, err)

	status := env.RegisterNatives("test/Partial", []host.NativeMethod{
		{Name: "greet", Fn: greet},
		{Name: "broken"},
	})

	require.Negative(t, status)
	require.Empty(t, rt.Classes())
	require.Empty(t, rt.Methods("test/Partial"))
}

func TestRuntime_Load(t *testing.T) {
	cases := []struct {
		name  string
		token int32
		err   error
	}{
		{name: "success", token: host.Version1_6},
		{name: "error token", token: host.Err, err: host.ErrLoadFailed},
		{name: "too new", token: host.Version1_8, err: host.ErrVersionUnsupported},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rt := host.NewRuntime(zap.NewNop().Sugar())

			got, err := rt.Load(func(vm host.VM, _ any) int32 {
				require.Equal(t, rt, vm)

				return c.token
			})

			require.Equal(t, c.token, got)

			if c.err != nil {
				require.ErrorIs(t, err, c.err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestRuntime_MethodsSorted(t *testing.T) {
	rt := host.NewRuntime(zap.NewNop().Sugar())

	env, err := rt.GetEnv(host.Version1_6)
	require.NoError(t, err)

	require.Zero(t, env.RegisterNatives("b/Second", []host.NativeMethod{{Name: "greet", Fn: greet}}))
	require.Zero(t, env.RegisterNatives("a/First", []host.NativeMethod{
		{Name: "greet", Fn: greet},
		{Name: "count", Fn: count},
	}))

	require.Equal(t, []string{"a/First", "b/Second"}, rt.Classes())

	methods := rt.Methods("a/First")
	require.Len(t, methods, 2)
	require.Equal(t, "count", methods[0].Name)
	require.Equal(t, "func() int", methods[0].Signature())
	require.Equal(t, "greet", methods[1].Name)
}
