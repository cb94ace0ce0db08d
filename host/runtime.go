package host

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// MethodDecl declares a native method a class expects to be registered.
type MethodDecl struct {
	Name      string
	Signature string
}

// Declare builds a MethodDecl whose signature is the type of prototype.
func Declare(name string, prototype any) MethodDecl {
	return MethodDecl{
		Name:      name,
		Signature: reflect.TypeOf(prototype).String(),
	}
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithVersion sets the highest ABI version the runtime serves.
func WithVersion(v int32) Option {
	return func(r *Runtime) {
		r.version = v
	}
}

// WithClass declares a class and the native methods it accepts.
func WithClass(name string, decls ...MethodDecl) Option {
	return func(r *Runtime) {
		d := make(map[string]string, len(decls))
		for _, m := range decls {
			d[m.Name] = m.Signature
		}

		r.classes[name] = d
	}
}

// Runtime is an in-process VM. It keeps every capability table registered
// against it, keyed by class name.
type Runtime struct {
	logger  *zap.SugaredLogger
	version int32

	mu      sync.RWMutex
	classes map[string]map[string]string
	tables  map[string]map[string]NativeMethod
}

// NewRuntime returns a Runtime serving Version1_6 unless configured
// otherwise.
func NewRuntime(logger *zap.SugaredLogger, opts ...Option) *Runtime {
	r := &Runtime{
		logger:  logger,
		version: Version1_6,
		classes: make(map[string]map[string]string),
		tables:  make(map[string]map[string]NativeMethod),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// GetEnv implements VM.
func (r *Runtime) GetEnv(version int32) (Env, error) {
	if !KnownVersion(version) || version > r.version {
		return nil, fmt.Errorf("%w: requested 0x%x, serving 0x%x", ErrVersionUnsupported, version, r.version)
	}

	return &env{rt: r}, nil
}

// Load runs a module entry point against the runtime and interprets its
// result.
func (r *Runtime) Load(onLoad OnLoadFunc) (int32, error) {
	token := onLoad(r, nil)

	if token == Err {
		return token, ErrLoadFailed
	}

	if !KnownVersion(token) || token > r.version {
		return token, fmt.Errorf("%w: module returned 0x%x", ErrVersionUnsupported, token)
	}

	r.logger.Infow("native module loaded", "version", fmt.Sprintf("0x%x", token), "classes", len(r.Classes()))

	return token, nil
}

// Method returns the implementation registered for className.name.
func (r *Runtime) Method(className, name string) (NativeMethod, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.tables[className][name]

	return m, ok
}

// Classes returns the names of all classes with registered methods, sorted.
func (r *Runtime) Classes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tables))
	for name := range r.tables {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Methods returns the methods registered under className, sorted by name.
func (r *Runtime) Methods(className string) []NativeMethod {
	r.mu.RLock()
	defer r.mu.RUnlock()

	methods := make([]NativeMethod, 0, len(r.tables[className]))
	for _, m := range r.tables[className] {
		methods = append(methods, m)
	}

	sort.Slice(methods, func(i, j int) bool {
		return methods[i].Name < methods[j].Name
	})

	return methods
}

func (r *Runtime) register(className string, methods []NativeMethod) error {
	if className == "" {
		return fmt.Errorf("empty class name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	decls, declared := r.classes[className]

	for _, m := range methods {
		if m.Name == "" || m.Fn == nil {
			return fmt.Errorf("incomplete method entry %q", m.Name)
		}

		if !declared {
			continue
		}

		sig, ok := decls[m.Name]
		if !ok {
			return fmt.Errorf("no method %q declared", m.Name)
		}

		if sig != m.Signature() {
			return fmt.Errorf("method %q: signature %s does not match declared %s", m.Name, m.Signature(), sig)
		}
	}

	table, ok := r.tables[className]
	if !ok {
		table = make(map[string]NativeMethod, len(methods))
		r.tables[className] = table
	}

	for _, m := range methods {
		table[m.Name] = m
	}

	return nil
}

type env struct {
	rt *Runtime
}

func (e *env) RegisterNatives(className string, methods []NativeMethod) int {
	if err := e.rt.register(className, methods); err != nil {
		e.rt.logger.Warnw("failed to register natives", "class", className, "err", err)

		return int(Err)
	}

	e.rt.logger.Debugw("registered natives", "class", className, "methods", len(methods))

	return int(OK)
}
