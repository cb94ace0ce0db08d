package coordinator

import (
	"errors"
	"fmt"
	"io"

	"github.com/tcassar-diss/tetheroffload/bpf"
	"github.com/tcassar-diss/tetheroffload/bpf/bpfmap"
)

// Maps bundles the maps shared with the offload programs.
type Maps struct {
	Downstream6 *bpfmap.Map[bpf.Downstream6Key, bpf.Tether6Value]
	Upstream6   *bpfmap.Map[bpf.Upstream6Key, bpf.Tether6Value]
	Downstream4 *bpfmap.Map[bpf.Tether4Key, bpf.Tether4Value]
	Upstream4   *bpfmap.Map[bpf.Tether4Key, bpf.Tether4Value]
	Stats       *bpfmap.Map[uint32, bpf.StatsValue]
	Limit       *bpfmap.Map[uint32, uint64]
	Dev         *bpfmap.Map[uint32, uint32]
	Errors      *bpfmap.Map[uint32, uint32]
}

// OpenMaps opens every map pinned below dir. Maps opened before a failure
// are closed again.
func OpenMaps(dir string) (*Maps, error) {
	m := &Maps{}
	var opened []io.Closer

	steps := []func() error{
		func() error { return openInto(dir, bpf.Downstream6MapName, &m.Downstream6, &opened) },
		func() error { return openInto(dir, bpf.Upstream6MapName, &m.Upstream6, &opened) },
		func() error { return openInto(dir, bpf.Downstream4MapName, &m.Downstream4, &opened) },
		func() error { return openInto(dir, bpf.Upstream4MapName, &m.Upstream4, &opened) },
		func() error { return openInto(dir, bpf.StatsMapName, &m.Stats, &opened) },
		func() error { return openInto(dir, bpf.LimitMapName, &m.Limit, &opened) },
		func() error { return openInto(dir, bpf.DevMapName, &m.Dev, &opened) },
		func() error { return openInto(dir, bpf.ErrorMapName, &m.Errors, &opened) },
	}

	for _, step := range steps {
		if err := step(); err != nil {
			for _, c := range opened {
				c.Close()
			}

			return nil, err
		}
	}

	return m, nil
}

func openInto[K, V any](dir, name string, dst **bpfmap.Map[K, V], opened *[]io.Closer) error {
	m, err := bpfmap.Open[K, V](bpf.MapPath(dir, name), bpfmap.ModeReadWrite)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", name, err)
	}

	*dst = m
	*opened = append(*opened, m)

	return nil
}

// Close closes every map that was opened. Nil fields are skipped.
func (m *Maps) Close() error {
	closers := []io.Closer{
		m.Downstream6, m.Upstream6, m.Downstream4, m.Upstream4,
		m.Stats, m.Limit, m.Dev, m.Errors,
	}

	var errs []error

	for _, c := range closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
