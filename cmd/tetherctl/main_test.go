package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tcassar-diss/tetheroffload/host"
	"github.com/tcassar-diss/tetheroffload/onload"
	"go.uber.org/zap"
)

func TestPrintNatives(t *testing.T) {
	rt := host.NewRuntime(zap.NewNop().Sugar())

	_, err := rt.Load(onload.NewLoader(zap.NewNop().Sugar(), onload.DefaultRegistrations()...).OnLoad)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, printNatives(&buf, rt))

	out := buf.String()
	require.Contains(t, out, onload.TcUtilsClass+"\n")
	require.Contains(t, out, "\tgetBpfCounterNames func() []string\n")
	require.Contains(t, out, "\tisEthernet func(string) (bool, error)\n")
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printJSON(&buf, map[uint32]int{3: 1}))
	require.JSONEq(t, `{"3": 1}`, buf.String())
}
