package nodes

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soochol/tradeflow/internal/tradeflow"
)

func named(name string) Executor {
	return ExecutorFunc(func(context.Context, *Call) (any, error) { return name, nil })
}

func TestRegistryDispatchesEveryKind(t *testing.T) {
	r := NewRegistry(named("t"), named("d"), named("i"), named("c"), named("o"), named("n"))
	want := map[tradeflow.NodeKind]string{
		tradeflow.KindTrigger:    "t",
		tradeflow.KindDataSource: "d",
		tradeflow.KindIndicator:  "i",
		tradeflow.KindCondition:  "c",
		tradeflow.KindOrder:      "o",
		tradeflow.KindNotify:     "n",
	}
	for _, k := range tradeflow.Kinds {
		e, err := r.For(&tradeflow.Node{ID: "x", Kind: k})
		require.NoError(t, err, k)
		v, _ := e.Execute(context.Background(), nil)
		assert.Equal(t, want[k], v, k)
	}
}

func TestRegistryRejectsUnknownKind(t *testing.T) {
	r := NewRegistry(named("t"), named("d"), named("i"), named("c"), named("o"), named("n"))
	_, err := r.For(&tradeflow.Node{ID: "x", Kind: "SPREADSHEET"})

	var nee *tradeflow.NodeExecutionError
	require.True(t, errors.As(err, &nee))
	assert.Equal(t, "x", nee.NodeID)
	assert.ErrorIs(t, err, tradeflow.ErrDispatch)
}

func TestRegistryMissingExecutor(t *testing.T) {
	r := NewRegistry(named("t"), nil, named("i"), named("c"), named("o"), named("n"))
	_, err := r.For(&tradeflow.Node{ID: "d", Kind: tradeflow.KindDataSource})
	assert.ErrorIs(t, err, tradeflow.ErrDispatch)
}

func TestRegistryOverridesCopy(t *testing.T) {
	base := NewRegistry(named("t"), named("d"), named("i"), named("c"), named("o"), named("n"))
	replay := base.WithDataSource(named("d2")).WithOrder(named("o2")).WithNotify(named("n2"))

	for kind, want := range map[tradeflow.NodeKind][2]string{
		tradeflow.KindDataSource: {"d", "d2"},
		tradeflow.KindOrder:      {"o", "o2"},
		tradeflow.KindNotify:     {"n", "n2"},
	} {
		n := &tradeflow.Node{ID: "x", Kind: kind}
		e, _ := base.For(n)
		v, _ := e.Execute(context.Background(), nil)
		assert.Equal(t, want[0], v)
		e, _ = replay.For(n)
		v, _ = e.Execute(context.Background(), nil)
		assert.Equal(t, want[1], v)
	}
}
