package gateway

import (
	"testing"

	"github.com/shoenig/test/must"

	"github.com/modelgate/modelgate/gateway/structs"
	"github.com/modelgate/modelgate/helper/pointer"
	"github.com/modelgate/modelgate/helper/testlog"
)

func testSelector(t *testing.T, providers map[string]*structs.Provider, routes []*structs.ModelRoutes) (*Selector, *Governor, *testClock) {
	logger := testlog.HCLogger(t)
	registry, err := NewRegistry(providers, routes)
	must.NoError(t, err)

	clock := newTestClock()
	governor := NewGovernor(logger)
	governor.now = clock.Now

	return NewSelector(registry, governor, logger), governor, clock
}

func TestSelector_UnknownModel(t *testing.T) {
	sel, _, _ := testSelector(t, testProviders(), testRoutes())

	_, err := sel.Select("does-not-exist", 10)
	must.ErrorIs(t, err, structs.ErrUnknownModel)
}

func TestSelector_PriorityOrder(t *testing.T) {
	sel, _, _ := testSelector(t, testProviders(), testRoutes())

	// first call lands on the first binding
	got, err := sel.Select("model-a", 10)
	must.NoError(t, err)
	must.Eq(t, "p1", got.Provider)
	must.Eq(t, "", got.Alias)

	// p1 has rpm=1, so the second call fails over to p2 and picks up
	// its alias
	got, err = sel.Select("model-a", 10)
	must.NoError(t, err)
	must.Eq(t, "p2", got.Provider)
	must.Eq(t, "model-a-upstream", got.Alias)
}

func TestSelector_SkipsDisabled(t *testing.T) {
	routes := []*structs.ModelRoutes{
		{Model: "model-a", Bindings: []*structs.ModelBinding{
			{Provider: "p1", Enable: pointer.Of(false)},
			{Provider: "p2"},
		}},
	}
	sel, governor, _ := testSelector(t, testProviders(), routes)

	got, err := sel.Select("model-a", 10)
	must.NoError(t, err)
	must.Eq(t, "p2", got.Provider)

	// only p2's counters moved
	snap := governor.Snapshot(func(string) *structs.Limits { return nil })
	_, ok := snap.Data["p1"]
	must.False(t, ok)
	must.Eq(t, 1, snap.Data["p2"].RPM.Current)
}

func TestSelector_SkipsErrorLimited(t *testing.T) {
	sel, governor, _ := testSelector(t, testProviders(), testRoutes())

	governor.RecordError("p1")

	got, err := sel.Select("model-a", 10)
	must.NoError(t, err)
	must.Eq(t, "p2", got.Provider)

	snap := governor.Snapshot(func(string) *structs.Limits { return nil })
	must.Eq(t, 1, snap.Data["p2"].RPM.Current)
	_, ok := snap.Data["p1"]
	must.False(t, ok, must.Sprint("error-limited provider must not be charged"))
}

func TestSelector_NoCapacity(t *testing.T) {
	providers := map[string]*structs.Provider{
		"p1": {Name: "p1", BaseURL: "http://p1.example/v1",
			Limits: &structs.Limits{RPM: pointer.Of(0)}},
	}
	routes := []*structs.ModelRoutes{
		{Model: "model-a", Bindings: []*structs.ModelBinding{{Provider: "p1"}}},
	}
	sel, _, _ := testSelector(t, providers, routes)

	_, err := sel.Select("model-a", 10)
	must.ErrorIs(t, err, structs.ErrNoCapacity)
}

func TestSelector_AutoFailsOverModels(t *testing.T) {
	// model-a -> p1 (rpm=1), model-b -> p2 (rpm=10); "auto" lands on
	// model-a first, then falls through to model-b once p1 is full.
	routes := []*structs.ModelRoutes{
		{Model: "model-a", Bindings: []*structs.ModelBinding{{Provider: "p1"}}},
		{Model: "model-b", Bindings: []*structs.ModelBinding{{Provider: "p2"}}},
	}
	sel, governor, _ := testSelector(t, testProviders(), routes)

	got, err := sel.Select("auto", 10)
	must.NoError(t, err)
	must.Eq(t, "model-a", got.Model)
	must.Eq(t, "p1", got.Provider)

	got, err = sel.Select("auto", 10)
	must.NoError(t, err)
	must.Eq(t, "model-b", got.Model)
	must.Eq(t, "p2", got.Provider)

	snap := governor.Snapshot(func(string) *structs.Limits { return nil })
	must.Eq(t, 1, snap.Data["p1"].RPM.Current)
	must.Eq(t, 1, snap.Data["p2"].RPM.Current)
}

func TestSelector_AutoPrefixVariants(t *testing.T) {
	sel, _, _ := testSelector(t, testProviders(), testRoutes())

	// any model name with the auto prefix triggers auto routing
	got, err := sel.Select("auto-fast", 10)
	must.NoError(t, err)
	must.Eq(t, "model-a", got.Model)
}

func TestSelector_AutoNoCapacity(t *testing.T) {
	providers := map[string]*structs.Provider{
		"p1": {Name: "p1", BaseURL: "http://p1.example/v1",
			Limits: &structs.Limits{TPR: pointer.Of(1)}},
	}
	routes := []*structs.ModelRoutes{
		{Model: "model-a", Bindings: []*structs.ModelBinding{{Provider: "p1"}}},
	}
	sel, _, _ := testSelector(t, providers, routes)

	_, err := sel.Select("auto", 50)
	must.ErrorIs(t, err, structs.ErrNoCapacity)
}

func TestSelector_TokenCountCommitted(t *testing.T) {
	sel, governor, _ := testSelector(t, testProviders(), testRoutes())

	got, err := sel.Select("model-b", 123)
	must.NoError(t, err)
	must.Eq(t, 123, got.TokenCount)

	snap := governor.Snapshot(func(string) *structs.Limits { return nil })
	must.Eq(t, 123, snap.Data["p2"].TPM.Current)
}
