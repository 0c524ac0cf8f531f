package graph

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/pyclosure/internal/model"
)

// fixture builds:
//
//	a.py: use() -> import "from b import foo" -> b.py:foo
//	b.py: foo() -> bar(), Widget
//	c.py: standalone()
func fixture() *model.Extraction {
	bar := &model.Function{Base: model.Base{Path: "/repo/b.py"}, Name: "bar"}
	widget := &model.Class{Base: model.Base{Path: "/repo/b.py"}, Name: "Widget"}
	foo := &model.Function{Base: model.Base{Path: "/repo/b.py"}, Name: "foo", Children: []model.Node{bar, widget}}
	imp := &model.Import{
		Base:     model.Base{Path: "/repo/a.py", Text: "from b import foo, Widget"},
		Imports:  []model.ResolvedImport{{ParsedImport: model.ParsedImport{Package: "b", Module: "foo"}, Path: "/repo/b.py"}},
		Children: []model.Node{foo, widget},
	}
	use := &model.Function{Base: model.Base{Path: "/repo/a.py"}, Name: "use", Children: []model.Node{imp}}
	standalone := &model.Function{Base: model.Base{Path: "/repo/c.py"}, Name: "standalone"}

	return &model.Extraction{
		RepoName: "repo",
		Root:     "/repo",
		Modules: []*model.Module{
			{Base: model.Base{Path: "/repo/a.py"}, Functions: []*model.Function{use}, Imports: []*model.Import{imp}},
			{Base: model.Base{Path: "/repo/b.py"}, Functions: []*model.Function{foo, bar}},
			{Base: model.Base{Path: "/repo/c.py"}, Functions: []*model.Function{standalone}},
		},
	}
}

func TestDependencies(t *testing.T) {
	t.Parallel()

	deps := Dependencies(fixture())
	require.Len(t, deps, 1)
	assert.Equal(t, model.Dependency{Source: "a.py", Target: "b.py", Symbols: []string{"foo", "Widget"}}, deps[0])
}

func TestDependenciesNoSelfEdge(t *testing.T) {
	t.Parallel()

	helper := &model.Function{Base: model.Base{Path: "/repo/a.py"}, Name: "helper"}
	imp := &model.Import{Base: model.Base{Path: "/repo/a.py", Text: "from . import *"}, Children: []model.Node{helper}}
	x := &model.Extraction{Root: "/repo", Modules: []*model.Module{
		{Base: model.Base{Path: "/repo/a.py"}, Functions: []*model.Function{helper}, Imports: []*model.Import{imp}},
	}}
	assert.Empty(t, Dependencies(x))
}

func TestCallEdges(t *testing.T) {
	t.Parallel()

	edges := CallEdges(fixture())
	assert.Equal(t, []model.CallEdge{
		{Caller: "a.py:use", Callee: "b.py:foo"},
		{Caller: "b.py:foo", Callee: "b.py:bar"},
	}, edges)
}

func TestCallEdgesCycle(t *testing.T) {
	t.Parallel()

	ping := &model.Function{Base: model.Base{Path: "/repo/m.py"}, Name: "ping"}
	pong := &model.Function{Base: model.Base{Path: "/repo/m.py"}, Name: "pong", Children: []model.Node{ping}}
	ping.Children = []model.Node{pong}
	x := &model.Extraction{Root: "/repo", Modules: []*model.Module{
		{Base: model.Base{Path: "/repo/m.py"}, Functions: []*model.Function{ping, pong}},
	}}

	assert.Equal(t, []model.CallEdge{
		{Caller: "m.py:ping", Callee: "m.py:pong"},
		{Caller: "m.py:pong", Callee: "m.py:ping"},
	}, CallEdges(x))
}

func TestRank(t *testing.T) {
	t.Parallel()

	x := fixture()
	Analyze(x)
	require.Len(t, x.Ranks, 3)
	assert.Greater(t, x.Ranks["b.py"], x.Ranks["a.py"])

	var total float64
	for _, r := range x.Ranks {
		total += r
	}
	assert.InDelta(t, 1.0, total, 1e-3)

	ranked := Ranked(x)
	assert.Equal(t, "/repo/b.py", ranked[0].Path)
}

func TestRankUniform(t *testing.T) {
	t.Parallel()

	x := fixture()
	ranks := Rank(x, nil)
	for path, r := range ranks {
		assert.True(t, math.Abs(r-1.0/3) < 1e-9, "%s: %f", path, r)
	}
	assert.Nil(t, Rank(&model.Extraction{}, nil))
}

func TestTop(t *testing.T) {
	t.Parallel()

	x := fixture()
	Analyze(x)

	top := Top(x, 1)
	require.Len(t, top.Modules, 1)
	assert.Equal(t, "/repo/b.py", top.Modules[0].Path)
	assert.Empty(t, top.Dependencies)
	assert.Equal(t, []model.CallEdge{{Caller: "b.py:foo", Callee: "b.py:bar"}}, top.CallEdges)

	assert.Same(t, x, Top(x, 0))
	assert.Same(t, x, Top(x, 10))
}

func TestTopKeepsPathOrder(t *testing.T) {
	t.Parallel()

	x := fixture()
	Analyze(x)

	top := Top(x, 2)
	require.Len(t, top.Modules, 2)
	assert.Less(t, top.Modules[0].Path, top.Modules[1].Path)
}
