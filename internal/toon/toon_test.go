package toon

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/pyclosure/internal/model"
)

func TestEncodeValue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", `""`},
		{"simple", "hello", "hello"},
		{"leading space", " hello", `" hello"`},
		{"trailing space", "hello ", `"hello "`},
		{"newline", "a\nb", `"a\nb"`},
		{"tab", "a\tb", `"a\tb"`},
		{"True keyword", "True", `"True"`},
		{"null keyword", "null", `"null"`},
		{"integer", "42", "42"},
		{"negative float", "-3.5", "-3.5"},
		{"leading zero", "01", "01"},
		{"comma", "a,b", `"a,b"`},
		{"colon", "function:foo", `"function:foo"`},
		{"quote", `a"b`, `"a\"b"`},
		{"backslash", `a\b`, `"a\\b"`},
		{"bracket", "List[int]", `"List[int]"`},
		{"dash prefix", "-foo", `"-foo"`},
		{"path", "pkg/main.py", "pkg/main.py"},
		{"dunder", "__init__", "__init__"},
		{"signature", "run(self) -> None", "run(self) -> None"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, encodeValue(tt.in))
		})
	}
}

func TestSignature(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "f()", Signature(&model.Function{Name: "f"}))
	assert.Equal(t, "f(a, b) -> int", Signature(&model.Function{Name: "f", Params: []string{"a", "b"}, ReturnType: "int"}))
}

func TestEncode(t *testing.T) {
	t.Parallel()

	foo := &model.Function{
		Base: model.Base{Path: "/repo/b.py", Span: model.Span{Start: model.Point{Line: 1}}},
		Name: "foo",
	}
	imp := &model.Import{
		Base: model.Base{Path: "/repo/a.py", Text: "from b import  foo", Span: model.Span{Start: model.Point{Line: 1}}},
		Imports: []model.ResolvedImport{
			{ParsedImport: model.ParsedImport{Package: "b", Module: "foo"}, Path: "/repo/b.py"},
		},
		Children: []model.Node{foo},
	}
	use := &model.Function{
		Base:       model.Base{Path: "/repo/a.py", Span: model.Span{Start: model.Point{Line: 3}}},
		Name:       "use",
		Params:     []string{"x"},
		ReturnType: "int",
		Children:   []model.Node{imp},
	}
	x := &model.Extraction{
		RepoName: "myrepo",
		Root:     "/repo",
		Modules: []*model.Module{
			{Base: model.Base{Path: "/repo/a.py"}, Functions: []*model.Function{use}, Imports: []*model.Import{imp}},
			{Base: model.Base{Path: "/repo/b.py"}, Functions: []*model.Function{foo}},
		},
		Dependencies: []model.Dependency{{Source: "a.py", Target: "b.py", Symbols: []string{"foo"}}},
		CallEdges:    []model.CallEdge{{Caller: "a.py:use", Callee: "b.py:foo"}},
		Ranks:        map[string]float64{"a.py": 0.25, "b.py": 0.75},
	}

	lines := strings.Split(Encode(x), "\n")
	require.Len(t, lines, 14)
	assert.Equal(t, []string{
		"repo: myrepo",
		"root: /repo",
		"modules[2]{path,rank,functions,imports}:",
		"  a.py,0.2500,1,1",
		"  b.py,0.7500,1,0",
		"functions[2]{file,name,line,signature,depends}:",
		`  a.py,use,3,use(x) -> int,"import:foo"`,
		`  b.py,foo,1,foo(),""`,
		"imports[1]{file,line,statement,targets}:",
		"  a.py,1,from b import foo,b.py",
		"dependencies[1]{source,target,symbols}:",
		"  a.py,b.py,foo",
		"calls[1]{caller,callee}:",
		`  "a.py:use","b.py:foo"`,
	}, lines)
}

func TestEncodeUnresolvedImport(t *testing.T) {
	t.Parallel()

	imp := &model.Import{
		Base:    model.Base{Path: "/repo/a.py", Text: "import numpy", Span: model.Span{Start: model.Point{Line: 2}}},
		Imports: []model.ResolvedImport{{ParsedImport: model.ParsedImport{Module: "numpy"}}},
	}
	x := &model.Extraction{RepoName: "r", Root: "/repo", Modules: []*model.Module{
		{Base: model.Base{Path: "/repo/a.py"}, Imports: []*model.Import{imp}},
	}}

	assert.Contains(t, Encode(x), `  a.py,2,import numpy,""`)
}

func TestEncodeEmpty(t *testing.T) {
	t.Parallel()

	got := Encode(&model.Extraction{RepoName: "empty", Root: "/empty"})
	for _, header := range []string{
		"modules[0]{path,rank,functions,imports}:",
		"functions[0]{file,name,line,signature,depends}:",
		"imports[0]{file,line,statement,targets}:",
		"dependencies[0]{source,target,symbols}:",
		"calls[0]{caller,callee}:",
	} {
		assert.Contains(t, got, header)
	}
}
