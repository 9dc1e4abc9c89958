package compiler

import (
	"errors"
	"testing"

	"github.com/aretw0/chatflow/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func socialFlow() *domain.Flow {
	return &domain.Flow{
		ID:      "social",
		Name:    "Social",
		Version: 1,
		Nodes: []domain.Node{
			{ID: "t", Kind: domain.KindTrigger, Payload: domain.TriggerPayload{Phrase: "hola"}},
			{ID: "welcome", Kind: domain.KindMessage, Payload: domain.MessagePayload{Text: "Bienvenido"}},
			{ID: "networks", Kind: domain.KindList, Payload: domain.ListPayload{
				Title: "Redes", Body: "Elige una red", Button: "Ver",
				Rows: []domain.ListRow{{Label: "Instagram"}, {Label: "TikTok"}},
			}},
			{ID: "ig", Kind: domain.KindMessage, Payload: domain.MessagePayload{Text: "IG link"}},
			{ID: "tt", Kind: domain.KindMessage, Payload: domain.MessagePayload{Text: "TikTok link"}},
		},
		Connections: []domain.Connection{
			{From: "t", FromPort: 0, To: "welcome"},
			{From: "welcome", FromPort: 0, To: "networks"},
			{From: "networks", FromPort: 0, To: "ig"},
			{From: "networks", FromPort: 1, To: "tt"},
		},
	}
}

func problemsOf(t *testing.T, err error) []domain.Problem {
	t.Helper()
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrMalformedFlow))
	var mf *domain.MalformedFlowError
	require.True(t, errors.As(err, &mf))
	return mf.Problems
}

func TestCompile_Valid(t *testing.T) {
	g, err := Compile(socialFlow())
	require.NoError(t, err)

	assert.Equal(t, "social", g.FlowID())
	assert.Equal(t, 1, g.Version())
	assert.Len(t, g.Nodes(), 5)

	next, ok := g.ResolveOutput("networks", 1)
	assert.True(t, ok)
	assert.Equal(t, "tt", next)

	_, ok = g.ResolveOutput("ig", 0)
	assert.False(t, ok, "unconnected port is terminal")

	_, ok = g.ResolveOutput("networks", 2)
	assert.False(t, ok, "port beyond row count")

	assert.Equal(t, []TriggerRef{{Phrase: "hola", NodeID: "t"}}, g.Triggers())
	assert.Empty(t, g.Unreachable())
}

func TestCompile_GraphIsIsolatedFromDocument(t *testing.T) {
	flow := socialFlow()
	g, err := Compile(flow)
	require.NoError(t, err)

	flow.Nodes[2].Payload.(domain.ListPayload).Rows[0].Label = "changed"
	n, _ := g.Node("networks")
	assert.Equal(t, "Instagram", n.Payload.(domain.ListPayload).Rows[0].Label)
}

func TestCompile_Violations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *domain.Flow)
		node   string
		reason string
	}{
		{
			name:   "duplicate id",
			mutate: func(f *domain.Flow) { f.Nodes[4].ID = "ig" },
			node:   "ig",
			reason: "duplicate node id",
		},
		{
			name:   "empty id",
			mutate: func(f *domain.Flow) { f.Nodes = append(f.Nodes, domain.Node{Kind: domain.KindMessage, Payload: domain.MessagePayload{Text: "x"}}) },
			reason: "node at index 5 has an empty id",
		},
		{
			name:   "port out of range",
			mutate: func(f *domain.Flow) { f.Connections = append(f.Connections, domain.Connection{From: "networks", FromPort: 2, To: "ig"}) },
			node:   "networks",
			reason: "port 2 out of range (node has 2 ports)",
		},
		{
			name:   "fan-out",
			mutate: func(f *domain.Flow) { f.Connections = append(f.Connections, domain.Connection{From: "welcome", FromPort: 0, To: "ig"}) },
			node:   "welcome",
			reason: `port 0 connected to both "networks" and "ig"`,
		},
		{
			name:   "dangling target",
			mutate: func(f *domain.Flow) { f.Connections[3].To = "ghost" },
			node:   "networks",
			reason: `port 1 connects to unknown node "ghost"`,
		},
		{
			name:   "unknown source",
			mutate: func(f *domain.Flow) { f.Connections[0].From = "ghost" },
			node:   "ghost",
			reason: "connection from unknown node",
		},
		{
			name:   "empty list",
			mutate: func(f *domain.Flow) { f.Nodes[2].Payload = domain.ListPayload{Title: "x"}; f.Connections = f.Connections[:2] },
			node:   "networks",
			reason: "list has no rows",
		},
		{
			name: "labels colliding after normalization",
			mutate: func(f *domain.Flow) {
				f.Nodes[2].Payload = domain.ListPayload{Rows: []domain.ListRow{{Label: "Instagram"}, {Label: "  INSTAGRAM "}}}
			},
			node:   "networks",
			reason: `rows 1 and 2 share the label "  INSTAGRAM "`,
		},
		{
			name:   "blank trigger phrase",
			mutate: func(f *domain.Flow) { f.Nodes[0].Payload = domain.TriggerPayload{Phrase: "   "} },
			node:   "t",
			reason: "trigger phrase is empty",
		},
		{
			name:   "payload kind mismatch",
			mutate: func(f *domain.Flow) { f.Nodes[3].Payload = domain.MenuPayload{Options: []string{"a"}} },
			node:   "ig",
			reason: `payload of kind "menu" on "message" node`,
		},
		{
			name:   "missing payload",
			mutate: func(f *domain.Flow) { f.Nodes[3].Payload = nil },
			node:   "ig",
			reason: "missing payload",
		},
		{
			name: "edge into trigger",
			mutate: func(f *domain.Flow) {
				f.Connections = append(f.Connections, domain.Connection{From: "ig", FromPort: 0, To: "t"})
			},
			node:   "ig",
			reason: `port 0 connects to trigger node "t"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flow := socialFlow()
			tt.mutate(flow)

			_, err := Compile(flow)
			problems := problemsOf(t, err)
			assert.Contains(t, problems, domain.Problem{NodeID: tt.node, Reason: tt.reason})
		})
	}
}

func TestCompile_AggregatesAllProblems(t *testing.T) {
	flow := socialFlow()
	flow.Nodes[0].Payload = domain.TriggerPayload{}
	flow.Connections = append(flow.Connections,
		domain.Connection{From: "networks", FromPort: 5, To: "ig"},
		domain.Connection{From: "welcome", FromPort: 0, To: "tt"},
	)

	_, err := Compile(flow)
	problems := problemsOf(t, err)
	assert.Len(t, problems, 3)
	assert.Contains(t, err.Error(), "3 problems")
}

func TestCompile_PortCountMatchesRows(t *testing.T) {
	g, err := Compile(socialFlow())
	require.NoError(t, err)

	for _, n := range g.Nodes() {
		switch p := n.Payload.(type) {
		case domain.ListPayload:
			assert.Equal(t, len(p.Rows), n.PortCount())
		case domain.MenuPayload:
			assert.Equal(t, len(p.Options), n.PortCount())
		default:
			assert.Equal(t, 1, n.PortCount())
		}
	}
}

func TestGraph_Unreachable(t *testing.T) {
	flow := socialFlow()
	flow.Nodes = append(flow.Nodes, domain.Node{ID: "orphan", Kind: domain.KindMessage, Payload: domain.MessagePayload{Text: "?"}})

	g, err := Compile(flow)
	require.NoError(t, err)
	assert.Equal(t, []string{"orphan"}, g.Unreachable())
}

func TestCompile_NoTriggersIsValid(t *testing.T) {
	flow := &domain.Flow{
		ID:    "quiet",
		Nodes: []domain.Node{{ID: "m", Kind: domain.KindMessage, Payload: domain.MessagePayload{Text: "hi"}}},
	}
	g, err := Compile(flow)
	require.NoError(t, err)
	assert.Empty(t, g.Triggers())
}

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"Hola":             "hola",
		"  hola   mundo  ": "hola mundo",
		"HOLA\tMUNDO\n":    "hola mundo",
		"":                 "",
		"   ":              "",
	}
	for in, want := range tests {
		assert.Equal(t, want, Normalize(in), "Normalize(%q)", in)
	}
}
