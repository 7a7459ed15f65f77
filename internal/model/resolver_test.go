package model_test

import (
	"testing"

	"github.com/cortexproxy/cortex-proxy/internal/model"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name      string
		requested string
		modelMap  map[string]string
		want      string
	}{
		{
			name:      "explicit map entry wins over heuristics",
			requested: "my-alias",
			modelMap:  map[string]string{"my-alias": "claude-haiku-4-5"},
			want:      "claude-haiku-4-5",
		},
		{
			name:      "map entry beats a name that would also match a heuristic",
			requested: "claude-3-5-sonnet-20241022",
			modelMap:  map[string]string{"claude-3-5-sonnet-20241022": "claude-4-opus"},
			want:      "claude-4-opus",
		},
		{name: "opus-4-5 heuristic", requested: "claude-opus-4-5-20250101", want: "claude-opus-4-5"},
		{name: "4-5-opus heuristic", requested: "claude-4-5-opus-preview", want: "claude-opus-4-5"},
		{name: "4-opus heuristic", requested: "claude-4-opus-latest", want: "claude-4-opus"},
		{name: "opus-4 heuristic", requested: "claude-opus-4", want: "claude-4-opus"},
		{name: "haiku heuristic", requested: "claude-3-haiku", want: "claude-haiku-4-5"},
		{name: "3-5 and sonnet heuristic", requested: "claude-3-5-sonnet", want: "claude-3-5-sonnet"},
		{name: "3-5 without sonnet falls to default", requested: "gpt-3-5-turbo", want: model.DefaultUpstreamModel},
		{name: "unrecognized name falls to default", requested: "some-other-model", want: model.DefaultUpstreamModel},
		{name: "empty name falls to default", requested: "", want: model.DefaultUpstreamModel},
		{
			name:      "priority: opus-4-5 over opus-4 when both substrings present",
			requested: "claude-opus-4-5",
			want:      "claude-opus-4-5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := model.Resolve(tt.requested, tt.modelMap)
			if got != tt.want {
				t.Errorf("Resolve(%q, %v) = %q, want %q", tt.requested, tt.modelMap, got, tt.want)
			}
		})
	}
}
