package process

import (
	"strings"
	"testing"
)

func TestParseExecuteRequest(t *testing.T) {
	inputs, err := ParseExecuteRequest([]byte(`{"inputs":[{"id":"name","value":"World"}]}`))
	if err != nil {
		t.Fatalf("ParseExecuteRequest: %v", err)
	}
	if inputs["name"] != "World" {
		t.Errorf("name = %v, want World", inputs["name"])
	}
}

func TestParseExecuteRequest_Invalid(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"not json", `{{{`},
		{"missing inputs", `{"data": []}`},
		{"inputs not array", `{"inputs": "nope"}`},
		{"entry without id", `{"inputs":[{"value":"x"}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseExecuteRequest([]byte(tc.body)); err == nil {
				t.Error("want error, got nil")
			}
		})
	}
}

func TestHelloWorld_Execute(t *testing.T) {
	p := NewHelloWorld()

	out, err := p.Execute(map[string]any{"name": "World"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	outputs, ok := out.([]any)
	if !ok || len(outputs) != 1 {
		t.Fatalf("outputs shape wrong: %#v", out)
	}
	echo := outputs[0].(map[string]any)
	if echo["value"] != "Hello World" {
		t.Errorf("value = %v, want Hello World", echo["value"])
	}
}

func TestHelloWorld_ExecuteWithoutName(t *testing.T) {
	p := NewHelloWorld()
	_, err := p.Execute(map[string]any{})
	if err == nil || !strings.Contains(err.Error(), "without a name") {
		t.Fatalf("want name error, got %v", err)
	}
}

func TestHelloWorld_Metadata(t *testing.T) {
	md := NewHelloWorld().Metadata()
	if md["id"] != "hello-world" {
		t.Errorf("id = %v", md["id"])
	}
	outputs := md["outputs"].([]any)
	first := outputs[0].(map[string]any)["output"].(map[string]any)
	formats := first["formats"].([]any)
	if formats[0].(map[string]any)["mimeType"] != "application/json" {
		t.Error("first output mime type should be application/json")
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register("hello-world", NewHelloWorld())
	if _, ok := r.Get("hello-world"); !ok {
		t.Error("registered processor not found")
	}
	if _, ok := r.Get("nope"); ok {
		t.Error("unknown processor should not resolve")
	}
}
