package catalog

import (
	"context"
	"errors"
	"testing"

	"agentsim/internal/schema"
)

func calcProfile() Profile {
	return Profile{
		Name:        "CalcAgent",
		Instruction: "You are a calculator.",
		Tools: []Tool{
			{
				Name:        "add",
				Description: "Add two numbers.",
				Parameters: schema.Object([]schema.Property{
					{Name: "a", Schema: schema.Number("left operand")},
					{Name: "b", Schema: schema.Number("right operand")},
				}, "a", "b"),
			},
		},
	}
}

func TestProfileValidate(t *testing.T) {
	if err := calcProfile().Validate(); err != nil {
		t.Fatal(err)
	}

	p := calcProfile()
	p.Name = ""
	if p.Validate() == nil {
		t.Error("empty profile name accepted")
	}

	p = calcProfile()
	p.Tools = append(p.Tools, p.Tools[0])
	if p.Validate() == nil {
		t.Error("duplicate tool name accepted")
	}

	p = calcProfile()
	p.Tools[0].Parameters = schema.FieldSchema{Kind: schema.Kind("blob")}
	if p.Validate() == nil {
		t.Error("unknown parameter kind accepted")
	}

	p = calcProfile()
	bad := schema.FieldSchema{Kind: schema.KindArray}
	p.InputSchema = &bad
	if p.Validate() == nil {
		t.Error("array input schema without items accepted")
	}
}

func TestAgentBindAndCall(t *testing.T) {
	a, err := NewAgent(calcProfile())
	if err != nil {
		t.Fatal(err)
	}
	err = a.Bind("add", func(ctx context.Context, args map[string]any) (any, error) {
		return args["a"].(float64) + args["b"].(float64), nil
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := a.Call(context.Background(), "add", map[string]any{"a": 2.0, "b": 3.0})
	if err != nil {
		t.Fatal(err)
	}
	if got != 5.0 {
		t.Errorf("add = %v", got)
	}
}

func TestAgentBindErrors(t *testing.T) {
	a, err := NewAgent(calcProfile())
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Bind("subtract", nil); !errors.Is(err, ErrToolNotFound) {
		t.Errorf("bind unknown tool: %v", err)
	}
	if err := a.Bind("add", nil); !errors.Is(err, ErrNilHandler) {
		t.Errorf("bind nil handler: %v", err)
	}
}

func TestAgentCallErrors(t *testing.T) {
	a, err := NewAgent(calcProfile())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Call(context.Background(), "subtract", nil); !errors.Is(err, ErrToolNotFound) {
		t.Errorf("call unknown tool: %v", err)
	}
	if _, err := a.Call(context.Background(), "add", nil); !errors.Is(err, ErrNilHandler) {
		t.Errorf("call unbound tool: %v", err)
	}
}

func TestCatalogOrder(t *testing.T) {
	c := New()
	for _, name := range []string{"Gamma", "Alpha", "Beta"} {
		p := calcProfile()
		p.Name = name
		a, err := NewAgent(p)
		if err != nil {
			t.Fatal(err)
		}
		if err := c.Add(a); err != nil {
			t.Fatal(err)
		}
	}

	names := c.Names()
	want := []string{"Gamma", "Alpha", "Beta"}
	if len(names) != len(want) {
		t.Fatalf("names = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %s, want %s", i, names[i], want[i])
		}
	}
	profiles := c.Profiles()
	for i := range want {
		if profiles[i].Name != want[i] {
			t.Errorf("profiles[%d] = %s, want %s", i, profiles[i].Name, want[i])
		}
	}
}

func TestCatalogRejectsDuplicate(t *testing.T) {
	c := New()
	a, err := NewAgent(calcProfile())
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Add(a); err != nil {
		t.Fatal(err)
	}
	if err := c.Add(a); err == nil {
		t.Error("duplicate agent accepted")
	}
}

func TestCatalogGet(t *testing.T) {
	c := New()
	a, _ := NewAgent(calcProfile())
	c.Add(a)

	got, err := c.Get("CalcAgent")
	if err != nil {
		t.Fatal(err)
	}
	if got != a {
		t.Error("Get returned a different agent")
	}
	if _, err := c.Get("Ghost"); !errors.Is(err, ErrAgentNotFound) {
		t.Errorf("missing agent: %v", err)
	}
}

func TestFromYAML(t *testing.T) {
	doc := []byte(`
agents:
  - name: WeatherAgent
    instruction: Report the weather.
    tools:
      - name: get_forecast
        description: Fetch the forecast for a city.
        parameters:
          kind: object
          properties:
            city:
              kind: string
              description: City name.
            days:
              kind: integer
              description: Days ahead.
          required: [city]
  - name: EchoAgent
    tools:
      - name: echo
        parameters:
          kind: object
          properties:
            text:
              kind: string
`)
	profiles, err := FromYAML(doc)
	if err != nil {
		t.Fatal(err)
	}
	if len(profiles) != 2 {
		t.Fatalf("profiles = %d", len(profiles))
	}
	if profiles[0].Name != "WeatherAgent" || profiles[1].Name != "EchoAgent" {
		t.Errorf("order = %s, %s", profiles[0].Name, profiles[1].Name)
	}
	tool, ok := profiles[0].Tool("get_forecast")
	if !ok {
		t.Fatal("get_forecast missing")
	}
	if len(tool.Parameters.Properties) != 2 || tool.Parameters.Properties[0].Name != "city" {
		t.Errorf("properties = %+v", tool.Parameters.Properties)
	}
	if len(tool.Parameters.Required) != 1 || tool.Parameters.Required[0] != "city" {
		t.Errorf("required = %v", tool.Parameters.Required)
	}
}

func TestFromYAMLRejectsDuplicateAgent(t *testing.T) {
	doc := []byte(`
agents:
  - name: A
    tools: []
  - name: A
    tools: []
`)
	if _, err := FromYAML(doc); err == nil {
		t.Error("duplicate agent names accepted")
	}
}

func TestFromYAMLRejectsBadSchema(t *testing.T) {
	doc := []byte(`
agents:
  - name: A
    tools:
      - name: t
        parameters:
          kind: object
          required: [ghost]
`)
	if _, err := FromYAML(doc); err == nil {
		t.Error("unknown required property accepted")
	}
}
