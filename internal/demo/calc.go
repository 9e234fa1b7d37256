package demo

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"agentsim/internal/catalog"
	"agentsim/internal/runner"
	"agentsim/internal/schema"
)

// CalcAgent builds the calculator demo agent. Its divide tool fails with a
// ValueError fault on a zero denominator, which makes it handy for walking
// through error capture end to end.
func CalcAgent() (*catalog.Agent, error) {
	profile := catalog.Profile{
		Name:        "CalcAgent",
		Instruction: "You are a calculator. Use the tools for every arithmetic step and never compute in your head.",
		Tools: []catalog.Tool{
			{
				Name:        "add",
				Description: "Add two numbers.",
				Parameters: schema.Object([]schema.Property{
					{Name: "a", Schema: schema.Number("First addend.")},
					{Name: "b", Schema: schema.Number("Second addend.")},
				}, "a", "b"),
			},
			{
				Name:        "divide",
				Description: "Divide numerator by denominator.",
				Parameters: schema.Object([]schema.Property{
					{Name: "numerator", Schema: schema.Number("Value to divide.")},
					{Name: "denominator", Schema: schema.Number("Value to divide by.")},
				}, "numerator", "denominator"),
			},
		},
	}
	agent, err := catalog.NewAgent(profile)
	if err != nil {
		return nil, err
	}
	if err := agent.Bind("add", addTool); err != nil {
		return nil, err
	}
	if err := agent.Bind("divide", divideTool); err != nil {
		return nil, err
	}
	return agent, nil
}

func addTool(ctx context.Context, args map[string]any) (any, error) {
	a, err := number(args, "a")
	if err != nil {
		return nil, err
	}
	b, err := number(args, "b")
	if err != nil {
		return nil, err
	}
	return map[string]any{"sum": a + b}, nil
}

func divideTool(ctx context.Context, args map[string]any) (any, error) {
	n, err := number(args, "numerator")
	if err != nil {
		return nil, err
	}
	d, err := number(args, "denominator")
	if err != nil {
		return nil, err
	}
	if d == 0 {
		return nil, &runner.Fault{Kind: "ValueError", Message: "division by zero"}
	}
	q := n / d
	if math.IsInf(q, 0) || math.IsNaN(q) {
		return nil, &runner.Fault{Kind: "ValueError", Message: "result is not a finite number"}
	}
	return map[string]any{"quotient": q}, nil
}

func number(args map[string]any, key string) (float64, error) {
	switch v := args[key].(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, &runner.Fault{Kind: "ValueError", Message: fmt.Sprintf("%s is not a number", key)}
		}
		return f, nil
	default:
		return 0, &runner.Fault{Kind: "ValueError", Message: fmt.Sprintf("%s is not a number", key)}
	}
}
