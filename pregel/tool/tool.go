package tool

import (
	"context"
	"fmt"

	"github.com/supersteps/pregel"
)

// Tool defines the interface for executable tools that LLMs can invoke.
//
// Tools enable LLMs to interact with external systems and perform actions:
//   - Web searches
//   - Database queries
//   - API calls
//   - File operations
//   - Calculations
//   - Code execution
//
// Implementations should:
//   - Validate input parameters
//   - Respect context cancellation and timeouts
//   - Return structured output as map[string]interface{}
//   - Handle errors gracefully with clear error messages
//   - Be idempotent when possible
//
// Example implementation:
//
//	type WeatherTool struct{}
//
//	func (w *WeatherTool) Name() string {
//	    return "get_weather"
//	}
//
//	func (w *WeatherTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
//	    location, ok := input["location"].(string)
//	    if !ok {
//	        return nil, errors.New("location parameter required")
//	    }
//
//	    // Fetch weather data...
//	    temp := 72.5
//
//	    return map[string]interface{}{
//	        "temperature": temp,
//	        "conditions":  "sunny",
//	        "location":    location,
//	    }, nil
//	}
//
// Example usage in a workflow:
//
//	weatherTool := &WeatherTool{}
//	input := map[string]interface{}{"location": "San Francisco"}
//	output, err := weatherTool.Call(ctx, input)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Temperature: %v\n", output["temperature"])
type Tool interface {
	// Name returns the unique identifier for this tool.
	//
	// The name must match the tool name in ToolSpec used by the LLM.
	// Names should be lowercase with underscores, following function naming conventions.
	//
	// Examples: "search_web", "get_weather", "calculate", "send_email"
	Name() string

	// Call executes the tool with the provided input and returns the result.
	//
	// Parameters:
	//   - ctx: Context for cancellation, timeout, and metadata propagation
	//   - input: Tool parameters as key-value pairs (may be nil for parameterless tools)
	//
	// Returns:
	//   - map[string]interface{}: Tool execution result
	//   - error: Execution errors, validation errors, or context cancellation
	//
	// The input structure should match the Schema defined in the corresponding ToolSpec.
	// The output can be any structured data that the LLM can process.
	//
	// Implementations should:
	//   - Check ctx.Err() before expensive operations
	//   - Validate required input parameters
	//   - Return descriptive errors for invalid inputs
	//   - Include relevant metadata in the output
	Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)
}

// Call is what a ToolNode reads from its input channel: which registered
// Tool to invoke and its parameters.
type Call struct {
	Name  string
	Input map[string]interface{}
}

// Registry resolves a Call.Name to a Tool.
type Registry map[string]Tool

// NewRegistry builds a Registry from tools, keyed by Tool.Name().
func NewRegistry(tools ...Tool) Registry {
	r := make(Registry, len(tools))
	for _, t := range tools {
		r[t.Name()] = t
	}
	return r
}

// ToolNodeConfig names the channels a ToolNode reads and writes.
type ToolNodeConfig struct {
	// CallChannel holds the Call to dispatch. Required.
	CallChannel string
	// OutputChannel receives the tool's result map. Required.
	OutputChannel string
}

// NewToolNode adapts a Registry into a pregel.Node: it reads a Call from
// CallChannel, dispatches it to the matching Tool, and writes the result to
// OutputChannel. An unknown tool name or a Tool error fails the task.
func NewToolNode(registry Registry, cfg ToolNodeConfig) pregel.Node {
	return pregel.NodeFunc(func(ctx context.Context, in pregel.TaskInput) pregel.TaskResult {
		call, ok := in.Values[cfg.CallChannel].(Call)
		if !ok {
			return pregel.TaskResult{Err: fmt.Errorf("tool: %s did not hold a Call", cfg.CallChannel)}
		}
		t, ok := registry[call.Name]
		if !ok {
			return pregel.TaskResult{Err: fmt.Errorf("tool: unknown tool %q", call.Name)}
		}
		out, err := t.Call(ctx, call.Input)
		if err != nil {
			return pregel.TaskResult{Err: err}
		}
		return pregel.TaskResult{Update: map[string]any{cfg.OutputChannel: out}}
	})
}
