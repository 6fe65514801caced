// YAML workflow definitions.
//
// Workflow versions can be authored as YAML documents and published through
// ParseYAML / ParseYAMLFile. Each node carries a kind-specific config block
// which is decoded into the matching typed payload, so a published version
// never holds untyped configuration.
//
// Example:
//
//	name: Customer Support Automation
//	trigger: KEYWORD
//	nodes:
//	  - id: trigger_2
//	    type: trigger
//	    config:
//	      trigger_type: KEYWORD
//	      keywords: [support, help, assistance, automation]
//	  - id: condition_1
//	    type: condition
//	    config:
//	      predicate: contains
//	      operand: urgent
//	  - id: message_2
//	    type: message
//	    config:
//	      text: "We understand this is urgent."
//	      message_type: text
//	edges:
//	  - from: trigger_2
//	    to: condition_1
//	  - from: condition_1
//	    to: message_2
//	  - from: condition_1
//	    to: message_3
//	    guard: default
//
// Retry blocks support Go duration strings ("300ms", "5s") and the
// constant/linear/exponential backoff strategies.
package workflow

import (
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/automationservice/flowengine/internal/types"
)

// YAMLWorkflow is the top-level structure of a workflow definition file.
type YAMLWorkflow struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description,omitempty"`
	Trigger     string     `yaml:"trigger"`
	Version     int        `yaml:"version,omitempty"`
	Nodes       []YAMLNode `yaml:"nodes"`
	Edges       []YAMLEdge `yaml:"edges"`
}

// YAMLNode is one node of a definition file. Config is decoded into the
// typed payload matching Type.
type YAMLNode struct {
	ID     string         `yaml:"id"`
	Type   string         `yaml:"type"`
	Name   string         `yaml:"name,omitempty"`
	Config map[string]any `yaml:"config"`
	Retry  *YAMLRetry     `yaml:"retry,omitempty"`
}

// YAMLEdge is one directed edge of a definition file.
type YAMLEdge struct {
	From  string `yaml:"from"`
	To    string `yaml:"to"`
	Guard string `yaml:"guard,omitempty"`
}

// YAMLRetry is an optional per-node retry policy block.
type YAMLRetry struct {
	MaxRetries   int     `yaml:"max_retries"`
	Backoff      string  `yaml:"backoff,omitempty"`
	InitialDelay string  `yaml:"initial_delay,omitempty"`
	MaxDelay     string  `yaml:"max_delay,omitempty"`
	Multiplier   float64 `yaml:"multiplier,omitempty"`
}

// ParseYAMLFile reads and publishes a workflow definition from a file.
func ParseYAMLFile(tenantID types.ID, path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}
	return ParseYAML(tenantID, data)
}

// ParseYAML parses a YAML workflow definition and runs full publish-time
// validation, returning a ready-to-execute workflow version.
func ParseYAML(tenantID types.ID, data []byte) (*Workflow, error) {
	var doc YAMLWorkflow
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse workflow YAML: %w", err)
	}

	if doc.Name == "" {
		return nil, types.NewError(types.WORKFLOW_INVALID, "workflow name is required")
	}

	builder := NewBuilder(tenantID, doc.Name, TriggerKind(doc.Trigger)).
		WithDescription(doc.Description)
	if doc.Version > 0 {
		builder.WithVersion(doc.Version)
	}

	for _, yn := range doc.Nodes {
		node, err := buildNode(yn)
		if err != nil {
			return nil, err
		}
		builder.AddNode(node)
	}

	for _, ye := range doc.Edges {
		builder.AddGuardedEdge(ye.From, ye.To, EdgeGuard(ye.Guard))
	}

	return builder.Build()
}

// buildNode converts a YAML node into a typed Node, decoding the untyped
// config block into the payload shape its kind requires.
func buildNode(yn YAMLNode) (*Node, error) {
	node := &Node{
		ID:   yn.ID,
		Type: NodeType(yn.Type),
		Name: yn.Name,
	}

	switch node.Type {
	case NodeTypeTrigger:
		var cfg TriggerConfig
		if err := decodeConfig(yn, &cfg); err != nil {
			return nil, err
		}
		node.Trigger = &cfg
	case NodeTypeCondition:
		var cfg ConditionConfig
		if err := decodeConfig(yn, &cfg); err != nil {
			return nil, err
		}
		node.Condition = &cfg
	case NodeTypeMessage:
		var cfg MessageConfig
		if err := decodeConfig(yn, &cfg); err != nil {
			return nil, err
		}
		if cfg.MessageType == "" {
			cfg.MessageType = MessageTypeText
		}
		if !cfg.MessageType.Valid() {
			return nil, types.NewError(types.WORKFLOW_INVALID,
				fmt.Sprintf("message node %q has unsupported message type %q", yn.ID, cfg.MessageType))
		}
		node.Message = &cfg
	case NodeTypeTag:
		var cfg TagConfig
		if err := decodeConfig(yn, &cfg); err != nil {
			return nil, err
		}
		node.Tag = &cfg
	default:
		return nil, types.NewError(types.WORKFLOW_INVALID,
			fmt.Sprintf("node %q has unknown type %q", yn.ID, yn.Type))
	}

	if yn.Retry != nil {
		policy, err := buildRetryPolicy(yn.ID, yn.Retry)
		if err != nil {
			return nil, err
		}
		node.RetryPolicy = policy
	}

	return node, nil
}

// decodeConfig decodes a node's untyped config map into a typed payload.
func decodeConfig(yn YAMLNode, target any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return fmt.Errorf("failed to build config decoder: %w", err)
	}
	if err := decoder.Decode(yn.Config); err != nil {
		return types.WrapError(types.WORKFLOW_INVALID,
			fmt.Sprintf("invalid config for node %q", yn.ID), err)
	}
	return nil
}

// buildRetryPolicy converts a YAML retry block into a RetryPolicy, filling
// unset fields from the engine default.
func buildRetryPolicy(nodeID string, yr *YAMLRetry) (*RetryPolicy, error) {
	policy := DefaultRetryPolicy()
	policy.MaxRetries = yr.MaxRetries

	if yr.Backoff != "" {
		strategy := BackoffStrategy(yr.Backoff)
		switch strategy {
		case BackoffConstant, BackoffLinear, BackoffExponential:
			policy.BackoffStrategy = strategy
		default:
			return nil, types.NewError(types.WORKFLOW_INVALID,
				fmt.Sprintf("node %q has unknown backoff strategy %q", nodeID, yr.Backoff))
		}
	}

	if yr.InitialDelay != "" {
		d, err := time.ParseDuration(yr.InitialDelay)
		if err != nil {
			return nil, types.WrapError(types.WORKFLOW_INVALID,
				fmt.Sprintf("node %q has invalid initial_delay", nodeID), err)
		}
		policy.InitialDelay = d
	}
	if yr.MaxDelay != "" {
		d, err := time.ParseDuration(yr.MaxDelay)
		if err != nil {
			return nil, types.WrapError(types.WORKFLOW_INVALID,
				fmt.Sprintf("node %q has invalid max_delay", nodeID), err)
		}
		policy.MaxDelay = d
	}
	if yr.Multiplier > 0 {
		policy.Multiplier = yr.Multiplier
	}

	return policy, nil
}
