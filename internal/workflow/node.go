package workflow

import (
	"math"
	"time"
)

// NodeType defines the kind of a workflow node. Each kind carries exactly
// one typed configuration payload, validated at publish time so runs never
// see an untyped or malformed node config.
type NodeType string

const (
	NodeTypeTrigger   NodeType = "trigger"
	NodeTypeCondition NodeType = "condition"
	NodeTypeMessage   NodeType = "message"
	NodeTypeTag       NodeType = "tag"
)

// Valid reports whether the node type is one of the known kinds.
func (t NodeType) Valid() bool {
	switch t {
	case NodeTypeTrigger, NodeTypeCondition, NodeTypeMessage, NodeTypeTag:
		return true
	default:
		return false
	}
}

// IsAction reports whether nodes of this type produce side effects through
// the action executor.
func (t NodeType) IsAction() bool {
	return t == NodeTypeMessage || t == NodeTypeTag
}

// Node is a single unit of work in a workflow DAG.
type Node struct {
	// ID is unique within one workflow version.
	ID   string   `json:"id"`
	Type NodeType `json:"type"`
	Name string   `json:"name,omitempty"`

	// Exactly one of the following payloads is set, matching Type.
	Trigger   *TriggerConfig   `json:"trigger,omitempty"`
	Condition *ConditionConfig `json:"condition,omitempty"`
	Message   *MessageConfig   `json:"message,omitempty"`
	Tag       *TagConfig       `json:"tag,omitempty"`

	// RetryPolicy overrides the engine default for this node's action.
	// Only meaningful on action nodes.
	RetryPolicy *RetryPolicy `json:"retry_policy,omitempty"`
}

// TriggerConfig configures a trigger (entry) node.
type TriggerConfig struct {
	// TriggerType mirrors the workflow's TriggerKind at the node level.
	TriggerType TriggerKind `json:"trigger_type" mapstructure:"trigger_type"`

	// Keywords is the keyword list for TriggerKeyword. An empty list
	// matches nothing; that is a misconfiguration, not match-all.
	Keywords []string `json:"keywords,omitempty" mapstructure:"keywords"`
}

// ConditionConfig configures a condition (branch) node. The predicate is
// evaluated once per visit; outgoing edges select arms by guard.
type ConditionConfig struct {
	// Predicate names the predicate kind, e.g. "contains".
	Predicate string `json:"predicate" mapstructure:"predicate"`

	// Operand is the predicate's configured value.
	Operand string `json:"operand" mapstructure:"operand"`
}

// MessageType is the closed set of outbound message payload types.
type MessageType string

const (
	MessageTypeText MessageType = "text"
)

// Valid reports whether the message type is supported.
func (t MessageType) Valid() bool {
	return t == MessageTypeText
}

// MessageConfig configures a message (send) node.
type MessageConfig struct {
	Text        string      `json:"text" mapstructure:"text"`
	MessageType MessageType `json:"message_type" mapstructure:"message_type"`
}

// TagAction is the closed set of tag mutations.
type TagAction string

const (
	TagActionAdd    TagAction = "add"
	TagActionRemove TagAction = "remove"
)

// Valid reports whether the tag action is supported.
func (a TagAction) Valid() bool {
	return a == TagActionAdd || a == TagActionRemove
}

// TagConfig configures a tag (contact mutation) node.
type TagConfig struct {
	TagName string    `json:"tag_name" mapstructure:"tag_name"`
	Action  TagAction `json:"action" mapstructure:"action"`
}

// BackoffStrategy defines how retry delays grow between attempts.
type BackoffStrategy string

const (
	BackoffConstant    BackoffStrategy = "constant"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
)

// RetryPolicy defines the bounded retry behavior for an action node.
// Retries apply only to retryable errors; fatal errors abort the branch.
type RetryPolicy struct {
	// MaxRetries is the number of retry attempts after the first try.
	MaxRetries int `json:"max_retries" mapstructure:"max_retries"`
	// BackoffStrategy determines how delays are calculated between retries.
	BackoffStrategy BackoffStrategy `json:"backoff_strategy" mapstructure:"backoff_strategy"`
	// InitialDelay is the delay before the first retry attempt.
	InitialDelay time.Duration `json:"initial_delay" mapstructure:"initial_delay"`
	// MaxDelay caps the delay for exponential backoff.
	MaxDelay time.Duration `json:"max_delay" mapstructure:"max_delay"`
	// Multiplier is the exponential growth factor.
	Multiplier float64 `json:"multiplier" mapstructure:"multiplier"`
}

// DefaultRetryPolicy is applied to action nodes that do not declare one.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:      3,
		BackoffStrategy: BackoffExponential,
		InitialDelay:    100 * time.Millisecond,
		MaxDelay:        5 * time.Second,
		Multiplier:      2.0,
	}
}

// CalculateDelay returns the delay before the given retry attempt
// (zero-based) according to the configured backoff strategy.
func (rp *RetryPolicy) CalculateDelay(attempt int) time.Duration {
	switch rp.BackoffStrategy {
	case BackoffConstant:
		return rp.InitialDelay
	case BackoffLinear:
		return rp.InitialDelay + (rp.InitialDelay * time.Duration(attempt))
	case BackoffExponential:
		delay := time.Duration(float64(rp.InitialDelay) * math.Pow(rp.Multiplier, float64(attempt)))
		if rp.MaxDelay > 0 && delay > rp.MaxDelay {
			return rp.MaxDelay
		}
		return delay
	default:
		return rp.InitialDelay
	}
}
