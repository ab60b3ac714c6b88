package workflow

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type intentEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// DecodeIntent parses {"type": "...", "payload": {...}} into an Intent.
func DecodeIntent(data []byte) (Intent, error) {
	var env intentEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, newError(ErrUnknownIntent, "invalid intent body", err, nil)
	}

	var (
		intent Intent
		err    error
	)
	switch env.Type {
	case IntentAddNode:
		intent, err = decodeInto[AddNode](env.Payload)
	case IntentRemoveNode:
		intent, err = decodeInto[RemoveNode](env.Payload)
	case IntentUpdateNodeData:
		intent, err = decodeInto[UpdateNodeData](env.Payload)
	case IntentUpdateTrigger:
		intent, err = decodeInto[UpdateTrigger](env.Payload)
	case IntentSelectNode:
		intent, err = decodeInto[SelectNode](env.Payload)
	case IntentConnect:
		intent, err = decodeInto[Connect](env.Payload)
	case IntentDisconnect:
		intent, err = decodeInto[Disconnect](env.Payload)
	case IntentReset:
		intent, err = decodeInto[Reset](env.Payload)
	default:
		return nil, newError(ErrUnknownIntent, fmt.Sprintf("unknown intent type %q", env.Type), nil, nil)
	}
	if err != nil {
		if Code(err) != "" {
			return nil, err
		}
		return nil, newError(ErrMalformedPayload, fmt.Sprintf("invalid %s payload", env.Type), err, nil)
	}
	return intent, nil
}

func decodeInto[I Intent](raw json.RawMessage) (Intent, error) {
	var in I
	if len(raw) == 0 {
		return in, nil
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, err
	}
	return in, nil
}

// WorkflowFile is the on-disk form consumed by workflowctl.
type WorkflowFile struct {
	Workflow
	References *StaticResolver `json:"references,omitempty"`
}

// ParseWorkflowFile parses a YAML or JSON workflow document. YAML is normalised
// through JSON so node payloads go through the same category decoding.
func ParseWorkflowFile(data []byte) (*WorkflowFile, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse workflow file: %w", err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("normalise workflow file: %w", err)
	}
	var wf WorkflowFile
	if err := json.Unmarshal(raw, &wf); err != nil {
		return nil, fmt.Errorf("decode workflow file: %w", err)
	}
	return &wf, nil
}

// LoadWorkflowFile reads and parses path.
func LoadWorkflowFile(path string) (*WorkflowFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}
	return ParseWorkflowFile(data)
}

// LoadResolverFile reads templates and overlays from a YAML or JSON file.
func LoadResolverFile(path string) (*StaticResolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read references file: %w", err)
	}
	var r StaticResolver
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse references file: %w", err)
	}
	return &r, nil
}
