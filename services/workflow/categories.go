package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"strings"

	"github.com/robfig/cron/v3"
)

// Category identifies the concrete trigger or action type of a node.
type Category string

const (
	CategoryRewardRedemption Category = "channel.channel_points_custom_reward_redemption.add"
	CategoryChatCommand      Category = "chat.command"
	CategoryFollow           Category = "channel.follow"
	CategoryCheer            Category = "channel.cheer"
	CategoryTimer            Category = "timer"

	CategorySendChatMessage Category = "send_chat_message"
	CategoryTriggerOverlay  Category = "trigger_overlay"
	CategoryAwardPoints     Category = "award_points"
	CategoryCallBridge      Category = "call_bridge"
)

const maxChatMessageLength = 500

// Payload is the category-specific data carried by a node.
type Payload interface {
	Category() Category
	validate() error
}

// TriggerPayload is implemented by every trigger category.
type TriggerPayload interface {
	Payload
	TriggerEventID() string
	// bindingRequired reports whether the trigger needs an event_id before it can be compiled.
	bindingRequired() bool
}

// ActionPayload is implemented by every action category.
type ActionPayload interface {
	Payload
	resolve(r Resolver) (map[string]any, error)
}

type categorySpec struct {
	kind   NodeKind
	empty  func() Payload
	decode func([]byte) (Payload, error)
}

var categories = map[Category]categorySpec{
	CategoryRewardRedemption: {KindTrigger, func() Payload { return RewardRedemptionTrigger{} }, decodeStrict[RewardRedemptionTrigger]},
	CategoryChatCommand:      {KindTrigger, func() Payload { return ChatCommandTrigger{} }, decodeStrict[ChatCommandTrigger]},
	CategoryFollow:           {KindTrigger, func() Payload { return FollowTrigger{} }, decodeStrict[FollowTrigger]},
	CategoryCheer:            {KindTrigger, func() Payload { return CheerTrigger{} }, decodeStrict[CheerTrigger]},
	CategoryTimer:            {KindTrigger, func() Payload { return TimerTrigger{} }, decodeStrict[TimerTrigger]},

	CategorySendChatMessage: {KindAction, func() Payload { return SendChatMessage{} }, decodeStrict[SendChatMessage]},
	CategoryTriggerOverlay:  {KindAction, func() Payload { return TriggerOverlay{} }, decodeStrict[TriggerOverlay]},
	CategoryAwardPoints:     {KindAction, func() Payload { return AwardPoints{Amount: 100} }, decodeStrict[AwardPoints]},
	CategoryCallBridge:      {KindAction, func() Payload { return CallBridge{} }, decodeStrict[CallBridge]},
}

// KindOf returns the node kind registered for category.
func KindOf(category Category) (NodeKind, bool) {
	spec, ok := categories[category]
	return spec.kind, ok
}

// DefaultPayload returns the payload a freshly added node of category starts with.
func DefaultPayload(category Category) (Payload, bool) {
	spec, ok := categories[category]
	if !ok {
		return nil, false
	}
	return spec.empty(), true
}

func decodeStrict[P Payload](data []byte) (Payload, error) {
	var p P
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return nil, err
	}
	return p, nil
}

func decodePayload(category Category, data []byte) (Payload, error) {
	spec, ok := categories[category]
	if !ok {
		return nil, fmt.Errorf("unknown category %q", category)
	}
	return spec.decode(data)
}

// mergePayload overlays partial onto the JSON form of current and decodes the result
// back into the category's payload type.
func mergePayload(current Payload, partial map[string]any) (Payload, error) {
	raw, err := json.Marshal(current)
	if err != nil {
		return nil, err
	}
	merged := map[string]any{}
	if err := json.Unmarshal(raw, &merged); err != nil {
		return nil, err
	}
	maps.Copy(merged, partial)
	out, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	return decodePayload(current.Category(), out)
}

// RewardRedemptionTrigger fires when a specific channel-point reward is redeemed.
type RewardRedemptionTrigger struct {
	EventID string `json:"event_id"`
}

func (RewardRedemptionTrigger) Category() Category       { return CategoryRewardRedemption }
func (RewardRedemptionTrigger) validate() error           { return nil }
func (p RewardRedemptionTrigger) TriggerEventID() string { return p.EventID }
func (RewardRedemptionTrigger) bindingRequired() bool     { return true }

// ChatCommandTrigger fires when a configured chat command is used.
type ChatCommandTrigger struct {
	EventID string `json:"event_id"`
}

func (ChatCommandTrigger) Category() Category       { return CategoryChatCommand }
func (ChatCommandTrigger) validate() error           { return nil }
func (p ChatCommandTrigger) TriggerEventID() string { return p.EventID }
func (ChatCommandTrigger) bindingRequired() bool     { return true }

// FollowTrigger fires when someone follows the channel. event_id is optional and
// narrows the trigger to one follow source.
type FollowTrigger struct {
	EventID string `json:"event_id"`
}

func (FollowTrigger) Category() Category       { return CategoryFollow }
func (FollowTrigger) validate() error           { return nil }
func (p FollowTrigger) TriggerEventID() string { return p.EventID }
func (FollowTrigger) bindingRequired() bool     { return false }

// CheerTrigger fires on a bits cheer. Only cheers of at least MinBits bits run
// the actions behind it.
type CheerTrigger struct {
	EventID string `json:"event_id"`
	MinBits int    `json:"min_bits"`
}

func (CheerTrigger) Category() Category { return CategoryCheer }

func (p CheerTrigger) validate() error {
	if p.MinBits < 0 {
		return fmt.Errorf("min_bits must not be negative")
	}
	return nil
}

func (p CheerTrigger) TriggerEventID() string { return p.EventID }
func (CheerTrigger) bindingRequired() bool     { return false }

// TimerTrigger fires on a cron schedule; event_id names the timer.
type TimerTrigger struct {
	EventID  string `json:"event_id"`
	Schedule string `json:"schedule"`
}

func (TimerTrigger) Category() Category { return CategoryTimer }

func (p TimerTrigger) validate() error {
	if strings.TrimSpace(p.Schedule) == "" {
		return nil
	}
	if _, err := cron.ParseStandard(p.Schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", p.Schedule, err)
	}
	return nil
}

func (p TimerTrigger) TriggerEventID() string { return p.EventID }
func (TimerTrigger) bindingRequired() bool     { return true }

// SendChatMessage posts a message in the streamer's chat. Message wins over TemplateID.
type SendChatMessage struct {
	Message    string `json:"message,omitempty"`
	TemplateID string `json:"template_id,omitempty"`
}

func (SendChatMessage) Category() Category { return CategorySendChatMessage }

func (p SendChatMessage) validate() error {
	if len(p.Message) > maxChatMessageLength {
		return fmt.Errorf("message exceeds %d characters", maxChatMessageLength)
	}
	return nil
}

func (p SendChatMessage) resolve(r Resolver) (map[string]any, error) {
	if strings.TrimSpace(p.Message) != "" {
		return map[string]any{"message": p.Message}, nil
	}
	if p.TemplateID == "" {
		return nil, fmt.Errorf("message is required")
	}
	body, ok := r.MessageTemplate(p.TemplateID)
	if !ok {
		return nil, fmt.Errorf("message template %q not found", p.TemplateID)
	}
	return map[string]any{"message": body, "template_id": p.TemplateID}, nil
}

// TriggerOverlay plays an effect on one of the streamer's overlays.
type TriggerOverlay struct {
	OverlayID  string `json:"overlay_id"`
	Effect     string `json:"effect"`
	DurationMs int    `json:"duration_ms"`
}

func (TriggerOverlay) Category() Category { return CategoryTriggerOverlay }

func (p TriggerOverlay) validate() error {
	if p.DurationMs < 0 {
		return fmt.Errorf("duration_ms must not be negative")
	}
	return nil
}

func (p TriggerOverlay) resolve(r Resolver) (map[string]any, error) {
	if p.OverlayID == "" {
		return nil, fmt.Errorf("overlay_id is required")
	}
	overlay, ok := r.Overlay(p.OverlayID)
	if !ok {
		return nil, fmt.Errorf("overlay %q not found", p.OverlayID)
	}
	return map[string]any{
		"overlay_id":  overlay.ID,
		"overlay_url": overlay.URL,
		"effect":      p.Effect,
		"duration_ms": p.DurationMs,
	}, nil
}

// AwardPoints grants channel points to the viewer behind the event.
type AwardPoints struct {
	Amount int `json:"amount"`
}

func (AwardPoints) Category() Category { return CategoryAwardPoints }

func (p AwardPoints) validate() error {
	if p.Amount < 1 {
		return fmt.Errorf("amount must be at least 1")
	}
	return nil
}

func (p AwardPoints) resolve(Resolver) (map[string]any, error) {
	return map[string]any{"amount": p.Amount}, nil
}

// CallBridge forwards a named event with free-form metadata to the automation bridge.
type CallBridge struct {
	Action   string         `json:"action"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (CallBridge) Category() Category { return CategoryCallBridge }
func (CallBridge) validate() error     { return nil }

func (p CallBridge) resolve(Resolver) (map[string]any, error) {
	if strings.TrimSpace(p.Action) == "" {
		return nil, fmt.Errorf("bridge action is required")
	}
	out := cloneMetadata(p.Metadata)
	if out == nil {
		out = map[string]any{}
	}
	out["action"] = p.Action
	return out, nil
}
