// Package agentlink maintains, per slot, a reconnecting event channel
// to the in-container agent (spec.md §4.2). It never blocks the
// caller: connect, reconnect, and read loops all run on their own
// goroutine, and deliver typed events to a supervisor-owned channel.
package agentlink

import "encoding/json"

// Kind identifies one of the four event kinds the in-container agent
// emits on the "browser:container:event" channel (spec.md §6). All
// other event names are ignored by the reader.
type Kind string

const (
	KindSetState Kind = "node:setState"
	KindSetLabel Kind = "node:setLabel"
	KindSetParam Kind = "node:setParam"
	KindDeleted  Kind = "node:deleted"
)

// Event is a single typed message from a slot's in-container agent.
type Event struct {
	Slot string // slot name this event is keyed by
	Kind Kind

	// SetState payload.
	ID string
	IP string

	// SetLabel / SetParam payload (setParam is semantically identical
	// to setLabel, per spec.md §4.2).
	LabelName  string
	LabelValue string

	// Deleted payload.
	IsError     bool
	Message     string
	SessionData string
	HasSessionData bool
}

// wireEnvelope is the raw shape delivered on the event channel.
type wireEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type setStatePayload struct {
	ID string `json:"id"`
	IP string `json:"ip"`
}

type setLabelPayload struct {
	LabelName  string `json:"labelName"`
	LabelValue string `json:"labelValue"`
}

type setParamPayload struct {
	Param string `json:"param"`
	Value string `json:"value"`
}

type deletedPayload struct {
	IsError     bool    `json:"isError"`
	Message     string  `json:"message"`
	SessionData *string `json:"sessionData,omitempty"`
}

// decodeEvent parses a raw wire message into an Event keyed by slot.
// Unknown types return ok=false; the caller logs and ignores them
// (spec.md §7: "Unknown agent events ... are logged and ignored").
func decodeEvent(slotName string, raw []byte) (Event, bool) {
	var env wireEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, false
	}

	ev := Event{Slot: slotName, Kind: Kind(env.Type)}
	switch ev.Kind {
	case KindSetState:
		var p setStatePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return Event{}, false
		}
		ev.ID, ev.IP = p.ID, p.IP
	case KindSetLabel:
		var p setLabelPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return Event{}, false
		}
		ev.LabelName, ev.LabelValue = p.LabelName, p.LabelValue
	case KindSetParam:
		var p setParamPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return Event{}, false
		}
		ev.LabelName, ev.LabelValue = p.Param, p.Value
	case KindDeleted:
		var p deletedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return Event{}, false
		}
		ev.IsError, ev.Message = p.IsError, p.Message
		if p.SessionData != nil {
			ev.SessionData = *p.SessionData
			ev.HasSessionData = true
		}
	default:
		return Event{}, false
	}
	return ev, true
}

// EncodeSetState is used by internal/agentsim to produce a wire
// message a Link can decode; kept alongside decodeEvent so the wire
// format has a single source of truth.
func EncodeSetState(id, ip string) []byte {
	return mustEncode(string(KindSetState), setStatePayload{ID: id, IP: ip})
}

func EncodeSetLabel(name, value string) []byte {
	return mustEncode(string(KindSetLabel), setLabelPayload{LabelName: name, LabelValue: value})
}

func EncodeSetParam(param, value string) []byte {
	return mustEncode(string(KindSetParam), setParamPayload{Param: param, Value: value})
}

func EncodeDeleted(isError bool, message string, sessionData *string) []byte {
	return mustEncode(string(KindDeleted), deletedPayload{IsError: isError, Message: message, SessionData: sessionData})
}

func mustEncode(kind string, payload interface{}) []byte {
	p, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	out, err := json.Marshal(wireEnvelope{Type: kind, Payload: p})
	if err != nil {
		panic(err)
	}
	return out
}
