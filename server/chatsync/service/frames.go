package service

import (
	"encoding/json"
	"errors"
	"fmt"

	"chatsync/server/chatsync/domain"
)

var (
	ErrUnknownEvent = errors.New("unknown transport event")
	ErrMissingData  = errors.New("transport event without data")
)

// decodeFrame reads an inbound {"event": ..., "data": ...} frame. fastjson
// peeks the event name so only the payload goes through encoding/json.
func (t *WSTransport) decodeFrame(raw []byte) (domain.Event, error) {
	p := t.parsers.Get()
	v, err := p.ParseBytes(raw)
	if err != nil {
		t.parsers.Put(p)
		return nil, fmt.Errorf("parse frame: %w", err)
	}
	name := string(v.GetStringBytes("event"))
	var data []byte
	if d := v.Get("data"); d != nil {
		data = d.MarshalTo(nil)
	}
	t.parsers.Put(p)
	return decodeEvent(name, data)
}

func decodeEvent(name string, data []byte) (domain.Event, error) {
	switch name {
	case domain.EventConnected:
		return domain.Connected{}, nil
	case domain.EventDisconnected:
		var evt domain.Disconnected
		if hasData(data) {
			if err := json.Unmarshal(data, &evt); err != nil {
				return nil, fmt.Errorf("decode %s: %w", name, err)
			}
		}
		return evt, nil
	case domain.EventOnlineUsersHere:
		var users []domain.User
		if err := unmarshalData(name, data, &users); err != nil {
			return nil, err
		}
		return domain.OnlineUsersHere{Users: users}, nil
	case domain.EventUserOnline:
		var user domain.User
		if err := unmarshalData(name, data, &user); err != nil {
			return nil, err
		}
		return domain.UserOnline{User: user}, nil
	case domain.EventUserOffline:
		var user domain.User
		if err := unmarshalData(name, data, &user); err != nil {
			return nil, err
		}
		return domain.UserOffline{User: user}, nil
	case domain.EventGroupPresenceHere:
		var evt domain.GroupPresenceHere
		if err := unmarshalData(name, data, &evt); err != nil {
			return nil, err
		}
		return evt, nil
	case domain.EventGroupUserOnline:
		var evt domain.GroupUserOnline
		if err := unmarshalData(name, data, &evt); err != nil {
			return nil, err
		}
		return evt, nil
	case domain.EventGroupUserOffline:
		var evt domain.GroupUserOffline
		if err := unmarshalData(name, data, &evt); err != nil {
			return nil, err
		}
		return evt, nil
	case domain.EventMessage:
		var msg domain.ChatMessage
		if err := unmarshalData(name, data, &msg); err != nil {
			return nil, err
		}
		return domain.MessageReceived{Message: msg}, nil
	case domain.EventMessageUpdated:
		var msg domain.ChatMessage
		if err := unmarshalData(name, data, &msg); err != nil {
			return nil, err
		}
		return domain.MessageUpdated{Message: msg}, nil
	case domain.EventUserJoined:
		var evt domain.UserJoined
		if err := unmarshalData(name, data, &evt); err != nil {
			return nil, err
		}
		return evt, nil
	case domain.EventUserLeft:
		var evt domain.UserLeft
		if err := unmarshalData(name, data, &evt); err != nil {
			return nil, err
		}
		return evt, nil
	case domain.EventGroupCreated:
		var group domain.ChatGroup
		if err := unmarshalData(name, data, &group); err != nil {
			return nil, err
		}
		return domain.GroupCreated{Group: group}, nil
	case domain.EventUserTyping:
		var evt domain.UserTyping
		if err := unmarshalData(name, data, &evt); err != nil {
			return nil, err
		}
		return evt, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}
}

func unmarshalData(name string, data []byte, out any) error {
	if !hasData(data) {
		return fmt.Errorf("decode %s: %w", name, ErrMissingData)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

func hasData(data []byte) bool {
	return len(data) > 0 && string(data) != "null"
}
