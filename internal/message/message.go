// Package message defines the closed enumerations that describe a queued
// outbound message: its delivery channel, priority and lifecycle status.
package message

import (
	"database/sql/driver"
	"errors"
	"fmt"
)

// ErrUnknownValue is returned when parsing a string that is not a member of
// one of the enumerations below.
var ErrUnknownValue = errors.New("unknown value")

// Channel is the delivery medium of a message.
type Channel uint8

const (
	ChannelSMS Channel = iota + 1
	ChannelIMessage
	ChannelEmail
)

var channelNames = map[Channel]string{
	ChannelSMS:      "sms",
	ChannelIMessage: "imessage",
	ChannelEmail:    "email",
}

// Channels returns every known channel in declaration order.
func Channels() []Channel {
	return []Channel{ChannelSMS, ChannelIMessage, ChannelEmail}
}

func (c Channel) String() string {
	if name, ok := channelNames[c]; ok {
		return name
	}
	return fmt.Sprintf("channel(%d)", uint8(c))
}

// ParseChannel converts the wire name of a channel.
func ParseChannel(s string) (Channel, error) {
	for c, name := range channelNames {
		if name == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: channel %q (must be sms, imessage or email)", ErrUnknownValue, s)
}

// MarshalText implements encoding.TextMarshaler.
func (c Channel) MarshalText() ([]byte, error) {
	if _, ok := channelNames[c]; !ok {
		return nil, fmt.Errorf("%w: channel %d", ErrUnknownValue, uint8(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Channel) UnmarshalText(b []byte) error {
	v, err := ParseChannel(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Value implements driver.Valuer.
func (c Channel) Value() (driver.Value, error) {
	b, err := c.MarshalText()
	return string(b), err
}

// Scan implements sql.Scanner.
func (c *Channel) Scan(src any) error {
	return scanText(src, c.UnmarshalText)
}

// Priority orders messages awaiting review.
type Priority uint8

const (
	PriorityUrgent Priority = iota + 1
	PriorityHigh
	PriorityNormal
	PriorityLow
)

var priorityNames = map[Priority]string{
	PriorityUrgent: "urgent",
	PriorityHigh:   "high",
	PriorityNormal: "normal",
	PriorityLow:    "low",
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("priority(%d)", uint8(p))
}

// Rank returns the sort key of the priority; lower ranks are reviewed first.
func (p Priority) Rank() int {
	if _, ok := priorityNames[p]; !ok {
		return len(priorityNames)
	}
	return int(p) - 1
}

// ParsePriority converts the wire name of a priority.
func ParsePriority(s string) (Priority, error) {
	for p, name := range priorityNames {
		if name == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: priority %q (must be urgent, high, normal or low)", ErrUnknownValue, s)
}

// MarshalText implements encoding.TextMarshaler.
func (p Priority) MarshalText() ([]byte, error) {
	if _, ok := priorityNames[p]; !ok {
		return nil, fmt.Errorf("%w: priority %d", ErrUnknownValue, uint8(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Value implements driver.Valuer.
func (p Priority) Value() (driver.Value, error) {
	b, err := p.MarshalText()
	return string(b), err
}

// Scan implements sql.Scanner.
func (p *Priority) Scan(src any) error {
	return scanText(src, p.UnmarshalText)
}

// Status is the lifecycle state of a queued message.
//
//	pending  -> approved | denied | flagged
//	flagged  -> approved | denied
//	approved -> sent | failed
//	denied, sent, failed: terminal
type Status uint8

const (
	StatusPending Status = iota + 1
	StatusFlagged
	StatusApproved
	StatusDenied
	StatusSent
	StatusFailed
)

var statusNames = map[Status]string{
	StatusPending:  "pending",
	StatusFlagged:  "flagged",
	StatusApproved: "approved",
	StatusDenied:   "denied",
	StatusSent:     "sent",
	StatusFailed:   "failed",
}

// Statuses returns every known status in declaration order.
func Statuses() []Status {
	return []Status{StatusPending, StatusFlagged, StatusApproved, StatusDenied, StatusSent, StatusFailed}
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusApproved || next == StatusDenied || next == StatusFlagged
	case StatusFlagged:
		return next == StatusApproved || next == StatusDenied
	case StatusApproved:
		return next == StatusSent || next == StatusFailed
	default:
		return false
	}
}

// Reviewable reports whether a human may approve or deny a message in state s.
func (s Status) Reviewable() bool {
	return s.CanTransitionTo(StatusApproved) && s.CanTransitionTo(StatusDenied)
}

// SourcesFor returns every status from which target can be reached.
func SourcesFor(target Status) []Status {
	var out []Status
	for _, s := range Statuses() {
		if s.CanTransitionTo(target) {
			out = append(out, s)
		}
	}
	return out
}

// ParseStatus converts the wire name of a status.
func ParseStatus(s string) (Status, error) {
	for st, name := range statusNames {
		if name == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("%w: status %q", ErrUnknownValue, s)
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	if _, ok := statusNames[s]; !ok {
		return nil, fmt.Errorf("%w: status %d", ErrUnknownValue, uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Value implements driver.Valuer.
func (s Status) Value() (driver.Value, error) {
	b, err := s.MarshalText()
	return string(b), err
}

// Scan implements sql.Scanner.
func (s *Status) Scan(src any) error {
	return scanText(src, s.UnmarshalText)
}

func scanText(src any, unmarshal func([]byte) error) error {
	switch v := src.(type) {
	case string:
		return unmarshal([]byte(v))
	case []byte:
		return unmarshal(v)
	default:
		return fmt.Errorf("cannot scan %T into enum", src)
	}
}
