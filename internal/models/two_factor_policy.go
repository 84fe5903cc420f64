package models

import (
	"database/sql/driver"
	"encoding/json"
)

// Step-up delivery channels
const (
	ChannelEmail   = "email"
	ChannelChatbot = "chatbot"
	ChannelBoth    = "both"
	ChannelTOTP    = "totp"
)

// Action types that a policy can require step-up verification for.
const (
	ActionLogin          = "login"
	ActionPasswordChange = "password_change"
	ActionPayout         = "payout"
)

// TwoFactorPolicy is configured outside this engine and read-only here.
type TwoFactorPolicy struct {
	UserID          string
	Enabled         bool
	RequiredActions StringSet
	Channel         string
	ChannelConfig   ChannelConfig
}

// Requires reports whether the policy demands step-up for the action.
func (p *TwoFactorPolicy) Requires(actionType string) bool {
	return p.Enabled && p.RequiredActions.Contains(actionType)
}

// StringSet is a JSONB-persisted set of strings.
type StringSet map[string]struct{}

// Contains reports set membership.
func (s StringSet) Contains(v string) bool {
	_, ok := s[v]
	return ok
}

// Scan implements sql.Scanner for JSONB arrays
func (s *StringSet) Scan(value interface{}) error {
	*s = make(StringSet)
	if value == nil {
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return ErrBadRequest
	}

	var items []string
	if err := json.Unmarshal(bytes, &items); err != nil {
		return err
	}
	for _, item := range items {
		(*s)[item] = struct{}{}
	}
	return nil
}

// Value implements driver.Valuer for JSONB arrays
func (s StringSet) Value() (driver.Value, error) {
	items := make([]string, 0, len(s))
	for item := range s {
		items = append(items, item)
	}
	return json.Marshal(items)
}

// ChannelConfig holds per-channel delivery settings (e.g. chat id for the
// chat-bot channel). Stored as JSONB.
type ChannelConfig map[string]string

// Scan implements sql.Scanner for JSONB
func (c *ChannelConfig) Scan(value interface{}) error {
	*c = make(ChannelConfig)
	if value == nil {
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return ErrBadRequest
	}

	return json.Unmarshal(bytes, c)
}

// Value implements driver.Valuer for JSONB
func (c ChannelConfig) Value() (driver.Value, error) {
	if c == nil {
		return nil, nil
	}
	return json.Marshal(c)
}
