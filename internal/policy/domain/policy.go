package domain

import (
	"errors"
	"strings"
	"time"
)

// Policy is an org-level Rego module that replaces the default permission rules for that org.
type Policy struct {
	ID        string
	OrgID     string
	Rules     string
	Enabled   bool
	CreatedAt time.Time
}

// Validate checks the fields needed before persisting.
func (p *Policy) Validate() error {
	if p.OrgID == "" {
		return errors.New("org_id is required")
	}
	if strings.TrimSpace(p.Rules) == "" {
		return errors.New("rules are required")
	}
	return nil
}
