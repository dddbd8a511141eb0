// Package subscription wires handlers that declare topic subscription metadata
// onto an external task client, letting external configuration override the
// declared values per topic and per field.
package subscription

import (
	"time"

	"github.com/kjstillabower/external-task-worker/internal/externaltask"
)

// Subscription is the metadata a handler declares for its topic. Zero values
// mean "not declared": LockDuration <= 0, nil or [""] lists and empty strings
// are not applied. Booleans are applied as declared, except WithoutTenantID
// which only applies when true.
type Subscription struct {
	TopicName                   string
	LockDuration                time.Duration
	Variables                   []string
	LocalVariables              bool
	BusinessKey                 string
	ProcessDefinitionID         string
	ProcessDefinitionIDIn       []string
	ProcessDefinitionKey        string
	ProcessDefinitionKeyIn      []string
	ProcessDefinitionVersionTag string
	WithoutTenantID             bool
	TenantIDIn                  []string
	IncludeExtensionProperties  bool
}

// Subscriber is implemented by handlers that declare their subscription.
type Subscriber interface {
	Subscription() Subscription
}

// Override holds externally configured values for one topic. Nil fields are
// not configured and keep the declared value.
type Override struct {
	LockDuration                *time.Duration
	Variables                   []string
	LocalVariables              *bool
	BusinessKey                 *string
	ProcessDefinitionID         *string
	ProcessDefinitionIDIn       []string
	ProcessDefinitionKey        *string
	ProcessDefinitionKeyIn      []string
	ProcessDefinitionVersionTag *string
	WithoutTenantID             *bool
	TenantIDIn                  []string
	IncludeExtensionProperties  *bool
}

// Overrides maps topic names to their configured values.
type Overrides map[string]Override

// Annotate attaches subscription metadata to a handler.
func Annotate(meta Subscription, h externaltask.Handler) externaltask.Handler {
	return annotated{Handler: h, meta: meta}
}

type annotated struct {
	externaltask.Handler
	meta Subscription
}

func (a annotated) Subscription() Subscription { return a.meta }

// declared reports whether a list was declared; a single empty entry counts
// as not declared.
func declared(list []string) bool {
	return len(list) > 0 && list[0] != ""
}
