package externaltask

import (
	"errors"
	"fmt"
	"time"

	"github.com/kjstillabower/external-task-worker/internal/engine"
	"github.com/kjstillabower/external-task-worker/internal/validation"
)

var (
	ErrInvalidSubscription = errors.New("topic subscription: invalid")
	ErrDuplicateTopic      = errors.New("topic subscription: topic already subscribed")
	ErrUnknownTopic        = errors.New("topic subscription: topic not subscribed")
)

// TopicSubscription is an open subscription. A nil Variables slice fetches
// every variable; an empty one fetches none.
type TopicSubscription struct {
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
	Handler                     Handler
}

func (s TopicSubscription) clone() TopicSubscription {
	s.Variables = cloneStrings(s.Variables)
	s.ProcessDefinitionIDIn = cloneStrings(s.ProcessDefinitionIDIn)
	s.ProcessDefinitionKeyIn = cloneStrings(s.ProcessDefinitionKeyIn)
	s.TenantIDIn = cloneStrings(s.TenantIDIn)
	return s
}

func (s TopicSubscription) topicRequest() engine.TopicRequest {
	return engine.TopicRequest{
		TopicName:                   s.TopicName,
		LockDuration:                s.LockDuration.Milliseconds(),
		Variables:                   s.Variables,
		LocalVariables:              s.LocalVariables,
		BusinessKey:                 s.BusinessKey,
		ProcessDefinitionID:         s.ProcessDefinitionID,
		ProcessDefinitionIDIn:       s.ProcessDefinitionIDIn,
		ProcessDefinitionKey:        s.ProcessDefinitionKey,
		ProcessDefinitionKeyIn:      s.ProcessDefinitionKeyIn,
		ProcessDefinitionVersionTag: s.ProcessDefinitionVersionTag,
		WithoutTenantID:             s.WithoutTenantID,
		TenantIDIn:                  s.TenantIDIn,
		IncludeExtensionProperties:  s.IncludeExtensionProperties,
	}
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append(make([]string, 0, len(in)), in...)
}

// TopicSubscriptionBuilder collects the fetch parameters of one topic.
// Obtain it from Client.Subscribe and finish with Open.
type TopicSubscriptionBuilder struct {
	client       *Client
	sub          TopicSubscription
	lockDuration *time.Duration
}

// LockDuration overrides the client's default lock duration for this topic.
func (b *TopicSubscriptionBuilder) LockDuration(d time.Duration) *TopicSubscriptionBuilder {
	b.lockDuration = &d
	return b
}

// Variables restricts the fetched variables to names.
func (b *TopicSubscriptionBuilder) Variables(names ...string) *TopicSubscriptionBuilder {
	b.sub.Variables = append([]string{}, names...)
	return b
}

func (b *TopicSubscriptionBuilder) LocalVariables(local bool) *TopicSubscriptionBuilder {
	b.sub.LocalVariables = local
	return b
}

func (b *TopicSubscriptionBuilder) BusinessKey(key string) *TopicSubscriptionBuilder {
	b.sub.BusinessKey = key
	return b
}

func (b *TopicSubscriptionBuilder) ProcessDefinitionID(id string) *TopicSubscriptionBuilder {
	b.sub.ProcessDefinitionID = id
	return b
}

func (b *TopicSubscriptionBuilder) ProcessDefinitionIDIn(ids ...string) *TopicSubscriptionBuilder {
	b.sub.ProcessDefinitionIDIn = append([]string{}, ids...)
	return b
}

func (b *TopicSubscriptionBuilder) ProcessDefinitionKey(key string) *TopicSubscriptionBuilder {
	b.sub.ProcessDefinitionKey = key
	return b
}

func (b *TopicSubscriptionBuilder) ProcessDefinitionKeyIn(keys ...string) *TopicSubscriptionBuilder {
	b.sub.ProcessDefinitionKeyIn = append([]string{}, keys...)
	return b
}

func (b *TopicSubscriptionBuilder) ProcessDefinitionVersionTag(tag string) *TopicSubscriptionBuilder {
	b.sub.ProcessDefinitionVersionTag = tag
	return b
}

// WithoutTenantID only fetches tasks that belong to no tenant.
func (b *TopicSubscriptionBuilder) WithoutTenantID() *TopicSubscriptionBuilder {
	b.sub.WithoutTenantID = true
	return b
}

func (b *TopicSubscriptionBuilder) TenantIDIn(ids ...string) *TopicSubscriptionBuilder {
	b.sub.TenantIDIn = append([]string{}, ids...)
	return b
}

func (b *TopicSubscriptionBuilder) IncludeExtensionProperties(include bool) *TopicSubscriptionBuilder {
	b.sub.IncludeExtensionProperties = include
	return b
}

func (b *TopicSubscriptionBuilder) Handler(h Handler) *TopicSubscriptionBuilder {
	b.sub.Handler = h
	return b
}

// Open validates the subscription and registers it on the client.
func (b *TopicSubscriptionBuilder) Open() (TopicSubscription, error) {
	sub := b.sub.clone()
	if err := validation.ValidateTopicName(sub.TopicName); err != nil {
		return TopicSubscription{}, fmt.Errorf("%w: topic %q: %w", ErrInvalidSubscription, sub.TopicName, err)
	}
	if err := validation.ValidateOptionalName(sub.BusinessKey); err != nil {
		return TopicSubscription{}, fmt.Errorf("%w: topic %q business key: %w", ErrInvalidSubscription, sub.TopicName, err)
	}
	if sub.Handler == nil {
		return TopicSubscription{}, fmt.Errorf("%w: topic %q has no handler", ErrInvalidSubscription, sub.TopicName)
	}
	if b.lockDuration != nil {
		if *b.lockDuration <= 0 {
			return TopicSubscription{}, fmt.Errorf("%w: topic %q lock duration must be positive", ErrInvalidSubscription, sub.TopicName)
		}
		sub.LockDuration = *b.lockDuration
	} else {
		sub.LockDuration = b.client.lockDuration
	}
	if sub.WithoutTenantID && len(sub.TenantIDIn) > 0 {
		return TopicSubscription{}, fmt.Errorf("%w: topic %q cannot combine tenant ids with without-tenant-id", ErrInvalidSubscription, sub.TopicName)
	}
	if err := b.client.register(sub); err != nil {
		return TopicSubscription{}, err
	}
	return sub.clone(), nil
}
