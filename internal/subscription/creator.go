package subscription

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/kjstillabower/external-task-worker/internal/externaltask"
	"github.com/kjstillabower/external-task-worker/internal/observability"
)

// Creator opens one topic subscription per declaring handler.
type Creator struct {
	client    *externaltask.Client
	overrides Overrides
	logger    *zap.Logger
}

// NewCreator returns a Creator subscribing on client. overrides may be nil.
func NewCreator(client *externaltask.Client, overrides Overrides, logger *zap.Logger) *Creator {
	return &Creator{
		client:    client,
		overrides: overrides,
		logger:    observability.Named(logger, "subscription"),
	}
}

// Register subscribes every handler that declares a Subscription. Handlers
// without metadata are skipped with a warning. The first failing Open aborts
// registration.
func (c *Creator) Register(handlers []externaltask.Handler) ([]externaltask.TopicSubscription, error) {
	opened := make([]externaltask.TopicSubscription, 0, len(handlers))
	for _, h := range handlers {
		s, ok := h.(Subscriber)
		if !ok {
			c.logger.Warn("Skipping subscription. Handler declares no topic subscription",
				zap.String("handler", fmt.Sprintf("%T", h)),
			)
			continue
		}
		sub, err := c.open(h, s.Subscription())
		if err != nil {
			return opened, err
		}
		opened = append(opened, sub)
	}
	return opened, nil
}

func (c *Creator) open(h externaltask.Handler, meta Subscription) (externaltask.TopicSubscription, error) {
	builder := c.client.Subscribe(meta.TopicName).Handler(h)
	applyDeclared(builder, meta)

	if o, ok := c.overrides[meta.TopicName]; ok {
		c.logger.Info("External configuration for topic found", zap.String("topic", meta.TopicName))
		applyOverride(builder, o)
	}

	sub, err := builder.Open()
	if err != nil {
		return externaltask.TopicSubscription{}, fmt.Errorf("subscribe topic %q: %w", meta.TopicName, err)
	}
	c.logger.Info("External task client subscribed to topic",
		zap.String("topic", sub.TopicName),
		zap.Duration("lockDuration", sub.LockDuration),
		zap.Strings("variables", sub.Variables),
		zap.Bool("localVariables", sub.LocalVariables),
	)
	return sub, nil
}

func applyDeclared(b *externaltask.TopicSubscriptionBuilder, meta Subscription) {
	if meta.LockDuration > 0 {
		b.LockDuration(meta.LockDuration)
	}
	if declared(meta.Variables) {
		b.Variables(meta.Variables...)
	}
	b.LocalVariables(meta.LocalVariables)
	if meta.BusinessKey != "" {
		b.BusinessKey(meta.BusinessKey)
	}
	if meta.ProcessDefinitionID != "" {
		b.ProcessDefinitionID(meta.ProcessDefinitionID)
	}
	if declared(meta.ProcessDefinitionIDIn) {
		b.ProcessDefinitionIDIn(meta.ProcessDefinitionIDIn...)
	}
	if meta.ProcessDefinitionKey != "" {
		b.ProcessDefinitionKey(meta.ProcessDefinitionKey)
	}
	if declared(meta.ProcessDefinitionKeyIn) {
		b.ProcessDefinitionKeyIn(meta.ProcessDefinitionKeyIn...)
	}
	if meta.ProcessDefinitionVersionTag != "" {
		b.ProcessDefinitionVersionTag(meta.ProcessDefinitionVersionTag)
	}
	if meta.WithoutTenantID {
		b.WithoutTenantID()
	}
	if declared(meta.TenantIDIn) {
		b.TenantIDIn(meta.TenantIDIn...)
	}
	b.IncludeExtensionProperties(meta.IncludeExtensionProperties)
}

func applyOverride(b *externaltask.TopicSubscriptionBuilder, o Override) {
	if o.LockDuration != nil {
		b.LockDuration(*o.LockDuration)
	}
	if o.Variables != nil {
		b.Variables(o.Variables...)
	}
	if o.LocalVariables != nil {
		b.LocalVariables(*o.LocalVariables)
	}
	if o.BusinessKey != nil {
		b.BusinessKey(*o.BusinessKey)
	}
	if o.ProcessDefinitionID != nil {
		b.ProcessDefinitionID(*o.ProcessDefinitionID)
	}
	if o.ProcessDefinitionIDIn != nil {
		b.ProcessDefinitionIDIn(o.ProcessDefinitionIDIn...)
	}
	if o.ProcessDefinitionKey != nil {
		b.ProcessDefinitionKey(*o.ProcessDefinitionKey)
	}
	if o.ProcessDefinitionKeyIn != nil {
		b.ProcessDefinitionKeyIn(o.ProcessDefinitionKeyIn...)
	}
	if o.ProcessDefinitionVersionTag != nil {
		b.ProcessDefinitionVersionTag(*o.ProcessDefinitionVersionTag)
	}
	if o.WithoutTenantID != nil && *o.WithoutTenantID {
		b.WithoutTenantID()
	}
	if o.TenantIDIn != nil {
		b.TenantIDIn(o.TenantIDIn...)
	}
	if o.IncludeExtensionProperties != nil {
		b.IncludeExtensionProperties(*o.IncludeExtensionProperties)
	}
}
