package observability

import "context"

// Publisher sends an event with headers to a routing key.
type Publisher interface {
	PublishJSON(ctx context.Context, routingKey string, message any, headers map[string]string) error
}

var defaultPublisher Publisher

// SetPublisher installs the process-wide event publisher. A nil publisher disables events.
func SetPublisher(publisher Publisher) {
	defaultPublisher = publisher
}

// PublishEvent publishes through the installed publisher and counts failures.
func PublishEvent(ctx context.Context, routingKey string, message any, headers map[string]string) error {
	if defaultPublisher == nil {
		return nil
	}

	err := defaultPublisher.PublishJSON(ctx, routingKey, message, headers)
	if err != nil {
		IncAMQPPublishError()
	}
	return err
}
