/*
Package events provides an in-memory event broker for Roost's device
lifecycle notifications.

The attach workflow publishes an event for every externally visible state
change: device attached or detached, eject requested, tray ejected, QoS
applied, attachment failed. Subscribers receive events on buffered channels;
publishing never blocks on a slow consumer, a full subscriber buffer simply
drops that delivery.

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	for evt := range sub {
		...
	}

Delivery is best-effort and process-local. Anything needing durable history
should read attachment state from storage instead.
*/
package events
