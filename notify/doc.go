// Package notify is a Courier extension that publishes job outcomes to a
// RabbitMQ topic exchange so downstream systems (inboxes, analytics,
// customer webhooks) learn what happened to a post without polling.
//
// Each lifecycle hook becomes one persistent JSON message whose routing
// key is the event type, for example "courier.job.completed". Consumers
// bind queues with patterns such as "courier.job.*" or
// "courier.job.failed".
//
// # Usage
//
//	conn, _ := amqp.Dial(url)
//	ch, _ := conn.Channel()
//	n := notify.New(ch, notify.WithExchange("courier.events"))
//	if err := n.Declare(); err != nil { ... }
//	eng, _ := engine.Build(c, engine.WithExtension(n))
//
// # Selective publishing
//
//	notify.New(ch,
//	    notify.WithEvents(
//	        notify.EventJobCompleted,
//	        notify.EventJobFailed,
//	    ),
//	)
package notify
