// Package notifier delivers short operator messages to chats asynchronously.
//
// Messages go through a bounded queue drained by a small worker pool under a
// token-bucket rate limit, so a burst of dispatch summaries cannot trip the
// chat platform's flood limits. Delivery is attempted once; failures and
// queue overflows are reported on the event bus.
package notifier
