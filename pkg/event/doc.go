// Package event contains the event stream of snupsd and its single consumer,
// the Dispatcher.
//
// Hardware edges, worker completions and operating system signals are all
// posted to one buffered channel. The Dispatcher handles them strictly one
// at a time in arrival order: it starts the shutdown sequence for the button
// and a confirmed low battery, turns power line changes into notifications
// and reaps finished delivery workers.
package event
