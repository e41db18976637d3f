// Package ratelimit provides a token-bucket limiter that bounds how many
// power notifications are sent when a supply line flaps.
package ratelimit
