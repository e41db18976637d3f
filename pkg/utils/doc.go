// Package utils provides shared helpers for snupsd, currently the runner used
// to execute external commands such as the MX lookup, the session broadcast
// and the power-off action.
package utils
