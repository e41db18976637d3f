// Package config handles loading of the snupsd YAML configuration, filling in
// defaults for mail delivery, MX discovery, GPIO lines, the shutdown sequence
// and notification behaviour, and validating the result.
package config
