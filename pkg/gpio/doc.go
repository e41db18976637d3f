// Package gpio watches the button, low battery and power lines of the UPS
// board through the Linux GPIO character device and turns debounced edges
// into dispatcher events.
package gpio
