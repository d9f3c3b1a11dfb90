// Package dedup suppresses re-shipping a sensor value the server already has.
package dedup
