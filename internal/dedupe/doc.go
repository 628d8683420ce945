// Package dedupe remembers recently reported identifiers so a notification
// that would tell the host the same thing twice can be dropped.
package dedupe
