// Package dedupe drops repeated deliveries of the same inbound message.
//
// Meta retries webhook deliveries it considers unacknowledged, so the same
// WhatsApp message id can arrive more than once. A Window claims each id the
// first time it is seen and rejects repeats until the id ages out.
package dedupe
