// Package whatsapp connects contacts on WhatsApp to the conversation
// orchestrator through the Meta Cloud API.
//
// # Inbound
//
// Webhook serves the callback URL registered with Meta. A GET with
// hub.mode=subscribe and the configured verify token echoes hub.challenge.
// A POST is checked against X-Hub-Signature-256 when an app secret is set,
// acknowledged with 200 and then processed in the background:
//
//	message id already seen      -> dropped
//	no text body                 -> ignored
//	sender not a known contact   -> ignored
//	otherwise                    -> RunTurn, reply quoting the inbound id, mark read
//
// # Outbound
//
// Client posts to {api_base}/{phone_number_id}/messages. Requests share a
// token bucket; 429 and 5xx responses are retried with exponential backoff,
// and a Retry-After header pauses all requests until it elapses. Replies
// longer than MaxBodyLength are split on paragraph, line or word
// boundaries.
package whatsapp
