// Package orchestrator runs conversation turns between a lead and the assistant.
//
// A turn, for one contact:
//
//  1. Waits for the contact's lock; turns for one contact never overlap.
//  2. Loads the contact's thread, or creates one and posts the
//     business-model preamble before anything else.
//  3. Scores the message for BANT signals and stores the merged state. A
//     meeting-ready lead gets DisclosureHint appended to the message.
//  4. Posts the message, starts a run offering the registry's tools and
//     drives it with run.Poller, dispatching tool calls with the
//     organization's OrgContext.
//  5. Persists the exchange when the run completes.
//
// RunTurn always returns text to deliver. Runs that end without a reply get
// RephraseReply; backend and storage failures get TechnicalReply.
package orchestrator
