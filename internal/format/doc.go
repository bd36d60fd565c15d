// Package format adapts the assistant's markdown replies to delivery channels.
//
// WhatsApp renders its own lightweight markup, so WhatsApp rewrites markdown
// emphasis, lists and links into that syntax. HTML produces a rich body for
// channels that accept HTML, such as Matrix.
package format
