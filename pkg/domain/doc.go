/*
Package domain contains the core models of the chatflow engine.

It defines the flow document produced by the editor, the per-chat session cursor,
the outbound actions handed to the transport and the errors shared by every layer.
This package is kept pure and free of I/O, following Hexagonal Architecture principles.

# Key Entities

  - Flow: a directed graph of Nodes linked by Connections (output port -> node).
  - Node: a vertex with a closed Kind (trigger, message, list, menu, media) and a typed Payload.
  - Session: the cursor of one chat inside the active flow (Idle, AwaitingEntry, AtNode).
  - Action: a message the transport must deliver (send_text, send_media, send_interactive_list).
*/
package domain
