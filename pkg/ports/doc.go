/*
Package ports defines the driven ports (interfaces) for the chatflow engine.

These interfaces decouple the core logic from external implementations, allowing
the engine to work with various storage backends, transports and AI providers.

# Key Interfaces

  - SessionStore: persists the per-chat Session cursor.
  - FlowStore: persists flow documents and the single active flag.
  - CooldownStore: remembers the last AI invocation per chat.
  - Dispatcher: delivers outbound messages to the chat transport.
  - Responder: produces a generative-AI reply for unmatched text.
  - DistributedLocker: provides distributed locking for concurrent chat access.
*/
package ports
