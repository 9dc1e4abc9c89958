/*
Package chatflow runs WhatsApp-style conversational flows designed in a visual node editor.

A flow is a directed graph of nodes: trigger phrases, messages, media, interactive
lists and numbered menus. Inbound messages from many independent chats are matched
against the active flow and advanced through it, one chat cursor at a time, to decide
what to send back.

# Concept

The engine owns three things: the active flow snapshot (swapped atomically on
activation), one session per chat (serialized per chat, parallel across chats) and
the render loop that turns nodes into outbound actions. Storage, transport and the
AI responder are ports, so the same engine runs behind an HTTP webhook, a message
broker or a local terminal simulator.

# Usage

	eng := chatflow.New(chatflow.WithDispatcher(myTransport))

	flow, err := eng.SaveFlow(ctx, doc)
	if err != nil {
		log.Fatal(err)
	}
	if _, err := eng.ActivateFlow(ctx, flow.ID); err != nil {
		log.Fatal(err)
	}

	res, err := eng.HandleMessage(ctx, domain.InboundEvent{ChatID: "5511999990000", Text: "hola"})
	if err != nil {
		log.Print(err)
	}
	for _, action := range res.Actions {
		log.Println(action.Type, action.Text)
	}

Messages that hit no trigger are ignored, or handed to a ports.Responder when one is
configured, throttled per chat by a cooldown window.
*/
package chatflow
