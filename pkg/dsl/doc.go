/*
Package dsl provides a fluent builder for constructing chatflow flow documents in Go.

It produces the same domain.Flow the visual editor exports, which is useful for
seeding stores, unit testing and generating flows dynamically.

Example usage:

	b := dsl.New("support", "Support")

	b.Trigger("start", "hola").To("menu")

	b.List("menu", "How can we help?").
		Title("Support").
		Button("Options").
		Row("Sales", "Talk to a seller", "sales").
		Row("Billing", "", "billing")

	b.Message("sales", "A seller will reach out soon.")
	b.Message("billing", "Send us your invoice number.")

	flow, err := b.Build()
	// ... pass flow to engine.SaveFlow(...)
*/
package dsl
