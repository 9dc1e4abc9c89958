package dsl_test

import (
	"fmt"
	"log"

	"github.com/aretw0/chatflow/pkg/dsl"
)

func ExampleBuilder() {
	b := dsl.New("opening-hours", "Opening hours")
	b.Trigger("start", "hours").To("days")
	b.Menu("days", "Which day?").
		Option("Weekdays", "weekdays").
		Option("Weekend", "weekend")
	b.Message("weekdays", "We are open 9am to 6pm.")
	b.Message("weekend", "We are closed on weekends.")

	flow, err := b.Build()
	if err != nil {
		log.Fatal(err)
	}
	for _, c := range flow.Connections {
		fmt.Printf("%s[%d] -> %s\n", c.From, c.FromPort, c.To)
	}
	// Output:
	// start[0] -> days
	// days[0] -> weekdays
	// days[1] -> weekend
}
