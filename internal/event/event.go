// Package event wires the in-process event bus that decouples the
// ingestion path from the fan-out hub.
package event

import (
	"github.com/mustafaturan/bus/v3"
	"github.com/mustafaturan/monoton/v2"
	"github.com/mustafaturan/monoton/v2/sequencer"
)

const TopicLocationUpdated = "location.updated"

func NewBus() (*bus.Bus, error) {
	node := uint64(1)
	initialTime := uint64(1577865600000)
	m, err := monoton.New(sequencer.NewMillisecond(), node, initialTime)
	if err != nil {
		return nil, err
	}
	var idGenerator bus.Next = m.Next
	b, err := bus.NewBus(idGenerator)
	if err != nil {
		return nil, err
	}
	b.RegisterTopics(TopicLocationUpdated)
	return b, nil
}
