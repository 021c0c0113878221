package crmdesk

import (
	"pkt.systems/crmdesk/nav"
	"pkt.systems/crmdesk/schema"
)

type eventFanout struct {
	sinks []nav.EventSink
}

func (f eventFanout) OnNavEvent(event schema.NavEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnNavEvent(event)
	}
}
