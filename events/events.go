package events

import "github.com/davidbalbert/eigrpd/eigrp"

type EventType string

const (
	RouteAdded     EventType = "RouteAdded"
	RouteChanged   EventType = "RouteChanged"
	RouteWithdrawn EventType = "RouteWithdrawn"
)

// RouteEvent is a change to the RIB. Withdrawn routes carry only their prefix.
type RouteEvent struct {
	Type  EventType
	Route eigrp.Route
}
