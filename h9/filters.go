package h9

import "github.com/notnil/h9can/canbus"

// Watch selects the traffic of one remote node. With All set every message
// of the all-remote group is accepted, otherwise only the response group.
type Watch struct {
	Node uint16 `json:"node"`
	All  bool   `json:"all"`
}

// Identifier masks selecting single fields.
var (
	maskDestination = EncodeID(0, 0, 0, addressMask, 0)
	maskSource      = EncodeID(0, 0, 0, 0, addressMask)
)

func typeMatch(group, mask Type) (id, m uint32) {
	return EncodeID(0, group, 0, 0, 0), EncodeID(0, mask, 0, 0, 0)
}

// AcceptFilter returns the receive filter of a node at addr: broadcast
// subgroup requests sent to the broadcast address, standard group requests
// sent to addr and the traffic of each watched node. Slots with a zero node
// are ignored. Only extended data frames pass.
func AcceptFilter(addr uint16, watches []Watch) canbus.FrameFilter {
	filters := make([]canbus.FrameFilter, 0, 2+len(watches))

	id, m := typeMatch(broadcastSubgroup, broadcastSubMask)
	filters = append(filters, canbus.ByMask(id|EncodeID(0, 0, 0, BroadcastAddress, 0), m|maskDestination))

	id, m = typeMatch(standardGroup, standardGroupMask)
	filters = append(filters, canbus.ByMask(id|EncodeID(0, 0, 0, addr, 0), m|maskDestination))

	for _, w := range watches {
		if w.Node == UnsetAddress {
			continue
		}
		if w.All {
			id, m = typeMatch(allRemoteGroup, allRemoteGroupMask)
		} else {
			id, m = typeMatch(responseGroup, responseGroupMask)
		}
		filters = append(filters, canbus.ByMask(id|EncodeID(0, 0, 0, 0, w.Node), m|maskSource))
	}

	return canbus.And(canbus.And(canbus.ExtendedOnly(), canbus.DataOnly()), canbus.Any(filters...))
}
