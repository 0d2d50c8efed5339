package store

import "waitlist/queue-service/internal/models"

var deliveryRank = map[models.DeliveryStatus]int{
	models.DeliveryPending:   1,
	models.DeliverySent:      2,
	models.DeliveryDelivered: 3,
	models.DeliveryFailed:    3,
}

// NextDeliveryStatus ignores provider callbacks that arrive out of order, so a
// late "sent" never overwrites "delivered".
func NextDeliveryStatus(current, incoming models.DeliveryStatus) models.DeliveryStatus {
	if deliveryRank[incoming] < deliveryRank[current] {
		return current
	}
	if deliveryRank[current] == 3 && current != incoming {
		return current
	}
	return incoming
}
