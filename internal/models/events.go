package models

// Event type tags delivered over the ride/discovery/chat sockets.
const (
	EventNewRideAvailable = "NEW_RIDE_AVAILABLE"
	EventDriverAccepted   = "DRIVER_ACCEPTED"
	EventLocationUpdate   = "LOCATION_UPDATE"
	EventStatusUpdate     = "STATUS_UPDATE"
	EventTripCompleted    = "TRIP_COMPLETED"
	EventRideCancelled    = "RIDE_CANCELLED"
	EventPaymentSuccess   = "PAYMENT_SUCCESS"
	EventPaymentFailed    = "PAYMENT_FAILED"
	EventChatMessage      = "chat_message"
)

// RideSummary is the slice of the ride aggregate shown to drivers in
// discovery events.
type RideSummary struct {
	ID             string       `json:"id"`
	Status         RideStatus   `json:"status"`
	PickupAddress  string       `json:"pickup_address"`
	DropoffAddress string       `json:"dropoff_address"`
	EstimatedPrice string       `json:"estimated_price"`
	RiderID        string       `json:"rider"`
	VehicleClass   VehicleClass `json:"requested_vehicle_type"`
}

func Summarize(r *Ride) RideSummary {
	return RideSummary{
		ID:             r.ID,
		Status:         r.Status,
		PickupAddress:  r.PickupAddress,
		DropoffAddress: r.DropoffAddress,
		EstimatedPrice: Money(r.EstimatedPrice),
		RiderID:        r.RiderID,
		VehicleClass:   r.VehicleClass,
	}
}

type NewRideEvent struct {
	Event string      `json:"event"`
	Ride  RideSummary `json:"ride"`
}

type DriverAcceptedEvent struct {
	Type        string     `json:"type"`
	Status      RideStatus `json:"status"`
	DriverName  string     `json:"driver_name"`
	DriverPhone string     `json:"driver_phone"`
	Vehicle     string     `json:"vehicle"`
}

type LocationUpdateEvent struct {
	Type     string     `json:"type"`
	Lat      float64    `json:"lat"`
	Lng      float64    `json:"lng"`
	Status   RideStatus `json:"status"`
	DriverID string     `json:"driver_id"`
}

type StatusUpdateEvent struct {
	Type   string     `json:"type"`
	Status RideStatus `json:"status"`
}

type TripCompletedEvent struct {
	Type          string        `json:"type"`
	FinalFare     string        `json:"final_fare"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	PaymentURL    string        `json:"payment_url,omitempty"`
}

type RideCancelledEvent struct {
	Type        string `json:"type"`
	CancelledBy string `json:"cancelled_by"`
	Reason      string `json:"reason"`
}

type PaymentResultEvent struct {
	Type   string `json:"type"`
	Amount string `json:"amount,omitempty"`
	Error  string `json:"error,omitempty"`
}

type ChatEvent struct {
	Type       string `json:"type"`
	Content    string `json:"content"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name"`
}
