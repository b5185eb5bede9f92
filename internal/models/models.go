package models

import (
	"fmt"
	"time"
)

// VehicleClass partitions both pricing and driver discovery groups.
type VehicleClass string

const (
	ClassEconomy VehicleClass = "ECONOMY"
	ClassXL      VehicleClass = "XL"
	ClassPremium VehicleClass = "PREMIUM"
)

// VehicleClasses lists every known class in a stable order.
var VehicleClasses = []VehicleClass{ClassEconomy, ClassXL, ClassPremium}

func (v VehicleClass) Valid() bool {
	switch v {
	case ClassEconomy, ClassXL, ClassPremium:
		return true
	}
	return false
}

// RideStatus is the lifecycle state of a ride.
type RideStatus string

const (
	StatusSearching RideStatus = "SEARCHING"
	StatusAccepted  RideStatus = "ACCEPTED"
	StatusArrived   RideStatus = "ARRIVED"
	StatusStarted   RideStatus = "STARTED"
	StatusCompleted RideStatus = "COMPLETED"
	StatusCanceled  RideStatus = "CANCELED"
)

func (s RideStatus) Valid() bool {
	switch s {
	case StatusSearching, StatusAccepted, StatusArrived, StatusStarted, StatusCompleted, StatusCanceled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed.
func (s RideStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

// Active reports whether the ride has a driver en route or on trip.
func (s RideStatus) Active() bool {
	return s == StatusAccepted || s == StatusArrived || s == StatusStarted
}

// CanTransition is the driver-driven progression table. Claiming
// (SEARCHING -> ACCEPTED) and cancellation are handled by dedicated
// store operations, not by this table.
func CanTransition(from, to RideStatus) bool {
	switch from {
	case StatusAccepted:
		return to == StatusArrived
	case StatusArrived:
		return to == StatusStarted
	case StatusStarted:
		return to == StatusCompleted
	}
	return false
}

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (c Coord) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// Ride is the central aggregate. DriverID stays empty until a driver
// claims the ride and is never replaced afterwards.
type Ride struct {
	ID             string       `json:"id"`
	RiderID        string       `json:"rider"`
	DriverID       string       `json:"driver,omitempty"`
	Pickup         Coord        `json:"pickup"`
	Dropoff        Coord        `json:"dropoff"`
	PickupAddress  string       `json:"pickup_address"`
	DropoffAddress string       `json:"dropoff_address"`
	VehicleClass   VehicleClass `json:"requested_vehicle_type"`
	Status         RideStatus   `json:"status"`

	EstimatedPrice float64  `json:"estimated_price"`
	FinalPrice     *float64 `json:"final_price,omitempty"`

	CancelledBy        string  `json:"cancelled_by,omitempty"`
	CancellationReason string  `json:"cancellation_reason,omitempty"`
	CancellationFee    float64 `json:"cancellation_fee"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DriverProfile is the per-driver availability record read by the geo
// index and mutated by location-update and online-toggle operations.
type DriverProfile struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Phone        string       `json:"phone"`
	VehicleClass VehicleClass `json:"vehicle_type"`
	VehicleBrand string       `json:"vehicle_brand"`
	VehicleModel string       `json:"vehicle_model"`
	Rating       float64      `json:"rating"`

	Online           bool `json:"online"`
	Active           bool `json:"active"`
	AdminVerified    bool `json:"admin_verified"`
	IdentityVerified bool `json:"identity_verified"`

	LastLocation *Coord    `json:"last_location,omitempty"`
	Updated      time.Time `json:"updated"`
}

// VehicleDescription is the human-readable vehicle label sent with
// DRIVER_ACCEPTED events.
func (d *DriverProfile) VehicleDescription() string {
	return fmt.Sprintf("%s %s", d.VehicleBrand, d.VehicleModel)
}

// Dispatchable reports whether the driver may receive new-ride events.
func (d *DriverProfile) Dispatchable() bool {
	return d.Online && d.Active
}

// RateConfig is the external pricing lookup keyed by vehicle class.
type RateConfig struct {
	BaseFare      float64 `json:"base_fare"`
	PerKmRate     float64 `json:"price_per_km"`
	PerMinuteRate float64 `json:"price_per_minute"`
	TaxPercent    float64 `json:"tax_percentage"`
}

// PaymentStatus tracks the outcome of a payment session.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentSuccess PaymentStatus = "SUCCESS"
	PaymentFailed  PaymentStatus = "FAILED"
)

// Transaction records one payment attempt per completed ride.
// ProviderRef is the gateway session id; the webhook flips Status.
type Transaction struct {
	ID          string        `json:"id"`
	RideID      string        `json:"ride_id"`
	ProviderRef string        `json:"provider_ref"`
	Amount      float64       `json:"amount"`
	Status      PaymentStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
}

// RideReview holds the rider's one-time rating for a completed ride.
type RideReview struct {
	RideID    string    `json:"ride_id"`
	RiderID   string    `json:"rider_id"`
	DriverID  string    `json:"driver_id"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatMessage is a persisted in-ride chat line.
type ChatMessage struct {
	RideID     string    `json:"ride_id"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Content    string    `json:"content"`
	SentAt     time.Time `json:"sent_at"`
}
