package pipeline

import (
	"time"

	"spend-dashboard/internal/models"
)

const (
	DefaultCancelRateThreshold = 0.3
	DefaultFailRateThreshold   = 0.2
	DefaultRepeatThreshold     = 4
	DefaultLateNightStartHour  = 1
	DefaultLateNightEndHour    = 4
	DefaultRecurringMinTx      = 2
	DefaultConcentrationTopN   = 3
)

// DefaultRetentionFloor is the first cohort date the dashboard reports on.
var DefaultRetentionFloor = time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC)

// Params are the tunable constants of the pipeline and its report views.
type Params struct {
	Entity EntityField
	// StatusOrder is the column vocabulary of status pivots.
	StatusOrder []models.Status

	CancelRateThreshold float64
	FailRateThreshold   float64
	RepeatThreshold     int
	LateNightStartHour  int
	LateNightEndHour    int

	RetentionFloor time.Time

	RecurringMinTx    int
	ConcentrationTopN int

	TopUsers     int
	TopMerchants int
	TopCountries int
	TopRisk      int
	DAUWindow    int
}

func DefaultParams() Params {
	return Params{
		Entity:              EntityUser,
		StatusOrder:         models.Statuses,
		CancelRateThreshold: DefaultCancelRateThreshold,
		FailRateThreshold:   DefaultFailRateThreshold,
		RepeatThreshold:     DefaultRepeatThreshold,
		LateNightStartHour:  DefaultLateNightStartHour,
		LateNightEndHour:    DefaultLateNightEndHour,
		RetentionFloor:      DefaultRetentionFloor,
		RecurringMinTx:      DefaultRecurringMinTx,
		ConcentrationTopN:   DefaultConcentrationTopN,
		TopUsers:            20,
		TopMerchants:        10,
		TopCountries:        10,
		TopRisk:             20,
		DAUWindow:           30,
	}
}

func (p Params) Risk() RiskParams {
	return RiskParams{
		Entity:              p.Entity,
		CancelRateThreshold: p.CancelRateThreshold,
		FailRateThreshold:   p.FailRateThreshold,
		RepeatThreshold:     p.RepeatThreshold,
		LateNightStartHour:  p.LateNightStartHour,
		LateNightEndHour:    p.LateNightEndHour,
	}
}

func (p Params) Retention() RetentionOptions {
	return RetentionOptions{Entity: p.Entity, Floor: p.RetentionFloor}
}
