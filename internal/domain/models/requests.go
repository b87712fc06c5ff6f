package models

// Requests for the HTTP surface. Defined in domain for consistency and reuse.

type TrackRequest struct {
	Address        string `json:"address" validate:"required,solana_address"`
	CorrelationKey string `json:"correlation_key" validate:"required,max=64"`
}

type MovementsRequest struct {
	Limit int `query:"limit" json:"limit" default:"50" validate:"gte=1,lte=1000"`
}

type IndicatorsRequest struct {
	ID       string `param:"id" validate:"required"`
	Interval string `query:"interval" json:"interval" default:"1h" validate:"oneof=1m 1h 1d"`
}

// Registration actions.
const (
	ActionTrack   = "track"
	ActionUntrack = "untrack"
)

// RegistrationCommand arrives on the registration topic.
type RegistrationCommand struct {
	Action         string `json:"action"`
	Address        string `json:"address"`
	CorrelationKey string `json:"correlation_key"`
}
