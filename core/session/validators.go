package session

import (
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/geo"
)

var sentimentText = "must be one of: understood, neutral, confused"

// InitValidators registers this package's custom validation texts.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	core.RegisterCustomTranslation(validate, translator, "oneof", sentimentText)
}

type (
	// NewSession is the request to open an attendance window.
	NewSession struct {
		ClassID      string     `json:"class_id" validate:"required"`
		DurationSecs int        `json:"duration_secs" validate:"required,min=60,max=14400"`
		Fence        *geo.Fence `json:"fence,omitempty"`
		NotifyEmail  string     `json:"notify_email,omitempty" validate:"omitempty,email"`

		// set from auth claims, not from the request body
		LecturerID string        `json:"-"`
		Duration   time.Duration `json:"-"`
	}

	// ScanInput is one attendance claim.
	ScanInput struct {
		Code        string     `json:"code" validate:"required"`
		Fingerprint string     `json:"device_fingerprint" validate:"required"`
		Location    *geo.Point `json:"location,omitempty"`

		SessionID string `json:"-"`
		StudentID string `json:"-"`
	}

	// CheckResponseInput is one presence-check acknowledgment.
	CheckResponseInput struct {
		Location *geo.Point `json:"location,omitempty"`

		CheckID   string `json:"-"`
		StudentID string `json:"-"`
	}

	// SentimentInput is one sentiment emission.
	SentimentInput struct {
		Value Sentiment `json:"value" validate:"required,oneof=understood neutral confused"`
	}
)

func (ns *NewSession) Validate(validate *validator.Validate, conf *core.Config) error {
	ns.ClassID = core.CleanString(ns.ClassID)
	ns.NotifyEmail = core.CleanString(ns.NotifyEmail, true /* lower */)
	if err := validate.Struct(ns); err != nil {
		return err
	}
	ns.Duration = time.Duration(ns.DurationSecs) * time.Second

	if ns.Fence != nil {
		if ns.Fence.Radius <= 0 {
			ns.Fence.Radius = conf.Session.GeofenceRadius
		}
		if err := validate.Struct(ns.Fence); err != nil {
			return err
		}
	}
	return nil
}

func (in *ScanInput) Validate(validate *validator.Validate) error {
	in.Code = core.CleanString(in.Code)
	in.Fingerprint = core.CleanString(in.Fingerprint)
	if err := validate.Struct(in); err != nil {
		return err
	}
	if in.Location != nil {
		return validate.Struct(in.Location)
	}
	return nil
}

func (in *CheckResponseInput) Validate(validate *validator.Validate) error {
	if in.Location != nil {
		return validate.Struct(in.Location)
	}
	return nil
}

func (in *SentimentInput) Validate(validate *validator.Validate) error {
	return validate.Struct(in)
}
