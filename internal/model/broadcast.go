package model

import "github.com/jwalitptl/alarm-service/pkg/validator"

// Broadcast is a one-shot announcement. It is rendered as soon as it is
// seen and has no delivery state of its own.
type Broadcast struct {
	ID      string `json:"id" validate:"required,max=128"`
	Title   string `json:"title" validate:"required,max=256"`
	Message string `json:"message" validate:"max=4096"`
	Urgent  bool   `json:"urgent"`
}

func (b *Broadcast) Validate() error {
	return validator.Default().Validate(b)
}
