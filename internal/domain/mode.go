package domain

import (
	"fmt"
	"strings"
)

// ProcessingMode selects which regions of the photo are preserved or replaced
// and which prompt template applies.
type ProcessingMode string

const (
	ModeFull              ProcessingMode = "full"
	ModePartialWall       ProcessingMode = "partial-wall"
	ModeTurntableTint     ProcessingMode = "turntable-tint"
	ModeTintTurntableOnly ProcessingMode = "tint-turntable-only"
)

var ValidModes = []ProcessingMode{
	ModeFull, ModePartialWall, ModeTurntableTint, ModeTintTurntableOnly,
}

// FloorEffect applies to the preserved floor under ModePartialWall.
type FloorEffect string

const (
	FloorEffectNone       FloorEffect = "none"
	FloorEffectDesaturate FloorEffect = "desaturate"
	FloorEffectRed        FloorEffect = "red"
	FloorEffectYellow     FloorEffect = "yellow"
)

var ValidFloorEffects = []FloorEffect{
	FloorEffectNone, FloorEffectDesaturate, FloorEffectRed, FloorEffectYellow,
}

// TintColor is the turntable tint used by the turntable modes.
type TintColor string

const (
	TintNone   TintColor = "none"
	TintRed    TintColor = "red"
	TintYellow TintColor = "yellow"
)

var ValidTintColors = []TintColor{TintNone, TintRed, TintYellow}

// ParseMode normalizes free-form input into a ProcessingMode.
func ParseMode(raw string) (ProcessingMode, error) {
	mode := ProcessingMode(strings.ToLower(strings.TrimSpace(raw)))
	for _, m := range ValidModes {
		if m == mode {
			return mode, nil
		}
	}
	return "", fmt.Errorf("%w: unknown mode %q", ErrInvalidOptions, raw)
}

// Valid reports whether m is one of the known modes.
func (m ProcessingMode) Valid() bool {
	for _, v := range ValidModes {
		if v == m {
			return true
		}
	}
	return false
}

// RequiresBackground reports whether a background image must accompany the
// source image. Only the tint-only edit works on a single image.
func (m ProcessingMode) RequiresBackground() bool {
	return m != ModeTintTurntableOnly
}

// UsesTurntableTint reports whether TurntableTint is relevant for m.
func (m ProcessingMode) UsesTurntableTint() bool {
	return m == ModeTurntableTint || m == ModeTintTurntableOnly
}

// ProcessingOptions is the per-batch option snapshot. Options irrelevant to the
// active mode are carried but ignored.
type ProcessingOptions struct {
	FloorEffect      FloorEffect `json:"floor_effect"`
	MatchReflections bool        `json:"match_reflections"`
	TurntableTint    TintColor   `json:"turntable_tint"`
}

// Normalize fills empty enum values with their "none" defaults.
func (o ProcessingOptions) Normalize() ProcessingOptions {
	if strings.TrimSpace(string(o.FloorEffect)) == "" {
		o.FloorEffect = FloorEffectNone
	}
	if strings.TrimSpace(string(o.TurntableTint)) == "" {
		o.TurntableTint = TintNone
	}
	o.FloorEffect = FloorEffect(strings.ToLower(strings.TrimSpace(string(o.FloorEffect))))
	o.TurntableTint = TintColor(strings.ToLower(strings.TrimSpace(string(o.TurntableTint))))
	return o
}

// Validate checks the option values against mode. The tint-only mode has no
// purpose without a tint, so TintNone is rejected there.
func (o ProcessingOptions) Validate(mode ProcessingMode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidOptions, mode)
	}
	o = o.Normalize()
	if !containsFloorEffect(o.FloorEffect) {
		return fmt.Errorf("%w: unknown floor effect %q", ErrInvalidOptions, o.FloorEffect)
	}
	if !containsTint(o.TurntableTint) {
		return fmt.Errorf("%w: unknown turntable tint %q", ErrInvalidOptions, o.TurntableTint)
	}
	if mode == ModeTintTurntableOnly && o.TurntableTint == TintNone {
		return fmt.Errorf("%w: mode %s requires a turntable tint", ErrInvalidOptions, mode)
	}
	return nil
}

func containsFloorEffect(v FloorEffect) bool {
	for _, f := range ValidFloorEffects {
		if f == v {
			return true
		}
	}
	return false
}

func containsTint(v TintColor) bool {
	for _, t := range ValidTintColors {
		if t == v {
			return true
		}
	}
	return false
}
