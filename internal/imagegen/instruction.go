package imagegen

import (
	"fmt"
	"strconv"
	"strings"

	"carstudio/internal/domain"
)

// TintOpacityPercent is the fixed opacity of every tint instruction.
const TintOpacityPercent = 15

// TargetLongEdgePx is the resolution guidance given to the model.
const TargetLongEdgePx = 3000

// clause is one numbered step of an instruction. A nil when means the step is
// always rendered.
type clause struct {
	when func(domain.ProcessingOptions) bool
	text func(domain.ProcessingOptions) string
}

type template struct {
	intro   string
	steps   []clause
	closing string
}

func always(s string) clause {
	return clause{text: func(domain.ProcessingOptions) string { return s }}
}

const closingClause = "Output a single photorealistic image at high resolution, about %d px on the long edge. Do not add any text, labels, logos or watermarks."

var templates = map[domain.ProcessingMode]template{
	domain.ModeFull: {
		intro: "You are given two images. Image 1 is a photograph of a car. Image 2 is the new background. Follow these steps:",
		steps: []clause{
			always("Isolate the car from its original background in Image 1 with clean, precise edges."),
			always("Place the isolated car onto the background from Image 2 at a natural scale and perspective."),
			always("Generate a realistic shadow under the car that matches the direction, softness and color of the lighting in the new background."),
			always("Blend the car into the new scene photorealistically, matching color temperature, exposure, contrast and grain."),
		},
		closing: closingClause,
	},
	domain.ModePartialWall: {
		intro: "You are given two images. Image 1 is a photograph of a car in a room. Image 2 is the new background for the wall. Follow these steps:",
		steps: []clause{
			always("Locate the boundary where the floor meets the wall in Image 1."),
			always("Preserve the floor below that boundary exactly as it is, including its texture, markings and reflections."),
			always("Preserve the car and its shadow exactly as they are, without any change to shape, color or detail."),
			always("Replace only the wall region above the boundary with the background from Image 2."),
			always("Blend the seam between the preserved floor and the new wall so the transition looks natural."),
			{
				when: func(o domain.ProcessingOptions) bool { return o.FloorEffect == domain.FloorEffectDesaturate },
				text: func(domain.ProcessingOptions) string {
					return "Fully desaturate the preserved floor region to grayscale while keeping the car and its shadow in their original colors."
				},
			},
			{
				when: func(o domain.ProcessingOptions) bool {
					return o.FloorEffect == domain.FloorEffectRed || o.FloorEffect == domain.FloorEffectYellow
				},
				text: func(o domain.ProcessingOptions) string {
					return fmt.Sprintf("Apply a %s tint at %d%% opacity to the preserved floor region, keeping the floor texture and the car's shadow clearly visible.", o.FloorEffect, TintOpacityPercent)
				},
			},
			{
				when: func(o domain.ProcessingOptions) bool { return o.MatchReflections },
				text: func(domain.ProcessingOptions) string {
					return "Update the reflections on the car's paint, glass and chrome so they match the new background environment."
				},
			},
		},
		closing: closingClause,
	},
	domain.ModeTurntableTint: {
		intro: "You are given two images. Image 1 is a photograph of a car standing on a turntable. Image 2 is the new background. Follow these steps:",
		steps: []clause{
			always("Isolate the car together with the entire turntable it stands on in Image 1."),
			always("Preserve the car and the turntable exactly as they are."),
			always("Replace everything else, including the floor and the walls, with the background from Image 2."),
			always("Generate a shadow of the car on the turntable surface that is consistent with the lighting of the new background."),
			{
				when: func(o domain.ProcessingOptions) bool { return isTint(o.TurntableTint) },
				text: func(o domain.ProcessingOptions) string {
					return fmt.Sprintf("Apply a %s tint at %d%% opacity to the top surface of the turntable only, keeping its texture and the car's shadow visible.", o.TurntableTint, TintOpacityPercent)
				},
			},
		},
		closing: closingClause,
	},
	domain.ModeTintTurntableOnly: {
		intro: "You are given one photograph of a car standing on a turntable. Edit this image by following these steps:",
		steps: []clause{
			always("Identify the turntable the car is standing on."),
			{
				when: func(o domain.ProcessingOptions) bool { return isTint(o.TurntableTint) },
				text: func(o domain.ProcessingOptions) string {
					return fmt.Sprintf("Apply a %s tint at a fixed %d%% opacity strictly to the top surface of the turntable.", o.TurntableTint, TintOpacityPercent)
				},
			},
			always("You must not change anything else in the image: the car, its shadow, the background, the lighting and every other detail stay untouched."),
			always("The final output must be pixel-identical to the input image everywhere except the tinted turntable surface."),
		},
	},
}

func isTint(t domain.TintColor) bool {
	return t == domain.TintRed || t == domain.TintYellow
}

// BuildPrompt renders the instruction for mode. Steps are numbered by their
// position among the rendered steps, so optional steps never leave gaps.
// Options irrelevant to mode never appear in the output.
func BuildPrompt(mode domain.ProcessingMode, opts domain.ProcessingOptions) string {
	tpl, ok := templates[mode]
	if !ok {
		tpl = templates[domain.ModeFull]
	}
	opts = opts.Normalize()

	lines := []string{tpl.intro}
	n := 0
	for _, step := range tpl.steps {
		if step.when != nil && !step.when(opts) {
			continue
		}
		n++
		lines = append(lines, strconv.Itoa(n)+". "+step.text(opts))
	}
	if tpl.closing != "" {
		n++
		lines = append(lines, strconv.Itoa(n)+". "+fmt.Sprintf(tpl.closing, TargetLongEdgePx))
	}
	return strings.Join(lines, "\n")
}

// BuildRefinementPrompt wraps a user correction for a previously generated
// image.
func BuildRefinementPrompt(instruction string) string {
	instruction = strings.TrimSpace(instruction)
	parts := []string{
		"You are given one previously edited photograph of a car.",
		fmt.Sprintf("Apply this correction: %s", instruction),
		"Keep everything the correction does not mention exactly as it is, including the car, its shadow and the background.",
		"Do not add any text, labels, logos or watermarks.",
	}
	return strings.Join(parts, "\n")
}
